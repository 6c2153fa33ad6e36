// Package sql implements the dialect.Connectivity capability on top of
// database/sql.
//
// # Driver
//
// A Driver wraps a *sql.DB. Every dialect.Conn it hands out is a dedicated
// *sql.Conn taken from the pool:
//
//	drv, err := sql.Open(dialect.Postgres, "postgres://...")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer drv.Close()
//	client := storm.NewClient(drv)
//
// The engine writes ? placeholders. They are rewritten to $n for
// PostgreSQL drivers (lib/pq and pgx).
//
// # Transactions
//
// database/sql has no auto-commit switch. Conn emulates it: turning
// auto-commit off makes the next statement begin a transaction on the
// connection, and Commit or Rollback end it. Savepoints are plain SAVEPOINT
// statements inside that transaction.
//
// # Generated keys
//
// Statements prepared with generated keys report the driver's last insert
// id as a single GENERATED_KEY column. On PostgreSQL the statement gets a
// RETURNING * clause instead and the inserted row is reported.
//
// # Product metadata
//
// The product name and version are probed with the backend's version
// function (version(), VERSION(), sqlite_version()). Drivers without a probe
// can be given fixed metadata with WithProduct.
//
// # Statistics
//
// StatsDriver counts statements, errors and slow statements and exports
// them as Prometheus counters:
//
//	stats := sql.NewStatsDriver(drv, sql.WithSlowQueryLog(nil))
//	prometheus.MustRegister(stats)
//
// # Constraint errors
//
// Constraint and the IsXConstraintError helpers classify driver errors of
// lib/pq, pgx, go-sql-driver/mysql and modernc sqlite.
package sql
