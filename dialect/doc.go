// Package dialect detects the database backend behind a connection and
// exposes the SQL strategies that differ between backends.
//
// # Variants
//
// Every Dialect is one immutable variant among the supported backend and
// version combinations:
//
//	MariaDBOld, MariaDBNew   MariaDB before and since 10.3
//	MySQLOld, MySQLNew       MySQL before and since 8
//	OracleOld, OracleNew     Oracle before and since 12
//	SQLServerOld, SQLServerNew
//	                         SQL Server before and since 2012 (major 11)
//	PostgreSQL, SQLite       any version
//	Unknown                  everything else
//
// Each variant supplies:
//
//   - a sequence generator: sequence name to the SQL fetching its next value;
//   - an order-by-id generator: an ORDER BY fragment forcing one row first;
//   - a pagination formatter: LIMIT/OFFSET, OFFSET/FETCH NEXT or a
//     ROW_NUMBER() windowed subquery;
//   - the generated key retrieval mode: by index, by name or none.
//
// # Connectivity
//
// The engine consumes databases only through the Connectivity capability
// interfaces defined here. The dialect/sql package implements them on top of
// database/sql:
//
//	drv, err := sql.Open(dialect.Postgres, "postgres://...")
//	if err != nil {
//		log.Fatal(err)
//	}
//	d, err := dialect.Find(ctx, drv)
//
// # Driver names
//
// The constants Postgres, MySQL and SQLiteDriver name the database/sql drivers
// supported by dialect/sql:
//
//	dialect.Postgres     = "postgres"
//	dialect.MySQL        = "mysql"
//	dialect.SQLiteDriver = "sqlite"
package dialect
