package dialect

import (
	"context"
	"reflect"
)

// Driver names understood by dialect/sql.
const (
	Postgres     = "postgres"
	MySQL        = "mysql"
	SQLiteDriver = "sqlite"
)

// Connectivity opens connections to one database.
type Connectivity interface {
	Conn(ctx context.Context) (Conn, error)
}

// Conn is a single database connection. A Conn is not safe for concurrent
// use and runs statements in issuance order.
type Conn interface {
	// Metadata describes the database product behind the connection.
	Metadata(ctx context.Context) (Metadata, error)
	// Prepare prepares query, which uses ? placeholders. When keys is true
	// the statement retains the keys generated by its execution.
	Prepare(ctx context.Context, query string, keys bool) (Stmt, error)
	// PrepareCall prepares a stored procedure call in {CALL name(?, ...)}
	// form.
	PrepareCall(ctx context.Context, query string) (CallStmt, error)

	// SetAutoCommit switches auto-commit. While it is off, statements run in
	// a transaction that ends with Commit or Rollback.
	SetAutoCommit(ctx context.Context, on bool) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	Savepoint(ctx context.Context, name string) error
	ReleaseSavepoint(ctx context.Context, name string) error
	RollbackTo(ctx context.Context, name string) error

	Close() error
}

// Stmt is a prepared statement bound to its connection.
type Stmt interface {
	// Exec runs the statement and returns the number of affected rows.
	Exec(ctx context.Context, args ...any) (int64, error)
	// Query runs the statement and returns its rows.
	Query(ctx context.Context, args ...any) (Rows, error)
	// GeneratedKeys returns the keys generated by the last Exec of a
	// statement prepared with keys.
	GeneratedKeys(ctx context.Context) (Rows, error)
	Close() error
}

// CallStmt is a prepared stored procedure call.
type CallStmt interface {
	// RegisterOut declares parameter i (zero based) as an output of type t.
	RegisterOut(i int, t reflect.Type)
	// Exec runs the call. args holds one value per parameter; values of pure
	// output parameters are ignored.
	Exec(ctx context.Context, args ...any) error
	// Out returns the value of output parameter i after Exec.
	Out(i int) (any, error)
	Close() error
}

// Rows is a forward-only result set.
type Rows interface {
	Columns() ([]string, error)
	Next() bool
	// Values returns the values of the current row, one per column.
	Values() ([]any, error)
	Err() error
	Close() error
}

// Metadata describes a database product.
type Metadata struct {
	ProductName    string `koanf:"name" yaml:"name"`
	ProductVersion string `koanf:"version" yaml:"version"`
	Major          int    `koanf:"major" yaml:"major"`
	Minor          int    `koanf:"minor" yaml:"minor"`
}
