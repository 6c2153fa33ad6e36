package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/syssam/storm/dialect"
)

// validIdentifierRe validates SQL identifiers (alphanumeric, underscores, dots for schema.name)
var validIdentifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

// isValidIdentifier checks if the string is a valid SQL identifier.
func isValidIdentifier(s string) bool {
	return s != "" && len(s) <= 128 && validIdentifierRe.MatchString(s)
}

// escapeStringValue escapes a string value for safe use in SQL.
// It escapes both single quotes (by doubling) and backslashes (for MySQL compatibility).
func escapeStringValue(s string) string {
	if !strings.ContainsAny(s, `'\`) {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "'", "''")
	return s
}

// Driver implements dialect.Connectivity on top of a database/sql pool.
type Driver struct {
	db      *sql.DB
	dialect string
	product *dialect.Metadata
}

// Option configures a Driver.
type Option func(*Driver)

// WithProduct sets the product metadata reported by the driver's
// connections instead of probing the database for it.
func WithProduct(md dialect.Metadata) Option {
	return func(d *Driver) {
		d.product = &md
	}
}

// NewDriver creates a new Driver with the given pool and dialect.
func NewDriver(dialect string, db *sql.DB, opts ...Option) *Driver {
	d := &Driver{db: db, dialect: dialect}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open wraps the database/sql.Open method and returns a Driver.
func Open(dialect, source string, opts ...Option) (*Driver, error) {
	db, err := sql.Open(dialect, source)
	if err != nil {
		return nil, err
	}
	return NewDriver(dialect, db, opts...), nil
}

// OpenDB wraps the given database/sql.DB with a Driver.
func OpenDB(dialect string, db *sql.DB, opts ...Option) *Driver {
	return NewDriver(dialect, db, opts...)
}

// DB returns the underlying *sql.DB instance.
func (d *Driver) DB() *sql.DB { return d.db }

// Dialect returns the normalized driver name.
func (d *Driver) Dialect() string { return normalize(d.dialect) }

func normalize(name string) string {
	switch {
	case strings.HasPrefix(name, "pgx"):
		return dialect.Postgres
	case strings.HasPrefix(name, "sqlite"):
		return dialect.SQLiteDriver
	}
	for _, n := range []string{dialect.MySQL, dialect.Postgres} {
		if strings.HasPrefix(name, n) {
			return n
		}
	}
	return name
}

// Close closes the underlying pool.
func (d *Driver) Close() error { return d.db.Close() }

// Conn takes one connection from the pool. Session variables attached to
// ctx with WithVar are set on it and reset when it is closed.
func (d *Driver) Conn(ctx context.Context) (dialect.Conn, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: conn: %w", err)
	}
	c := &Conn{conn: conn, dialect: d.Dialect(), product: d.product}
	if err := c.setVars(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("dialect/sql: conn: set session vars: %w", err), conn.Close())
	}
	return c, nil
}

// ctxVarsKey is the key used for attaching and reading the context variables.
type ctxVarsKey struct{}

// sessionVars holds session variables to set on every new connection.
type sessionVars struct {
	vars []struct{ k, v string }
}

// WithVar returns a new context that holds the session variable to be set
// on connections opened with it.
func WithVar(ctx context.Context, name, value string) context.Context {
	sv, _ := ctx.Value(ctxVarsKey{}).(sessionVars)
	sv.vars = append(sv.vars, struct {
		k, v string
	}{
		k: name,
		v: value,
	})
	return context.WithValue(ctx, ctxVarsKey{}, sv)
}

// VarFromContext returns the session variable value from the context.
func VarFromContext(ctx context.Context, name string) (string, bool) {
	sv, _ := ctx.Value(ctxVarsKey{}).(sessionVars)
	for _, s := range sv.vars {
		if s.k == name {
			return s.v, true
		}
	}
	return "", false
}

// ExecQuerier is implemented by *sql.Conn and *sql.Tx.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Conn implements dialect.Conn. Auto-commit is emulated: while it is off,
// the first statement begins a transaction that lasts until Commit or
// Rollback.
type Conn struct {
	conn    *sql.Conn
	dialect string
	product *dialect.Metadata
	tx      *sql.Tx
	manual  bool
	reset   []string
}

// setVars sets the session variables found in ctx.
func (c *Conn) setVars(ctx context.Context) error {
	sv, _ := ctx.Value(ctxVarsKey{}).(sessionVars)
	seen := make(map[string]struct{}, len(sv.vars))
	for _, s := range sv.vars {
		if !isValidIdentifier(s.k) {
			return fmt.Errorf("invalid session variable name: %q", s.k)
		}
		if _, ok := seen[s.k]; !ok {
			switch c.dialect {
			case dialect.Postgres:
				c.reset = append(c.reset, fmt.Sprintf("RESET %s", s.k))
			case dialect.MySQL:
				c.reset = append(c.reset, fmt.Sprintf("SET %s = NULL", s.k))
			}
			seen[s.k] = struct{}{}
		}
		if _, err := c.conn.ExecContext(ctx, fmt.Sprintf("SET %s = '%s'", s.k, escapeStringValue(s.v))); err != nil {
			return err
		}
	}
	return nil
}

// execer returns the transaction when one is open, beginning it first if
// auto-commit is off.
func (c *Conn) execer(ctx context.Context) (ExecQuerier, error) {
	if c.tx != nil {
		return c.tx, nil
	}
	if !c.manual {
		return c.conn, nil
	}
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: begin: %w", err)
	}
	c.tx = tx
	return tx, nil
}

// Prepare implements dialect.Conn.
func (c *Conn) Prepare(ctx context.Context, query string, keys bool) (dialect.Stmt, error) {
	ex, err := c.execer(ctx)
	if err != nil {
		return nil, err
	}
	query = c.rebind(query)
	returning := keys && c.dialect == dialect.Postgres
	if returning {
		query += " RETURNING *"
	}
	st, err := ex.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: prepare: %w", err)
	}
	return &Stmt{stmt: st, keys: keys, returning: returning}, nil
}

// PrepareCall implements dialect.Conn. The {CALL ...} escape is unwrapped
// since database/sql drivers do not understand it.
func (c *Conn) PrepareCall(ctx context.Context, query string) (dialect.CallStmt, error) {
	ex, err := c.execer(ctx)
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	query = strings.TrimSuffix(strings.TrimPrefix(query, "{"), "}")
	st, err := ex.PrepareContext(ctx, c.rebind(query))
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: prepare call: %w", err)
	}
	return &CallStmt{stmt: st, dialect: c.dialect, outs: make(map[int]reflect.Type)}, nil
}

// SetAutoCommit implements dialect.Conn. Turning auto-commit back on commits
// the open transaction.
func (c *Conn) SetAutoCommit(_ context.Context, on bool) error {
	if on && c.tx != nil {
		if err := c.Commit(context.Background()); err != nil {
			return err
		}
	}
	c.manual = !on
	return nil
}

// Commit implements dialect.Conn.
func (c *Conn) Commit(context.Context) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dialect/sql: commit: %w", err)
	}
	return nil
}

// Rollback implements dialect.Conn.
func (c *Conn) Rollback(context.Context) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("dialect/sql: rollback: %w", err)
	}
	return nil
}

// Savepoint implements dialect.Conn.
func (c *Conn) Savepoint(ctx context.Context, name string) error {
	return c.savepoint(ctx, "SAVEPOINT ", name)
}

// ReleaseSavepoint implements dialect.Conn.
func (c *Conn) ReleaseSavepoint(ctx context.Context, name string) error {
	return c.savepoint(ctx, "RELEASE SAVEPOINT ", name)
}

// RollbackTo implements dialect.Conn.
func (c *Conn) RollbackTo(ctx context.Context, name string) error {
	return c.savepoint(ctx, "ROLLBACK TO SAVEPOINT ", name)
}

func (c *Conn) savepoint(ctx context.Context, stmt, name string) error {
	if !isValidIdentifier(name) {
		return fmt.Errorf("dialect/sql: invalid savepoint name: %q", name)
	}
	ex, err := c.execer(ctx)
	if err != nil {
		return err
	}
	if _, err := ex.ExecContext(ctx, stmt+name); err != nil {
		return fmt.Errorf("dialect/sql: %s%s: %w", stmt, name, err)
	}
	return nil
}

// Close rolls back any open transaction, resets the session variables and
// returns the connection to the pool. Cleanup uses its own context so it
// completes even if the caller's was canceled.
func (c *Conn) Close() error {
	var err error
	if c.tx != nil {
		err = c.Rollback(context.Background())
	}
	if len(c.reset) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, q := range c.reset {
			if _, rerr := c.conn.ExecContext(ctx, q); rerr != nil {
				err = errors.Join(err, rerr)
				break
			}
		}
	}
	return errors.Join(err, c.conn.Close())
}

// rebind rewrites ? placeholders to $n for PostgreSQL. Quoted literals and
// identifiers are left untouched.
func (c *Conn) rebind(query string) string {
	if c.dialect != dialect.Postgres || !strings.Contains(query, "?") {
		return query
	}
	var (
		b     strings.Builder
		n     int
		quote rune
	)
	b.Grow(len(query) + 8)
	for _, r := range query {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '?':
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Stmt implements dialect.Stmt.
type Stmt struct {
	stmt      *sql.Stmt
	keys      bool
	returning bool
	result    sql.Result
	generated *memRows
}

// Exec implements dialect.Stmt. Statements prepared with keys on PostgreSQL
// return the inserted rows, which are kept as the generated keys.
func (s *Stmt) Exec(ctx context.Context, args ...any) (int64, error) {
	if s.returning {
		rows, err := s.stmt.QueryContext(ctx, args...)
		if err != nil {
			return 0, fmt.Errorf("dialect/sql: exec: %w", err)
		}
		m, err := buffer(rows)
		if err != nil {
			return 0, fmt.Errorf("dialect/sql: exec: %w", err)
		}
		s.generated = m
		return int64(len(m.rows)), nil
	}
	res, err := s.stmt.ExecContext(ctx, args...)
	if err != nil {
		return 0, fmt.Errorf("dialect/sql: exec: %w", err)
	}
	s.result = res
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("dialect/sql: rows affected: %w", err)
	}
	return n, nil
}

// Query implements dialect.Stmt.
func (s *Stmt) Query(ctx context.Context, args ...any) (dialect.Rows, error) {
	rows, err := s.stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: query: %w", err)
	}
	return &Rows{rows}, nil
}

// GeneratedKeys implements dialect.Stmt. Without a RETURNING clause the
// driver's last insert id is reported as a single GENERATED_KEY column.
func (s *Stmt) GeneratedKeys(context.Context) (dialect.Rows, error) {
	switch {
	case !s.keys:
		return nil, errors.New("dialect/sql: statement was not prepared for generated keys")
	case s.generated != nil:
		return s.generated, nil
	case s.result == nil:
		return nil, errors.New("dialect/sql: statement was not executed")
	}
	id, err := s.result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: last insert id: %w", err)
	}
	return &memRows{cols: []string{"GENERATED_KEY"}, rows: [][]any{{id}}}, nil
}

// Close implements dialect.Stmt.
func (s *Stmt) Close() error { return s.stmt.Close() }

// CallStmt implements dialect.CallStmt. On PostgreSQL the output values are
// read from the row returned by CALL; other drivers receive sql.Out
// arguments.
type CallStmt struct {
	stmt    *sql.Stmt
	dialect string
	outs    map[int]reflect.Type
	dests   map[int]any
	values  map[int]any
}

// RegisterOut implements dialect.CallStmt.
func (s *CallStmt) RegisterOut(i int, t reflect.Type) { s.outs[i] = t }

// Exec implements dialect.CallStmt.
func (s *CallStmt) Exec(ctx context.Context, args ...any) error {
	s.values = make(map[int]any, len(s.outs))
	if s.dialect == dialect.Postgres {
		return s.execReturning(ctx, args)
	}
	s.dests = make(map[int]any, len(s.outs))
	argv := make([]any, len(args))
	copy(argv, args)
	for i, t := range s.outs {
		if i >= len(argv) {
			return fmt.Errorf("dialect/sql: call: output parameter %d out of range", i)
		}
		dest := reflect.New(t)
		if argv[i] != nil && reflect.TypeOf(argv[i]).AssignableTo(t) {
			dest.Elem().Set(reflect.ValueOf(argv[i]))
		}
		s.dests[i] = dest.Interface()
		argv[i] = sql.Out{Dest: dest.Interface(), In: argv[i] != nil}
	}
	if _, err := s.stmt.ExecContext(ctx, argv...); err != nil {
		return fmt.Errorf("dialect/sql: call: %w", err)
	}
	for i, dest := range s.dests {
		s.values[i] = reflect.ValueOf(dest).Elem().Interface()
	}
	return nil
}

func (s *CallStmt) execReturning(ctx context.Context, args []any) error {
	rows, err := s.stmt.QueryContext(ctx, args...)
	if err != nil {
		return fmt.Errorf("dialect/sql: call: %w", err)
	}
	m, err := buffer(rows)
	if err != nil {
		return fmt.Errorf("dialect/sql: call: %w", err)
	}
	if len(m.rows) == 0 || len(s.outs) == 0 {
		return nil
	}
	idx := make([]int, 0, len(s.outs))
	for i := range args {
		if _, ok := s.outs[i]; ok {
			idx = append(idx, i)
		}
	}
	for j, i := range idx {
		if j < len(m.rows[0]) {
			s.values[i] = m.rows[0][j]
		}
	}
	return nil
}

// Out implements dialect.CallStmt.
func (s *CallStmt) Out(i int) (any, error) {
	if _, ok := s.outs[i]; !ok {
		return nil, fmt.Errorf("dialect/sql: parameter %d is not an output", i)
	}
	return s.values[i], nil
}

// Close implements dialect.CallStmt.
func (s *CallStmt) Close() error { return s.stmt.Close() }

// Rows wraps the sql.Rows to avoid locks copy.
type Rows struct{ ColumnScanner }

// ColumnScanner is the interface that wraps the standard
// sql.Rows methods used for scanning database rows.
type ColumnScanner interface {
	Close() error
	ColumnTypes() ([]*sql.ColumnType, error)
	Columns() ([]string, error)
	Err() error
	Next() bool
	NextResultSet() bool
	Scan(dest ...any) error
}

// Values implements dialect.Rows.
func (r *Rows) Values() ([]any, error) {
	cols, err := r.Columns()
	if err != nil {
		return nil, err
	}
	return scanValues(r.ColumnScanner, len(cols))
}

func scanValues(s ColumnScanner, n int) ([]any, error) {
	vs := make([]any, n)
	ptrs := make([]any, n)
	for i := range vs {
		ptrs[i] = &vs[i]
	}
	if err := s.Scan(ptrs...); err != nil {
		return nil, err
	}
	return vs, nil
}

// memRows is a buffered result set.
type memRows struct {
	cols []string
	rows [][]any
	pos  int
}

func buffer(rows *sql.Rows) (_ *memRows, rerr error) {
	defer func() { rerr = errors.Join(rerr, rows.Close()) }()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	m := &memRows{cols: cols}
	for rows.Next() {
		vs, err := scanValues(rows, len(cols))
		if err != nil {
			return nil, err
		}
		m.rows = append(m.rows, vs)
	}
	return m, rows.Err()
}

func (m *memRows) Columns() ([]string, error) { return m.cols, nil }
func (m *memRows) Err() error                 { return nil }
func (m *memRows) Close() error               { return nil }

func (m *memRows) Next() bool {
	if m.pos >= len(m.rows) {
		return false
	}
	m.pos++
	return true
}

func (m *memRows) Values() ([]any, error) {
	if m.pos == 0 || m.pos > len(m.rows) {
		return nil, errors.New("dialect/sql: no current row")
	}
	return m.rows[m.pos-1], nil
}

var (
	_ dialect.Connectivity = (*Driver)(nil)
	_ dialect.Conn         = (*Conn)(nil)
	_ dialect.Stmt         = (*Stmt)(nil)
	_ dialect.CallStmt     = (*CallStmt)(nil)
	_ dialect.Rows         = (*Rows)(nil)
	_ dialect.Rows         = (*memRows)(nil)
)
