// Package storm maps entities described in an entity.Registry to rows of a
// relational database and back.
//
// A Client runs queries through a dialect.Connectivity:
//
//	reg := entity.NewRegistry()
//	reg.Register(users, teams)
//	drv, err := sql.Open(dialect.Postgres, dsn)
//	if err != nil {
//		return err
//	}
//	client := storm.NewClient(drv, storm.WithRegistry(reg))
//	u, err := storm.FindByID[*User](ctx, client, 5)
//
// Queries use ? placeholders. A slice argument expands its placeholder to
// one placeholder per element, so IN lists are written as `ID IN ?`.
// Entity arguments are replaced by their primary key.
//
// Reads are generic functions accepting a Querier: the Client itself, or a
// *Tx inside Client.Transaction, whose operations all run on the
// transaction's connection.
package storm

import (
	"context"
	"log/slog"
	"reflect"
	"sync"

	"github.com/syssam/storm/convert"
	"github.com/syssam/storm/dialect"
	"github.com/syssam/storm/entity"
)

// Client runs queries and entity operations. It is safe for concurrent use;
// every operation outside a transaction takes its own connection.
type Client struct {
	conn     dialect.Connectivity
	registry *entity.Registry
	graph    *convert.Graph
	logger   *slog.Logger
	strict   bool

	mu      sync.Mutex
	dialect *dialect.Dialect
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger receiving the executed statements at debug
// level. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithStrict sets whether unmapped result columns are an error (the default)
// or only logged.
func WithStrict(strict bool) Option {
	return func(c *Client) {
		c.strict = strict
	}
}

// WithRegistry sets the entity registry.
func WithRegistry(r *entity.Registry) Option {
	return func(c *Client) {
		c.registry = r
	}
}

// WithConverter sets the conversion graph. By default a graph with the
// standard edges is created over the client's registry.
func WithConverter(g *convert.Graph) Option {
	return func(c *Client) {
		c.graph = g
	}
}

// WithDialect fixes the dialect instead of detecting it from the database.
func WithDialect(d *dialect.Dialect) Option {
	return func(c *Client) {
		c.dialect = d
	}
}

// NewClient creates a client on top of conn.
func NewClient(conn dialect.Connectivity, opts ...Option) *Client {
	c := &Client{
		conn:   conn,
		logger: slog.Default(),
		strict: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = entity.NewRegistry(entity.WithLogger(c.logger))
	}
	if c.graph == nil {
		c.graph = convert.New(c.registry)
	}
	return c
}

// Registry returns the entity registry of the client.
func (c *Client) Registry() *entity.Registry { return c.registry }

// Converter returns the conversion graph of the client.
func (c *Client) Converter() *convert.Graph { return c.graph }

// Strict reports whether unmapped result columns are an error.
func (c *Client) Strict() bool { return c.strict }

// Dialect returns the dialect of the database, detecting it on first use.
// A failed detection is retried by the next call.
func (c *Client) Dialect(ctx context.Context) (*dialect.Dialect, error) {
	return c.resolve(ctx, nil)
}

// resolve detects the dialect, through conn when one is in use.
func (c *Client) resolve(ctx context.Context, conn dialect.Conn) (*dialect.Dialect, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dialect != nil {
		return c.dialect, nil
	}
	var (
		d   *dialect.Dialect
		err error
	)
	if conn != nil {
		var md dialect.Metadata
		if md, err = conn.Metadata(ctx); err == nil {
			d = dialect.Match(md)
		}
	} else {
		d, err = dialect.Find(ctx, c.conn)
	}
	if err != nil {
		return nil, NewQueryError("", "find dialect", err)
	}
	c.logger.DebugContext(ctx, "dialect detected", "dialect", d.Name())
	c.dialect = d
	return d, nil
}

// Querier runs queries. It is implemented by *Client and *Tx.
type Querier interface {
	session() *session
}

func (c *Client) session() *session { return &session{client: c} }

// ExecuteUpdate runs a statement and returns the number of affected rows.
func (c *Client) ExecuteUpdate(ctx context.Context, query string, args ...any) (int64, error) {
	return c.session().executeUpdate(ctx, query, args)
}

// Populate loads the row of e by its primary key into e. It implements
// entity.Populator, so lazy entities populate themselves through the client
// that created them.
func (c *Client) Populate(ctx context.Context, e any) error {
	return c.session().populate(ctx, e)
}

// Create inserts e. Null sequence-backed keys are fetched from their
// sequence first, and keys generated by the database are written back.
func (c *Client) Create(ctx context.Context, e any) error {
	return c.session().create(ctx, e)
}

// Update writes the non-key columns of e to its row.
func (c *Client) Update(ctx context.Context, e any) error {
	return c.session().update(ctx, e)
}

// Delete deletes the row of e.
func (c *Client) Delete(ctx context.Context, e any) error {
	return c.session().delete(ctx, e)
}

// Procedure calls a stored procedure. Output parameters hold their values
// after the call returns.
func (c *Client) Procedure(ctx context.Context, name string, params ...*Param) error {
	return c.session().procedure(ctx, name, params)
}

// label returns the entity type name used in error messages.
func label(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

func labelOf(v any) string {
	if v == nil {
		return ""
	}
	return label(reflect.TypeOf(v))
}

var _ entity.Populator = (*Client)(nil)

