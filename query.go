package storm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"reflect"

	"github.com/syssam/storm/dialect"
	"github.com/syssam/storm/entity"
)

// session runs statements for a Client, on conn when it is set or on a
// connection of its own otherwise.
type session struct {
	client *Client
	conn   dialect.Conn
}

// bound calls fn with a session holding a connection. A connection opened
// here is closed when fn returns.
func (s *session) bound(ctx context.Context, fn func(*session) error) (rerr error) {
	if s.conn != nil {
		return fn(s)
	}
	conn, err := s.client.conn.Conn(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			rerr = errors.Join(rerr, fmt.Errorf("closing connection: %w", err))
		}
	}()
	return fn(&session{client: s.client, conn: conn})
}

// statement is a prepared statement together with its bound arguments.
type statement struct {
	dialect.Stmt
	args []any
}

func (st *statement) exec(ctx context.Context) (int64, error) { return st.Exec(ctx, st.args...) }

func (st *statement) query(ctx context.Context) (dialect.Rows, error) {
	return st.Query(ctx, st.args...)
}

// perform rewrites the query parameters, logs the statement, prepares it and
// hands it to fn. The statement is closed when fn returns.
func (s *session) perform(ctx context.Context, query string, args []any, keys bool, fn func(*statement) error) error {
	query, params, err := s.client.fixParams(query, args)
	if err != nil {
		return err
	}
	s.client.logger.DebugContext(ctx, fmt.Sprintf("%s -- %v", query, params))
	return s.bound(ctx, func(s *session) (rerr error) {
		st, err := s.conn.Prepare(ctx, query, keys)
		if err != nil {
			return err
		}
		defer func() {
			if err := st.Close(); err != nil {
				rerr = errors.Join(rerr, fmt.Errorf("closing statement: %w", err))
			}
		}()
		return fn(&statement{Stmt: st, args: params})
	})
}

// scan calls fn for every row of the statement's result.
func (st *statement) scan(ctx context.Context, fn func(cols []string, vals []any) error) (rerr error) {
	rows, err := st.query(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			rerr = errors.Join(rerr, fmt.Errorf("closing rows: %w", err))
		}
	}()
	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return err
		}
		if err := fn(cols, vals); err != nil {
			return err
		}
	}
	return rows.Err()
}

// fill maps a result row onto e, then attaches the client to e and its
// references and marks e as populated.
func (c *Client) fill(e any, cols []string, vals []any) error {
	for i, col := range cols {
		if _, err := c.registry.SetField(e, col, vals[i], c.graph, c.strict); err != nil {
			return err
		}
	}
	c.registry.Attach(e, c)
	if le, ok := e.(entity.LazyEntity); ok {
		le.LazyState().MarkPopulated()
	}
	return nil
}

var (
	mapType    = reflect.TypeFor[map[string]any]()
	bigIntType = reflect.TypeFor[*big.Int]()
)

// mapper returns the function building a T from a result row. T is a
// registered entity type, map[string]any, or a scalar type read from the
// first column.
func mapper[T any](c *Client) (func(cols []string, vals []any) (T, error), error) {
	t := reflect.TypeFor[T]()
	switch {
	case t == mapType:
		return func(cols []string, vals []any) (T, error) {
			m := make(map[string]any, len(cols))
			for i, col := range cols {
				m[col] = vals[i]
			}
			return any(m).(T), nil
		}, nil
	case c.registry.IsEntity(t):
		d, err := c.registry.Retrieve(t)
		if err != nil {
			return nil, err
		}
		return func(cols []string, vals []any) (T, error) {
			e := d.New()
			if err := c.fill(e, cols, vals); err != nil {
				var zero T
				return zero, err
			}
			return e.(T), nil
		}, nil
	case t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct && t != bigIntType:
		return nil, fmt.Errorf("%v: %w", t, ErrUnknownEntity)
	}
	return func(_ []string, vals []any) (T, error) {
		var zero T
		if len(vals) == 0 {
			return zero, nil
		}
		v, err := c.graph.CastTo(t, vals[0])
		if err != nil || v == nil {
			return zero, err
		}
		return v.(T), nil
	}, nil
}

// entityLabel returns the name of T when it is a registered entity type.
func entityLabel[T any](c *Client) string {
	if t := reflect.TypeFor[T](); c.registry.IsEntity(t) {
		return label(t)
	}
	return ""
}

// ReadCursor runs query and calls fn with every row mapped to T, as the rows
// are read. It returns the number of rows fn accepted. A non-nil error
// returned by fn stops the iteration and is returned, and that row is not
// counted.
//
// T is a registered entity type, map[string]any for rows keyed by column
// name, or a scalar type that the first column is converted to.
func ReadCursor[T any](ctx context.Context, q Querier, query string, fn func(T) error, args ...any) (int, error) {
	s := q.session()
	n, err := readCursor(ctx, s, query, args, fn)
	return n, wrap(entityLabel[T](s.client), "read", err)
}

// Read runs query and returns all rows mapped to T. See ReadCursor for the
// accepted types.
func Read[T any](ctx context.Context, q Querier, query string, args ...any) ([]T, error) {
	s := q.session()
	out, err := read[T](ctx, s, query, args)
	return out, wrap(entityLabel[T](s.client), "read", err)
}

// ReadOne runs query and returns its only row mapped to T, or the zero T if
// there are no rows. More than one row is an error.
func ReadOne[T any](ctx context.Context, q Querier, query string, args ...any) (T, error) {
	s := q.session()
	out, err := readOne[T](ctx, s, query, args)
	return out, wrap(entityLabel[T](s.client), "read one", err)
}

func readCursor[T any](ctx context.Context, s *session, query string, args []any, fn func(T) error) (int, error) {
	m, err := mapper[T](s.client)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.perform(ctx, query, args, false, func(st *statement) error {
		return st.scan(ctx, func(cols []string, vals []any) error {
			v, err := m(cols, vals)
			if err != nil {
				return err
			}
			if err := fn(v); err != nil {
				return err
			}
			n++
			return nil
		})
	})
	return n, err
}

func read[T any](ctx context.Context, s *session, query string, args []any) ([]T, error) {
	var out []T
	if _, err := readCursor(ctx, s, query, args, func(v T) error {
		out = append(out, v)
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func readOne[T any](ctx context.Context, s *session, query string, args []any) (T, error) {
	var (
		out   T
		found bool
	)
	if _, err := readCursor(ctx, s, query, args, func(v T) error {
		if found {
			return &NotSingularError{query: query}
		}
		out, found = v, true
		return nil
	}); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func (s *session) executeUpdate(ctx context.Context, query string, args []any) (int64, error) {
	var n int64
	err := s.perform(ctx, query, args, false, func(st *statement) (err error) {
		n, err = st.exec(ctx)
		return err
	})
	return n, wrap("", "execute update", err)
}
