package storm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/syssam/storm/dialect"
)

// savepoints numbers the savepoints of nested transactions.
var savepoints atomic.Uint64

// Tx is a transaction scope. All its operations run on the connection of the
// transaction. A Tx is only valid inside the function it was passed to.
type Tx struct {
	client *Client
	conn   dialect.Conn
}

func (tx *Tx) session() *session { return &session{client: tx.client, conn: tx.conn} }

// Transaction runs fn in a transaction on one connection with auto-commit
// turned off. The transaction is committed if fn returns nil and rolled back
// otherwise. If fn panics, the transaction is rolled back and the panic is
// re-raised. Auto-commit is restored and the connection closed in every
// case.
//
//	err := client.Transaction(ctx, func(tx *storm.Tx) error {
//		if err := tx.Create(ctx, order); err != nil {
//			return err
//		}
//		return tx.Update(ctx, stock)
//	})
func (c *Client) Transaction(ctx context.Context, fn func(*Tx) error) (rerr error) {
	conn, err := c.conn.Conn(ctx)
	if err != nil {
		return wrap("", "transaction", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			rerr = errors.Join(rerr, wrap("", "transaction", fmt.Errorf("closing connection: %w", err)))
		}
	}()
	if err := conn.SetAutoCommit(ctx, false); err != nil {
		return wrap("", "transaction", err)
	}
	defer func() {
		if err := conn.SetAutoCommit(context.WithoutCancel(ctx), true); err != nil {
			rerr = errors.Join(rerr, wrap("", "transaction", fmt.Errorf("restoring auto-commit: %w", err)))
		}
	}()
	defer func() {
		if v := recover(); v != nil {
			_ = conn.Rollback(context.WithoutCancel(ctx))
			panic(v)
		}
	}()
	if err := fn(&Tx{client: c, conn: conn}); err != nil {
		if rbErr := conn.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			err = errors.Join(err, &RollbackError{Err: rbErr})
		}
		return NewQueryError("", "transaction", fmt.Errorf("%w: %w", ErrTransaction, err))
	}
	if err := conn.Commit(ctx); err != nil {
		return NewQueryError("", "transaction", fmt.Errorf("%w: committing transaction: %w", ErrTransaction, err))
	}
	return nil
}

// Transaction runs fn in a nested transaction marked by a savepoint. The
// savepoint is released if fn returns nil, and the transaction is rolled
// back to it otherwise, keeping the work done before it.
func (tx *Tx) Transaction(ctx context.Context, fn func(*Tx) error) error {
	name := fmt.Sprintf("storm_%d_%d", time.Now().UnixMilli(), savepoints.Add(1))
	if err := tx.conn.Savepoint(ctx, name); err != nil {
		return wrap("", "transaction", err)
	}
	defer func() {
		if v := recover(); v != nil {
			_ = tx.conn.RollbackTo(context.WithoutCancel(ctx), name)
			panic(v)
		}
	}()
	if err := fn(tx); err != nil {
		if rerr := tx.conn.RollbackTo(context.WithoutCancel(ctx), name); rerr != nil {
			err = errors.Join(err, &RollbackError{Err: rerr})
		}
		return NewQueryError("", "transaction", fmt.Errorf("%w: %w", ErrTransaction, err))
	}
	if err := tx.conn.ReleaseSavepoint(ctx, name); err != nil {
		return wrap("", "transaction", err)
	}
	return nil
}

// Client returns the client that started the transaction.
func (tx *Tx) Client() *Client { return tx.client }

// ExecuteUpdate runs a statement and returns the number of affected rows.
func (tx *Tx) ExecuteUpdate(ctx context.Context, query string, args ...any) (int64, error) {
	return tx.session().executeUpdate(ctx, query, args)
}

// Populate loads the row of e by its primary key into e.
func (tx *Tx) Populate(ctx context.Context, e any) error {
	return tx.session().populate(ctx, e)
}

// Create inserts e.
func (tx *Tx) Create(ctx context.Context, e any) error {
	return tx.session().create(ctx, e)
}

// Update writes the non-key columns of e to its row.
func (tx *Tx) Update(ctx context.Context, e any) error {
	return tx.session().update(ctx, e)
}

// Delete deletes the row of e.
func (tx *Tx) Delete(ctx context.Context, e any) error {
	return tx.session().delete(ctx, e)
}

// Procedure calls a stored procedure.
func (tx *Tx) Procedure(ctx context.Context, name string, params ...*Param) error {
	return tx.session().procedure(ctx, name, params)
}
