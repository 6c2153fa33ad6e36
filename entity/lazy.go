package entity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Populator loads the full row of an entity whose primary key is set.
type Populator interface {
	Populate(ctx context.Context, e any) error
}

// LazyEntity is implemented by entity structs embedding Lazy.
type LazyEntity interface {
	LazyState() *Lazy
}

const (
	notRun int32 = iota
	running
	done
)

// Lazy is embedded in entity structs to let instances load their own row on
// first access:
//
//	type User struct {
//		entity.Lazy
//		ID   int64
//		name string
//	}
//
//	func (u *User) Name(ctx context.Context) (string, error) {
//		err := u.PopulateIfNeeded(ctx)
//		return u.name, err
//	}
//
// Instances returned by a query are already marked as populated. Instances
// created as references to other rows (foreign key columns) are not, and
// load themselves once through the controller attached to them.
type Lazy struct {
	state  atomic.Int32
	flight singleflight.Group

	mu     sync.Mutex
	ctrl   Populator
	owner  any
	logger *slog.Logger
}

// LazyState implements LazyEntity.
func (l *Lazy) LazyState() *Lazy { return l }

// Populated reports whether the instance has been populated.
func (l *Lazy) Populated() bool { return l.state.Load() == done }

// MarkPopulated marks the instance as populated without loading it.
func (l *Lazy) MarkPopulated() { l.state.Store(done) }

// PopulateIfNeeded loads the entity through its controller, at most once.
// Concurrent callers share a single load and all wait for it. An instance
// without a controller is left untouched and the condition is logged to the
// logger of the registry that attached it, or slog.Default().
func (l *Lazy) PopulateIfNeeded(ctx context.Context) error {
	if l.state.Load() == done {
		return nil
	}
	ctrl, owner, logger := l.controller()
	if ctrl == nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.ErrorContext(ctx, "entity controller is not attached", "entity", fmt.Sprintf("%T", owner))
		return nil
	}
	_, err, _ := l.flight.Do("populate", func() (any, error) {
		if l.state.Load() == done {
			return nil, nil
		}
		l.state.Store(running)
		if err := ctrl.Populate(ctx, owner); err != nil {
			l.state.CompareAndSwap(running, notRun)
			return nil, err
		}
		l.state.Store(done)
		return nil, nil
	})
	return err
}

func (l *Lazy) bind(p Populator, owner any, logger *slog.Logger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ctrl, l.owner, l.logger = p, owner, logger
}

func (l *Lazy) controller() (Populator, any, *slog.Logger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ctrl, l.owner, l.logger
}
