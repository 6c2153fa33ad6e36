// Package convert implements the scalar conversion graph used to move values
// between Go field types and the values produced or accepted by database
// drivers.
//
// The graph is a directed map from (target type, source type) to a converter.
// It is not symmetric and there is no fallback: a missing edge is an error.
// Entity values are reduced to their single primary key before conversion,
// and scalar values converted to an entity type become unpopulated
// references carrying that key.
package convert

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/syssam/storm/entity"
)

// ErrConversion is returned when a value cannot be converted.
var ErrConversion = errors.New("conversion failed")

// Func converts a value of a fixed source type to a fixed target type.
type Func func(any) (any, error)

// Entities is the part of the entity registry the graph depends on.
type Entities interface {
	IsEntity(t reflect.Type) bool
	SingleID(v any) (any, error)
	Reference(t reflect.Type, id any, c entity.Caster) (any, error)
}

// Graph is the conversion graph. All default edges are installed by New;
// additional edges should be registered before the first query.
type Graph struct {
	mu       sync.RWMutex
	edges    map[reflect.Type]map[reflect.Type]Func
	entities Entities
	loc      *time.Location
}

// Option configures a Graph.
type Option func(*Graph)

// WithLocation sets the location used to interpret date-only and time-only
// values and zone-less text. Default is time.Local.
func WithLocation(loc *time.Location) Option {
	return func(g *Graph) {
		g.loc = loc
	}
}

// New creates a graph with the default edges. entities may be nil, in which
// case entity values are not recognized.
func New(entities Entities, opts ...Option) *Graph {
	g := &Graph{
		edges:    make(map[reflect.Type]map[reflect.Type]Func),
		entities: entities,
		loc:      time.Local,
	}
	for _, opt := range opts {
		opt(g)
	}
	registerNumeric(g)
	registerText(g)
	registerTemporal(g)
	return g
}

// Location returns the location used for temporal conversions.
func (g *Graph) Location() *time.Location { return g.loc }

// Register installs f as the converter from source to target and returns
// the converter it replaced, if any.
func (g *Graph) Register(source, target reflect.Type, f Func) Func {
	g.mu.Lock()
	defer g.mu.Unlock()
	group, ok := g.edges[target]
	if !ok {
		group = make(map[reflect.Type]Func)
		g.edges[target] = group
	}
	prev := group[source]
	group[source] = f
	return prev
}

// RegisterFunc installs a typed converter from S to T.
//
//	convert.RegisterFunc(g, func(s string) (Status, error) { return ParseStatus(s) })
func RegisterFunc[S, T any](g *Graph, f func(S) (T, error)) Func {
	return g.Register(reflect.TypeFor[S](), reflect.TypeFor[T](), func(v any) (any, error) {
		return f(v.(S))
	})
}

// Lookup returns the converter from source to target, or nil.
func (g *Graph) Lookup(source, target reflect.Type) Func {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[target][source]
}

// CastTo converts value to the target type.
func (g *Graph) CastTo(target reflect.Type, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	source := reflect.TypeOf(value)
	if source == target || (target.Kind() == reflect.Interface && source.Implements(target)) {
		return value, nil
	}
	if g.entities != nil && g.entities.IsEntity(source) {
		id, err := g.entities.SingleID(value)
		if err != nil {
			return nil, fmt.Errorf("unable to use %v as %v: %w", source, target, err)
		}
		return g.CastTo(target, id)
	}
	if g.entities != nil && g.entities.IsEntity(target) {
		return g.entities.Reference(target, value, g)
	}
	f := g.Lookup(source, target)
	if f == nil {
		return nil, fmt.Errorf("unable to convert %v to %v: %w", source, target, ErrConversion)
	}
	out, err := f(value)
	if err != nil {
		return nil, fmt.Errorf("error while converting %v to %v: %w: %w", source, target, ErrConversion, err)
	}
	return out, nil
}

// To converts value to T. A nil value yields the zero T.
func To[T any](g *Graph, value any) (T, error) {
	var zero T
	out, err := g.CastTo(reflect.TypeFor[T](), value)
	if err != nil || out == nil {
		return zero, err
	}
	return out.(T), nil
}

// each registers f from every source to target.
func (g *Graph) each(target reflect.Type, sources []reflect.Type, f Func) {
	for _, s := range sources {
		if s != target {
			g.Register(s, target, f)
		}
	}
}
