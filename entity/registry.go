// Package entity holds the mapping metadata of entity types: descriptors,
// typed column accessors, the process-scoped registry and the lazy
// population state embedded in entity structs.
//
// Descriptors are registered once at startup, before the first query is
// issued:
//
//	reg := entity.NewRegistry()
//	reg.Register(entity.Define[User]("USERS", ids, rest))
package entity

import (
	"bytes"
	"errors"
	"fmt"
	"hash/maphash"
	"log/slog"
	"reflect"
	"sync"

	"golang.org/x/text/cases"
)

var (
	// ErrUnknownEntity is returned for types without a registered descriptor.
	ErrUnknownEntity = errors.New("unknown entity")
	// ErrUnknownField is returned when a column or field name is not mapped.
	ErrUnknownField = errors.New("unknown field")
	// ErrCompositeKey is returned when a single primary key is required but
	// the entity declares several (or none).
	ErrCompositeKey = errors.New("single primary key required")
)

// Caster converts a value to a target type. It is implemented by the
// conversion graph.
type Caster interface {
	CastTo(target reflect.Type, value any) (any, error)
}

// Registry maps entity types to their descriptors. The zero value is not
// usable; create one with NewRegistry.
type Registry struct {
	mu     sync.RWMutex
	types  map[reflect.Type]*Descriptor
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger that receives lenient field mapping misses.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		types:  make(map[reflect.Type]*Descriptor),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds the descriptors, replacing any previous descriptor of the
// same type.
func (r *Registry) Register(ds ...*Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range ds {
		r.types[d.Type] = d
	}
}

// Retrieve returns the descriptor of the entity type t.
func (r *Registry) Retrieve(t reflect.Type) (*Descriptor, error) {
	r.mu.RLock()
	d, ok := r.types[t]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%v: %w", t, ErrUnknownEntity)
	}
	return d, nil
}

// Of returns the descriptor of the dynamic type of v.
func (r *Registry) Of(v any) (*Descriptor, error) {
	if v == nil {
		return nil, fmt.Errorf("nil value: %w", ErrUnknownEntity)
	}
	return r.Retrieve(reflect.TypeOf(v))
}

// IsEntity reports whether t has a registered descriptor.
func (r *Registry) IsEntity(t reflect.Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[t]
	return ok
}

// FieldType returns the declared type of the named field of entity type t.
// The name is matched case-insensitively against id and rest field names.
func (r *Registry) FieldType(t reflect.Type, field string) (reflect.Type, error) {
	d, err := r.Retrieve(t)
	if err != nil {
		return nil, err
	}
	i, ok := d.byField[fold(field)]
	if !ok {
		return nil, fmt.Errorf("field %s in %s: %w", field, d.Table, ErrUnknownField)
	}
	return d.all[i].Type, nil
}

// SetField converts raw to the declared type of the column mapped to
// dbColumn and stores it in e. It reports whether a matching column exists.
// A missing column is an error in strict mode; otherwise it is logged and
// ignored.
func (r *Registry) SetField(e any, dbColumn string, raw any, c Caster, strict bool) (bool, error) {
	d, err := r.Of(e)
	if err != nil {
		return false, err
	}
	col, ok := d.Column(dbColumn)
	if !ok {
		if strict {
			return false, fmt.Errorf("unable to set field %s in %s: %w", dbColumn, d.Table, ErrUnknownField)
		}
		r.logger.Warn("unable to set field", "field", dbColumn, "table", d.Table)
		return false, nil
	}
	v, err := c.CastTo(col.Type, raw)
	if err != nil {
		return true, fmt.Errorf("field %s in %s: %w", dbColumn, d.Table, err)
	}
	col.Set(e, v)
	return true, nil
}

// SingleID returns the primary key value of v, which must have exactly one
// id column.
func (r *Registry) SingleID(v any) (any, error) {
	d, err := r.Of(v)
	if err != nil {
		return nil, err
	}
	col, err := d.SingleID()
	if err != nil {
		return nil, err
	}
	return col.Get(v), nil
}

// Reference creates an unpopulated instance of entity type t carrying only
// the given primary key.
func (r *Registry) Reference(t reflect.Type, id any, c Caster) (any, error) {
	d, err := r.Retrieve(t)
	if err != nil {
		return nil, err
	}
	col, err := d.SingleID()
	if err != nil {
		return nil, err
	}
	e := d.New()
	if _, err := r.SetField(e, col.DBName, id, c, true); err != nil {
		return nil, err
	}
	return e, nil
}

// Equal reports whether a and b are instances of the same entity type with
// equal primary key values.
func (r *Registry) Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	d, err := r.Of(a)
	if err != nil {
		return false
	}
	ia, ib := d.IDValues(a), d.IDValues(b)
	for i := range ia {
		if !valueEqual(ia[i], ib[i]) {
			return false
		}
	}
	return true
}

var seed = maphash.MakeSeed()

// Hash returns a hash of the primary key of v: the hash of the key for
// single keys, the exclusive-or of the key hashes for composite keys.
func (r *Registry) Hash(v any) uint64 {
	d, err := r.Of(v)
	if err != nil {
		return 0
	}
	var h uint64
	for _, id := range d.IDValues(v) {
		h ^= hashValue(id)
	}
	return h
}

// Attach binds the controller p and the registry logger to e and to every
// entity directly referenced by e's columns, key columns included.
// Referenced entities are not walked further.
func (r *Registry) Attach(e any, p Populator) {
	le, ok := e.(LazyEntity)
	if !ok {
		return
	}
	le.LazyState().bind(p, e, r.logger)
	d, err := r.Of(e)
	if err != nil {
		return
	}
	for _, c := range d.all {
		v := c.Get(e)
		if ref, ok := v.(LazyEntity); ok && v != e {
			ref.LazyState().bind(p, v, r.logger)
		}
	}
}

func hashValue(v any) uint64 {
	switch v := v.(type) {
	case nil:
		return 0
	case []byte:
		return maphash.Bytes(seed, v)
	case string:
		return maphash.String(seed, v)
	}
	if reflect.TypeOf(v).Comparable() {
		return maphash.Comparable(seed, v)
	}
	return maphash.String(seed, fmt.Sprint(v))
}

func valueEqual(a, b any) bool {
	if ab, ok := a.([]byte); ok {
		bb, ok := b.([]byte)
		return ok && bytes.Equal(ab, bb)
	}
	if a == nil || b == nil {
		return a == b
	}
	if reflect.TypeOf(a).Comparable() && reflect.TypeOf(b).Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// fold returns the case folded form of s used for case-insensitive lookups.
func fold(s string) string {
	return cases.Fold().String(s)
}
