package entity

import "reflect"

// Column describes one mapped field of an entity.
//
// A Column is normally built with Field, Nullable or Ref, which bind typed
// accessor closures so that no reflection is needed to read or write the
// entity's fields.
type Column struct {
	// Name is the Go-side field name.
	Name string
	// DBName is the database column name. It defaults to Name; column names
	// are matched case-insensitively.
	DBName string
	// Type is the declared scalar type of the column. For references to
	// other entities it is the pointer type of the referenced entity.
	Type reflect.Type
	// Sequence is the name of the database sequence that backs the column.
	// It is only meaningful for id columns.
	Sequence string

	get func(e any) any
	set func(e any, v any)
}

// DB returns a copy of the column using the given database column name.
func (c Column) DB(name string) Column {
	c.DBName = name
	return c
}

// Seq returns a copy of the column backed by the named sequence.
func (c Column) Seq(name string) Column {
	c.Sequence = name
	return c
}

// Get returns the current value of the column on e. Unset nullable and
// reference columns return nil.
func (c Column) Get(e any) any { return c.get(e) }

// Set writes v, which must already have the column type or be nil, into e.
func (c Column) Set(e any, v any) { c.set(e, v) }

// Field declares a column backed by a plain value field of type V.
// A nil value resets the field to the zero value of V.
//
//	entity.Field("Name", func(u *User) string { return u.Name }, func(u *User, v string) { u.Name = v })
func Field[E, V any](name string, get func(*E) V, set func(*E, V)) Column {
	return Column{
		Name:   name,
		DBName: name,
		Type:   reflect.TypeFor[V](),
		get:    func(e any) any { return get(e.(*E)) },
		set: func(e any, v any) {
			if v == nil {
				var zero V
				set(e.(*E), zero)
				return
			}
			set(e.(*E), v.(V))
		},
	}
}

// Nullable declares a column backed by a pointer field. A nil pointer maps
// to SQL NULL, and the declared column type is V.
func Nullable[E, V any](name string, get func(*E) *V, set func(*E, *V)) Column {
	return Column{
		Name:   name,
		DBName: name,
		Type:   reflect.TypeFor[V](),
		get: func(e any) any {
			if p := get(e.(*E)); p != nil {
				return *p
			}
			return nil
		},
		set: func(e any, v any) {
			if v == nil {
				set(e.(*E), nil)
				return
			}
			val := v.(V)
			set(e.(*E), &val)
		},
	}
}

// Ref declares a column that references another entity of type P. The
// database column holds the referenced entity's single primary key, and the
// Go field holds a *P.
func Ref[E, P any](name string, get func(*E) *P, set func(*E, *P)) Column {
	return Column{
		Name:   name,
		DBName: name,
		Type:   reflect.TypeFor[*P](),
		get: func(e any) any {
			if p := get(e.(*E)); p != nil {
				return p
			}
			return nil
		},
		set: func(e any, v any) {
			if v == nil {
				set(e.(*E), nil)
				return
			}
			set(e.(*E), v.(*P))
		},
	}
}
