package entity

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-openapi/inflect"
)

// Descriptor holds the mapping metadata of one entity type together with the
// SQL templates derived from it. Descriptors are built once at startup and
// must not be modified after registration.
type Descriptor struct {
	// Type is the pointer type of the entity, e.g. *User.
	Type reflect.Type
	// Table is the database table name.
	Table string
	// IDs are the primary key columns, in key order.
	IDs []Column
	// Rest are the non key columns.
	Rest []Column

	// PopulateQuery selects one row by primary key.
	PopulateQuery string
	// InsertQuery inserts one row. Its column order is given by InsertOrder.
	InsertQuery string
	// UpdateQuery updates the rest columns of one row by primary key.
	UpdateQuery string
	// DeleteQuery deletes one row by primary key.
	DeleteQuery string

	newFn   func() any
	all     []Column
	byDB    map[string]int // folded db name -> column index
	byField map[string]int // folded field name -> column index
}

// Define builds the descriptor of entity type E stored in table. An empty
// table name is derived from the type name in snake case.
//
//	users := entity.Define[User]("USERS",
//		[]entity.Column{entity.Field("ID", ...).Seq("USER_SEQ")},
//		[]entity.Column{entity.Field("Name", ...)},
//	)
func Define[E any](table string, ids, rest []Column) *Descriptor {
	if table == "" {
		table = inflect.Underscore(reflect.TypeFor[E]().Name())
	}
	d := &Descriptor{
		Type:  reflect.TypeFor[*E](),
		Table: table,
		IDs:   ids,
		Rest:  rest,
		newFn: func() any { return new(E) },
	}
	d.index()
	d.PopulateQuery = "SELECT * FROM " + table + " WHERE " + predicate(ids)
	d.InsertQuery = insertQuery(table, d.InsertOrder())
	if len(rest) > 0 {
		sets := make([]string, len(rest))
		for i, c := range rest {
			sets[i] = c.DBName + " = ?"
		}
		d.UpdateQuery = "UPDATE " + table + " SET " + strings.Join(sets, ", ") + " WHERE " + predicate(ids)
	}
	d.DeleteQuery = "DELETE FROM " + table + " WHERE " + predicate(ids)
	return d
}

func (d *Descriptor) index() {
	d.byDB = make(map[string]int, len(d.IDs)+len(d.Rest))
	d.byField = make(map[string]int, len(d.IDs)+len(d.Rest))
	d.all = d.columns()
	for i, c := range d.all {
		// The first column wins when two fields share a db name.
		if _, ok := d.byDB[fold(c.DBName)]; !ok {
			d.byDB[fold(c.DBName)] = i
		}
		d.byField[fold(c.Name)] = i
	}
}

func (d *Descriptor) columns() []Column {
	all := make([]Column, 0, len(d.IDs)+len(d.Rest))
	all = append(all, d.IDs...)
	return append(all, d.Rest...)
}

// New returns a fresh, empty instance of the entity.
func (d *Descriptor) New() any { return d.newFn() }

// InsertOrder returns the columns in the order they appear in InsertQuery:
// rest columns first, then id columns.
func (d *Descriptor) InsertOrder() []Column {
	order := make([]Column, 0, len(d.IDs)+len(d.Rest))
	order = append(order, d.Rest...)
	return append(order, d.IDs...)
}

// Column returns the column mapped to the given database column name,
// compared case-insensitively.
func (d *Descriptor) Column(dbName string) (Column, bool) {
	i, ok := d.byDB[fold(dbName)]
	if !ok {
		return Column{}, false
	}
	return d.all[i], true
}

// SingleID returns the only id column, failing for composite or missing keys.
func (d *Descriptor) SingleID() (Column, error) {
	if len(d.IDs) != 1 {
		return Column{}, fmt.Errorf("%d primary keys found in %s: %w", len(d.IDs), d.Table, ErrCompositeKey)
	}
	return d.IDs[0], nil
}

// IDValues returns the id column values of e in key order.
func (d *Descriptor) IDValues(e any) []any {
	return values(d.IDs, e)
}

// RestValues returns the rest column values of e in declaration order.
func (d *Descriptor) RestValues(e any) []any {
	return values(d.Rest, e)
}

// Describe renders e as Type[ID=1, CODE=x].
func (d *Descriptor) Describe(e any) string {
	parts := make([]string, len(d.IDs))
	for i, c := range d.IDs {
		parts[i] = fmt.Sprintf("%s=%v", c.Name, c.Get(e))
	}
	return d.Type.Elem().Name() + "[" + strings.Join(parts, ", ") + "]"
}

func values(cols []Column, e any) []any {
	vs := make([]any, len(cols))
	for i, c := range cols {
		vs[i] = c.Get(e)
	}
	return vs
}

func predicate(ids []Column) string {
	parts := make([]string, len(ids))
	for i, c := range ids {
		parts[i] = c.DBName + " = ?"
	}
	return strings.Join(parts, " AND ")
}

func insertQuery(table string, cols []Column) string {
	names := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.DBName
		marks[i] = "?"
	}
	return "INSERT INTO " + table + " (" + strings.Join(names, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")"
}
