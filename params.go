package storm

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"strings"
)

// fixParams rewrites query and args into the flat form bound to a
// statement. Entity arguments are replaced by their primary key, and a slice
// argument replaces its placeholder with one placeholder per element:
//
//	fixParams("SELECT * FROM T WHERE ID IN ?", []any{[]int{1, 2}})
//	// SELECT * FROM T WHERE ID IN (?, ?) [1 2]
func (c *Client) fixParams(query string, args []any) (string, []any, error) {
	var (
		b      strings.Builder
		n      int
		params = make([]any, 0, len(args))
	)
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		n++
		if n > len(args) {
			continue
		}
		v, list, err := c.sqlData(args[n-1])
		if err != nil {
			return "", nil, fmt.Errorf("argument %d: %w", n, err)
		}
		if list == nil {
			b.WriteByte('?')
			params = append(params, v)
			continue
		}
		b.WriteByte('(')
		for j := range list {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('?')
		}
		b.WriteByte(')')
		params = append(params, list...)
	}
	switch {
	case n > len(args):
		return "", nil, fmt.Errorf("%w: the %d placeholders in query %q exceed the %d arguments by %d",
			ErrPlaceholderCount, n, query, len(args), n-len(args))
	case n < len(args):
		return "", nil, fmt.Errorf("%w: the %d placeholders in query %q are fewer than the %d arguments by %d",
			ErrPlaceholderCount, n, query, len(args), len(args)-n)
	}
	return b.String(), params, nil
}

// sqlData returns the bindable form of an argument. Slices and arrays are
// returned as a list of their bindable elements.
func (c *Client) sqlData(v any) (any, []any, error) {
	if !expandable(v) {
		id, err := c.reduce(v)
		return id, nil, err
	}
	rv := reflect.ValueOf(v)
	list := make([]any, rv.Len())
	for i := range list {
		id, err := c.reduce(rv.Index(i).Interface())
		if err != nil {
			return nil, nil, err
		}
		list[i] = id
	}
	return nil, list, nil
}

// reduce replaces an entity by its single primary key.
func (c *Client) reduce(v any) (any, error) {
	if v == nil || !c.registry.IsEntity(reflect.TypeOf(v)) {
		return v, nil
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, nil
	}
	return c.registry.SingleID(v)
}

// expandable reports whether v is a collection argument.
func expandable(v any) bool {
	switch v.(type) {
	case nil, []byte, driver.Valuer:
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

// isNull reports whether a key value is unset: nil or the zero value of its
// type.
func isNull(v any) bool {
	return v == nil || reflect.ValueOf(v).IsZero()
}
