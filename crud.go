package storm

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/syssam/storm/dialect"
	"github.com/syssam/storm/entity"
)

// validIDs returns the key values of e, failing on the first null key.
func validIDs(d *entity.Descriptor, e any) ([]any, error) {
	ids := d.IDValues(e)
	if len(ids) == 0 {
		return nil, fmt.Errorf("no primary key found for %s: %w", label(d.Type), ErrNullID)
	}
	for i, v := range ids {
		if isNull(v) {
			return nil, fmt.Errorf("value of primary key %s is null in %s: %w", d.IDs[i].Name, label(d.Type), ErrNullID)
		}
	}
	return ids, nil
}

func (s *session) populate(ctx context.Context, e any) error {
	d, err := s.client.registry.Of(e)
	if err != nil {
		return wrap(labelOf(e), "populate", err)
	}
	ids, err := validIDs(d, e)
	if err != nil {
		return wrap(label(d.Type), "populate", err)
	}
	found := false
	err = s.perform(ctx, d.PopulateQuery, ids, false, func(st *statement) error {
		return st.scan(ctx, func(cols []string, vals []any) error {
			if found {
				return nil
			}
			found = true
			return s.client.fill(e, cols, vals)
		})
	})
	if err == nil && !found {
		nf := &NotFoundError{label: label(d.Type), id: ids}
		if len(ids) == 1 {
			nf.id = ids[0]
		}
		err = nf
	}
	return wrap(label(d.Type), "populate", err)
}

func (s *session) create(ctx context.Context, e any) error {
	d, err := s.client.registry.Of(e)
	if err != nil {
		return wrap(labelOf(e), "create", err)
	}
	err = s.bound(ctx, func(s *session) error {
		dl, err := s.client.resolve(ctx, s.conn)
		if err != nil {
			return err
		}
		generated := false
		for _, col := range d.IDs {
			if !isNull(col.Get(e)) {
				continue
			}
			query, ok := dl.SequenceQuery(col.Sequence)
			if col.Sequence == "" || !ok {
				generated = true
				continue
			}
			v, err := readOne[any](ctx, s, query, nil)
			if err != nil {
				return fmt.Errorf("sequence %s: %w", col.Sequence, err)
			}
			s.client.logger.DebugContext(ctx, fmt.Sprintf("Sequence %s incremented to %v", col.Sequence, v))
			if _, err := s.client.registry.SetField(e, col.DBName, v, s.client.graph, true); err != nil {
				return err
			}
		}
		keys := dl.Keys() != dialect.KeysNone
		args := d.RestValues(e)
		for _, v := range d.IDValues(e) {
			if isNull(v) {
				v = nil
			}
			args = append(args, v)
		}
		return s.perform(ctx, d.InsertQuery, args, keys, func(st *statement) error {
			n, err := st.exec(ctx)
			if err != nil || !keys || !generated || n <= 0 {
				return err
			}
			return s.generatedKeys(ctx, st, dl, d, e)
		})
	})
	if err != nil {
		return wrap(label(d.Type), "create", err)
	}
	s.client.registry.Attach(e, s.client)
	if le, ok := e.(entity.LazyEntity); ok {
		le.LazyState().MarkPopulated()
	}
	return nil
}

// generatedKeys writes the keys generated by the insert back into e.
func (s *session) generatedKeys(ctx context.Context, st *statement, dl *dialect.Dialect, d *entity.Descriptor, e any) error {
	rows, err := st.GeneratedKeys(ctx)
	if err != nil {
		return err
	}
	defer rows.Close()
	if !rows.Next() {
		return rows.Err()
	}
	vals, err := rows.Values()
	if err != nil {
		return err
	}
	switch dl.Keys() {
	case dialect.KeysByIndex:
		col, err := d.SingleID()
		if err != nil {
			return err
		}
		if len(vals) > 0 {
			_, err = s.client.registry.SetField(e, col.DBName, vals[0], s.client.graph, true)
		}
		return err
	case dialect.KeysByName:
		cols, err := rows.Columns()
		if err != nil {
			return err
		}
		return s.client.fill(e, cols, vals)
	}
	return nil
}

func (s *session) update(ctx context.Context, e any) error {
	d, err := s.client.registry.Of(e)
	if err != nil {
		return wrap(labelOf(e), "update", err)
	}
	ids, err := validIDs(d, e)
	if err != nil {
		return wrap(label(d.Type), "update", err)
	}
	if d.UpdateQuery == "" {
		return nil
	}
	args := append(d.RestValues(e), ids...)
	err = s.perform(ctx, d.UpdateQuery, args, false, func(st *statement) error {
		_, err := st.exec(ctx)
		return err
	})
	return wrap(label(d.Type), "update", err)
}

func (s *session) delete(ctx context.Context, e any) error {
	d, err := s.client.registry.Of(e)
	if err != nil {
		return wrap(labelOf(e), "delete", err)
	}
	ids, err := validIDs(d, e)
	if err != nil {
		return wrap(label(d.Type), "delete", err)
	}
	err = s.perform(ctx, d.DeleteQuery, ids, false, func(st *statement) error {
		_, err := st.exec(ctx)
		return err
	})
	return wrap(label(d.Type), "delete", err)
}

// Details returns the entities of type D whose foreign key references
// parent. The foreign key is the field of D named fkField, or else the only
// non-key field of D typed as parent. The parent instance itself is stored in
// the foreign key field of every detail.
//
//	players, err := storm.Details[*Player](ctx, client, team)
func Details[D any](ctx context.Context, q Querier, parent any, fkField ...string) ([]D, error) {
	s := q.session()
	out, err := details[D](ctx, s, parent, fkField)
	return out, wrap(label(reflect.TypeFor[D]()), "details", err)
}

func details[D any](ctx context.Context, s *session, parent any, fkField []string) ([]D, error) {
	reg := s.client.registry
	pd, err := reg.Of(parent)
	if err != nil {
		return nil, err
	}
	ids, err := validIDs(pd, parent)
	if err != nil {
		return nil, err
	}
	if len(ids) != 1 {
		return nil, fmt.Errorf("parent %s should have exactly one primary key: %w", label(pd.Type), ErrCompositeKey)
	}
	dd, err := reg.Retrieve(reflect.TypeFor[D]())
	if err != nil {
		return nil, err
	}
	var name string
	if len(fkField) > 0 {
		name = fkField[0]
	}
	fk, err := foreignKey(dd, pd.Type, name)
	if err != nil {
		return nil, err
	}
	list, err := read[D](ctx, s, "SELECT * FROM "+dd.Table+" WHERE "+fk.DBName+" = ?", ids)
	if err != nil {
		return nil, err
	}
	for _, child := range list {
		fk.Set(child, parent)
	}
	return list, nil
}

// foreignKey finds the column of dd referencing entities of type parent.
func foreignKey(dd *entity.Descriptor, parent reflect.Type, field string) (entity.Column, error) {
	if field != "" {
		for _, c := range dd.Rest {
			if !strings.EqualFold(c.Name, field) {
				continue
			}
			if c.Type != parent {
				return entity.Column{}, fmt.Errorf("field %s is not of type %s in %s: %w", field, label(parent), label(dd.Type), ErrForeignKey)
			}
			return c, nil
		}
		return entity.Column{}, fmt.Errorf("field %s not found in %s: %w", field, label(dd.Type), ErrForeignKey)
	}
	var found []entity.Column
	for _, c := range dd.Rest {
		if c.Type == parent {
			found = append(found, c)
		}
	}
	switch len(found) {
	case 0:
		return entity.Column{}, fmt.Errorf("no field of type %s found in %s: %w", label(parent), label(dd.Type), ErrForeignKey)
	case 1:
		return found[0], nil
	default:
		return entity.Column{}, fmt.Errorf("%d fields of type %s found in %s: %w", len(found), label(parent), label(dd.Type), ErrForeignKey)
	}
}

// FindAll returns the entities of type T matching where, a clause appended
// to the SELECT statement that includes its WHERE keyword. An empty clause
// returns every row.
//
//	adults, err := storm.FindAll[*User](ctx, client, "WHERE AGE >= ?", 18)
func FindAll[T any](ctx context.Context, q Querier, where string, args ...any) ([]T, error) {
	s := q.session()
	t := reflect.TypeFor[T]()
	d, err := s.client.registry.Retrieve(t)
	if err != nil {
		return nil, wrap(label(t), "find all", err)
	}
	query := "SELECT * FROM " + d.Table
	if where = strings.TrimSpace(where); where != "" {
		query += " " + where
	}
	out, err := read[T](ctx, s, query, args)
	return out, wrap(label(t), "find all", err)
}

// FindByID returns the entity of type T with the given single primary key,
// or the zero T if there is none.
func FindByID[T any](ctx context.Context, q Querier, id any) (T, error) {
	s := q.session()
	t := reflect.TypeFor[T]()
	var zero T
	d, err := s.client.registry.Retrieve(t)
	if err != nil {
		return zero, wrap(label(t), "find by id", err)
	}
	col, err := d.SingleID()
	if err != nil {
		return zero, wrap(label(t), "find by id", err)
	}
	out, err := readOne[T](ctx, s, "SELECT * FROM "+d.Table+" WHERE "+col.DBName+" = ?", []any{id})
	return out, wrap(label(t), "find by id", err)
}

// FindByIDs returns the entities of type T whose single primary key is one
// of ids, in one query. Rows come back in database order.
//
//	users, err := storm.FindByIDs[*User](ctx, client, []int64{1, 2, 3})
func FindByIDs[T, K any](ctx context.Context, q Querier, ids []K) ([]T, error) {
	s := q.session()
	t := reflect.TypeFor[T]()
	d, err := s.client.registry.Retrieve(t)
	if err != nil {
		return nil, wrap(label(t), "find by ids", err)
	}
	col, err := d.SingleID()
	if err != nil {
		return nil, wrap(label(t), "find by ids", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	out, err := read[T](ctx, s, "SELECT * FROM "+d.Table+" WHERE "+col.DBName+" IN ?", []any{ids})
	return out, wrap(label(t), "find by ids", err)
}

// DetailsMany is the batch form of Details: it loads the details of all
// parents in one query and returns them grouped per parent, in the order of
// parents.
func DetailsMany[D, P any](ctx context.Context, q Querier, parents []P, fkField ...string) ([][]D, error) {
	s := q.session()
	out, err := detailsMany[D](ctx, s, parents, fkField)
	return out, wrap(label(reflect.TypeFor[D]()), "details", err)
}

func detailsMany[D, P any](ctx context.Context, s *session, parents []P, fkField []string) ([][]D, error) {
	if len(parents) == 0 {
		return nil, nil
	}
	reg := s.client.registry
	pd, err := reg.Retrieve(reflect.TypeFor[P]())
	if err != nil {
		return nil, err
	}
	if _, err := pd.SingleID(); err != nil {
		return nil, fmt.Errorf("parent %s should have exactly one primary key: %w", label(pd.Type), ErrCompositeKey)
	}
	// Parents are indexed by the printed form of their key, which is also
	// the key of the reference read back into every detail.
	index := make(map[string][]int, len(parents))
	ids := make([]any, 0, len(parents))
	for i, p := range parents {
		pids, err := validIDs(pd, p)
		if err != nil {
			return nil, err
		}
		k := fmt.Sprint(pids[0])
		if _, ok := index[k]; !ok {
			ids = append(ids, pids[0])
		}
		index[k] = append(index[k], i)
	}
	dd, err := reg.Retrieve(reflect.TypeFor[D]())
	if err != nil {
		return nil, err
	}
	var name string
	if len(fkField) > 0 {
		name = fkField[0]
	}
	fk, err := foreignKey(dd, pd.Type, name)
	if err != nil {
		return nil, err
	}
	list, err := read[D](ctx, s, "SELECT * FROM "+dd.Table+" WHERE "+fk.DBName+" IN ?", []any{ids})
	if err != nil {
		return nil, err
	}
	out := make([][]D, len(parents))
	for _, child := range list {
		ref := fk.Get(child)
		if ref == nil {
			continue
		}
		id, err := reg.SingleID(ref)
		if err != nil {
			return nil, err
		}
		at := index[fmt.Sprint(id)]
		if len(at) == 0 {
			continue
		}
		fk.Set(child, parents[at[0]])
		for _, i := range at {
			out[i] = append(out[i], child)
		}
	}
	return out, nil
}
