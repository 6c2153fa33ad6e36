package storm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/syssam/storm/dialect"
	"github.com/syssam/storm/entity"
)

// DefaultPageSize is the page size of lists created with a non-positive size.
const DefaultPageSize = 15

// PagedList is a read-only view of the rows of one entity table, loaded one
// page at a time through the dialect's pagination. The row count and the
// loaded pages are cached until the list is changed or invalidated. A
// PagedList is safe for concurrent use.
type PagedList[T any] struct {
	client *Client
	desc   *entity.Descriptor
	id     entity.Column

	mu       sync.Mutex
	pageSize int
	where    string
	args     []any
	distinct bool
	sorting  string
	selected any
	size     int
	sized    bool
	pages    map[int][]T
}

// NewPagedList creates a list over the table of entity type T, which must
// have a single primary key. Rows are sorted by primary key unless
// SetSorting is used.
func NewPagedList[T any](c *Client, pageSize int) (*PagedList[T], error) {
	t := reflect.TypeFor[T]()
	d, err := c.registry.Retrieve(t)
	if err != nil {
		return nil, wrap(label(t), "paged list", err)
	}
	id, err := d.SingleID()
	if err != nil {
		return nil, wrap(label(t), "paged list", err)
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &PagedList[T]{
		client:   c,
		desc:     d,
		id:       id,
		pageSize: pageSize,
		pages:    make(map[int][]T),
	}, nil
}

// PageSize returns the number of rows loaded per page.
func (l *PagedList[T]) PageSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pageSize
}

// SetPageSize changes the number of rows loaded per page.
func (l *PagedList[T]) SetPageSize(n int) error {
	if n < 1 {
		return errors.New("storm: page size must be at least 1")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if n != l.pageSize {
		l.pageSize = n
		l.invalidate()
	}
	return nil
}

// SetConstraint restricts the list to the rows matching clause, a condition
// without the WHERE keyword, using ? placeholders bound to args.
func (l *PagedList[T]) SetConstraint(clause string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.where = strings.TrimSpace(clause)
	l.args = args
	l.invalidate()
}

// SetDistinct sets whether duplicate rows are removed.
func (l *PagedList[T]) SetDistinct(distinct bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.distinct != distinct {
		l.distinct = distinct
		l.invalidate()
	}
}

// SetSorting sets the sort clause, without the ORDER BY keywords. An empty
// clause restores sorting by primary key.
func (l *PagedList[T]) SetSorting(sorting string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sorting = strings.TrimSpace(sorting)
	l.invalidate()
}

// SetSelected places e first in the list, before the sorted rows. A nil
// entity clears the selection.
func (l *PagedList[T]) SetSelected(e T) {
	var id any
	if v := any(e); v != nil {
		if rv := reflect.ValueOf(v); rv.Kind() != reflect.Pointer || !rv.IsNil() {
			id = l.id.Get(v)
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.selected = id
	l.invalidate()
}

// Invalidate drops the cached size and pages.
func (l *PagedList[T]) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.invalidate()
}

func (l *PagedList[T]) invalidate() {
	l.sized = false
	clear(l.pages)
}

// Len returns the number of rows in the list.
func (l *PagedList[T]) Len(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.len(ctx)
}

func (l *PagedList[T]) len(ctx context.Context) (int, error) {
	if l.sized {
		return l.size, nil
	}
	query := "SELECT COUNT(*) FROM " + l.desc.Table + l.whereClause()
	if l.distinct {
		query = "SELECT COUNT(*) FROM (SELECT DISTINCT * FROM " + l.desc.Table + l.whereClause() + ") d"
	}
	n, err := readOne[int64](ctx, l.client.session(), query, l.args)
	if err != nil {
		return 0, wrap(label(l.desc.Type), "paged list", err)
	}
	l.size, l.sized = int(n), true
	return l.size, nil
}

// Get returns the row at index i, loading its page if needed.
func (l *PagedList[T]) Get(ctx context.Context, i int) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var zero T
	size, err := l.len(ctx)
	if err != nil {
		return zero, err
	}
	if i < 0 || i >= size {
		return zero, fmt.Errorf("storm: index %d out of bounds for size %d", i, size)
	}
	page, err := l.page(ctx, i/l.pageSize, size)
	if err != nil {
		return zero, err
	}
	if j := i % l.pageSize; j < len(page) {
		return page[j], nil
	}
	return zero, fmt.Errorf("storm: index %d out of bounds for page of %d rows", i, len(page))
}

// Page returns the rows of page n, counted from zero.
func (l *PagedList[T]) Page(ctx context.Context, n int) ([]T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	size, err := l.len(ctx)
	if err != nil {
		return nil, err
	}
	if n < 0 || n*l.pageSize >= size {
		return nil, nil
	}
	return l.page(ctx, n, size)
}

// All iterates over the rows of the list, page by page.
func (l *PagedList[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for n := 0; ; n++ {
			page, err := l.Page(ctx, n)
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if len(page) == 0 {
				return
			}
			for _, v := range page {
				if !yield(v, nil) {
					return
				}
			}
		}
	}
}

func (l *PagedList[T]) page(ctx context.Context, n, size int) ([]T, error) {
	if page, ok := l.pages[n]; ok {
		return page, nil
	}
	d, err := l.client.Dialect(ctx)
	if err != nil {
		return nil, err
	}
	low := n * l.pageSize
	query := d.Paginate(dialect.Page{
		Distinct: l.distinct,
		Table:    l.desc.Table,
		Where:    l.where,
		OrderBy:  l.orderBy(d),
		Low:      low,
		High:     min(size, low+l.pageSize),
	})
	page, err := readPage[T](ctx, l.client.session(), query, l.args, d.PageColumn())
	if err != nil {
		return nil, wrap(label(l.desc.Type), "paged list", err)
	}
	l.pages[n] = page
	return page, nil
}

// readPage reads the rows of a page, dropping the column named skip that the
// paginator adds to each row.
func readPage[T any](ctx context.Context, s *session, query string, args []any, skip string) ([]T, error) {
	if skip == "" {
		return read[T](ctx, s, query, args)
	}
	m, err := mapper[T](s.client)
	if err != nil {
		return nil, err
	}
	var out []T
	err = s.perform(ctx, query, args, false, func(st *statement) error {
		return st.scan(ctx, func(cols []string, vals []any) error {
			if i := slices.IndexFunc(cols, func(c string) bool { return strings.EqualFold(c, skip) }); i >= 0 {
				cols = slices.Delete(slices.Clone(cols), i, i+1)
				vals = slices.Delete(slices.Clone(vals), i, i+1)
			}
			v, err := m(cols, vals)
			if err != nil {
				return err
			}
			out = append(out, v)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *PagedList[T]) orderBy(d *dialect.Dialect) string {
	sorting := l.sorting
	if sorting == "" {
		sorting = l.desc.Table + "." + l.id.DBName
	}
	if first, ok := d.OrderByID(l.id.DBName, l.selected); ok {
		return first + ", " + sorting
	}
	return sorting
}

func (l *PagedList[T]) whereClause() string {
	if l.where == "" {
		return ""
	}
	return " WHERE " + l.where
}
