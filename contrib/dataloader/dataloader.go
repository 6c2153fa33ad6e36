// Package dataloader provides batch functions loading storm entities, for
// DataLoader implementations such as:
//   - github.com/vikstrous/dataloadgen, which takes ([]V, []error)
//   - github.com/graph-gophers/dataloader/v7, which takes one result per key
//
// ByIDs loads entities with a single primary key:
//
//	func teamBatchFn(ctx context.Context, ids []int64) ([]*Team, []error) {
//	    return dataloader.ByIDs(ctx, client, ids, func(t *Team) int64 { return t.ID })
//	}
//
// DetailsByKey loads the one-to-many side keyed by the foreign key value, and
// DetailsOf keyed by the parent instances:
//
//	func playersBatchFn(ctx context.Context, teamIDs []int64) ([][]*Player, []error) {
//	    return dataloader.DetailsByKey(ctx, client, teamIDs, "TEAM_ID", func(p *Player) int64 { return p.Team.ID })
//	}
//
// Batch adapts either form to loaders expecting one BatchResult per key.
package dataloader

import (
	"context"
	"errors"

	"github.com/syssam/storm"
)

// ErrNotFound is set for the keys without a row in a batch result.
var ErrNotFound = errors.New("dataloader: entity not found")

// KeyFunc extracts a key from an entity.
type KeyFunc[K comparable, V any] func(V) K

// OrderByKeys reorders values to match keys. Keys without a value get the
// zero V and ErrNotFound. Both slices have the length of keys.
func OrderByKeys[K comparable, V any](keys []K, values []V, keyFn KeyFunc[K, V]) ([]V, []error) {
	lookup := make(map[K]V, len(values))
	for _, v := range values {
		lookup[keyFn(v)] = v
	}
	result := make([]V, len(keys))
	errs := make([]error, len(keys))
	for i, key := range keys {
		if v, ok := lookup[key]; ok {
			result[i] = v
		} else {
			errs[i] = ErrNotFound
		}
	}
	return result, errs
}

// GroupByKey groups values by key, keeping their order within each group.
func GroupByKey[K comparable, V any](values []V, keyFn KeyFunc[K, V]) map[K][]V {
	result := make(map[K][]V)
	for _, v := range values {
		key := keyFn(v)
		result[key] = append(result[key], v)
	}
	return result
}

// OrderGroupsByKeys returns the group of every key, in the order of keys.
// Keys without a group get a nil slice.
func OrderGroupsByKeys[K comparable, V any](keys []K, groups map[K][]V) [][]V {
	result := make([][]V, len(keys))
	for i, key := range keys {
		result[i] = groups[key]
	}
	return result
}

// BatchResult is the value or the error loaded for one key.
type BatchResult[V any] struct {
	Value V
	Error error
}

// Results pairs values with errs. Missing errors are nil.
func Results[V any](values []V, errs []error) []BatchResult[V] {
	results := make([]BatchResult[V], len(values))
	for i := range values {
		var err error
		if i < len(errs) {
			err = errs[i]
		}
		results[i] = BatchResult[V]{Value: values[i], Error: err}
	}
	return results
}

// Batch turns a batch function returning separate value and error slices
// into one returning a BatchResult per key.
func Batch[K comparable, V any](fn func(context.Context, []K) ([]V, []error)) func(context.Context, []K) []BatchResult[V] {
	return func(ctx context.Context, keys []K) []BatchResult[V] {
		return Results(fn(ctx, keys))
	}
}

// ByIDs loads the entities with the given primary keys in one query and
// returns them in the order of ids. Keys without a row get ErrNotFound. A
// failed query sets the same error for every key.
func ByIDs[K comparable, T any](ctx context.Context, q storm.Querier, ids []K, keyFn KeyFunc[K, T]) ([]T, []error) {
	values, err := storm.FindByIDs[T](ctx, q, ids)
	if err != nil {
		return make([]T, len(ids)), fill(len(ids), err)
	}
	return OrderByKeys(ids, values, keyFn)
}

// DetailsByKey loads the entities whose column fkColumn holds one of keys,
// in one query, and groups them per key in the order of keys. keyFn returns
// the foreign key value of a loaded entity.
func DetailsByKey[K comparable, D any](ctx context.Context, q storm.Querier, keys []K, fkColumn string, keyFn KeyFunc[K, D]) ([][]D, []error) {
	if len(keys) == 0 {
		return nil, nil
	}
	values, err := storm.FindAll[D](ctx, q, "WHERE "+fkColumn+" IN ?", keys)
	if err != nil {
		return make([][]D, len(keys)), fill(len(keys), err)
	}
	return OrderGroupsByKeys(keys, GroupByKey(values, keyFn)), make([]error, len(keys))
}

// DetailsOf loads the details of all parents in one query. The result holds
// one slice per parent, in the order of parents, and each detail references
// its parent instance. fkField names the foreign key field of D when D has
// more than one field typed as P.
func DetailsOf[D, P any](ctx context.Context, q storm.Querier, parents []P, fkField ...string) ([][]D, []error) {
	groups, err := storm.DetailsMany[D](ctx, q, parents, fkField...)
	if err != nil {
		return make([][]D, len(parents)), fill(len(parents), err)
	}
	return groups, make([]error, len(parents))
}

func fill(n int, err error) []error {
	errs := make([]error, n)
	for i := range errs {
		errs[i] = err
	}
	return errs
}
