package client

import (
	"context"
	"errors"
	"maps"

	"docgate/api/internal/query"
)

// BaseStore is the set of primitives the single-record operations are built
// from. *Session implements it.
type BaseStore interface {
	FetchMany(ctx context.Context, q any) ([]Item, error)
	Create(fields map[string]any) Item
	BeginChange(item Item)
	MarkDeleted(item Item)
	Persist(ctx context.Context) error
}

var _ BaseStore = (*Session)(nil)

// FetchOne returns the only record matching q. Zero or several matches give
// a *CountError that matches ErrNotFound or ErrAmbiguous. A query that is
// neither a record id nor an object fails before the store is asked.
func FetchOne(ctx context.Context, store BaseStore, q any) (Item, error) {
	if _, err := queryFields(q); err != nil {
		return nil, err
	}
	items, err := store.FetchMany(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(items) != 1 {
		return nil, &CountError{Count: len(items)}
	}
	return items[0], nil
}

// UpdateOne assigns fields onto the only record matching q and persists it
// when persist is set.
func UpdateOne(ctx context.Context, store BaseStore, q any, fields map[string]any, persist bool) (Item, error) {
	item, err := FetchOne(ctx, store, q)
	if err != nil {
		return nil, err
	}
	return update(ctx, store, item, fields, persist)
}

// DeleteOne deletes the only record matching q. Nothing is deleted when the
// query is ambiguous.
func DeleteOne(ctx context.Context, store BaseStore, q any, persist bool) (Item, error) {
	item, err := FetchOne(ctx, store, q)
	if err != nil {
		return nil, err
	}
	store.MarkDeleted(item)
	if persist {
		if err := store.Persist(ctx); err != nil {
			return nil, err
		}
	}
	return item, nil
}

// UpsertOne updates the only record matching q, or creates one from the
// fields of q overlaid with fields when nothing matches. Ambiguous matches
// fail.
func UpsertOne(ctx context.Context, store BaseStore, q any, fields map[string]any, persist bool) (Item, error) {
	item, err := FetchOne(ctx, store, q)
	if err == nil {
		return update(ctx, store, item, fields, persist)
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	initial, err := queryFields(q)
	if err != nil {
		return nil, err
	}
	maps.Copy(initial, fields)
	item = store.Create(initial)
	if persist {
		if err := store.Persist(ctx); err != nil {
			return nil, err
		}
	}
	return item, nil
}

func update(ctx context.Context, store BaseStore, item Item, fields map[string]any, persist bool) (Item, error) {
	store.BeginChange(item)
	item.Set(fields)
	if persist {
		if err := store.Persist(ctx); err != nil {
			return nil, err
		}
	}
	return item, nil
}

// queryFields returns the fields a new record inherits from q. A record id
// contributes none.
func queryFields(q any) (map[string]any, error) {
	if id, ok := q.(string); ok {
		if id == "" {
			return nil, query.ErrEmptyID
		}
		return map[string]any{}, nil
	}
	return query.Fields(q)
}
