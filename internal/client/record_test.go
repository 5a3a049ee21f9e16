package client

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"docgate/api/internal/query"
)

// memoryStore is a BaseStore over a slice, matching queries by equality of
// top-level fields.
type memoryStore struct {
	items      []Item
	created    []Item
	changed    []Item
	deleted    []Item
	persists   int
	nextID     int
	persistErr error
}

func (m *memoryStore) FetchMany(_ context.Context, q any) ([]Item, error) {
	fields, err := queryFields(q)
	if err != nil {
		return nil, err
	}
	if id, ok := q.(string); ok {
		fields = map[string]any{IDField: id}
	}
	var out []Item
	for _, item := range m.items {
		match := true
		for key, want := range fields {
			if !reflect.DeepEqual(item[key], want) {
				match = false
				break
			}
		}
		if match {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *memoryStore) Create(fields map[string]any) Item {
	item := Item{}
	item.Set(fields)
	m.created = append(m.created, item)
	return item
}

func (m *memoryStore) BeginChange(item Item) { m.changed = append(m.changed, item) }

func (m *memoryStore) MarkDeleted(item Item) { m.deleted = append(m.deleted, item) }

func (m *memoryStore) Persist(context.Context) error {
	m.persists++
	if m.persistErr != nil {
		return m.persistErr
	}
	for _, item := range m.created {
		m.nextID++
		item[IDField] = fmt.Sprintf("id-%d", m.nextID)
		m.items = append(m.items, item)
	}
	for _, gone := range m.deleted {
		for i, item := range m.items {
			if item.ID() == gone.ID() {
				m.items = append(m.items[:i], m.items[i+1:]...)
				break
			}
		}
	}
	m.created, m.changed, m.deleted = nil, nil, nil
	return nil
}

func seeded(items ...Item) *memoryStore {
	m := &memoryStore{}
	for i, item := range items {
		item[IDField] = fmt.Sprintf("seed-%d", i)
		m.items = append(m.items, item)
	}
	return m
}

func TestFetchOneCounts(t *testing.T) {
	store := seeded(Item{"key": "a"}, Item{"key": "b"}, Item{"key": "b"})
	ctx := context.Background()

	item, err := FetchOne(ctx, store, query.Query{"key": "a"})
	if err != nil || item.ID() != "seed-0" {
		t.Fatalf("expected seed-0, got %v, %v", item, err)
	}

	_, err = FetchOne(ctx, store, query.Query{"key": "z"})
	var count *CountError
	if !errors.As(err, &count) || count.Count != 0 || !errors.Is(err, ErrNotFound) || errors.Is(err, ErrAmbiguous) {
		t.Fatalf("expected not found, got %v", err)
	}

	_, err = FetchOne(ctx, store, query.Query{"key": "b"})
	if !errors.As(err, &count) || count.Count != 2 || !errors.Is(err, ErrAmbiguous) || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ambiguous, got %v", err)
	}
}

func TestUpdateOne(t *testing.T) {
	store := seeded(Item{"key": "a", "v": 1})
	ctx := context.Background()

	item, err := UpdateOne(ctx, store, map[string]any{"key": "a"}, map[string]any{"v": 2}, false)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if item["v"] != 2 || len(store.changed) != 1 || store.persists != 0 {
		t.Fatalf("expected tracked change without persist, got %v changed=%d persists=%d", item, len(store.changed), store.persists)
	}

	if _, err := UpdateOne(ctx, store, map[string]any{"key": "a"}, map[string]any{"v": 3}, true); err != nil {
		t.Fatalf("update: %v", err)
	}
	if store.persists != 1 || store.items[0]["v"] != 3 {
		t.Fatalf("expected persisted update, got %v", store.items)
	}

	if _, err := UpdateOne(ctx, store, map[string]any{"key": "nope"}, map[string]any{"v": 4}, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteOneAmbiguousDeletesNothing(t *testing.T) {
	store := seeded(Item{"key": "x"}, Item{"key": "x"})
	_, err := DeleteOne(context.Background(), store, query.Query{"key": "x"}, true)
	if !errors.Is(err, ErrAmbiguous) {
		t.Fatalf("expected ambiguous, got %v", err)
	}
	if len(store.items) != 2 || len(store.deleted) != 0 || store.persists != 0 {
		t.Fatalf("nothing should be deleted, items=%d deleted=%d", len(store.items), len(store.deleted))
	}
}

func TestDeleteOne(t *testing.T) {
	store := seeded(Item{"key": "x"}, Item{"key": "y"})
	item, err := DeleteOne(context.Background(), store, query.Query{"key": "x"}, true)
	if err != nil || item.ID() != "seed-0" {
		t.Fatalf("delete: %v %v", item, err)
	}
	if len(store.items) != 1 || store.items[0]["key"] != "y" {
		t.Fatalf("unexpected items %v", store.items)
	}
}

func TestUpsertOneCreatesThenUpdates(t *testing.T) {
	store := &memoryStore{}
	ctx := context.Background()

	first, err := UpsertOne(ctx, store, query.Query{"key": "x"}, map[string]any{"v": 1}, true)
	if err != nil {
		t.Fatalf("upsert create: %v", err)
	}
	if len(store.items) != 1 || first["key"] != "x" || first["v"] != 1 {
		t.Fatalf("expected one record with key and v, got %v", store.items)
	}

	second, err := UpsertOne(ctx, store, query.Query{"key": "x"}, map[string]any{"v": 2}, true)
	if err != nil {
		t.Fatalf("upsert update: %v", err)
	}
	if len(store.items) != 1 || second.ID() != first.ID() || store.items[0]["v"] != 2 {
		t.Fatalf("expected the same record updated, got %v", store.items)
	}
}

func TestUpsertOneFieldsOverrideQuery(t *testing.T) {
	store := &memoryStore{}
	q := query.Query{"key": "x", "v": 0}
	item, err := UpsertOne(context.Background(), store, q, map[string]any{"v": 5}, false)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if item["v"] != 5 || item["key"] != "x" {
		t.Fatalf("unexpected item %v", item)
	}
	if q["v"] != 0 {
		t.Fatal("query must not be modified")
	}
	if len(store.created) != 1 || store.persists != 0 {
		t.Fatalf("expected a pending create, got created=%d persists=%d", len(store.created), store.persists)
	}
}

func TestUpsertOneAmbiguousFails(t *testing.T) {
	store := seeded(Item{"key": "x"}, Item{"key": "x"})
	_, err := UpsertOne(context.Background(), store, query.Query{"key": "x"}, map[string]any{"v": 1}, true)
	if !errors.Is(err, ErrAmbiguous) {
		t.Fatalf("expected ambiguous, got %v", err)
	}
	if len(store.created) != 0 || len(store.changed) != 0 {
		t.Fatal("ambiguous upsert must not touch the store")
	}
}

func TestPersistErrorPropagates(t *testing.T) {
	boom := &PersistError{Op: "update", ID: "seed-0", Status: 422, Message: "invalid document"}
	store := seeded(Item{"key": "x"})
	store.persistErr = boom

	for name, run := range map[string]func() error{
		"update": func() error {
			_, err := UpdateOne(context.Background(), store, query.Query{"key": "x"}, map[string]any{"v": 1}, true)
			return err
		},
		"delete": func() error {
			_, err := DeleteOne(context.Background(), store, query.Query{"key": "x"}, true)
			return err
		},
		"upsert": func() error {
			_, err := UpsertOne(context.Background(), store, query.Query{"key": "new"}, nil, true)
			return err
		},
	} {
		err := run()
		var persistErr *PersistError
		if !errors.As(err, &persistErr) || persistErr != boom {
			t.Fatalf("%s: expected the persist error unchanged, got %v", name, err)
		}
	}
}

type titleFilter map[string]string

func TestSingleRecordOpsNormaliseLooseQueries(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		q    any
	}{
		{name: "string map", q: map[string]string{"key": "x"}},
		{name: "named map", q: titleFilter{"key": "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := seeded(Item{"key": "keep"})
			if _, err := DeleteOne(ctx, store, tc.q, true); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected not found, got %v", err)
			}
			if len(store.items) != 1 {
				t.Fatalf("unrelated record deleted, items=%v", store.items)
			}

			created, err := UpsertOne(ctx, store, tc.q, map[string]any{"v": 1}, true)
			if err != nil {
				t.Fatalf("upsert: %v", err)
			}
			if created["key"] != "x" || created["v"] != 1 || len(store.items) != 2 {
				t.Fatalf("expected a new record carrying the query fields, got %v", store.items)
			}
			if store.items[0]["key"] != "keep" {
				t.Fatalf("unrelated record overwritten: %v", store.items[0])
			}

			item, err := FetchOne(ctx, store, tc.q)
			if err != nil || item.ID() != created.ID() {
				t.Fatalf("expected %s, got %v %v", created.ID(), item, err)
			}
		})
	}
}

func TestSingleRecordOpsRejectUnusableQueries(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		q    any
	}{
		{name: "empty id", q: ""},
		{name: "struct", q: struct{ Key string }{Key: "keep"}},
		{name: "number", q: 7},
		{name: "slice", q: []string{"keep"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := seeded(Item{"key": "keep"})
			if _, err := FetchOne(ctx, store, tc.q); !errors.Is(err, query.ErrBadQuery) {
				t.Fatalf("FetchOne: expected ErrBadQuery, got %v", err)
			}
			if _, err := DeleteOne(ctx, store, tc.q, true); !errors.Is(err, query.ErrBadQuery) {
				t.Fatalf("DeleteOne: expected ErrBadQuery, got %v", err)
			}
			if _, err := UpdateOne(ctx, store, tc.q, map[string]any{"v": 1}, true); !errors.Is(err, query.ErrBadQuery) {
				t.Fatalf("UpdateOne: expected ErrBadQuery, got %v", err)
			}
			if _, err := UpsertOne(ctx, store, tc.q, map[string]any{"v": 1}, true); !errors.Is(err, query.ErrBadQuery) {
				t.Fatalf("UpsertOne: expected ErrBadQuery, got %v", err)
			}
			if len(store.items) != 1 || store.items[0]["v"] != nil || store.persists != 0 {
				t.Fatalf("store touched: items=%v persists=%d", store.items, store.persists)
			}
		})
	}
}

func TestFetchOneByID(t *testing.T) {
	store := seeded(Item{"key": "a"}, Item{"key": "b"})
	item, err := FetchOne(context.Background(), store, "seed-1")
	if err != nil || item["key"] != "b" {
		t.Fatalf("expected seed-1, got %v %v", item, err)
	}
}
