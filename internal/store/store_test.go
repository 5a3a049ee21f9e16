package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"docgate/api/internal/query"
)

func engines(t *testing.T) map[string]Engine {
	t.Helper()
	badgerEngine, err := NewBadgerEngine("")
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	sqliteEngine, err := NewSqliteEngine(filepath.Join(t.TempDir(), "docs.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		badgerEngine.Close()
		sqliteEngine.Close()
	})
	return map[string]Engine{
		"memory": NewMemoryEngine(),
		"badger": badgerEngine,
		"sqlite": sqliteEngine,
	}
}

func seed(t *testing.T, s *Store, docs ...Document) {
	t.Helper()
	for _, doc := range docs {
		if err := s.Insert(context.Background(), "Blog", "Posts", doc); err != nil {
			t.Fatalf("insert %v: %v", doc[IDField], err)
		}
	}
}

func TestStoreContract(t *testing.T) {
	for name, engine := range engines(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := New(engine)
			seed(t, s,
				Document{"_id": "a", "title": "alpha", "rank": 3.0},
				Document{"_id": "b", "title": "beta", "rank": 1.0},
				Document{"_id": "c", "title": "gamma", "rank": 2.0},
			)

			if err := s.Insert(ctx, "Blog", "Posts", Document{"_id": "a"}); !errors.Is(err, ErrDuplicate) {
				t.Fatalf("expected ErrDuplicate, got %v", err)
			}

			doc, err := s.Get(ctx, "Blog", "Posts", "b")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if doc["title"] != "beta" {
				t.Fatalf("unexpected doc: %v", doc)
			}

			docs, total, err := s.Find(ctx, "Blog", "Posts", FindOptions{
				Sort:  []query.SortField{{Field: "rank"}},
				Limit: 2,
			})
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if total != 3 || len(docs) != 2 || docs[0]["_id"] != "b" || docs[1]["_id"] != "c" {
				t.Fatalf("unexpected page total=%d docs=%v", total, docs)
			}

			filter, err := query.Translate(query.Query{"title": "*a"})
			if err != nil {
				t.Fatalf("translate: %v", err)
			}
			docs, total, err = s.Find(ctx, "Blog", "Posts", FindOptions{Filter: filter, Limit: -1})
			if err != nil {
				t.Fatalf("find filtered: %v", err)
			}
			if total != 3 || docs[0]["_id"] != "a" {
				t.Fatalf("expected id order for unsorted find, got %v", docs)
			}

			if err := s.Replace(ctx, "Blog", "Posts", "b", Document{"title": "bravo"}); err != nil {
				t.Fatalf("replace: %v", err)
			}
			doc, _ = s.Get(ctx, "Blog", "Posts", "b")
			if doc["title"] != "bravo" || doc["_id"] != "b" {
				t.Fatalf("replace not applied: %v", doc)
			}
			if err := s.Replace(ctx, "Blog", "Posts", "zz", Document{}); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound on replace, got %v", err)
			}

			if err := s.Delete(ctx, "Blog", "Posts", "c"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if err := s.Delete(ctx, "Blog", "Posts", "c"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound on second delete, got %v", err)
			}
			if _, err := s.Get(ctx, "Blog", "Posts", "c"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound on get, got %v", err)
			}

			if err := s.Insert(ctx, "Blog", "Authors", Document{"_id": "x"}); err != nil {
				t.Fatalf("insert author: %v", err)
			}
			if err := s.Insert(ctx, "Shop", "Orders", Document{"_id": "y"}); err != nil {
				t.Fatalf("insert order: %v", err)
			}
			names, err := s.ListCollections(ctx, "Blog")
			if err != nil {
				t.Fatalf("list collections: %v", err)
			}
			if len(names) != 2 || names[0] != "Authors" || names[1] != "Posts" {
				t.Fatalf("unexpected collections: %v", names)
			}

			if err := s.DropCollection(ctx, "Blog", "Posts"); err != nil {
				t.Fatalf("drop: %v", err)
			}
			_, total, _ = s.Find(ctx, "Blog", "Posts", FindOptions{Limit: -1})
			if total != 0 {
				t.Fatalf("expected empty collection after drop, got %d", total)
			}
			if err := s.Ping(ctx); err != nil {
				t.Fatalf("ping: %v", err)
			}
		})
	}
}

func TestInsertRequiresStringID(t *testing.T) {
	s := New(NewMemoryEngine())
	if err := s.Insert(context.Background(), "Blog", "Posts", Document{"_id": 7}); err == nil {
		t.Fatal("expected error for non-string id")
	}
}

func TestFindSkipPastEnd(t *testing.T) {
	s := New(NewMemoryEngine())
	seed(t, s, Document{"_id": "a"}, Document{"_id": "b"})
	docs, total, err := s.Find(context.Background(), "Blog", "Posts", FindOptions{Skip: 5, Limit: 10})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if total != 2 || len(docs) != 0 {
		t.Fatalf("expected empty page with total 2, got %d/%v", total, docs)
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), Options{Backend: "json"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestOpenSqliteBackend(t *testing.T) {
	s, err := Open(context.Background(), Options{Backend: "sqlite", DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
