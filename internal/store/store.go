// Package store holds JSON documents grouped by database and collection.
// Engines only persist raw documents; filtering, sorting and paging are done
// here so every backend answers queries the same way.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"docgate/api/internal/query"
)

var (
	ErrNotFound  = errors.New("document not found")
	ErrDuplicate = errors.New("duplicate document id")
)

// IDField is the identity key of every document.
const IDField = "_id"

// Document is one decoded JSON object.
type Document = map[string]any

// SaveMode selects insert or replace semantics for Engine.Save.
type SaveMode int

const (
	SaveInsert SaveMode = iota
	SaveReplace
)

// Engine is the persistence contract a backend implements.
type Engine interface {
	// Scan calls fn with the JSON of every document in a collection.
	Scan(ctx context.Context, database, collection string, fn func(raw []byte) error) error
	Load(ctx context.Context, database, collection, id string) ([]byte, error)
	// Save writes a document. SaveInsert fails with ErrDuplicate when the id
	// exists, SaveReplace with ErrNotFound when it does not.
	Save(ctx context.Context, database, collection, id string, raw []byte, mode SaveMode) error
	Remove(ctx context.Context, database, collection, id string) error
	Collections(ctx context.Context, database string) ([]string, error)
	Drop(ctx context.Context, database, collection string) error
	Ping(ctx context.Context) error
	Close() error
}

// FindOptions select and order documents. Limit < 0 means no limit.
type FindOptions struct {
	Filter query.Filter
	Sort   []query.SortField
	Skip   int
	Limit  int
}

type Store struct {
	engine Engine
}

func New(engine Engine) *Store {
	return &Store{engine: engine}
}

// Find returns the page of matching documents and the total match count.
func (s *Store) Find(ctx context.Context, database, collection string, opts FindOptions) ([]Document, int, error) {
	var matches []query.Sortable
	err := s.engine.Scan(ctx, database, collection, func(raw []byte) error {
		if !query.Match(raw, opts.Filter) {
			return nil
		}
		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("decode document: %w", err)
		}
		matches = append(matches, query.Sortable{Raw: raw, Doc: doc})
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	if len(opts.Sort) > 0 {
		query.SortDocuments(matches, opts.Sort)
	} else {
		// engines scan in no particular order; keep results stable by id
		sort.SliceStable(matches, func(i, j int) bool {
			a, _ := matches[i].Doc[IDField].(string)
			b, _ := matches[j].Doc[IDField].(string)
			return a < b
		})
	}

	total := len(matches)
	start := min(max(opts.Skip, 0), total)
	end := total
	if opts.Limit >= 0 {
		end = min(start+opts.Limit, total)
	}

	docs := make([]Document, 0, end-start)
	for _, entry := range matches[start:end] {
		docs = append(docs, entry.Doc)
	}
	return docs, total, nil
}

func (s *Store) Get(ctx context.Context, database, collection, id string) (Document, error) {
	raw, err := s.engine.Load(ctx, database, collection, id)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

// Insert stores a new document. The document must carry a string _id.
func (s *Store) Insert(ctx context.Context, database, collection string, doc Document) error {
	id, raw, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	return s.engine.Save(ctx, database, collection, id, raw, SaveInsert)
}

// Replace overwrites an existing document; _id is forced to id.
func (s *Store) Replace(ctx context.Context, database, collection, id string, doc Document) error {
	doc[IDField] = id
	_, raw, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	return s.engine.Save(ctx, database, collection, id, raw, SaveReplace)
}

func (s *Store) Delete(ctx context.Context, database, collection, id string) error {
	return s.engine.Remove(ctx, database, collection, id)
}

func (s *Store) ListCollections(ctx context.Context, database string) ([]string, error) {
	names, err := s.engine.Collections(ctx, database)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) DropCollection(ctx context.Context, database, collection string) error {
	return s.engine.Drop(ctx, database, collection)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.engine.Ping(ctx)
}

func (s *Store) Close() error {
	return s.engine.Close()
}

func encodeDocument(doc Document) (string, []byte, error) {
	id, ok := doc[IDField].(string)
	if !ok || id == "" {
		return "", nil, fmt.Errorf("document needs a string %s", IDField)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", nil, fmt.Errorf("encode document: %w", err)
	}
	return id, raw, nil
}
