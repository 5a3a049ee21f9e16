package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// BadgerEngine stores documents in an embedded BadgerDB under keys of the
// form "doc\x00<database>\x00<collection>\x00<id>".
type BadgerEngine struct {
	db *badger.DB
}

// NewBadgerEngine opens a Badger directory. An empty path opens an
// in-memory instance.
func NewBadgerEngine(path string) (*BadgerEngine, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	opts.NumVersionsToKeep = 1
	opts.ValueThreshold = 1024
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &BadgerEngine{db: db}, nil
}

func collectionPrefix(database, collection string) []byte {
	return []byte("doc\x00" + database + "\x00" + collection + "\x00")
}

func documentKey(database, collection, id string) []byte {
	return append(collectionPrefix(database, collection), id...)
}

func (b *BadgerEngine) Scan(ctx context.Context, database, collection string, fn func(raw []byte) error) error {
	prefix := collectionPrefix(database, collection)
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(raw); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerEngine) Load(_ context.Context, database, collection, id string) ([]byte, error) {
	var raw []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(documentKey(database, collection, id))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return raw, err
}

func (b *BadgerEngine) Save(_ context.Context, database, collection, id string, raw []byte, mode SaveMode) error {
	key := documentKey(database, collection, id)
	return b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		exists := err == nil
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		switch {
		case mode == SaveInsert && exists:
			return ErrDuplicate
		case mode == SaveReplace && !exists:
			return ErrNotFound
		}
		return txn.Set(key, raw)
	})
}

func (b *BadgerEngine) Remove(_ context.Context, database, collection, id string) error {
	key := documentKey(database, collection, id)
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Delete(key)
	})
}

func (b *BadgerEngine) Collections(_ context.Context, database string) ([]string, error) {
	prefix := []byte("doc\x00" + database + "\x00")
	seen := make(map[string]struct{})
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := bytes.TrimPrefix(it.Item().Key(), prefix)
			if i := bytes.IndexByte(rest, 0); i > 0 {
				seen[string(rest[:i])] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	return names, nil
}

func (b *BadgerEngine) Drop(_ context.Context, database, collection string) error {
	return b.db.DropPrefix(collectionPrefix(database, collection))
}

func (b *BadgerEngine) Ping(context.Context) error {
	if b.db.IsClosed() {
		return errors.New("badger is closed")
	}
	return nil
}

func (b *BadgerEngine) Close() error {
	return b.db.Close()
}
