package store

import (
	"context"
	"sync"
)

// MemoryEngine keeps documents in process memory. Intended for tests and
// throwaway servers.
type MemoryEngine struct {
	mu   sync.RWMutex
	data map[string]map[string]map[string][]byte // database -> collection -> id -> json
}

func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{data: make(map[string]map[string]map[string][]byte)}
}

func (m *MemoryEngine) Scan(_ context.Context, database, collection string, fn func(raw []byte) error) error {
	m.mu.RLock()
	docs := make([][]byte, 0, len(m.data[database][collection]))
	for _, raw := range m.data[database][collection] {
		docs = append(docs, raw)
	}
	m.mu.RUnlock()

	for _, raw := range docs {
		if err := fn(raw); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryEngine) Load(_ context.Context, database, collection, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.data[database][collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return raw, nil
}

func (m *MemoryEngine) Save(_ context.Context, database, collection, id string, raw []byte, mode SaveMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.data[database][collection][id]
	switch {
	case mode == SaveInsert && exists:
		return ErrDuplicate
	case mode == SaveReplace && !exists:
		return ErrNotFound
	}

	if m.data[database] == nil {
		m.data[database] = make(map[string]map[string][]byte)
	}
	if m.data[database][collection] == nil {
		m.data[database][collection] = make(map[string][]byte)
	}
	m.data[database][collection][id] = append([]byte(nil), raw...)
	return nil
}

func (m *MemoryEngine) Remove(_ context.Context, database, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[database][collection][id]; !ok {
		return ErrNotFound
	}
	delete(m.data[database][collection], id)
	if len(m.data[database][collection]) == 0 {
		delete(m.data[database], collection)
	}
	return nil
}

func (m *MemoryEngine) Collections(_ context.Context, database string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.data[database]))
	for name := range m.data[database] {
		names = append(names, name)
	}
	return names, nil
}

func (m *MemoryEngine) Drop(_ context.Context, database, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[database], collection)
	return nil
}

func (m *MemoryEngine) Ping(context.Context) error { return nil }

func (m *MemoryEngine) Close() error { return nil }
