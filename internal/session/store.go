// Package session keeps track of logged-in users behind the signed "user"
// cookie, so a logout or an expired session invalidates the cookie.
package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("session not found or expired")

// Data holds what is stored for each login session.
type Data struct {
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is implemented by RedisStore and MemoryStore.
type Store interface {
	Save(ctx context.Context, sid string, data Data, expiresAt time.Time) error
	Lookup(ctx context.Context, sid string) (Data, error)
	Revoke(ctx context.Context, sid string) error
	Ping(ctx context.Context) error
	Close() error
}

// MemoryStore is used when no Redis URL is configured.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]memoryEntry
	now      func() time.Time
}

type memoryEntry struct {
	data      Data
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryStore) Save(_ context.Context, sid string, data Data, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sid] = memoryEntry{data: data, expiresAt: expiresAt}
	return nil
}

func (m *MemoryStore) Lookup(_ context.Context, sid string) (Data, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[sid]
	if !ok {
		return Data{}, ErrNotFound
	}
	if !m.now().Before(entry.expiresAt) {
		delete(m.sessions, sid)
		return Data{}, ErrNotFound
	}
	return entry.data, nil
}

func (m *MemoryStore) Revoke(_ context.Context, sid string) error {
	m.mu.Lock()
	delete(m.sessions, sid)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
