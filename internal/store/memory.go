package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory UserStore for tests and ephemeral deployments.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*User
	byKey  map[string]int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID: 1,
		byID:   make(map[int64]*User),
		byKey:  make(map[string]int64),
	}
}

// FindByKey returns the record for an access key, or ErrNotFound.
func (m *MemoryStore) FindByKey(_ context.Context, key string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	u := *m.byID[id]
	return &u, nil
}

// Create persists a new record, assigning the next identity.
func (m *MemoryStore) Create(_ context.Context, u *User) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	stored := *u
	stored.Identity = m.nextID
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.nextID++

	m.byID[stored.Identity] = &stored
	if stored.Key != "" {
		m.byKey[stored.Key] = stored.Identity
	}

	out := stored
	return &out, nil
}

// SetKey persists the derived key onto an existing record. A record that
// already carries a key keeps it.
func (m *MemoryStore) SetKey(_ context.Context, identity int64, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[identity]
	if !ok {
		return ErrNotFound
	}
	if u.Key != "" {
		return nil
	}
	u.Key = key
	u.UpdatedAt = time.Now().UTC()
	m.byKey[key] = identity
	return nil
}

// AddUsage atomically increments the used-token counter.
func (m *MemoryStore) AddUsage(_ context.Context, key string, tokens int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	u := m.byID[id]
	u.TokensUsed += tokens
	u.UpdatedAt = time.Now().UTC()

	out := *u
	return &out, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
