package tokenstore

import (
	"context"
	"sync"
)

// MemoryStore is a non-durable Store for tests and ephemeral runs.
type MemoryStore struct {
	mu      sync.RWMutex
	mapping map[key]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{mapping: make(map[key]string)}
}

// GetOrCreate implements Store.
func (m *MemoryStore) GetOrCreate(_ context.Context, namespace, fingerprint string) (string, error) {
	k := key{namespace, fingerprint}

	m.mu.RLock()
	token, ok := m.mapping[k]
	m.mu.RUnlock()
	if ok {
		return token, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if token, ok := m.mapping[k]; ok {
		return token, nil
	}
	token = Mint(namespace, fingerprint)
	m.mapping[k] = token
	return token, nil
}

// Flush implements Store; it is a no-op for the memory backend.
func (m *MemoryStore) Flush(context.Context) error { return nil }

// Close implements Store.
func (m *MemoryStore) Close(context.Context) error { return nil }

// Len implements Store.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.mapping)
}
