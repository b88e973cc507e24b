package storage

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store. It backs single-node deployments and
// tests; it provides the same transactional Update semantics as the durable
// backends via a per-store mutex.
type MemoryStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	blob, ok := m.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(blob))
	copy(cp, blob)
	return cp, nil
}

func (m *MemoryStore) Save(_ context.Context, key string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(blob))
	copy(cp, blob)
	m.blobs[key] = cp
	return nil
}

func (m *MemoryStore) Update(_ context.Context, key string, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, write, err := fn(m.blobs[key])
	if err != nil {
		return err
	}
	if !write {
		return nil
	}
	cp := make([]byte, len(next))
	copy(cp, next)
	m.blobs[key] = cp
	return nil
}

func (m *MemoryStore) Close() error { return nil }
