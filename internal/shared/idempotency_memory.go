package shared

import (
	"context"
	"sync"
)

// MemoryIdempotencyStore is an in-process IdempotencyBackend.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]*StoredResponse
}

// NewMemoryIdempotencyStore constructs an empty store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]*StoredResponse)}
}

func memoryKey(scope, key string) string { return scope + "|" + key }

// Claim implements IdempotencyBackend.
func (m *MemoryIdempotencyStore) Claim(_ context.Context, scope, key string) (*StoredResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp, ok := m.entries[memoryKey(scope, key)]
	if !ok {
		m.entries[memoryKey(scope, key)] = nil
		return nil, nil
	}
	if resp == nil {
		return nil, ErrIdempotencyConflict
	}
	out := *resp
	return &out, nil
}

// Complete implements IdempotencyBackend.
func (m *MemoryIdempotencyStore) Complete(_ context.Context, scope, key string, resp StoredResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[memoryKey(scope, key)] = &resp
	return nil
}

// Release implements IdempotencyBackend.
func (m *MemoryIdempotencyStore) Release(_ context.Context, scope, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, memoryKey(scope, key))
	return nil
}
