package kvstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rzpsarthak13/featuresync/internal/core"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && now.After(i.expiresAt)
}

// MemoryKVStore implements core.KVStore in process memory.
// It is used for single runs that need no shared cache, and in tests.
type MemoryKVStore struct {
	mu     sync.RWMutex
	items  map[string]memoryItem
	now    func() time.Time
	closed bool
}

// NewMemoryKVStore creates an empty in-memory KV store.
func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

func (m *MemoryKVStore) newItem(value []byte, ttl time.Duration) memoryItem {
	it := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expiresAt = m.now().Add(ttl)
	}
	return it
}

// Get retrieves a value by key from the store.
func (m *MemoryKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	it, ok := m.items[key]
	if !ok || it.expired(m.now()) {
		return nil, fmt.Errorf("%w: %s", core.ErrKeyNotFound, key)
	}
	return append([]byte(nil), it.value...), nil
}

// Set stores a key-value pair with an optional TTL.
func (m *MemoryKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.items[key] = m.newItem(value, ttl)
	return nil
}

// Delete removes a key from the store.
func (m *MemoryKVStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	delete(m.items, key)
	return nil
}

// Exists checks if a key exists in the store.
func (m *MemoryKVStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrStoreClosed
	}
	it, ok := m.items[key]
	return ok && !it.expired(m.now()), nil
}

// BatchSet stores multiple key-value pairs with a shared TTL.
func (m *MemoryKVStore) BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	for key, value := range items {
		m.items[key] = m.newItem(value, ttl)
	}
	return nil
}

// Close marks the store closed and drops its contents.
func (m *MemoryKVStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.items = nil
	return nil
}

// MemoryKVStoreFactory implements the KVStoreFactory interface for the in-memory store.
type MemoryKVStoreFactory struct{}

// Type returns the type identifier for this factory.
func (f *MemoryKVStoreFactory) Type() string {
	return "memory"
}

// Validate validates the memory store configuration.
func (f *MemoryKVStoreFactory) Validate(config KVStoreConfig) error {
	if config.Type != "memory" {
		return fmt.Errorf("invalid type for memory factory: %s", config.Type)
	}
	return nil
}

// Create creates a new in-memory KV store.
func (f *MemoryKVStoreFactory) Create(config KVStoreConfig) (core.KVStore, error) {
	return NewMemoryKVStore(), nil
}

func init() {
	register(&MemoryKVStoreFactory{})
}
