package core

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by KVStore.Get for missing or expired keys.
var ErrKeyNotFound = errors.New("key not found")

// KVStore defines the interface for key-value store operations.
// It backs the wide-integer lookup cache, the key-value layer configuration
// and the run ledger. Implementations exist for memory, Redis and DynamoDB.
type KVStore interface {
	// Get retrieves a value by key from the store.
	// Returns an error wrapping ErrKeyNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a key-value pair with an optional TTL.
	// If ttl is 0, the key will not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key from the store.
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists in the store.
	Exists(ctx context.Context, key string) (bool, error)

	// BatchSet stores multiple key-value pairs with a shared TTL.
	BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error

	// Close closes the connection to the KV store and releases resources.
	Close() error
}

