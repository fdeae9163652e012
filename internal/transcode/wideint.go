package transcode

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/featuresync/internal/core"
)

// KeyColumn is the source column wide-integer rows are indexed by.
const KeyColumn = "id"

const cacheNamespace = "wideint"

// ColumnFetcher reads one column of a source document in a lossless format.
type ColumnFetcher interface {
	FetchColumn(ctx context.Context, uri, keyColumn, column string) (map[string]string, error)
}

type cacheKey struct {
	uri    string
	column string
}

// cacheEntry is the value stored in the shared KV store.
type cacheEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	URI       string            `json:"uri"`
	Values    map[string]string `json:"values"`
}

// WideIntCache holds the exact string form of wide-integer columns keyed by
// source URI and column. Lookups read memory first, then the optional KV
// store, then fall back to the side document.
type WideIntCache struct {
	fetcher ColumnFetcher
	kvStore core.KVStore
	ttl     time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	entries map[cacheKey]map[string]string
}

// NewWideIntCache creates a cache. kvStore may be nil.
func NewWideIntCache(fetcher ColumnFetcher, kvStore core.KVStore, ttl time.Duration, logger *zap.Logger) *WideIntCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WideIntCache{
		fetcher: fetcher,
		kvStore: kvStore,
		ttl:     ttl,
		logger:  logger.Named("wideint"),
		entries: make(map[cacheKey]map[string]string),
	}
}

// BuildKey returns the shared-store key for a source URI and column:
// wideint:{sha256(uri)[:16]}:{column}.
func BuildKey(uri, column string) string {
	sum := sha256.Sum256([]byte(uri))
	return fmt.Sprintf("%s:%s:%s", cacheNamespace, hex.EncodeToString(sum[:8]), column)
}

// Lookup returns the exact value of column for the row whose id is rowID.
func (c *WideIntCache) Lookup(ctx context.Context, uri, column, rowID string) (string, bool, error) {
	values, err := c.load(ctx, uri, column)
	if err != nil {
		return "", false, err
	}
	v, ok := values[rowID]
	return v, ok, nil
}

// Forget drops the in-memory entries of a source URI.
func (c *WideIntCache) Forget(uri string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.uri == uri {
			delete(c.entries, k)
		}
	}
}

func (c *WideIntCache) load(ctx context.Context, uri, column string) (map[string]string, error) {
	key := cacheKey{uri: uri, column: column}

	c.mu.Lock()
	defer c.mu.Unlock()
	if values, ok := c.entries[key]; ok {
		return values, nil
	}

	if values, ok := c.readShared(ctx, uri, column); ok {
		c.entries[key] = values
		return values, nil
	}

	if c.fetcher == nil {
		return nil, errors.New("wide integer lookup requires a column fetcher")
	}
	values, err := c.fetcher.FetchColumn(ctx, uri, KeyColumn, column)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s side document: %w", column, err)
	}
	c.entries[key] = values
	c.writeShared(ctx, uri, column, values)
	return values, nil
}

func (c *WideIntCache) readShared(ctx context.Context, uri, column string) (map[string]string, bool) {
	if c.kvStore == nil {
		return nil, false
	}
	raw, err := c.kvStore.Get(ctx, BuildKey(uri, column))
	if err != nil {
		if !errors.Is(err, core.ErrKeyNotFound) {
			c.logger.Warn("shared cache read failed", zap.String("column", column), zap.Error(err))
		}
		return nil, false
	}
	var entry cacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil || entry.URI != uri {
		c.logger.Warn("discarding unreadable shared cache entry", zap.String("column", column))
		return nil, false
	}
	return entry.Values, true
}

// writeShared populates the KV store; a failure leaves the lookup usable.
func (c *WideIntCache) writeShared(ctx context.Context, uri, column string, values map[string]string) {
	if c.kvStore == nil {
		return
	}
	raw, err := json.Marshal(cacheEntry{Timestamp: time.Now().UTC(), URI: uri, Values: values})
	if err != nil {
		return
	}
	if err := c.kvStore.Set(ctx, BuildKey(uri, column), raw, c.ttl); err != nil {
		c.logger.Warn("failed to populate shared cache", zap.String("column", column), zap.Error(err))
	}
}
