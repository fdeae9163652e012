package changefeed

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/featuresync/internal/core"
)

// ListOperations are the list commands a KV store must offer to back a RedisFeed.
type ListOperations interface {
	// ListPush appends a value to a list (RPUSH).
	ListPush(ctx context.Context, key string, value []byte) error

	// ListPop removes and returns the first element, nil when empty (LPOP).
	ListPop(ctx context.Context, key string) ([]byte, error)

	// ListLength returns the length of a list (LLEN).
	ListLength(ctx context.Context, key string) (int64, error)
}

// RedisFeed keeps events in Redis lists: one shared list read by Dequeue and
// one list per layer for consumers that follow a single layer.
type RedisFeed struct {
	ops    ListOperations
	prefix string
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewRedisFeed creates a feed under prefix. kv must implement ListOperations.
func NewRedisFeed(kv core.KVStore, prefix string, logger *zap.Logger) (*RedisFeed, error) {
	ops, ok := kv.(ListOperations)
	if !ok {
		return nil, fmt.Errorf("kv store %T does not support list operations", kv)
	}
	if prefix == "" {
		prefix = "featuresync:changes"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisFeed{ops: ops, prefix: prefix, logger: logger.Named("changefeed")}, nil
}

func (f *RedisFeed) layerKey(layer string) string {
	return fmt.Sprintf("%s:%s", f.prefix, layer)
}

func (f *RedisFeed) globalKey() string {
	return fmt.Sprintf("%s:global", f.prefix)
}

func (f *RedisFeed) isClosed() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.closed
}

// Enqueue pushes the event to the layer list, then to the shared list.
func (f *RedisFeed) Enqueue(ctx context.Context, event *core.ChangeEvent) error {
	if f.isClosed() {
		return ErrFeedClosed
	}
	if err := prepare(event); err != nil {
		return err
	}
	data, err := encode(event)
	if err != nil {
		return err
	}
	if err := f.ops.ListPush(ctx, f.layerKey(event.Layer), data); err != nil {
		return fmt.Errorf("failed to publish change to layer list: %w", err)
	}
	if err := f.ops.ListPush(ctx, f.globalKey(), data); err != nil {
		return fmt.Errorf("failed to publish change to shared list: %w", err)
	}
	return nil
}

// Dequeue pops up to batchSize events from the shared list.
func (f *RedisFeed) Dequeue(ctx context.Context, batchSize int) ([]*core.ChangeEvent, error) {
	return f.pop(ctx, f.globalKey(), batchSize)
}

// DequeueLayer pops up to batchSize events from one layer's list.
func (f *RedisFeed) DequeueLayer(ctx context.Context, layer string, batchSize int) ([]*core.ChangeEvent, error) {
	return f.pop(ctx, f.layerKey(layer), batchSize)
}

func (f *RedisFeed) pop(ctx context.Context, key string, batchSize int) ([]*core.ChangeEvent, error) {
	if f.isClosed() {
		return nil, ErrFeedClosed
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	events := make([]*core.ChangeEvent, 0, batchSize)
	for len(events) < batchSize {
		data, err := f.ops.ListPop(ctx, key)
		if err != nil {
			return events, fmt.Errorf("failed to read change feed: %w", err)
		}
		if data == nil {
			break
		}
		event, err := decode(data)
		if err != nil {
			f.logger.Warn("skipping undecodable change event", zap.String("key", key), zap.Error(err))
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// Size returns the length of the shared list, 0 when it cannot be read.
func (f *RedisFeed) Size() int {
	if f.isClosed() {
		return 0
	}
	n, err := f.ops.ListLength(context.Background(), f.globalKey())
	if err != nil {
		f.logger.Debug("failed to read change feed length", zap.Error(err))
		return 0
	}
	return int(n)
}

// Close stops the feed. The underlying KV store is owned by the caller.
func (f *RedisFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
