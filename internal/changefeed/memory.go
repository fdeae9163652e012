package changefeed

import (
	"context"
	"sync"

	"github.com/rzpsarthak13/featuresync/internal/core"
)

// MemoryFeed is a bounded in-process change feed.
type MemoryFeed struct {
	queue  chan *core.ChangeEvent
	mu     sync.RWMutex
	closed bool
}

// NewMemoryFeed creates a feed holding at most bufferSize events.
func NewMemoryFeed(bufferSize int) *MemoryFeed {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &MemoryFeed{queue: make(chan *core.ChangeEvent, bufferSize)}
}

// Enqueue publishes an event. It never blocks; a full feed returns ErrFeedFull.
func (f *MemoryFeed) Enqueue(ctx context.Context, event *core.ChangeEvent) error {
	if err := prepare(event); err != nil {
		return err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrFeedClosed
	}

	select {
	case f.queue <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrFeedFull
	}
}

// Dequeue returns up to batchSize events without waiting for more.
func (f *MemoryFeed) Dequeue(ctx context.Context, batchSize int) ([]*core.ChangeEvent, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	events := make([]*core.ChangeEvent, 0, batchSize)
	for len(events) < batchSize {
		select {
		case event, ok := <-f.queue:
			if !ok {
				return events, nil
			}
			events = append(events, event)
		case <-ctx.Done():
			return events, ctx.Err()
		default:
			return events, nil
		}
	}
	return events, nil
}

// Size returns the number of buffered events.
func (f *MemoryFeed) Size() int {
	return len(f.queue)
}

// Close stops publishing. Buffered events can still be dequeued.
func (f *MemoryFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.queue)
	return nil
}
