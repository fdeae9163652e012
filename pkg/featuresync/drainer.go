package featuresync

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rzpsarthak13/featuresync/internal/core"
)

// ChangeEvent records one change applied to a destination layer.
type ChangeEvent = core.ChangeEvent

// ChangeFeed is a queue of applied changes.
type ChangeFeed = core.ChangeFeed

// Handler consumes one change event. A returned error is retried up to
// DrainerConfig.MaxRetries times before the event is dropped.
type Handler func(ctx context.Context, event *ChangeEvent) error

// DrainerConfig contains configuration for the drainer.
type DrainerConfig struct {
	// DrainRate is the maximum number of events handled per second.
	DrainRate int

	// BatchSize is how many events to dequeue at once.
	BatchSize int

	// PollInterval is how often to check for new events when the feed is empty.
	PollInterval time.Duration

	// MaxRetries is the maximum number of retries for a failed event.
	MaxRetries int

	// RetryBackoff is the base duration for exponential backoff retries.
	RetryBackoff time.Duration

	// StopWhenEmpty ends the run at the first empty poll.
	StopWhenEmpty bool
}

// DefaultDrainerConfig returns sensible defaults for the drainer.
func DefaultDrainerConfig() DrainerConfig {
	return DrainerConfig{
		DrainRate:    50,
		BatchSize:    1,
		PollInterval: 100 * time.Millisecond,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
	}
}

// DrainerStats counts the events a drainer has seen.
type DrainerStats struct {
	Handled int
	Dropped int
}

// Drainer hands events from a change feed to a handler at a bounded rate.
type Drainer struct {
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	stats   DrainerStats

	feed    ChangeFeed
	handler Handler
	config  DrainerConfig
	logger  *zap.Logger
}

// NewDrainer creates a drainer. Zero config fields take their defaults.
func NewDrainer(feed ChangeFeed, handler Handler, config DrainerConfig, logger *zap.Logger) *Drainer {
	defaults := DefaultDrainerConfig()
	if config.DrainRate <= 0 {
		config.DrainRate = defaults.DrainRate
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = defaults.RetryBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Drainer{
		feed:    feed,
		handler: handler,
		config:  config,
		logger:  logger.Named("drainer"),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the drainer goroutine. Call Stop to shut it down.
func (d *Drainer) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	d.mu.Unlock()

	go func() {
		defer close(d.doneCh)
		d.run(ctx)
	}()
	d.logger.Info("drainer started", zap.Int("drain_rate", d.config.DrainRate))
	return nil
}

// Stop waits for the event in progress to complete.
func (d *Drainer) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	close(d.stopCh)
	<-d.doneCh
	d.logger.Info("drainer stopped", zap.Int("handled", d.Stats().Handled))
	return nil
}

// Run drains in the calling goroutine until ctx ends or, with StopWhenEmpty,
// the feed is empty.
func (d *Drainer) Run(ctx context.Context) DrainerStats {
	d.run(ctx)
	return d.Stats()
}

// IsRunning returns whether the drainer goroutine is running.
func (d *Drainer) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// Stats returns the counts so far.
func (d *Drainer) Stats() DrainerStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stats
}

// QueueSize returns the current size of the feed.
func (d *Drainer) QueueSize() int {
	if d.feed == nil {
		return 0
	}
	return d.feed.Size()
}

func (d *Drainer) run(ctx context.Context) {
	limiter := rate.NewLimiter(rate.Limit(d.config.DrainRate), 1)
	start := time.Now()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		events, err := d.feed.Dequeue(ctx, d.config.BatchSize)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			d.logger.Warn("dequeue failed", zap.Error(err))
			if !d.sleep(ctx, d.config.PollInterval) {
				return
			}
			continue
		}

		if len(events) == 0 {
			if d.config.StopWhenEmpty {
				d.logger.Debug("feed empty", zap.Int("handled", d.Stats().Handled), zap.Duration("elapsed", time.Since(start)))
				return
			}
			if !d.sleep(ctx, d.config.PollInterval) {
				return
			}
			continue
		}

		for _, event := range events {
			if event == nil {
				continue
			}
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			d.handle(ctx, event)
		}
	}
}

func (d *Drainer) handle(ctx context.Context, event *ChangeEvent) {
	backoff := d.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := d.handler(ctx, event)
		if err == nil {
			d.mu.Lock()
			d.stats.Handled++
			d.mu.Unlock()
			return
		}
		if attempt >= d.config.MaxRetries || ctx.Err() != nil {
			d.logger.Error("dropping change event",
				zap.String("layer", event.Layer),
				zap.String("change", string(event.Change)),
				zap.String("key", event.Key),
				zap.Int("attempts", attempt+1),
				zap.Error(err),
			)
			d.mu.Lock()
			d.stats.Dropped++
			d.mu.Unlock()
			return
		}
		d.logger.Debug("retrying change event", zap.String("key", event.Key), zap.Duration("backoff", backoff), zap.Error(err))
		if !d.sleep(ctx, backoff) {
			return
		}
		backoff *= 2
	}
}

// sleep waits for dur and reports false when stopped first.
func (d *Drainer) sleep(ctx context.Context, dur time.Duration) bool {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-d.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}
