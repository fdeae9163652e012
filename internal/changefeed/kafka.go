package changefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/featuresync/internal/core"
	"github.com/rzpsarthak13/featuresync/internal/registry"
)

// defaultReadWait bounds how long Dequeue waits for each message.
const defaultReadWait = 5 * time.Second

// KafkaFeed publishes change events to a Kafka topic keyed by layer name,
// so the changes of one layer stay ordered within a partition.
type KafkaFeed struct {
	writer  *kafka.Writer
	reader  *kafka.Reader
	topic    string
	groupID  string
	readWait time.Duration
	logger   *zap.Logger

	mu     sync.RWMutex
	closed bool
	size   int
}

// NewKafkaFeed creates a producer and a consumer group reader for the topic.
func NewKafkaFeed(cfg registry.InternalKafkaConfig, logger *zap.Logger) (*KafkaFeed, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "featuresync-changes"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadWait
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		BatchBytes:   int64(cfg.MaxMessageBytes),
		MaxAttempts:  3,
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
		StartOffset: kafka.FirstOffset,
	})

	logger = logger.Named("changefeed")
	logger.Info("kafka change feed ready",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.String("group_id", cfg.GroupID),
	)
	return &KafkaFeed{
		writer:   writer,
		reader:   reader,
		topic:    cfg.Topic,
		groupID:  cfg.GroupID,
		readWait: cfg.ReadTimeout,
		logger:   logger,
	}, nil
}

// Enqueue produces one message per event.
func (f *KafkaFeed) Enqueue(ctx context.Context, event *core.ChangeEvent) error {
	f.mu.RLock()
	closed := f.closed
	f.mu.RUnlock()
	if closed {
		return ErrFeedClosed
	}
	if err := prepare(event); err != nil {
		return err
	}
	data, err := encode(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(event.Layer),
		Value: data,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "change", Value: []byte(event.Change)},
			{Key: "layer", Value: []byte(event.Layer)},
			{Key: "run_id", Value: []byte(event.RunID)},
		},
	}
	start := time.Now()
	if err := f.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write change to kafka topic %s: %w", f.topic, err)
	}

	f.mu.Lock()
	f.size++
	f.mu.Unlock()
	f.logger.Debug("produced change",
		zap.String("layer", event.Layer),
		zap.String("change", string(event.Change)),
		zap.String("key", event.Key),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// Dequeue consumes up to batchSize messages, committing each offset once decoded.
// It returns early when no message arrives within the read timeout.
func (f *KafkaFeed) Dequeue(ctx context.Context, batchSize int) ([]*core.ChangeEvent, error) {
	f.mu.RLock()
	closed := f.closed
	f.mu.RUnlock()
	if closed {
		return nil, ErrFeedClosed
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	events := make([]*core.ChangeEvent, 0, batchSize)
	for len(events) < batchSize {
		readCtx, cancel := context.WithTimeout(ctx, f.readWait)
		msg, err := f.reader.FetchMessage(readCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				break
			}
			return events, fmt.Errorf("failed to read from kafka topic %s: %w", f.topic, err)
		}

		event, err := decode(msg.Value)
		if err != nil {
			f.logger.Warn("skipping undecodable change event",
				zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
		} else {
			events = append(events, event)
		}
		if err := f.reader.CommitMessages(ctx, msg); err != nil {
			f.logger.Warn("failed to commit offset",
				zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}

	if n := len(events); n > 0 {
		f.mu.Lock()
		f.size = max(f.size-n, 0)
		f.mu.Unlock()
		f.logger.Debug("consumed changes", zap.Int("events", n), zap.String("group_id", f.groupID))
	}
	return events, nil
}

// Size returns the number of events produced minus those consumed by this process.
func (f *KafkaFeed) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.size
}

// Close flushes the producer and leaves the consumer group.
func (f *KafkaFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return errors.Join(f.writer.Close(), f.reader.Close())
}
