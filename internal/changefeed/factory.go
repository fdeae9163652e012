package changefeed

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/featuresync/internal/core"
	"github.com/rzpsarthak13/featuresync/internal/registry"
)

// Queue types accepted in change_feed.queue_type.
const (
	TypeNone   = "none"
	TypeMemory = "memory"
	TypeRedis  = "redis"
	TypeKafka  = "kafka"
)

// Open returns the configured change feed, or nil for "none". The redis
// feed uses kv, which must be a Redis KV store.
func Open(cfg registry.InternalChangeFeedConfig, kv core.KVStore, logger *zap.Logger) (core.ChangeFeed, error) {
	switch cfg.QueueType {
	case "", TypeNone:
		return nil, nil
	case TypeMemory:
		return NewMemoryFeed(cfg.QueueBufferSize), nil
	case TypeRedis:
		feed, err := NewRedisFeed(kv, cfg.Prefix, logger)
		if err != nil {
			return nil, err
		}
		return feed, nil
	case TypeKafka:
		feed, err := NewKafkaFeed(cfg.KafkaConfig, logger)
		if err != nil {
			return nil, err
		}
		return feed, nil
	default:
		return nil, fmt.Errorf("unsupported change feed type %q", cfg.QueueType)
	}
}
