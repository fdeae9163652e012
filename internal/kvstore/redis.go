package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/featuresync/internal/core"
)

// RedisKVStore backs the wide-integer cache, layer configuration, run ledger
// and change-feed lists with a single Redis node.
type RedisKVStore struct {
	client *redis.Client
	logger *zap.Logger
	closed bool
}

// NewRedisKVStore connects to the first endpoint of cfg and pings it within
// the dial timeout. Further endpoints are ignored.
func NewRedisKVStore(ctx context.Context, cfg KVStoreConfig) (*RedisKVStore, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one endpoint is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dial := time.Duration(cfg.DialTimeout)
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Endpoints[0],
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dial,
		ReadTimeout:  time.Duration(cfg.ReadTimeout),
		WriteTimeout: time.Duration(cfg.WriteTimeout),
	})

	pingCtx, cancel := context.WithTimeout(ctx, dial)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Endpoints[0], err)
	}
	return newRedisKVStoreFromClient(client, logger), nil
}

func newRedisKVStoreFromClient(client *redis.Client, logger *zap.Logger) *RedisKVStore {
	return &RedisKVStore{client: client, logger: logger.Named("redis")}
}

func (r *RedisKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if r.closed {
		return nil, ErrStoreClosed
	}
	val, err := r.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		r.logger.Debug("key not found", zap.String("key", key))
		return nil, fmt.Errorf("%w: %s", core.ErrKeyNotFound, key)
	case err != nil:
		r.logger.Error("get failed", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	r.logger.Debug("get", zap.String("key", key), zap.Int("bytes", len(val)))
	return val, nil
}

// Set stores value under key. A non-positive ttl keeps the key forever.
func (r *RedisKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if r.closed {
		return ErrStoreClosed
	}
	if err := r.client.Set(ctx, key, value, max(ttl, 0)).Err(); err != nil {
		r.logger.Error("set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	r.logger.Debug("set", zap.String("key", key), zap.Int("bytes", len(value)), zap.Duration("ttl", ttl))
	return nil
}

func (r *RedisKVStore) Delete(ctx context.Context, key string) error {
	if r.closed {
		return ErrStoreClosed
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (r *RedisKVStore) Exists(ctx context.Context, key string) (bool, error) {
	if r.closed {
		return false, ErrStoreClosed
	}
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check key %s: %w", key, err)
	}
	return n > 0, nil
}

// BatchSet writes all items in one MULTI/EXEC so a ledger entry and its
// index key land together.
func (r *RedisKVStore) BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if r.closed {
		return ErrStoreClosed
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, value := range items {
			pipe.Set(ctx, key, value, max(ttl, 0))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write %d keys: %w", len(items), err)
	}
	return nil
}

func (r *RedisKVStore) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.client.Close()
}

// ListPush appends value to the list at key (RPUSH).
func (r *RedisKVStore) ListPush(ctx context.Context, key string, value []byte) error {
	if r.closed {
		return ErrStoreClosed
	}
	return r.client.RPush(ctx, key, value).Err()
}

// ListPop removes the head of the list at key (LPOP), nil when it is empty.
func (r *RedisKVStore) ListPop(ctx context.Context, key string) ([]byte, error) {
	if r.closed {
		return nil, ErrStoreClosed
	}
	val, err := r.client.LPop(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return val, err
}

// ListLength returns the length of the list at key (LLEN).
func (r *RedisKVStore) ListLength(ctx context.Context, key string) (int64, error) {
	if r.closed {
		return 0, ErrStoreClosed
	}
	return r.client.LLen(ctx, key).Result()
}

// RedisKVStoreFactory builds RedisKVStore instances.
type RedisKVStoreFactory struct{}

func (f *RedisKVStoreFactory) Type() string { return "redis" }

func (f *RedisKVStoreFactory) Validate(config KVStoreConfig) error {
	switch {
	case config.Type != "redis":
		return fmt.Errorf("invalid type for Redis factory: %s", config.Type)
	case len(config.Endpoints) == 0:
		return fmt.Errorf("at least one endpoint is required for Redis")
	case config.DB < 0 || config.DB > 15:
		return fmt.Errorf("Redis DB must be between 0 and 15, got: %d", config.DB)
	case config.PoolSize <= 0:
		return fmt.Errorf("pool_size must be greater than 0, got: %d", config.PoolSize)
	case config.MinIdleConns < 0:
		return fmt.Errorf("min_idle_conns must be non-negative, got: %d", config.MinIdleConns)
	}
	return validateTimeouts(config)
}

func (f *RedisKVStoreFactory) Create(config KVStoreConfig) (core.KVStore, error) {
	store, err := NewRedisKVStore(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis KV store: %w", err)
	}
	return store, nil
}

func init() {
	register(&RedisKVStoreFactory{})
}
