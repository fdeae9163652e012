package kvstore

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/featuresync/internal/core"
	"github.com/rzpsarthak13/featuresync/internal/registry"
)

// KVStoreFactory is the Strategy interface for creating KV store implementations.
// Each backend (Redis, DynamoDB, etc.) implements this interface to provide
// its own factory method.
type KVStoreFactory interface {
	// Create creates a new KV store instance based on the provided configuration.
	Create(config KVStoreConfig) (core.KVStore, error)

	// Type returns the type identifier for this factory (e.g., "redis", "dynamodb").
	Type() string

	// Validate validates the configuration specific to this KV store type.
	Validate(config KVStoreConfig) error
}

// KVStoreConfig represents the configuration needed to create a KV store.
// Supports multiple backends (memory, Redis, DynamoDB) through a plugin-based architecture.
type KVStoreConfig struct {
	Type         string
	Endpoints    []string
	Password     string
	DB           int
	MaxRetries   int
	PoolSize     int
	MinIdleConns int
	DialTimeout  int64 // nanoseconds
	ReadTimeout  int64 // nanoseconds
	WriteTimeout int64 // nanoseconds

	// DynamoDB-specific fields
	Region          string
	TableName       string
	Endpoint        string // Optional, for LocalStack
	AccessKeyID     string // Optional, can use IAM role instead
	SecretAccessKey string // Optional, can use IAM role instead

	// Logger receives store diagnostics; nil disables logging.
	Logger *zap.Logger
}

// ErrStoreClosed is returned by operations on a closed KV store.
var ErrStoreClosed = errors.New("KV store is closed")

var (
	// factoryRegistry stores all registered KV store factories.
	factoryRegistry = make(map[string]KVStoreFactory)

	// registryMutex protects the registries from concurrent access.
	registryMutex sync.RWMutex
)

// RegisterFactory registers a KV store factory.
// This is called automatically by each implementation's init() function.
func RegisterFactory(factory KVStoreFactory) {
	if factory == nil {
		panic("factory cannot be nil")
	}
	if factory.Type() == "" {
		panic("factory type cannot be empty")
	}

	registryMutex.Lock()
	defer registryMutex.Unlock()

	if _, exists := factoryRegistry[factory.Type()]; exists {
		panic(fmt.Sprintf("factory for type %q is already registered", factory.Type()))
	}

	factoryRegistry[factory.Type()] = factory
}

// Create validates config and builds the store registered for config.Type.
func Create(config KVStoreConfig) (core.KVStore, error) {
	if config.Type == "" {
		return nil, fmt.Errorf("kvstore type is required")
	}

	registryMutex.RLock()
	factory, exists := factoryRegistry[config.Type]
	registryMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unsupported KV store type: %s (registered: %s)",
			config.Type, strings.Join(GetRegisteredTypes(), ", "))
	}

	if err := factory.Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", config.Type, err)
	}
	return factory.Create(config)
}

// GetRegisteredTypes returns the registered KV store types in order.
func GetRegisteredTypes() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	types := make([]string, 0, len(factoryRegistry))
	for t := range factoryRegistry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// IsTypeRegistered checks if a KV store type is registered.
func IsTypeRegistered(storeType string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	_, exists := factoryRegistry[storeType]
	return exists
}

// FromInternalConfig converts the kv_store section of the sync configuration
// into a KVStoreConfig.
func FromInternalConfig(cfg registry.InternalKVStoreConfig, logger *zap.Logger) KVStoreConfig {
	return KVStoreConfig{
		Type:            cfg.Type,
		Endpoints:       cfg.RedisConfig.Endpoints,
		Password:        cfg.RedisConfig.Password,
		DB:              cfg.RedisConfig.DB,
		MaxRetries:      cfg.MaxRetries,
		PoolSize:        cfg.RedisConfig.PoolSize,
		MinIdleConns:    cfg.RedisConfig.MinIdleConns,
		DialTimeout:     int64(cfg.DialTimeout),
		ReadTimeout:     int64(cfg.ReadTimeout),
		WriteTimeout:    int64(cfg.WriteTimeout),
		Region:          cfg.DynamoDBConfig.Region,
		TableName:       cfg.DynamoDBConfig.TableName,
		Endpoint:        cfg.DynamoDBConfig.Endpoint,
		AccessKeyID:     cfg.DynamoDBConfig.AccessKeyID,
		SecretAccessKey: cfg.DynamoDBConfig.SecretAccessKey,
		Logger:          logger,
	}
}

// register adds factory to the store registry and a validator for its
// kv_store section to the configuration registry.
func register(factory KVStoreFactory) {
	RegisterFactory(factory)
	registry.RegisterValidator(configValidator{factory: factory})
}

// configValidator checks the kv_store section with the factory's rules.
type configValidator struct {
	factory KVStoreFactory
}

func (v configValidator) Type() string { return v.factory.Type() }

func (v configValidator) Validate(config *registry.InternalConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if config.KVStore.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got: %d", config.KVStore.MaxRetries)
	}
	return v.factory.Validate(FromInternalConfig(config.KVStore, nil))
}

func validateTimeouts(config KVStoreConfig) error {
	if config.DialTimeout <= 0 {
		return fmt.Errorf("dial_timeout must be greater than 0, got: %v", time.Duration(config.DialTimeout))
	}
	if config.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be greater than 0, got: %v", time.Duration(config.ReadTimeout))
	}
	if config.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be greater than 0, got: %v", time.Duration(config.WriteTimeout))
	}
	return nil
}
