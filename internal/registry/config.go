package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigValidator is the Strategy interface for validating configuration.
// Each backend (Redis, DynamoDB, etc.) provides its own validator to validate
// backend-specific configuration using the Strategy pattern.
type ConfigValidator interface {
	// Validate validates the internal configuration for this KV store type.
	// It should validate only the KVStore-specific configuration.
	Validate(config *InternalConfig) error

	// Type returns the type identifier for this validator (e.g., "redis", "dynamodb").
	Type() string
}

var (
	// validatorRegistry stores all registered config validators.
	validatorRegistry = make(map[string]ConfigValidator)

	// validatorRegistryMutex protects the validator registry from concurrent access.
	validatorRegistryMutex sync.RWMutex
)

// ValidationStrategyRegistry provides methods to register and retrieve config validators.
// This implements the Strategy pattern for configuration validation.
type ValidationStrategyRegistry struct{}

// RegisterValidator registers a config validator.
// This is called automatically by each implementation's init() function.
// Panics if validator is nil, type is empty, or type is already registered.
func (r *ValidationStrategyRegistry) Register(validator ConfigValidator) {
	if validator == nil {
		panic("validator cannot be nil")
	}
	if validator.Type() == "" {
		panic("validator type cannot be empty")
	}

	validatorRegistryMutex.Lock()
	defer validatorRegistryMutex.Unlock()

	if _, exists := validatorRegistry[validator.Type()]; exists {
		panic(fmt.Sprintf("validator for type %q is already registered", validator.Type()))
	}

	validatorRegistry[validator.Type()] = validator
}

// Get retrieves a validator by type.
// Returns the validator and true if found, nil and false otherwise.
func (r *ValidationStrategyRegistry) Get(validatorType string) (ConfigValidator, bool) {
	validatorRegistryMutex.RLock()
	defer validatorRegistryMutex.RUnlock()

	validator, exists := validatorRegistry[validatorType]
	return validator, exists
}

// RegisterValidator is a convenience function to register a validator using the default registry.
// This is the preferred way to register validators from init() functions.
func RegisterValidator(validator ConfigValidator) {
	defaultValidationRegistry.Register(validator)
}

// GetValidator is a convenience function to retrieve a validator by type using the default registry.
func GetValidator(validatorType string) (ConfigValidator, bool) {
	return defaultValidationRegistry.Get(validatorType)
}

// defaultValidationRegistry is the default instance of ValidationStrategyRegistry.
var defaultValidationRegistry = &ValidationStrategyRegistry{}

// Defaults for the transfer tuning knobs.
const (
	DefaultMaxAttempts          = 5
	DefaultTransactionThreshold = 4
	DefaultPartitionSize        = 10000
	DefaultEPSG                 = 4326
)

// ConfigManager handles loading and managing configuration from various sources.
type ConfigManager struct {
	config *InternalConfig
}

// NewConfigManager creates a new configuration manager with default configuration.
func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		config: defaultInternalConfig(),
	}
}

// defaultInternalConfig returns a configuration with sensible defaults.
func defaultInternalConfig() *InternalConfig {
	return &InternalConfig{
		Source: InternalSourceConfig{
			URL:       "https://data.linz.govt.nz/services;key=",
			Service:   "WFS",
			Version:   "1.0.0",
			Format:    "json",
			Timeout:   5 * time.Minute,
			RateLimit: 2,
			Burst:     1,
		},
		Destination: InternalDestinationConfig{
			Kind:              "sqlite",
			Path:              "featuresync.db",
			Port:              3306,
			MaxOpenConns:      10,
			MaxIdleConns:      5,
			ConnMaxLifetime:   5 * time.Minute,
			ConnMaxIdleTime:   10 * time.Minute,
			ConnectionTimeout: 10 * time.Second,
			DefaultEPSG:       DefaultEPSG,
			TempStrategy:      "DIRECT",
		},
		LayerConfig: InternalLayerConfig{
			Backend:   "file",
			Path:      "layers.yaml",
			KeyPrefix: "layerconf",
		},
		KVStore: InternalKVStoreConfig{
			Type: "memory",
			RedisConfig: InternalRedisConfig{
				Endpoints:    []string{"localhost:6379"},
				DB:           0,
				PoolSize:     10,
				MinIdleConns: 2,
			},
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			CacheTTL:     24 * time.Hour,
		},
		Misc: InternalMiscConfig{
			PartitionSize:        DefaultPartitionSize,
			MaxAttempts:          DefaultMaxAttempts,
			TransactionThreshold: DefaultTransactionThreshold,
		},
		ChangeFeed: InternalChangeFeedConfig{
			QueueType:       "none",
			QueueBufferSize: 10000,
			Prefix:          "featuresync:changes",
			BatchSize:       100,
			DrainRate:       50,
			KafkaConfig: InternalKafkaConfig{
				Brokers:         []string{"localhost:9092"},
				Topic:           "featuresync-changes",
				GroupID:         "featuresync-changes",
				BatchSize:       100,
				BatchTimeout:    10 * time.Millisecond,
				WriteTimeout:    10 * time.Second,
				ReadTimeout:     10 * time.Second,
				RequiredAcks:    -1,      // All replicas
				MaxMessageBytes: 1000000, // 1MB
				MinBytes:        1,
				MaxBytes:        10 * 1024 * 1024, // 10MB
				MaxWait:         100 * time.Millisecond,
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML or JSON file.
// The file format is determined by the file extension (.yaml, .yml, or .json).
func (cm *ConfigManager) LoadFromFile(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".yaml", ".yml":
		return cm.LoadFromYAML(data)
	case ".json":
		return cm.LoadFromJSON(data)
	default:
		return fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}
}

// LoadFromYAML loads configuration from YAML data.
func (cm *ConfigManager) LoadFromYAML(data []byte) error {
	config := defaultInternalConfig()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	if err := cm.validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cm.config = config
	return nil
}

// LoadFromJSON loads configuration from JSON data.
func (cm *ConfigManager) LoadFromJSON(data []byte) error {
	config := defaultInternalConfig()
	if len(data) > 0 {
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}

	if err := cm.validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cm.config = config
	return nil
}

// LoadFromEnv applies environment variable overrides on top of the current configuration.
// Environment variables follow the pattern: FEATURESYNC_<SECTION>_<KEY>
// Examples:
//   - FEATURESYNC_SOURCE_KEY=abc123
//   - FEATURESYNC_DESTINATION_KIND=mysql
//   - FEATURESYNC_DESTINATION_HOST=localhost
//   - FEATURESYNC_KVSTORE_TYPE=redis
//   - FEATURESYNC_KVSTORE_ENDPOINTS=localhost:6379
func (cm *ConfigManager) LoadFromEnv() error {
	config := *cm.config

	// Source configuration
	if val := os.Getenv("FEATURESYNC_SOURCE_URL"); val != "" {
		config.Source.URL = val
	}
	if val := os.Getenv("FEATURESYNC_SOURCE_KEY"); val != "" {
		config.Source.Key = val
	}
	if val := os.Getenv("FEATURESYNC_SOURCE_FORMAT"); val != "" {
		config.Source.Format = val
	}
	if val := os.Getenv("FEATURESYNC_SOURCE_RATE_LIMIT"); val != "" {
		if rate, err := strconv.ParseFloat(val, 64); err == nil {
			config.Source.RateLimit = rate
		}
	}

	// Destination configuration
	if val := os.Getenv("FEATURESYNC_DESTINATION_KIND"); val != "" {
		config.Destination.Kind = val
	}
	if val := os.Getenv("FEATURESYNC_DESTINATION_PATH"); val != "" {
		config.Destination.Path = val
	}
	if val := os.Getenv("FEATURESYNC_DESTINATION_HOST"); val != "" {
		config.Destination.Host = val
	}
	if val := os.Getenv("FEATURESYNC_DESTINATION_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Destination.Port = port
		}
	}
	if val := os.Getenv("FEATURESYNC_DESTINATION_DATABASE"); val != "" {
		config.Destination.Database = val
	}
	if val := os.Getenv("FEATURESYNC_DESTINATION_USERNAME"); val != "" {
		config.Destination.Username = val
	}
	if val := os.Getenv("FEATURESYNC_DESTINATION_PASSWORD"); val != "" {
		config.Destination.Password = val
	}
	if val := os.Getenv("FEATURESYNC_DESTINATION_TEMP_STRATEGY"); val != "" {
		config.Destination.TempStrategy = val
	}

	// Layer configuration backend
	if val := os.Getenv("FEATURESYNC_LAYERCONFIG_BACKEND"); val != "" {
		config.LayerConfig.Backend = val
	}
	if val := os.Getenv("FEATURESYNC_LAYERCONFIG_PATH"); val != "" {
		config.LayerConfig.Path = val
	}

	// KV Store configuration
	if val := os.Getenv("FEATURESYNC_KVSTORE_TYPE"); val != "" {
		config.KVStore.Type = val
	}
	if val := os.Getenv("FEATURESYNC_KVSTORE_ENDPOINTS"); val != "" {
		config.KVStore.RedisConfig.Endpoints = strings.Split(val, ",")
	}
	if val := os.Getenv("FEATURESYNC_KVSTORE_PASSWORD"); val != "" {
		config.KVStore.RedisConfig.Password = val
	}
	if val := os.Getenv("FEATURESYNC_KVSTORE_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			config.KVStore.RedisConfig.DB = db
		}
	}
	if val := os.Getenv("FEATURESYNC_DYNAMODB_REGION"); val != "" {
		config.KVStore.DynamoDBConfig.Region = val
	}
	if val := os.Getenv("FEATURESYNC_DYNAMODB_TABLE_NAME"); val != "" {
		config.KVStore.DynamoDBConfig.TableName = val
	}
	if val := os.Getenv("FEATURESYNC_DYNAMODB_ENDPOINT"); val != "" {
		config.KVStore.DynamoDBConfig.Endpoint = val
	}

	// Transfer tuning
	if val := os.Getenv("FEATURESYNC_MISC_MAX_ATTEMPTS"); val != "" {
		if attempts, err := strconv.Atoi(val); err == nil {
			config.Misc.MaxAttempts = attempts
		}
	}
	if val := os.Getenv("FEATURESYNC_MISC_PARTITION_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			config.Misc.PartitionSize = size
		}
	}

	// Change feed configuration
	if val := os.Getenv("FEATURESYNC_CHANGEFEED_QUEUE_TYPE"); val != "" {
		config.ChangeFeed.QueueType = val
	}
	if val := os.Getenv("FEATURESYNC_KAFKA_BROKERS"); val != "" {
		config.ChangeFeed.KafkaConfig.Brokers = strings.Split(val, ",")
	}
	if val := os.Getenv("FEATURESYNC_KAFKA_TOPIC"); val != "" {
		config.ChangeFeed.KafkaConfig.Topic = val
	}

	if err := cm.validateConfig(&config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cm.config = &config
	return nil
}

// GetConfig returns the current internal configuration.
func (cm *ConfigManager) GetConfig() *InternalConfig {
	return cm.config
}

// IsSixtyFourLayer reports whether the layer carries wide-integer columns.
func (cm *ConfigManager) IsSixtyFourLayer(layerID string) bool {
	return slices.Contains(cm.config.Misc.SixtyFourLayers, layerID)
}

// IsPartitionLayer reports whether the layer is read in primary key pages.
func (cm *ConfigManager) IsPartitionLayer(layerID string) bool {
	return slices.Contains(cm.config.Misc.PartitionLayers, layerID)
}

// validateConfig validates the configuration and returns an error if invalid.
// Uses Strategy pattern for KVStore validation - no if-else statements needed.
func (cm *ConfigManager) validateConfig(config *InternalConfig) error {
	// Validate KV Store configuration using Strategy pattern
	if config.KVStore.Type == "" {
		return fmt.Errorf("kv_store.type is required")
	}

	validator, exists := GetValidator(config.KVStore.Type)
	if !exists {
		return fmt.Errorf("unsupported KV store type: %s", config.KVStore.Type)
	}

	if err := validator.Validate(config); err != nil {
		return fmt.Errorf("kv_store validation failed: %w", err)
	}

	// Validate Source configuration
	if config.Source.URL == "" {
		return fmt.Errorf("source.url is required")
	}
	if config.Source.RateLimit < 0 {
		return fmt.Errorf("source.rate_limit must be non-negative")
	}

	// Validate Destination configuration
	switch config.Destination.Kind {
	case "sqlite":
		if config.Destination.Path == "" {
			return fmt.Errorf("destination.path is required for sqlite")
		}
	case "mysql":
		if config.Destination.Host == "" {
			return fmt.Errorf("destination.host is required for mysql")
		}
		if config.Destination.Port <= 0 || config.Destination.Port > 65535 {
			return fmt.Errorf("destination.port must be between 1 and 65535")
		}
		if config.Destination.Database == "" {
			return fmt.Errorf("destination.database is required for mysql")
		}
		if config.Destination.Username == "" {
			return fmt.Errorf("destination.username is required for mysql")
		}
		if config.Destination.MaxOpenConns <= 0 {
			return fmt.Errorf("destination.max_open_conns must be greater than 0")
		}
	case "":
		return fmt.Errorf("destination.kind is required")
	default:
		return fmt.Errorf("destination.kind must be 'sqlite' or 'mysql', got %q", config.Destination.Kind)
	}
	switch strings.ToUpper(config.Destination.TempStrategy) {
	case "", "DIRECT", "MEMORY":
	default:
		return fmt.Errorf("destination.temp_strategy must be 'DIRECT' or 'MEMORY', got %q", config.Destination.TempStrategy)
	}

	// Validate Layer configuration backend
	switch config.LayerConfig.Backend {
	case "file":
		if config.LayerConfig.Path == "" {
			return fmt.Errorf("layer_config.path is required for the file backend")
		}
	case "kv":
	default:
		return fmt.Errorf("layer_config.backend must be 'file' or 'kv', got %q", config.LayerConfig.Backend)
	}

	// Validate transfer tuning
	if config.Misc.MaxAttempts <= 0 {
		return fmt.Errorf("misc.max_attempts must be greater than 0")
	}
	if config.Misc.TransactionThreshold < 0 {
		return fmt.Errorf("misc.transaction_threshold must be non-negative")
	}
	if len(config.Misc.PartitionLayers) > 0 && config.Misc.PartitionSize <= 0 {
		return fmt.Errorf("misc.partition_size must be greater than 0 when partition_layers are set")
	}

	// Validate Change feed configuration
	switch config.ChangeFeed.QueueType {
	case "", "none", "memory", "redis":
	case "kafka":
		if len(config.ChangeFeed.KafkaConfig.Brokers) == 0 {
			return fmt.Errorf("kafka_config.brokers is required when queue_type is 'kafka'")
		}
		if config.ChangeFeed.KafkaConfig.Topic == "" {
			return fmt.Errorf("kafka_config.topic is required when queue_type is 'kafka'")
		}
	default:
		return fmt.Errorf("change_feed.queue_type must be 'none', 'memory', 'redis', or 'kafka'")
	}
	if config.ChangeFeed.QueueType == "redis" && config.KVStore.Type != "redis" {
		return fmt.Errorf("change_feed.queue_type 'redis' requires kv_store.type 'redis'")
	}

	return nil
}
