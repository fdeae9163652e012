package registry

import (
	"time"
)

// InternalConfig represents the internal configuration structure.
// This is a copy of the public Config type to avoid import cycles.
type InternalConfig struct {
	Source      InternalSourceConfig      `yaml:"source" json:"source"`
	Destination InternalDestinationConfig `yaml:"destination" json:"destination"`
	LayerConfig InternalLayerConfig       `yaml:"layer_config" json:"layer_config"`
	KVStore     InternalKVStoreConfig     `yaml:"kv_store" json:"kv_store"`
	Misc        InternalMiscConfig        `yaml:"misc" json:"misc"`
	ChangeFeed  InternalChangeFeedConfig  `yaml:"change_feed" json:"change_feed"`
}

// InternalSourceConfig describes the WFS endpoint features are read from.
type InternalSourceConfig struct {
	URL     string        `yaml:"url" json:"url"`
	Key     string        `yaml:"key" json:"key"`
	Service string        `yaml:"service,omitempty" json:"service,omitempty"`
	Version string        `yaml:"version,omitempty" json:"version,omitempty"`
	Format  string        `yaml:"format,omitempty" json:"format,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// RateLimit caps source requests per second; Burst is the limiter bucket size.
	RateLimit float64 `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
	Burst     int     `yaml:"burst,omitempty" json:"burst,omitempty"`
}

// InternalDestinationConfig contains configuration for the destination store.
type InternalDestinationConfig struct {
	Kind              string        `yaml:"kind" json:"kind"`
	Path              string        `yaml:"path,omitempty" json:"path,omitempty"`
	Host              string        `yaml:"host,omitempty" json:"host,omitempty"`
	Port              int           `yaml:"port,omitempty" json:"port,omitempty"`
	Database          string        `yaml:"database,omitempty" json:"database,omitempty"`
	Username          string        `yaml:"username,omitempty" json:"username,omitempty"`
	Password          string        `yaml:"password,omitempty" json:"password,omitempty"`
	MaxOpenConns      int           `yaml:"max_open_conns,omitempty" json:"max_open_conns,omitempty"`
	MaxIdleConns      int           `yaml:"max_idle_conns,omitempty" json:"max_idle_conns,omitempty"`
	ConnMaxLifetime   time.Duration `yaml:"conn_max_lifetime,omitempty" json:"conn_max_lifetime,omitempty"`
	ConnMaxIdleTime   time.Duration `yaml:"conn_max_idle_time,omitempty" json:"conn_max_idle_time,omitempty"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout,omitempty" json:"connection_timeout,omitempty"`

	// CQL and EPSG are destination-level overrides of the per-layer values.
	CQL  string `yaml:"cql,omitempty" json:"cql,omitempty"`
	EPSG string `yaml:"epsg,omitempty" json:"epsg,omitempty"`

	// DefaultEPSG is used when layer creation rejects the requested reference.
	DefaultEPSG int `yaml:"default_epsg,omitempty" json:"default_epsg,omitempty"`

	// TempStrategy selects how bulk copies are staged: DIRECT or MEMORY.
	TempStrategy string `yaml:"temp_strategy,omitempty" json:"temp_strategy,omitempty"`
}

// InternalLayerConfig selects where per-layer configuration lives.
type InternalLayerConfig struct {
	// Backend is "file" for a YAML document or "kv" for the configured KV store.
	Backend   string `yaml:"backend" json:"backend"`
	Path      string `yaml:"path,omitempty" json:"path,omitempty"`
	KeyPrefix string `yaml:"key_prefix,omitempty" json:"key_prefix,omitempty"`
}

// InternalKVStoreConfig contains configuration for the key-value store.
// Supports multiple backends through a plugin-based architecture.
type InternalKVStoreConfig struct {
	Type           string                 `yaml:"type" json:"type"`
	RedisConfig    InternalRedisConfig    `yaml:"redis_config,omitempty" json:"redis_config,omitempty"`
	DynamoDBConfig InternalDynamoDBConfig `yaml:"dynamodb_config,omitempty" json:"dynamodb_config,omitempty"`
	MaxRetries     int                    `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	DialTimeout    time.Duration          `yaml:"dial_timeout,omitempty" json:"dial_timeout,omitempty"`
	ReadTimeout    time.Duration          `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`
	WriteTimeout   time.Duration          `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`

	// CacheTTL bounds how long wide-integer lookups are kept. Zero keeps them forever.
	CacheTTL time.Duration `yaml:"cache_ttl,omitempty" json:"cache_ttl,omitempty"`
}

// InternalRedisConfig contains Redis-specific configuration.
type InternalRedisConfig struct {
	Endpoints    []string `yaml:"endpoints" json:"endpoints"`
	Password     string   `yaml:"password,omitempty" json:"password,omitempty"`
	DB           int      `yaml:"db,omitempty" json:"db,omitempty"`
	PoolSize     int      `yaml:"pool_size,omitempty" json:"pool_size,omitempty"`
	MinIdleConns int      `yaml:"min_idle_conns,omitempty" json:"min_idle_conns,omitempty"`
}

// InternalDynamoDBConfig contains DynamoDB-specific configuration.
type InternalDynamoDBConfig struct {
	Region          string `yaml:"region" json:"region"`
	TableName       string `yaml:"table_name" json:"table_name"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
}

// InternalMiscConfig holds the transfer tuning knobs.
type InternalMiscConfig struct {
	// SixtyFourLayers lists layers carrying wide-integer columns.
	SixtyFourLayers []string `yaml:"sixtyfour_layers,omitempty" json:"sixtyfour_layers,omitempty"`

	// PartitionLayers lists layers read in primary key pages.
	PartitionLayers []string `yaml:"partition_layers,omitempty" json:"partition_layers,omitempty"`
	PartitionSize   int      `yaml:"partition_size,omitempty" json:"partition_size,omitempty"`

	MaxAttempts          int `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	TransactionThreshold int `yaml:"transaction_threshold,omitempty" json:"transaction_threshold,omitempty"`
}

// InternalChangeFeedConfig contains configuration for publishing applied changes.
type InternalChangeFeedConfig struct {
	QueueType       string              `yaml:"queue_type" json:"queue_type"`
	QueueBufferSize int                 `yaml:"queue_buffer_size,omitempty" json:"queue_buffer_size,omitempty"`
	Prefix          string              `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	BatchSize       int                 `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`
	DrainRate       int                 `yaml:"drain_rate,omitempty" json:"drain_rate,omitempty"`
	KafkaConfig     InternalKafkaConfig `yaml:"kafka_config,omitempty" json:"kafka_config,omitempty"`
}

// InternalKafkaConfig contains Kafka-specific configuration.
type InternalKafkaConfig struct {
	Brokers         []string      `yaml:"brokers" json:"brokers"`
	Topic           string        `yaml:"topic" json:"topic"`
	GroupID         string        `yaml:"group_id" json:"group_id"`
	BatchSize       int           `yaml:"batch_size" json:"batch_size"`
	BatchTimeout    time.Duration `yaml:"batch_timeout" json:"batch_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	RequiredAcks    int           `yaml:"required_acks" json:"required_acks"`
	MaxMessageBytes int           `yaml:"max_message_bytes" json:"max_message_bytes"`
	MinBytes        int           `yaml:"min_bytes" json:"min_bytes"`
	MaxBytes        int           `yaml:"max_bytes" json:"max_bytes"`
	MaxWait         time.Duration `yaml:"max_wait" json:"max_wait"`
}
