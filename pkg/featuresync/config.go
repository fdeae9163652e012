package featuresync

import (
	"time"
)

// Config represents the root configuration of a featuresync client.
type Config struct {
	// Source describes the WFS endpoint features are read from.
	Source SourceConfig `yaml:"source" json:"source"`

	// Destination contains configuration for the store layers are written to.
	Destination DestinationConfig `yaml:"destination" json:"destination"`

	// LayerConfig selects where per-layer settings and watermarks live.
	LayerConfig LayerConfigConfig `yaml:"layer_config" json:"layer_config"`

	// KVStore contains configuration for the key-value store backing the
	// wide-integer cache, the run ledger and the kv layer configuration.
	KVStore KVStoreConfig `yaml:"kv_store" json:"kv_store"`

	// Misc holds transfer tuning knobs.
	Misc MiscConfig `yaml:"misc" json:"misc"`

	// ChangeFeed configures publication of applied changes.
	ChangeFeed ChangeFeedConfig `yaml:"change_feed" json:"change_feed"`
}

// SourceConfig describes the WFS endpoint.
type SourceConfig struct {
	// URL is the service address up to the API key, e.g. "https://data.linz.govt.nz/services;key=".
	URL string `yaml:"url" json:"url"`

	// Key is the API key appended to URL.
	Key string `yaml:"key" json:"key"`

	// Service and Version are sent with every GetFeature request.
	Service string `yaml:"service,omitempty" json:"service,omitempty"`
	Version string `yaml:"version,omitempty" json:"version,omitempty"`

	// Format is the requested output format: "json" or "csv".
	Format string `yaml:"format,omitempty" json:"format,omitempty"`

	// Timeout bounds a single source request.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// RateLimit caps source requests per second.
	RateLimit float64 `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`

	// Burst is the size of the request limiter bucket.
	Burst int `yaml:"burst,omitempty" json:"burst,omitempty"`
}

// DestinationConfig contains configuration for the destination store.
type DestinationConfig struct {
	// Kind is "sqlite" or "mysql".
	Kind string `yaml:"kind" json:"kind"`

	// Path is the SQLite database file.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// Host, Port, Database, Username and Password address a MySQL server.
	Host     string `yaml:"host,omitempty" json:"host,omitempty"`
	Port     int    `yaml:"port,omitempty" json:"port,omitempty"`
	Database string `yaml:"database,omitempty" json:"database,omitempty"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	MaxOpenConns      int           `yaml:"max_open_conns,omitempty" json:"max_open_conns,omitempty"`
	MaxIdleConns      int           `yaml:"max_idle_conns,omitempty" json:"max_idle_conns,omitempty"`
	ConnMaxLifetime   time.Duration `yaml:"conn_max_lifetime,omitempty" json:"conn_max_lifetime,omitempty"`
	ConnMaxIdleTime   time.Duration `yaml:"conn_max_idle_time,omitempty" json:"conn_max_idle_time,omitempty"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout,omitempty" json:"connection_timeout,omitempty"`

	// CQL filters every layer read unless overridden at run time.
	CQL string `yaml:"cql,omitempty" json:"cql,omitempty"`

	// EPSG reprojects every layer unless overridden at run time.
	EPSG string `yaml:"epsg,omitempty" json:"epsg,omitempty"`

	// DefaultEPSG is used when layer creation rejects the requested reference.
	DefaultEPSG int `yaml:"default_epsg,omitempty" json:"default_epsg,omitempty"`

	// TempStrategy selects how bulk copies are staged: "DIRECT" or "MEMORY".
	TempStrategy string `yaml:"temp_strategy,omitempty" json:"temp_strategy,omitempty"`
}

// LayerConfigConfig selects the layer configuration backend.
type LayerConfigConfig struct {
	// Backend is "file" for a YAML document or "kv" for the KV store.
	Backend string `yaml:"backend" json:"backend"`

	// Path is the YAML document of the file backend.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// KeyPrefix namespaces entries of the kv backend.
	KeyPrefix string `yaml:"key_prefix,omitempty" json:"key_prefix,omitempty"`
}

// KVStoreConfig contains configuration for the key-value store.
type KVStoreConfig struct {
	// Type specifies the KV store type: "memory", "redis" or "dynamodb".
	Type string `yaml:"type" json:"type"`

	// RedisConfig is used when Type is "redis".
	RedisConfig RedisConfig `yaml:"redis_config,omitempty" json:"redis_config,omitempty"`

	// DynamoDBConfig is used when Type is "dynamodb".
	DynamoDBConfig DynamoDBConfig `yaml:"dynamodb_config,omitempty" json:"dynamodb_config,omitempty"`

	MaxRetries   int           `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	DialTimeout  time.Duration `yaml:"dial_timeout,omitempty" json:"dial_timeout,omitempty"`
	ReadTimeout  time.Duration `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`

	// CacheTTL bounds how long wide-integer lookups are kept. Zero keeps them forever.
	CacheTTL time.Duration `yaml:"cache_ttl,omitempty" json:"cache_ttl,omitempty"`
}

// RedisConfig contains Redis-specific configuration.
type RedisConfig struct {
	Endpoints    []string `yaml:"endpoints" json:"endpoints"`
	Password     string   `yaml:"password,omitempty" json:"password,omitempty"`
	DB           int      `yaml:"db,omitempty" json:"db,omitempty"`
	PoolSize     int      `yaml:"pool_size,omitempty" json:"pool_size,omitempty"`
	MinIdleConns int      `yaml:"min_idle_conns,omitempty" json:"min_idle_conns,omitempty"`
}

// DynamoDBConfig contains DynamoDB-specific configuration.
type DynamoDBConfig struct {
	Region    string `yaml:"region" json:"region"`
	TableName string `yaml:"table_name" json:"table_name"`

	// Endpoint overrides the AWS endpoint, e.g. for LocalStack.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	// AccessKeyID and SecretAccessKey are optional when an IAM role is available.
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
}

// MiscConfig holds the transfer tuning knobs.
type MiscConfig struct {
	// SixtyFourLayers lists layers carrying integer columns wider than 32 bits.
	SixtyFourLayers []string `yaml:"sixtyfour_layers,omitempty" json:"sixtyfour_layers,omitempty"`

	// PartitionLayers lists layers read in primary key pages of PartitionSize features.
	PartitionLayers []string `yaml:"partition_layers,omitempty" json:"partition_layers,omitempty"`
	PartitionSize   int      `yaml:"partition_size,omitempty" json:"partition_size,omitempty"`

	// MaxAttempts bounds reads of one source document.
	MaxAttempts int `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`

	// TransactionThreshold is the attempt from which writes run outside a transaction.
	TransactionThreshold int `yaml:"transaction_threshold,omitempty" json:"transaction_threshold,omitempty"`
}

// ChangeFeedConfig configures publication of applied changes.
type ChangeFeedConfig struct {
	// QueueType is "none", "memory", "redis" or "kafka".
	QueueType string `yaml:"queue_type" json:"queue_type"`

	// QueueBufferSize bounds the memory feed.
	QueueBufferSize int `yaml:"queue_buffer_size,omitempty" json:"queue_buffer_size,omitempty"`

	// Prefix namespaces the redis feed lists.
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`

	// BatchSize is how many events a drainer dequeues at once.
	BatchSize int `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`

	// DrainRate is the maximum number of events handled per second.
	DrainRate int `yaml:"drain_rate,omitempty" json:"drain_rate,omitempty"`

	// KafkaConfig is used when QueueType is "kafka".
	KafkaConfig KafkaConfig `yaml:"kafka_config,omitempty" json:"kafka_config,omitempty"`
}

// KafkaConfig contains configuration for the Kafka change feed.
type KafkaConfig struct {
	// Brokers is a list of Kafka broker addresses (e.g., ["localhost:9092"]).
	Brokers []string `yaml:"brokers" json:"brokers"`

	// Topic receives one message per applied change, keyed by layer.
	Topic string `yaml:"topic" json:"topic"`

	// GroupID is the consumer group ID for reading from Kafka.
	GroupID string `yaml:"group_id" json:"group_id"`

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

// DefaultConfig returns a configuration that writes to a local SQLite file
// with layer settings in layers.yaml.
func DefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			URL:       "https://data.linz.govt.nz/services;key=",
			Service:   "WFS",
			Version:   "1.0.0",
			Format:    "json",
			Timeout:   5 * time.Minute,
			RateLimit: 2,
			Burst:     1,
		},
		Destination: DestinationConfig{
			Kind:              "sqlite",
			Path:              "featuresync.db",
			Port:              3306,
			MaxOpenConns:      10,
			MaxIdleConns:      5,
			ConnMaxLifetime:   5 * time.Minute,
			ConnMaxIdleTime:   10 * time.Minute,
			ConnectionTimeout: 10 * time.Second,
			DefaultEPSG:       4326,
			TempStrategy:      "DIRECT",
		},
		LayerConfig: LayerConfigConfig{
			Backend:   "file",
			Path:      "layers.yaml",
			KeyPrefix: "layerconf",
		},
		KVStore: KVStoreConfig{
			Type: "memory",
			RedisConfig: RedisConfig{
				Endpoints:    []string{"localhost:6379"},
				PoolSize:     10,
				MinIdleConns: 2,
			},
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			CacheTTL:     24 * time.Hour,
		},
		Misc: MiscConfig{
			PartitionSize:        10000,
			MaxAttempts:          5,
			TransactionThreshold: 4,
		},
		ChangeFeed: ChangeFeedConfig{
			QueueType:       "none",
			QueueBufferSize: 10000,
			Prefix:          "featuresync:changes",
			BatchSize:       100,
			DrainRate:       50,
			KafkaConfig: KafkaConfig{
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
