package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/featuresync/internal/apply"
	"github.com/rzpsarthak13/featuresync/internal/changefeed"
	"github.com/rzpsarthak13/featuresync/internal/core"
	"github.com/rzpsarthak13/featuresync/internal/database"
	"github.com/rzpsarthak13/featuresync/internal/kvstore"
	"github.com/rzpsarthak13/featuresync/internal/layerconf"
	"github.com/rzpsarthak13/featuresync/internal/registry"
	"github.com/rzpsarthak13/featuresync/internal/replicate"
	"github.com/rzpsarthak13/featuresync/internal/reproject"
	"github.com/rzpsarthak13/featuresync/internal/schema"
	"github.com/rzpsarthak13/featuresync/internal/source"
	"github.com/rzpsarthak13/featuresync/internal/transcode"
	"github.com/rzpsarthak13/featuresync/internal/transfer"
	"github.com/rzpsarthak13/featuresync/internal/write"
)

// ErrClosed is returned by a closed client.
var ErrClosed = errors.New("client is closed")

// ConfigProvider is an interface to provide configuration as YAML without importing the public package.
type ConfigProvider interface {
	GetYAML() ([]byte, error)
}

// ClientImpl owns the connections of one synchronization run and builds
// the synchronizer chain on top of them.
type ClientImpl struct {
	mu        sync.RWMutex
	configMgr *registry.ConfigManager
	kvStore   core.KVStore
	store     *database.SQLStore
	layers    layerconf.Editable
	feed      core.ChangeFeed
	wal       *write.WALManager
	lifecycle *registry.LifecycleManager
	wfs       *source.WFSSource
	uris      *source.URIBuilder
	runID     string
	logger    *zap.Logger
	closed    bool
}

// NewClientImpl creates a client from YAML supplied by provider.
func NewClientImpl(ctx context.Context, configProvider ConfigProvider, logger *zap.Logger) (*ClientImpl, error) {
	if configProvider == nil {
		return nil, fmt.Errorf("config provider cannot be nil")
	}
	yamlData, err := configProvider.GetYAML()
	if err != nil {
		return nil, fmt.Errorf("failed to get config YAML: %w", err)
	}
	configMgr := registry.NewConfigManager()
	if err := configMgr.LoadFromYAML(yamlData); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return New(ctx, configMgr, logger)
}

// New creates a client from a loaded configuration and opens its connections.
func New(ctx context.Context, configMgr *registry.ConfigManager, logger *zap.Logger) (*ClientImpl, error) {
	if configMgr == nil {
		return nil, fmt.Errorf("config manager cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &ClientImpl{
		configMgr: configMgr,
		lifecycle: registry.NewLifecycleManager(),
		runID:     uuid.NewString(),
		logger:    logger,
	}
	if err := c.initializeConnections(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize connections: %w", err)
	}
	logger.Debug("client ready",
		zap.String("run_id", c.runID),
		zap.String("kv_store", configMgr.GetConfig().KVStore.Type),
		zap.String("destination", configMgr.GetConfig().Destination.Kind),
	)
	return c, nil
}

// initializeConnections opens the KV store, destination, layer configuration and change feed.
func (c *ClientImpl) initializeConnections(ctx context.Context) error {
	config := c.configMgr.GetConfig()

	kv, err := kvstore.Create(kvstore.FromInternalConfig(config.KVStore, c.logger))
	if err != nil {
		return fmt.Errorf("failed to create KV store: %w", err)
	}
	c.kvStore = kv

	store, err := database.Open(ctx, config.Destination, c.logger)
	if err != nil {
		return fmt.Errorf("failed to open destination: %w", err)
	}
	c.store = store

	layers, err := layerconf.Open(config.LayerConfig, kv)
	if err != nil {
		return fmt.Errorf("failed to open layer configuration: %w", err)
	}
	c.layers = layers

	feed, err := changefeed.Open(config.ChangeFeed, kv, c.logger)
	if err != nil {
		return fmt.Errorf("failed to open change feed: %w", err)
	}
	c.feed = feed

	uris, err := source.NewURIBuilder(config.Source)
	if err != nil {
		return err
	}
	c.uris = uris
	c.wfs = source.NewWFSSource(config.Source, c.logger)

	c.wal = write.NewWALManager(kv, "wal", c.logger)
	c.lifecycle.RegisterHook(c.wal)
	return nil
}

// Synchronizer builds the transcoding and transfer chain for one run.
func (c *ClientImpl) Synchronizer(opts replicate.Options) (*replicate.Synchronizer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}

	config := c.configMgr.GetConfig()
	optional := schema.NewOptionalColumnSet()
	cache := transcode.NewWideIntCache(c.wfs, c.kvStore, config.KVStore.CacheTTL, c.logger)
	transcoder := transcode.New(optional, cache, c.logger)

	writer := transfer.NewWriter(c.store, transfer.Dependencies{
		Reconciler: schema.NewReconciler(optional, core.SpatialReference{EPSG: config.Destination.DefaultEPSG}, c.logger),
		Transcoder: transcoder,
		Applier:    apply.New(transcoder, c.feed, c.runID, c.logger),
		Optional:   optional,
		Transforms: reproject.NewProvider(c.logger),
	}, transfer.Config{
		MaxAttempts: config.Misc.MaxAttempts,
		Threshold:   config.Misc.TransactionThreshold,
	}, c.logger)

	return replicate.NewSynchronizer(replicate.Dependencies{
		Config:    c.configMgr,
		Layers:    c.layers,
		Source:    c.wfs,
		URIs:      c.uris,
		Writer:    writer,
		Store:     c.store,
		Lifecycle: c.lifecycle,
		RunID:     c.runID,
	}, opts, c.logger)
}

// Processor builds a batch processor over a new synchronizer.
func (c *ClientImpl) Processor(opts replicate.Options) (*replicate.Processor, error) {
	s, err := c.Synchronizer(opts)
	if err != nil {
		return nil, err
	}
	return replicate.NewProcessor(s, c.layers, c.logger), nil
}

// Layers returns the layer configuration.
func (c *ClientImpl) Layers() layerconf.Editable { return c.layers }

// Feed returns the change feed, nil when publication is disabled.
func (c *ClientImpl) Feed() core.ChangeFeed { return c.feed }

// WAL returns the run ledger.
func (c *ClientImpl) WAL() *write.WALManager { return c.wal }

// Lifecycle returns the hook manager layer writes report to.
func (c *ClientImpl) Lifecycle() *registry.LifecycleManager { return c.lifecycle }

// RunID identifies the changes and ledger entries of this client.
func (c *ClientImpl) RunID() string { return c.runID }

// Config returns the loaded configuration.
func (c *ClientImpl) Config() *registry.InternalConfig { return c.configMgr.GetConfig() }

// Close closes all connections and releases resources.
func (c *ClientImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.feed != nil {
		if err := c.feed.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close change feed: %w", err))
		}
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close destination: %w", err))
		}
	}
	if c.kvStore != nil {
		if err := c.kvStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close KV store: %w", err))
		}
	}
	return errors.Join(errs...)
}
