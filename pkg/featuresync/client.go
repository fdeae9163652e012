// Package featuresync synchronizes WFS feature layers into a local
// spatial store.
package featuresync

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/rzpsarthak13/featuresync/internal/client"
	"github.com/rzpsarthak13/featuresync/internal/core"
	"github.com/rzpsarthak13/featuresync/internal/replicate"
	"github.com/rzpsarthak13/featuresync/internal/write"
)

// LayerEntry is the configuration of one source layer.
type LayerEntry = core.LayerConfigEntry

// RunRecord is the ledger entry of one layer synchronization.
type RunRecord = write.WALEntry

// SyncRequest selects the layers of a run and its overrides.
type SyncRequest struct {
	// Layer narrows the run to one layer id ("v:x1234") or configured name.
	Layer string

	// Groups narrows the run to layers sharing a category.
	Groups []string

	// Full rewrites each layer instead of applying its changeset.
	Full bool

	// CQL and EPSG override the destination and layer settings.
	CQL  string
	EPSG string

	// From and To bound the incremental window (yyyy-MM-dd[Thh:mm:ss]).
	From string
	To   string

	// FeatureByFeature disables bulk copies.
	FeatureByFeature bool
}

// Client is the main interface for synchronizing layers.
//
// Typical usage:
//
//	client, _ := featuresync.NewClient(ctx, config, logger)
//	defer client.Close()
//
//	client.Sync(ctx, featuresync.SyncRequest{Layer: "v:x772"})
type Client interface {
	// Sync synchronizes the selected layers. Layers that cannot be
	// synchronized are logged and skipped; other errors stop the run.
	Sync(ctx context.Context, req SyncRequest) error

	// Clean deletes a destination layer and clears its watermark.
	Clean(ctx context.Context, layer string) error

	// Layers returns the configured layer ids, narrowed to groups when given.
	Layers(ctx context.Context, groups ...string) ([]string, error)

	// Configure adds or replaces a layer entry.
	Configure(ctx context.Context, entry LayerEntry) error

	// LastRun returns the latest ledger entry of a layer, nil when it never ran.
	LastRun(ctx context.Context, layerID string) (*RunRecord, error)

	// Feed returns the change feed, nil when publication is disabled.
	Feed() ChangeFeed

	// NewDrainer creates a drainer over the change feed using the
	// configured drain rate and batch size.
	NewDrainer(handler Handler) (*Drainer, error)

	// RunID identifies the changes and ledger entries of this client.
	RunID() string

	// Close closes all connections and releases resources.
	Close() error
}

// configProvider implements client.ConfigProvider to provide config as YAML without import cycles.
type configProvider struct {
	config *Config
}

func (cp *configProvider) GetYAML() ([]byte, error) {
	return yaml.Marshal(cp.config)
}

// clientWrapper wraps the internal client implementation to provide the public Client interface.
type clientWrapper struct {
	mu       sync.Mutex
	impl     *client.ClientImpl
	config   *Config
	logger   *zap.Logger
	drainers []*Drainer
}

// NewClient opens the connections described by config. logger may be nil.
func NewClient(ctx context.Context, config *Config, logger *zap.Logger) (Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	impl, err := client.NewClientImpl(ctx, &configProvider{config: config}, logger)
	if err != nil {
		return nil, err
	}
	return &clientWrapper{impl: impl, config: config, logger: logger}, nil
}

func (cw *clientWrapper) Sync(ctx context.Context, req SyncRequest) error {
	proc, err := cw.impl.Processor(replicate.Options{
		CQL:              req.CQL,
		EPSG:             req.EPSG,
		From:             req.From,
		To:               req.To,
		FeatureByFeature: req.FeatureByFeature,
	})
	if err != nil {
		return err
	}
	mode := replicate.ModeIncremental
	if req.Full {
		mode = replicate.ModeFull
	}
	return proc.Run(ctx, replicate.Request{Layer: req.Layer, Groups: req.Groups, Mode: mode})
}

func (cw *clientWrapper) Clean(ctx context.Context, layer string) error {
	proc, err := cw.impl.Processor(replicate.Options{})
	if err != nil {
		return err
	}
	return proc.Clean(ctx, layer)
}

func (cw *clientWrapper) Layers(ctx context.Context, groups ...string) ([]string, error) {
	proc, err := cw.impl.Processor(replicate.Options{})
	if err != nil {
		return nil, err
	}
	return proc.ValidLayers(ctx, groups)
}

func (cw *clientWrapper) Configure(ctx context.Context, entry LayerEntry) error {
	return cw.impl.Layers().Put(ctx, entry)
}

func (cw *clientWrapper) LastRun(ctx context.Context, layerID string) (*RunRecord, error) {
	return cw.impl.WAL().Latest(ctx, layerID)
}

func (cw *clientWrapper) Feed() ChangeFeed {
	return cw.impl.Feed()
}

func (cw *clientWrapper) NewDrainer(handler Handler) (*Drainer, error) {
	feed := cw.impl.Feed()
	if feed == nil {
		return nil, fmt.Errorf("change feed is disabled")
	}
	d := NewDrainer(feed, handler, DrainerConfig{
		DrainRate: cw.config.ChangeFeed.DrainRate,
		BatchSize: cw.config.ChangeFeed.BatchSize,
	}, cw.logger)

	cw.mu.Lock()
	cw.drainers = append(cw.drainers, d)
	cw.mu.Unlock()
	return d, nil
}

func (cw *clientWrapper) RunID() string {
	return cw.impl.RunID()
}

// Close stops the drainers created by the client, then closes its connections.
func (cw *clientWrapper) Close() error {
	cw.mu.Lock()
	drainers := cw.drainers
	cw.drainers = nil
	cw.mu.Unlock()

	for _, d := range drainers {
		if err := d.Stop(); err != nil {
			cw.logger.Warn("error stopping drainer", zap.Error(err))
		}
	}
	return cw.impl.Close()
}
