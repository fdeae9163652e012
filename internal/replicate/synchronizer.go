// Package replicate drives full and incremental synchronization of
// configured layers.
package replicate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/featuresync/internal/core"
	"github.com/rzpsarthak13/featuresync/internal/registry"
	"github.com/rzpsarthak13/featuresync/internal/schema"
	"github.com/rzpsarthak13/featuresync/internal/source"
	"github.com/rzpsarthak13/featuresync/internal/transfer"
)

// Mode selects how a layer is synchronized.
type Mode string

const (
	// ModeFull rewrites the destination layer from the whole source layer.
	ModeFull Mode = "full"

	// ModeIncremental applies the changes of a date window.
	ModeIncremental Mode = "incremental"
)

// Source is a source that can page reads by primary key.
type Source interface {
	core.Source
	SetPartitioned(partitioned bool)
}

// Options are the command line overrides of one run.
type Options struct {
	// CQL and EPSG take precedence over destination and layer settings.
	CQL  string
	EPSG string

	// From and To bound the incremental window; blank means automatic.
	From string
	To   string

	// FeatureByFeature disables bulk copies.
	FeatureByFeature bool
}

// Dependencies are the collaborators of a Synchronizer.
type Dependencies struct {
	Config    *registry.ConfigManager
	Layers    core.LayerConfig
	Source    Source
	URIs      *source.URIBuilder
	Writer    *transfer.Writer
	Store     core.Store
	Lifecycle *registry.LifecycleManager
	RunID     string
}

// Synchronizer synchronizes one layer at a time.
type Synchronizer struct {
	deps   Dependencies
	opts   Options
	from   *time.Time
	to     *time.Time
	logger *zap.Logger
	now    func() time.Time
}

// NewSynchronizer validates opts and creates a synchronizer.
func NewSynchronizer(deps Dependencies, opts Options, logger *zap.Logger) (*Synchronizer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Lifecycle == nil {
		deps.Lifecycle = registry.NewLifecycleManager()
	}
	s := &Synchronizer{
		deps:   deps,
		opts:   opts,
		logger: logger.Named("replicate"),
		now:    time.Now,
	}
	if opts.From != "" {
		t, err := ParseDate(opts.From)
		if err != nil {
			return nil, err
		}
		s.from = &t
	}
	if opts.To != "" {
		t, err := ParseDate(opts.To)
		if err != nil {
			return nil, err
		}
		s.to = &t
	}
	if _, err := ParseEPSG(opts.EPSG); err != nil {
		return nil, err
	}
	if _, err := transfer.ParseTempStrategy(deps.Config.GetConfig().Destination.TempStrategy); err != nil {
		return nil, err
	}
	return s, nil
}

// DestinationName returns the sanitised destination layer name of entry.
func DestinationName(entry core.LayerConfigEntry) string {
	if entry.Name != "" {
		return schema.Sanitise(entry.Name)
	}
	return schema.Sanitise(entry.ID)
}

// layerPlan is the resolved configuration of one layer synchronization.
type layerPlan struct {
	entry     core.LayerConfigEntry
	cql       string
	targetSRS core.SpatialReference
	fbf       bool
}

func (s *Synchronizer) plan(ctx context.Context, layerID string) (*layerPlan, error) {
	if !IsLayerID(layerID) {
		return nil, core.NewSyncError(core.ErrCodeConfiguration, layerID, "layer id must be formatted v:x####", nil)
	}
	entry, err := s.deps.Layers.Entry(ctx, layerID)
	if err != nil {
		return nil, err
	}
	dst := s.deps.Config.GetConfig().Destination
	srs, err := ParseEPSG(precedence(s.opts.EPSG, dst.EPSG, entry.EPSG))
	if err != nil {
		return nil, err
	}
	return &layerPlan{
		entry:     entry,
		cql:       precedence(s.opts.CQL, dst.CQL, entry.CQL),
		targetSRS: srs,
		fbf:       s.opts.FeatureByFeature,
	}, nil
}

func (s *Synchronizer) params(p *layerPlan, uri string, incremental bool) transfer.Params {
	cfg := s.deps.Config
	return transfer.Params{
		URI:                       uri,
		Entry:                     p.entry,
		LayerName:                 DestinationName(p.entry),
		IncrementalWithPrimaryKey: incremental,
		ForceFeatureByFeature:     p.fbf,
		WideInteger:               cfg.IsSixtyFourLayer(p.entry.ID),
		SRSConversion:             !p.targetSRS.IsZero(),
		TargetSRS:                 p.targetSRS,
		TempStrategy:              transfer.TempStrategy(cfg.GetConfig().Destination.TempStrategy),
	}
}

// SynchronizeLayer synchronizes one configured layer. Lifecycle hooks run
// around the write; a start hook error aborts the layer.
func (s *Synchronizer) SynchronizeLayer(ctx context.Context, layerID string, mode Mode) (err error) {
	p, err := s.plan(ctx, layerID)
	if err != nil {
		return err
	}

	run := registry.LayerRun{RunID: s.deps.RunID, LayerID: layerID, Mode: string(mode)}
	var from, to time.Time
	if mode == ModeIncremental {
		if from, to, err = s.window(ctx, layerID); err != nil {
			return err
		}
		if !to.After(from) {
			s.logger.Info("no update required for layer",
				zap.String("layer", layerID),
				zap.String("from", from.Format(DateLayout)),
				zap.String("to", to.Format(DateLayout)),
			)
			return nil
		}
		run.From, run.To = from.Format(DateLayout), to.Format(DateLayout)
	}

	if err := s.deps.Lifecycle.ExecuteStartHooks(ctx, run); err != nil {
		return fmt.Errorf("start hook for %s: %w", layerID, err)
	}
	defer func() {
		for _, hookErr := range s.deps.Lifecycle.ExecuteFinishHooks(ctx, run, err) {
			s.logger.Warn("finish hook failed", zap.String("layer", layerID), zap.Error(hookErr))
		}
	}()

	switch mode {
	case ModeFull:
		return s.full(ctx, p)
	case ModeIncremental:
		return s.incremental(ctx, p, from, to)
	default:
		return core.NewSyncError(core.ErrCodeConfiguration, layerID, fmt.Sprintf("unknown mode %q", mode), nil)
	}
}

func (s *Synchronizer) full(ctx context.Context, p *layerPlan) error {
	id := p.entry.ID
	uri := s.deps.URIs.SourceURI(id, source.Query{CQL: p.cql})
	s.deps.Source.SetPartitioned(false)

	s.logger.Info("full replicate", zap.String("layer", id), zap.String("uri", uri))
	if _, err := s.deps.Writer.Write(ctx, s.deps.Source, s.params(p, uri, false)); err != nil {
		return err
	}
	return s.recordWatermark(ctx, id, s.now())
}

func (s *Synchronizer) incremental(ctx context.Context, p *layerPlan, from, to time.Time) error {
	id := p.entry.ID
	haspk := p.entry.HasPrimaryKey()
	q := source.Query{CQL: p.cql}

	partitioned := s.deps.Config.IsPartitionLayer(id)
	if partitioned {
		if !haspk {
			return core.NewSyncError(core.ErrCodePrimaryKeyUnavailable, id,
				"cannot partition layer without a primary key", nil)
		}
		q.PrimaryKey = p.entry.PrimaryKey
		q.PartitionStart = "0"
		q.PartitionSize = s.deps.Config.GetConfig().Misc.PartitionSize
		p.fbf = true
	}
	s.deps.Source.SetPartitioned(partitioned)

	fromS, toS := from.Format(DateLayout), to.Format(DateLayout)
	for page := 1; ; page++ {
		uri := s.deps.URIs.SourceURI(id, q)
		if haspk {
			uri = s.deps.URIs.ChangesetURI(id, fromS, toS, q)
		}
		s.logger.Info("incremental replicate",
			zap.String("layer", id),
			zap.String("from", fromS),
			zap.String("to", toS),
			zap.Int("page", page),
			zap.String("uri", uri),
		)

		maxKey, err := s.deps.Writer.Write(ctx, s.deps.Source, s.params(p, uri, haspk))
		if err != nil {
			return err
		}
		if maxKey == nil {
			break
		}
		if *maxKey == q.PartitionStart {
			s.logger.Warn("partition cursor did not advance, stopping",
				zap.String("layer", id), zap.String("key", *maxKey))
			break
		}
		q.PartitionStart = *maxKey
	}
	return s.recordWatermark(ctx, id, to)
}

// window resolves the incremental window of a layer: explicit bounds first,
// then the recorded watermark or EarliestInitDate, then now.
func (s *Synchronizer) window(ctx context.Context, layerID string) (time.Time, time.Time, error) {
	var from, to time.Time
	if s.from != nil {
		from = *s.from
	} else {
		last, err := s.deps.Layers.ReadProperty(ctx, layerID, core.PropLastModified)
		if err != nil {
			return from, to, err
		}
		if last == "" {
			last = EarliestInitDate
		}
		if from, err = ParseDate(last); err != nil {
			return from, to, fmt.Errorf("recorded watermark of %s: %w", layerID, err)
		}
	}
	if s.to != nil {
		to = *s.to
	} else {
		to = s.now().UTC().Truncate(time.Second)
	}
	return from, to, nil
}

func (s *Synchronizer) recordWatermark(ctx context.Context, layerID string, t time.Time) error {
	mark := t.UTC().Format(DateLayout)
	if err := s.deps.Layers.WriteProperty(ctx, layerID, core.PropLastModified, mark); err != nil {
		return fmt.Errorf("failed to record watermark of %s: %w", layerID, err)
	}
	s.logger.Info("layer synchronized", zap.String("layer", layerID), zap.String("lastmodified", mark))
	return nil
}

// Clean deletes the destination layer and clears its watermark.
func (s *Synchronizer) Clean(ctx context.Context, layerID string) error {
	p, err := s.plan(ctx, layerID)
	if err != nil {
		return err
	}
	name := DestinationName(p.entry)
	if err := s.deps.Store.DeleteLayer(ctx, name); err != nil {
		return fmt.Errorf("failed to clean layer %s: %w", name, err)
	}
	if err := s.deps.Layers.WriteProperty(ctx, layerID, core.PropLastModified, ""); err != nil {
		return fmt.Errorf("failed to clear watermark of %s: %w", layerID, err)
	}
	s.logger.Info("layer cleaned", zap.String("layer", layerID), zap.String("destination", name))
	return nil
}
