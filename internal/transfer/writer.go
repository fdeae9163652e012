// Package transfer copies source layers into the destination store under
// the retry and transaction policy.
package transfer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/featuresync/internal/apply"
	"github.com/rzpsarthak13/featuresync/internal/core"
	"github.com/rzpsarthak13/featuresync/internal/database"
	"github.com/rzpsarthak13/featuresync/internal/registry"
	"github.com/rzpsarthak13/featuresync/internal/schema"
	"github.com/rzpsarthak13/featuresync/internal/transcode"
)

// Config holds the retry policy of a Writer.
type Config struct {
	MaxAttempts int
	Threshold   int
}

// Dependencies are the collaborators of a Writer.
type Dependencies struct {
	Reconciler *schema.Reconciler
	Transcoder *transcode.Transcoder
	Applier    *apply.Applier
	Optional   *schema.OptionalColumnSet

	// Transforms may be nil when no layer is reprojected.
	Transforms core.TransformProvider

	// Staging opens the store a MEMORY driver copy passes through.
	// Nil uses an in-memory SQLite store.
	Staging func(ctx context.Context) (core.Store, error)
}

// Writer writes source documents into one destination store.
type Writer struct {
	store  core.Store
	deps   Dependencies
	cfg    Config
	logger *zap.Logger
}

// NewWriter creates a writer for store.
func NewWriter(store core.Store, deps Dependencies, cfg Config, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = registry.DefaultMaxAttempts
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = registry.DefaultTransactionThreshold
	}
	if deps.Staging == nil {
		deps.Staging = func(ctx context.Context) (core.Store, error) {
			return database.OpenSQLite(ctx, database.MemoryPath, logger)
		}
	}
	return &Writer{
		store:  store,
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("transfer"),
	}
}

// Write reads params.URI into src and copies it into the destination.
// Transient failures re-read the source at its current URI and run the copy
// again, up to MaxAttempts in total. It returns the primary key of the last
// copied feature when src is partitioned.
func (w *Writer) Write(ctx context.Context, src core.Source, params Params) (*string, error) {
	wc := &WriteContext{
		Params: params,
		Retry:  RetryState{MaxAttempts: w.cfg.MaxAttempts, Threshold: w.cfg.Threshold},
	}
	w.deps.Optional.Add(params.Entry.Discard...)

	err := src.Read(ctx, params.URI, false)
	for {
		if err == nil {
			var maxKey *string
			if maxKey, err = w.writeOnce(ctx, src, wc); err == nil {
				return maxKey, nil
			}
		}
		if !wc.Retry.Retryable(err) {
			w.logger.Error("write failed",
				zap.String("layer", params.Entry.ID),
				zap.Int("attempt", wc.Retry.Attempts+1),
				zap.Error(err),
			)
			return nil, fmt.Errorf("write %s: %w", params.Entry.ID, err)
		}
		wc.Retry.Attempts++
		w.logger.Warn("failed source fetch attempt",
			zap.String("layer", params.Entry.ID),
			zap.String("attempt", fmt.Sprintf("%d/%d", wc.Retry.Attempts, wc.Retry.MaxAttempts)),
			zap.Error(err),
		)
		err = src.Read(ctx, src.URI(), false)
	}
}

func (w *Writer) writeOnce(ctx context.Context, src core.Source, wc *WriteContext) (*string, error) {
	wc.SourceURI = src.URI()
	w.logger.Info("writing layer",
		zap.String("layer", wc.Params.Entry.ID),
		zap.String("mode", wc.Params.mode()),
		zap.Int("attempt", wc.Retry.Attempts+1),
	)
	switch wc.Params.mode() {
	case "featureCopyIncremental":
		return w.featureCopyIncremental(ctx, src, wc)
	case "featureCopy":
		return nil, w.featureCopy(ctx, src, wc)
	default:
		return nil, w.driverCopy(ctx, src, wc)
	}
}

// prepare resolves the destination reference and transform of one source layer.
func (w *Writer) prepare(desc core.LayerDescriptor, wc *WriteContext) schema.Target {
	target := schema.Target{
		Name: wc.Params.LayerName,
		SRS:  desc.SRS,
		Options: core.CreateLayerOptions{
			GeometryColumn: wc.Params.Entry.GeometryColumn,
			PrimaryKey:     wc.Params.Entry.PrimaryKey,
		},
	}
	wc.Transform = nil
	if !wc.Params.SRSConversion || wc.Params.TargetSRS.IsZero() || w.deps.Transforms == nil {
		return target
	}
	fn, err := w.deps.Transforms.BuildTransform(desc.SRS, wc.Params.TargetSRS)
	if err != nil {
		w.logger.Warn("unable to validate selected spatial reference, keeping source reference",
			zap.String("layer", desc.ID),
			zap.Stringer("epsg", wc.Params.TargetSRS),
			zap.Error(err),
		)
		return target
	}
	target.SRS = wc.Params.TargetSRS
	wc.Transform = fn
	return target
}

// featureCopy rewrites the destination layer feature by feature.
func (w *Writer) featureCopy(ctx context.Context, src core.Source, wc *WriteContext) error {
	for _, sl := range src.Layers() {
		desc := sl.Descriptor()
		if err := w.store.DeleteLayer(ctx, wc.Params.LayerName); err != nil {
			return err
		}
		target := w.prepare(desc, wc)
		layer, created, err := w.deps.Reconciler.Reconcile(ctx, desc, w.store, target)
		if err != nil {
			return err
		}

		opts := wc.transcodeOptions()
		count, _, err := w.loop(ctx, sl, layer, wc, func(f *core.Feature, defn *core.FeatureDefinition) error {
			out, err := w.deps.Transcoder.Clone(ctx, f, defn, opts)
			if err != nil {
				return err
			}
			return layer.CreateFeature(ctx, out)
		})
		if err != nil {
			return err
		}
		w.logger.Info("layer copied",
			zap.String("layer", desc.ID),
			zap.String("destination", layer.Name()),
			zap.Int("features", count),
		)
		if err := w.buildIndex(ctx, layer.Name(), created, count, wc); err != nil {
			return err
		}
	}
	return nil
}

// featureCopyIncremental applies a changeset to the destination layer.
func (w *Writer) featureCopyIncremental(ctx context.Context, src core.Source, wc *WriteContext) (*string, error) {
	var maxKey *string
	pkey := wc.Params.Entry.PrimaryKey

	for _, sl := range src.Layers() {
		desc := sl.Descriptor()
		target := w.prepare(desc, wc)
		layer, created, err := w.deps.Reconciler.Reconcile(ctx, desc, w.store, target)
		if err != nil {
			return nil, err
		}

		// Events of a transactional loop are published once it commits.
		var pending *apply.Pending
		if wc.Retry.TransactionsEnabled() {
			pending = &apply.Pending{}
		}
		var skipped int
		count, last, err := w.loop(ctx, sl, layer, wc, func(f *core.Feature, defn *core.FeatureDefinition) error {
			change := core.ChangeInsert
			if v, ok := f.Get(schema.ChangeColumn); ok {
				change = core.ParseChangeType(core.FormatValue(v))
			}
			err := w.deps.Applier.Apply(ctx, change, f, layer, apply.Target{
				Defn:       defn,
				PrimaryKey: pkey,
				Options:    wc.transcodeOptions(),
				Pending:    pending,
			})
			if err != nil && !apply.IsFatal(err) {
				w.logger.Error("invalid feature during change",
					zap.String("layer", desc.ID),
					zap.String("change", string(change)),
					zap.Error(err),
				)
				skipped++
				return nil
			}
			return err
		})
		if err != nil {
			return nil, err
		}
		w.deps.Applier.Flush(ctx, pending)
		w.logger.Info("changes applied",
			zap.String("layer", desc.ID),
			zap.String("destination", layer.Name()),
			zap.Int("features", count),
			zap.Int("skipped", skipped),
		)

		if last != nil && src.Partitioned() {
			key := last.GetString(pkey)
			maxKey = &key
		}
		if err := w.buildIndex(ctx, layer.Name(), created, count, wc); err != nil {
			return nil, err
		}
	}
	return maxKey, nil
}

// loop feeds every feature of sl to each, inside a layer transaction while
// the retry state allows one. It returns the feature count and the last feature.
func (w *Writer) loop(ctx context.Context, sl core.SourceLayer, layer core.Layer, wc *WriteContext,
	each func(f *core.Feature, defn *core.FeatureDefinition) error) (int, *core.Feature, error) {
	tx := wc.Retry.TransactionsEnabled()
	if tx {
		if err := layer.StartTransaction(ctx); err != nil {
			return 0, nil, err
		}
	} else {
		w.logger.Warn("feature copy outside transaction",
			zap.String("layer", layer.Name()),
			zap.Int("attempt", wc.Retry.Attempts+1),
		)
	}
	abort := func(err error) (int, *core.Feature, error) {
		if tx {
			if rbErr := layer.RollbackTransaction(); rbErr != nil {
				w.logger.Warn("rollback failed", zap.String("layer", layer.Name()), zap.Error(rbErr))
			}
		}
		return 0, nil, err
	}

	var (
		defn  *core.FeatureDefinition
		last  *core.Feature
		count int
	)
	sl.ResetReading()
	for f := sl.NextFeature(); f != nil; f = sl.NextFeature() {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}
		if defn == nil {
			defn = w.deps.Transcoder.BuildDefinition(f.Defn)
		}
		if err := each(f, defn); err != nil {
			return abort(err)
		}
		last = f
		count++
	}
	sl.ResetReading()

	if tx {
		if err := layer.CommitTransaction(); err != nil {
			_ = layer.RollbackTransaction()
			return 0, nil, err
		}
	}
	return count, last, nil
}

// buildIndex indexes a layer created by this write once it holds features.
func (w *Writer) buildIndex(ctx context.Context, layer string, created bool, count int, wc *WriteContext) error {
	entry := wc.Params.Entry
	if !created || entry.Index == "" || !entry.HasPrimaryKey() || count == 0 {
		return nil
	}
	return w.store.BuildIndex(ctx, layer, w.indexSpec(entry))
}

func (w *Writer) indexSpec(entry core.LayerConfigEntry) core.IndexSpec {
	gcol := entry.GeometryColumn
	if gcol == "" {
		gcol = database.DefaultGeometryColumn
	}
	return core.IndexSpec{Spec: entry.Index, PrimaryKey: entry.PrimaryKey, GeometryColumn: gcol}
}
