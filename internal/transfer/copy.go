package transfer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/featuresync/internal/core"
)

// driverCopy bulk copies every source layer through the store, then strips
// the optional columns the bulk path carried across.
func (w *Writer) driverCopy(ctx context.Context, src core.Source, wc *WriteContext) error {
	strategy, err := ParseTempStrategy(string(wc.Params.TempStrategy))
	if err != nil {
		return err
	}

	layers := src.Layers()
	if len(layers) == 0 {
		w.logger.Warn("source returned no layer for bulk copy, switching to feature copy",
			zap.String("layer", wc.Params.Entry.ID))
		return w.featureCopy(ctx, src, wc)
	}

	opts := core.CreateLayerOptions{
		GeometryColumn: wc.Params.Entry.GeometryColumn,
		PrimaryKey:     wc.Params.Entry.PrimaryKey,
	}
	for _, sl := range layers {
		if err := w.store.DeleteLayer(ctx, wc.Params.LayerName); err != nil {
			w.logger.Warn("unable to delete layer before bulk copy",
				zap.String("layer", wc.Params.LayerName), zap.Error(err))
		}

		var (
			layer core.Layer
			err   error
		)
		switch strategy {
		case TempMemory:
			layer, err = w.stagedCopy(ctx, sl, opts, wc)
		default:
			layer, err = w.store.CopyLayer(ctx, sl, wc.Params.LayerName, opts)
			if err == nil {
				err = w.dropOptional(ctx, w.store, wc.Params.LayerName)
			}
		}
		if err != nil {
			var se *core.SyncError
			if errors.As(err, &se) {
				return err
			}
			w.logger.Warn("bulk copy failed, switching to feature copy",
				zap.String("layer", wc.Params.LayerName), zap.Error(err))
			return w.featureCopy(ctx, src, wc)
		}

		count, err := layer.FeatureCount(ctx)
		if err != nil {
			return err
		}
		w.logger.Info("layer copied",
			zap.String("layer", sl.Descriptor().ID),
			zap.String("destination", wc.Params.LayerName),
			zap.String("staging", string(strategy)),
			zap.Int64("features", count),
		)
		if err := w.buildIndex(ctx, wc.Params.LayerName, true, int(count), wc); err != nil {
			return err
		}
	}
	return nil
}

// stagedCopy copies sl into a scratch store, strips the optional columns
// there and copies the result into the destination.
func (w *Writer) stagedCopy(ctx context.Context, sl core.SourceLayer, opts core.CreateLayerOptions, wc *WriteContext) (core.Layer, error) {
	staging, err := w.deps.Staging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open staging store: %w", err)
	}
	defer staging.Close()

	name := wc.Params.LayerName
	if _, err := staging.CopyLayer(ctx, sl, name, opts); err != nil {
		return nil, fmt.Errorf("failed to stage %s: %w", name, err)
	}
	if err := w.dropOptional(ctx, staging, name); err != nil {
		return nil, err
	}

	staged, err := staging.Layer(ctx, name)
	if err != nil {
		return nil, err
	}
	stagedSource, ok := staged.(core.SourceLayer)
	if !ok || staged == nil {
		return nil, fmt.Errorf("staging store %s cannot be read back", staging.Kind())
	}
	return w.store.CopyLayer(ctx, stagedSource, name, opts)
}

// dropOptional removes every optional column from a bulk copied layer.
func (w *Writer) dropOptional(ctx context.Context, store core.Store, layer string) error {
	for _, name := range w.deps.Optional.Names() {
		if err := store.DeleteField(ctx, layer, name); err != nil {
			return fmt.Errorf("failed to delete optional column %s: %w", name, err)
		}
	}
	return nil
}
