package replicate

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/featuresync/internal/core"
)

// Request selects the layers of one batch run.
type Request struct {
	// Layer narrows the run to one layer id or configured name.
	Layer string

	// Groups narrows the run to layers sharing a category.
	Groups []string

	Mode Mode
}

// Processor runs the synchronizer over the configured layers.
type Processor struct {
	sync   *Synchronizer
	layers core.LayerConfig
	logger *zap.Logger
}

// NewProcessor creates a batch processor.
func NewProcessor(sync *Synchronizer, layers core.LayerConfig, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{sync: sync, layers: layers, logger: logger.Named("processor")}
}

// ValidLayers returns the configured layers, narrowed to groups when given.
func (p *Processor) ValidLayers(ctx context.Context, groups []string) ([]string, error) {
	ids, err := p.layers.LayerNames(ctx)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return ids, nil
	}
	var out []string
	for _, id := range ids {
		cats, err := p.layers.ReadProperty(ctx, id, core.PropCategory)
		if err != nil {
			return nil, err
		}
		if slices.ContainsFunc(core.SplitList(cats), func(c string) bool { return slices.Contains(groups, c) }) {
			out = append(out, id)
		}
	}
	return out, nil
}

// Run synchronizes the requested layers. Layers without spatial data or
// without a required primary key are logged and skipped.
func (p *Processor) Run(ctx context.Context, req Request) error {
	valid, err := p.ValidLayers(ctx, req.Groups)
	if err != nil {
		return err
	}
	p.logger.Debug("layer selection",
		zap.Int("layers", len(valid)),
		zap.Strings("groups", req.Groups),
		zap.String("mode", string(req.Mode)),
	)

	if req.Layer != "" {
		id, err := ResolveLayer(ctx, p.layers, req.Layer)
		if err != nil {
			return err
		}
		if !slices.Contains(valid, id) {
			p.logger.Warn("invalid layer selected", zap.String("layer", id))
			return nil
		}
		return p.sync.SynchronizeLayer(ctx, id, req.Mode)
	}

	var done, skipped int
	for _, id := range valid {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.sync.SynchronizeLayer(ctx, id, req.Mode); err != nil {
			if !core.IsBatchContinuable(err) {
				return err
			}
			p.logger.Error("layer skipped", zap.String("layer", id), zap.Error(err))
			skipped++
			continue
		}
		done++
	}
	p.logger.Info("batch complete", zap.Int("synchronized", done), zap.Int("skipped", skipped))
	return nil
}

// Clean removes one layer from the destination and resets its watermark.
func (p *Processor) Clean(ctx context.Context, layer string) error {
	id, err := ResolveLayer(ctx, p.layers, layer)
	if err != nil {
		return err
	}
	return p.sync.Clean(ctx, id)
}
