// Package transcode converts source features into the destination layout.
package transcode

import (
	"context"
	"fmt"

	"github.com/go-spatial/geom"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/featuresync/internal/core"
	"github.com/rzpsarthak13/featuresync/internal/schema"
)

// Options controls one Clone call.
type Options struct {
	// Transform reprojects the geometry when non-nil.
	Transform core.TransformFunc

	// WideInteger substitutes wide-integer columns from the cache.
	WideInteger bool

	// SourceURI keys the wide-integer cache.
	SourceURI string
}

// Transcoder builds destination features from source features.
type Transcoder struct {
	optional *schema.OptionalColumnSet
	cache    *WideIntCache
	logger   *zap.Logger
}

// New creates a transcoder. cache may be nil when no layer uses wide integers.
func New(optional *schema.OptionalColumnSet, cache *WideIntCache, logger *zap.Logger) *Transcoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transcoder{
		optional: optional,
		cache:    cache,
		logger:   logger.Named("transcode"),
	}
}

// BuildDefinition derives the destination feature definition of a source layout.
func (t *Transcoder) BuildDefinition(src *core.FeatureDefinition) *core.FeatureDefinition {
	gtype := src.GeometryType
	if gtype == core.GeometryPolygon {
		gtype = core.GeometryMultiPolygon
	}
	return &core.FeatureDefinition{
		Fields:       schema.DestinationFields(src.Fields, t.optional),
		GeometryType: gtype,
	}
}

// PromoteGeometry wraps a polygon as a single-member multipolygon.
func PromoteGeometry(g geom.Geometry) geom.Geometry {
	switch p := g.(type) {
	case geom.Polygon:
		return geom.MultiPolygon{p}
	case *geom.Polygon:
		if p == nil {
			return nil
		}
		return geom.MultiPolygon{*p}
	default:
		return g
	}
}

// Clone returns a new feature with defn's layout holding f's values.
// Fields missing from defn are skipped.
func (t *Transcoder) Clone(ctx context.Context, f *core.Feature, defn *core.FeatureDefinition, opts Options) (*core.Feature, error) {
	out := core.NewFeature(defn)

	g := PromoteGeometry(f.Geometry)
	if opts.Transform != nil && g != nil {
		var err error
		if g, err = opts.Transform(g); err != nil {
			return nil, fmt.Errorf("failed to transform geometry: %w", err)
		}
	}
	out.Geometry = g

	for i, field := range f.Defn.Fields {
		if t.optional.Contains(field.Name) {
			continue
		}
		idx := defn.FieldIndex(field.Name)
		if idx < 0 {
			continue
		}

		value := f.Values[i]
		if opts.WideInteger && value != nil && schema.IsWideIntegerColumn(field.Name) {
			exact, err := t.wideInteger(ctx, f, field.Name, opts.SourceURI)
			if err != nil {
				return nil, err
			}
			if exact != "" {
				value = exact
			}
		}
		out.Values[idx] = value
	}
	return out, nil
}

func (t *Transcoder) wideInteger(ctx context.Context, f *core.Feature, column, uri string) (string, error) {
	if t.cache == nil {
		return "", nil
	}
	rowID := f.GetString(KeyColumn)
	exact, ok, err := t.cache.Lookup(ctx, uri, column, rowID)
	if err != nil {
		return "", err
	}
	if !ok {
		t.logger.Debug("wide integer row missing from side document",
			zap.String("column", column),
			zap.String("id", rowID),
		)
		return "", nil
	}
	return exact, nil
}

// Values maps the non-nil values of f by field name.
func Values(f *core.Feature) map[string]any {
	out := make(map[string]any, len(f.Values))
	for i, field := range f.Defn.Fields {
		if f.Values[i] != nil {
			out[field.Name] = f.Values[i]
		}
	}
	return out
}
