package schema

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/featuresync/internal/core"
)

// Target names the destination layer a source layer is reconciled into.
type Target struct {
	// Name is the sanitised destination layer name.
	Name string

	// SRS is the requested destination spatial reference.
	SRS core.SpatialReference

	// Options are passed through to Store.CreateLayer.
	Options core.CreateLayerOptions
}

// Reconciler builds destination layers from source layer descriptors.
type Reconciler struct {
	optional   *OptionalColumnSet
	defaultSRS core.SpatialReference
	logger     *zap.Logger
}

// NewReconciler creates a reconciler. defaultSRS is used when the store
// rejects the requested spatial reference.
func NewReconciler(optional *OptionalColumnSet, defaultSRS core.SpatialReference, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		optional:   optional,
		defaultSRS: defaultSRS,
		logger:     logger.Named("schema"),
	}
}

// DestinationGeometry applies the geometry policy: polygons are promoted to
// multipolygons, everything else passes the store's whitelist.
func DestinationGeometry(src core.GeometryType, dst core.Store) core.GeometryType {
	if src == core.GeometryPolygon {
		return core.GeometryMultiPolygon
	}
	return dst.SelectValidGeometry(src)
}

// Reconcile returns the destination layer for src, creating it when missing.
// created is true only for a layer whose columns were built by this call.
func (r *Reconciler) Reconcile(ctx context.Context, src core.LayerDescriptor, dst core.Store, target Target) (core.Layer, bool, error) {
	existing, err := dst.Layer(ctx, target.Name)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open layer %s: %w", target.Name, err)
	}
	if existing != nil {
		return existing, false, nil
	}

	gtype := DestinationGeometry(src.GeometryType, dst)
	if src.GeometryType == core.GeometryNone && gtype != core.GeometryNone {
		return nil, false, core.NewSyncError(core.ErrCodeASpatial, src.ID,
			fmt.Sprintf("%s destination cannot store layers without geometry", dst.Kind()), nil)
	}

	layer, err := r.create(ctx, dst, target, gtype)
	if err != nil {
		return nil, false, core.NewSyncError(core.ErrCodeLayerCreate, src.ID,
			fmt.Sprintf("%s cannot be created", target.Name), err)
	}

	// A non-empty schema means the store handed back a pre-existing table.
	current, err := layer.Fields(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read fields of %s: %w", target.Name, err)
	}
	if len(current) > 0 {
		return layer, false, nil
	}

	for _, f := range DestinationFields(src.Fields, r.optional) {
		if err := layer.CreateField(ctx, f); err != nil {
			return nil, false, fmt.Errorf("failed to create field %s on %s: %w", f.Name, target.Name, err)
		}
	}
	return layer, true, nil
}

// create issues CreateLayer, handling at most one drop-and-recreate and one
// fallback to the default spatial reference.
func (r *Reconciler) create(ctx context.Context, dst core.Store, target Target, gtype core.GeometryType) (core.Layer, error) {
	srs := target.SRS
	dropped, degraded := false, false

	for {
		res := dst.CreateLayer(ctx, target.Name, srs, gtype, target.Options)
		switch res.Status {
		case core.Created:
			return res.Layer, nil

		case core.AlreadyExists:
			if dropped {
				return nil, fmt.Errorf("layer %s still exists after drop", target.Name)
			}
			// The table exists but is not a registered layer, e.g. a stale aspatial table.
			r.logger.Warn("unregistered table collides with layer name, dropping",
				zap.String("layer", target.Name))
			if err := dst.ExecuteStatement(ctx, "DROP TABLE "+target.Name); err != nil {
				return nil, fmt.Errorf("failed to drop stale table %s: %w", target.Name, err)
			}
			dropped = true

		case core.Failed:
			if res.Reason != core.ReasonUnsupportedSRS || degraded || srs == r.defaultSRS {
				r.logger.Error("cannot create layer",
					zap.String("layer", target.Name), zap.Stringer("srs", srs), zap.Error(res.Err))
				if res.Err == nil {
					return nil, fmt.Errorf("%s", res.Reason)
				}
				return nil, fmt.Errorf("%s: %w", res.Reason, res.Err)
			}
			r.logger.Warn("could not initialise layer with requested spatial reference, using default instead",
				zap.String("layer", target.Name),
				zap.Stringer("requested", srs),
				zap.Stringer("default", r.defaultSRS))
			srs = r.defaultSRS
			degraded = true

		default:
			return nil, fmt.Errorf("unexpected create status %s", res.Status)
		}
	}
}
