package core

import "github.com/go-spatial/geom"

// TransformFunc reprojects a geometry. It must not modify its input.
type TransformFunc func(g geom.Geometry) (geom.Geometry, error)

// TransformProvider builds coordinate transforms between spatial references.
type TransformProvider interface {
	// BuildTransform returns a transform from src to dst, or nil when
	// no transform is needed.
	BuildTransform(src, dst SpatialReference) (TransformFunc, error)
}
