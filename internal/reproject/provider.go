// Package reproject builds coordinate transforms between EPSG references.
package reproject

import (
	"fmt"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/proj"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/featuresync/internal/core"
)

const wgs84 = 4326

// supported lists the references the projection library can reach from WGS84.
var supported = map[int]proj.EPSGCode{
	wgs84: proj.EPSG4326,
	3395:  proj.EPSG3395,
	3857:  proj.EPSG3857,
	4087:  proj.EPSG4087,
}

// Provider implements core.TransformProvider over go-spatial/proj.
type Provider struct {
	logger *zap.Logger
}

// NewProvider creates a transform provider.
func NewProvider(logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{logger: logger.Named("reproject")}
}

// Supported reports whether epsg can be used on either side of a transform.
func Supported(epsg int) bool {
	_, ok := supported[epsg]
	return ok
}

// BuildTransform returns nil when the references match or either is unknown.
func (p *Provider) BuildTransform(src, dst core.SpatialReference) (core.TransformFunc, error) {
	if src.IsZero() || dst.IsZero() || src == dst {
		return nil, nil
	}
	from, ok := supported[src.EPSG]
	if !ok {
		return nil, core.NewSyncError(core.ErrCodeConfiguration, "", fmt.Sprintf("no transform from %s", src), nil)
	}
	to, ok := supported[dst.EPSG]
	if !ok {
		return nil, core.NewSyncError(core.ErrCodeConfiguration, "", fmt.Sprintf("no transform to %s", dst), nil)
	}
	p.logger.Debug("transform built", zap.Stringer("from", src), zap.Stringer("to", dst))

	convert := func(coords []float64) ([]float64, error) {
		var err error
		if src.EPSG != wgs84 {
			if coords, err = proj.Inverse(from, coords); err != nil {
				return nil, err
			}
		}
		if dst.EPSG != wgs84 {
			if coords, err = proj.Convert(to, coords); err != nil {
				return nil, err
			}
		}
		return coords, nil
	}
	return func(g geom.Geometry) (geom.Geometry, error) {
		return transformGeometry(g, convert)
	}, nil
}

type converter func([]float64) ([]float64, error)

func transformPoints(pts [][2]float64, convert converter) ([][2]float64, error) {
	if len(pts) == 0 {
		return nil, nil
	}
	flat := make([]float64, 0, len(pts)*2)
	for _, pt := range pts {
		flat = append(flat, pt[0], pt[1])
	}
	out, err := convert(flat)
	if err != nil {
		return nil, err
	}
	res := make([][2]float64, len(pts))
	for i := range res {
		res[i] = [2]float64{out[2*i], out[2*i+1]}
	}
	return res, nil
}

func transformRings(rings [][][2]float64, convert converter) ([][][2]float64, error) {
	res := make([][][2]float64, len(rings))
	for i, ring := range rings {
		pts, err := transformPoints(ring, convert)
		if err != nil {
			return nil, err
		}
		res[i] = pts
	}
	return res, nil
}

// transformGeometry returns a reprojected copy of g.
func transformGeometry(g geom.Geometry, convert converter) (geom.Geometry, error) {
	switch v := g.(type) {
	case nil:
		return nil, nil
	case geom.Point:
		pts, err := transformPoints([][2]float64{v}, convert)
		if err != nil {
			return nil, err
		}
		return geom.Point(pts[0]), nil
	case geom.MultiPoint:
		pts, err := transformPoints(v, convert)
		return geom.MultiPoint(pts), err
	case geom.LineString:
		pts, err := transformPoints(v, convert)
		return geom.LineString(pts), err
	case geom.MultiLineString:
		lines, err := transformRings(v, convert)
		return geom.MultiLineString(lines), err
	case geom.Polygon:
		rings, err := transformRings(v, convert)
		return geom.Polygon(rings), err
	case geom.MultiPolygon:
		res := make(geom.MultiPolygon, len(v))
		for i, poly := range v {
			rings, err := transformRings(poly, convert)
			if err != nil {
				return nil, err
			}
			res[i] = rings
		}
		return res, nil
	case geom.Collection:
		res := make(geom.Collection, len(v))
		for i, member := range v {
			out, err := transformGeometry(member, convert)
			if err != nil {
				return nil, err
			}
			res[i] = out
		}
		return res, nil
	case *geom.Point:
		return transformGeometry(*v, convert)
	case *geom.MultiPoint:
		return transformGeometry(*v, convert)
	case *geom.LineString:
		return transformGeometry(*v, convert)
	case *geom.MultiLineString:
		return transformGeometry(*v, convert)
	case *geom.Polygon:
		return transformGeometry(*v, convert)
	case *geom.MultiPolygon:
		return transformGeometry(*v, convert)
	case *geom.Collection:
		return transformGeometry(*v, convert)
	default:
		return nil, fmt.Errorf("unsupported geometry %T", g)
	}
}
