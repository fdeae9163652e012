package database

import (
	"fmt"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/wkb"
)

// encodeGeometry renders a geometry as WKB for storage. nil stays NULL.
func encodeGeometry(g geom.Geometry) (any, error) {
	if g == nil {
		return nil, nil
	}
	b, err := wkb.EncodeBytes(g)
	if err != nil {
		return nil, fmt.Errorf("failed to encode geometry: %w", err)
	}
	return b, nil
}

// decodeGeometry parses a stored WKB value.
func decodeGeometry(v any) (geom.Geometry, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		if len(b) == 0 {
			return nil, nil
		}
		g, err := wkb.DecodeBytes(b)
		if err != nil {
			return nil, fmt.Errorf("failed to decode geometry: %w", err)
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unexpected geometry value %T", v)
	}
}
