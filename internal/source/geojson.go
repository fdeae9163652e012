package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-spatial/geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/featuresync/internal/core"
)

// defaultEPSG is the GeoJSON reference when a document names none.
const defaultEPSG = 4326

type crsMember struct {
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

type featureCollection struct {
	Type     string          `json:"type"`
	CRS      *crsMember      `json:"crs"`
	Features []featureMember `json:"features"`
}

type featureMember struct {
	Geometry   *geojson.Geometry `json:"geometry"`
	Properties json.RawMessage   `json:"properties"`
}

type property struct {
	key   string
	value any
	ftype core.FieldType
}

var epsgSuffix = regexp.MustCompile(`(\d+)\s*$`)

// decodeCollection parses a GeoJSON feature collection into one source layer.
// Fields come from the first feature; keys that appear only later are dropped.
func decodeCollection(body []byte, layerID string, logger *zap.Logger) (*memoryLayer, error) {
	var fc featureCollection
	if err := json.Unmarshal(body, &fc); err != nil {
		return nil, fmt.Errorf("failed to decode feature collection: %w", err)
	}
	if fc.Type != "" && !strings.EqualFold(fc.Type, "FeatureCollection") {
		return nil, fmt.Errorf("unexpected GeoJSON type %q", fc.Type)
	}

	desc := core.LayerDescriptor{
		ID:           layerID,
		DisplayName:  layerID,
		SRS:          core.SpatialReference{EPSG: defaultEPSG},
		GeometryType: core.GeometryUnknown,
	}
	if fc.CRS != nil {
		if m := epsgSuffix.FindStringSubmatch(fc.CRS.Properties.Name); m != nil {
			code, _ := strconv.Atoi(m[1])
			desc.SRS = core.SpatialReference{EPSG: code}
		}
	}

	rows := make([][]property, len(fc.Features))
	for i, member := range fc.Features {
		props, err := orderedProperties(member.Properties)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		rows[i] = props
	}

	var fields []core.FieldDefinition
	index := map[string]int{}
	if len(rows) > 0 {
		for _, p := range rows[0] {
			index[p.key] = len(fields)
			fields = append(fields, core.FieldDefinition{Name: p.key})
		}
	}
	for _, row := range rows {
		for _, p := range row {
			i, ok := index[p.key]
			if !ok || p.ftype == "" {
				continue
			}
			fields[i].Type = widen(fields[i].Type, p.ftype)
		}
	}
	for i := range fields {
		if fields[i].Type == "" {
			fields[i].Type = core.FieldString
		}
	}
	desc.Fields = fields

	defn := &core.FeatureDefinition{Fields: fields}
	features := make([]*core.Feature, 0, len(fc.Features))
	first := true
	for i, member := range fc.Features {
		f := core.NewFeature(defn)
		if member.Geometry != nil && member.Geometry.Geometry != nil {
			f.Geometry = member.Geometry.Geometry
		}
		desc.GeometryType = mergeGeometryType(desc.GeometryType, core.GeometryTypeOf(f.Geometry), first)
		first = false

		for _, p := range rows[i] {
			idx, ok := index[p.key]
			if !ok {
				logger.Debug("dropping field absent from layer definition",
					zap.String("layer", layerID),
					zap.String("field", p.key),
					zap.Int("feature", i),
				)
				continue
			}
			f.Values[idx] = coerce(p.value, fields[idx].Type)
		}
		features = append(features, f)
	}
	defn.GeometryType = desc.GeometryType

	return &memoryLayer{desc: desc, features: features}, nil
}

// orderedProperties decodes a properties object keeping member order.
func orderedProperties(raw json.RawMessage) ([]property, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("properties must be an object")
	}

	var props []property
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)

		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("property %q: %w", key, err)
		}
		props = append(props, classify(key, value))
	}
	return props, nil
}

func classify(key string, value any) property {
	switch v := value.(type) {
	case nil:
		return property{key: key}
	case json.Number:
		n, err := v.Int64()
		if err != nil || strings.ContainsAny(v.String(), ".eE") {
			f, _ := v.Float64()
			return property{key: key, value: f, ftype: core.FieldReal}
		}
		if n > math.MaxInt32 || n < math.MinInt32 {
			return property{key: key, value: n, ftype: core.FieldInteger64}
		}
		return property{key: key, value: n, ftype: core.FieldInteger}
	case bool:
		if v {
			return property{key: key, value: int64(1), ftype: core.FieldInteger}
		}
		return property{key: key, value: int64(0), ftype: core.FieldInteger}
	case string:
		return property{key: key, value: v, ftype: core.FieldString}
	default:
		b, _ := json.Marshal(v)
		return property{key: key, value: string(b), ftype: core.FieldString}
	}
}

// widen returns the narrowest type holding both a and b.
func widen(a, b core.FieldType) core.FieldType {
	if a == "" || a == b {
		return b
	}
	rank := map[core.FieldType]int{core.FieldInteger: 1, core.FieldInteger64: 2, core.FieldReal: 3}
	ra, okA := rank[a]
	rb, okB := rank[b]
	if !okA || !okB {
		return core.FieldString
	}
	if rb > ra {
		return b
	}
	return a
}

func coerce(v any, t core.FieldType) any {
	if v == nil {
		return nil
	}
	switch t {
	case core.FieldString:
		return core.FormatValue(v)
	case core.FieldReal:
		if n, ok := v.(int64); ok {
			return float64(n)
		}
	}
	return v
}

func mergeGeometryType(current, next core.GeometryType, first bool) core.GeometryType {
	if first {
		return next
	}
	if current == next || next == core.GeometryNone {
		return current
	}
	if current == core.GeometryNone {
		return next
	}
	pair := map[core.GeometryType]bool{current: true, next: true}
	if pair[core.GeometryPolygon] && pair[core.GeometryMultiPolygon] {
		return core.GeometryMultiPolygon
	}
	return core.GeometryUnknown
}

// memoryLayer serves the decoded features of one document.
type memoryLayer struct {
	desc     core.LayerDescriptor
	features []*core.Feature
	pos      int
}

func (l *memoryLayer) Descriptor() core.LayerDescriptor {
	return l.desc
}

func (l *memoryLayer) NextFeature() *core.Feature {
	if l.pos >= len(l.features) {
		return nil
	}
	f := l.features[l.pos]
	l.pos++
	return f
}

func (l *memoryLayer) ResetReading() {
	l.pos = 0
}

// Len returns the number of decoded features.
func (l *memoryLayer) Len() int {
	return len(l.features)
}
