package core

import (
	"fmt"
	"strings"

	"github.com/go-spatial/geom"
)

// FieldType is the attribute type of a feature field.
type FieldType string

const (
	// FieldInteger is a 32-bit integer attribute.
	FieldInteger FieldType = "Integer"

	// FieldInteger64 is a 64-bit integer attribute.
	FieldInteger64 FieldType = "Integer64"

	// FieldReal is a floating point attribute.
	FieldReal FieldType = "Real"

	// FieldString is a text attribute.
	FieldString FieldType = "String"

	// FieldDate is a calendar date attribute.
	FieldDate FieldType = "Date"

	// FieldDateTime is a timestamp attribute.
	FieldDateTime FieldType = "DateTime"

	// FieldBinary is an opaque byte attribute.
	FieldBinary FieldType = "Binary"
)

// FieldDefinition describes one attribute column of a layer.
type FieldDefinition struct {
	// Name is the column name.
	Name string

	// Type is the attribute type.
	Type FieldType

	// Width is the declared width, zero when unconstrained.
	Width int

	// Precision is the declared precision for real values.
	Precision int
}

// GeometryType is the closed set of geometry kinds a layer may declare.
type GeometryType string

const (
	GeometryNone               GeometryType = "None"
	GeometryUnknown            GeometryType = "Unknown"
	GeometryPoint              GeometryType = "Point"
	GeometryLineString         GeometryType = "LineString"
	GeometryPolygon            GeometryType = "Polygon"
	GeometryMultiPoint         GeometryType = "MultiPoint"
	GeometryMultiLineString    GeometryType = "MultiLineString"
	GeometryMultiPolygon       GeometryType = "MultiPolygon"
	GeometryGeometryCollection GeometryType = "GeometryCollection"
)

// ParseGeometryType maps a GeoJSON or catalogue geometry name to a GeometryType.
// Unrecognised names map to GeometryUnknown.
func ParseGeometryType(name string) GeometryType {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return GeometryNone
	case "point":
		return GeometryPoint
	case "linestring":
		return GeometryLineString
	case "polygon":
		return GeometryPolygon
	case "multipoint":
		return GeometryMultiPoint
	case "multilinestring":
		return GeometryMultiLineString
	case "multipolygon":
		return GeometryMultiPolygon
	case "geometrycollection":
		return GeometryGeometryCollection
	default:
		return GeometryUnknown
	}
}

// GeometryTypeOf reports the GeometryType of a concrete geometry value.
func GeometryTypeOf(g geom.Geometry) GeometryType {
	switch g.(type) {
	case nil:
		return GeometryNone
	case geom.Point, *geom.Point:
		return GeometryPoint
	case geom.LineString, *geom.LineString:
		return GeometryLineString
	case geom.Polygon, *geom.Polygon:
		return GeometryPolygon
	case geom.MultiPoint, *geom.MultiPoint:
		return GeometryMultiPoint
	case geom.MultiLineString, *geom.MultiLineString:
		return GeometryMultiLineString
	case geom.MultiPolygon, *geom.MultiPolygon:
		return GeometryMultiPolygon
	case geom.Collection, *geom.Collection:
		return GeometryGeometryCollection
	default:
		return GeometryUnknown
	}
}

// SpatialReference identifies a coordinate reference system by EPSG code.
// A zero EPSG means the reference is unknown.
type SpatialReference struct {
	EPSG int
}

// IsZero reports whether the reference is unset.
func (s SpatialReference) IsZero() bool {
	return s.EPSG == 0
}

func (s SpatialReference) String() string {
	if s.IsZero() {
		return "EPSG:unknown"
	}
	return fmt.Sprintf("EPSG:%d", s.EPSG)
}

// LayerDescriptor describes one layer on either side of a copy.
// It is created when a layer is opened and is not modified during a pass.
type LayerDescriptor struct {
	// ID is the stable source identifier, e.g. "v:x1234".
	ID string

	// DisplayName is the human readable layer title.
	DisplayName string

	// Fields are the attribute definitions in source order.
	Fields []FieldDefinition

	// SRS is the layer's spatial reference.
	SRS SpatialReference

	// GeometryType is the declared geometry type of the layer.
	GeometryType GeometryType
}

// FeatureDefinition is the ordered field layout shared by a set of features.
type FeatureDefinition struct {
	Fields       []FieldDefinition
	GeometryType GeometryType
}

// FieldIndex returns the position of the named field, or -1.
func (d *FeatureDefinition) FieldIndex(name string) int {
	if d == nil {
		return -1
	}
	for i, f := range d.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// FieldNames returns the field names in definition order.
func (d *FeatureDefinition) FieldNames() []string {
	names := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		names[i] = f.Name
	}
	return names
}

// Feature is one record with a geometry and named attribute values.
// Values is parallel to Defn.Fields.
type Feature struct {
	// FID is the destination-assigned feature identity, zero until stored.
	FID int64

	// Geometry may be nil for features without a spatial component.
	Geometry geom.Geometry

	// Defn is the field layout of Values.
	Defn *FeatureDefinition

	// Values holds one value per field, nil for NULL.
	Values []any
}

// NewFeature creates an empty feature for the given definition.
func NewFeature(defn *FeatureDefinition) *Feature {
	return &Feature{
		Defn:   defn,
		Values: make([]any, len(defn.Fields)),
	}
}

// Get returns the value of the named field and whether the field exists.
func (f *Feature) Get(name string) (any, bool) {
	idx := f.Defn.FieldIndex(name)
	if idx < 0 {
		return nil, false
	}
	return f.Values[idx], true
}

// GetString returns the named field rendered as a string, "" when absent or NULL.
func (f *Feature) GetString(name string) string {
	v, ok := f.Get(name)
	if !ok || v == nil {
		return ""
	}
	return FormatValue(v)
}

// Set assigns the named field. It returns an error when the field is not defined.
func (f *Feature) Set(name string, value any) error {
	idx := f.Defn.FieldIndex(name)
	if idx < 0 {
		return fmt.Errorf("field %q not defined on feature", name)
	}
	f.Values[idx] = value
	return nil
}

// FormatValue renders an attribute value the way it is compared in identity filters.
// Whole floats print without exponent or fraction.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	case float32:
		return FormatValue(float64(val))
	default:
		return fmt.Sprintf("%v", val)
	}
}
