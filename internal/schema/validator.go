package schema

import (
	"fmt"

	"github.com/rzpsarthak13/featuresync/internal/core"
)

// FeatureValidator validates features against a destination table layout.
type FeatureValidator struct {
	mapper *TypeMapper
}

// NewFeatureValidator creates a new feature validator.
func NewFeatureValidator(mapper *TypeMapper) *FeatureValidator {
	return &FeatureValidator{mapper: mapper}
}

// ValidateFeature checks that f is well formed and its values fit the layout columns.
// Fields of f that the layout does not carry are ignored.
func (fv *FeatureValidator) ValidateFeature(layout TableLayout, f *core.Feature) error {
	if f == nil {
		return fmt.Errorf("feature cannot be nil")
	}
	if f.Defn == nil {
		return fmt.Errorf("feature has no definition")
	}
	if len(f.Values) != len(f.Defn.Fields) {
		return fmt.Errorf("feature has %d values for %d fields", len(f.Values), len(f.Defn.Fields))
	}

	if err := fv.validateGeometry(layout, f); err != nil {
		return err
	}

	for _, col := range layout.Fields {
		value, exists := f.Get(col.Name)
		if !exists || value == nil {
			continue
		}
		if err := fv.validateColumnType(col, value); err != nil {
			return fmt.Errorf("column '%s': %w", col.Name, err)
		}
	}
	return nil
}

func (fv *FeatureValidator) validateGeometry(layout TableLayout, f *core.Feature) error {
	if f.Geometry == nil {
		return nil
	}
	if layout.GeometryColumn == "" {
		return fmt.Errorf("layer %s has no geometry column", layout.Name)
	}
	switch layout.GeometryType {
	case core.GeometryUnknown, core.GeometryGeometryCollection, "":
		return nil
	}
	if got := core.GeometryTypeOf(f.Geometry); got != layout.GeometryType {
		return fmt.Errorf("geometry type mismatch: layer %s expects %s, got %s", layout.Name, layout.GeometryType, got)
	}
	return nil
}

// validateColumnType validates that a value is compatible with the column type.
func (fv *FeatureValidator) validateColumnType(col core.FieldDefinition, value any) error {
	// If conversion succeeds, the type is compatible
	if _, err := fv.mapper.ConvertToDBValue(value, col.Type); err != nil {
		return fmt.Errorf("type mismatch: expected %s, got %T: %w", col.Type, value, err)
	}
	return nil
}
