package schema

import (
	"fmt"
	"strings"

	"github.com/rzpsarthak13/featuresync/internal/core"
)

// TableLayout is the physical shape of a destination layer table.
type TableLayout struct {
	Name           string
	FIDColumn      string
	GeometryColumn string
	GeometryType   core.GeometryType
	Fields         []core.FieldDefinition
}

// Quote quotes an identifier for the dialect.
func (d Dialect) Quote(ident string) string {
	if d == DialectMySQL {
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// Translator builds parameterized statements that move features in and out of layer tables.
type Translator struct {
	dialect   Dialect
	mapper    *TypeMapper
	validator *FeatureValidator
}

// NewTranslator creates a new statement translator for a dialect.
func NewTranslator(dialect Dialect) *Translator {
	mapper := NewTypeMapper(dialect)
	return &Translator{
		dialect:   dialect,
		mapper:    mapper,
		validator: NewFeatureValidator(mapper),
	}
}

// Mapper returns the translator's type mapper.
func (t *Translator) Mapper() *TypeMapper {
	return t.mapper
}

// columnArgs collects the quoted columns and converted values of f that exist in the layout.
// geom is the encoded geometry, nil for NULL.
func (t *Translator) columnArgs(layout TableLayout, f *core.Feature, geom any) ([]string, []any, error) {
	columns := make([]string, 0, len(layout.Fields)+1)
	args := make([]any, 0, len(layout.Fields)+1)

	if layout.GeometryColumn != "" {
		columns = append(columns, t.dialect.Quote(layout.GeometryColumn))
		args = append(args, geom)
	}

	for _, col := range layout.Fields {
		value, exists := f.Get(col.Name)
		if !exists {
			continue
		}
		converted, err := t.mapper.ConvertToDBValue(value, col.Type)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to convert value for column '%s': %w", col.Name, err)
		}
		columns = append(columns, t.dialect.Quote(col.Name))
		args = append(args, converted)
	}
	return columns, args, nil
}

// ToInsert builds an INSERT for a feature. A non-zero FID is inserted explicitly.
func (t *Translator) ToInsert(layout TableLayout, f *core.Feature, geom any) (string, []any, error) {
	if err := t.validator.ValidateFeature(layout, f); err != nil {
		return "", nil, fmt.Errorf("validation failed: %w", err)
	}

	columns, args, err := t.columnArgs(layout, f, geom)
	if err != nil {
		return "", nil, err
	}
	if f.FID != 0 {
		columns = append(columns, t.dialect.Quote(layout.FIDColumn))
		args = append(args, f.FID)
	}
	if len(columns) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", t.dialect.Quote(layout.Name)), nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		t.dialect.Quote(layout.Name),
		strings.Join(columns, ", "),
		placeholders,
	)
	return query, args, nil
}

// ToUpdate builds an UPDATE overwriting every mapped column of the feature with f.FID.
func (t *Translator) ToUpdate(layout TableLayout, f *core.Feature, geom any) (string, []any, error) {
	if f.FID == 0 {
		return "", nil, fmt.Errorf("feature has no FID")
	}
	if err := t.validator.ValidateFeature(layout, f); err != nil {
		return "", nil, fmt.Errorf("validation failed: %w", err)
	}

	columns, args, err := t.columnArgs(layout, f, geom)
	if err != nil {
		return "", nil, err
	}
	if len(columns) == 0 {
		return "", nil, fmt.Errorf("no columns to update")
	}

	setParts := make([]string, len(columns))
	for i, c := range columns {
		setParts[i] = c + " = ?"
	}
	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s = ?",
		t.dialect.Quote(layout.Name),
		strings.Join(setParts, ", "),
		t.dialect.Quote(layout.FIDColumn),
	)
	return query, append(args, f.FID), nil
}

// ToDelete builds a DELETE for one FID.
func (t *Translator) ToDelete(layout TableLayout, fid int64) (string, []any) {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = ?",
		t.dialect.Quote(layout.Name), t.dialect.Quote(layout.FIDColumn)), []any{fid}
}

// SelectColumns returns the quoted column list read back by ToSelect, in scan order:
// FID, geometry (when present), then the layout fields.
func (t *Translator) SelectColumns(layout TableLayout) []string {
	cols := []string{t.dialect.Quote(layout.FIDColumn)}
	if layout.GeometryColumn != "" {
		cols = append(cols, t.dialect.Quote(layout.GeometryColumn))
	}
	for _, f := range layout.Fields {
		cols = append(cols, t.dialect.Quote(f.Name))
	}
	return cols
}

// ToSelect builds an equality-filtered SELECT ordered by FID.
// Predicates on columns outside the layout are rejected.
func (t *Translator) ToSelect(layout TableLayout, preds []core.Predicate, limit int) (string, []any, error) {
	where := make([]string, 0, len(preds))
	args := make([]any, 0, len(preds))

	for _, p := range preds {
		ftype, ok := fieldType(layout, p.Column)
		if !ok {
			return "", nil, fmt.Errorf("column '%s' not found in layer %s", p.Column, layout.Name)
		}
		if p.Value == nil {
			where = append(where, t.dialect.Quote(p.Column)+" IS NULL")
			continue
		}
		converted, err := t.mapper.ConvertToDBValue(p.Value, ftype)
		if err != nil {
			return "", nil, fmt.Errorf("failed to convert filter value for column '%s': %w", p.Column, err)
		}
		where = append(where, t.dialect.Quote(p.Column)+" = ?")
		args = append(args, converted)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", strings.Join(t.SelectColumns(layout), ", "), t.dialect.Quote(layout.Name))
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY " + t.dialect.Quote(layout.FIDColumn))
	if limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", limit)
	}
	return sb.String(), args, nil
}

// FromRow converts values scanned in SelectColumns order into feature attribute values.
// The FID and geometry slots are returned untouched for the caller to decode.
func (t *Translator) FromRow(layout TableLayout, scanned []any) (fid int64, geom any, values []any, err error) {
	offset := 1
	if layout.GeometryColumn != "" {
		offset = 2
	}
	if len(scanned) != offset+len(layout.Fields) {
		return 0, nil, nil, fmt.Errorf("scanned %d columns, layout has %d", len(scanned), offset+len(layout.Fields))
	}
	if offset == 2 {
		geom = scanned[1]
	}

	fid, err = t.mapper.toInt64(scanned[0])
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to read FID: %w", err)
	}

	values = make([]any, len(layout.Fields))
	for i, col := range layout.Fields {
		v, err := t.mapper.ConvertFromDBValue(scanned[offset+i], col.Type)
		if err != nil {
			return 0, nil, nil, fmt.Errorf("failed to convert value for column '%s': %w", col.Name, err)
		}
		values[i] = v
	}
	return fid, geom, values, nil
}

func fieldType(layout TableLayout, name string) (core.FieldType, bool) {
	for _, f := range layout.Fields {
		if f.Name == name {
			return f.Type, true
		}
	}
	return "", false
}
