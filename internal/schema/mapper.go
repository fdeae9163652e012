package schema

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rzpsarthak13/featuresync/internal/core"
)

// Dialect names the SQL flavour column types are rendered for.
type Dialect string

const (
	DialectSQLite Dialect = "sqlite"
	DialectMySQL  Dialect = "mysql"
)

// TypeMapper handles mapping between feature field types and database column types.
type TypeMapper struct {
	dialect Dialect
}

// NewTypeMapper creates a new type mapper for a SQL dialect.
func NewTypeMapper(dialect Dialect) *TypeMapper {
	return &TypeMapper{dialect: dialect}
}

// ColumnType renders the column type used to store a field.
func (tm *TypeMapper) ColumnType(field core.FieldDefinition) string {
	switch tm.dialect {
	case DialectMySQL:
		switch field.Type {
		case core.FieldInteger:
			return "INT"
		case core.FieldInteger64:
			return "BIGINT"
		case core.FieldReal:
			if field.Width > 0 && field.Precision > 0 {
				return fmt.Sprintf("DECIMAL(%d,%d)", field.Width, field.Precision)
			}
			return "DOUBLE"
		case core.FieldDate:
			return "DATE"
		case core.FieldDateTime:
			return "DATETIME"
		case core.FieldBinary:
			return "LONGBLOB"
		default:
			if field.Width > 0 && field.Width <= 4000 {
				return fmt.Sprintf("VARCHAR(%d)", field.Width)
			}
			return "TEXT"
		}
	default:
		switch field.Type {
		case core.FieldInteger, core.FieldInteger64:
			return "INTEGER"
		case core.FieldReal:
			return "REAL"
		case core.FieldBinary:
			return "BLOB"
		case core.FieldDate:
			return "DATE"
		case core.FieldDateTime:
			return "DATETIME"
		default:
			return "TEXT"
		}
	}
}

// FieldType converts a database column type string back to a field type.
func (tm *TypeMapper) FieldType(dbType string) core.FieldType {
	dbTypeUpper := strings.ToUpper(strings.TrimSpace(dbType))

	// Remove size/precision information (e.g., VARCHAR(255) -> VARCHAR)
	baseType := dbTypeUpper
	if idx := strings.Index(dbTypeUpper, "("); idx > 0 {
		baseType = dbTypeUpper[:idx]
	}

	switch baseType {
	case "INT", "MEDIUMINT", "SMALLINT", "TINYINT":
		return core.FieldInteger
	case "INTEGER":
		// SQLite INTEGER is 64-bit
		if tm.dialect == DialectSQLite {
			return core.FieldInteger64
		}
		return core.FieldInteger
	case "BIGINT":
		return core.FieldInteger64
	case "FLOAT", "DOUBLE", "DOUBLE PRECISION", "REAL", "DECIMAL", "NUMERIC":
		return core.FieldReal
	case "BINARY", "VARBINARY", "BLOB", "LONGBLOB", "MEDIUMBLOB", "TINYBLOB":
		return core.FieldBinary
	case "DATE":
		return core.FieldDate
	case "DATETIME", "TIMESTAMP":
		return core.FieldDateTime
	default:
		return core.FieldString
	}
}

// ConvertToDBValue converts a feature value to a database-compatible value.
func (tm *TypeMapper) ConvertToDBValue(value any, fieldType core.FieldType) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch fieldType {
	case core.FieldInteger, core.FieldInteger64:
		return tm.toInt64(value)
	case core.FieldReal:
		return tm.toFloat64(value)
	case core.FieldBinary:
		return tm.toBytes(value)
	case core.FieldDate:
		t, err := tm.toTime(value)
		if err != nil {
			return nil, err
		}
		return t.Format("2006-01-02"), nil
	case core.FieldDateTime:
		t, err := tm.toTime(value)
		if err != nil {
			return nil, err
		}
		return t.Format("2006-01-02 15:04:05"), nil
	default:
		return tm.toString(value)
	}
}

// ConvertFromDBValue converts a scanned database value to a feature value.
// Handles NULL values and driver-specific representations.
func (tm *TypeMapper) ConvertFromDBValue(value any, fieldType core.FieldType) (any, error) {
	if value == nil {
		return nil, nil
	}

	// Handle sql.Null* types
	if valuer, ok := value.(driver.Valuer); ok {
		val, err := valuer.Value()
		if err != nil {
			return nil, err
		}
		if val == nil {
			return nil, nil
		}
		value = val
	}

	switch fieldType {
	case core.FieldInteger, core.FieldInteger64:
		if b, ok := value.([]byte); ok {
			value = string(b)
		}
		return tm.toInt64(value)
	case core.FieldReal:
		if b, ok := value.([]byte); ok {
			value = string(b)
		}
		return tm.toFloat64(value)
	case core.FieldBinary:
		return tm.toBytes(value)
	case core.FieldDate:
		if t, ok := value.(time.Time); ok {
			return t.Format("2006-01-02"), nil
		}
		return tm.toString(value)
	case core.FieldDateTime:
		if t, ok := value.(time.Time); ok {
			return t.Format("2006-01-02 15:04:05"), nil
		}
		return tm.toString(value)
	default:
		return tm.toString(value)
	}
}

// Helper conversion functions

func (tm *TypeMapper) toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		return v.Int64()
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			// Accept whole-valued decimals such as "12.0"
			if f, ferr := strconv.ParseFloat(strings.TrimSpace(v), 64); ferr == nil {
				return int64(f), nil
			}
			return 0, fmt.Errorf("cannot convert string to int64: %w", err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to int64", value)
	}
}

func (tm *TypeMapper) toFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string to float64: %w", err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", value)
	}
}

func (tm *TypeMapper) toString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v), nil
	case float32, float64:
		return core.FormatValue(v), nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	case time.Time:
		return v.Format(time.RFC3339), nil
	default:
		// Try JSON encoding for complex types
		bytes, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("cannot convert %T to string: %w", value, err)
		}
		return string(bytes), nil
	}
}

func (tm *TypeMapper) toBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("cannot convert %T to []byte", value)
	}
}

func (tm *TypeMapper) toTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		formats := []string{
			time.RFC3339,
			time.RFC3339Nano,
			"2006-01-02 15:04:05",
			"2006-01-02T15:04:05",
			"2006-01-02Z",
			"2006-01-02",
		}
		for _, format := range formats {
			if t, err := time.Parse(format, v); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse time string: %s", v)
	case int64:
		// Assume Unix timestamp
		return time.Unix(v, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to time.Time", value)
	}
}
