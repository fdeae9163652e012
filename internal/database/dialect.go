package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rzpsarthak13/featuresync/internal/core"
	"github.com/rzpsarthak13/featuresync/internal/schema"
)

// dialect captures the SQL differences between destination families.
type dialect struct {
	name schema.Dialect

	// fidColumnDDL declares the auto-assigned feature id column.
	fidColumnDDL string

	// geometryColumnType stores WKB geometries.
	geometryColumnType string

	// insertIgnore prefixes an INSERT that skips duplicate keys.
	insertIgnore string

	// unsupportedGeometry lists geometry types the family cannot store as a layer.
	unsupportedGeometry map[core.GeometryType]bool

	// alreadyExists recognises duplicate object errors.
	alreadyExists func(err error) bool

	// tableExists and columns introspect physical tables.
	tableExists func(ctx context.Context, q querier, table string) (bool, error)
	columns     func(ctx context.Context, q querier, table string) ([]physicalColumn, error)
}

// physicalColumn is one column reported by the catalogue.
type physicalColumn struct {
	Name string
	Type string
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (d *dialect) quote(ident string) string {
	return d.name.Quote(ident)
}

var sqliteDialect = &dialect{
	name:                schema.DialectSQLite,
	fidColumnDDL:        "INTEGER PRIMARY KEY AUTOINCREMENT",
	geometryColumnType:  "BLOB",
	insertIgnore:        "INSERT OR IGNORE",
	unsupportedGeometry: map[core.GeometryType]bool{},
	alreadyExists: func(err error) bool {
		return err != nil && strings.Contains(err.Error(), "already exists")
	},
	tableExists: func(ctx context.Context, q querier, table string) (bool, error) {
		var n int
		err := q.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n)
		return n > 0, err
	},
	columns: func(ctx context.Context, q querier, table string) ([]physicalColumn, error) {
		rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", schema.DialectSQLite.Quote(table)))
		if err != nil {
			return nil, fmt.Errorf("failed to query columns: %w", err)
		}
		defer rows.Close()

		var cols []physicalColumn
		for rows.Next() {
			var (
				cid, notNull, pk int
				name, colType    string
				dflt             sql.NullString
			)
			if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
				return nil, fmt.Errorf("failed to scan column: %w", err)
			}
			cols = append(cols, physicalColumn{Name: name, Type: colType})
		}
		return cols, rows.Err()
	},
}

var mysqlDialect = &dialect{
	name:               schema.DialectMySQL,
	fidColumnDDL:       "BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY",
	geometryColumnType: "LONGBLOB",
	insertIgnore:       "INSERT IGNORE",
	unsupportedGeometry: map[core.GeometryType]bool{
		core.GeometryNone: true,
	},
	alreadyExists: func(err error) bool {
		if err == nil {
			return false
		}
		msg := err.Error()
		return strings.Contains(msg, "already exists") || strings.Contains(msg, "Duplicate key name")
	},
	tableExists: func(ctx context.Context, q querier, table string) (bool, error) {
		var n int
		err := q.QueryRowContext(ctx, `
			SELECT COUNT(*)
			FROM INFORMATION_SCHEMA.TABLES
			WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		`, table).Scan(&n)
		return n > 0, err
	},
	columns: func(ctx context.Context, q querier, table string) ([]physicalColumn, error) {
		rows, err := q.QueryContext(ctx, `
			SELECT COLUMN_NAME, COLUMN_TYPE
			FROM INFORMATION_SCHEMA.COLUMNS
			WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
			ORDER BY ORDINAL_POSITION
		`, table)
		if err != nil {
			return nil, fmt.Errorf("failed to query columns: %w", err)
		}
		defer rows.Close()

		var cols []physicalColumn
		for rows.Next() {
			var c physicalColumn
			if err := rows.Scan(&c.Name, &c.Type); err != nil {
				return nil, fmt.Errorf("failed to scan column: %w", err)
			}
			cols = append(cols, c)
		}
		return cols, rows.Err()
	},
}
