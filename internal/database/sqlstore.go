package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/featuresync/internal/core"
	"github.com/rzpsarthak13/featuresync/internal/schema"
)

const (
	// DefaultGeometryColumn is used when a layer configures no geometry column.
	DefaultGeometryColumn = "geom"

	fidColumn   = "fid"
	layersTable = "feature_layers"
	srsTable    = "spatial_ref_sys"
)

// SupportedEPSG are the spatial references registered in a new store.
var SupportedEPSG = []int{4326, 4167, 2193, 3857, 3395, 4087}

// ErrDatabaseClosed is returned by operations on a closed store.
var ErrDatabaseClosed = errors.New("database is closed")

// SQLStore implements core.Store on a database/sql connection.
// Layers are plain tables with an auto-assigned fid column and a WKB geometry
// column, registered in a feature_layers catalogue table.
type SQLStore struct {
	db         *sql.DB
	kind       Kind
	dialect    *dialect
	translator *schema.Translator
	logger     *zap.Logger
	closed     bool
}

func newSQLStore(ctx context.Context, db *sql.DB, kind Kind, d *dialect, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SQLStore{
		db:         db,
		kind:       kind,
		dialect:    d,
		translator: schema.NewTranslator(d.name),
		logger:     logger.Named(string(kind)),
	}
	if err := s.bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("failed to bootstrap catalogue: %w", err)
	}
	return s, nil
}

// bootstrap creates the catalogue tables. It is idempotent.
func (s *SQLStore) bootstrap(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			name VARCHAR(255) NOT NULL PRIMARY KEY,
			geometry_column VARCHAR(255),
			geometry_type VARCHAR(32) NOT NULL,
			srid INTEGER NOT NULL,
			primary_key VARCHAR(255)
		)`, layersTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			srid INTEGER NOT NULL PRIMARY KEY,
			auth_name VARCHAR(32) NOT NULL
		)`, srsTable),
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	for _, epsg := range SupportedEPSG {
		if err := s.RegisterSRS(ctx, epsg); err != nil {
			return err
		}
	}
	return nil
}

// RegisterSRS makes an EPSG code available to CreateLayer.
func (s *SQLStore) RegisterSRS(ctx context.Context, epsg int) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("%s INTO %s (srid, auth_name) VALUES (?, 'EPSG')", s.dialect.insertIgnore, srsTable), epsg)
	if err != nil {
		return fmt.Errorf("failed to register EPSG:%d: %w", epsg, err)
	}
	return nil
}

// Kind returns the destination family of this store.
func (s *SQLStore) Kind() string {
	return string(s.kind)
}

// DB returns the underlying connection pool.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

type layerMeta struct {
	name           string
	geometryColumn string
	geometryType   core.GeometryType
	srs            core.SpatialReference
	primaryKey     string
}

func (s *SQLStore) readMeta(ctx context.Context, name string) (*layerMeta, error) {
	var (
		geomCol, pkey sql.NullString
		gtype         string
		srid          int
	)
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT geometry_column, geometry_type, srid, primary_key FROM %s WHERE name = ?", layersTable),
		name).Scan(&geomCol, &gtype, &srid, &pkey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read layer catalogue: %w", err)
	}
	return &layerMeta{
		name:           name,
		geometryColumn: geomCol.String,
		geometryType:   core.GeometryType(gtype),
		srs:            core.SpatialReference{EPSG: srid},
		primaryKey:     pkey.String,
	}, nil
}

// Layer returns the named layer, or nil if it is not registered.
// A registration whose table has been dropped is removed.
func (s *SQLStore) Layer(ctx context.Context, name string) (core.Layer, error) {
	if s.closed {
		return nil, ErrDatabaseClosed
	}
	meta, err := s.readMeta(ctx, name)
	if err != nil || meta == nil {
		return nil, err
	}

	exists, err := s.dialect.tableExists(ctx, s.db, name)
	if err != nil {
		return nil, fmt.Errorf("failed to check table %s: %w", name, err)
	}
	if !exists {
		s.logger.Debug("removing stale layer registration", zap.String("layer", name))
		if err := s.unregister(ctx, s.db, name); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return newSQLLayer(s, *meta), nil
}

// LayerNames returns the registered layers in name order.
func (s *SQLStore) LayerNames(ctx context.Context) ([]string, error) {
	if s.closed {
		return nil, ErrDatabaseClosed
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT name FROM %s ORDER BY name", layersTable))
	if err != nil {
		return nil, fmt.Errorf("failed to list layers: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan layer name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *SQLStore) srsRegistered(ctx context.Context, srs core.SpatialReference) (bool, error) {
	if srs.IsZero() {
		return true, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE srid = ?", srsTable), srs.EPSG).Scan(&n)
	return n > 0, err
}

// CreateLayer creates an empty layer table and registers it.
// An already registered layer is returned as Created; an unregistered table of
// the same name yields AlreadyExists.
func (s *SQLStore) CreateLayer(ctx context.Context, name string, srs core.SpatialReference, gtype core.GeometryType, opts core.CreateLayerOptions) core.CreateResult {
	if s.closed {
		return core.CreateResult{Status: core.Failed, Reason: core.ReasonDriver, Err: ErrDatabaseClosed}
	}

	ok, err := s.srsRegistered(ctx, srs)
	if err != nil {
		return core.CreateResult{Status: core.Failed, Reason: core.ReasonDriver, Err: err}
	}
	if !ok {
		return core.CreateResult{
			Status: core.Failed,
			Reason: core.ReasonUnsupportedSRS,
			Err:    fmt.Errorf("%s is not registered in %s", srs, srsTable),
		}
	}

	if meta, err := s.readMeta(ctx, name); err != nil {
		return core.CreateResult{Status: core.Failed, Reason: core.ReasonDriver, Err: err}
	} else if meta != nil {
		return core.CreateResult{Status: core.Created, Layer: newSQLLayer(s, *meta)}
	}

	exists, err := s.dialect.tableExists(ctx, s.db, name)
	if err != nil {
		return core.CreateResult{Status: core.Failed, Reason: core.ReasonDriver, Err: err}
	}
	if exists {
		return core.CreateResult{Status: core.AlreadyExists}
	}

	meta := layerMeta{
		name:         name,
		geometryType: gtype,
		srs:          srs,
		primaryKey:   opts.PrimaryKey,
	}
	if gtype != core.GeometryNone {
		meta.geometryColumn = opts.GeometryColumn
		if meta.geometryColumn == "" {
			meta.geometryColumn = DefaultGeometryColumn
		}
	}

	if err := s.createTable(ctx, meta); err != nil {
		return core.CreateResult{Status: core.Failed, Reason: core.ReasonDriver, Err: err}
	}
	s.logger.Info("created layer",
		zap.String("layer", name),
		zap.String("geometry", string(gtype)),
		zap.Stringer("srs", srs))
	return core.CreateResult{Status: core.Created, Layer: newSQLLayer(s, meta)}
}

func (s *SQLStore) createTable(ctx context.Context, meta layerMeta) error {
	cols := []string{fmt.Sprintf("%s %s", s.dialect.quote(fidColumn), s.dialect.fidColumnDDL)}
	if meta.geometryColumn != "" {
		cols = append(cols, fmt.Sprintf("%s %s", s.dialect.quote(meta.geometryColumn), s.dialect.geometryColumnType))
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", s.dialect.quote(meta.name), strings.Join(cols, ", "))

	// MySQL commits DDL implicitly; the table is dropped by hand if registration fails.
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", meta.name, err)
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (name, geometry_column, geometry_type, srid, primary_key) VALUES (?, ?, ?, ?, ?)", layersTable),
		meta.name, nullString(meta.geometryColumn), string(meta.geometryType), meta.srs.EPSG, nullString(meta.primaryKey))
	if err != nil {
		_, _ = s.db.ExecContext(ctx, "DROP TABLE "+s.dialect.quote(meta.name))
		return fmt.Errorf("failed to register layer %s: %w", meta.name, err)
	}
	return nil
}

func (s *SQLStore) unregister(ctx context.Context, q querier, name string) error {
	if _, err := q.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE name = ?", layersTable), name); err != nil {
		return fmt.Errorf("failed to unregister layer %s: %w", name, err)
	}
	return nil
}

// DeleteLayer drops the layer table and its registration.
func (s *SQLStore) DeleteLayer(ctx context.Context, name string) error {
	if s.closed {
		return ErrDatabaseClosed
	}
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+s.dialect.quote(name)); err != nil {
		return fmt.Errorf("failed to drop layer %s: %w", name, err)
	}
	return s.unregister(ctx, s.db, name)
}

// ExecuteStatement runs a raw statement.
func (s *SQLStore) ExecuteStatement(ctx context.Context, statement string) error {
	if s.closed {
		return ErrDatabaseClosed
	}
	s.logger.Debug("executing statement", zap.String("sql", statement))
	if _, err := s.db.ExecContext(ctx, statement); err != nil {
		return fmt.Errorf("failed to execute statement: %w", err)
	}
	return nil
}

// BuildIndex creates the configured index. An index that already exists is only logged.
func (s *SQLStore) BuildIndex(ctx context.Context, layer string, spec core.IndexSpec) error {
	stmt := schema.IndexStatement(layer, spec, s.dialect.quote)
	if stmt == "" {
		return nil
	}
	s.logger.Info("building index", zap.String("layer", layer), zap.String("index", spec.Spec), zap.String("sql", stmt))

	err := s.ExecuteStatement(ctx, stmt)
	if s.dialect.alreadyExists(err) {
		s.logger.Warn("index already exists", zap.String("layer", layer), zap.Error(err))
		return nil
	}
	return err
}

// SelectValidGeometry substitutes Unknown for geometry types the family cannot store.
func (s *SQLStore) SelectValidGeometry(gtype core.GeometryType) core.GeometryType {
	if s.dialect.unsupportedGeometry[gtype] {
		return core.GeometryUnknown
	}
	return gtype
}

// DeleteField drops a column from a layer table. Missing columns are ignored.
func (s *SQLStore) DeleteField(ctx context.Context, layer, field string) error {
	if s.closed {
		return ErrDatabaseClosed
	}
	cols, err := s.dialect.columns(ctx, s.db, layer)
	if err != nil {
		return err
	}
	if !slices.ContainsFunc(cols, func(c physicalColumn) bool { return c.Name == field }) {
		return nil
	}
	stmt := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", s.dialect.quote(layer), s.dialect.quote(field))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to drop column %s.%s: %w", layer, field, err)
	}
	return nil
}

// CopyLayer bulk copies src into a new layer named name in one transaction.
// Fields are copied as declared; no column is filtered or coerced.
func (s *SQLStore) CopyLayer(ctx context.Context, src core.SourceLayer, name string, opts core.CreateLayerOptions) (core.Layer, error) {
	desc := src.Descriptor()
	res := s.CreateLayer(ctx, name, desc.SRS, s.SelectValidGeometry(desc.GeometryType), opts)
	switch res.Status {
	case core.Created:
	case core.AlreadyExists:
		return nil, fmt.Errorf("table %s already exists", name)
	default:
		return nil, fmt.Errorf("failed to create layer %s: %s: %w", name, res.Reason, res.Err)
	}

	layer := res.Layer
	for _, f := range desc.Fields {
		if err := layer.CreateField(ctx, f); err != nil {
			return nil, err
		}
	}

	if err := layer.StartTransaction(ctx); err != nil {
		return nil, err
	}
	var count int
	src.ResetReading()
	for f := src.NextFeature(); f != nil; f = src.NextFeature() {
		copied := *f
		copied.FID = 0
		if err := layer.CreateFeature(ctx, &copied); err != nil {
			_ = layer.RollbackTransaction()
			return nil, fmt.Errorf("failed to copy feature %d into %s: %w", count, name, err)
		}
		count++
	}
	if err := layer.CommitTransaction(); err != nil {
		_ = layer.RollbackTransaction()
		return nil, err
	}
	s.logger.Info("copied layer", zap.String("layer", name), zap.Int("features", count))
	return layer, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
