package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/featuresync/internal/core"
	"github.com/rzpsarthak13/featuresync/internal/schema"
)

// readPageSize bounds the rows fetched per NextFeature refill.
const readPageSize = 500

// ErrNoTransaction is returned when committing or rolling back without an open transaction.
var ErrNoTransaction = errors.New("no transaction in progress")

// sqlLayer is a layer table in an SQLStore. While a transaction is open every
// statement runs on it, so a single-connection SQLite pool never blocks itself.
type sqlLayer struct {
	store *SQLStore
	meta  layerMeta
	tx    *sql.Tx

	// layout caches the table shape; nil means it must be re-read.
	layout *schema.TableLayout

	// read cursor for SourceLayer iteration
	lastFID int64
	page    []*core.Feature
	done    bool
}

func newSQLLayer(s *SQLStore, meta layerMeta) *sqlLayer {
	return &sqlLayer{store: s, meta: meta}
}

func (l *sqlLayer) conn() querier {
	if l.tx != nil {
		return l.tx
	}
	return l.store.db
}

// Name returns the layer (table) name.
func (l *sqlLayer) Name() string {
	return l.meta.name
}

// GeometryType returns the declared geometry type.
func (l *sqlLayer) GeometryType() core.GeometryType {
	return l.meta.geometryType
}

func (l *sqlLayer) tableLayout(ctx context.Context) (schema.TableLayout, error) {
	if l.layout != nil {
		return *l.layout, nil
	}
	cols, err := l.store.dialect.columns(ctx, l.conn(), l.meta.name)
	if err != nil {
		return schema.TableLayout{}, err
	}

	mapper := l.store.translator.Mapper()
	layout := schema.TableLayout{
		Name:           l.meta.name,
		FIDColumn:      fidColumn,
		GeometryColumn: l.meta.geometryColumn,
		GeometryType:   l.meta.geometryType,
	}
	for _, c := range cols {
		if c.Name == fidColumn || c.Name == l.meta.geometryColumn {
			continue
		}
		layout.Fields = append(layout.Fields, core.FieldDefinition{Name: c.Name, Type: mapper.FieldType(c.Type)})
	}
	l.layout = &layout
	return layout, nil
}

// Fields returns the attribute columns in table order.
func (l *sqlLayer) Fields(ctx context.Context) ([]core.FieldDefinition, error) {
	layout, err := l.tableLayout(ctx)
	if err != nil {
		return nil, err
	}
	return layout.Fields, nil
}

// CreateField adds an attribute column.
func (l *sqlLayer) CreateField(ctx context.Context, field core.FieldDefinition) error {
	colType := l.store.translator.Mapper().ColumnType(field)
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		l.store.dialect.quote(l.meta.name), l.store.dialect.quote(field.Name), colType)
	if _, err := l.conn().ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to add column %s: %w", field.Name, err)
	}
	l.layout = nil
	return nil
}

// CreateFeature inserts f and assigns its FID.
func (l *sqlLayer) CreateFeature(ctx context.Context, f *core.Feature) error {
	layout, err := l.tableLayout(ctx)
	if err != nil {
		return err
	}
	g, err := encodeGeometry(f.Geometry)
	if err != nil {
		return err
	}
	query, args, err := l.store.translator.ToInsert(layout, f, g)
	if err != nil {
		return err
	}

	res, err := l.conn().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to insert feature into %s: %w", l.meta.name, err)
	}
	if f.FID == 0 {
		fid, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read assigned FID: %w", err)
		}
		f.FID = fid
	}
	return nil
}

// SetFeature overwrites the stored feature with f.FID.
func (l *sqlLayer) SetFeature(ctx context.Context, f *core.Feature) error {
	layout, err := l.tableLayout(ctx)
	if err != nil {
		return err
	}
	g, err := encodeGeometry(f.Geometry)
	if err != nil {
		return err
	}
	query, args, err := l.store.translator.ToUpdate(layout, f, g)
	if err != nil {
		return err
	}
	return l.execOne(ctx, query, args, f.FID)
}

// DeleteFeature removes the feature with the given FID.
func (l *sqlLayer) DeleteFeature(ctx context.Context, fid int64) error {
	layout, err := l.tableLayout(ctx)
	if err != nil {
		return err
	}
	query, args := l.store.translator.ToDelete(layout, fid)
	return l.execOne(ctx, query, args, fid)
}

// execOne runs a statement that must touch exactly the feature fid.
func (l *sqlLayer) execOne(ctx context.Context, query string, args []any, fid int64) error {
	res, err := l.conn().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to write feature %d in %s: %w", fid, l.meta.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("feature %d does not exist in %s", fid, l.meta.name)
	}
	return nil
}

// FindFeatures returns up to limit features matching every predicate, ordered by FID.
func (l *sqlLayer) FindFeatures(ctx context.Context, preds []core.Predicate, limit int) ([]*core.Feature, error) {
	layout, err := l.tableLayout(ctx)
	if err != nil {
		return nil, err
	}
	query, args, err := l.store.translator.ToSelect(layout, preds, limit)
	if err != nil {
		return nil, err
	}
	return l.query(ctx, layout, query, args)
}

func (l *sqlLayer) query(ctx context.Context, layout schema.TableLayout, query string, args []any) ([]*core.Feature, error) {
	rows, err := l.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", l.meta.name, err)
	}
	defer rows.Close()

	defn := &core.FeatureDefinition{Fields: layout.Fields, GeometryType: layout.GeometryType}
	width := len(l.store.translator.SelectColumns(layout))

	var out []*core.Feature
	for rows.Next() {
		scanned := make([]any, width)
		ptrs := make([]any, width)
		for i := range scanned {
			ptrs[i] = &scanned[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		fid, rawGeom, values, err := l.store.translator.FromRow(layout, scanned)
		if err != nil {
			return nil, err
		}
		g, err := decodeGeometry(rawGeom)
		if err != nil {
			return nil, err
		}
		out = append(out, &core.Feature{FID: fid, Geometry: g, Defn: defn, Values: values})
	}
	return out, rows.Err()
}

// FeatureCount returns the number of stored features.
func (l *sqlLayer) FeatureCount(ctx context.Context) (int64, error) {
	var n int64
	err := l.conn().QueryRowContext(ctx, "SELECT COUNT(*) FROM "+l.store.dialect.quote(l.meta.name)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count features in %s: %w", l.meta.name, err)
	}
	return n, nil
}

// StartTransaction begins a transaction scoped to this layer handle.
func (l *sqlLayer) StartTransaction(ctx context.Context) error {
	if l.tx != nil {
		return fmt.Errorf("transaction already in progress on %s", l.meta.name)
	}
	tx, err := l.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	l.tx = tx
	return nil
}

// CommitTransaction commits the open transaction.
func (l *sqlLayer) CommitTransaction() error {
	if l.tx == nil {
		return ErrNoTransaction
	}
	err := l.tx.Commit()
	l.tx = nil
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction aborts the open transaction.
func (l *sqlLayer) RollbackTransaction() error {
	if l.tx == nil {
		return ErrNoTransaction
	}
	err := l.tx.Rollback()
	l.tx = nil
	// Schema changes made inside the transaction are gone too.
	l.layout = nil
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

// Descriptor describes the stored layer so it can be copied like a source layer.
func (l *sqlLayer) Descriptor() core.LayerDescriptor {
	fields, err := l.Fields(context.Background())
	if err != nil {
		l.store.logger.Error("failed to read layer fields", zap.String("layer", l.meta.name), zap.Error(err))
	}
	return core.LayerDescriptor{
		ID:           l.meta.name,
		DisplayName:  l.meta.name,
		Fields:       fields,
		SRS:          l.meta.srs,
		GeometryType: l.meta.geometryType,
	}
}

// NextFeature returns the next stored feature in FID order, or nil when exhausted.
// Read errors are logged and end the iteration.
func (l *sqlLayer) NextFeature() *core.Feature {
	if len(l.page) == 0 && !l.done {
		l.refill(context.Background())
	}
	if len(l.page) == 0 {
		return nil
	}
	f := l.page[0]
	l.page = l.page[1:]
	l.lastFID = f.FID
	return f
}

func (l *sqlLayer) refill(ctx context.Context) {
	layout, err := l.tableLayout(ctx)
	if err != nil {
		l.store.logger.Error("failed to read layer layout", zap.String("layer", l.meta.name), zap.Error(err))
		l.done = true
		return
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s > ? ORDER BY %s LIMIT %d",
		strings.Join(l.store.translator.SelectColumns(layout), ", "),
		l.store.dialect.quote(l.meta.name),
		l.store.dialect.quote(fidColumn),
		l.store.dialect.quote(fidColumn),
		readPageSize)
	page, err := l.query(ctx, layout, query, []any{l.lastFID})
	if err != nil {
		l.store.logger.Error("failed to read features", zap.String("layer", l.meta.name), zap.Error(err))
		l.done = true
		return
	}
	l.page = page
	l.done = len(page) < readPageSize
}

// ResetReading rewinds iteration to the first feature.
func (l *sqlLayer) ResetReading() {
	l.lastFID = 0
	l.page = nil
	l.done = false
}
