package schema

import (
	"testing"

	"github.com/go-spatial/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/featuresync/internal/core"
)

func TestSanitise(t *testing.T) {
	cases := map[string]string{
		"NZ Parcels":              "nz_parcels",
		"A-B-C":                   "a_b_c",
		"a::{b}::c":               "a_b_c",
		"1:50k Topo (Roads)":      "_1_50k_topo_roads",
		"Road Centrelines/Tracks": "road_centrelines_tracks",
		"Māori Land":              "maori_land",
		"trailing.":               "trailing",
	}
	for in, want := range cases {
		assert.Equal(t, want, Sanitise(in), in)
	}
}

func TestIndexStatement(t *testing.T) {
	quote := DialectSQLite.Quote

	spatial := IndexStatement("parcels", core.IndexSpec{Spec: "s", GeometryColumn: "shape"}, quote)
	assert.Equal(t, `CREATE INDEX "parcels_shape_SK" ON "parcels"("shape")`, spatial)

	primary := IndexStatement("parcels", core.IndexSpec{Spec: "primary", PrimaryKey: "id"}, quote)
	assert.Equal(t, `CREATE INDEX "parcels_id_PK" ON "parcels"("id")`, primary)

	cols := IndexStatement("parcels", core.IndexSpec{Spec: "[name, title]"}, quote)
	assert.Equal(t, `CREATE INDEX "parcels_name_title_PK" ON "parcels"("name","title")`, cols)

	assert.Empty(t, IndexStatement("parcels", core.IndexSpec{}, quote))
	assert.Empty(t, IndexStatement("parcels", core.IndexSpec{Spec: "spatial"}, quote))
}

func TestOptionalColumnSet(t *testing.T) {
	s := NewOptionalColumnSet("extra", " ")
	assert.True(t, s.Contains(ChangeColumn))
	assert.True(t, s.Contains(GMLIDColumn))
	assert.True(t, s.Contains("extra"))
	assert.False(t, s.Contains(""))

	s.Add("later")
	assert.Equal(t, []string{"__change__", "extra", "gml_id", "later"}, s.Names())
}

func TestIsWideIntegerColumn(t *testing.T) {
	assert.True(t, IsWideIntegerColumn("sufi"))
	assert.True(t, IsWideIntegerColumn("parcel_sufi_id"))
	assert.False(t, IsWideIntegerColumn("id"))
}

func TestTypeMapper_ColumnType(t *testing.T) {
	sqlite := NewTypeMapper(DialectSQLite)
	mysql := NewTypeMapper(DialectMySQL)

	assert.Equal(t, "INTEGER", sqlite.ColumnType(core.FieldDefinition{Type: core.FieldInteger64}))
	assert.Equal(t, "TEXT", sqlite.ColumnType(core.FieldDefinition{Type: core.FieldString, Width: 20}))
	assert.Equal(t, "BIGINT", mysql.ColumnType(core.FieldDefinition{Type: core.FieldInteger64}))
	assert.Equal(t, "VARCHAR(20)", mysql.ColumnType(core.FieldDefinition{Type: core.FieldString, Width: 20}))
	assert.Equal(t, "DECIMAL(10,2)", mysql.ColumnType(core.FieldDefinition{Type: core.FieldReal, Width: 10, Precision: 2}))

	assert.Equal(t, core.FieldInteger64, sqlite.FieldType("INTEGER"))
	assert.Equal(t, core.FieldInteger, mysql.FieldType("int(11)"))
	assert.Equal(t, core.FieldString, mysql.FieldType("varchar(20)"))
	assert.Equal(t, core.FieldReal, mysql.FieldType("decimal(10,2)"))
}

func TestTypeMapper_ConvertToDBValue(t *testing.T) {
	tm := NewTypeMapper(DialectSQLite)

	v, err := tm.ConvertToDBValue(42.0, core.FieldInteger)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	v, err = tm.ConvertToDBValue(1234567890123456789.0, core.FieldString)
	require.NoError(t, err)
	assert.Equal(t, "1234567890123456768", v)

	v, err = tm.ConvertToDBValue("2024-03-01T10:20:30Z", core.FieldDateTime)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01 10:20:30", v)

	_, err = tm.ConvertToDBValue("abc", core.FieldReal)
	assert.Error(t, err)

	v, err = tm.ConvertToDBValue(nil, core.FieldReal)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func testLayout() TableLayout {
	return TableLayout{
		Name:           "parcels",
		FIDColumn:      "fid",
		GeometryColumn: "geom",
		GeometryType:   core.GeometryMultiPolygon,
		Fields: []core.FieldDefinition{
			{Name: "id", Type: core.FieldInteger},
			{Name: "name", Type: core.FieldString},
		},
	}
}

func testFeature() *core.Feature {
	defn := &core.FeatureDefinition{Fields: []core.FieldDefinition{
		{Name: "id", Type: core.FieldInteger},
		{Name: "name", Type: core.FieldString},
	}}
	f := core.NewFeature(defn)
	f.Values = []any{7.0, "Lot 7"}
	return f
}

func TestTranslator_ToInsert(t *testing.T) {
	tr := NewTranslator(DialectSQLite)

	query, args, err := tr.ToInsert(testLayout(), testFeature(), []byte{1})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "parcels" ("geom", "id", "name") VALUES (?, ?, ?)`, query)
	assert.Equal(t, []any{[]byte{1}, int64(7), "Lot 7"}, args)

	f := testFeature()
	f.FID = 12
	query, args, err = tr.ToInsert(testLayout(), f, nil)
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "parcels" ("geom", "id", "name", "fid") VALUES (?, ?, ?, ?)`, query)
	assert.Equal(t, int64(12), args[3])
}

func TestTranslator_ToUpdateRequiresFID(t *testing.T) {
	tr := NewTranslator(DialectMySQL)

	_, _, err := tr.ToUpdate(testLayout(), testFeature(), nil)
	assert.Error(t, err)

	f := testFeature()
	f.FID = 3
	query, args, err := tr.ToUpdate(testLayout(), f, nil)
	require.NoError(t, err)
	assert.Equal(t, "UPDATE `parcels` SET `geom` = ?, `id` = ?, `name` = ? WHERE `fid` = ?", query)
	assert.Equal(t, int64(3), args[len(args)-1])
}

func TestTranslator_ToSelect(t *testing.T) {
	tr := NewTranslator(DialectSQLite)

	query, args, err := tr.ToSelect(testLayout(), []core.Predicate{{Column: "id", Value: "7"}, {Column: "name", Value: nil}}, 2)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "fid", "geom", "id", "name" FROM "parcels" WHERE "id" = ? AND "name" IS NULL ORDER BY "fid" LIMIT 2`, query)
	assert.Equal(t, []any{int64(7)}, args)

	_, _, err = tr.ToSelect(testLayout(), []core.Predicate{{Column: "missing", Value: 1}}, 0)
	assert.ErrorContains(t, err, "not found")
}

func TestTranslator_FromRow(t *testing.T) {
	tr := NewTranslator(DialectMySQL)

	fid, g, values, err := tr.FromRow(testLayout(), []any{int64(5), []byte{9}, []byte("7"), []byte("Lot 7")})
	require.NoError(t, err)
	assert.Equal(t, int64(5), fid)
	assert.Equal(t, []byte{9}, g)
	assert.Equal(t, []any{int64(7), "Lot 7"}, values)

	_, _, _, err = tr.FromRow(testLayout(), []any{int64(5)})
	assert.ErrorContains(t, err, "scanned 1 columns")
	_, _, _, err = tr.FromRow(testLayout(), nil)
	assert.Error(t, err)
}

func TestFeatureValidator_Geometry(t *testing.T) {
	v := NewFeatureValidator(NewTypeMapper(DialectSQLite))

	f := testFeature()
	f.Geometry = geom.Point{1, 2}
	assert.ErrorContains(t, v.ValidateFeature(testLayout(), f), "geometry type mismatch")

	f.Geometry = geom.MultiPolygon{{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}}
	assert.NoError(t, v.ValidateFeature(testLayout(), f))

	f.Values = f.Values[:1]
	assert.Error(t, v.ValidateFeature(testLayout(), f))
}
