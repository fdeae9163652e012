package transcode

import (
	"context"
	"errors"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rzpsarthak13/featuresync/internal/core"
	"github.com/rzpsarthak13/featuresync/internal/kvstore"
	"github.com/rzpsarthak13/featuresync/internal/schema"
)

type countingFetcher struct {
	calls  int
	values map[string]string
	err    error
}

func (f *countingFetcher) FetchColumn(ctx context.Context, uri, keyColumn, column string) (map[string]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.values, nil
}

var sourceDefn = &core.FeatureDefinition{
	Fields: []core.FieldDefinition{
		{Name: schema.ChangeColumn, Type: core.FieldString},
		{Name: "id", Type: core.FieldInteger},
		{Name: "title_sufi", Type: core.FieldInteger64},
		{Name: "name", Type: core.FieldString},
		{Name: "scratch", Type: core.FieldString},
	},
	GeometryType: core.GeometryPolygon,
}

func sourceFeature(id float64, sufi float64) *core.Feature {
	f := core.NewFeature(sourceDefn)
	f.Values = []any{"INSERT", id, sufi, "Lot", "tmp"}
	f.Geometry = geom.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}
	return f
}

func TestBuildDefinition(t *testing.T) {
	tr := New(schema.NewOptionalColumnSet("scratch"), nil, nil)
	defn := tr.BuildDefinition(sourceDefn)

	assert.Equal(t, core.GeometryMultiPolygon, defn.GeometryType)
	assert.Equal(t, []core.FieldDefinition{
		{Name: "id", Type: core.FieldInteger},
		{Name: "title_sufi", Type: core.FieldString},
		{Name: "name", Type: core.FieldString},
	}, defn.Fields)
}

func TestClone_FiltersAndPromotes(t *testing.T) {
	tr := New(schema.NewOptionalColumnSet("scratch"), nil, zaptest.NewLogger(t))
	defn := tr.BuildDefinition(sourceDefn)

	out, err := tr.Clone(context.Background(), sourceFeature(7, 42), defn, Options{})
	require.NoError(t, err)

	assert.Equal(t, core.GeometryMultiPolygon, core.GeometryTypeOf(out.Geometry))
	assert.Equal(t, []any{float64(7), float64(42), "Lot"}, out.Values)
	assert.Same(t, defn, out.Defn)
	assert.Zero(t, out.FID)
}

func TestClone_AppliesTransform(t *testing.T) {
	tr := New(schema.NewOptionalColumnSet(), nil, nil)
	defn := tr.BuildDefinition(sourceDefn)

	shift := func(g geom.Geometry) (geom.Geometry, error) {
		return geom.Point{1, 1}, nil
	}
	out, err := tr.Clone(context.Background(), sourceFeature(1, 1), defn, Options{Transform: shift})
	require.NoError(t, err)
	assert.Equal(t, geom.Point{1, 1}, out.Geometry)

	failing := func(g geom.Geometry) (geom.Geometry, error) { return nil, errors.New("boom") }
	_, err = tr.Clone(context.Background(), sourceFeature(1, 1), defn, Options{Transform: failing})
	assert.Error(t, err)
}

func TestClone_WideIntegerExactString(t *testing.T) {
	ctx := context.Background()
	fetcher := &countingFetcher{values: map[string]string{"7": "1234567890123456789"}}
	cache := NewWideIntCache(fetcher, nil, 0, zaptest.NewLogger(t))
	tr := New(schema.NewOptionalColumnSet(), cache, zaptest.NewLogger(t))
	defn := tr.BuildDefinition(sourceDefn)

	// float64 cannot hold the identifier; the JSON value is already rounded.
	lossy := sourceFeature(7, 1234567890123456789)
	assert.Equal(t, "1234567890123456768", lossy.GetString("title_sufi"))

	opts := Options{WideInteger: true, SourceURI: "http://wfs/a"}
	out, err := tr.Clone(ctx, lossy, defn, opts)
	require.NoError(t, err)
	assert.Equal(t, "1234567890123456789", out.GetString("title_sufi"))

	_, err = tr.Clone(ctx, sourceFeature(7, 1), defn, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.calls)

	missing, err := tr.Clone(ctx, sourceFeature(8, 99), defn, opts)
	require.NoError(t, err)
	assert.Equal(t, "99", missing.GetString("title_sufi"))

	plain, err := tr.Clone(ctx, lossy, defn, Options{})
	require.NoError(t, err)
	assert.Equal(t, float64(1234567890123456789), plain.Values[1])
}

func TestWideIntCache_SharedStore(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemoryKVStore()

	first := &countingFetcher{values: map[string]string{"1": "9007199254740993"}}
	v, ok, err := NewWideIntCache(first, kv, 0, nil).Lookup(ctx, "http://wfs/a", "title_sufi", "1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "9007199254740993", v)

	exists, err := kv.Exists(ctx, BuildKey("http://wfs/a", "title_sufi"))
	require.NoError(t, err)
	assert.True(t, exists)

	second := &countingFetcher{err: errors.New("offline")}
	v, ok, err = NewWideIntCache(second, kv, 0, nil).Lookup(ctx, "http://wfs/a", "title_sufi", "1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "9007199254740993", v)
	assert.Zero(t, second.calls)

	_, _, err = NewWideIntCache(second, kv, 0, nil).Lookup(ctx, "http://wfs/b", "title_sufi", "1")
	assert.Error(t, err)
}

func TestWideIntCache_Forget(t *testing.T) {
	ctx := context.Background()
	fetcher := &countingFetcher{values: map[string]string{}}
	cache := NewWideIntCache(fetcher, nil, 0, nil)

	_, _, err := cache.Lookup(ctx, "u", "c", "1")
	require.NoError(t, err)
	cache.Forget("u")
	_, _, err = cache.Lookup(ctx, "u", "c", "1")
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.calls)
}

func TestBuildKey(t *testing.T) {
	k := BuildKey("http://wfs/a", "title_sufi")
	assert.Regexp(t, `^wideint:[0-9a-f]{16}:title_sufi$`, k)
	assert.NotEqual(t, k, BuildKey("http://wfs/b", "title_sufi"))
}

func TestValues(t *testing.T) {
	f := sourceFeature(1, 2)
	f.Values[3] = nil
	v := Values(f)
	assert.NotContains(t, v, "name")
	assert.Equal(t, float64(1), v["id"])
}
