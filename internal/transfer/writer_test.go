package transfer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rzpsarthak13/featuresync/internal/apply"
	"github.com/rzpsarthak13/featuresync/internal/changefeed"
	"github.com/rzpsarthak13/featuresync/internal/core"
	"github.com/rzpsarthak13/featuresync/internal/database"
	"github.com/rzpsarthak13/featuresync/internal/schema"
	"github.com/rzpsarthak13/featuresync/internal/transcode"
)

// sliceLayer is an in-memory source layer.
type sliceLayer struct {
	desc     core.LayerDescriptor
	features []*core.Feature
	pos      int
}

func (l *sliceLayer) Descriptor() core.LayerDescriptor { return l.desc }
func (l *sliceLayer) ResetReading()                    { l.pos = 0 }
func (l *sliceLayer) NextFeature() *core.Feature {
	if l.pos >= len(l.features) {
		return nil
	}
	f := l.features[l.pos]
	l.pos++
	return f
}

// scriptedSource fails its first failures reads with err, then serves layer.
type scriptedSource struct {
	layer       *sliceLayer
	failures    int
	err         error
	reads       []string
	uri         string
	partitioned bool
}

func (s *scriptedSource) Read(ctx context.Context, uri string, createIfMissing bool) error {
	s.reads = append(s.reads, uri)
	s.uri = uri
	if len(s.reads) <= s.failures {
		return s.err
	}
	return nil
}
func (s *scriptedSource) URI() string       { return s.uri }
func (s *scriptedSource) Partitioned() bool { return s.partitioned }
func (s *scriptedSource) Layers() []core.SourceLayer {
	if len(s.reads) <= s.failures {
		return nil
	}
	return []core.SourceLayer{s.layer}
}

var placeDefn = &core.FeatureDefinition{
	GeometryType: core.GeometryPoint,
	Fields: []core.FieldDefinition{
		{Name: schema.ChangeColumn, Type: core.FieldString},
		{Name: schema.GMLIDColumn, Type: core.FieldString},
		{Name: "id", Type: core.FieldInteger},
		{Name: "name", Type: core.FieldString},
		{Name: "scratch", Type: core.FieldString},
	},
}

func place(change string, id int, name string) *core.Feature {
	f := core.NewFeature(placeDefn)
	f.Values = []any{change, fmt.Sprintf("places.%d", id), float64(id), name, "tmp"}
	f.Geometry = geom.Point{float64(id), float64(id)}
	return f
}

func source(features ...*core.Feature) *scriptedSource {
	return &scriptedSource{layer: &sliceLayer{
		desc: core.LayerDescriptor{
			ID:           "v:x100",
			Fields:       placeDefn.Fields,
			SRS:          core.SpatialReference{EPSG: 4326},
			GeometryType: core.GeometryPoint,
		},
		features: features,
	}}
}

type harness struct {
	store  *database.SQLStore
	feed   *changefeed.MemoryFeed
	writer *Writer
}

func newHarness(t *testing.T, dst core.Store) *harness {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	store, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "dst.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	if dst == nil {
		dst = store
	} else if w, ok := dst.(*flakyStore); ok {
		w.Store = store
	}

	optional := schema.NewOptionalColumnSet()
	tr := transcode.New(optional, nil, logger)
	feed := changefeed.NewMemoryFeed(64)
	t.Cleanup(func() { feed.Close() })
	deps := Dependencies{
		Reconciler: schema.NewReconciler(optional, core.SpatialReference{EPSG: 4326}, logger),
		Transcoder: tr,
		Applier:    apply.New(tr, feed, "run-test", logger),
		Optional:   optional,
	}
	return &harness{
		store:  store,
		feed:   feed,
		writer: NewWriter(dst, deps, Config{MaxAttempts: 5, Threshold: 4}, logger),
	}
}

func (h *harness) names(t *testing.T) map[string]string {
	t.Helper()
	layer, err := h.store.Layer(context.Background(), "places")
	require.NoError(t, err)
	require.NotNil(t, layer)
	all, err := layer.FindFeatures(context.Background(), nil, 0)
	require.NoError(t, err)
	out := map[string]string{}
	for _, f := range all {
		out[f.GetString("id")] = f.GetString("name")
	}
	return out
}

func fieldNames(t *testing.T, store core.Store) []string {
	t.Helper()
	layer, err := store.Layer(context.Background(), "places")
	require.NoError(t, err)
	require.NotNil(t, layer)
	fields, err := layer.Fields(context.Background())
	require.NoError(t, err)
	var names []string
	for _, f := range fields {
		names = append(names, f.Name)
	}
	return names
}

func fullParams() Params {
	return Params{
		URI:                   "http://example.test/wfs?typeName=v:x100",
		Entry:                 core.LayerConfigEntry{ID: "v:x100", PrimaryKey: "id", Discard: []string{"scratch"}},
		LayerName:             "places",
		ForceFeatureByFeature: true,
	}
}

var gatewayTimeout = core.NewSyncError(core.ErrCodeTransientIO, "v:x100", "HTTP error code : 504", nil)

func TestWrite_RetriesGatewayTimeoutWithoutSpace(t *testing.T) {
	h := newHarness(t, nil)
	src := source(place("", 1, "a"))
	src.failures, src.err = 4, errors.New("HTTP error code: 504")

	_, err := h.writer.Write(context.Background(), src, fullParams())
	require.NoError(t, err)
	assert.Len(t, src.reads, 5)
	assert.Equal(t, map[string]string{"1": "a"}, h.names(t))

	h = newHarness(t, nil)
	src = source(place("", 1, "a"))
	src.failures, src.err = 5, errors.New("HTTP error code: 504")
	_, err = h.writer.Write(context.Background(), src, fullParams())
	require.Error(t, err)
	assert.Len(t, src.reads, 5)
}

func TestWrite_RetriesTransientReads(t *testing.T) {
	h := newHarness(t, nil)
	src := source(place("", 1, "a"), place("", 2, "b"))
	src.failures, src.err = 4, gatewayTimeout

	_, err := h.writer.Write(context.Background(), src, fullParams())
	require.NoError(t, err)
	assert.Len(t, src.reads, 5)
	for _, uri := range src.reads {
		assert.Equal(t, fullParams().URI, uri)
	}
	assert.Equal(t, map[string]string{"1": "a", "2": "b"}, h.names(t))
}

func TestWrite_GivesUpAfterMaxAttempts(t *testing.T) {
	h := newHarness(t, nil)
	src := source(place("", 1, "a"))
	src.failures, src.err = 5, gatewayTimeout

	_, err := h.writer.Write(context.Background(), src, fullParams())
	require.Error(t, err)
	assert.Len(t, src.reads, 5)
	assert.Equal(t, core.ErrCodeTransientIO, core.CodeOf(err))
}

func TestWrite_PermanentErrorIsNotRetried(t *testing.T) {
	h := newHarness(t, nil)
	src := source(place("", 1, "a"))
	src.failures = 1
	src.err = core.NewSyncError(core.ErrCodeDatasourceInit, "v:x100", "HTTP error code : 500", nil)

	_, err := h.writer.Write(context.Background(), src, fullParams())
	require.Error(t, err)
	assert.Len(t, src.reads, 1)
}

func TestWrite_FullCopyIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		src := source(place("", 1, "a"), place("", 2, "b"), place("", 3, "c"))
		_, err := h.writer.Write(ctx, src, fullParams())
		require.NoError(t, err)
	}
	assert.Equal(t, map[string]string{"1": "a", "2": "b", "3": "c"}, h.names(t))
	assert.Equal(t, []string{"id", "name"}, fieldNames(t, h.store))
}

// flakyStore hands out layers that reject the failAt-th created feature
// and fail every lookup with findErr when it is set.
type flakyStore struct {
	core.Store
	failAt  int
	findErr error
}

type flakyLayer struct {
	core.Layer
	failAt  int
	findErr error
	created int
}

func (l *flakyLayer) FindFeatures(ctx context.Context, preds []core.Predicate, limit int) ([]*core.Feature, error) {
	if l.findErr != nil {
		return nil, l.findErr
	}
	return l.Layer.FindFeatures(ctx, preds, limit)
}

func (l *flakyLayer) CreateFeature(ctx context.Context, f *core.Feature) error {
	l.created++
	if l.created == l.failAt {
		return errors.New("disk full")
	}
	return l.Layer.CreateFeature(ctx, f)
}

func (s *flakyStore) Layer(ctx context.Context, name string) (core.Layer, error) {
	layer, err := s.Store.Layer(ctx, name)
	if err != nil || layer == nil {
		return layer, err
	}
	return &flakyLayer{Layer: layer, failAt: s.failAt, findErr: s.findErr}, nil
}

func (s *flakyStore) CreateLayer(ctx context.Context, name string, srs core.SpatialReference, gtype core.GeometryType, opts core.CreateLayerOptions) core.CreateResult {
	res := s.Store.CreateLayer(ctx, name, srs, gtype, opts)
	if res.Layer != nil {
		res.Layer = &flakyLayer{Layer: res.Layer, failAt: s.failAt, findErr: s.findErr}
	}
	return res
}

func TestFeatureCopy_TransactionDowngrade(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		want     int64
	}{
		{"rolled back inside transaction", 0, 0},
		{"rolled back below threshold", 3, 0},
		{"partial outside transaction", 4, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &flakyStore{failAt: 2})
			ctx := context.Background()
			src := source(place("", 1, "a"), place("", 2, "b"), place("", 3, "c"))
			require.NoError(t, src.Read(ctx, "http://example.test", false))

			wc := &WriteContext{
				Params: fullParams(),
				Retry:  RetryState{Attempts: tt.attempts, MaxAttempts: 5, Threshold: 4},
			}
			_, err := h.writer.writeOnce(ctx, src, wc)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "disk full")

			layer, err := h.store.Layer(ctx, "places")
			require.NoError(t, err)
			require.NotNil(t, layer)
			n, err := layer.FeatureCount(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestFeatureCopyIncremental_AppliesChanges(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	params := fullParams()
	params.IncrementalWithPrimaryKey = true

	first := source(place("insert", 1, "a"), place("INSERT", 2, "b"), place("insert", 3, "c"))
	_, err := h.writer.Write(ctx, first, params)
	require.NoError(t, err)

	second := source(
		place("update", 2, "b2"),
		place("delete", 3, ""),
		place("update", 99, "ghost"),
		place("insert", 4, "d"),
	)
	second.partitioned = true
	maxKey, err := h.writer.Write(ctx, second, params)
	require.NoError(t, err)
	require.NotNil(t, maxKey)
	assert.Equal(t, "4", *maxKey)

	assert.Equal(t, map[string]string{"1": "a", "2": "b2", "4": "d"}, h.names(t))
}

func TestFeatureCopyIncremental_PublishesOnlyCommittedChanges(t *testing.T) {
	h := newHarness(t, nil)
	params := fullParams()
	params.IncrementalWithPrimaryKey = true

	_, err := h.writer.Write(context.Background(), source(place("insert", 1, "a"), place("insert", 2, "b")), params)
	require.NoError(t, err)
	assert.Equal(t, 2, h.feed.Size())
}

func TestFeatureCopyIncremental_RolledBackChangesAreNotPublished(t *testing.T) {
	tests := []struct {
		name      string
		attempts  int
		features  int64
		published int
	}{
		{"inside transaction", 0, 0, 0},
		{"outside transaction", 4, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &flakyStore{findErr: errors.New("lookup failed")})
			ctx := context.Background()
			src := source(place("insert", 1, "a"), place("update", 1, "a2"))
			require.NoError(t, src.Read(ctx, "http://example.test", false))

			params := fullParams()
			params.IncrementalWithPrimaryKey = true
			wc := &WriteContext{
				Params: params,
				Retry:  RetryState{Attempts: tt.attempts, MaxAttempts: 5, Threshold: 4},
			}
			_, err := h.writer.writeOnce(ctx, src, wc)
			require.ErrorContains(t, err, "lookup failed")

			layer, err := h.store.Layer(ctx, "places")
			require.NoError(t, err)
			require.NotNil(t, layer)
			n, err := layer.FeatureCount(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.features, n)
			assert.Equal(t, tt.published, h.feed.Size())
		})
	}
}

func TestFeatureCopyIncremental_UnpartitionedHasNoMaxKey(t *testing.T) {
	h := newHarness(t, nil)
	params := fullParams()
	params.IncrementalWithPrimaryKey = true

	maxKey, err := h.writer.Write(context.Background(), source(place("insert", 7, "g")), params)
	require.NoError(t, err)
	assert.Nil(t, maxKey)
}

func TestDriverCopy_Strategies(t *testing.T) {
	for _, strategy := range []TempStrategy{TempDirect, TempMemory, "memory"} {
		t.Run(string(strategy), func(t *testing.T) {
			h := newHarness(t, nil)
			params := fullParams()
			params.ForceFeatureByFeature = false
			params.TempStrategy = strategy

			_, err := h.writer.Write(context.Background(), source(place("", 1, "a"), place("", 2, "b")), params)
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"1": "a", "2": "b"}, h.names(t))
			assert.Equal(t, []string{"id", "name"}, fieldNames(t, h.store))
		})
	}
}

func TestDriverCopy_UnknownStrategy(t *testing.T) {
	h := newHarness(t, nil)
	params := fullParams()
	params.ForceFeatureByFeature = false
	params.TempStrategy = "DISK"

	_, err := h.writer.Write(context.Background(), source(place("", 1, "a")), params)
	require.Error(t, err)
	assert.Equal(t, core.ErrCodeUnknownTempStrategy, core.CodeOf(err))
}

func TestParams_Mode(t *testing.T) {
	assert.Equal(t, "driverCopy", Params{}.mode())
	assert.Equal(t, "featureCopy", Params{WideInteger: true}.mode())
	assert.Equal(t, "featureCopy", Params{SRSConversion: true}.mode())
	assert.Equal(t, "featureCopyIncremental", Params{IncrementalWithPrimaryKey: true, ForceFeatureByFeature: true}.mode())
}
