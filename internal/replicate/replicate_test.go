package replicate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-spatial/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rzpsarthak13/featuresync/internal/apply"
	"github.com/rzpsarthak13/featuresync/internal/core"
	"github.com/rzpsarthak13/featuresync/internal/database"
	"github.com/rzpsarthak13/featuresync/internal/kvstore"
	"github.com/rzpsarthak13/featuresync/internal/layerconf"
	"github.com/rzpsarthak13/featuresync/internal/registry"
	"github.com/rzpsarthak13/featuresync/internal/schema"
	"github.com/rzpsarthak13/featuresync/internal/source"
	"github.com/rzpsarthak13/featuresync/internal/transcode"
	"github.com/rzpsarthak13/featuresync/internal/transfer"
	"github.com/rzpsarthak13/featuresync/internal/write"
)

var roadDefn = &core.FeatureDefinition{
	GeometryType: core.GeometryLineString,
	Fields: []core.FieldDefinition{
		{Name: schema.ChangeColumn, Type: core.FieldString},
		{Name: "id", Type: core.FieldInteger},
		{Name: "name", Type: core.FieldString},
	},
}

func road(change string, id int, name string) *core.Feature {
	f := core.NewFeature(roadDefn)
	f.Values = []any{change, float64(id), name}
	f.Geometry = geom.LineString{{0, 0}, {float64(id), 1}}
	return f
}

type pageLayer struct {
	features []*core.Feature
	pos      int
}

func (l *pageLayer) Descriptor() core.LayerDescriptor {
	return core.LayerDescriptor{
		ID:           "v:x50",
		Fields:       roadDefn.Fields,
		SRS:          core.SpatialReference{EPSG: 4326},
		GeometryType: core.GeometryLineString,
	}
}
func (l *pageLayer) ResetReading() { l.pos = 0 }
func (l *pageLayer) NextFeature() *core.Feature {
	if l.pos >= len(l.features) {
		return nil
	}
	l.pos++
	return l.features[l.pos-1]
}

// pagedSource serves one page per read; reads past the last page are empty.
type pagedSource struct {
	pages       [][]*core.Feature
	reads       []string
	partitioned bool
	current     *pageLayer
}

func (s *pagedSource) Read(ctx context.Context, uri string, createIfMissing bool) error {
	var page []*core.Feature
	if len(s.reads) < len(s.pages) {
		page = s.pages[len(s.reads)]
	}
	s.reads = append(s.reads, uri)
	s.current = &pageLayer{features: page}
	return nil
}
func (s *pagedSource) URI() string {
	if len(s.reads) == 0 {
		return ""
	}
	return s.reads[len(s.reads)-1]
}
func (s *pagedSource) Layers() []core.SourceLayer      { return []core.SourceLayer{s.current} }
func (s *pagedSource) Partitioned() bool               { return s.partitioned }
func (s *pagedSource) SetPartitioned(partitioned bool) { s.partitioned = partitioned }

type fixture struct {
	cfg    *registry.ConfigManager
	layers *layerconf.KVConfig
	store  *database.SQLStore
	src    *pagedSource
	deps   Dependencies
	kv     core.KVStore
}

func newFixture(t *testing.T, entry core.LayerConfigEntry) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	store, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "dst.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	kv := kvstore.NewMemoryKVStore()
	layers := layerconf.NewKVConfig(kv, "layerconf")
	require.NoError(t, layers.Put(ctx, entry))

	cfg := registry.NewConfigManager()
	uris, err := source.NewURIBuilder(registry.InternalSourceConfig{URL: "http://wfs.test/", Key: "k", Format: "json"})
	require.NoError(t, err)

	optional := schema.NewOptionalColumnSet()
	tr := transcode.New(optional, nil, logger)
	writer := transfer.NewWriter(store, transfer.Dependencies{
		Reconciler: schema.NewReconciler(optional, core.SpatialReference{EPSG: 4326}, logger),
		Transcoder: tr,
		Applier:    apply.New(tr, nil, "run-1", logger),
		Optional:   optional,
	}, transfer.Config{}, logger)

	src := &pagedSource{}
	return &fixture{
		cfg:    cfg,
		layers: layers,
		store:  store,
		src:    src,
		kv:     kv,
		deps: Dependencies{
			Config: cfg,
			Layers: layers,
			Source: src,
			URIs:   uris,
			Writer: writer,
			Store:  store,
			RunID:  "run-1",
		},
	}
}

func (fx *fixture) synchronizer(t *testing.T, opts Options) *Synchronizer {
	t.Helper()
	s, err := NewSynchronizer(fx.deps, opts, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func (fx *fixture) count(t *testing.T, name string) int64 {
	t.Helper()
	layer, err := fx.store.Layer(context.Background(), name)
	require.NoError(t, err)
	if layer == nil {
		return -1
	}
	n, err := layer.FeatureCount(context.Background())
	require.NoError(t, err)
	return n
}

func (fx *fixture) watermark(t *testing.T, id string) string {
	t.Helper()
	v, err := fx.layers.ReadProperty(context.Background(), id, core.PropLastModified)
	require.NoError(t, err)
	return v
}

var roads = core.LayerConfigEntry{ID: "v:x50", PrimaryKey: "id", Name: "NZ Road Centrelines"}

func TestSynchronizeLayer_FullRecordsWatermark(t *testing.T) {
	fx := newFixture(t, roads)
	fx.src.pages = [][]*core.Feature{{road("", 1, "a"), road("", 2, "b")}}
	s := fx.synchronizer(t, Options{})
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.SynchronizeLayer(context.Background(), "v:x50", ModeFull))
	assert.Equal(t, int64(2), fx.count(t, "nz_road_centrelines"))
	assert.Equal(t, "2024-05-01T12:00:00", fx.watermark(t, "v:x50"))
	require.Len(t, fx.src.reads, 1)
	assert.Contains(t, fx.src.reads[0], "http://wfs.test/k/wfs?")
	assert.Contains(t, fx.src.reads[0], "typeName=v%3Ax50")
}

func TestSynchronizeLayer_WatermarkMonotonicity(t *testing.T) {
	fx := newFixture(t, roads)
	ctx := context.Background()
	fx.src.pages = [][]*core.Feature{{road("insert", 1, "a"), road("insert", 2, "b")}}

	s := fx.synchronizer(t, Options{To: "2024-05-01T00:00:00"})
	require.NoError(t, s.SynchronizeLayer(ctx, "v:x50", ModeIncremental))
	assert.Equal(t, "2024-05-01T00:00:00", fx.watermark(t, "v:x50"))
	require.Len(t, fx.src.reads, 1)
	assert.Contains(t, fx.src.reads[0], "v%3Ax50-changeset")
	assert.Contains(t, fx.src.reads[0], "viewparams=from%3A2000-01-01T00%3A00%3A00%3Bto%3A2024-05-01T00%3A00%3A00")

	// An equal or earlier bound touches nothing.
	for _, to := range []string{"2024-05-01", "2024-04-01T08:00:00"} {
		s = fx.synchronizer(t, Options{To: to})
		require.NoError(t, s.SynchronizeLayer(ctx, "v:x50", ModeIncremental))
	}
	assert.Len(t, fx.src.reads, 1)
	assert.Equal(t, "2024-05-01T00:00:00", fx.watermark(t, "v:x50"))
	assert.Equal(t, int64(2), fx.count(t, "nz_road_centrelines"))
}

func TestSynchronizeLayer_PartitionLoop(t *testing.T) {
	fx := newFixture(t, roads)
	cfg := fx.cfg.GetConfig()
	cfg.Misc.PartitionLayers = []string{"v:x50"}
	cfg.Misc.PartitionSize = 2
	fx.src.pages = [][]*core.Feature{
		{road("insert", 1, "a"), road("insert", 2, "b")},
		{road("insert", 3, "c"), road("insert", 4, "d")},
	}

	s := fx.synchronizer(t, Options{From: "2024-01-01", To: "2024-02-01"})
	require.NoError(t, s.SynchronizeLayer(context.Background(), "v:x50", ModeIncremental))

	require.Len(t, fx.src.reads, 3)
	assert.Contains(t, fx.src.reads[0], "cql_filter=id%3E0")
	assert.Contains(t, fx.src.reads[1], "cql_filter=id%3E2")
	assert.Contains(t, fx.src.reads[2], "cql_filter=id%3E4")
	for _, uri := range fx.src.reads {
		assert.Contains(t, uri, "maxFeatures=2")
	}
	assert.Equal(t, int64(4), fx.count(t, "nz_road_centrelines"))
	assert.Equal(t, "2024-02-01T00:00:00", fx.watermark(t, "v:x50"))
}

func TestSynchronizeLayer_PartitionWithoutKey(t *testing.T) {
	entry := roads
	entry.PrimaryKey = ""
	fx := newFixture(t, entry)
	fx.cfg.GetConfig().Misc.PartitionLayers = []string{"v:x50"}

	s := fx.synchronizer(t, Options{From: "2024-01-01"})
	err := s.SynchronizeLayer(context.Background(), "v:x50", ModeIncremental)
	require.Error(t, err)
	assert.Equal(t, core.ErrCodePrimaryKeyUnavailable, core.CodeOf(err))
	assert.True(t, core.IsBatchContinuable(err))
	assert.Empty(t, fx.src.reads)
}

func TestSynchronizeLayer_CQLPrecedence(t *testing.T) {
	entry := roads
	entry.CQL = "layer_cql=1"
	fx := newFixture(t, entry)
	fx.src.pages = [][]*core.Feature{{road("", 1, "a")}}
	ctx := context.Background()

	require.NoError(t, fx.synchronizer(t, Options{}).SynchronizeLayer(ctx, "v:x50", ModeFull))
	fx.cfg.GetConfig().Destination.CQL = "dst_cql=1"
	require.NoError(t, fx.synchronizer(t, Options{}).SynchronizeLayer(ctx, "v:x50", ModeFull))
	require.NoError(t, fx.synchronizer(t, Options{CQL: "cli_cql=1"}).SynchronizeLayer(ctx, "v:x50", ModeFull))

	require.Len(t, fx.src.reads, 3)
	assert.Contains(t, fx.src.reads[0], "cql_filter=layer_cql%3D1")
	assert.Contains(t, fx.src.reads[1], "cql_filter=dst_cql%3D1")
	assert.Contains(t, fx.src.reads[2], "cql_filter=cli_cql%3D1")
}

func TestSynchronizeLayer_LifecycleDrivesLedger(t *testing.T) {
	fx := newFixture(t, roads)
	ctx := context.Background()
	fx.src.pages = [][]*core.Feature{{road("", 1, "a")}}

	wal := write.NewWALManager(fx.kv, "wal", nil)
	fx.deps.Lifecycle = registry.NewLifecycleManager()
	fx.deps.Lifecycle.RegisterHook(wal)

	require.NoError(t, fx.synchronizer(t, Options{}).SynchronizeLayer(ctx, "v:x50", ModeFull))
	entry, err := wal.Latest(ctx, "v:x50")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "run-1", entry.RunID)
	assert.Equal(t, write.StatusCommitted, entry.Status)
	assert.Equal(t, "full", entry.Mode)
}

func TestSynchronizeLayer_StartHookAborts(t *testing.T) {
	fx := newFixture(t, roads)
	fx.deps.Lifecycle = registry.NewLifecycleManager()
	fx.deps.Lifecycle.RegisterHook(registry.LifecycleHookFunc{
		OnStartFunc: func(ctx context.Context, run registry.LayerRun) error { return errors.New("locked") },
	})

	err := fx.synchronizer(t, Options{}).SynchronizeLayer(context.Background(), "v:x50", ModeFull)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked")
	assert.Empty(t, fx.src.reads)
}

func TestNewSynchronizer_Validation(t *testing.T) {
	fx := newFixture(t, roads)
	for _, opts := range []Options{
		{From: "01/02/2024"},
		{To: "2024-13-45"},
		{EPSG: "wgs84"},
	} {
		_, err := NewSynchronizer(fx.deps, opts, nil)
		assert.True(t, core.IsConfigurationError(err), "%+v", opts)
	}

	s := fx.synchronizer(t, Options{})
	err := s.SynchronizeLayer(context.Background(), "roads", ModeFull)
	assert.True(t, core.IsConfigurationError(err))
}

func TestClean(t *testing.T) {
	fx := newFixture(t, roads)
	ctx := context.Background()
	fx.src.pages = [][]*core.Feature{{road("", 1, "a")}}
	s := fx.synchronizer(t, Options{})
	require.NoError(t, s.SynchronizeLayer(ctx, "v:x50", ModeFull))

	p := NewProcessor(s, fx.layers, nil)
	require.NoError(t, p.Clean(ctx, "NZ Road Centrelines"))
	assert.Equal(t, int64(-1), fx.count(t, "nz_road_centrelines"))
	assert.Empty(t, fx.watermark(t, "v:x50"))
}

func TestProcessor_RunContinuesPastBatchFaults(t *testing.T) {
	fx := newFixture(t, roads)
	ctx := context.Background()
	require.NoError(t, fx.layers.Put(ctx, core.LayerConfigEntry{ID: "v:x60", Name: "No Key", Category: "roads"}))
	require.NoError(t, fx.layers.Put(ctx, core.LayerConfigEntry{ID: "v:x70", Name: "Other", Category: "water"}))
	fx.cfg.GetConfig().Misc.PartitionLayers = []string{"v:x60"}
	fx.src.pages = [][]*core.Feature{{road("insert", 1, "a")}}

	p := NewProcessor(fx.synchronizer(t, Options{To: "2024-05-01"}), fx.layers, nil)

	valid, err := p.ValidLayers(ctx, []string{"roads"})
	require.NoError(t, err)
	assert.Equal(t, []string{"v:x60"}, valid)

	require.NoError(t, p.Run(ctx, Request{Mode: ModeIncremental}))
	assert.Equal(t, "2024-05-01T00:00:00", fx.watermark(t, "v:x50"))
	assert.Empty(t, fx.watermark(t, "v:x60"))
	assert.Equal(t, "2024-05-01T00:00:00", fx.watermark(t, "v:x70"))
}

func TestProcessor_LayerOutsideGroupIsIgnored(t *testing.T) {
	fx := newFixture(t, roads)
	p := NewProcessor(fx.synchronizer(t, Options{}), fx.layers, nil)

	require.NoError(t, p.Run(context.Background(), Request{Layer: "v:x50", Groups: []string{"water"}, Mode: ModeFull}))
	assert.Empty(t, fx.src.reads)

	err := p.Run(context.Background(), Request{Layer: "Unknown Layer", Mode: ModeFull})
	assert.True(t, core.IsConfigurationError(err))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29T00:00:00", d.Format(DateLayout))

	_, err = ParseDate("2024-02-29 10:00")
	assert.True(t, core.IsConfigurationError(err))
}
