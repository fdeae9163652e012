package cli

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/rzpsarthak13/featuresync/internal/database"
	"github.com/rzpsarthak13/featuresync/internal/layerconf"
)

const parcels = `{"type": "FeatureCollection", "features": [
  {"type": "Feature", "id": "x772.1", "geometry": {"type": "Point", "coordinates": [1, 1]},
   "properties": {"id": 1, "name": "Lot 1"}},
  {"type": "Feature", "id": "x772.2", "geometry": {"type": "Point", "coordinates": [2, 2]},
   "properties": {"id": 2, "name": "Lot 2"}}
]}`

const parcelChanges = `{"type": "FeatureCollection", "features": [
  {"type": "Feature", "id": "x772-changeset.1", "geometry": {"type": "Point", "coordinates": [2, 2]},
   "properties": {"__change__": "UPDATE", "id": 2, "name": "Lot 2b"}},
  {"type": "Feature", "id": "x772-changeset.2", "geometry": {"type": "Point", "coordinates": [1, 1]},
   "properties": {"__change__": "DELETE", "id": 1, "name": "Lot 1"}}
]}`

const layersDoc = `layers:
  - id: v:x772
    name: NZ Parcels
    pkey: id
    category: cadastre
`

type fixture struct {
	dir        string
	configPath string
	dbPath     string
	layersPath string
}

func newFixture(t *testing.T, queueType string) *fixture {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(r.URL.Path, "-changeset") {
			fmt.Fprint(w, parcelChanges)
			return
		}
		fmt.Fprint(w, parcels)
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	f := &fixture{
		dir:        dir,
		configPath: filepath.Join(dir, "featuresync.yaml"),
		dbPath:     filepath.Join(dir, "dst.db"),
		layersPath: filepath.Join(dir, "layers.yaml"),
	}
	require.NoError(t, os.WriteFile(f.layersPath, []byte(layersDoc), 0o644))

	config := fmt.Sprintf(`source:
  url: %s/services;key=
  key: test
  rate_limit: 100
  burst: 10
destination:
  kind: sqlite
  path: %s
layer_config:
  backend: file
  path: %s
kv_store:
  type: memory
change_feed:
  queue_type: %s
`, srv.URL, f.dbPath, f.layersPath, queueType)
	require.NoError(t, os.WriteFile(f.configPath, []byte(config), 0o644))
	return f
}

func (f *fixture) execute(args ...string) (string, error) {
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", f.configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (f *fixture) names(t *testing.T) map[string]string {
	t.Helper()
	ctx := context.Background()
	store, err := database.OpenSQLite(ctx, f.dbPath, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer store.Close()

	layer, err := store.Layer(ctx, "nz_parcels")
	require.NoError(t, err)
	if layer == nil {
		return nil
	}
	all, err := layer.FindFeatures(ctx, nil, 0)
	require.NoError(t, err)
	out := map[string]string{}
	for _, feat := range all {
		out[feat.GetString("id")] = feat.GetString("name")
	}
	return out
}

func (f *fixture) watermark(t *testing.T) string {
	t.Helper()
	cfg, err := layerconf.LoadFile(f.layersPath)
	require.NoError(t, err)
	v, err := cfg.ReadProperty(context.Background(), "v:x772", "lastmodified")
	require.NoError(t, err)
	return v
}

func TestSync_FullByDisplayName(t *testing.T) {
	f := newFixture(t, "none")

	_, err := f.execute("sync", "--full", "--layer", "nz parcels")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"1": "Lot 1", "2": "Lot 2"}, f.names(t))
	assert.NotEmpty(t, f.watermark(t))

	out, err := f.execute("layers")
	require.NoError(t, err)
	assert.Contains(t, out, "v:x772")
	assert.Contains(t, out, "nz_parcels")
	assert.Contains(t, out, f.watermark(t))
}

func TestSync_IncrementalAppliesChangeset(t *testing.T) {
	f := newFixture(t, "memory")

	_, err := f.execute("sync", "--full", "--layer", "v:x772")
	require.NoError(t, err)

	_, err = f.execute("sync", "--layer", "v:x772", "--from", "2020-01-01", "--to", "2020-02-01")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"2": "Lot 2b"}, f.names(t))
	assert.Equal(t, "2020-02-01T00:00:00", f.watermark(t))
}

func TestSync_GroupFilter(t *testing.T) {
	f := newFixture(t, "none")

	_, err := f.execute("sync", "--full", "--group", "roads")
	require.NoError(t, err)
	assert.Nil(t, f.names(t))

	_, err = f.execute("sync", "--full", "--group", "roads,cadastre")
	require.NoError(t, err)
	assert.Len(t, f.names(t), 2)
}

func TestSync_RejectsMalformedInput(t *testing.T) {
	f := newFixture(t, "none")

	_, err := f.execute("sync", "--from", "01/02/2020")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "yyyy-MM-dd")

	_, err = f.execute("sync", "--epsg", "mercator")
	require.Error(t, err)

	_, err = f.execute("sync", "--layer", "no such layer")
	require.Error(t, err)
}

func TestClean(t *testing.T) {
	f := newFixture(t, "none")

	_, err := f.execute("sync", "--full", "--layer", "v:x772")
	require.NoError(t, err)
	require.NotNil(t, f.names(t))

	_, err = f.execute("clean", "NZ Parcels")
	require.NoError(t, err)
	assert.Nil(t, f.names(t))
	assert.Empty(t, f.watermark(t))

	_, err = f.execute("clean")
	require.Error(t, err)
}

func TestFeed(t *testing.T) {
	_, err := newFixture(t, "none").execute("feed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")

	out, err := newFixture(t, "memory").execute("feed", "--rate", "1000")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestLoadConfig(t *testing.T) {
	_, err := loadConfig(&RootOptions{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)

	t.Setenv("FEATURESYNC_SOURCE_KEY", "from-env")
	t.Setenv("FEATURESYNC_DESTINATION_TEMP_STRATEGY", "MEMORY")
	cm, err := loadConfig(&RootOptions{})
	require.NoError(t, err)
	assert.Equal(t, "from-env", cm.GetConfig().Source.Key)
	assert.Equal(t, "MEMORY", cm.GetConfig().Destination.TempStrategy)

	t.Setenv("FEATURESYNC_DESTINATION_KIND", "postgres")
	_, err = loadConfig(&RootOptions{})
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	assert.False(t, newLogger(false, &buf).Core().Enabled(zap.DebugLevel))
	assert.True(t, newLogger(true, &buf).Core().Enabled(zap.DebugLevel))

	newLogger(false, &buf).Info("hello", zap.String("layer", "v:x1"))
	assert.Contains(t, buf.String(), `"layer":"v:x1"`)
}
