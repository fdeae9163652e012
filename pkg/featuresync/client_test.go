package featuresync

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const roads = `{"type": "FeatureCollection", "features": [
  {"type": "Feature", "id": "x50.1", "geometry": {"type": "LineString", "coordinates": [[0, 0], [1, 1]]},
   "properties": {"road_id": 10, "name": "Main St"}}
]}`

const roadChanges = `{"type": "FeatureCollection", "features": [
  {"type": "Feature", "id": "x50-changeset.1", "geometry": {"type": "LineString", "coordinates": [[0, 0], [2, 2]]},
   "properties": {"__change__": "INSERT", "road_id": 11, "name": "High St"}}
]}`

func testConfig(t *testing.T, feed string) *Config {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "-changeset") {
			fmt.Fprint(w, roadChanges)
			return
		}
		fmt.Fprint(w, roads)
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Source.URL = srv.URL + "/services;key="
	cfg.Source.Key = "k"
	cfg.Source.RateLimit = 100
	cfg.Destination.Path = filepath.Join(dir, "dst.db")
	cfg.LayerConfig.Backend = "kv"
	cfg.ChangeFeed.QueueType = feed
	cfg.ChangeFeed.DrainRate = 1000
	return cfg
}

func TestClient_SyncPublishesChanges(t *testing.T) {
	ctx := context.Background()
	c, err := NewClient(ctx, testConfig(t, "memory"), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Configure(ctx, LayerEntry{ID: "v:x50", Name: "Roads", PrimaryKey: "road_id", Category: "transport"}))
	layers, err := c.Layers(ctx, "transport")
	require.NoError(t, err)
	assert.Equal(t, []string{"v:x50"}, layers)

	require.NoError(t, c.Sync(ctx, SyncRequest{Layer: "v:x50", Full: true}))
	assert.Equal(t, 0, c.Feed().Size())

	require.NoError(t, c.Sync(ctx, SyncRequest{Layer: "roads", From: "2020-01-01"}))
	run, err := c.LastRun(ctx, "v:x50")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "committed", string(run.Status))
	assert.Equal(t, "incremental", run.Mode)
	assert.Equal(t, c.RunID(), run.RunID)

	var events []*ChangeEvent
	d, err := c.NewDrainer(func(ctx context.Context, e *ChangeEvent) error {
		events = append(events, e)
		return nil
	})
	require.NoError(t, err)
	d.config.StopWhenEmpty = true
	d.Run(ctx)

	require.Len(t, events, 1)
	assert.Equal(t, "roads", events[0].Layer)
	assert.Equal(t, "insert", string(events[0].Change))
	assert.Equal(t, c.RunID(), events[0].RunID)

	require.NoError(t, c.Clean(ctx, "Roads"))
	run, err = c.LastRun(ctx, "v:x50")
	require.NoError(t, err)
	assert.Equal(t, "incremental", run.Mode)
}

func TestClient_FeedDisabled(t *testing.T) {
	c, err := NewClient(context.Background(), testConfig(t, "none"), nil)
	require.NoError(t, err)
	defer c.Close()

	assert.Nil(t, c.Feed())
	_, err = c.NewDrainer(func(ctx context.Context, e *ChangeEvent) error { return nil })
	assert.Error(t, err)
}

func TestNewClient_InvalidConfig(t *testing.T) {
	_, err := NewClient(context.Background(), nil, nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Destination.Kind = "oracle"
	_, err = NewClient(context.Background(), cfg, nil)
	assert.Error(t, err)
}
