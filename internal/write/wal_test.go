package write

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rzpsarthak13/featuresync/internal/kvstore"
	"github.com/rzpsarthak13/featuresync/internal/registry"
)

func TestWAL_LifecycleCommitted(t *testing.T) {
	ctx := context.Background()
	wal := NewWALManager(kvstore.NewMemoryKVStore(), "", nil)

	latest, err := wal.Latest(ctx, "v:x1")
	require.NoError(t, err)
	assert.Nil(t, latest)

	run := registry.LayerRun{RunID: "run-1", LayerID: "v:x1", Mode: "incremental", From: "2020-01-01T00:00:00", To: "2020-02-01T00:00:00"}
	require.NoError(t, wal.OnLayerStart(ctx, run))

	entry, err := wal.Latest(ctx, "v:x1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, StatusPending, entry.Status)
	assert.Equal(t, "2020-02-01T00:00:00", entry.To)
	assert.False(t, entry.StartedAt.IsZero())

	require.NoError(t, wal.OnLayerFinish(ctx, run, nil))
	entry, err = wal.Get(ctx, "v:x1", "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCommitted, entry.Status)
	assert.Empty(t, entry.Error)
	assert.False(t, entry.FinishedAt.IsZero())
}

func TestWAL_FailedRunRecordsError(t *testing.T) {
	ctx := context.Background()
	wal := NewWALManager(kvstore.NewMemoryKVStore(), "ledger", nil)
	run := registry.LayerRun{RunID: "run-2", LayerID: "v:x2", Mode: "full"}

	require.NoError(t, wal.OnLayerStart(ctx, run))
	require.NoError(t, wal.OnLayerFinish(ctx, run, errors.New("HTTP error code : 504")))

	entry, err := wal.Latest(ctx, "v:x2")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, entry.Status)
	assert.Equal(t, "HTTP error code : 504", entry.Error)
}

func TestWAL_WarnsAboutUnfinishedRun(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.WarnLevel)
	wal := NewWALManager(kvstore.NewMemoryKVStore(), "", zap.New(core))

	require.NoError(t, wal.OnLayerStart(ctx, registry.LayerRun{RunID: "crashed", LayerID: "v:x3", Mode: "full"}))
	require.NoError(t, wal.OnLayerStart(ctx, registry.LayerRun{RunID: "next", LayerID: "v:x3", Mode: "full"}))

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "crashed", logs.All()[0].ContextMap()["run_id"])

	entry, err := wal.Latest(ctx, "v:x3")
	require.NoError(t, err)
	assert.Equal(t, "next", entry.RunID)
}

func TestWAL_AppendAssignsRunID(t *testing.T) {
	ctx := context.Background()
	wal := NewWALManager(kvstore.NewMemoryKVStore(), "", nil)
	entry := &WALEntry{LayerID: "v:x4", Mode: "full"}
	require.NoError(t, wal.Append(ctx, entry))
	assert.NotEmpty(t, entry.RunID)

	_, err := wal.Get(ctx, "v:x4", "missing")
	assert.Error(t, err)
	assert.Error(t, wal.Acknowledge(ctx, "v:x4", "missing", nil))
}
