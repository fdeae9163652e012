package write

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/featuresync/internal/core"
	"github.com/rzpsarthak13/featuresync/internal/registry"
)

// EntryStatus is the state of a layer write in the ledger.
type EntryStatus string

const (
	// StatusPending is recorded before the layer write starts.
	StatusPending EntryStatus = "pending"

	// StatusCommitted is recorded after the layer write succeeded.
	StatusCommitted EntryStatus = "committed"

	// StatusFailed is recorded after the layer write failed.
	StatusFailed EntryStatus = "failed"
)

// WALEntry is one write-ahead ledger record for a layer synchronization.
type WALEntry struct {
	RunID      string      `json:"run_id"`
	LayerID    string      `json:"layer_id"`
	Mode       string      `json:"mode"`
	From       string      `json:"from,omitempty"`
	To         string      `json:"to,omitempty"`
	Status     EntryStatus `json:"status"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at,omitempty"`
}

// WALManager keeps a write-ahead ledger of layer writes in a KV store.
// A pending entry left behind by a crashed run identifies the layers whose
// destination may hold a partial write.
type WALManager struct {
	kvStore core.KVStore
	prefix  string
	ttl     time.Duration
	logger  *zap.Logger
}

// NewWALManager creates a new WAL manager.
// prefix is used to namespace ledger entries (e.g., "wal").
func NewWALManager(kvStore core.KVStore, prefix string, logger *zap.Logger) *WALManager {
	if prefix == "" {
		prefix = "wal"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WALManager{
		kvStore: kvStore,
		prefix:  prefix,
		ttl:     7 * 24 * time.Hour,
		logger:  logger.Named("wal"),
	}
}

func (w *WALManager) entryKey(layerID, runID string) string {
	return fmt.Sprintf("%s:%s:entry:%s", w.prefix, layerID, runID)
}

func (w *WALManager) latestKey(layerID string) string {
	return fmt.Sprintf("%s:%s:latest", w.prefix, layerID)
}

// Append records a pending entry and makes it the layer's latest entry.
func (w *WALManager) Append(ctx context.Context, entry *WALEntry) error {
	if entry.RunID == "" {
		entry.RunID = uuid.NewString()
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = time.Now()
	}
	if entry.Status == "" {
		entry.Status = StatusPending
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal WAL entry: %w", err)
	}

	if err := w.kvStore.BatchSet(ctx, map[string][]byte{
		w.entryKey(entry.LayerID, entry.RunID): data,
		w.latestKey(entry.LayerID):             []byte(entry.RunID),
	}, w.ttl); err != nil {
		return fmt.Errorf("failed to store WAL entry: %w", err)
	}
	return nil
}

// Get retrieves the entry of one run for a layer.
func (w *WALManager) Get(ctx context.Context, layerID, runID string) (*WALEntry, error) {
	data, err := w.kvStore.Get(ctx, w.entryKey(layerID, runID))
	if err != nil {
		return nil, fmt.Errorf("failed to get WAL entry: %w", err)
	}

	var entry WALEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal WAL entry: %w", err)
	}
	return &entry, nil
}

// Latest returns the most recent entry for a layer, or nil when none exists.
func (w *WALManager) Latest(ctx context.Context, layerID string) (*WALEntry, error) {
	runID, err := w.kvStore.Get(ctx, w.latestKey(layerID))
	if errors.Is(err, core.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest WAL entry: %w", err)
	}
	return w.Get(ctx, layerID, string(runID))
}

// Acknowledge closes an entry as committed, or failed when syncErr is non-nil.
func (w *WALManager) Acknowledge(ctx context.Context, layerID, runID string, syncErr error) error {
	entry, err := w.Get(ctx, layerID, runID)
	if err != nil {
		return err
	}
	entry.FinishedAt = time.Now()
	entry.Status = StatusCommitted
	if syncErr != nil {
		entry.Status = StatusFailed
		entry.Error = syncErr.Error()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal WAL entry: %w", err)
	}
	if err := w.kvStore.Set(ctx, w.entryKey(layerID, runID), data, w.ttl); err != nil {
		return fmt.Errorf("failed to acknowledge WAL entry: %w", err)
	}
	return nil
}

// OnLayerStart implements registry.LifecycleHook.
func (w *WALManager) OnLayerStart(ctx context.Context, run registry.LayerRun) error {
	if prev, err := w.Latest(ctx, run.LayerID); err == nil && prev != nil && prev.Status == StatusPending {
		w.logger.Warn("previous write did not finish; destination may hold a partial write",
			zap.String("layer", run.LayerID), zap.String("run_id", prev.RunID))
	}
	return w.Append(ctx, &WALEntry{
		RunID:   run.RunID,
		LayerID: run.LayerID,
		Mode:    run.Mode,
		From:    run.From,
		To:      run.To,
	})
}

// OnLayerFinish implements registry.LifecycleHook.
func (w *WALManager) OnLayerFinish(ctx context.Context, run registry.LayerRun, syncErr error) error {
	return w.Acknowledge(ctx, run.LayerID, run.RunID, syncErr)
}
