package layerconf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rzpsarthak13/featuresync/internal/core"
)

const indexSuffix = "_layers"

// KVConfig is a layer configuration stored in a key-value store, one JSON
// document per layer plus an index of layer ids.
type KVConfig struct {
	kv     core.KVStore
	prefix string

	// mu serialises read-modify-write cycles from this process.
	mu sync.Mutex
}

// NewKVConfig creates a layer configuration under prefix.
func NewKVConfig(kv core.KVStore, prefix string) *KVConfig {
	if prefix == "" {
		prefix = "layerconf"
	}
	return &KVConfig{kv: kv, prefix: prefix}
}

func (c *KVConfig) entryKey(layerID string) string {
	return c.prefix + ":" + layerID
}

func (c *KVConfig) indexKey() string {
	return c.prefix + ":" + indexSuffix
}

func (c *KVConfig) get(ctx context.Context, layerID string) (*core.LayerConfigEntry, error) {
	data, err := c.kv.Get(ctx, c.entryKey(layerID))
	if errors.Is(err, core.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read layer config %s: %w", layerID, err)
	}
	var e core.LayerConfigEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode layer config %s: %w", layerID, err)
	}
	return &e, nil
}

// ReadProperty implements core.LayerConfig.
func (c *KVConfig) ReadProperty(ctx context.Context, layerID, key string) (string, error) {
	e, err := c.get(ctx, layerID)
	if err != nil || e == nil {
		return "", err
	}
	v, _ := e.Property(key)
	return v, nil
}

// WriteProperty implements core.LayerConfig.
func (c *KVConfig) WriteProperty(ctx context.Context, layerID, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, err := c.get(ctx, layerID)
	if err != nil {
		return err
	}
	if e == nil {
		return notConfigured(layerID)
	}
	if !e.SetProperty(key, value) {
		return core.NewSyncError(core.ErrCodeConfiguration, layerID,
			fmt.Sprintf("unknown layer property %q", key), nil)
	}
	return c.put(ctx, *e, nil)
}

// LayerNames implements core.LayerConfig.
func (c *KVConfig) LayerNames(ctx context.Context) ([]string, error) {
	data, err := c.kv.Get(ctx, c.indexKey())
	if errors.Is(err, core.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read layer index: %w", err)
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("failed to decode layer index: %w", err)
	}
	return names, nil
}

// Entry implements core.LayerConfig.
func (c *KVConfig) Entry(ctx context.Context, layerID string) (core.LayerConfigEntry, error) {
	e, err := c.get(ctx, layerID)
	if err != nil {
		return core.LayerConfigEntry{}, err
	}
	if e == nil {
		return core.LayerConfigEntry{}, notConfigured(layerID)
	}
	return *e, nil
}

// Put adds or replaces a layer entry.
func (c *KVConfig) Put(ctx context.Context, entry core.LayerConfigEntry) error {
	if entry.ID == "" {
		return core.NewSyncError(core.ErrCodeConfiguration, "", "layer entry requires an id", nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	names, err := c.LayerNames(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(names, entry.ID) {
		names = append(names, entry.ID)
	}
	return c.put(ctx, entry, names)
}

// put stores entry, and the index when names is non-nil, in one batch.
func (c *KVConfig) put(ctx context.Context, entry core.LayerConfigEntry, names []string) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode layer config %s: %w", entry.ID, err)
	}
	items := map[string][]byte{c.entryKey(entry.ID): data}
	if names != nil {
		index, err := json.Marshal(names)
		if err != nil {
			return fmt.Errorf("failed to encode layer index: %w", err)
		}
		items[c.indexKey()] = index
	}
	if err := c.kv.BatchSet(ctx, items, 0); err != nil {
		return fmt.Errorf("failed to store layer config %s: %w", entry.ID, err)
	}
	return nil
}
