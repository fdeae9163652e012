// Package layerconf stores per-layer configuration in a YAML document or a
// key-value store.
package layerconf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/rzpsarthak13/featuresync/internal/core"
)

// document is the on-disk layout of a layer configuration file.
type document struct {
	Layers []core.LayerConfigEntry `yaml:"layers"`
}

// FileConfig is a layer configuration backed by a YAML file. Every write
// rewrites the whole file.
type FileConfig struct {
	path string

	mu      sync.RWMutex
	entries []core.LayerConfigEntry
}

// LoadFile reads the layer configuration at path. A missing file yields an
// empty configuration that is created on first write.
func LoadFile(path string) (*FileConfig, error) {
	c := &FileConfig{path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read layer config: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, core.NewSyncError(core.ErrCodeConfiguration, "",
			fmt.Sprintf("cannot parse layer config %s", path), err)
	}
	seen := make(map[string]bool, len(doc.Layers))
	for _, e := range doc.Layers {
		if e.ID == "" {
			return nil, core.NewSyncError(core.ErrCodeConfiguration, "",
				fmt.Sprintf("layer config %s has an entry without id", path), nil)
		}
		if seen[e.ID] {
			return nil, core.NewSyncError(core.ErrCodeConfiguration, e.ID,
				fmt.Sprintf("layer config %s lists the layer twice", path), nil)
		}
		seen[e.ID] = true
	}
	c.entries = doc.Layers
	return c, nil
}

func (c *FileConfig) find(layerID string) int {
	for i := range c.entries {
		if c.entries[i].ID == layerID {
			return i
		}
	}
	return -1
}

// ReadProperty implements core.LayerConfig.
func (c *FileConfig) ReadProperty(ctx context.Context, layerID, key string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i := c.find(layerID)
	if i < 0 {
		return "", nil
	}
	v, _ := c.entries[i].Property(key)
	return v, nil
}

// WriteProperty implements core.LayerConfig.
func (c *FileConfig) WriteProperty(ctx context.Context, layerID, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.find(layerID)
	if i < 0 {
		return core.NewSyncError(core.ErrCodeConfiguration, layerID, "layer is not configured", nil)
	}
	if !c.entries[i].SetProperty(key, value) {
		return core.NewSyncError(core.ErrCodeConfiguration, layerID,
			fmt.Sprintf("unknown layer property %q", key), nil)
	}
	return c.save()
}

// LayerNames implements core.LayerConfig. Names keep file order.
func (c *FileConfig) LayerNames(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.ID
	}
	return names, nil
}

// Entry implements core.LayerConfig.
func (c *FileConfig) Entry(ctx context.Context, layerID string) (core.LayerConfigEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i := c.find(layerID)
	if i < 0 {
		return core.LayerConfigEntry{}, notConfigured(layerID)
	}
	e := c.entries[i]
	e.Discard = append([]string(nil), e.Discard...)
	return e, nil
}

// Put adds or replaces a layer entry.
func (c *FileConfig) Put(ctx context.Context, entry core.LayerConfigEntry) error {
	if entry.ID == "" {
		return core.NewSyncError(core.ErrCodeConfiguration, "", "layer entry requires an id", nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.find(entry.ID); i >= 0 {
		c.entries[i] = entry
	} else {
		c.entries = append(c.entries, entry)
	}
	return c.save()
}

// save writes the file through a temporary sibling so readers never see a partial document.
func (c *FileConfig) save() error {
	data, err := yaml.Marshal(document{Layers: c.entries})
	if err != nil {
		return fmt.Errorf("failed to marshal layer config: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".layers-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to write layer config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write layer config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write layer config: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("failed to replace layer config: %w", err)
	}
	return nil
}

func notConfigured(layerID string) error {
	return core.NewSyncError(core.ErrCodeConfiguration, layerID, "layer is not configured", nil)
}
