package layerconf

import (
	"context"
	"fmt"

	"github.com/rzpsarthak13/featuresync/internal/core"
	"github.com/rzpsarthak13/featuresync/internal/registry"
)

// Backend names accepted in layer_config.backend.
const (
	BackendFile = "file"
	BackendKV   = "kv"
)

// Editable is a layer configuration that accepts whole entries.
type Editable interface {
	core.LayerConfig
	Put(ctx context.Context, entry core.LayerConfigEntry) error
}

// Open returns the configured layer configuration backend. kv is only used
// by the kv backend.
func Open(cfg registry.InternalLayerConfig, kv core.KVStore) (Editable, error) {
	switch cfg.Backend {
	case "", BackendFile:
		fc, err := LoadFile(cfg.Path)
		if err != nil {
			return nil, err
		}
		return fc, nil
	case BackendKV:
		if kv == nil {
			return nil, core.NewSyncError(core.ErrCodeConfiguration, "", "kv layer config requires a kv store", nil)
		}
		return NewKVConfig(kv, cfg.KeyPrefix), nil
	default:
		return nil, core.NewSyncError(core.ErrCodeConfiguration, "",
			fmt.Sprintf("unknown layer config backend %q", cfg.Backend), nil)
	}
}
