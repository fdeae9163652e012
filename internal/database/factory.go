package database

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/featuresync/internal/core"
	"github.com/rzpsarthak13/featuresync/internal/registry"
)

// Kind is the closed set of destination families.
type Kind string

const (
	KindSQLite Kind = "sqlite"
	KindMySQL  Kind = "mysql"
)

// opener builds a store for one destination family.
type opener func(ctx context.Context, cfg registry.InternalDestinationConfig, logger *zap.Logger) (*SQLStore, error)

var openers = map[Kind]opener{
	KindSQLite: func(ctx context.Context, cfg registry.InternalDestinationConfig, logger *zap.Logger) (*SQLStore, error) {
		return OpenSQLite(ctx, cfg.Path, logger)
	},
	KindMySQL: func(ctx context.Context, cfg registry.InternalDestinationConfig, logger *zap.Logger) (*SQLStore, error) {
		return OpenMySQL(ctx, MySQLOptions{
			Host:              cfg.Host,
			Port:              cfg.Port,
			Database:          cfg.Database,
			Username:          cfg.Username,
			Password:          cfg.Password,
			MaxOpenConns:      cfg.MaxOpenConns,
			MaxIdleConns:      cfg.MaxIdleConns,
			ConnMaxLifetime:   cfg.ConnMaxLifetime,
			ConnMaxIdleTime:   cfg.ConnMaxIdleTime,
			ConnectionTimeout: cfg.ConnectionTimeout,
		}, logger)
	},
}

// ParseKind validates a configured destination kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := openers[k]; !ok {
		return "", core.NewSyncError(core.ErrCodeConfiguration, "",
			fmt.Sprintf("unsupported destination kind: %q", s), nil)
	}
	return k, nil
}

// Open opens the destination store described by cfg.
func Open(ctx context.Context, cfg registry.InternalDestinationConfig, logger *zap.Logger) (*SQLStore, error) {
	kind, err := ParseKind(cfg.Kind)
	if err != nil {
		return nil, err
	}
	store, err := openers[kind](ctx, cfg, logger)
	if err != nil {
		return nil, core.NewSyncError(core.ErrCodeDatasourceInit, "",
			fmt.Sprintf("failed to open %s destination", kind), err)
	}
	return store, nil
}
