// Package cli implements the featuresync command line.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rzpsarthak13/featuresync/internal/client"
	"github.com/rzpsarthak13/featuresync/internal/registry"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the root command for the featuresync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "featuresync",
		Short: "Synchronize WFS feature layers into a local spatial store",
		Long: `featuresync copies layers published by a WFS service into SQLite or MySQL.

Layers are rewritten in full or kept current by applying their changesets
since the last recorded watermark. Configuration is read from --config and
FEATURESYNC_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "configuration file (.yaml, .yml or .json)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewCleanCommand(opts))
	cmd.AddCommand(NewLayersCommand(opts))
	cmd.AddCommand(NewFeedCommand(opts))

	return cmd
}

// loadConfig reads the configuration file, then applies environment overrides.
func loadConfig(opts *RootOptions) (*registry.ConfigManager, error) {
	cm := registry.NewConfigManager()
	if opts.ConfigPath != "" {
		if err := cm.LoadFromFile(opts.ConfigPath); err != nil {
			return nil, err
		}
	}
	if err := cm.LoadFromEnv(); err != nil {
		return nil, err
	}
	return cm, nil
}

// newLogger writes JSON at info level, or console output at debug level when verbose.
func newLogger(verbose bool, w io.Writer) *zap.Logger {
	level := zapcore.InfoLevel
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewJSONEncoder(encCfg)
	if verbose {
		level = zapcore.DebugLevel
		enc = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}
	return zap.New(zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), level))
}

// session is the client and logger of one command invocation.
type session struct {
	client *client.ClientImpl
	logger *zap.Logger
}

func openSession(ctx context.Context, cmd *cobra.Command, opts *RootOptions) (*session, error) {
	cm, err := loadConfig(opts)
	if err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}
	logger := newLogger(opts.Verbose, cmd.ErrOrStderr())
	c, err := client.New(ctx, cm, logger)
	if err != nil {
		logger.Sync()
		return nil, err
	}
	return &session{client: c, logger: logger}, nil
}

func (s *session) Close() error {
	err := s.client.Close()
	s.logger.Sync()
	return err
}
