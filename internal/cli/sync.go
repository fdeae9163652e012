package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/featuresync/internal/replicate"
)

// SyncOptions are the flags of the sync command.
type SyncOptions struct {
	Layer            string
	Groups           []string
	From             string
	To               string
	CQL              string
	EPSG             string
	Full             bool
	FeatureByFeature bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize configured layers",
		Long: `Synchronize configured layers into the destination.

Without --full each layer applies the changes published since its last
watermark. --from and --to override the window (yyyy-MM-dd[Thh:mm:ss]).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, rootOpts, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.Layer, "layer", "l", "", "layer id (v:x####) or configured name")
	f.StringSliceVarP(&opts.Groups, "group", "g", nil, "only layers in these categories")
	f.StringVar(&opts.From, "from", "", "start of the change window")
	f.StringVar(&opts.To, "to", "", "end of the change window")
	f.StringVar(&opts.CQL, "cql", "", "CQL filter applied to every read")
	f.StringVar(&opts.EPSG, "epsg", "", "target spatial reference, e.g. 2193 or EPSG:2193")
	f.BoolVar(&opts.Full, "full", false, "rewrite layers instead of applying changes")
	f.BoolVar(&opts.FeatureByFeature, "fbf", false, "copy feature by feature")

	return cmd
}

func runSync(cmd *cobra.Command, rootOpts *RootOptions, opts *SyncOptions) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, cmd, rootOpts)
	if err != nil {
		return err
	}
	defer s.Close()

	proc, err := s.client.Processor(replicate.Options{
		CQL:              opts.CQL,
		EPSG:             opts.EPSG,
		From:             opts.From,
		To:               opts.To,
		FeatureByFeature: opts.FeatureByFeature,
	})
	if err != nil {
		return err
	}

	mode := replicate.ModeIncremental
	if opts.Full {
		mode = replicate.ModeFull
	}
	s.logger.Info("sync started",
		zap.String("run_id", s.client.RunID()),
		zap.String("mode", string(mode)),
		zap.String("layer", opts.Layer),
		zap.Strings("groups", opts.Groups),
	)
	return proc.Run(ctx, replicate.Request{Layer: opts.Layer, Groups: opts.Groups, Mode: mode})
}
