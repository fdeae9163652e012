package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/featuresync/pkg/featuresync"
)

// FeedOptions are the flags of the feed command.
type FeedOptions struct {
	Follow    bool
	Rate      int
	BatchSize int
}

// NewFeedCommand creates the feed command.
func NewFeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FeedOptions{}

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Drain the change feed as JSON lines",
		Long: `Drain applied changes from the configured change feed and print one JSON
object per line. Without --follow the command exits once the feed is empty.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeed(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.Follow, "follow", "f", false, "keep polling until interrupted")
	cmd.Flags().IntVar(&opts.Rate, "rate", 0, "events per second (default from change_feed.drain_rate)")
	cmd.Flags().IntVar(&opts.BatchSize, "batch", 0, "events per dequeue (default from change_feed.batch_size)")
	return cmd
}

func runFeed(cmd *cobra.Command, rootOpts *RootOptions, opts *FeedOptions) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, cmd, rootOpts)
	if err != nil {
		return err
	}
	defer s.Close()

	feed := s.client.Feed()
	if feed == nil {
		return fmt.Errorf("change feed is disabled (change_feed.queue_type is %q)", s.client.Config().ChangeFeed.QueueType)
	}

	cfg := s.client.Config().ChangeFeed
	dcfg := featuresync.DrainerConfig{
		DrainRate:     cfg.DrainRate,
		BatchSize:     cfg.BatchSize,
		StopWhenEmpty: !opts.Follow,
	}
	if opts.Rate > 0 {
		dcfg.DrainRate = opts.Rate
	}
	if opts.BatchSize > 0 {
		dcfg.BatchSize = opts.BatchSize
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	drainer := featuresync.NewDrainer(feed, func(ctx context.Context, event *featuresync.ChangeEvent) error {
		return enc.Encode(event)
	}, dcfg, s.logger)

	stats := drainer.Run(ctx)
	s.logger.Info("feed drained", zap.Int("events", stats.Handled), zap.Int("dropped", stats.Dropped))
	return nil
}
