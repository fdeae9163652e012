package cli

import (
	"github.com/spf13/cobra"

	"github.com/rzpsarthak13/featuresync/internal/replicate"
)

// NewCleanCommand creates the clean command.
func NewCleanCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clean <layer>",
		Short: "Delete a destination layer and reset its watermark",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.Close()

			proc, err := s.client.Processor(replicate.Options{})
			if err != nil {
				return err
			}
			return proc.Clean(ctx, args[0])
		},
	}
}
