package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rzpsarthak13/featuresync/internal/replicate"
)

// NewLayersCommand creates the layers command.
func NewLayersCommand(rootOpts *RootOptions) *cobra.Command {
	var groups []string

	cmd := &cobra.Command{
		Use:   "layers",
		Short: "List configured layers with their watermark and last run",
		Args:  cobra.NoArgs,
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
			ids, err := proc.ValidLayers(ctx, groups)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tDESTINATION\tLASTMODIFIED\tLAST RUN")
			for _, id := range ids {
				entry, err := s.client.Layers().Entry(ctx, id)
				if err != nil {
					return err
				}
				status := "-"
				run, err := s.client.WAL().Latest(ctx, id)
				if err != nil {
					return err
				}
				if run != nil {
					status = fmt.Sprintf("%s (%s)", run.Status, run.Mode)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					id, entry.Name, replicate.DestinationName(entry), orDash(entry.LastModified), status)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringSliceVarP(&groups, "group", "g", nil, "only layers in these categories")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
