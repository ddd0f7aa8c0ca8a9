package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewStatsCommand creates the stats command: print runtime counters.
func NewStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print runtime stats for the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase(opts)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // teardown on exit

			stats := db.Stats()
			if opts.Format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "commits:         %d\n", stats.Commits)
			fmt.Fprintf(out, "readers:         %d\n", stats.Readers)
			fmt.Fprintf(out, "subscriptions:   %d\n", stats.Subscriptions)
			fmt.Fprintf(out, "watched regions: %d\n", stats.WatchedRegions)
			fmt.Fprintf(out, "cached stmts:    %d\n", stats.CachedStmts)
			return nil
		},
	}
}
