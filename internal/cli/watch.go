package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rippledb/ripple"
	"github.com/rippledb/ripple/sqlite"
)

// NewWatchCommand creates the watch command: observe a query and print
// every delivered result set until interrupted.
func NewWatchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch \"SELECT ...\"",
		Short: "Watch a query and print each change to its result set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stmt := strings.TrimSpace(args[0])
			if !isQuery(stmt) {
				return fmt.Errorf("watch requires a query, got %q", stmt)
			}

			db, err := openDatabase(opts)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // teardown on exit

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			sub, err := ripple.Observe(ctx, db,
				func(ctx context.Context, conn *sqlite.Conn) ([][]any, error) {
					return collectRows(ctx, conn, stmt)
				},
				func(rows [][]any) {
					printSnapshot(out, rows, opts.Format)
				},
				ripple.OnError[[][]any](func(err error) {
					fmt.Fprintf(cmd.ErrOrStderr(), "fetch error: %v\n", err)
				}),
			)
			if err != nil {
				return err
			}
			defer sub.Cancel()

			fmt.Fprintf(cmd.ErrOrStderr(), "watching %q on %s (ctrl-c to stop)\n", stmt, sub.Region())
			<-ctx.Done()
			return nil
		},
	}
}

func printSnapshot(out io.Writer, rows [][]any, format string) {
	if format == "json" {
		enc := json.NewEncoder(out)
		_ = enc.Encode(rows)
		return
	}
	fmt.Fprintf(out, "--- %d row(s)\n", len(rows))
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = fmt.Sprintf("%v", v)
		}
		fmt.Fprintln(out, strings.Join(cells, "\t"))
	}
}
