package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rippledb/ripple"
	"github.com/rippledb/ripple/sqlite"
)

// NewExecCommand creates the exec command: run one SQL statement.
// Queries go through the reader pool; everything else through the writer.
func NewExecCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "exec \"SQL\"",
		Short: "Execute a single SQL statement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase(opts)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // teardown on exit

			stmt := strings.TrimSpace(args[0])
			if isQuery(stmt) {
				return runQuery(cmd, db, stmt, opts.Format)
			}
			return runStatement(cmd, db, stmt)
		},
	}
}

func isQuery(stmt string) bool {
	head := strings.ToUpper(stmt)
	return strings.HasPrefix(head, "SELECT") || strings.HasPrefix(head, "WITH") ||
		strings.HasPrefix(head, "PRAGMA") || strings.HasPrefix(head, "EXPLAIN")
}

func runQuery(cmd *cobra.Command, db *ripple.Database, stmt, format string) error {
	rows, err := ripple.Read(cmd.Context(), db, func(ctx context.Context, conn *sqlite.Conn) ([][]any, error) {
		return collectRows(ctx, conn, stmt)
	})
	if err != nil {
		return err
	}
	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		return enc.Encode(rows)
	}
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = fmt.Sprintf("%v", v)
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(cells, "\t"))
	}
	return nil
}

func collectRows(ctx context.Context, conn *sqlite.Conn, stmt string) ([][]any, error) {
	rows, err := conn.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]any
	n := len(rows.Columns())
	for rows.Next() {
		row := make([]any, n)
		dests := make([]any, n)
		for i := range row {
			dests[i] = &row[i]
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func runStatement(cmd *cobra.Command, db *ripple.Database, stmt string) error {
	var res sqlite.Result
	err := db.Write(cmd.Context(), func(ctx context.Context, conn *sqlite.Conn) error {
		r, err := conn.Exec(ctx, stmt)
		res = r
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "rows affected: %d\n", res.RowsAffected)
	return nil
}
