// Package cli implements the ripple command line tool: ad-hoc statement
// execution, live query watching, and runtime stats against a database
// file.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rippledb/ripple"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	DBPath     string
	ConfigPath string
	Verbose    bool
	Format     string // "text" | "json"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the ripple CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "ripple",
		Short: "ripple - reactive SQLite access layer",
		Long:  "Execute statements, watch query results live, and inspect runtime stats of a ripple-managed SQLite database.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			level := slog.LevelWarn
			if opts.Verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "path to the database file (required)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a ripple.yaml config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewExecCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))

	return cmd
}

// openDatabase opens the target database with options from the config file,
// if one was given.
func openDatabase(opts *RootOptions) (*ripple.Database, error) {
	if opts.DBPath == "" {
		return nil, fmt.Errorf("--db is required")
	}
	var rippleOpts []ripple.Option
	if opts.ConfigPath != "" {
		fileCfg, err := LoadConfig(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		rippleOpts = fileCfg.Options()
	}
	return ripple.Open(opts.DBPath, rippleOpts...)
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
