package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"finnscout/version"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "finnscout",
	Short: "Finn.no property alert enrichment pipeline",
	Long: `Finnscout turns Finn.no saved-search alert emails into an enriched,
filterable property report.

The pipeline:
  - Fetches alert emails over IMAP and parses the listing cards
  - Reconciles listings against persisted CSV state by finn code
  - Geocodes addresses and computes the transit commute to work
  - Finds the nearest place per configured category (grocery, gym, ...)
  - Exports a filtered, sorted xlsx report and emails it`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml)",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose, "verbose", "v", false, "enable debug logging",
	)

	rootCmd.AddCommand(versionCmd)
}

// newLogger builds the process logger honoring --verbose.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}
