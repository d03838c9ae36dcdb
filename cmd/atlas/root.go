package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "atlas",
	Short: "Atlas - unified AI API gateway with prepaid credit billing",
	Long: `Atlas is a gateway core for multi-provider AI APIs with prepaid credits.

It routes normalized requests to provider backends and bills every request
against a prepaid credit ledger:
  - Typed routing across providers, models and operation capabilities
  - Deterministic cost metering from a hot-reloadable pricing table
  - Reserve / settle / release credit accounting with a replayable log
  - Asynchronous usage recording with idempotent daily rollups
  - Content-addressed response caching and streaming relay`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
