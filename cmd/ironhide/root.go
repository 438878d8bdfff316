package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/barkain/ironhide/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ironhide",
	Short: "Live token, cost and efficiency metrics for Claude Code sessions",
	Long: `ironhide ingests Claude Code telemetry, keeps per-session metrics in memory
and pushes every change to connected observers.

Run "ironhide setup" once to point Claude Code at the receiver, then
"ironhide serve" to start collecting and "ironhide tail" to watch.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ~/.config/ironhide/config.toml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads --config or the default path and prints any warnings.
func loadConfig() (config.Config, error) {
	var (
		res *config.LoadResult
		err error
	)
	if configPath != "" {
		res, err = config.LoadFrom(configPath)
	} else {
		res, err = config.Load()
	}
	if err != nil {
		return config.Config{}, err
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(os.Stderr, "ironhide: config warning: %s\n", w)
	}
	return res.Config, nil
}
