package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/barkain/ironhide/internal/settings"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Point Claude Code's telemetry at the ironhide receiver",
	Long: `Merge the OTel environment variables Claude Code needs into its
settings.json so it exports logs and metrics to the local receiver.

Examples:
  ironhide setup                          # gRPC on the configured port
  ironhide setup --protocol http/protobuf # Use the OTLP/HTTP receiver
  ironhide setup --dry-run                # Show what would change`,
	Args: cobra.NoArgs,
	RunE: runSetup,
}

var (
	setupProtocol string
	setupForce    bool
	setupDryRun   bool
	setupSettings string
)

func init() {
	setupCmd.Flags().StringVar(&setupProtocol, "protocol", string(settings.ProtocolGRPC), "OTLP protocol: grpc or http/protobuf")
	setupCmd.Flags().BoolVar(&setupForce, "force", false, "Overwrite conflicting values")
	setupCmd.Flags().BoolVar(&setupDryRun, "dry-run", false, "Print the changes without writing them")
	setupCmd.Flags().StringVar(&setupSettings, "settings", "", "Path to settings.json (default ~/.claude/settings.json)")
}

func runSetup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	target := settings.Target{
		Host:     cfg.Receiver.Bind,
		Port:     cfg.Receiver.GRPCPort,
		Protocol: settings.Protocol(setupProtocol),
	}
	if target.Protocol == settings.ProtocolHTTP {
		target.Port = cfg.Receiver.HTTPPort
	}

	output := settings.Merge(settings.MergeOptions{
		SettingsPath: setupSettings,
		Target:       target,
		Force:        setupForce,
		DryRun:       setupDryRun,
	})

	out := cmd.OutOrStdout()
	for _, msg := range output.Messages {
		fmt.Fprintln(out, msg)
	}
	for _, w := range output.Warnings {
		fmt.Fprintln(os.Stderr, w)
	}

	switch output.Result {
	case settings.MergeSuccess:
		switch {
		case setupDryRun:
			fmt.Fprintf(out, "Dry run. %s was not modified.\n", output.Path)
		case len(output.Messages) > 0:
			fmt.Fprintln(out, "Settings updated. Restart your Claude Code sessions to apply.")
		}
		return nil
	case settings.MergeAlreadyConfigured:
		fmt.Fprintln(out, "Already configured. No changes needed.")
		return nil
	case settings.MergeError:
		return output.Err
	default:
		return errors.New("unexpected merge result: " + output.Result.String())
	}
}
