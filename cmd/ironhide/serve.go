package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/barkain/ironhide/internal/broadcast"
	"github.com/barkain/ironhide/internal/burnrate"
	"github.com/barkain/ironhide/internal/config"
	"github.com/barkain/ironhide/internal/mcpserver"
	"github.com/barkain/ironhide/internal/pricing"
	"github.com/barkain/ironhide/internal/receiver"
	"github.com/barkain/ironhide/internal/server"
	"github.com/barkain/ironhide/internal/state"
	"github.com/barkain/ironhide/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the receiver, the session store and the push server",
	Long: `Start the OTLP receiver, the in-memory session store, the HTTP API and the
websocket event stream.

Examples:
  ironhide serve                        # Listen on the configured ports
  ironhide serve --debug otel.jsonl     # Also log every OTLP signal
  ironhide serve --mcp-stdio            # Serve MCP tools on stdin/stdout`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveDebugPath string
	serveMCPStdio  bool
)

func init() {
	serveCmd.Flags().StringVar(&serveDebugPath, "debug", "", "Write OTLP debug log (JSONL) to the specified file path")
	serveCmd.Flags().BoolVar(&serveMCPStdio, "mcp-stdio", false, "Serve the MCP tools over stdin/stdout")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	table := pricing.DefaultTable().WithOverrides(cfg.Pricing, cfg.Models)
	store := state.NewMemoryStore(
		state.WithPricing(table),
		state.WithActivityWindow(cfg.Session.ActivityWindow()),
	)

	hub := broadcast.New(store, broadcast.Config{
		HeartbeatInterval: cfg.Broadcast.HeartbeatInterval(),
		MetricsInterval:   cfg.Broadcast.MetricsInterval(),
		SubscriberBuffer:  cfg.Broadcast.SubscriberBuffer,
		HistorySize:       cfg.Broadcast.HistorySize,
	})
	store.OnChange(hub.HandleChange)

	exporter, err := telemetry.New(ctx, cfg.Telemetry, version)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	store.OnChange(exporter.HandleChange)

	burn := burnrate.NewCalculator(burnrate.Thresholds{
		GreenBelow:  cfg.BurnRate.GreenBelow,
		YellowBelow: cfg.BurnRate.YellowBelow,
	})

	go hub.Run(ctx)
	go burn.Run(ctx, store, time.Duration(cfg.BurnRate.SampleIntervalSeconds)*time.Second)

	var recvOpts []receiver.Option
	if serveDebugPath != "" {
		f, err := os.OpenFile(serveDebugPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open debug log %q: %w", serveDebugPath, err)
		}
		defer f.Close()
		recvOpts = append(recvOpts, receiver.WithLogger(receiver.NewFileLogger(f)))
	}

	recv, err := startReceiver(ctx, cfg.Receiver, store, recvOpts...)
	if err != nil {
		return err
	}

	srv := server.New(store, hub, burn, version)
	if err := srv.Start(ctx, cfg.Server); err != nil {
		if recv != nil {
			recv.Stop()
		}
		return fmt.Errorf("failed to start server: %w", err)
	}

	if serveMCPStdio {
		go func() {
			if err := mcpserver.Run(ctx, mcpserver.NewServer(store, burn, version)); err != nil && ctx.Err() == nil {
				log.Printf("ERROR: mcp server: %v", err)
			}
			stop()
		}()
	}

	<-ctx.Done()
	log.Printf("Shutting down...")

	srv.Stop()
	if recv != nil {
		recv.Stop()
	}
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exporter.Close(shutdownCtx); err != nil {
		log.Printf("WARNING: telemetry shutdown: %v", err)
	}
	return nil
}

// startReceiver starts the OTLP receiver unless it is disabled, in which
// case it returns nil.
func startReceiver(ctx context.Context, cfg config.ReceiverConfig, store *state.MemoryStore, opts ...receiver.Option) (*receiver.Receiver, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	recv := receiver.New(cfg, store, opts...)
	if err := recv.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start receivers: %w", err)
	}
	return recv, nil
}
