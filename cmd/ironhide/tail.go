package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/barkain/ironhide/internal/events"
	"github.com/barkain/ironhide/internal/stream"
	"github.com/barkain/ironhide/internal/tail"
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow the live event stream of a running server",
	Long: `Connect to a running ironhide server and print its events as they arrive.
The client reconnects with backoff when the connection drops.

Examples:
  ironhide tail                     # All sessions
  ironhide tail --session abc123    # One session, starting with its snapshot
  ironhide tail --url ws://host:3100/ws --heartbeats`,
	Args: cobra.NoArgs,
	RunE: runTail,
}

var (
	tailURL        string
	tailSession    string
	tailHeartbeats bool
	tailWidth      int
)

func init() {
	tailCmd.Flags().StringVar(&tailURL, "url", "", "Websocket URL (default ws://127.0.0.1:<server port>/ws)")
	tailCmd.Flags().StringVarP(&tailSession, "session", "s", "", "Only stream events for this session")
	tailCmd.Flags().BoolVar(&tailHeartbeats, "heartbeats", false, "Print heartbeat events")
	tailCmd.Flags().IntVar(&tailWidth, "width", 0, "Truncate lines to this many columns (0 = no limit)")
}

func runTail(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	url := tailURL
	if url == "" {
		url = fmt.Sprintf("ws://127.0.0.1:%d/ws", cfg.Server.HTTPPort)
	}

	opts := stream.DefaultOptions(url)
	opts.SessionID = tailSession
	opts.AutoReconnect = cfg.Client.AutoReconnect
	opts.MaxReconnectAttempts = cfg.Client.MaxReconnectAttempts
	opts.BaseDelay = cfg.Client.BaseDelay()
	client := stream.New(opts)

	r := tail.NewRenderer(cmd.OutOrStdout(), tail.Options{Heartbeats: tailHeartbeats, Width: tailWidth})
	for _, kind := range events.Kinds {
		client.On(kind, r.Render)
	}
	client.OnError(r.RenderError)
	client.OnStateChange(func(s stream.State) {
		r.RenderStatus(s.String())
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ironhide: %v\n", err)
		if !cfg.Client.AutoReconnect {
			return err
		}
	}

	err = client.Wait(ctx)
	client.Disconnect()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
