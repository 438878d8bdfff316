// Package mcpserver exposes the session store as read-only MCP tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/barkain/ironhide/internal/burnrate"
	"github.com/barkain/ironhide/internal/state"
)

// Store is what the tools read. state.MemoryStore implements it.
type Store interface {
	state.Reader
	burnrate.Totals
}

// tools binds handlers to the store they read.
type tools struct {
	store Store
	burn  *burnrate.Calculator
}

// NewServer creates an MCP server with every tool registered.
func NewServer(store Store, burn *burnrate.Calculator, version string) *mcpsdk.Server {
	if burn == nil {
		burn = burnrate.NewCalculator(burnrate.DefaultThresholds())
	}
	server := mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "ironhide",
			Version: version,
		},
		nil,
	)
	registerTools(server, &tools{store: store, burn: burn})
	return server
}

// Run serves server over stdio until ctx is cancelled or the client
// disconnects.
func Run(ctx context.Context, server *mcpsdk.Server) error {
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

// jsonResult wraps v as a single text block holding its JSON encoding.
func jsonResult(v any) (*mcpsdk.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding result: %w", err)
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
	}, nil, nil
}
