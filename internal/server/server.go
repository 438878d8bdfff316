// Package server exposes the session store over a JSON HTTP API and pushes
// live events to websocket observers.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/barkain/ironhide/internal/broadcast"
	"github.com/barkain/ironhide/internal/burnrate"
	"github.com/barkain/ironhide/internal/config"
	"github.com/barkain/ironhide/internal/state"
)

// Store is what the API reads and mutates. state.MemoryStore implements it.
type Store interface {
	state.Store
	burnrate.Totals
}

// Server is the HTTP API server.
type Server struct {
	mux     *http.ServeMux
	store   Store
	hub     *broadcast.Hub
	burn    *burnrate.Calculator
	version string
	now     func() time.Time

	listener net.Listener
	server   *http.Server

	// done is closed by Stop so websocket writers exit even though their
	// connections have been hijacked away from the http.Server.
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a server instance and registers its routes.
func New(store Store, hub *broadcast.Hub, burn *burnrate.Calculator, version string) *Server {
	if burn == nil {
		burn = burnrate.NewCalculator(burnrate.DefaultThresholds())
	}
	s := &Server{
		mux:     http.NewServeMux(),
		store:   store,
		hub:     hub,
		burn:    burn,
		version: version,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	s.registerRoutes()
	return s
}

// registerRoutes sets up all HTTP routes with middleware
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", loggingMiddleware(s.handleHealth))

	s.mux.HandleFunc("GET /api/sessions", loggingMiddleware(s.handleListSessions))
	s.mux.HandleFunc("GET /api/sessions/{id}", loggingMiddleware(s.handleGetSession))
	s.mux.HandleFunc("DELETE /api/sessions/{id}", loggingMiddleware(s.handleDeleteSession))
	s.mux.HandleFunc("GET /api/sessions/{id}/metrics", loggingMiddleware(s.handleSessionMetrics))
	s.mux.HandleFunc("GET /api/sessions/{id}/turns", loggingMiddleware(s.handleSessionTurns))
	s.mux.HandleFunc("GET /api/sessions/{id}/timeseries", loggingMiddleware(s.handleTimeSeries))

	s.mux.HandleFunc("GET /api/current", loggingMiddleware(s.handleGetCurrent))
	s.mux.HandleFunc("PUT /api/current", loggingMiddleware(s.handleSetCurrent))

	s.mux.HandleFunc("GET /api/burnrate", loggingMiddleware(s.handleBurnRate))
	s.mux.HandleFunc("GET /api/events/recent", loggingMiddleware(s.handleRecentEvents))

	s.mux.HandleFunc("GET /ws", loggingMiddleware(s.handleWebSocket))
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start binds cfg's address and serves in the background.
func (s *Server) Start(ctx context.Context, cfg config.ServerConfig) error {
	addr := net.JoinHostPort(cfg.Bind, strconv.Itoa(cfg.HTTPPort))
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("port %d already in use", cfg.HTTPPort)
		}
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = lis
	s.server = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[HTTP] ERROR: server: %v", err)
		}
	}()
	log.Printf("[HTTP] Starting server on %s", lis.Addr())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes every websocket and shuts the server down, waiting up to five
// seconds for in-flight requests.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(ctx)
}
