// Package receiver ingests Claude Code's OpenTelemetry output over OTLP
// gRPC and OTLP/HTTP and records it in the session store as turns.
package receiver

import (
	"context"
	"fmt"

	"github.com/barkain/ironhide/internal/config"
)

// Option customizes a Receiver.
type Option func(*Receiver)

// WithLogger sets the debug logger that sees every decoded signal.
func WithLogger(l Logger) Option {
	return func(r *Receiver) { r.logger = l }
}

// Receiver runs the gRPC and HTTP receivers together.
type Receiver struct {
	cfg    config.ReceiverConfig
	logger Logger
	tr     *Translator
	grpc   *GRPCReceiver
	http   *HTTPReceiver
}

// New creates a receiver writing to sink.
func New(cfg config.ReceiverConfig, sink Sink, opts ...Option) *Receiver {
	r := &Receiver{cfg: cfg, logger: NopLogger{}}
	for _, opt := range opts {
		opt(r)
	}
	r.tr = NewTranslator(sink, r.logger)
	r.grpc = NewGRPCReceiver(cfg, r.tr)
	r.http = NewHTTPReceiver(cfg, r.tr)
	return r
}

// Translator returns the shared translator.
func (r *Receiver) Translator() *Translator { return r.tr }

// Start starts both receivers. If the second fails the first is stopped.
func (r *Receiver) Start(ctx context.Context) error {
	if err := r.grpc.Start(ctx); err != nil {
		return fmt.Errorf("starting gRPC receiver: %w", err)
	}
	if err := r.http.Start(ctx); err != nil {
		r.grpc.Stop()
		return fmt.Errorf("starting HTTP receiver: %w", err)
	}
	return nil
}

// Stop stops both receivers.
func (r *Receiver) Stop() {
	r.http.Stop()
	r.grpc.Stop()
}
