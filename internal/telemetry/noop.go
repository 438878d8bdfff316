package telemetry

import (
	"context"

	"github.com/barkain/ironhide/internal/state"
)

// NoOpExporter is used when telemetry is disabled.
type NoOpExporter struct{}

// NewNoOpExporter creates a new no-op exporter.
func NewNoOpExporter() *NoOpExporter {
	return &NoOpExporter{}
}

func (e *NoOpExporter) HandleChange(c state.Change) {}

func (e *NoOpExporter) Close(ctx context.Context) error {
	return nil
}
