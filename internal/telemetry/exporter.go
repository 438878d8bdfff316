// Package telemetry re-exports completed turns to an OpenTelemetry collector
// as counters and histograms.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/barkain/ironhide/internal/config"
	"github.com/barkain/ironhide/internal/metrics"
	"github.com/barkain/ironhide/internal/state"
)

const serviceName = "ironhide"

// Exporter records completed turns. HandleChange is a state.ChangeListener.
type Exporter interface {
	HandleChange(c state.Change)
	Close(ctx context.Context) error
}

// New returns an OTLP exporter when cfg is enabled and a NoOpExporter
// otherwise.
func New(ctx context.Context, cfg config.TelemetryConfig, version string) (Exporter, error) {
	if !cfg.Enabled {
		return NewNoOpExporter(), nil
	}
	return NewOTLPExporter(ctx, cfg, version)
}

// OTLPExporter exports turn metrics to an OTEL collector.
type OTLPExporter struct {
	provider     *sdkmetric.MeterProvider
	tokensTotal  metric.Int64Counter
	costTotal    metric.Float64Counter
	turnsTotal   metric.Int64Counter
	durationHist metric.Float64Histogram
}

// NewOTLPExporter creates an exporter pushing to cfg.Endpoint over gRPC.
func NewOTLPExporter(ctx context.Context, cfg config.TelemetryConfig, version string) (*OTLPExporter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("telemetry endpoint not configured")
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	interval := time.Duration(cfg.ExportIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))

	e, err := newWithReader(ctx, reader, version)
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(e.provider)
	return e, nil
}

// newWithReader builds the provider and instruments over reader.
func newWithReader(ctx context.Context, reader sdkmetric.Reader, version string) (*OTLPExporter, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	meter := provider.Meter(serviceName)

	tokensTotal, err := meter.Int64Counter(
		"ironhide_turn_tokens_total",
		metric.WithDescription("Tokens used by completed turns"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating tokens counter: %w", err)
	}

	costTotal, err := meter.Float64Counter(
		"ironhide_turn_cost_usd",
		metric.WithDescription("Estimated cost of completed turns in USD"),
		metric.WithUnit("USD"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating cost counter: %w", err)
	}

	turnsTotal, err := meter.Int64Counter(
		"ironhide_turns_total",
		metric.WithDescription("Number of completed turns"),
		metric.WithUnit("{turn}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating turns counter: %w", err)
	}

	durationHist, err := meter.Float64Histogram(
		"ironhide_turn_duration_seconds",
		metric.WithDescription("Turn duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return &OTLPExporter{
		provider:     provider,
		tokensTotal:  tokensTotal,
		costTotal:    costTotal,
		turnsTotal:   turnsTotal,
		durationHist: durationHist,
	}, nil
}

// HandleChange records turns as they complete. Updates, ignored writes and
// non-turn changes are skipped, so each turn is counted once.
func (e *OTLPExporter) HandleChange(c state.Change) {
	if c.Kind != state.ChangeTurn || !c.Result.Applied || c.Result.Status != metrics.StatusComplete {
		return
	}
	e.ExportTurn(context.Background(), c.Session, c.Result.TurnMetrics)
}

// ExportTurn records one completed turn.
func (e *OTLPExporter) ExportTurn(ctx context.Context, sess state.Session, tm metrics.TurnMetrics) {
	attrs := []attribute.KeyValue{
		attribute.String("model", tm.Model),
	}
	if sess.ProjectName != "" {
		attrs = append(attrs, attribute.String("project_name", sess.ProjectName))
	}
	opt := metric.WithAttributes(attrs...)

	for _, tt := range []struct {
		kind  string
		count int64
	}{
		{"input", tm.Tokens.Input},
		{"output", tm.Tokens.Output},
		{"cache_read", tm.Tokens.CacheRead},
		{"cache_creation", tm.Tokens.CacheCreation},
	} {
		if tt.count > 0 {
			typed := append([]attribute.KeyValue{attribute.String("type", tt.kind)}, attrs...)
			e.tokensTotal.Add(ctx, tt.count, metric.WithAttributes(typed...))
		}
	}

	e.costTotal.Add(ctx, tm.Cost.Total, opt)
	e.turnsTotal.Add(ctx, 1, opt)
	e.durationHist.Record(ctx, float64(tm.DurationMs)/1000, opt)
}

// Close shuts down the exporter and flushes any pending metrics.
func (e *OTLPExporter) Close(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}
