package receiver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"syscall"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	"google.golang.org/grpc"

	"github.com/barkain/ironhide/internal/config"
)

// logsService implements the OTLP LogsService.
type logsService struct {
	collogspb.UnimplementedLogsServiceServer
	tr *Translator
}

func (s *logsService) Export(ctx context.Context, req *collogspb.ExportLogsServiceRequest) (*collogspb.ExportLogsServiceResponse, error) {
	s.tr.HandleLogs(req)
	return &collogspb.ExportLogsServiceResponse{}, nil
}

// metricsService implements the OTLP MetricsService.
type metricsService struct {
	colmetricspb.UnimplementedMetricsServiceServer
	tr *Translator
}

func (s *metricsService) Export(ctx context.Context, req *colmetricspb.ExportMetricsServiceRequest) (*colmetricspb.ExportMetricsServiceResponse, error) {
	s.tr.HandleMetrics(req)
	return &colmetricspb.ExportMetricsServiceResponse{}, nil
}

// GRPCReceiver serves OTLP logs and metrics over gRPC.
type GRPCReceiver struct {
	cfg      config.ReceiverConfig
	tr       *Translator
	listener net.Listener
	server   *grpc.Server
}

// NewGRPCReceiver creates a receiver that feeds tr. Call Start to listen.
func NewGRPCReceiver(cfg config.ReceiverConfig, tr *Translator) *GRPCReceiver {
	return &GRPCReceiver{cfg: cfg, tr: tr}
}

// register installs both OTLP services on srv.
func (r *GRPCReceiver) register(srv *grpc.Server) {
	collogspb.RegisterLogsServiceServer(srv, &logsService{tr: r.tr})
	colmetricspb.RegisterMetricsServiceServer(srv, &metricsService{tr: r.tr})
}

// Start binds the configured port and serves in the background.
func (r *GRPCReceiver) Start(ctx context.Context) error {
	lis, err := listen(ctx, r.cfg.Bind, r.cfg.GRPCPort)
	if err != nil {
		return err
	}
	r.listener = lis
	r.server = grpc.NewServer()
	r.register(r.server)

	go func() {
		if err := r.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Printf("ERROR: OTLP gRPC receiver: %v", err)
		}
	}()
	log.Printf("OTLP gRPC receiver listening on %s", lis.Addr())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (r *GRPCReceiver) Addr() net.Addr {
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Stop drains in-flight exports and closes the listener.
func (r *GRPCReceiver) Stop() {
	if r.server != nil {
		r.server.GracefulStop()
	}
	if r.listener != nil {
		_ = r.listener.Close()
	}
}

// listen binds bind:port and reports a taken port in a fixed, readable form.
func listen(ctx context.Context, bind string, port int) (net.Listener, error) {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", net.JoinHostPort(bind, fmt.Sprint(port)))
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("port %d already in use", port)
		}
		return nil, fmt.Errorf("listening on %s:%d: %w", bind, port, err)
	}
	return lis, nil
}
