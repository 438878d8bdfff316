package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net"
	"net/http"
	"time"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/barkain/ironhide/internal/config"
)

// maxBodyBytes bounds a single OTLP/HTTP export.
const maxBodyBytes = 16 << 20

// HTTPReceiver serves OTLP/HTTP exports on /v1/logs and /v1/metrics, in
// either protobuf or JSON encoding.
type HTTPReceiver struct {
	cfg      config.ReceiverConfig
	tr       *Translator
	listener net.Listener
	server   *http.Server
}

// NewHTTPReceiver creates a receiver that feeds tr. Call Start to listen.
func NewHTTPReceiver(cfg config.ReceiverConfig, tr *Translator) *HTTPReceiver {
	return &HTTPReceiver{cfg: cfg, tr: tr}
}

// Handler returns the receiver's routes.
func (r *HTTPReceiver) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/logs", r.handleLogs)
	mux.HandleFunc("POST /v1/metrics", r.handleMetrics)
	return mux
}

// Start binds the configured port and serves in the background.
func (r *HTTPReceiver) Start(ctx context.Context) error {
	lis, err := listen(ctx, r.cfg.Bind, r.cfg.HTTPPort)
	if err != nil {
		return err
	}
	r.listener = lis
	r.server = &http.Server{
		Handler:      r.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := r.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("ERROR: OTLP HTTP receiver: %v", err)
		}
	}()
	log.Printf("OTLP HTTP receiver listening on %s", lis.Addr())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (r *HTTPReceiver) Addr() net.Addr {
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Stop shuts the server down, waiting up to five seconds for in-flight
// requests.
func (r *HTTPReceiver) Stop() {
	if r.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = r.server.Shutdown(ctx)
}

func (r *HTTPReceiver) handleLogs(w http.ResponseWriter, req *http.Request) {
	var msg collogspb.ExportLogsServiceRequest
	isJSON, err := decodeBody(req, &msg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	r.tr.HandleLogs(&msg)
	writeResponse(w, isJSON, &collogspb.ExportLogsServiceResponse{})
}

func (r *HTTPReceiver) handleMetrics(w http.ResponseWriter, req *http.Request) {
	var msg colmetricspb.ExportMetricsServiceRequest
	isJSON, err := decodeBody(req, &msg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	r.tr.HandleMetrics(&msg)
	writeResponse(w, isJSON, &colmetricspb.ExportMetricsServiceResponse{})
}

// decodeBody unmarshals the request body into msg using the encoding named
// by Content-Type. It reports whether the body was JSON.
func decodeBody(req *http.Request, msg proto.Message) (bool, error) {
	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
	if err != nil {
		return false, fmt.Errorf("reading body: %w", err)
	}

	mediaType, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := protojson.Unmarshal(body, msg); err != nil {
			return true, fmt.Errorf("decoding JSON payload: %w", err)
		}
		return true, nil
	}
	if err := proto.Unmarshal(body, msg); err != nil {
		return false, fmt.Errorf("decoding protobuf payload: %w", err)
	}
	return false, nil
}

func writeResponse(w http.ResponseWriter, isJSON bool, msg proto.Message) {
	var (
		data []byte
		err  error
	)
	if isJSON {
		w.Header().Set("Content-Type", "application/json")
		data, err = protojson.Marshal(msg)
	} else {
		w.Header().Set("Content-Type", "application/x-protobuf")
		data, err = proto.Marshal(msg)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}
