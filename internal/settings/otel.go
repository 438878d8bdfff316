// Package settings points Claude Code's telemetry exporter at the local
// receiver by merging OTel environment variables into its settings.json.
package settings

import (
	"fmt"
	"net"
	"strconv"
)

// Protocol is the OTLP transport Claude Code should export with.
type Protocol string

const (
	ProtocolGRPC Protocol = "grpc"
	ProtocolHTTP Protocol = "http/protobuf"
)

// EndpointKey is the variable that carries the receiver address.
const EndpointKey = "OTEL_EXPORTER_OTLP_ENDPOINT"

// Target describes the receiver Claude Code should export to.
type Target struct {
	Host     string
	Port     int
	Protocol Protocol
}

// Endpoint returns the OTLP endpoint URL for t.
func (t Target) Endpoint() string {
	host := t.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(t.Port))
}

// RequiredOTelEnv returns the env block Claude Code needs to export logs and
// metrics to t.
func RequiredOTelEnv(t Target) (map[string]string, error) {
	switch t.Protocol {
	case "", ProtocolGRPC:
		t.Protocol = ProtocolGRPC
	case ProtocolHTTP:
	default:
		return nil, fmt.Errorf("unsupported protocol %q", t.Protocol)
	}
	if t.Port < 1 || t.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", t.Port)
	}
	return map[string]string{
		"CLAUDE_CODE_ENABLE_TELEMETRY": "1",
		"OTEL_LOGS_EXPORTER":           "otlp",
		"OTEL_METRICS_EXPORTER":        "otlp",
		"OTEL_EXPORTER_OTLP_PROTOCOL":  string(t.Protocol),
		EndpointKey:                    t.Endpoint(),
		"OTEL_LOGS_EXPORT_INTERVAL":    "1000",
		"OTEL_METRIC_EXPORT_INTERVAL":  "5000",
	}, nil
}

// MergeResult is the outcome of a Merge.
type MergeResult int

const (
	MergeSuccess MergeResult = iota
	MergeAlreadyConfigured
	MergeError
)

// String returns a human-readable name for the result.
func (r MergeResult) String() string {
	switch r {
	case MergeSuccess:
		return "success"
	case MergeAlreadyConfigured:
		return "already_configured"
	case MergeError:
		return "error"
	default:
		return "unknown"
	}
}

// MergeOptions configures Merge.
type MergeOptions struct {
	// SettingsPath defaults to ~/.claude/settings.json.
	SettingsPath string
	Target       Target
	// Force overwrites keys that are set to a different value. Without it
	// they are reported as warnings and left alone.
	Force bool
	// DryRun reports what would change without writing.
	DryRun bool
}

// MergeOutput reports what Merge did.
type MergeOutput struct {
	Result   MergeResult
	Path     string
	Messages []string
	Warnings []string
	Err      error
}
