package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigParser_Defaults(t *testing.T) {
	result, err := LoadFrom("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("expected no error for missing config file, got: %v", err)
	}

	cfg := result.Config

	if cfg.Server.HTTPPort != 3100 {
		t.Errorf("default server http_port: want 3100, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.Bind != "127.0.0.1" {
		t.Errorf("default server bind: want 127.0.0.1, got %s", cfg.Server.Bind)
	}
	if !cfg.Receiver.Enabled {
		t.Error("default receiver enabled: want true, got false")
	}
	if cfg.Receiver.GRPCPort != 4317 {
		t.Errorf("default grpc_port: want 4317, got %d", cfg.Receiver.GRPCPort)
	}
	if cfg.Receiver.HTTPPort != 4318 {
		t.Errorf("default http_port: want 4318, got %d", cfg.Receiver.HTTPPort)
	}
	if cfg.Broadcast.HeartbeatInterval() != 30*time.Second {
		t.Errorf("default heartbeat interval: want 30s, got %v", cfg.Broadcast.HeartbeatInterval())
	}
	if cfg.Broadcast.MetricsInterval() != time.Second {
		t.Errorf("default metrics interval: want 1s, got %v", cfg.Broadcast.MetricsInterval())
	}
	if cfg.Broadcast.SubscriberBuffer != 256 {
		t.Errorf("default subscriber_buffer: want 256, got %d", cfg.Broadcast.SubscriberBuffer)
	}
	if cfg.Broadcast.HistorySize != 1000 {
		t.Errorf("default history_size: want 1000, got %d", cfg.Broadcast.HistorySize)
	}
	if cfg.Client.BaseDelay() != time.Second {
		t.Errorf("default base delay: want 1s, got %v", cfg.Client.BaseDelay())
	}
	if cfg.Client.MaxReconnectAttempts != 5 {
		t.Errorf("default max_reconnect_attempts: want 5, got %d", cfg.Client.MaxReconnectAttempts)
	}
	if !cfg.Client.AutoReconnect {
		t.Error("default auto_reconnect: want true, got false")
	}
	if cfg.Session.ActivityWindow() != 5*time.Minute {
		t.Errorf("default activity window: want 5m, got %v", cfg.Session.ActivityWindow())
	}
	if cfg.BurnRate.GreenBelow != 0.50 {
		t.Errorf("default green_below: want 0.50, got %f", cfg.BurnRate.GreenBelow)
	}
	if cfg.BurnRate.YellowBelow != 2.00 {
		t.Errorf("default yellow_below: want 2.00, got %f", cfg.BurnRate.YellowBelow)
	}
	if cfg.Telemetry.Enabled {
		t.Error("default telemetry enabled: want false, got true")
	}
	if len(cfg.Models) != 0 || len(cfg.Pricing) != 0 {
		t.Errorf("default model overrides: want none, got %v %v", cfg.Models, cfg.Pricing)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("expected no warnings for missing file, got %v", result.Warnings)
	}
}

func TestConfigParser_CustomPorts(t *testing.T) {
	tomlData := `
[server]
http_port = 8080

[receiver]
grpc_port = 5317
http_port = 5318
bind = "0.0.0.0"
`
	result, err := LoadFromString(tomlData)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := result.Config
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("server http_port: want 8080, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Receiver.GRPCPort != 5317 {
		t.Errorf("grpc_port: want 5317, got %d", cfg.Receiver.GRPCPort)
	}
	if cfg.Receiver.HTTPPort != 5318 {
		t.Errorf("http_port: want 5318, got %d", cfg.Receiver.HTTPPort)
	}
	if cfg.Receiver.Bind != "0.0.0.0" {
		t.Errorf("bind: want 0.0.0.0, got %s", cfg.Receiver.Bind)
	}
	if cfg.Server.Bind != "127.0.0.1" {
		t.Errorf("server bind default should be preserved: want 127.0.0.1, got %s", cfg.Server.Bind)
	}
}

func TestConfigParser_FalseValuesOverrideDefaults(t *testing.T) {
	tomlData := `
[receiver]
enabled = false

[client]
auto_reconnect = false
max_reconnect_attempts = 0

[broadcast]
metrics_interval_ms = 0
`
	result, err := LoadFromString(tomlData)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := result.Config
	if cfg.Receiver.Enabled {
		t.Error("receiver enabled: want false, got true")
	}
	if cfg.Client.AutoReconnect {
		t.Error("auto_reconnect: want false, got true")
	}
	if cfg.Client.MaxReconnectAttempts != 0 {
		t.Errorf("max_reconnect_attempts: want 0, got %d", cfg.Client.MaxReconnectAttempts)
	}
	if cfg.Broadcast.MetricsIntervalMS != 0 {
		t.Errorf("metrics_interval_ms: want 0, got %d", cfg.Broadcast.MetricsIntervalMS)
	}
	if cfg.Broadcast.HeartbeatIntervalMS != 30000 {
		t.Errorf("heartbeat_interval_ms default should be preserved: want 30000, got %d", cfg.Broadcast.HeartbeatIntervalMS)
	}
}

func TestConfigParser_InvalidValue(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{
			name: "negative grpc_port",
			toml: `[receiver]
grpc_port = -1`,
		},
		{
			name: "port over 65535",
			toml: `[server]
http_port = 70000`,
		},
		{
			name: "receiver ports equal",
			toml: `[receiver]
grpc_port = 5000
http_port = 5000`,
		},
		{
			name: "zero subscriber_buffer",
			toml: `[broadcast]
subscriber_buffer = 0`,
		},
		{
			name: "negative metrics interval",
			toml: `[broadcast]
metrics_interval_ms = -1`,
		},
		{
			name: "zero base delay",
			toml: `[client]
base_delay_ms = 0`,
		},
		{
			name: "negative reconnect attempts",
			toml: `[client]
max_reconnect_attempts = -3`,
		},
		{
			name: "zero activity window",
			toml: `[session]
activity_window_seconds = 0`,
		},
		{
			name: "yellow below green",
			toml: `[burnrate]
green_below = 3.0
yellow_below = 1.0`,
		},
		{
			name: "telemetry without endpoint",
			toml: `[telemetry]
enabled = true
endpoint = ""`,
		},
		{
			name: "negative model context limit",
			toml: `[models]
"my-model" = -5`,
		},
		{
			name: "negative price",
			toml: `[models.pricing]
"my-model" = [1.0, -5.0, 0.1, 1.25]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromString(tt.toml)
			if err == nil {
				t.Errorf("expected validation error for %s, got nil", tt.name)
			}
		})
	}
}

func TestConfigParser_AllErrorsReported(t *testing.T) {
	tomlData := `
[server]
http_port = 0

[broadcast]
history_size = 0
`
	_, err := LoadFromString(tomlData)
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, "config validation error: ") {
		t.Errorf("expected validation prefix, got %q", msg)
	}
	if !strings.Contains(msg, "http_port") || !strings.Contains(msg, "history_size") {
		t.Errorf("expected both problems in one error, got %q", msg)
	}
}

func TestConfigParser_SyntaxError(t *testing.T) {
	_, err := LoadFromString("[server\nhttp_port = ")
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "parsing config") {
		t.Errorf("expected parse error context, got %q", err.Error())
	}
}

func TestConfigParser_UnknownKey(t *testing.T) {
	tomlData := `
[receiver]
grpc_port = 4317

[mysterious_section]
foo = "bar"

[another_unknown]
baz = 42
`
	result, err := LoadFromString(tomlData)
	if err != nil {
		t.Fatalf("unknown keys should not cause errors, got: %v", err)
	}

	foundMysterious := false
	foundAnother := false
	for _, w := range result.Warnings {
		if w == `unknown config key: "mysterious_section"` {
			foundMysterious = true
		}
		if w == `unknown config key: "another_unknown"` {
			foundAnother = true
		}
	}
	if !foundMysterious {
		t.Error("expected warning for mysterious_section, not found")
	}
	if !foundAnother {
		t.Error("expected warning for another_unknown, not found")
	}
}

func TestConfigParser_ModelOverrides(t *testing.T) {
	tomlData := `
[models]
"claude-sonnet-4-5" = 1000000
"my-custom-model" = 128000

[models.pricing]
"claude-sonnet-4-5" = [3.00, 15.00, 0.30, 3.75]
"my-custom-model" = [1, 5, 0.10, 1.25]
"malformed" = [1.0, 2.0]
`
	result, err := LoadFromString(tomlData)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := result.Config
	if cfg.Models["claude-sonnet-4-5"] != 1000000 {
		t.Errorf("sonnet context limit: want 1000000, got %d", cfg.Models["claude-sonnet-4-5"])
	}
	if cfg.Models["my-custom-model"] != 128000 {
		t.Errorf("custom model context limit: want 128000, got %d", cfg.Models["my-custom-model"])
	}
	if _, ok := cfg.Models["pricing"]; ok {
		t.Error("pricing table must not be read as a context limit")
	}

	sonnet, ok := cfg.Pricing["claude-sonnet-4-5"]
	if !ok {
		t.Fatal("sonnet pricing not found")
	}
	if sonnet != [4]float64{3.00, 15.00, 0.30, 3.75} {
		t.Errorf("sonnet pricing: want [3 15 0.3 3.75], got %v", sonnet)
	}
	custom := cfg.Pricing["my-custom-model"]
	if custom[0] != 1.0 || custom[1] != 5.0 {
		t.Errorf("integer prices should be accepted: want [1 5 ...], got %v", custom)
	}
	if _, ok := cfg.Pricing["malformed"]; ok {
		t.Error("expected malformed price array to be skipped")
	}
}

func TestConfigParser_FileLoad(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	tomlContent := `
[receiver]
grpc_port = 9317

[broadcast]
history_size = 2000

[telemetry]
enabled = true
endpoint = "collector:4317"
`
	if err := os.WriteFile(configPath, []byte(tomlContent), 0644); err != nil {
		t.Fatalf("writing test config file: %v", err)
	}

	result, err := LoadFrom(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Config.Receiver.GRPCPort != 9317 {
		t.Errorf("grpc_port from file: want 9317, got %d", result.Config.Receiver.GRPCPort)
	}
	if result.Config.Broadcast.HistorySize != 2000 {
		t.Errorf("history_size from file: want 2000, got %d", result.Config.Broadcast.HistorySize)
	}
	if !result.Config.Telemetry.Enabled || result.Config.Telemetry.Endpoint != "collector:4317" {
		t.Errorf("telemetry from file: got %+v", result.Config.Telemetry)
	}
	if result.Config.Receiver.HTTPPort != 4318 {
		t.Errorf("http_port default: want 4318, got %d", result.Config.Receiver.HTTPPort)
	}
}

func TestConfigParser_UnreadableFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadFrom(dir); err == nil {
		t.Error("expected error when the config path is a directory")
	}
}

func TestConfigParser_EmptyString(t *testing.T) {
	result, err := LoadFromString("  \n")
	if err != nil {
		t.Fatalf("unexpected error for empty config: %v", err)
	}
	if result.Config.Receiver.GRPCPort != 4317 {
		t.Errorf("grpc_port: want 4317, got %d", result.Config.Receiver.GRPCPort)
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	want := filepath.Join("/home/tester", ".config", "ironhide", "config.toml")
	if got := DefaultPath(); got != want {
		t.Errorf("DefaultPath: want %s, got %s", want, got)
	}
}
