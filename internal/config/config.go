// Package config loads ironhide's TOML configuration. Missing keys keep
// their defaults, unknown top-level keys produce warnings and every invalid
// value is reported in a single validation error.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server    ServerConfig
	Receiver  ReceiverConfig
	Broadcast BroadcastConfig
	Client    ClientConfig
	Session   SessionConfig
	BurnRate  BurnRateConfig
	Telemetry TelemetryConfig
	Models    map[string]int
	Pricing   map[string][4]float64
}

type ServerConfig struct {
	HTTPPort int    `toml:"http_port"`
	Bind     string `toml:"bind"`
}

type ReceiverConfig struct {
	Enabled  bool   `toml:"enabled"`
	GRPCPort int    `toml:"grpc_port"`
	HTTPPort int    `toml:"http_port"`
	Bind     string `toml:"bind"`
}

type BroadcastConfig struct {
	HeartbeatIntervalMS int `toml:"heartbeat_interval_ms"`
	MetricsIntervalMS   int `toml:"metrics_interval_ms"`
	SubscriberBuffer    int `toml:"subscriber_buffer"`
	HistorySize         int `toml:"history_size"`
}

// HeartbeatInterval returns heartbeat_interval_ms as a duration.
func (b BroadcastConfig) HeartbeatInterval() time.Duration {
	return time.Duration(b.HeartbeatIntervalMS) * time.Millisecond
}

// MetricsInterval returns metrics_interval_ms as a duration.
func (b BroadcastConfig) MetricsInterval() time.Duration {
	return time.Duration(b.MetricsIntervalMS) * time.Millisecond
}

type ClientConfig struct {
	BaseDelayMS          int  `toml:"base_delay_ms"`
	MaxReconnectAttempts int  `toml:"max_reconnect_attempts"`
	AutoReconnect        bool `toml:"auto_reconnect"`
}

// BaseDelay returns base_delay_ms as a duration.
func (c ClientConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

type SessionConfig struct {
	ActivityWindowSeconds int `toml:"activity_window_seconds"`
}

// ActivityWindow returns activity_window_seconds as a duration.
func (s SessionConfig) ActivityWindow() time.Duration {
	return time.Duration(s.ActivityWindowSeconds) * time.Second
}

type BurnRateConfig struct {
	SampleIntervalSeconds int     `toml:"sample_interval_seconds"`
	GreenBelow            float64 `toml:"green_below"`
	YellowBelow           float64 `toml:"yellow_below"`
}

type TelemetryConfig struct {
	Enabled               bool   `toml:"enabled"`
	Endpoint              string `toml:"endpoint"`
	Insecure              bool   `toml:"insecure"`
	ExportIntervalSeconds int    `toml:"export_interval_seconds"`
}

type LoadResult struct {
	Config   Config
	Warnings []string
}

var knownTopLevel = map[string]bool{
	"server":    true,
	"receiver":  true,
	"broadcast": true,
	"client":    true,
	"session":   true,
	"burnrate":  true,
	"telemetry": true,
	"models":    true,
}

// DefaultPath returns ~/.config/ironhide/config.toml, or "" when the home
// directory cannot be determined.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "ironhide", "config.toml")
}

func Load() (*LoadResult, error) {
	return LoadFrom(DefaultPath())
}

// LoadFrom reads the file at path. A missing file yields the defaults.
func LoadFrom(path string) (*LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &LoadResult{Config: DefaultConfig()}, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return parse(string(data))
}

func LoadFromString(data string) (*LoadResult, error) {
	return parse(data)
}

func parse(data string) (*LoadResult, error) {
	result := &LoadResult{Config: DefaultConfig()}
	if strings.TrimSpace(data) == "" {
		return result, nil
	}

	var raw map[string]any
	if _, err := toml.Decode(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	for key := range raw {
		if !knownTopLevel[key] {
			result.Warnings = append(result.Warnings, fmt.Sprintf("unknown config key: %q", key))
		}
	}

	var tf tomlFile
	if _, err := toml.Decode(data, &tf); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	mergeFromRaw(&result.Config, &tf, raw)
	mergeModelsFromRaw(&result.Config, raw)

	if err := validate(&result.Config); err != nil {
		return nil, err
	}
	return result, nil
}

type tomlFile struct {
	Server    *ServerConfig    `toml:"server"`
	Receiver  *ReceiverConfig  `toml:"receiver"`
	Broadcast *BroadcastConfig `toml:"broadcast"`
	Client    *ClientConfig    `toml:"client"`
	Session   *SessionConfig   `toml:"session"`
	BurnRate  *BurnRateConfig  `toml:"burnrate"`
	Telemetry *TelemetryConfig `toml:"telemetry"`
}

// present calls set for each key of section that appears in the raw file,
// so keys left out keep their defaults even when the zero value is valid.
func present(raw map[string]any, section string, setters map[string]func()) {
	m, ok := rawSection(raw, section)
	if !ok {
		return
	}
	for key, set := range setters {
		if _, exists := m[key]; exists {
			set()
		}
	}
}

func mergeFromRaw(cfg *Config, tf *tomlFile, raw map[string]any) {
	if s := tf.Server; s != nil {
		present(raw, "server", map[string]func(){
			"http_port": func() { cfg.Server.HTTPPort = s.HTTPPort },
			"bind":      func() { cfg.Server.Bind = s.Bind },
		})
	}
	if r := tf.Receiver; r != nil {
		present(raw, "receiver", map[string]func(){
			"enabled":   func() { cfg.Receiver.Enabled = r.Enabled },
			"grpc_port": func() { cfg.Receiver.GRPCPort = r.GRPCPort },
			"http_port": func() { cfg.Receiver.HTTPPort = r.HTTPPort },
			"bind":      func() { cfg.Receiver.Bind = r.Bind },
		})
	}
	if b := tf.Broadcast; b != nil {
		present(raw, "broadcast", map[string]func(){
			"heartbeat_interval_ms": func() { cfg.Broadcast.HeartbeatIntervalMS = b.HeartbeatIntervalMS },
			"metrics_interval_ms":   func() { cfg.Broadcast.MetricsIntervalMS = b.MetricsIntervalMS },
			"subscriber_buffer":     func() { cfg.Broadcast.SubscriberBuffer = b.SubscriberBuffer },
			"history_size":          func() { cfg.Broadcast.HistorySize = b.HistorySize },
		})
	}
	if c := tf.Client; c != nil {
		present(raw, "client", map[string]func(){
			"base_delay_ms":          func() { cfg.Client.BaseDelayMS = c.BaseDelayMS },
			"max_reconnect_attempts": func() { cfg.Client.MaxReconnectAttempts = c.MaxReconnectAttempts },
			"auto_reconnect":         func() { cfg.Client.AutoReconnect = c.AutoReconnect },
		})
	}
	if s := tf.Session; s != nil {
		present(raw, "session", map[string]func(){
			"activity_window_seconds": func() { cfg.Session.ActivityWindowSeconds = s.ActivityWindowSeconds },
		})
	}
	if b := tf.BurnRate; b != nil {
		present(raw, "burnrate", map[string]func(){
			"sample_interval_seconds": func() { cfg.BurnRate.SampleIntervalSeconds = b.SampleIntervalSeconds },
			"green_below":             func() { cfg.BurnRate.GreenBelow = b.GreenBelow },
			"yellow_below":            func() { cfg.BurnRate.YellowBelow = b.YellowBelow },
		})
	}
	if t := tf.Telemetry; t != nil {
		present(raw, "telemetry", map[string]func(){
			"enabled":                 func() { cfg.Telemetry.Enabled = t.Enabled },
			"endpoint":                func() { cfg.Telemetry.Endpoint = t.Endpoint },
			"insecure":                func() { cfg.Telemetry.Insecure = t.Insecure },
			"export_interval_seconds": func() { cfg.Telemetry.ExportIntervalSeconds = t.ExportIntervalSeconds },
		})
	}
}

func rawSection(raw map[string]any, key string) (map[string]any, bool) {
	v, ok := raw[key]
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

// mergeModelsFromRaw reads [models] context limits and the [models.pricing]
// price arrays. Entries of the wrong shape are skipped.
func mergeModelsFromRaw(cfg *Config, raw map[string]any) {
	models, ok := rawSection(raw, "models")
	if !ok {
		return
	}

	for key, val := range models {
		if key == "pricing" {
			table, ok := val.(map[string]any)
			if !ok {
				continue
			}
			for model, v := range table {
				if prices, ok := priceArray(v); ok {
					if cfg.Pricing == nil {
						cfg.Pricing = make(map[string][4]float64)
					}
					cfg.Pricing[model] = prices
				}
			}
			continue
		}
		if n, ok := val.(int64); ok {
			if cfg.Models == nil {
				cfg.Models = make(map[string]int)
			}
			cfg.Models[key] = int(n)
		}
	}
}

func priceArray(v any) ([4]float64, bool) {
	var prices [4]float64
	items, ok := v.([]any)
	if !ok || len(items) != len(prices) {
		return prices, false
	}
	for i, item := range items {
		switch n := item.(type) {
		case float64:
			prices[i] = n
		case int64:
			prices[i] = float64(n)
		default:
			return prices, false
		}
	}
	return prices, true
}

func validPort(p int) bool { return p >= 1 && p <= 65535 }

func validate(cfg *Config) error {
	var errs []string
	addf := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !validPort(cfg.Server.HTTPPort) {
		addf("server http_port must be 1-65535, got %d", cfg.Server.HTTPPort)
	}
	if !validPort(cfg.Receiver.GRPCPort) {
		addf("grpc_port must be 1-65535, got %d", cfg.Receiver.GRPCPort)
	}
	if !validPort(cfg.Receiver.HTTPPort) {
		addf("http_port must be 1-65535, got %d", cfg.Receiver.HTTPPort)
	}
	if cfg.Receiver.Enabled && cfg.Receiver.GRPCPort == cfg.Receiver.HTTPPort {
		addf("receiver grpc_port and http_port must differ, both are %d", cfg.Receiver.GRPCPort)
	}

	if cfg.Broadcast.HeartbeatIntervalMS < 1 {
		addf("heartbeat_interval_ms must be positive, got %d", cfg.Broadcast.HeartbeatIntervalMS)
	}
	if cfg.Broadcast.MetricsIntervalMS < 0 {
		addf("metrics_interval_ms must not be negative, got %d", cfg.Broadcast.MetricsIntervalMS)
	}
	if cfg.Broadcast.SubscriberBuffer < 1 {
		addf("subscriber_buffer must be positive, got %d", cfg.Broadcast.SubscriberBuffer)
	}
	if cfg.Broadcast.HistorySize < 1 {
		addf("history_size must be positive, got %d", cfg.Broadcast.HistorySize)
	}

	if cfg.Client.BaseDelayMS < 1 {
		addf("base_delay_ms must be positive, got %d", cfg.Client.BaseDelayMS)
	}
	if cfg.Client.MaxReconnectAttempts < 0 {
		addf("max_reconnect_attempts must not be negative, got %d", cfg.Client.MaxReconnectAttempts)
	}

	if cfg.Session.ActivityWindowSeconds < 1 {
		addf("activity_window_seconds must be positive, got %d", cfg.Session.ActivityWindowSeconds)
	}

	if cfg.BurnRate.SampleIntervalSeconds < 1 {
		addf("burnrate sample_interval_seconds must be positive, got %d", cfg.BurnRate.SampleIntervalSeconds)
	}
	if cfg.BurnRate.GreenBelow <= 0 {
		addf("green_below must be positive, got %f", cfg.BurnRate.GreenBelow)
	}
	if cfg.BurnRate.YellowBelow <= cfg.BurnRate.GreenBelow {
		addf("yellow_below must be greater than green_below, got %f", cfg.BurnRate.YellowBelow)
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		addf("telemetry endpoint is required when telemetry is enabled")
	}
	if cfg.Telemetry.ExportIntervalSeconds < 1 {
		addf("export_interval_seconds must be positive, got %d", cfg.Telemetry.ExportIntervalSeconds)
	}

	for model, limit := range cfg.Models {
		if limit < 1 {
			addf("model %q context limit must be positive, got %d", model, limit)
		}
	}
	for model, prices := range cfg.Pricing {
		for _, p := range prices {
			if p < 0 {
				addf("model %q prices must not be negative, got %v", model, prices)
				break
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation error: %s", strings.Join(errs, "; "))
	}
	return nil
}
