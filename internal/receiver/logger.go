package receiver

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// Signal is one received log record or metric data point, flattened for
// debug logging.
type Signal struct {
	Name       string
	Value      float64
	Attributes map[string]string
	Timestamp  time.Time
}

// Logger receives every decoded OTLP signal. Implementations must be safe
// for concurrent use.
type Logger interface {
	LogEvent(sessionID string, s Signal)
	LogMetric(sessionID string, s Signal)
}

// NopLogger discards all log output.
type NopLogger struct{}

func (NopLogger) LogEvent(string, Signal)  {}
func (NopLogger) LogMetric(string, Signal) {}

// logEntry is the JSON structure written by FileLogger.
type logEntry struct {
	Timestamp  string            `json:"ts"`
	Type       string            `json:"type"`
	SessionID  string            `json:"session"`
	Name       string            `json:"name"`
	Value      *float64          `json:"value,omitempty"`
	Attributes map[string]string `json:"attrs,omitempty"`
}

// FileLogger writes one JSON object per line (JSONL) to an io.Writer.
type FileLogger struct {
	w   io.Writer
	mu  sync.Mutex
	now func() time.Time
}

// NewFileLogger creates a FileLogger that writes to the given writer.
func NewFileLogger(w io.Writer) *FileLogger {
	return &FileLogger{w: w, now: time.Now}
}

// LogEvent writes a JSON line for a received log record.
func (l *FileLogger) LogEvent(sessionID string, s Signal) {
	l.write(l.entry("event", sessionID, s, nil))
}

// LogMetric writes a JSON line for a received data point.
func (l *FileLogger) LogMetric(sessionID string, s Signal) {
	v := s.Value
	l.write(l.entry("metric", sessionID, s, &v))
}

func (l *FileLogger) entry(kind, sessionID string, s Signal, value *float64) logEntry {
	ts := s.Timestamp
	if ts.IsZero() {
		ts = l.now()
	}
	return logEntry{
		Timestamp:  ts.UTC().Format(time.RFC3339Nano),
		Type:       kind,
		SessionID:  sessionID,
		Name:       s.Name,
		Value:      value,
		Attributes: s.Attributes,
	}
}

// write serialises entry as a single line. Errors are dropped so a broken
// debug sink never disrupts ingestion.
func (l *FileLogger) write(entry logEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "%s\n", data)
}
