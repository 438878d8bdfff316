package receiver

import (
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"

	"github.com/barkain/ironhide/internal/metrics"
	"github.com/barkain/ironhide/internal/pricing"
	"github.com/barkain/ironhide/internal/state"
)

// Event and metric names emitted by Claude Code's OpenTelemetry exporter.
const (
	EventAPIRequest   = "claude_code.api_request"
	EventToolResult   = "claude_code.tool_result"
	MetricLinesOfCode = "claude_code.lines_of_code.count"
)

// Sink is the part of the session store the receiver writes to.
type Sink interface {
	RecordTurn(sessionID string, turn metrics.Turn, status metrics.TurnStatus) state.TurnResult
	UpdateSessionInfo(sessionID, projectName, branch string)
}

// pending accumulates tool results and line counts until the session's next
// api_request turns them into part of a turn.
type pending struct {
	tools   []metrics.ToolCall
	changes metrics.CodeChanges
}

// metricKey identifies one cumulative counter series.
type metricKey struct {
	sessionID string
	name      string
	attrs     string
}

// Translator turns OTLP payloads into store writes. It is shared by the
// gRPC and HTTP receivers and is safe for concurrent use.
type Translator struct {
	sink   Sink
	logger Logger

	mu       sync.Mutex
	pending  map[string]*pending
	counters map[metricKey]float64
}

// NewTranslator creates a Translator writing to sink. A nil logger
// discards debug output.
func NewTranslator(sink Sink, logger Logger) *Translator {
	if logger == nil {
		logger = NopLogger{}
	}
	return &Translator{
		sink:     sink,
		logger:   logger,
		pending:  make(map[string]*pending),
		counters: make(map[metricKey]float64),
	}
}

// HandleLogs processes an OTLP logs export.
func (t *Translator) HandleLogs(req *collogspb.ExportLogsServiceRequest) {
	for _, rl := range req.GetResourceLogs() {
		resource := attrsToMap(rl.GetResource().GetAttributes())
		t.updateSessionInfo(resource)

		for _, sl := range rl.GetScopeLogs() {
			for _, rec := range sl.GetLogRecords() {
				attrs := attrsToMap(rec.GetAttributes())
				sessionID := firstNonEmpty(attrs["session.id"], resource["session.id"])
				name := eventName(rec, attrs)
				ts := recordTime(rec)

				t.logger.LogEvent(sessionID, Signal{Name: name, Attributes: attrs, Timestamp: ts})
				t.handleEvent(sessionID, name, attrs, ts)
			}
		}
	}
}

// HandleMetrics processes an OTLP metrics export.
func (t *Translator) HandleMetrics(req *colmetricspb.ExportMetricsServiceRequest) {
	for _, rm := range req.GetResourceMetrics() {
		resource := attrsToMap(rm.GetResource().GetAttributes())
		t.updateSessionInfo(resource)

		for _, sm := range rm.GetScopeMetrics() {
			for _, m := range sm.GetMetrics() {
				for _, dp := range numberPoints(m) {
					attrs := attrsToMap(dp.GetAttributes())
					sessionID := firstNonEmpty(attrs["session.id"], resource["session.id"])
					value := pointValue(dp)
					ts := unixNano(dp.GetTimeUnixNano())

					t.logger.LogMetric(sessionID, Signal{Name: m.GetName(), Value: value, Attributes: attrs, Timestamp: ts})
					if m.GetName() == MetricLinesOfCode {
						t.handleLines(sessionID, attrs, value, isCumulative(m))
					}
				}
			}
		}
	}
}

func (t *Translator) updateSessionInfo(resource map[string]string) {
	sessionID := resource["session.id"]
	if sessionID == "" {
		return
	}
	project, branch := resource["project.name"], resource["git.branch"]
	if project == "" && branch == "" {
		return
	}
	t.sink.UpdateSessionInfo(sessionID, project, branch)
}

func (t *Translator) handleEvent(sessionID, name string, attrs map[string]string, ts time.Time) {
	switch name {
	case EventAPIRequest:
		t.recordTurn(sessionID, attrs, ts)
	case EventToolResult:
		t.mu.Lock()
		p := t.pendingFor(sessionID)
		p.tools = append(p.tools, metrics.ToolCall{
			Name:    attrs["tool_name"],
			Success: parseBool(attrs["success"]),
		})
		p.changes = addFileChange(p.changes, attrs["tool_name"], parseBool(attrs["success"]))
		t.mu.Unlock()
	}
}

// recordTurn writes an api_request as a completed turn carrying any
// pending tool results and line counts for the session.
func (t *Translator) recordTurn(sessionID string, attrs map[string]string, ts time.Time) {
	turn := metrics.Turn{
		ID:         turnID(sessionID, attrs),
		Timestamp:  ts,
		DurationMs: parseInt(attrs["duration_ms"]),
		Model:      attrs["model"],
		Usage: pricing.TokenUsage{
			Input:         parseInt(attrs["input_tokens"]),
			Output:        parseInt(attrs["output_tokens"]),
			CacheRead:     parseInt(attrs["cache_read_tokens"]),
			CacheCreation: parseInt(attrs["cache_creation_tokens"]),
		},
	}

	t.mu.Lock()
	if p, ok := t.pending[sessionKey(sessionID)]; ok {
		turn.ToolCalls = p.tools
		turn.CodeChanges = p.changes
		delete(t.pending, sessionKey(sessionID))
	}
	res := t.sink.RecordTurn(sessionID, turn, metrics.StatusComplete)
	t.mu.Unlock()

	if !res.Applied {
		log.Printf("WARNING: api_request %q for session %q was already recorded", turn.ID, sessionID)
	}
}

// handleLines converts a lines_of_code sample into a delta and adds it to
// the session's pending code changes. Cumulative counters that go backwards
// were reset by a restarted client, so the new value is the delta.
func (t *Translator) handleLines(sessionID string, attrs map[string]string, value float64, cumulative bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delta := value
	if cumulative {
		key := metricKey{sessionID: sessionKey(sessionID), name: MetricLinesOfCode, attrs: attrsKey(attrs)}
		prev, seen := t.counters[key]
		t.counters[key] = value
		if seen && value >= prev {
			delta = value - prev
		}
	}
	if delta <= 0 {
		return
	}

	p := t.pendingFor(sessionID)
	switch attrs["type"] {
	case "added":
		p.changes.LinesAdded += int(delta)
	case "removed":
		p.changes.LinesRemoved += int(delta)
	}
}

// pendingFor returns the pending accumulator for a session. Caller must
// hold t.mu.
func (t *Translator) pendingFor(sessionID string) *pending {
	key := sessionKey(sessionID)
	p, ok := t.pending[key]
	if !ok {
		p = &pending{}
		t.pending[key] = p
	}
	return p
}

func sessionKey(sessionID string) string {
	if sessionID == "" {
		return state.UnknownSessionID
	}
	return sessionID
}

func addFileChange(c metrics.CodeChanges, tool string, success bool) metrics.CodeChanges {
	if !success {
		return c
	}
	switch tool {
	case "Write":
		c.FilesCreated++
	case "Edit", "MultiEdit", "NotebookEdit":
		c.FilesModified++
	}
	return c
}

// turnID prefers the request id, then the session-scoped event sequence.
// An empty id lets the store generate one.
func turnID(sessionID string, attrs map[string]string) string {
	if id := attrs["request_id"]; id != "" {
		return id
	}
	if seq := attrs["event.sequence"]; seq != "" {
		return sessionKey(sessionID) + "-" + seq
	}
	return ""
}

func eventName(rec *logspb.LogRecord, attrs map[string]string) string {
	if name := rec.GetEventName(); name != "" {
		return name
	}
	if name := attrs["event.name"]; name != "" {
		if !strings.HasPrefix(name, "claude_code.") {
			return "claude_code." + name
		}
		return name
	}
	return rec.GetBody().GetStringValue()
}

func recordTime(rec *logspb.LogRecord) time.Time {
	if ts := rec.GetTimeUnixNano(); ts != 0 {
		return unixNano(ts)
	}
	return unixNano(rec.GetObservedTimeUnixNano())
}

func unixNano(ns uint64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(ns)).UTC()
}

func numberPoints(m *metricspb.Metric) []*metricspb.NumberDataPoint {
	switch d := m.GetData().(type) {
	case *metricspb.Metric_Sum:
		return d.Sum.GetDataPoints()
	case *metricspb.Metric_Gauge:
		return d.Gauge.GetDataPoints()
	default:
		return nil
	}
}

func isCumulative(m *metricspb.Metric) bool {
	sum := m.GetSum()
	return sum != nil && sum.GetAggregationTemporality() != metricspb.AggregationTemporality_AGGREGATION_TEMPORALITY_DELTA
}

func pointValue(dp *metricspb.NumberDataPoint) float64 {
	switch v := dp.GetValue().(type) {
	case *metricspb.NumberDataPoint_AsDouble:
		return v.AsDouble
	case *metricspb.NumberDataPoint_AsInt:
		return float64(v.AsInt)
	default:
		return 0
	}
}

func attrsToMap(kvs []*commonpb.KeyValue) map[string]string {
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		out[kv.GetKey()] = anyValueString(kv.GetValue())
	}
	return out
}

func anyValueString(v *commonpb.AnyValue) string {
	switch x := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return x.StringValue
	case *commonpb.AnyValue_IntValue:
		return strconv.FormatInt(x.IntValue, 10)
	case *commonpb.AnyValue_DoubleValue:
		return strconv.FormatFloat(x.DoubleValue, 'f', -1, 64)
	case *commonpb.AnyValue_BoolValue:
		return strconv.FormatBool(x.BoolValue)
	default:
		return ""
	}
}

// attrsKey renders attributes in sorted order for use in a map key.
func attrsKey(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		if k == "session.id" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(attrs[k])
		b.WriteByte(';')
	}
	return b.String()
}

func parseInt(s string) int64 {
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
