package receiver

import (
	"strconv"
	"time"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
)

var testTime = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func strAttr(key, val string) *commonpb.KeyValue {
	return &commonpb.KeyValue{Key: key, Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: val}}}
}

func intAttr(key string, val int64) *commonpb.KeyValue {
	return &commonpb.KeyValue{Key: key, Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: val}}}
}

func boolAttr(key string, val bool) *commonpb.KeyValue {
	return &commonpb.KeyValue{Key: key, Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_BoolValue{BoolValue: val}}}
}

func resource(attrs ...*commonpb.KeyValue) *resourcepb.Resource {
	return &resourcepb.Resource{Attributes: attrs}
}

// logsRequest wraps records in a single resource/scope.
func logsRequest(res *resourcepb.Resource, records ...*logspb.LogRecord) *collogspb.ExportLogsServiceRequest {
	return &collogspb.ExportLogsServiceRequest{
		ResourceLogs: []*logspb.ResourceLogs{{
			Resource:  res,
			ScopeLogs: []*logspb.ScopeLogs{{LogRecords: records}},
		}},
	}
}

func apiRequest(requestID string, input, output int64, at time.Time) *logspb.LogRecord {
	return &logspb.LogRecord{
		TimeUnixNano: uint64(at.UnixNano()),
		EventName:    EventAPIRequest,
		Attributes: []*commonpb.KeyValue{
			strAttr("request_id", requestID),
			strAttr("model", "claude-sonnet-4-5-20250929"),
			strAttr("cost_usd", "0.05"),
			intAttr("input_tokens", input),
			intAttr("output_tokens", output),
			intAttr("cache_read_tokens", 0),
			intAttr("cache_creation_tokens", 0),
			intAttr("duration_ms", 2100),
		},
	}
}

func toolResult(tool string, success bool) *logspb.LogRecord {
	return &logspb.LogRecord{
		TimeUnixNano: uint64(testTime.UnixNano()),
		EventName:    EventToolResult,
		Attributes: []*commonpb.KeyValue{
			strAttr("tool_name", tool),
			strAttr("success", strconv.FormatBool(success)),
		},
	}
}

// linesRequest builds a cumulative lines_of_code sample for a session.
func linesRequest(sessionID, kind string, value int64) *colmetricspb.ExportMetricsServiceRequest {
	return &colmetricspb.ExportMetricsServiceRequest{
		ResourceMetrics: []*metricspb.ResourceMetrics{{
			Resource: resource(strAttr("session.id", sessionID)),
			ScopeMetrics: []*metricspb.ScopeMetrics{{
				Metrics: []*metricspb.Metric{{
					Name: MetricLinesOfCode,
					Data: &metricspb.Metric_Sum{Sum: &metricspb.Sum{
						AggregationTemporality: metricspb.AggregationTemporality_AGGREGATION_TEMPORALITY_CUMULATIVE,
						IsMonotonic:            true,
						DataPoints: []*metricspb.NumberDataPoint{{
							TimeUnixNano: uint64(testTime.UnixNano()),
							Value:        &metricspb.NumberDataPoint_AsInt{AsInt: value},
							Attributes:   []*commonpb.KeyValue{strAttr("type", kind)},
						}},
					}},
				}},
			}},
		}},
	}
}
