package mcpserver

import (
	"context"
	"fmt"
	"slices"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/barkain/ironhide/internal/metrics"
	"github.com/barkain/ironhide/internal/state"
)

// registerTools registers every session tool on server.
func registerTools(server *mcpsdk.Server, t *tools) {
	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "list_sessions",
		Description: "List tracked sessions with their project, branch, activity and turn count",
	}, t.listSessions)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "get_session",
		Description: "Get a session together with its aggregate metrics",
	}, t.getSession)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "get_session_metrics",
		Description: "Get the aggregate metrics of a session: tokens, cost, efficiency, percentiles and model breakdown",
	}, t.getSessionMetrics)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "get_session_turns",
		Description: "Get the turns of a session in turn-number order, optionally only the last N",
	}, t.getSessionTurns)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "get_current_session",
		Description: "Get the session currently marked as current, if any",
	}, t.getCurrentSession)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "get_timeseries",
		Description: "Group a session's turns into fixed-width time buckets",
	}, t.getTimeSeries)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "get_burn_rate",
		Description: "Get the spend rate across all sessions: hourly cost, trend, token velocity and per-model split",
	}, t.getBurnRate)
}

// list_sessions

type listSessionsInput struct {
	ActiveOnly bool `json:"activeOnly" jsonschema:"Only return sessions with recent activity"`
}

type listSessionsOutput struct {
	Sessions         []state.Session `json:"sessions"`
	CurrentSessionID string          `json:"currentSessionId,omitempty"`
}

func (t *tools) listSessions(ctx context.Context, req *mcpsdk.CallToolRequest, input listSessionsInput) (*mcpsdk.CallToolResult, any, error) {
	sessions := t.store.GetAllSessions()
	if input.ActiveOnly {
		sessions = state.ActiveSessions(sessions)
	}
	return jsonResult(listSessionsOutput{
		Sessions:         sessions,
		CurrentSessionID: t.store.GetCurrentSessionID(),
	})
}

// get_session

type sessionInput struct {
	SessionID string `json:"sessionId" jsonschema:"Session id"`
}

type getSessionOutput struct {
	Session state.Session          `json:"session"`
	Status  state.SessionStatus    `json:"status"`
	Metrics metrics.SessionMetrics `json:"metrics"`
}

func (t *tools) getSession(ctx context.Context, req *mcpsdk.CallToolRequest, input sessionInput) (*mcpsdk.CallToolResult, any, error) {
	if input.SessionID == "" {
		return nil, nil, fmt.Errorf("sessionId is required")
	}
	sess, err := t.store.GetSession(input.SessionID)
	if err != nil {
		return nil, nil, err
	}
	m, err := t.store.GetSessionMetrics(input.SessionID)
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(getSessionOutput{Session: sess, Status: sess.Status(), Metrics: m})
}

// get_session_metrics

func (t *tools) getSessionMetrics(ctx context.Context, req *mcpsdk.CallToolRequest, input sessionInput) (*mcpsdk.CallToolResult, any, error) {
	if input.SessionID == "" {
		return nil, nil, fmt.Errorf("sessionId is required")
	}
	m, err := t.store.GetSessionMetrics(input.SessionID)
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(m)
}

// get_session_turns

type sessionTurnsInput struct {
	SessionID string `json:"sessionId" jsonschema:"Session id"`
	Last      int    `json:"last" jsonschema:"Only return the last N turns (default: all)"`
}

type sessionTurnsOutput struct {
	SessionID  string             `json:"sessionId"`
	TotalTurns int                `json:"totalTurns"`
	Turns      []state.TurnRecord `json:"turns"`
}

func (t *tools) getSessionTurns(ctx context.Context, req *mcpsdk.CallToolRequest, input sessionTurnsInput) (*mcpsdk.CallToolResult, any, error) {
	if input.SessionID == "" {
		return nil, nil, fmt.Errorf("sessionId is required")
	}
	if input.Last < 0 {
		return nil, nil, fmt.Errorf("last must not be negative")
	}
	turns, err := t.store.GetSessionTurns(input.SessionID)
	if err != nil {
		return nil, nil, err
	}
	out := sessionTurnsOutput{SessionID: input.SessionID, TotalTurns: len(turns), Turns: turns}
	if input.Last > 0 && input.Last < len(turns) {
		out.Turns = turns[len(turns)-input.Last:]
	}
	return jsonResult(out)
}

// get_current_session

type currentSessionInput struct{}

type currentSessionOutput struct {
	SessionID *string        `json:"sessionId"`
	Session   *state.Session `json:"session,omitempty"`
}

func (t *tools) getCurrentSession(ctx context.Context, req *mcpsdk.CallToolRequest, input currentSessionInput) (*mcpsdk.CallToolResult, any, error) {
	var out currentSessionOutput
	if id := t.store.GetCurrentSessionID(); id != "" {
		out.SessionID = &id
		if sess, err := t.store.GetSession(id); err == nil {
			out.Session = &sess
		}
	}
	return jsonResult(out)
}

// get_timeseries

type timeSeriesInput struct {
	SessionID string `json:"sessionId" jsonschema:"Session id"`
	Bucket    string `json:"bucket" jsonschema:"Bucket width as a Go duration, e.g. 1m, 5m, 1h (default: 1m)"`
	Dense     bool   `json:"dense" jsonschema:"Include empty buckets between the first and last turn"`
}

type timeSeriesOutput struct {
	SessionID string           `json:"sessionId"`
	Bucket    string           `json:"bucket"`
	Buckets   []metrics.Bucket `json:"buckets"`
}

func (t *tools) getTimeSeries(ctx context.Context, req *mcpsdk.CallToolRequest, input timeSeriesInput) (*mcpsdk.CallToolResult, any, error) {
	if input.SessionID == "" {
		return nil, nil, fmt.Errorf("sessionId is required")
	}
	width := metrics.DefaultBucketWidth
	if input.Bucket != "" {
		d, err := time.ParseDuration(input.Bucket)
		if err != nil || d <= 0 {
			return nil, nil, fmt.Errorf("invalid bucket %q", input.Bucket)
		}
		width = d
	}

	turns, err := t.store.GetSessionTurns(input.SessionID)
	if err != nil {
		return nil, nil, err
	}
	tms := make([]metrics.TurnMetrics, len(turns))
	for i, tr := range turns {
		tms[i] = tr.Metrics
	}
	opts := metrics.SeriesOptions{Dense: input.Dense}
	if input.Dense {
		if n := metrics.DenseBucketCount(tms, width, opts); n > metrics.DefaultMaxBuckets {
			return nil, nil, fmt.Errorf("dense series would hold %d buckets, limit is %d", n, metrics.DefaultMaxBuckets)
		}
	}
	buckets := slices.Collect(metrics.TimeSeries(tms, width, opts))
	if buckets == nil {
		buckets = []metrics.Bucket{}
	}
	return jsonResult(timeSeriesOutput{SessionID: input.SessionID, Bucket: width.String(), Buckets: buckets})
}

// get_burn_rate

type burnRateInput struct{}

func (t *tools) getBurnRate(ctx context.Context, req *mcpsdk.CallToolRequest, input burnRateInput) (*mcpsdk.CallToolResult, any, error) {
	return jsonResult(t.burn.Compute(t.store))
}
