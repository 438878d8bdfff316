package metrics

import (
	"time"

	"github.com/barkain/ironhide/internal/efficiency"
	"github.com/barkain/ironhide/internal/pricing"
)

// TurnStatus is the lifecycle stage reported with a turn.
type TurnStatus string

const (
	StatusNew      TurnStatus = "new"
	StatusUpdate   TurnStatus = "update"
	StatusComplete TurnStatus = "complete"
)

// Valid reports whether s is one of the known statuses.
func (s TurnStatus) Valid() bool {
	switch s {
	case StatusNew, StatusUpdate, StatusComplete:
		return true
	}
	return false
}

// ToolCall records a single tool invocation within a turn.
type ToolCall struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
}

// CodeChanges counts file and line edits attributed to a turn.
type CodeChanges struct {
	FilesCreated  int `json:"filesCreated"`
	FilesModified int `json:"filesModified"`
	FilesDeleted  int `json:"filesDeleted"`
	LinesAdded    int `json:"linesAdded"`
	LinesRemoved  int `json:"linesRemoved"`
}

// LinesChanged returns added plus removed lines.
func (c CodeChanges) LinesChanged() int {
	return c.LinesAdded + c.LinesRemoved
}

func (c CodeChanges) add(o CodeChanges) CodeChanges {
	return CodeChanges{
		FilesCreated:  c.FilesCreated + o.FilesCreated,
		FilesModified: c.FilesModified + o.FilesModified,
		FilesDeleted:  c.FilesDeleted + o.FilesDeleted,
		LinesAdded:    c.LinesAdded + o.LinesAdded,
		LinesRemoved:  c.LinesRemoved + o.LinesRemoved,
	}
}

// Turn is one request/response exchange within a session.
type Turn struct {
	ID          string             `json:"id"`
	SessionID   string             `json:"sessionId"`
	TurnNumber  int                `json:"turnNumber"`
	Timestamp   time.Time          `json:"timestamp"`
	DurationMs  int64              `json:"durationMs"`
	Model       string             `json:"model"`
	Usage       pricing.TokenUsage `json:"usage"`
	ToolCalls   []ToolCall         `json:"toolCalls"`
	CodeChanges CodeChanges        `json:"codeChanges"`
	Status      TurnStatus         `json:"status"`
}

// Clone returns a copy of t that shares no slices with it.
func (t Turn) Clone() Turn {
	if t.ToolCalls != nil {
		calls := make([]ToolCall, len(t.ToolCalls))
		copy(calls, t.ToolCalls)
		t.ToolCalls = calls
	}
	return t
}

// TokenBreakdown is a token count per category plus the total.
type TokenBreakdown struct {
	Input         int64 `json:"input"`
	Output        int64 `json:"output"`
	CacheCreation int64 `json:"cacheCreation"`
	CacheRead     int64 `json:"cacheRead"`
	Total         int64 `json:"total"`
}

func breakdownOf(u pricing.TokenUsage) TokenBreakdown {
	return TokenBreakdown{
		Input:         u.Input,
		Output:        u.Output,
		CacheCreation: u.CacheCreation,
		CacheRead:     u.CacheRead,
		Total:         u.Total(),
	}
}

func (b TokenBreakdown) add(o TokenBreakdown) TokenBreakdown {
	return TokenBreakdown{
		Input:         b.Input + o.Input,
		Output:        b.Output + o.Output,
		CacheCreation: b.CacheCreation + o.CacheCreation,
		CacheRead:     b.CacheRead + o.CacheRead,
		Total:         b.Total + o.Total,
	}
}

// TurnMetrics are the values derived from a single turn.
type TurnMetrics struct {
	TurnID              string                `json:"turnId"`
	TurnNumber          int                   `json:"turnNumber"`
	Timestamp           time.Time             `json:"timestamp"`
	Model               string                `json:"model"`
	Tokens              TokenBreakdown        `json:"tokens"`
	Cost                pricing.CostBreakdown `json:"cost"`
	DurationMs          int64                 `json:"durationMs"`
	ContextUsagePercent float64               `json:"contextUsagePercent"`
	ToolCount           int                   `json:"toolCount"`
	ToolSuccesses       int                   `json:"toolSuccesses"`
	ToolBreakdown       map[string]int        `json:"toolBreakdown"`
	CodeChanges         CodeChanges           `json:"codeChanges"`
	Efficiency          efficiency.Components `json:"efficiency"`
}

// Clone returns a copy of m that shares no maps with it.
func (m TurnMetrics) Clone() TurnMetrics {
	m.ToolBreakdown = cloneCounts(m.ToolBreakdown)
	return m
}

// DurationPercentiles holds nearest-rank turn duration percentiles.
type DurationPercentiles struct {
	P50 int64 `json:"p50"`
	P95 int64 `json:"p95"`
	P99 int64 `json:"p99"`
}

// ModelUsage is the share of a session attributed to one model.
type ModelUsage struct {
	Model  string                `json:"model"`
	Turns  int                   `json:"turns"`
	Tokens TokenBreakdown        `json:"tokens"`
	Cost   pricing.CostBreakdown `json:"cost"`
}

// SessionMetrics aggregate every turn of a session.
type SessionMetrics struct {
	TotalTurns         int                   `json:"totalTurns"`
	TotalDurationMs    int64                 `json:"totalDurationMs"`
	TotalTokens        TokenBreakdown        `json:"totalTokens"`
	TotalCost          pricing.CostBreakdown `json:"totalCost"`
	TotalCodeChanges   CodeChanges           `json:"totalCodeChanges"`
	TotalToolUses      int                   `json:"totalToolUses"`
	SuccessfulToolUses int                   `json:"successfulToolUses"`
	ToolBreakdown      map[string]int        `json:"toolBreakdown"`
	TotalContextUsage  float64               `json:"totalContextUsage"`

	AvgCostPerTurn         float64 `json:"avgCostPerTurn"`
	AvgTokensPerTurn       float64 `json:"avgTokensPerTurn"`
	AvgDurationMsPerTurn   float64 `json:"avgDurationMsPerTurn"`
	AvgContextUsagePerTurn float64 `json:"avgContextUsagePerTurn"`

	PeakTokens       int64   `json:"peakTokens"`
	PeakCost         float64 `json:"peakCost"`
	PeakDurationMs   int64   `json:"peakDurationMs"`
	PeakContextUsage float64 `json:"peakContextUsage"`

	CacheHitRate        float64               `json:"cacheHitRate"`
	Efficiency          efficiency.Components `json:"efficiency"`
	DurationPercentiles DurationPercentiles   `json:"durationPercentiles"`
	ModelBreakdown      []ModelUsage          `json:"modelBreakdown"`
}

// Clone returns a copy of m that shares no maps or slices with it.
func (m SessionMetrics) Clone() SessionMetrics {
	m.ToolBreakdown = cloneCounts(m.ToolBreakdown)
	if m.ModelBreakdown != nil {
		mb := make([]ModelUsage, len(m.ModelBreakdown))
		copy(mb, m.ModelBreakdown)
		m.ModelBreakdown = mb
	}
	return m
}

func cloneCounts(in map[string]int) map[string]int {
	if in == nil {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
