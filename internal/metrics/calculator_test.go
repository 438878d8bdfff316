package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/barkain/ironhide/internal/pricing"
)

func approxEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func sampleTurn(id string, input, output int64) Turn {
	return Turn{
		ID:         id,
		SessionID:  "sess-001",
		Timestamp:  time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC),
		DurationMs: 1200,
		Model:      "claude-sonnet-4",
		Usage:      pricing.TokenUsage{Input: input, Output: output},
	}
}

func TestComputeTurn_Basic(t *testing.T) {
	calc := NewCalculator(nil)
	turn := sampleTurn("t1", 1000, 500)
	turn.Usage.CacheRead = 3000
	turn.Usage.CacheCreation = 1000
	turn.ToolCalls = []ToolCall{
		{Name: "Read", Success: true},
		{Name: "Read", Success: true},
		{Name: "Bash", Success: false},
	}
	turn.CodeChanges = CodeChanges{FilesModified: 1, LinesAdded: 10, LinesRemoved: 2}

	tm := calc.ComputeTurn(turn)

	if tm.TurnID != "t1" {
		t.Errorf("TurnID: want t1, got %q", tm.TurnID)
	}
	if tm.Tokens.Total != 5500 {
		t.Errorf("total tokens: want 5500, got %d", tm.Tokens.Total)
	}
	// 5000 context tokens of 200k.
	if !approxEqual(tm.ContextUsagePercent, 2.5, 1e-9) {
		t.Errorf("context usage: want 2.5, got %v", tm.ContextUsagePercent)
	}
	if tm.ToolCount != 3 || tm.ToolSuccesses != 2 {
		t.Errorf("tools: want 3 calls/2 successes, got %d/%d", tm.ToolCount, tm.ToolSuccesses)
	}
	if tm.ToolBreakdown["Read"] != 2 || tm.ToolBreakdown["Bash"] != 1 {
		t.Errorf("tool breakdown: got %v", tm.ToolBreakdown)
	}
	// 0.003 + 0.0075 + 0.00375 + 0.0009
	if !approxEqual(tm.Cost.Total, 0.01515, 1e-9) {
		t.Errorf("cost total: want 0.01515, got %v", tm.Cost.Total)
	}
	if !approxEqual(tm.Efficiency.ToolSuccessRate, 200.0/3, 1e-9) {
		t.Errorf("tool success rate: want %v, got %v", 200.0/3, tm.Efficiency.ToolSuccessRate)
	}
}

func TestComputeTurn_ContextClampedAndNegativesZeroed(t *testing.T) {
	calc := NewCalculator(nil)
	turn := sampleTurn("t1", 500_000, -10)

	tm := calc.ComputeTurn(turn)
	if tm.ContextUsagePercent != 100 {
		t.Errorf("context usage: want 100, got %v", tm.ContextUsagePercent)
	}
	if tm.Tokens.Output != 0 {
		t.Errorf("negative output: want 0, got %d", tm.Tokens.Output)
	}
}

func TestComputeTurn_IsPure(t *testing.T) {
	calc := NewCalculator(nil)
	turn := sampleTurn("t1", 100, 200)
	turn.ToolCalls = []ToolCall{{Name: "Edit", Success: true}}

	a := calc.ComputeTurn(turn)
	b := calc.ComputeTurn(turn)
	if a.Cost != b.Cost || a.Tokens != b.Tokens || a.Efficiency != b.Efficiency {
		t.Errorf("ComputeTurn not deterministic: %+v vs %+v", a, b)
	}
}

func TestFold_AveragesPeaksAndTotals(t *testing.T) {
	calc := NewCalculator(nil)

	t1 := calc.ComputeTurn(sampleTurn("t1", 1000, 500))
	t2Turn := sampleTurn("t2", 3000, 100)
	t2Turn.DurationMs = 4000
	t2 := calc.ComputeTurn(t2Turn)

	sm := Fold(SessionMetrics{}, t1)
	sm = Fold(sm, t2)

	if sm.TotalTurns != 2 {
		t.Fatalf("TotalTurns: want 2, got %d", sm.TotalTurns)
	}
	if sm.TotalTokens.Total != 4600 {
		t.Errorf("total tokens: want 4600, got %d", sm.TotalTokens.Total)
	}
	if !approxEqual(sm.AvgTokensPerTurn, 2300, 1e-9) {
		t.Errorf("avg tokens: want 2300, got %v", sm.AvgTokensPerTurn)
	}
	if !approxEqual(sm.AvgDurationMsPerTurn, 2600, 1e-9) {
		t.Errorf("avg duration: want 2600, got %v", sm.AvgDurationMsPerTurn)
	}
	if sm.PeakTokens != 3100 {
		t.Errorf("peak tokens: want 3100, got %d", sm.PeakTokens)
	}
	if sm.PeakDurationMs != 4000 {
		t.Errorf("peak duration: want 4000, got %d", sm.PeakDurationMs)
	}
	wantCost := t1.Cost.Total + t2.Cost.Total
	if !approxEqual(sm.TotalCost.Total, wantCost, 2e-6) {
		t.Errorf("total cost: want %v, got %v", wantCost, sm.TotalCost.Total)
	}
	if !approxEqual(sm.AvgCostPerTurn, sm.TotalCost.Total/2, 1e-12) {
		t.Errorf("avg cost: want %v, got %v", sm.TotalCost.Total/2, sm.AvgCostPerTurn)
	}
	wantContext := (t1.ContextUsagePercent + t2.ContextUsagePercent) / 2
	if !approxEqual(sm.AvgContextUsagePerTurn, wantContext, 1e-9) {
		t.Errorf("avg context: want %v, got %v", wantContext, sm.AvgContextUsagePerTurn)
	}
}

func TestFold_DoesNotMutateInput(t *testing.T) {
	calc := NewCalculator(nil)
	turn := sampleTurn("t1", 10, 10)
	turn.ToolCalls = []ToolCall{{Name: "Read", Success: true}}
	tm := calc.ComputeTurn(turn)

	first := Fold(SessionMetrics{}, tm)
	_ = Fold(first, tm)

	if first.ToolBreakdown["Read"] != 1 {
		t.Errorf("input tool breakdown mutated: want 1, got %d", first.ToolBreakdown["Read"])
	}
	if first.ModelBreakdown[0].Turns != 1 {
		t.Errorf("input model breakdown mutated: want 1 turn, got %d", first.ModelBreakdown[0].Turns)
	}
}

func TestFold_PeaksNeverDecrease(t *testing.T) {
	calc := NewCalculator(nil)
	sizes := []int64{5000, 100, 9000, 1, 9000, 20}

	var sm SessionMetrics
	var prevPeak int64
	for i, n := range sizes {
		sm = Fold(sm, calc.ComputeTurn(sampleTurn(string(rune('a'+i)), n, 0)))
		if sm.PeakTokens < prevPeak {
			t.Fatalf("peak decreased at turn %d: %d -> %d", i, prevPeak, sm.PeakTokens)
		}
		prevPeak = sm.PeakTokens
	}
	if prevPeak != 9000 {
		t.Errorf("final peak: want 9000, got %d", prevPeak)
	}
}

func TestRecompute_MatchesTurnSum(t *testing.T) {
	calc := NewCalculator(nil)
	var tms []TurnMetrics
	var sum float64
	for i := 0; i < 50; i++ {
		turn := sampleTurn(string(rune('A'+i)), int64(137*i+11), int64(71*i+3))
		turn.Usage.CacheRead = int64(999 * i)
		turn.DurationMs = int64(100 * (i + 1))
		tm := calc.ComputeTurn(turn)
		tms = append(tms, tm)
		sum += tm.Cost.Total
	}

	sm := Recompute(tms)
	if sm.TotalTurns != 50 {
		t.Errorf("TotalTurns: want 50, got %d", sm.TotalTurns)
	}
	if !approxEqual(sm.TotalCost.Total, sum, 1e-6*50) {
		t.Errorf("total cost: want %v, got %v", sum, sm.TotalCost.Total)
	}
	if sm.DurationPercentiles.P50 != 2600 {
		t.Errorf("p50: want 2600, got %d", sm.DurationPercentiles.P50)
	}
	if sm.DurationPercentiles.P99 != 5000 {
		t.Errorf("p99: want 5000, got %d", sm.DurationPercentiles.P99)
	}
}

func TestRecompute_AvgContextIsTotalOverTurns(t *testing.T) {
	tms := make([]TurnMetrics, 300)
	var total float64
	for i := range tms {
		tms[i].ContextUsagePercent = float64(i%97)*0.37 + 0.013
		total += tms[i].ContextUsagePercent
	}

	sm := Recompute(tms)
	if sm.TotalContextUsage != total {
		t.Errorf("total context: want %v, got %v", total, sm.TotalContextUsage)
	}
	if want := total / 300; sm.AvgContextUsagePerTurn != want {
		t.Errorf("avg context: want %v, got %v", want, sm.AvgContextUsagePerTurn)
	}
}

func TestFold_SumsCostWithoutRounding(t *testing.T) {
	tm := TurnMetrics{Cost: pricing.CostBreakdown{Input: 4e-7, Total: 4e-7}}

	sm := Fold(Fold(Fold(SessionMetrics{}, tm), tm), tm)
	if !approxEqual(sm.TotalCost.Total, 1.2e-6, 1e-15) {
		t.Errorf("folded cost: want 1.2e-6, got %v", sm.TotalCost.Total)
	}

	// Recompute rounds the same sum once.
	rounded := Recompute([]TurnMetrics{tm, tm, tm})
	if rounded.TotalCost.Total != 1e-6 {
		t.Errorf("recomputed cost: want 1e-6, got %v", rounded.TotalCost.Total)
	}
	if rounded.ModelBreakdown[0].Cost.Total != 1e-6 {
		t.Errorf("model cost: want 1e-6, got %v", rounded.ModelBreakdown[0].Cost.Total)
	}
}

func TestRecompute_Empty(t *testing.T) {
	sm := Recompute(nil)
	if sm.TotalTurns != 0 || sm.AvgCostPerTurn != 0 || sm.CacheHitRate != 0 {
		t.Errorf("empty session metrics: got %+v", sm)
	}
	if sm.Efficiency.ToolSuccessRate != 100 {
		t.Errorf("empty tool success rate: want 100, got %v", sm.Efficiency.ToolSuccessRate)
	}
}

func TestRecompute_ModelBreakdownSortedByCost(t *testing.T) {
	calc := NewCalculator(nil)
	cheap := sampleTurn("t1", 1000, 1000)
	cheap.Model = "claude-haiku-4-5"
	pricey := sampleTurn("t2", 1000, 1000)
	pricey.Model = "claude-opus-4"
	cheap2 := cheap
	cheap2.ID = "t3"

	sm := Recompute([]TurnMetrics{calc.ComputeTurn(cheap), calc.ComputeTurn(pricey), calc.ComputeTurn(cheap2)})
	if len(sm.ModelBreakdown) != 2 {
		t.Fatalf("model breakdown: want 2 entries, got %d", len(sm.ModelBreakdown))
	}
	if sm.ModelBreakdown[0].Model != "claude-opus-4" {
		t.Errorf("first model: want claude-opus-4, got %q", sm.ModelBreakdown[0].Model)
	}
	if sm.ModelBreakdown[1].Turns != 2 {
		t.Errorf("haiku turns: want 2, got %d", sm.ModelBreakdown[1].Turns)
	}
}

func TestCacheHitRate(t *testing.T) {
	tests := []struct {
		name string
		in   TokenBreakdown
		want float64
	}{
		{"zero denominator", TokenBreakdown{}, 0},
		{"all cache", TokenBreakdown{CacheRead: 10}, 100},
		{"quarter", TokenBreakdown{Input: 30, CacheRead: 10}, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cacheHitRate(tt.in); !approxEqual(got, tt.want, 1e-9) {
				t.Errorf("want %v, got %v", tt.want, got)
			}
		})
	}
}
