// Package metrics derives per-turn and per-session metrics from raw turns.
// Every function here is pure: no locks, no I/O, no clocks.
package metrics

import (
	"sort"

	"github.com/barkain/ironhide/internal/efficiency"
	"github.com/barkain/ironhide/internal/pricing"
)

// Calculator computes turn metrics against a pricing table.
type Calculator struct {
	table *pricing.Table
}

// NewCalculator creates a Calculator. A nil table selects the built-in
// pricing.
func NewCalculator(table *pricing.Table) *Calculator {
	if table == nil {
		table = pricing.DefaultTable()
	}
	return &Calculator{table: table}
}

// Pricing returns the table the calculator prices turns with.
func (c *Calculator) Pricing() *pricing.Table {
	return c.table
}

// ComputeTurn derives the metrics of a single turn. Negative token counts
// are treated as zero.
func (c *Calculator) ComputeTurn(t Turn) TurnMetrics {
	usage := nonNegative(t.Usage)
	p := c.table.Lookup(t.Model)

	tm := TurnMetrics{
		TurnID:      t.ID,
		TurnNumber:  t.TurnNumber,
		Timestamp:   t.Timestamp,
		Model:       t.Model,
		Tokens:      breakdownOf(usage),
		Cost:        pricing.Aggregate(c.table.Cost(usage, t.Model)),
		DurationMs:  max(t.DurationMs, 0),
		ToolCount:   len(t.ToolCalls),
		CodeChanges: t.CodeChanges,
	}

	if p.MaxContextTokens > 0 {
		tm.ContextUsagePercent = clampPercent(float64(usage.ContextConsumed()) / float64(p.MaxContextTokens) * 100)
	}

	if len(t.ToolCalls) > 0 {
		tm.ToolBreakdown = make(map[string]int, len(t.ToolCalls))
		for _, call := range t.ToolCalls {
			tm.ToolBreakdown[call.Name]++
			if call.Success {
				tm.ToolSuccesses++
			}
		}
	}

	tm.Efficiency = efficiency.Score(efficiency.Inputs{
		InputTokens:         usage.Input,
		OutputTokens:        usage.Output,
		CacheCreationTokens: usage.CacheCreation,
		CacheReadTokens:     usage.CacheRead,
		ToolCalls:           tm.ToolCount,
		SuccessfulToolCalls: tm.ToolSuccesses,
		LinesChanged:        t.CodeChanges.LinesChanged(),
	})

	return tm
}

// Fold adds one turn to a session aggregate and returns the result. Averages
// are recomputed from the new totals, peaks only ever grow, and efficiency is
// rescored from the whole-session counters. Costs are summed unrounded;
// Recompute rounds them once. DurationPercentiles need every turn and are
// left to Recompute.
func Fold(sm SessionMetrics, tm TurnMetrics) SessionMetrics {
	out := sm.Clone()
	out.TotalTurns++
	out.TotalDurationMs += tm.DurationMs
	out.TotalTokens = sm.TotalTokens.add(tm.Tokens)
	out.TotalCost = sm.TotalCost.Add(tm.Cost)
	out.TotalContextUsage += tm.ContextUsagePercent
	out.TotalCodeChanges = sm.TotalCodeChanges.add(tm.CodeChanges)
	out.TotalToolUses += tm.ToolCount
	out.SuccessfulToolUses += tm.ToolSuccesses

	if len(tm.ToolBreakdown) > 0 {
		if out.ToolBreakdown == nil {
			out.ToolBreakdown = make(map[string]int, len(tm.ToolBreakdown))
		}
		for name, n := range tm.ToolBreakdown {
			out.ToolBreakdown[name] += n
		}
	}

	n := float64(out.TotalTurns)
	out.AvgCostPerTurn = out.TotalCost.Total / n
	out.AvgTokensPerTurn = float64(out.TotalTokens.Total) / n
	out.AvgDurationMsPerTurn = float64(out.TotalDurationMs) / n
	out.AvgContextUsagePerTurn = out.TotalContextUsage / n

	out.PeakTokens = max(sm.PeakTokens, tm.Tokens.Total)
	out.PeakCost = max(sm.PeakCost, tm.Cost.Total)
	out.PeakDurationMs = max(sm.PeakDurationMs, tm.DurationMs)
	out.PeakContextUsage = max(sm.PeakContextUsage, tm.ContextUsagePercent)

	out.CacheHitRate = cacheHitRate(out.TotalTokens)
	out.Efficiency = efficiency.Score(efficiency.Inputs{
		InputTokens:         out.TotalTokens.Input,
		OutputTokens:        out.TotalTokens.Output,
		CacheCreationTokens: out.TotalTokens.CacheCreation,
		CacheReadTokens:     out.TotalTokens.CacheRead,
		ToolCalls:           out.TotalToolUses,
		SuccessfulToolCalls: out.SuccessfulToolUses,
		LinesChanged:        out.TotalCodeChanges.LinesChanged(),
	})

	out.ModelBreakdown = foldModel(out.ModelBreakdown, tm)
	return out
}

// Recompute builds a session aggregate from scratch. The cost total is
// rounded once over all turns, and percentiles are computed over every
// turn duration.
func Recompute(tms []TurnMetrics) SessionMetrics {
	var sm SessionMetrics
	if len(tms) == 0 {
		sm.Efficiency = efficiency.Score(efficiency.Inputs{})
		return sm
	}

	costs := make([]pricing.CostBreakdown, 0, len(tms))
	durations := make([]int64, 0, len(tms))
	for _, tm := range tms {
		sm = Fold(sm, tm)
		costs = append(costs, tm.Cost)
		durations = append(durations, tm.DurationMs)
	}

	sm.TotalCost = pricing.Aggregate(costs...)
	sm.AvgCostPerTurn = sm.TotalCost.Total / float64(sm.TotalTurns)
	for i := range sm.ModelBreakdown {
		sm.ModelBreakdown[i].Cost = pricing.Aggregate(sm.ModelBreakdown[i].Cost)
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	sm.DurationPercentiles = DurationPercentiles{
		P50: percentile(durations, 0.50),
		P95: percentile(durations, 0.95),
		P99: percentile(durations, 0.99),
	}
	return sm
}

// foldModel adds tm to the per-model breakdown and keeps it sorted by cost
// descending, then by model name.
func foldModel(models []ModelUsage, tm TurnMetrics) []ModelUsage {
	name := tm.Model
	if name == "" {
		name = "unknown"
	}

	found := false
	for i := range models {
		if models[i].Model == name {
			models[i].Turns++
			models[i].Tokens = models[i].Tokens.add(tm.Tokens)
			models[i].Cost = models[i].Cost.Add(tm.Cost)
			found = true
			break
		}
	}
	if !found {
		models = append(models, ModelUsage{
			Model:  name,
			Turns:  1,
			Tokens: tm.Tokens,
			Cost:   tm.Cost,
		})
	}

	sort.SliceStable(models, func(i, j int) bool {
		if models[i].Cost.Total != models[j].Cost.Total {
			return models[i].Cost.Total > models[j].Cost.Total
		}
		return models[i].Model < models[j].Model
	})
	return models
}

func cacheHitRate(t TokenBreakdown) float64 {
	denom := t.Input + t.CacheRead
	if denom == 0 {
		return 0
	}
	return float64(t.CacheRead) / float64(denom) * 100
}

// percentile returns the value at the given percentile (0-1) using the
// nearest-rank method. The input must be sorted.
func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func nonNegative(u pricing.TokenUsage) pricing.TokenUsage {
	return pricing.TokenUsage{
		Input:         max(u.Input, 0),
		Output:        max(u.Output, 0),
		CacheCreation: max(u.CacheCreation, 0),
		CacheRead:     max(u.CacheRead, 0),
	}
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
