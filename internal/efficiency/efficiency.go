// Package efficiency scores how well a turn or session used the cache, its
// tools and its context window.
package efficiency

import "math"

// Composite weights. They sum to 1.
const (
	CacheWeight   = 1.0 / 3
	ToolWeight    = 1.0 / 3
	ContextWeight = 1.0 / 3
)

// Inputs are the raw counters a score is derived from.
type Inputs struct {
	InputTokens         int64
	OutputTokens        int64
	CacheCreationTokens int64
	CacheReadTokens     int64
	ToolCalls           int
	SuccessfulToolCalls int
	LinesChanged        int
}

// Components is the scored result. Percentages are in [0, 100];
// CodeOutputRatio is lines changed per thousand tokens and is unbounded.
type Components struct {
	CacheUtilization  float64 `json:"cacheUtilization"`
	CodeOutputRatio   float64 `json:"codeOutputRatio"`
	ToolSuccessRate   float64 `json:"toolSuccessRate"`
	ContextEfficiency float64 `json:"contextEfficiency"`
	CompositeScore    float64 `json:"compositeScore"`
}

// Score computes all components. Every ratio has an explicit zero-denominator
// fallback so the result is defined for any non-negative input.
func Score(in Inputs) Components {
	var c Components

	if denom := in.InputTokens + in.CacheReadTokens; denom > 0 {
		c.CacheUtilization = clamp(float64(in.CacheReadTokens) / float64(denom) * 100)
	}

	// No tool calls means no failures.
	c.ToolSuccessRate = 100
	if in.ToolCalls > 0 {
		c.ToolSuccessRate = clamp(float64(in.SuccessfulToolCalls) / float64(in.ToolCalls) * 100)
	}

	if consumed := in.InputTokens + in.CacheCreationTokens + in.CacheReadTokens; consumed > 0 {
		c.ContextEfficiency = clamp(float64(in.OutputTokens) / float64(consumed) * 100)
	}

	total := in.InputTokens + in.OutputTokens + in.CacheCreationTokens + in.CacheReadTokens
	if total > 0 && in.LinesChanged > 0 {
		c.CodeOutputRatio = float64(in.LinesChanged) / float64(total) * 1000
	}

	c.CompositeScore = clamp(c.CacheUtilization*CacheWeight +
		c.ToolSuccessRate*ToolWeight +
		c.ContextEfficiency*ContextWeight)

	return c
}

// Rounded returns the composite score rounded to an integer for display.
func (c Components) Rounded() int {
	return int(math.Round(c.CompositeScore))
}

// Grade is a display band for a composite score.
type Grade string

const (
	GradeExcellent        Grade = "Excellent"
	GradeGood             Grade = "Good"
	GradeFair             Grade = "Fair"
	GradeNeedsImprovement Grade = "Needs Improvement"
)

// GradeFor maps a composite score to its band.
func GradeFor(score float64) Grade {
	switch {
	case score >= 80:
		return GradeExcellent
	case score >= 60:
		return GradeGood
	case score >= 40:
		return GradeFair
	default:
		return GradeNeedsImprovement
	}
}

// Grade returns the band of the composite score.
func (c Components) Grade() Grade {
	return GradeFor(c.CompositeScore)
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
