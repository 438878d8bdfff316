// Package burnrate turns running spend totals into an hourly cost rate,
// token velocity and trend. Rates come from a rolling window of samples, so
// callers sample periodically (Run) or on demand (Compute).
package burnrate

import (
	"context"
	"sort"
	"sync"
	"time"
)

const (
	// windowDuration is the rolling window used for rate calculations.
	windowDuration = 5 * time.Minute

	// trendEpsilon is the hourly-rate difference below which the trend is
	// reported flat.
	trendEpsilon = 0.001
)

// Calculator computes burn rates from sampled totals. All methods are safe
// for concurrent use.
type Calculator struct {
	mu         sync.Mutex
	thresholds Thresholds
	samples    []sample
	last       BurnRate
}

// NewCalculator creates a new Calculator with the given color thresholds.
func NewCalculator(thresholds Thresholds) *Calculator {
	return &Calculator{
		thresholds: thresholds,
	}
}

// Compute samples src now and returns the resulting burn rate.
func (c *Calculator) Compute(src Totals) BurnRate {
	return c.ComputeWithTime(src, time.Now())
}

// ComputeWithTime is like Compute but records the sample at now.
func (c *Calculator) ComputeWithTime(src Totals, now time.Time) BurnRate {
	totalCost := src.TotalCost()
	totalTokens := src.TotalTokens()
	modelCosts := src.ModelCosts()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.samples = append(c.samples, sample{cost: totalCost, tokens: totalTokens, at: now})
	c.samples = prune(c.samples, now.Add(-2*windowDuration))

	var hourlyRate, tokenVelocity float64
	trend := TrendFlat
	if len(c.samples) > 1 {
		hourlyRate = c.rateSince(now.Add(-windowDuration), costOf) * 60
		tokenVelocity = c.rateSince(now.Add(-windowDuration), tokensOf)
		trend = c.trend(now)
	}

	br := BurnRate{
		TotalCost:         totalCost,
		TotalTokens:       totalTokens,
		HourlyRate:        hourlyRate,
		Trend:             trend,
		Color:             colorForRate(hourlyRate, c.thresholds),
		TokenVelocity:     tokenVelocity,
		PerModel:          computePerModel(modelCosts, totalCost, hourlyRate),
		DailyProjection:   hourlyRate * 24,
		MonthlyProjection: hourlyRate * 720,
	}
	c.last = br
	return br
}

// Last returns the most recently computed burn rate.
func (c *Calculator) Last() BurnRate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Run samples src every interval until ctx is cancelled.
func (c *Calculator) Run(ctx context.Context, src Totals, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.Compute(src)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Compute(src)
		}
	}
}

func costOf(s sample) float64   { return s.cost }
func tokensOf(s sample) float64 { return float64(s.tokens) }

// rateSince returns the per-minute rate of value over the window starting
// at windowStart. The last sample at or before windowStart is used as the
// baseline when one exists.
func (c *Calculator) rateSince(windowStart time.Time, value func(sample) float64) float64 {
	var start, latest *sample
	var baseline *sample
	for i := range c.samples {
		s := &c.samples[i]
		if !s.at.After(windowStart) {
			if baseline == nil || s.at.After(baseline.at) {
				baseline = s
			}
			continue
		}
		if start == nil || s.at.Before(start.at) {
			start = s
		}
		if latest == nil || s.at.After(latest.at) {
			latest = s
		}
	}
	if baseline != nil {
		start = baseline
	}
	return perMinute(start, latest, value)
}

// windowRate returns the per-minute rate of value between the first and
// last samples inside [from, to].
func (c *Calculator) windowRate(from, to time.Time, value func(sample) float64) float64 {
	var first, last *sample
	for i := range c.samples {
		s := &c.samples[i]
		if s.at.Before(from) || s.at.After(to) {
			continue
		}
		if first == nil || s.at.Before(first.at) {
			first = s
		}
		if last == nil || s.at.After(last.at) {
			last = s
		}
	}
	return perMinute(first, last, value)
}

func perMinute(from, to *sample, value func(sample) float64) float64 {
	if from == nil || to == nil || from == to {
		return 0
	}
	elapsed := to.at.Sub(from.at).Minutes()
	if elapsed <= 0 {
		return 0
	}
	diff := value(*to) - value(*from)
	if diff < 0 {
		// Totals went backwards (a session was removed): count from zero.
		diff = value(*to)
	}
	return diff / elapsed
}

// trend compares the cost rate of the current window against the one
// before it.
func (c *Calculator) trend(now time.Time) TrendDirection {
	currentStart := now.Add(-windowDuration)
	current := c.windowRate(currentStart, now, costOf) * 60
	prev := c.windowRate(now.Add(-2*windowDuration), currentStart, costOf) * 60

	if prev == 0 && current == 0 {
		return TrendFlat
	}
	diff := current - prev
	switch {
	case diff > trendEpsilon:
		return TrendUp
	case diff < -trendEpsilon:
		return TrendDown
	default:
		return TrendFlat
	}
}

// ColorForRate returns the display color for the given hourly rate
// based on the calculator's configured thresholds.
func (c *Calculator) ColorForRate(hourlyRate float64) RateColor {
	c.mu.Lock()
	defer c.mu.Unlock()

	return colorForRate(hourlyRate, c.thresholds)
}

func colorForRate(hourlyRate float64, t Thresholds) RateColor {
	switch {
	case hourlyRate < t.GreenBelow:
		return ColorGreen
	case hourlyRate < t.YellowBelow:
		return ColorYellow
	default:
		return ColorRed
	}
}

// prune drops samples older than cutoff in place.
func prune(samples []sample, cutoff time.Time) []sample {
	n := 0
	for _, s := range samples {
		if !s.at.Before(cutoff) {
			samples[n] = s
			n++
		}
	}
	return samples[:n]
}

// computePerModel splits the hourly rate across models in proportion to
// their share of total cost. Results are sorted by total cost descending.
func computePerModel(modelCosts map[string]float64, totalCost, hourlyRate float64) []ModelBurnRate {
	result := make([]ModelBurnRate, 0, len(modelCosts))
	for model, cost := range modelCosts {
		if model == "" {
			model = "unknown"
		}
		var modelHourly float64
		if totalCost > 0 {
			modelHourly = (cost / totalCost) * hourlyRate
		}
		result = append(result, ModelBurnRate{
			Model:      model,
			HourlyRate: modelHourly,
			TotalCost:  cost,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].TotalCost != result[j].TotalCost {
			return result[i].TotalCost > result[j].TotalCost
		}
		return result[i].Model < result[j].Model
	})
	return result
}
