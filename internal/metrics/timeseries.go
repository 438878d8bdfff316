package metrics

import (
	"iter"
	"sort"
	"time"

	"github.com/barkain/ironhide/internal/pricing"
)

// DefaultBucketWidth is used when a non-positive width is requested.
const DefaultBucketWidth = time.Minute

// DefaultMaxBuckets bounds a dense series when SeriesOptions.MaxBuckets is
// unset.
const DefaultMaxBuckets = 10_000

// Bucket aggregates the turns whose timestamps fall in [Start, Start+width).
type Bucket struct {
	Start           time.Time      `json:"start"`
	Turns           int            `json:"turns"`
	Tokens          TokenBreakdown `json:"tokens"`
	Cost            float64        `json:"cost"`
	DurationMs      int64          `json:"durationMs"`
	AvgContextUsage float64        `json:"avgContextUsage"`
}

// SeriesOptions controls gap handling. With Dense set, every bucket between
// Start and End (defaulting to the first and last populated buckets) is
// yielded, empty or not, up to MaxBuckets.
type SeriesOptions struct {
	Dense      bool
	Start      time.Time
	End        time.Time
	MaxBuckets int
}

func (o SeriesOptions) maxBuckets() int {
	if o.MaxBuckets > 0 {
		return o.MaxBuckets
	}
	return DefaultMaxBuckets
}

// denseRange returns the first and last bucket starts of a dense series.
func denseRange(tms []TurnMetrics, width time.Duration, opts SeriesOptions) (first, last time.Time, ok bool) {
	for i, tm := range tms {
		start := tm.Timestamp.UTC().Truncate(width)
		if i == 0 || start.Before(first) {
			first = start
		}
		if i == 0 || start.After(last) {
			last = start
		}
	}
	if !opts.Start.IsZero() {
		first = opts.Start.UTC().Truncate(width)
	}
	if !opts.End.IsZero() {
		last = opts.End.UTC().Truncate(width)
	}
	if first.IsZero() || last.Before(first) {
		return time.Time{}, time.Time{}, false
	}
	return first, last, true
}

// DenseBucketCount returns how many buckets a dense series over tms would
// hold without a cap. Callers use it to reject oversized requests.
func DenseBucketCount(tms []TurnMetrics, width time.Duration, opts SeriesOptions) int64 {
	if width <= 0 {
		width = DefaultBucketWidth
	}
	first, last, ok := denseRange(tms, width, opts)
	if !ok {
		return 0
	}
	return int64(last.Sub(first)/width) + 1
}

// TimeSeries groups turn metrics into fixed-width buckets in ascending order.
// The sequence is computed on each iteration, so it can be ranged over any
// number of times and always yields the same buckets.
func TimeSeries(tms []TurnMetrics, width time.Duration, opts SeriesOptions) iter.Seq[Bucket] {
	if width <= 0 {
		width = DefaultBucketWidth
	}
	return func(yield func(Bucket) bool) {
		type acc struct {
			b          Bucket
			contextSum float64
			costs      []pricing.CostBreakdown
		}

		byStart := make(map[int64]*acc)
		for _, tm := range tms {
			start := tm.Timestamp.UTC().Truncate(width)
			key := start.UnixNano()
			a, ok := byStart[key]
			if !ok {
				a = &acc{b: Bucket{Start: start}}
				byStart[key] = a
			}
			a.b.Turns++
			a.b.Tokens = a.b.Tokens.add(tm.Tokens)
			a.b.DurationMs += tm.DurationMs
			a.contextSum += tm.ContextUsagePercent
			a.costs = append(a.costs, tm.Cost)
		}

		keys := make([]int64, 0, len(byStart))
		for k := range byStart {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		finish := func(a *acc) Bucket {
			b := a.b
			b.Cost = pricing.Aggregate(a.costs...).Total
			if b.Turns > 0 {
				b.AvgContextUsage = a.contextSum / float64(b.Turns)
			}
			return b
		}

		if !opts.Dense {
			for _, k := range keys {
				if !yield(finish(byStart[k])) {
					return
				}
			}
			return
		}

		first, last, ok := denseRange(tms, width, opts)
		if !ok {
			return
		}

		limit := opts.maxBuckets()
		for t, n := first, 0; !t.After(last) && n < limit; t, n = t.Add(width), n+1 {
			b := Bucket{Start: t}
			if a, ok := byStart[t.UnixNano()]; ok {
				b = finish(a)
			}
			if !yield(b) {
				return
			}
		}
	}
}
