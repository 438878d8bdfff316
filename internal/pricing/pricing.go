// Package pricing holds per-model token prices and turns token usage into
// itemised USD costs.
package pricing

import (
	"math"
	"sort"
	"strings"
)

// DefaultContextTokens is the context window assumed for models without an
// explicit limit.
const DefaultContextTokens = 200_000

// ModelPricing holds per-million-token pricing for a model.
type ModelPricing struct {
	InputPerMillion         float64 `json:"inputPerMillion"`
	OutputPerMillion        float64 `json:"outputPerMillion"`
	CacheCreationPerMillion float64 `json:"cacheCreationPerMillion"`
	CacheReadPerMillion     float64 `json:"cacheReadPerMillion"`
	MaxContextTokens        int     `json:"maxContextTokens"`
}

// TokenUsage is the raw token count of a single turn, split by category.
type TokenUsage struct {
	Input         int64 `json:"input"`
	Output        int64 `json:"output"`
	CacheCreation int64 `json:"cacheCreation"`
	CacheRead     int64 `json:"cacheRead"`
}

// Total returns the sum of all four categories.
func (u TokenUsage) Total() int64 {
	return u.Input + u.Output + u.CacheCreation + u.CacheRead
}

// ContextConsumed returns the tokens that occupied the context window.
func (u TokenUsage) ContextConsumed() int64 {
	return u.Input + u.CacheCreation + u.CacheRead
}

// CostBreakdown is an itemised USD cost. Total is the sum of the four
// components.
type CostBreakdown struct {
	Input         float64 `json:"input"`
	Output        float64 `json:"output"`
	CacheCreation float64 `json:"cacheCreation"`
	CacheRead     float64 `json:"cacheRead"`
	Total         float64 `json:"total"`
}

// Table maps model ids to pricing. It is read-only after construction and
// safe for concurrent use.
type Table struct {
	models       map[string]ModelPricing
	defaultModel string
}

// DefaultModel is the model whose pricing applies to unrecognised ids.
const DefaultModel = "claude-sonnet-4"

// DefaultTable returns the built-in pricing. Cache writes cost 125% of the
// input rate and cache reads 10%.
func DefaultTable() *Table {
	return NewTable(map[string]ModelPricing{
		"claude-opus-4":     {InputPerMillion: 15.0, OutputPerMillion: 75.0, CacheCreationPerMillion: 18.75, CacheReadPerMillion: 1.50, MaxContextTokens: 200_000},
		"claude-opus-4-5":   {InputPerMillion: 5.0, OutputPerMillion: 25.0, CacheCreationPerMillion: 6.25, CacheReadPerMillion: 0.50, MaxContextTokens: 200_000},
		"claude-sonnet-4":   {InputPerMillion: 3.0, OutputPerMillion: 15.0, CacheCreationPerMillion: 3.75, CacheReadPerMillion: 0.30, MaxContextTokens: 200_000},
		"claude-sonnet-4-5": {InputPerMillion: 3.0, OutputPerMillion: 15.0, CacheCreationPerMillion: 3.75, CacheReadPerMillion: 0.30, MaxContextTokens: 200_000},
		"claude-haiku-4-5":  {InputPerMillion: 1.0, OutputPerMillion: 5.0, CacheCreationPerMillion: 1.25, CacheReadPerMillion: 0.10, MaxContextTokens: 200_000},
		"claude-3-5-haiku":  {InputPerMillion: 0.80, OutputPerMillion: 4.0, CacheCreationPerMillion: 1.0, CacheReadPerMillion: 0.08, MaxContextTokens: 200_000},
	}, DefaultModel)
}

// NewTable builds a table from the given entries. defaultModel must be a key
// of models; if it is not, the sonnet tier is used as the fallback.
func NewTable(models map[string]ModelPricing, defaultModel string) *Table {
	t := &Table{
		models:       make(map[string]ModelPricing, len(models)+1),
		defaultModel: defaultModel,
	}
	for k, v := range models {
		if v.MaxContextTokens <= 0 {
			v.MaxContextTokens = DefaultContextTokens
		}
		t.models[k] = v
	}
	if _, ok := t.models[defaultModel]; !ok {
		t.models[defaultModel] = ModelPricing{
			InputPerMillion:         3.0,
			OutputPerMillion:        15.0,
			CacheCreationPerMillion: 3.75,
			CacheReadPerMillion:     0.30,
			MaxContextTokens:        DefaultContextTokens,
		}
	}
	return t
}

// WithOverrides returns a copy of t with prices and context limits merged in.
// Price arrays are ordered [input, output, cacheRead, cacheCreation], all
// per million tokens. A context limit for a model with no pricing entry
// inherits the pricing the model currently resolves to.
func (t *Table) WithOverrides(prices map[string][4]float64, contexts map[string]int) *Table {
	out := &Table{
		models:       make(map[string]ModelPricing, len(t.models)+len(prices)),
		defaultModel: t.defaultModel,
	}
	for k, v := range t.models {
		out.models[k] = v
	}
	for model, p := range prices {
		mp := t.Lookup(model)
		mp.InputPerMillion = p[0]
		mp.OutputPerMillion = p[1]
		mp.CacheReadPerMillion = p[2]
		mp.CacheCreationPerMillion = p[3]
		out.models[model] = mp
	}
	for model, limit := range contexts {
		if limit <= 0 {
			continue
		}
		mp := out.Lookup(model)
		mp.MaxContextTokens = limit
		out.models[model] = mp
	}
	return out
}

// Lookup returns the pricing for model. It tries an exact match, then the
// longest key that prefixes model, then the default model. It never fails.
func (t *Table) Lookup(model string) ModelPricing {
	if p, ok := t.models[model]; ok {
		return p
	}
	bestKey := ""
	for key := range t.models {
		if strings.HasPrefix(model, key) && len(key) > len(bestKey) {
			bestKey = key
		}
	}
	if bestKey != "" {
		return t.models[bestKey]
	}
	return t.models[t.defaultModel]
}

// Models returns the configured model ids in sorted order.
func (t *Table) Models() []string {
	ids := make([]string, 0, len(t.models))
	for k := range t.models {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	return ids
}

// Cost prices each token category independently. The result is not rounded;
// rounding happens once in Aggregate.
func (t *Table) Cost(usage TokenUsage, model string) CostBreakdown {
	p := t.Lookup(model)
	c := CostBreakdown{
		Input:         float64(usage.Input) * p.InputPerMillion / 1_000_000,
		Output:        float64(usage.Output) * p.OutputPerMillion / 1_000_000,
		CacheCreation: float64(usage.CacheCreation) * p.CacheCreationPerMillion / 1_000_000,
		CacheRead:     float64(usage.CacheRead) * p.CacheReadPerMillion / 1_000_000,
	}
	c.Total = c.Input + c.Output + c.CacheCreation + c.CacheRead
	return c
}

// Aggregate sums breakdowns component-wise and rounds every component to
// six decimal places. Order of the arguments does not matter.
func Aggregate(costs ...CostBreakdown) CostBreakdown {
	var sum CostBreakdown
	for _, c := range costs {
		sum.Input += c.Input
		sum.Output += c.Output
		sum.CacheCreation += c.CacheCreation
		sum.CacheRead += c.CacheRead
		sum.Total += c.Total
	}
	return CostBreakdown{
		Input:         Round6(sum.Input),
		Output:        Round6(sum.Output),
		CacheCreation: Round6(sum.CacheCreation),
		CacheRead:     Round6(sum.CacheRead),
		Total:         Round6(sum.Total),
	}
}

// Add sums c and o component-wise without rounding.
func (c CostBreakdown) Add(o CostBreakdown) CostBreakdown {
	return CostBreakdown{
		Input:         c.Input + o.Input,
		Output:        c.Output + o.Output,
		CacheCreation: c.CacheCreation + o.CacheCreation,
		CacheRead:     c.CacheRead + o.CacheRead,
		Total:         c.Total + o.Total,
	}
}

// Round6 rounds x to six decimal places.
func Round6(x float64) float64 {
	return math.Round(x*1e6) / 1e6
}
