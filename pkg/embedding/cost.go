package embedding

import "sync"

// pricePerMillionTokens is the static USD price table per embedding model.
var pricePerMillionTokens = map[string]float64{
	"text-embedding-3-small": 0.02,
	"text-embedding-3-large": 0.13,
	"text-embedding-ada-002": 0.10,
}

// EstimateCost returns the USD cost of a token count under a model without
// recording it anywhere. Unknown models cost zero.
func EstimateCost(model string, tokens int64) float64 {
	return float64(tokens) / 1_000_000 * pricePerMillionTokens[model]
}

// ModelUsage is the accumulated token and dollar spend for one model.
type ModelUsage struct {
	Tokens  int64   `json:"tokens"`
	Dollars float64 `json:"dollars"`
}

// Usage accumulates approximate token counts and cost per model across a run.
// Safe for concurrent use.
type Usage struct {
	mu     sync.Mutex
	models map[string]ModelUsage
}

// NewUsage creates an empty usage accumulator.
func NewUsage() *Usage {
	return &Usage{models: make(map[string]ModelUsage)}
}

// Add records tokens against a model and returns the dollar cost of this
// increment. Unknown models accrue tokens at zero cost.
func (u *Usage) Add(model string, tokens int64) float64 {
	cost := float64(tokens) / 1_000_000 * pricePerMillionTokens[model]
	u.mu.Lock()
	defer u.mu.Unlock()
	m := u.models[model]
	m.Tokens += tokens
	m.Dollars += cost
	u.models[model] = m
	return cost
}

// Snapshot returns a copy of the per-model totals.
func (u *Usage) Snapshot() map[string]ModelUsage {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make(map[string]ModelUsage, len(u.models))
	for k, v := range u.models {
		out[k] = v
	}
	return out
}

// TotalDollars returns the summed cost across all models.
func (u *Usage) TotalDollars() float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	var total float64
	for _, v := range u.models {
		total += v.Dollars
	}
	return total
}
