package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApproxTokens(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(1), ApproxTokens(nil))
	assert.Equal(t, int64(1), ApproxTokens([]string{"ab"}))
	assert.Equal(t, int64(10), ApproxTokens([]string{"aaaaaaaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbbbbbbb"}))
}

func TestEstimateCost(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.02, EstimateCost("text-embedding-3-small", 1_000_000), 1e-12)
	assert.InDelta(t, 0.13, EstimateCost("text-embedding-3-large", 1_000_000), 1e-12)
	assert.Zero(t, EstimateCost("unknown-model", 1_000_000))
}

func TestUsage(t *testing.T) {
	t.Parallel()

	u := NewUsage()
	cost := u.Add("text-embedding-3-small", 500_000)
	assert.InDelta(t, 0.01, cost, 1e-12)
	u.Add("text-embedding-3-small", 500_000)
	u.Add("text-embedding-3-large", 1_000_000)
	u.Add("unknown-model", 42)

	snap := u.Snapshot()
	assert.Equal(t, int64(1_000_000), snap["text-embedding-3-small"].Tokens)
	assert.InDelta(t, 0.02, snap["text-embedding-3-small"].Dollars, 1e-12)
	assert.Equal(t, int64(42), snap["unknown-model"].Tokens)
	assert.Zero(t, snap["unknown-model"].Dollars)

	assert.InDelta(t, 0.15, u.TotalDollars(), 1e-12)

	// Snapshot is a copy, not a live view.
	snap["text-embedding-3-small"] = ModelUsage{}
	assert.Equal(t, int64(1_000_000), u.Snapshot()["text-embedding-3-small"].Tokens)
}
