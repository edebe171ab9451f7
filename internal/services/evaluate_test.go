package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bible-rag-api/internal/models"
	"github.com/bible-rag-api/internal/repository"
)

// embedderByText fails for configured query texts and answers the rest.
type embedderByText struct {
	vec      []float32
	failText string
}

func (f *embedderByText) EmbedQuery(ctx context.Context, text, model string) ([]float32, error) {
	if text == f.failText {
		return nil, errors.New("provider unavailable")
	}
	return f.vec, nil
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{knnRows: []repository.CandidateRow{
		row(1, 1, 1, 1, "PT_NAA", 0.1),
		row(2, 1, 1, 2, "PT_NAA", 0.2),
	}}
	engine := NewRetrievalEngine(repo, &embedderByText{vec: []float32{1, 0, 0}}, baseConfig())

	t.Run("empty queries rejected", func(t *testing.T) {
		t.Parallel()
		_, err := engine.Evaluate(context.Background(), models.EvaluateRequest{})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("aggregates latency and coverage", func(t *testing.T) {
		t.Parallel()
		resp, err := engine.Evaluate(context.Background(), models.EvaluateRequest{
			Queries: []string{"shepherd", "light of the world", "living water"},
			K:       2,
		})
		require.NoError(t, err)
		require.Len(t, resp.Results, 3)
		for _, r := range resp.Results {
			assert.Empty(t, r.Error)
			assert.Len(t, r.Hits, 2)
			assert.GreaterOrEqual(t, r.LatencyMS, 0.0)
		}
		assert.Equal(t, 1.0, resp.Coverage)
		assert.GreaterOrEqual(t, resp.P95MS, resp.MedianMS)
	})

	t.Run("per-query failures are not fatal", func(t *testing.T) {
		t.Parallel()
		failing := NewRetrievalEngine(repo, &embedderByText{vec: []float32{1, 0, 0}, failText: "bad query"}, baseConfig())
		resp, err := failing.Evaluate(context.Background(), models.EvaluateRequest{
			Queries: []string{"shepherd", "bad query"},
		})
		require.NoError(t, err)
		require.Len(t, resp.Results, 2)
		assert.Empty(t, resp.Results[0].Error)
		assert.NotEmpty(t, resp.Results[1].Error)
		assert.Empty(t, resp.Results[1].Hits)
		assert.Equal(t, 0.5, resp.Coverage)
	})

	t.Run("k defaults to 10", func(t *testing.T) {
		t.Parallel()
		resp, err := engine.Evaluate(context.Background(), models.EvaluateRequest{Queries: []string{"shepherd"}})
		require.NoError(t, err)
		// Only two verses exist, so the default k just caps the pool.
		assert.Len(t, resp.Results[0].Hits, 2)
	})
}

func TestPercentile(t *testing.T) {
	t.Parallel()

	samples := []float64{10, 20, 30, 40, 50}
	assert.Equal(t, 30.0, percentile(samples, 0.5))
	assert.Equal(t, 50.0, percentile(samples, 0.95))
	assert.Equal(t, 10.0, percentile([]float64{10}, 0.5))
	assert.Zero(t, percentile(nil, 0.5))
}
