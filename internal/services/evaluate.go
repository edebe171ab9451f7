package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bible-rag-api/internal/models"
)

// Evaluate runs a batch of text queries through the engine and aggregates
// latency statistics plus coverage (fraction of queries with at least one
// hit). Individual query failures are reported per-entry, not fatal.
func (e *RetrievalEngine) Evaluate(ctx context.Context, req models.EvaluateRequest) (*models.EvaluateResponse, error) {
	if len(req.Queries) == 0 {
		return nil, fmt.Errorf("%w: queries must not be empty", ErrInvalidInput)
	}
	k := req.K
	if k <= 0 {
		k = 10
	}

	resp := &models.EvaluateResponse{
		Results: make([]models.EvaluateQueryResult, 0, len(req.Queries)),
	}
	latencies := make([]float64, 0, len(req.Queries))
	covered := 0

	for _, q := range req.Queries {
		start := time.Now()
		res, err := e.Retrieve(ctx, RetrieveParams{
			Query:    q,
			TopK:     k,
			Versions: req.Versions,
		})
		elapsed := float64(time.Since(start).Microseconds()) / 1000

		entry := models.EvaluateQueryResult{Query: q, LatencyMS: elapsed}
		if err != nil {
			entry.Error = err.Error()
			entry.Hits = []models.Hit{}
		} else {
			entry.Hits = res.Hits
			if len(res.Hits) > 0 {
				covered++
			}
		}
		latencies = append(latencies, elapsed)
		resp.Results = append(resp.Results, entry)
	}

	resp.MedianMS = percentile(latencies, 0.5)
	resp.P95MS = percentile(latencies, 0.95)
	resp.Coverage = float64(covered) / float64(len(req.Queries))
	return resp, nil
}

// percentile returns the nearest-rank percentile of the samples.
func percentile(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted))*p+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
