package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/bible-rag-api/internal/config"
	"github.com/bible-rag-api/internal/models"
	"github.com/bible-rag-api/internal/repository"
)

// distanceTie is the tolerance under which two recall distances count as
// equal and the version priority decides.
const distanceTie = 1e-9

// QueryEmbedder produces the query vector for a given model, normally via the
// TTL'd query embedding cache.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text, model string) ([]float32, error)
}

// RetrieveParams is the input of one retrieval. Exactly one of Query or
// Vector must be set.
type RetrieveParams struct {
	Query      string
	Vector     []float32
	TopK       int
	Versions   []string
	BookID     *int64
	Chapter    *int
	ChapterEnd *int
}

// RetrieveResult carries the ranked hits, stage timings, and whether any
// best-effort stage degraded to a fallback ranking.
type RetrieveResult struct {
	Hits     []models.Hit
	Timing   models.Timing
	Degraded bool
}

// RetrievalEngine ranks verses for a query: ANN recall over small embeddings,
// cross-translation dedupe, optional large-model rerank with MMR
// diversification, and optional lexical fusion. Stages after recall are
// best-effort; their failures fall back to the distance-sorted ranking.
type RetrievalEngine struct {
	repo    repository.VerseSearchRepository
	queries QueryEmbedder
	cfg     config.RetrievalConfig
}

// NewRetrievalEngine creates a retrieval engine with an immutable config.
func NewRetrievalEngine(repo repository.VerseSearchRepository, queries QueryEmbedder, cfg config.RetrievalConfig) *RetrievalEngine {
	return &RetrievalEngine{repo: repo, queries: queries, cfg: cfg}
}

// candidate is the per-retrieval working record for one deduped verse.
type candidate struct {
	row         repository.CandidateRow
	similarity  float64
	simLarge    float64
	hasSimLarge bool
	lexRank     float64
	lexNorm     float64
	final       float64
	hasLex      bool
}

// Retrieve runs the full ranking pipeline.
func (e *RetrievalEngine) Retrieve(ctx context.Context, p RetrieveParams) (*RetrieveResult, error) {
	if p.TopK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive", ErrInvalidInput)
	}
	hasQuery := strings.TrimSpace(p.Query) != ""
	hasVector := len(p.Vector) > 0
	if hasQuery == hasVector {
		return nil, fmt.Errorf("%w: exactly one of query or vector is required", ErrInvalidInput)
	}

	// Stage 1: query vectorization.
	var queryVec []float32
	if hasVector {
		if len(p.Vector) < e.cfg.DimSmall {
			return nil, fmt.Errorf("%w: vector has dim %d, need at least %d", ErrInvalidInput, len(p.Vector), e.cfg.DimSmall)
		}
		queryVec = truncateVector(p.Vector, e.cfg.DimSmall)
	} else {
		vec, err := e.queries.EmbedQuery(ctx, p.Query, e.cfg.ModelSmall)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		queryVec = vec
	}

	// Stage 2: candidate retrieval.
	filters := repository.Filters{
		Versions:   p.Versions,
		BookID:     p.BookID,
		Chapter:    p.Chapter,
		ChapterEnd: p.ChapterEnd,
	}
	if len(filters.Versions) == 0 {
		filters.Versions = e.cfg.AllowedVersions
	}
	fetchLimit := e.cfg.PoolSize
	if fetchLimit <= 0 {
		fetchLimit = p.TopK * 3
		if min := p.TopK + 10; fetchLimit < min {
			fetchLimit = min
		}
	}

	result := &RetrieveResult{}
	dbStart := time.Now()
	rows, err := e.repo.KNNCandidates(ctx, queryVec, filters, fetchLimit)
	result.Timing.DB = time.Since(dbStart).Seconds()
	if err != nil {
		return nil, &BackendError{Op: "knn candidates", Err: err}
	}

	// Stage 3: cross-translation dedupe.
	candidates := e.dedupe(rows)

	// Stage 4: optional large-model rerank.
	reranked := false
	var largeVecs map[int64][]float32
	if e.cfg.UseRerank && len(candidates) > 0 {
		rerankStart := time.Now()
		reranked, largeVecs = e.rerank(ctx, p, hasQuery, candidates, result)
		secs := time.Since(rerankStart).Seconds()
		result.Timing.Rerank = &secs
	}

	// Stage 5: optional MMR diversification over the reranked pool.
	ranked := candidates
	if reranked && e.cfg.UseMMR {
		ranked = mmrSelect(candidates, largeVecs, e.cfg.MMRLambda, p.TopK)
	}

	// Stage 6: truncate. Without rerank the pool is already distance-sorted.
	hits := ranked
	if len(hits) > p.TopK {
		hits = hits[:p.TopK]
	}

	// Stage 7: optional lexical hybrid fusion over the full deduped pool.
	if e.cfg.UseHybrid && hasQuery && len(candidates) > 0 {
		hybridStart := time.Now()
		if fused, ok := e.hybridFuse(ctx, p, filters, fetchLimit, candidates, result); ok {
			hits = fused
			if len(hits) > p.TopK {
				hits = hits[:p.TopK]
			}
		}
		secs := time.Since(hybridStart).Seconds()
		result.Timing.Hybrid = &secs
	}

	result.Hits = serializeHits(hits)
	return result, nil
}

// dedupe keeps one candidate per canonical reference: smaller distance wins,
// numerical ties go to the higher-priority translation. The survivors come
// back sorted ascending by distance with the same tie-break.
func (e *RetrievalEngine) dedupe(rows []repository.CandidateRow) []*candidate {
	rank := make(map[string]int, len(e.cfg.VersionPriority))
	for i, code := range e.cfg.VersionPriority {
		rank[code] = i
	}
	versionRank := func(code string) int {
		if r, ok := rank[code]; ok {
			return r
		}
		return len(e.cfg.VersionPriority)
	}

	best := make(map[models.Ref]*candidate, len(rows))
	for _, row := range rows {
		ref := models.Ref{BookID: row.BookID, Chapter: row.Chapter, Number: row.Number}
		c := &candidate{row: row, similarity: 1 / (1 + row.Distance)}
		cur, ok := best[ref]
		if !ok {
			best[ref] = c
			continue
		}
		delta := row.Distance - cur.row.Distance
		if delta < -distanceTie {
			best[ref] = c
		} else if math.Abs(delta) < distanceTie && versionRank(row.VersionCode) < versionRank(cur.row.VersionCode) {
			best[ref] = c
		}
	}

	out := make([]*candidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if math.Abs(a.row.Distance-b.row.Distance) < distanceTie {
			ra, rb := versionRank(a.row.VersionCode), versionRank(b.row.VersionCode)
			if ra != rb {
				return ra < rb
			}
			return a.row.VerseID < b.row.VerseID
		}
		return a.row.Distance < b.row.Distance
	})
	return out
}

// rerank scores candidates by cosine similarity of large embeddings and
// reorders them in place. Returns false (leaving the recall order intact)
// when the stage skipped or degraded; degradation also flips result.Degraded.
func (e *RetrievalEngine) rerank(ctx context.Context, p RetrieveParams, hasQuery bool, candidates []*candidate, result *RetrieveResult) (bool, map[int64][]float32) {
	// A caller-supplied vector of large-model size doubles as the rerank
	// vector by truncation. Reusing a recall vector this way is allowed but
	// degrades rerank quality.
	var queryLarge []float32
	switch {
	case len(p.Vector) >= 1024:
		queryLarge = truncateVector(p.Vector, e.cfg.DimLarge)
	case hasQuery:
		vec, err := e.queries.EmbedQuery(ctx, p.Query, e.cfg.ModelLarge)
		if err != nil {
			result.Degraded = true
			return false, nil
		}
		queryLarge = vec
	default:
		return false, nil
	}

	ids := make([]int64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.row.VerseID
	}
	largeVecs, err := e.repo.FetchLarge(ctx, ids)
	if err != nil {
		result.Degraded = true
		return false, nil
	}

	for _, c := range candidates {
		c.hasSimLarge = true
		if vec, ok := largeVecs[c.row.VerseID]; ok {
			c.simLarge = cosineSimilarity(queryLarge, vec)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.simLarge != b.simLarge {
			return a.simLarge > b.simLarge
		}
		return a.row.Distance < b.row.Distance
	})
	return true, largeVecs
}

// mmrSelect greedily picks candidates balancing query relevance against
// similarity to what is already selected:
// score = lambda*simQuery - (1-lambda)*max(sim to selected).
func mmrSelect(pool []*candidate, largeVecs map[int64][]float32, lambda float64, topK int) []*candidate {
	remaining := append([]*candidate(nil), pool...)
	selected := make([]*candidate, 0, topK)

	for len(selected) < topK && len(remaining) > 0 {
		bestIdx := 0
		bestScore := math.Inf(-1)
		for i, c := range remaining {
			maxSim := 0.0
			cv := largeVecs[c.row.VerseID]
			for _, s := range selected {
				sim := cosineSimilarity(cv, largeVecs[s.row.VerseID])
				if sim > maxSim {
					maxSim = sim
				}
			}
			score := lambda*c.simLarge - (1-lambda)*maxSim
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

// hybridFuse blends dense similarity with normalized lexical rank over the
// full deduped pool and returns the fused ranking. ok is false when the
// lexical query failed and the previous ranking stands.
func (e *RetrievalEngine) hybridFuse(ctx context.Context, p RetrieveParams, filters repository.Filters, fetchLimit int, candidates []*candidate, result *RetrieveResult) ([]*candidate, bool) {
	lexRows, err := e.repo.LexicalCandidates(ctx, p.Query, filters, fetchLimit)
	if err != nil {
		result.Degraded = true
		return nil, false
	}

	lexByRef := make(map[models.Ref]float64, len(lexRows))
	maxLex := 0.0
	for _, l := range lexRows {
		ref := models.Ref{BookID: l.BookID, Chapter: l.Chapter, Number: l.Number}
		if l.Rank > lexByRef[ref] {
			lexByRef[ref] = l.Rank
		}
		if l.Rank > maxLex {
			maxLex = l.Rank
		}
	}

	alpha := e.cfg.HybridAlpha
	fused := append([]*candidate(nil), candidates...)
	for _, c := range fused {
		ref := models.Ref{BookID: c.row.BookID, Chapter: c.row.Chapter, Number: c.row.Number}
		c.lexRank = lexByRef[ref]
		if maxLex > 0 {
			c.lexNorm = c.lexRank / maxLex
		}
		c.final = alpha*c.similarity + (1-alpha)*c.lexNorm
		c.hasLex = true
	}
	sort.SliceStable(fused, func(i, j int) bool {
		a, b := fused[i], fused[j]
		if a.final != b.final {
			return a.final > b.final
		}
		return a.row.Distance < b.row.Distance
	})
	return fused, true
}

func serializeHits(cands []*candidate) []models.Hit {
	hits := make([]models.Hit, len(cands))
	for i, c := range cands {
		hit := models.Hit{
			VerseID:    c.row.VerseID,
			BookID:     c.row.BookID,
			Chapter:    c.row.Chapter,
			Number:     c.row.Number,
			Text:       c.row.Text,
			Version:    c.row.VersionCode,
			Osis:       c.row.OsisCode,
			Ref:        models.FormatRef(c.row.OsisCode, c.row.Chapter, c.row.Number),
			Score:      c.row.Distance,
			Similarity: c.similarity,
		}
		if c.hasSimLarge {
			v := c.simLarge
			hit.SimilarityLarge = &v
		}
		if c.hasLex {
			lr, ln, fin := c.lexRank, c.lexNorm, c.final
			hit.LexRank = &lr
			hit.LexNorm = &ln
			hit.Final = &fin
		}
		hits[i] = hit
	}
	return hits
}
