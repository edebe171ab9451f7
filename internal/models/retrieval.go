package models

import "fmt"

// Ref is a canonical verse reference, independent of translation.
type Ref struct {
	BookID  int64
	Chapter int
	Number  int
}

// Hit is one retrieval result as returned to clients. Score carries the raw
// cosine distance of the recall stage; Similarity is 1/(1+distance). The
// pointer fields are populated only when the corresponding stage ran.
type Hit struct {
	VerseID         int64    `json:"verse_id"`
	BookID          int64    `json:"book_id"`
	Chapter         int      `json:"chapter"`
	Number          int      `json:"number"`
	Text            string   `json:"text"`
	Version         string   `json:"version"`
	Osis            string   `json:"osis"`
	Ref             string   `json:"ref"`
	Score           float64  `json:"score"`
	Similarity      float64  `json:"similarity"`
	SimilarityLarge *float64 `json:"similarity_large,omitempty"`
	LexRank         *float64 `json:"lex_rank,omitempty"`
	LexNorm         *float64 `json:"lex_norm,omitempty"`
	Final           *float64 `json:"final,omitempty"`
}

// FormatRef renders the human-readable reference, e.g. "Ps 23:1".
func FormatRef(osis string, chapter, number int) string {
	return fmt.Sprintf("%s %d:%d", osis, chapter, number)
}

// Timing reports per-stage wall-clock seconds for one retrieval.
type Timing struct {
	DB     float64  `json:"db"`
	Rerank *float64 `json:"rerank,omitempty"`
	Hybrid *float64 `json:"hybrid,omitempty"`
}

// RetrieveResponse is the payload of GET /rag/retrieve.
type RetrieveResponse struct {
	Hits   []Hit  `json:"hits"`
	Timing Timing `json:"timing"`
}

// EvaluateRequest is the payload of POST /rag/evaluate.
type EvaluateRequest struct {
	Queries  []string `json:"queries"`
	K        int      `json:"k"`
	Versions []string `json:"versions"`
}

// EvaluateQueryResult holds the hits and latency for a single evaluated query.
type EvaluateQueryResult struct {
	Query     string  `json:"query"`
	Hits      []Hit   `json:"hits"`
	LatencyMS float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

// EvaluateResponse aggregates per-query results with latency statistics.
// Coverage is the fraction of queries that returned at least one hit.
type EvaluateResponse struct {
	Results  []EvaluateQueryResult `json:"results"`
	MedianMS float64               `json:"median_ms"`
	P95MS    float64               `json:"p95_ms"`
	Coverage float64               `json:"coverage"`
}
