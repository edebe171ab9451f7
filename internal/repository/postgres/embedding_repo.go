package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/bible-rag-api/internal/repository"
)

// VerseSearchRepository implements repository.VerseSearchRepository for
// PostgreSQL with pgvector.
type VerseSearchRepository struct {
	db *sqlx.DB
}

// NewVerseSearchRepository creates a new PostgreSQL verse search repository.
func NewVerseSearchRepository(db *sqlx.DB) repository.VerseSearchRepository {
	return &VerseSearchRepository{db: db}
}

// appendFilters extends the WHERE clause with the bound filter parameters.
// The query vector stays a bound parameter as well; nothing from the caller
// is ever interpolated into SQL text.
func appendFilters(query string, args []interface{}, f repository.Filters) (string, []interface{}) {
	if len(f.Versions) > 0 {
		query += fmt.Sprintf(" AND v.version_code = ANY($%d)", len(args)+1)
		args = append(args, pq.Array(f.Versions))
	}
	if f.BookID != nil {
		query += fmt.Sprintf(" AND v.book_id = $%d", len(args)+1)
		args = append(args, *f.BookID)
	}
	if f.Chapter != nil {
		if f.ChapterEnd != nil {
			query += fmt.Sprintf(" AND v.chapter BETWEEN $%d AND $%d", len(args)+1, len(args)+2)
			args = append(args, *f.Chapter, *f.ChapterEnd)
		} else {
			query += fmt.Sprintf(" AND v.chapter = $%d", len(args)+1)
			args = append(args, *f.Chapter)
		}
	}
	return query, args
}

// KNNCandidates selects candidate verses ordered by ascending cosine distance
// between embedding_small and the query vector.
func (r *VerseSearchRepository) KNNCandidates(ctx context.Context, queryVec []float32, f repository.Filters, fetchLimit int) ([]repository.CandidateRow, error) {
	query := `
		SELECT ve.verse_id, v.book_id, v.chapter, v.number, v.text, v.version_code, b.osis_code,
		       (ve.embedding_small <=> $1::vector) AS distance
		FROM verse_embeddings ve
		JOIN verses v ON v.id = ve.verse_id
		JOIN books b ON b.id = v.book_id
		WHERE ve.embedding_small IS NOT NULL`
	args := []interface{}{pgvector.NewVector(queryVec)}

	query, args = appendFilters(query, args, f)

	query += fmt.Sprintf(" ORDER BY ve.embedding_small <=> $1::vector LIMIT $%d", len(args)+1)
	args = append(args, fetchLimit)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("knn candidates: %w", err)
	}
	defer rows.Close()

	var results []repository.CandidateRow
	for rows.Next() {
		var c repository.CandidateRow
		if err := rows.StructScan(&c); err != nil {
			return nil, fmt.Errorf("scan candidate row: %w", err)
		}
		results = append(results, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidate rows: %w", err)
	}

	if results == nil {
		results = []repository.CandidateRow{}
	}
	return results, nil
}

// FetchLarge bulk-loads large embeddings for the rerank stage.
func (r *VerseSearchRepository) FetchLarge(ctx context.Context, verseIDs []int64) (map[int64][]float32, error) {
	out := make(map[int64][]float32, len(verseIDs))
	if len(verseIDs) == 0 {
		return out, nil
	}

	rows, err := r.db.QueryxContext(ctx, `
		SELECT verse_id, embedding_large
		FROM verse_embeddings
		WHERE verse_id = ANY($1) AND embedding_large IS NOT NULL
	`, pq.Array(verseIDs))
	if err != nil {
		return nil, fmt.Errorf("fetch large embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var vec pgvector.Vector
		if err := rows.Scan(&id, &vec); err != nil {
			return nil, fmt.Errorf("scan large embedding: %w", err)
		}
		out[id] = vec.Slice()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate large embeddings: %w", err)
	}
	return out, nil
}

// LexicalCandidates ranks verses by full-text match under the simple
// configuration (no stemming), descending by rank.
func (r *VerseSearchRepository) LexicalCandidates(ctx context.Context, queryText string, f repository.Filters, fetchLimit int) ([]repository.LexicalRow, error) {
	query := `
		SELECT v.book_id, v.chapter, v.number,
		       ts_rank(to_tsvector('simple', v.text), plainto_tsquery('simple', $1)) AS rank
		FROM verses v
		WHERE to_tsvector('simple', v.text) @@ plainto_tsquery('simple', $1)`
	args := []interface{}{queryText}

	query, args = appendFilters(query, args, f)

	query += fmt.Sprintf(" ORDER BY rank DESC LIMIT $%d", len(args)+1)
	args = append(args, fetchLimit)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lexical candidates: %w", err)
	}
	defer rows.Close()

	var results []repository.LexicalRow
	for rows.Next() {
		var l repository.LexicalRow
		if err := rows.StructScan(&l); err != nil {
			return nil, fmt.Errorf("scan lexical row: %w", err)
		}
		results = append(results, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lexical rows: %w", err)
	}

	if results == nil {
		results = []repository.LexicalRow{}
	}
	return results, nil
}

// parseVector parses a pgvector text representation like "[0.1,0.2,0.3]".
func parseVector(text string) ([]float32, error) {
	text = strings.TrimPrefix(text, "[")
	text = strings.TrimSuffix(text, "]")
	if text == "" {
		return nil, fmt.Errorf("empty embedding")
	}

	parts := strings.Split(text, ",")
	result := make([]float32, len(parts))
	for i, p := range parts {
		var val float32
		if _, err := fmt.Sscanf(strings.TrimSpace(p), "%f", &val); err != nil {
			return nil, fmt.Errorf("parse float at position %d: %w", i, err)
		}
		result[i] = val
	}
	return result, nil
}
