package repository

import (
	"context"

	"github.com/bible-rag-api/internal/models"
)

// Filters narrow a candidate query to specific translations, one book, and a
// chapter or chapter range. Nil pointers mean no filter.
type Filters struct {
	Versions   []string
	BookID     *int64
	Chapter    *int
	ChapterEnd *int
}

// CandidateRow is one row of the recall stage: a verse joined to its small
// embedding distance against the query vector.
type CandidateRow struct {
	VerseID     int64   `db:"verse_id"`
	BookID      int64   `db:"book_id"`
	Chapter     int     `db:"chapter"`
	Number      int     `db:"number"`
	Text        string  `db:"text"`
	VersionCode string  `db:"version_code"`
	OsisCode    string  `db:"osis_code"`
	Distance    float64 `db:"distance"`
}

// LexicalRow is one row of the full-text stage, keyed by canonical reference.
type LexicalRow struct {
	BookID  int64   `db:"book_id"`
	Chapter int     `db:"chapter"`
	Number  int     `db:"number"`
	Rank    float64 `db:"rank"`
}

// VerseSearchRepository is the online read path of the retrieval engine.
type VerseSearchRepository interface {
	// KNNCandidates returns up to fetchLimit verses ordered by ascending
	// cosine distance between embedding_small and the query vector,
	// excluding rows without a small embedding.
	KNNCandidates(ctx context.Context, queryVec []float32, f Filters, fetchLimit int) ([]CandidateRow, error)

	// FetchLarge bulk-loads the large embeddings for the given verse ids.
	// Verses without a large embedding are absent from the map.
	FetchLarge(ctx context.Context, verseIDs []int64) (map[int64][]float32, error)

	// LexicalCandidates ranks verses by full-text match against the query
	// under the simple (no stemming) configuration, descending by rank.
	LexicalCandidates(ctx context.Context, query string, f Filters, fetchLimit int) ([]LexicalRow, error)
}

// IngestStore is the ingestion pipeline's view of the database. SaveEmbeddings
// persists one batch inside a single transaction.
type IngestStore interface {
	// Verses lists verses of the given translations ordered by canonical
	// book order, chapter, number. limit 0 means all.
	Verses(ctx context.Context, versions []string, limit int) ([]models.Verse, error)

	// Embeddings loads existing embedding rows for the given verse ids.
	Embeddings(ctx context.Context, verseIDs []int64) (map[int64]*models.VerseEmbedding, error)

	// SaveEmbeddings upserts the changed rows transactionally, writing only
	// the columns named in each change set.
	SaveEmbeddings(ctx context.Context, changes []models.EmbeddingChange) error
}
