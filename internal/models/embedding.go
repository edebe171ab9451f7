package models

import "time"

// Verse is the read-only verse row consumed by the ingestion pipeline. The
// same canonical reference (BookID, Chapter, Number) exists once per
// translation, each occurrence with its own VerseID.
type Verse struct {
	VerseID     int64  `db:"verse_id"`
	BookID      int64  `db:"book_id"`
	Chapter     int    `db:"chapter"`
	Number      int    `db:"number"`
	Text        string `db:"text"`
	VersionCode string `db:"version_code"`
	OsisCode    string `db:"osis_code"`
}

// VerseEmbedding is one row of the verse_embeddings table: the small (recall)
// and large (rerank) vectors for a single verse, plus the provenance needed to
// decide whether they are stale. A nil vector means the column is NULL.
type VerseEmbedding struct {
	VerseID        int64     `db:"verse_id"`
	VersionCode    string    `db:"version_code"`
	TextHash       string    `db:"text_hash"`
	Provider       string    `db:"provider"`
	ModelNameSmall string    `db:"model_name_small"`
	DimSmall       int       `db:"dim_small"`
	EmbeddingSmall []float32 `db:"-"`
	ModelNameLarge string    `db:"model_name_large"`
	DimLarge       int       `db:"dim_large"`
	EmbeddingLarge []float32 `db:"-"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// Column names accepted by the embedding upsert change sets.
const (
	ColTextHash       = "text_hash"
	ColProvider       = "provider"
	ColModelNameSmall = "model_name_small"
	ColDimSmall       = "dim_small"
	ColEmbeddingSmall = "embedding_small"
	ColModelNameLarge = "model_name_large"
	ColDimLarge       = "dim_large"
	ColEmbeddingLarge = "embedding_large"
)

// EmbeddingChange pairs a row with the minimal set of columns to persist.
// Rows with an empty change set must not be written at all, so that a
// no-op ingestion run leaves updated_at untouched.
type EmbeddingChange struct {
	Row     *VerseEmbedding
	Columns []string
}
