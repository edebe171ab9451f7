package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/bible-rag-api/internal/models"
	"github.com/bible-rag-api/internal/repository"
)

// writableColumns is the set of columns the embedding upsert may touch.
var writableColumns = map[string]bool{
	models.ColTextHash:       true,
	models.ColProvider:       true,
	models.ColModelNameSmall: true,
	models.ColDimSmall:       true,
	models.ColEmbeddingSmall: true,
	models.ColModelNameLarge: true,
	models.ColDimLarge:       true,
	models.ColEmbeddingLarge: true,
}

// EmbeddingStore implements repository.IngestStore for PostgreSQL.
type EmbeddingStore struct {
	db *sqlx.DB
}

// NewEmbeddingStore creates a new PostgreSQL embedding store.
func NewEmbeddingStore(db *sqlx.DB) repository.IngestStore {
	return &EmbeddingStore{db: db}
}

// Verses lists verses of the given translations in canonical order.
func (s *EmbeddingStore) Verses(ctx context.Context, versions []string, limit int) ([]models.Verse, error) {
	query := `
		SELECT v.id AS verse_id, v.book_id, v.chapter, v.number, v.text, v.version_code, b.osis_code
		FROM verses v
		JOIN books b ON b.id = v.book_id
		WHERE v.version_code = ANY($1)
		ORDER BY b.canonical_order, v.chapter, v.number`
	args := []interface{}{pq.Array(versions)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list verses: %w", err)
	}
	defer rows.Close()

	var verses []models.Verse
	for rows.Next() {
		var v models.Verse
		if err := rows.StructScan(&v); err != nil {
			return nil, fmt.Errorf("scan verse: %w", err)
		}
		verses = append(verses, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verses: %w", err)
	}

	if verses == nil {
		verses = []models.Verse{}
	}
	return verses, nil
}

// Embeddings loads existing embedding rows keyed by verse id.
func (s *EmbeddingStore) Embeddings(ctx context.Context, verseIDs []int64) (map[int64]*models.VerseEmbedding, error) {
	out := make(map[int64]*models.VerseEmbedding, len(verseIDs))
	if len(verseIDs) == 0 {
		return out, nil
	}

	rows, err := s.db.QueryxContext(ctx, `
		SELECT verse_id, version_code, text_hash, provider,
		       model_name_small, dim_small, embedding_small::text AS embedding_small_text,
		       model_name_large, dim_large, embedding_large::text AS embedding_large_text,
		       created_at, updated_at
		FROM verse_embeddings
		WHERE verse_id = ANY($1)
	`, pq.Array(verseIDs))
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e models.VerseEmbedding
		var smallText, largeText sql.NullString
		if err := rows.Scan(&e.VerseID, &e.VersionCode, &e.TextHash, &e.Provider,
			&e.ModelNameSmall, &e.DimSmall, &smallText,
			&e.ModelNameLarge, &e.DimLarge, &largeText,
			&e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan embedding row: %w", err)
		}
		if smallText.Valid {
			vec, err := parseVector(smallText.String)
			if err != nil {
				return nil, fmt.Errorf("parse small embedding for verse %d: %w", e.VerseID, err)
			}
			e.EmbeddingSmall = vec
		}
		if largeText.Valid {
			vec, err := parseVector(largeText.String)
			if err != nil {
				return nil, fmt.Errorf("parse large embedding for verse %d: %w", e.VerseID, err)
			}
			e.EmbeddingLarge = vec
		}
		out[e.VerseID] = &e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embedding rows: %w", err)
	}
	return out, nil
}

// SaveEmbeddings upserts all changed rows inside a single transaction,
// writing only the columns named in each change set. Rows never compete on
// verse_id within one batch, so plain ON CONFLICT upserts are safe.
func (s *EmbeddingStore) SaveEmbeddings(ctx context.Context, changes []models.EmbeddingChange) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin embedding tx: %w", err)
	}
	defer tx.Rollback()

	for _, ch := range changes {
		if len(ch.Columns) == 0 {
			continue
		}
		query, args, err := buildUpsert(ch)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert embedding for verse %d: %w", ch.Row.VerseID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit embedding tx: %w", err)
	}
	return nil
}

func buildUpsert(ch models.EmbeddingChange) (string, []interface{}, error) {
	cols := []string{"verse_id", "version_code"}
	args := []interface{}{ch.Row.VerseID, ch.Row.VersionCode}

	for _, col := range ch.Columns {
		if !writableColumns[col] {
			return "", nil, fmt.Errorf("unknown embedding column %q", col)
		}
		val, err := columnValue(ch.Row, col)
		if err != nil {
			return "", nil, err
		}
		cols = append(cols, col)
		args = append(args, val)
	}

	var insertCols, placeholders, updates string
	for i, col := range cols {
		if i > 0 {
			insertCols += ", "
			placeholders += ", "
		}
		insertCols += col
		placeholder := fmt.Sprintf("$%d", i+1)
		if col == models.ColEmbeddingSmall || col == models.ColEmbeddingLarge {
			placeholder += "::vector"
		}
		placeholders += placeholder
		if i >= 2 {
			if updates != "" {
				updates += ", "
			}
			updates += fmt.Sprintf("%s = EXCLUDED.%s", col, col)
		}
	}

	query := fmt.Sprintf(`
		INSERT INTO verse_embeddings (%s, created_at, updated_at)
		VALUES (%s, now(), now())
		ON CONFLICT (verse_id) DO UPDATE SET %s, updated_at = now()
	`, insertCols, placeholders, updates)
	return query, args, nil
}

func columnValue(row *models.VerseEmbedding, col string) (interface{}, error) {
	switch col {
	case models.ColTextHash:
		return row.TextHash, nil
	case models.ColProvider:
		return row.Provider, nil
	case models.ColModelNameSmall:
		return row.ModelNameSmall, nil
	case models.ColDimSmall:
		return row.DimSmall, nil
	case models.ColEmbeddingSmall:
		if row.EmbeddingSmall == nil {
			return nil, nil
		}
		return pgvector.NewVector(row.EmbeddingSmall), nil
	case models.ColModelNameLarge:
		return row.ModelNameLarge, nil
	case models.ColDimLarge:
		return row.DimLarge, nil
	case models.ColEmbeddingLarge:
		if row.EmbeddingLarge == nil {
			return nil, nil
		}
		return pgvector.NewVector(row.EmbeddingLarge), nil
	}
	return nil, fmt.Errorf("unknown embedding column %q", col)
}
