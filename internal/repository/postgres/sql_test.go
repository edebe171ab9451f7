package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bible-rag-api/internal/models"
	"github.com/bible-rag-api/internal/repository"
)

func TestAppendFilters(t *testing.T) {
	t.Parallel()

	base := "SELECT 1 WHERE true"
	baseArgs := []interface{}{"vec"}

	t.Run("no filters", func(t *testing.T) {
		t.Parallel()
		query, args := appendFilters(base, baseArgs, repository.Filters{})
		assert.Equal(t, base, query)
		assert.Len(t, args, 1)
	})

	t.Run("versions only", func(t *testing.T) {
		t.Parallel()
		query, args := appendFilters(base, baseArgs, repository.Filters{Versions: []string{"PT_NAA"}})
		assert.Contains(t, query, "v.version_code = ANY($2)")
		assert.Len(t, args, 2)
	})

	t.Run("chapter range", func(t *testing.T) {
		t.Parallel()
		bookID := int64(19)
		ch, chEnd := 23, 25
		query, args := appendFilters(base, baseArgs, repository.Filters{
			Versions:   []string{"PT_NAA"},
			BookID:     &bookID,
			Chapter:    &ch,
			ChapterEnd: &chEnd,
		})
		assert.Contains(t, query, "v.version_code = ANY($2)")
		assert.Contains(t, query, "v.book_id = $3")
		assert.Contains(t, query, "v.chapter BETWEEN $4 AND $5")
		assert.Len(t, args, 5)
	})

	t.Run("single chapter", func(t *testing.T) {
		t.Parallel()
		ch := 23
		query, args := appendFilters(base, baseArgs, repository.Filters{Chapter: &ch})
		assert.Contains(t, query, "v.chapter = $2")
		assert.NotContains(t, query, "BETWEEN")
		assert.Len(t, args, 2)
	})

	t.Run("chapter_end without chapter is ignored", func(t *testing.T) {
		t.Parallel()
		chEnd := 25
		query, args := appendFilters(base, baseArgs, repository.Filters{ChapterEnd: &chEnd})
		assert.Equal(t, base, query)
		assert.Len(t, args, 1)
	})
}

func TestBuildUpsert(t *testing.T) {
	t.Parallel()

	row := &models.VerseEmbedding{
		VerseID:        42,
		VersionCode:    "PT_NAA",
		TextHash:       "abc",
		ModelNameSmall: "text-embedding-3-small",
		DimSmall:       1536,
		EmbeddingSmall: []float32{0.1, 0.2},
	}

	t.Run("writes only the named columns", func(t *testing.T) {
		t.Parallel()
		query, args, err := buildUpsert(models.EmbeddingChange{
			Row:     row,
			Columns: []string{models.ColEmbeddingSmall, models.ColDimSmall, models.ColModelNameSmall, models.ColTextHash},
		})
		require.NoError(t, err)

		assert.Contains(t, query, "ON CONFLICT (verse_id) DO UPDATE SET")
		assert.Contains(t, query, "embedding_small = EXCLUDED.embedding_small")
		assert.Contains(t, query, "text_hash = EXCLUDED.text_hash")
		assert.Contains(t, query, "updated_at = now()")
		assert.NotContains(t, query, "embedding_large")
		// The vector placeholder carries the cast.
		assert.Contains(t, query, "$3::vector")
		assert.Len(t, args, 6)
	})

	t.Run("key columns never appear in the update set", func(t *testing.T) {
		t.Parallel()
		query, _, err := buildUpsert(models.EmbeddingChange{
			Row:     row,
			Columns: []string{models.ColTextHash},
		})
		require.NoError(t, err)
		assert.NotContains(t, query, "verse_id = EXCLUDED")
		assert.NotContains(t, query, "version_code = EXCLUDED")
	})

	t.Run("unknown column rejected", func(t *testing.T) {
		t.Parallel()
		_, _, err := buildUpsert(models.EmbeddingChange{
			Row:     row,
			Columns: []string{"created_at"},
		})
		assert.Error(t, err)
	})
}

func TestParseVector(t *testing.T) {
	t.Parallel()

	vec, err := parseVector("[0.1,0.2,-0.3]")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, -0.3}, vec)

	vec, err = parseVector("[1, 2, 3]")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vec)

	_, err = parseVector("[]")
	assert.Error(t, err)

	_, err = parseVector("[0.1,abc]")
	assert.Error(t, err)
}
