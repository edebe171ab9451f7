package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bible-rag-api/internal/models"
)

// fakeStore keeps verses and embedding rows in memory and records saves.
type fakeStore struct {
	verses     []models.Verse
	embeddings map[int64]*models.VerseEmbedding

	saveCalls   int
	savedRows   int
	embedErr    error
	embedErrIdx int // fail only the Nth Embeddings call, -1 = never
	embedCalls  int
}

func newFakeStore(verses ...models.Verse) *fakeStore {
	return &fakeStore{
		verses:      verses,
		embeddings:  make(map[int64]*models.VerseEmbedding),
		embedErrIdx: -1,
	}
}

func (s *fakeStore) Verses(ctx context.Context, versions []string, limit int) ([]models.Verse, error) {
	out := s.verses
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) Embeddings(ctx context.Context, verseIDs []int64) (map[int64]*models.VerseEmbedding, error) {
	s.embedCalls++
	if s.embedErr != nil && (s.embedErrIdx < 0 || s.embedErrIdx == s.embedCalls-1) {
		return nil, s.embedErr
	}
	out := make(map[int64]*models.VerseEmbedding)
	for _, id := range verseIDs {
		if row, ok := s.embeddings[id]; ok {
			copied := *row
			out[id] = &copied
		}
	}
	return out, nil
}

func (s *fakeStore) SaveEmbeddings(ctx context.Context, changes []models.EmbeddingChange) error {
	s.saveCalls++
	s.savedRows += len(changes)
	for _, ch := range changes {
		copied := *ch.Row
		s.embeddings[ch.Row.VerseID] = &copied
	}
	return nil
}

// countingEmbedder returns fixed-size vectors and counts calls per model.
type countingEmbedder struct {
	dims  map[string]int
	calls map[string]int
	err   error
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{
		dims:  map[string]int{"small-model": 4, "large-model": 8},
		calls: make(map[string]int),
	}
}

func (e *countingEmbedder) Embed(ctx context.Context, texts []string, model string) ([][]float32, int, error) {
	e.calls[model]++
	if e.err != nil {
		return nil, 0, e.err
	}
	dim := e.dims[model]
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, dim)
		vec[0] = float32(i + 1)
		vectors[i] = vec
	}
	return vectors, dim, nil
}

func verse(id int64, text string) models.Verse {
	return models.Verse{
		VerseID:     id,
		BookID:      19,
		Chapter:     23,
		Number:      int(id),
		Text:        text,
		VersionCode: "PT_NAA",
		OsisCode:    "Ps",
	}
}

func defaultOpts() Options {
	return Options{
		Versions:   []string{"PT_NAA"},
		ModelSmall: "small-model",
		ModelLarge: "large-model",
		Provider:   "openai",
	}
}

func TestOptionsValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{"valid", func(o *Options) {}, false},
		{"no versions", func(o *Options) { o.Versions = nil }, true},
		{"only-missing with overwrite", func(o *Options) { o.OnlyMissing = true; o.Overwrite = true }, true},
		{"small-only with large-only", func(o *Options) { o.SmallOnly = true; o.LargeOnly = true }, true},
		{"missing small model", func(o *Options) { o.ModelSmall = "" }, true},
		{"missing large model tolerated when small-only", func(o *Options) { o.SmallOnly = true; o.ModelLarge = "" }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			opts := defaultOpts()
			tc.mutate(&opts)
			err := opts.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalizeAndHash(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "The LORD is my shepherd", NormalizeText("  The   LORD\tis my\n shepherd "))
	// No case folding: different casing yields a different hash.
	assert.NotEqual(t, HashText(NormalizeText("The LORD")), HashText(NormalizeText("the lord")))
	assert.Equal(t, HashText("abc"), HashText("abc"))
	assert.Len(t, HashText("abc"), 64)
}

func TestRun_FirstRunEmbedsEverything(t *testing.T) {
	t.Parallel()

	store := newFakeStore(verse(1, "one"), verse(2, "two"), verse(3, "three"))
	embedder := newCountingEmbedder()
	orch, err := New(store, embedder, nil, defaultOpts())
	require.NoError(t, err)

	sum, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Verses)
	assert.Equal(t, 1, sum.Batches)
	assert.Zero(t, sum.FailedBatches)
	assert.Equal(t, 3, sum.EmbeddedSmall)
	assert.Equal(t, 3, sum.EmbeddedLarge)
	assert.Zero(t, sum.Skipped)
	assert.Equal(t, 1, store.saveCalls)
	assert.Equal(t, 3, store.savedRows)

	saved := store.embeddings[1]
	require.NotNil(t, saved)
	assert.Equal(t, "small-model", saved.ModelNameSmall)
	assert.Equal(t, 4, saved.DimSmall)
	assert.Equal(t, 8, saved.DimLarge)
	assert.Equal(t, "openai", saved.Provider)
	assert.Equal(t, HashText("one"), saved.TextHash)
	assert.NotNil(t, saved.EmbeddingSmall)
	assert.NotNil(t, saved.EmbeddingLarge)
}

func TestRun_SecondRunIsNoop(t *testing.T) {
	t.Parallel()

	store := newFakeStore(verse(1, "one"), verse(2, "two"))
	embedder := newCountingEmbedder()
	orch, err := New(store, embedder, nil, defaultOpts())
	require.NoError(t, err)

	_, err = orch.Run(context.Background())
	require.NoError(t, err)
	firstSaves := store.saveCalls
	firstSmallCalls := embedder.calls["small-model"]

	sum, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Skipped)
	assert.Zero(t, sum.EmbeddedSmall)
	assert.Zero(t, sum.EmbeddedLarge)
	assert.Equal(t, firstSaves, store.saveCalls, "no-op run must not write")
	assert.Equal(t, firstSmallCalls, embedder.calls["small-model"], "no-op run must not call the provider")
}

func TestRun_TextChangeReembedsBothTracks(t *testing.T) {
	t.Parallel()

	store := newFakeStore(verse(1, "one"))
	embedder := newCountingEmbedder()
	orch, err := New(store, embedder, nil, defaultOpts())
	require.NoError(t, err)
	_, err = orch.Run(context.Background())
	require.NoError(t, err)

	store.verses = []models.Verse{verse(1, "one corrected")}
	sum, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.EmbeddedSmall)
	assert.Equal(t, 1, sum.EmbeddedLarge)
	assert.Equal(t, HashText("one corrected"), store.embeddings[1].TextHash)
}

func TestRun_ModelChangeReembedsOneTrack(t *testing.T) {
	t.Parallel()

	store := newFakeStore(verse(1, "one"))
	embedder := newCountingEmbedder()
	orch, err := New(store, embedder, nil, defaultOpts())
	require.NoError(t, err)
	_, err = orch.Run(context.Background())
	require.NoError(t, err)

	opts := defaultOpts()
	opts.ModelSmall = "small-model-v2"
	embedder.dims["small-model-v2"] = 4
	orch2, err := New(store, embedder, nil, opts)
	require.NoError(t, err)

	sum, err := orch2.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.EmbeddedSmall)
	assert.Zero(t, sum.EmbeddedLarge, "unchanged large track must not re-embed")
	assert.Equal(t, "small-model-v2", store.embeddings[1].ModelNameSmall)
}

func TestRun_OnlyMissing(t *testing.T) {
	t.Parallel()

	store := newFakeStore(verse(1, "one"), verse(2, "two"))
	store.embeddings[1] = &models.VerseEmbedding{
		VerseID:        1,
		TextHash:       "stale-hash",
		ModelNameSmall: "old-model",
		EmbeddingSmall: []float32{1, 2, 3, 4},
	}

	opts := defaultOpts()
	opts.OnlyMissing = true
	orch, err := New(store, newCountingEmbedder(), nil, opts)
	require.NoError(t, err)

	sum, err := orch.Run(context.Background())
	require.NoError(t, err)

	// Verse 1 already has a small vector and is skipped despite its stale
	// hash and model; verse 2 is embedded.
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.EmbeddedSmall)
	assert.Equal(t, "stale-hash", store.embeddings[1].TextHash)
}

func TestRun_Overwrite(t *testing.T) {
	t.Parallel()

	store := newFakeStore(verse(1, "one"))
	embedder := newCountingEmbedder()
	orch, err := New(store, embedder, nil, defaultOpts())
	require.NoError(t, err)
	_, err = orch.Run(context.Background())
	require.NoError(t, err)

	opts := defaultOpts()
	opts.Overwrite = true
	orch2, err := New(store, embedder, nil, opts)
	require.NoError(t, err)

	sum, err := orch2.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.EmbeddedSmall)
	assert.Equal(t, 1, sum.EmbeddedLarge)
	assert.Zero(t, sum.Skipped)
}

func TestRun_DryRun(t *testing.T) {
	t.Parallel()

	store := newFakeStore(verse(1, "the LORD is my shepherd I shall not want"))
	embedder := newCountingEmbedder()
	opts := defaultOpts()
	opts.DryRun = true
	opts.ModelSmall = "text-embedding-3-small"
	opts.ModelLarge = "text-embedding-3-large"
	orch, err := New(store, embedder, nil, opts)
	require.NoError(t, err)

	sum, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, embedder.calls, "dry run must not call the provider")
	assert.Zero(t, store.saveCalls, "dry run must not write")
	assert.Positive(t, sum.EstimatedTokens)
	assert.Positive(t, sum.EstimatedDollars)
}

func TestRun_FailedBatchContinues(t *testing.T) {
	t.Parallel()

	store := newFakeStore(verse(1, "one"), verse(2, "two"), verse(3, "three"), verse(4, "four"))
	store.embedErr = errors.New("deadlock detected")
	store.embedErrIdx = 0 // fail only the first batch's lookup

	opts := defaultOpts()
	opts.BatchSize = 2
	orch, err := New(store, newCountingEmbedder(), nil, opts)
	require.NoError(t, err)

	sum, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Batches)
	assert.Equal(t, 1, sum.FailedBatches)
	// The second batch still lands.
	assert.Equal(t, 2, sum.EmbeddedSmall)
	assert.NotNil(t, store.embeddings[3])
	assert.Nil(t, store.embeddings[1])
}

func TestRun_ProviderFailureFailsBatch(t *testing.T) {
	t.Parallel()

	store := newFakeStore(verse(1, "one"))
	embedder := newCountingEmbedder()
	embedder.err = errors.New("rate limited")
	orch, err := New(store, embedder, nil, defaultOpts())
	require.NoError(t, err)

	sum, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.FailedBatches)
	assert.Zero(t, store.saveCalls)
}

func TestRun_SmallOnly(t *testing.T) {
	t.Parallel()

	store := newFakeStore(verse(1, "one"))
	embedder := newCountingEmbedder()
	opts := defaultOpts()
	opts.SmallOnly = true
	opts.ModelLarge = ""
	orch, err := New(store, embedder, nil, opts)
	require.NoError(t, err)

	sum, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.EmbeddedSmall)
	assert.Zero(t, sum.EmbeddedLarge)
	assert.Zero(t, embedder.calls["large-model"])
	assert.Nil(t, store.embeddings[1].EmbeddingLarge)
}

func TestRun_Limit(t *testing.T) {
	t.Parallel()

	store := newFakeStore(verse(1, "one"), verse(2, "two"), verse(3, "three"))
	opts := defaultOpts()
	opts.Limit = 2
	orch, err := New(store, newCountingEmbedder(), nil, opts)
	require.NoError(t, err)

	sum, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Verses)
	assert.Equal(t, 2, sum.EmbeddedSmall)
}
