package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapKV is an in-memory KV with error injection.
type mapKV struct {
	data    map[string][]byte
	getErr  error
	setErr  error
	sets    int
	gets    int
	lastTTL time.Duration
}

func newMapKV() *mapKV {
	return &mapKV{data: make(map[string][]byte)}
}

func (m *mapKV) Get(ctx context.Context, key string) ([]byte, error) {
	m.gets++
	if m.getErr != nil {
		return nil, m.getErr
	}
	if b, ok := m.data[key]; ok {
		return b, nil
	}
	return nil, ErrCacheMiss
}

func (m *mapKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.sets++
	m.lastTTL = ttl
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	return nil
}

// stubEmbedder returns one fixed vector per call and counts calls.
type stubEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string, model string) ([][]float32, int, error) {
	s.calls++
	if s.err != nil {
		return nil, 0, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vec
	}
	return out, len(s.vec), nil
}

func TestNormalizeQuery(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "the lord is my shepherd", NormalizeQuery("  The   LORD\tis my\n shepherd "))
	assert.Equal(t, "", NormalizeQuery("   "))
}

func TestCacheKey(t *testing.T) {
	t.Parallel()

	key := CacheKey("text-embedding-3-small", "the lord")
	assert.Contains(t, key, "qemb:text-embedding-3-small:")
	assert.NotEqual(t, key, CacheKey("text-embedding-3-large", "the lord"))
	assert.NotEqual(t, key, CacheKey("text-embedding-3-small", "the lord is"))
}

func TestQueryCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("miss embeds and stores with TTL", func(t *testing.T) {
		t.Parallel()
		kv := newMapKV()
		emb := &stubEmbedder{vec: []float32{0.1, 0.2}}
		cache := NewQueryCache(kv, emb, 15*time.Minute)

		vec, err := cache.EmbedQuery(ctx, "The Lord", "m")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.1, 0.2}, vec)
		assert.Equal(t, 1, emb.calls)
		assert.Equal(t, 1, kv.sets)
		assert.Equal(t, 15*time.Minute, kv.lastTTL)
	})

	t.Run("hit returns cached vector without embedding", func(t *testing.T) {
		t.Parallel()
		kv := newMapKV()
		emb := &stubEmbedder{vec: []float32{0.1, 0.2}}
		cache := NewQueryCache(kv, emb, time.Minute)

		_, err := cache.EmbedQuery(ctx, "The Lord", "m")
		require.NoError(t, err)
		// Different whitespace and casing normalize to the same key.
		vec, err := cache.EmbedQuery(ctx, "  the   LORD ", "m")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.1, 0.2}, vec)
		assert.Equal(t, 1, emb.calls)
	})

	t.Run("read error counts as miss", func(t *testing.T) {
		t.Parallel()
		kv := newMapKV()
		kv.getErr = errors.New("connection reset")
		emb := &stubEmbedder{vec: []float32{0.5}}
		cache := NewQueryCache(kv, emb, time.Minute)

		vec, err := cache.EmbedQuery(ctx, "query", "m")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.5}, vec)
		assert.Equal(t, 1, emb.calls)
	})

	t.Run("write error is ignored", func(t *testing.T) {
		t.Parallel()
		kv := newMapKV()
		kv.setErr = errors.New("readonly replica")
		emb := &stubEmbedder{vec: []float32{0.5}}
		cache := NewQueryCache(kv, emb, time.Minute)

		vec, err := cache.EmbedQuery(ctx, "query", "m")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.5}, vec)
	})

	t.Run("corrupt cached value falls back to the provider", func(t *testing.T) {
		t.Parallel()
		kv := newMapKV()
		emb := &stubEmbedder{vec: []float32{0.5}}
		cache := NewQueryCache(kv, emb, time.Minute)

		kv.data[CacheKey("m", NormalizeQuery("query"))] = []byte("{not json")
		vec, err := cache.EmbedQuery(ctx, "query", "m")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.5}, vec)
		assert.Equal(t, 1, emb.calls)
	})

	t.Run("provider error propagates", func(t *testing.T) {
		t.Parallel()
		emb := &stubEmbedder{err: errors.New("rate limited")}
		cache := NewQueryCache(newMapKV(), emb, time.Minute)

		_, err := cache.EmbedQuery(ctx, "query", "m")
		assert.Error(t, err)
	})

	t.Run("noop kv always embeds", func(t *testing.T) {
		t.Parallel()
		emb := &stubEmbedder{vec: []float32{0.5}}
		cache := NewQueryCache(NoopKV{}, emb, time.Minute)

		_, err := cache.EmbedQuery(ctx, "query", "m")
		require.NoError(t, err)
		_, err = cache.EmbedQuery(ctx, "query", "m")
		require.NoError(t, err)
		assert.Equal(t, 2, emb.calls)
	})
}

func TestQueryCache_StoredEncoding(t *testing.T) {
	t.Parallel()

	kv := newMapKV()
	emb := &stubEmbedder{vec: []float32{0.25, -1}}
	cache := NewQueryCache(kv, emb, time.Minute)

	_, err := cache.EmbedQuery(context.Background(), "query", "m")
	require.NoError(t, err)

	raw := kv.data[CacheKey("m", "query")]
	require.NotNil(t, raw)
	var decoded []float32
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, []float32{0.25, -1}, decoded)
}
