package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by KV.Get when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// KV is the minimal key-value store contract needed by the query cache.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisKV adapts a go-redis client to the KV interface.
type RedisKV struct {
	client *redis.Client
}

// NewRedisKV wraps an existing redis client.
func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return b, err
}

func (r *RedisKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// NoopKV is used when no cache backend is configured: every read misses and
// writes are dropped.
type NoopKV struct{}

func (NoopKV) Get(ctx context.Context, key string) ([]byte, error) { return nil, ErrCacheMiss }
func (NoopKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

// QueryCache memoizes query-text embeddings with a TTL. Cache failures never
// fail the lookup: a read error counts as a miss, a write error is ignored.
type QueryCache struct {
	kv       KV
	embedder Embedder
	ttl      time.Duration
}

// NewQueryCache creates a query embedding cache in front of an embedder.
func NewQueryCache(kv KV, embedder Embedder, ttl time.Duration) *QueryCache {
	return &QueryCache{kv: kv, embedder: embedder, ttl: ttl}
}

// NormalizeQuery lowercases and collapses whitespace.
func NormalizeQuery(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// CacheKey builds the cache key for a normalized query under a model.
func CacheKey(model, normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return "qemb:" + model + ":" + hex.EncodeToString(sum[:])
}

// EmbedQuery returns the embedding of a query text, consulting the cache
// before calling the provider.
func (c *QueryCache) EmbedQuery(ctx context.Context, text, model string) ([]float32, error) {
	normalized := NormalizeQuery(text)
	key := CacheKey(model, normalized)

	if raw, err := c.kv.Get(ctx, key); err == nil {
		var vec []float32
		if err := json.Unmarshal(raw, &vec); err == nil && len(vec) > 0 {
			return vec, nil
		}
	}

	vectors, _, err := c.embedder.Embed(ctx, []string{normalized}, model)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, errors.New("embedder returned no vectors")
	}
	vec := vectors[0]

	if raw, err := json.Marshal(vec); err == nil {
		// Best effort: a failed write must not fail retrieval.
		_ = c.kv.Set(ctx, key, raw, c.ttl)
	}
	return vec, nil
}
