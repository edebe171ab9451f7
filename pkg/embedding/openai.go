package embedding

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 5
)

// OpenAIEmbedder implements Embedder against the OpenAI embeddings API with
// per-call timeout, exponential backoff with jitter, optional throttling
// between successful calls, and token/cost accounting.
type OpenAIEmbedder struct {
	client     *openai.Client
	timeout    time.Duration
	maxRetries int
	sleep      time.Duration
	usage      *Usage
}

// OpenAIOption configures an OpenAIEmbedder.
type OpenAIOption func(*OpenAIEmbedder)

// WithTimeout sets the per-call timeout (default 60s).
func WithTimeout(d time.Duration) OpenAIOption {
	return func(e *OpenAIEmbedder) { e.timeout = d }
}

// WithMaxRetries sets the retry budget per call (default 5).
func WithMaxRetries(n int) OpenAIOption {
	return func(e *OpenAIEmbedder) { e.maxRetries = n }
}

// WithSleep sets an optional pause after each successful call, to
// gentle-rate against the provider (default 0).
func WithSleep(d time.Duration) OpenAIOption {
	return func(e *OpenAIEmbedder) { e.sleep = d }
}

// WithUsage attaches a shared usage accumulator.
func WithUsage(u *Usage) OpenAIOption {
	return func(e *OpenAIEmbedder) { e.usage = u }
}

// NewOpenAIEmbedder creates an embedder backed by the OpenAI API.
func NewOpenAIEmbedder(apiKey string, opts ...OpenAIOption) *OpenAIEmbedder {
	e := &OpenAIEmbedder{
		client:     openai.NewClient(apiKey),
		timeout:    defaultTimeout,
		maxRetries: defaultMaxRetries,
		usage:      NewUsage(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewOpenAIEmbedderWithClient creates an embedder around an existing client.
// Used by tests to point at a stub server.
func NewOpenAIEmbedderWithClient(client *openai.Client, opts ...OpenAIOption) *OpenAIEmbedder {
	e := &OpenAIEmbedder{
		client:     client,
		timeout:    defaultTimeout,
		maxRetries: defaultMaxRetries,
		usage:      NewUsage(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Usage returns the accumulator attached to this embedder.
func (e *OpenAIEmbedder) Usage() *Usage { return e.usage }

// Embed sends one request for the given batch. The caller is responsible for
// sizing batches to provider limits. On failure it retries with backoff
// min(2^attempt, 10) * U(0.5, 1.5) seconds; after exhaustion it returns a
// *ProviderError.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string, model string) ([][]float32, int, error) {
	if len(texts) == 0 {
		return [][]float32{}, 0, nil
	}

	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(model),
	}

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := math.Min(math.Pow(2, float64(attempt-1)), 10) * (0.5 + rand.Float64())
			select {
			case <-time.After(time.Duration(backoff * float64(time.Second))):
			case <-ctx.Done():
				return nil, 0, &ProviderError{Model: model, Attempts: attempt, Err: ctx.Err()}
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		resp, err := e.client.CreateEmbeddings(callCtx, req)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}

		if len(resp.Data) != len(texts) {
			return nil, 0, &ProviderError{
				Model:    model,
				Attempts: attempt + 1,
				Err:      fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts)),
			}
		}

		vectors := make([][]float32, len(texts))
		for _, d := range resp.Data {
			vectors[d.Index] = d.Embedding
		}
		dim := len(vectors[0])

		if e.usage != nil {
			e.usage.Add(model, ApproxTokens(texts))
		}
		if e.sleep > 0 {
			select {
			case <-time.After(e.sleep):
			case <-ctx.Done():
			}
		}
		return vectors, dim, nil
	}

	return nil, 0, &ProviderError{Model: model, Attempts: e.maxRetries + 1, Err: lastErr}
}
