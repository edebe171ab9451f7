package embedding

import (
	"context"
	"fmt"
)

// Embedder generates dense vectors for a batch of texts. Implementations must
// return one vector per input text, in input order. The returned dim is the
// observed length of the first vector.
type Embedder interface {
	Embed(ctx context.Context, texts []string, model string) (vectors [][]float32, dim int, err error)
}

// ProviderError reports a provider call that failed after all retries.
type ProviderError struct {
	Model    string
	Attempts int
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider failed for model %s after %d attempts: %v", e.Model, e.Attempts, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ApproxTokens estimates the token count of a batch of texts as chars/4.
// The estimate is intentionally coarse and used only for cost reporting;
// swapping in a real tokenizer would shift reported cost numbers.
func ApproxTokens(texts []string) int64 {
	var chars int64
	for _, t := range texts {
		chars += int64(len(t))
	}
	tokens := chars / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
