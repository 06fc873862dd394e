// Package embed provides a pluggable interface for text embedding providers.
package embed

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/companionkit/memoryengine/internal/config"
	"github.com/companionkit/memoryengine/internal/model"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dims() int
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// retryEmbedder wraps a provider with bounded exponential backoff and a
// per-attempt timeout. Exhausted retries surface a TransientServiceError
// so callers can distinguish provider outages from bad input.
type retryEmbedder struct {
	inner          Embedder
	maxAttempts    int
	base           time.Duration
	attemptTimeout time.Duration
}

// WithRetries wraps an embedder so each Embed call is retried up to
// maxAttempts times before failing.
func WithRetries(inner Embedder, maxAttempts int, base, attemptTimeout time.Duration) Embedder {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &retryEmbedder{
		inner:          inner,
		maxAttempts:    maxAttempts,
		base:           base,
		attemptTimeout: attemptTimeout,
	}
}

func (r *retryEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	var out Vector

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.base
	bo.Multiplier = 2

	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
		defer cancel()

		vec, err := r.inner.Embed(attemptCtx, text)
		if err != nil {
			log.Warn().Err(err).Msg("embedding call failed, will retry")
			return err
		}
		out = vec
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(r.maxAttempts-1)), ctx))
	if err != nil {
		return nil, &model.TransientServiceError{Service: "embedding", Err: err}
	}
	return out, nil
}

func (r *retryEmbedder) Dims() int { return r.inner.Dims() }

// EmbedBatch embeds texts with bounded concurrency, preserving input
// order. The first failure cancels in-flight calls and is returned.
func EmbedBatch(ctx context.Context, e Embedder, texts []string, concurrency int) ([]Vector, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	out := make([]Vector, len(texts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			vec, err := e.Embed(ctx, text)
			if err != nil {
				return err
			}
			out[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// NewFromConfig builds the configured provider wrapped with retries.
func NewFromConfig(cfg config.EmbeddingConfig) Embedder {
	var inner Embedder
	switch cfg.Provider {
	case "ollama":
		inner = NewOllamaEmbedder(cfg.BaseURL, cfg.Model, cfg.Dimension)
	case "openai":
		inner = NewOpenAIEmbedder(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dimension)
	case "mock":
		inner = NewMockEmbedder(cfg.Dimension)
	default:
		return nil
	}
	return WithRetries(inner, cfg.MaxAttempts, cfg.BackoffBase, cfg.AttemptTimeout)
}
