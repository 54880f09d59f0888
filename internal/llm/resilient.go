package llm

import (
	"context"
	"log/slog"
	"time"
)

// Counter is the minimal metrics hook the embedder reports to.
// The observability registry's counters satisfy it.
type Counter interface {
	Inc()
}

// ResilientConfig configures the embedding retry/fallback behavior.
type ResilientConfig struct {
	// Dimension of the fallback zero-vector (must match the embedding model).
	Dimension int
	// MaxAttempts per text on quota failures (total attempts, not retries).
	MaxAttempts int
	// RetryDelay is the fixed wait between attempts, letting quota recover.
	RetryDelay time.Duration
}

// DefaultResilientConfig matches the Gemini embedding-001 deployment:
// 768-wide vectors, 3 attempts, 20 seconds between attempts.
func DefaultResilientConfig() *ResilientConfig {
	return &ResilientConfig{
		Dimension:   768,
		MaxAttempts: 3,
		RetryDelay:  20 * time.Second,
	}
}

// ResilientEmbedder wraps a Provider so that embedding a batch of texts
// always makes forward progress. Quota failures are retried a bounded
// number of times with a fixed delay; any other failure, or retry
// exhaustion, substitutes a zero-vector for that one text and moves on.
// It is used for both chunk and query embeddings so index and query
// share one embedding space.
type ResilientEmbedder struct {
	provider Provider
	config   *ResilientConfig
	logger   *slog.Logger

	// Optional counters, nil-safe. Quota and data failures are counted
	// separately so exhaustion is diagnosable from metrics alone.
	Retries        Counter
	QuotaFallbacks Counter
	OtherFallbacks Counter
}

// NewResilientEmbedder wraps a provider. A nil config uses defaults.
func NewResilientEmbedder(provider Provider, config *ResilientConfig) *ResilientEmbedder {
	if config == nil {
		config = DefaultResilientConfig()
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &ResilientEmbedder{
		provider: provider,
		config:   config,
		logger:   slog.Default(),
	}
}

// Dimension returns the embedding width used for fallback vectors.
func (e *ResilientEmbedder) Dimension() int { return e.config.Dimension }

// EmbedEach embeds every text independently, preserving input order and
// count. It never returns an error: each failed text yields the fallback
// zero-vector. Context cancellation stops waiting and fills the remainder
// with fallbacks.
func (e *ResilientEmbedder) EmbedEach(ctx context.Context, texts []string) [][]float32 {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.embedOne(ctx, i, text)
	}
	return vectors
}

func (e *ResilientEmbedder) embedOne(ctx context.Context, idx int, text string) []float32 {
	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			e.count(e.OtherFallbacks)
			return ZeroVector(e.config.Dimension)
		}

		vecs, err := e.provider.Embed(ctx, []string{text})
		if err == nil && len(vecs) == 1 && len(vecs[0]) > 0 {
			return vecs[0]
		}
		if err == nil {
			// Provider returned the wrong shape; treat as a data error.
			e.logger.Warn("embedding returned unexpected shape, using fallback",
				"index", idx, "vectors", len(vecs))
			e.count(e.OtherFallbacks)
			return ZeroVector(e.config.Dimension)
		}

		if ClassifyEmbedFailure(err) != FailureQuota {
			e.logger.Warn("embedding failed, using fallback",
				"index", idx, "error", err)
			e.count(e.OtherFallbacks)
			return ZeroVector(e.config.Dimension)
		}

		if attempt == e.config.MaxAttempts {
			break
		}

		e.logger.Warn("embedding quota exhausted, waiting before retry",
			"index", idx, "attempt", attempt, "max_attempts", e.config.MaxAttempts,
			"delay", e.config.RetryDelay)
		e.count(e.Retries)

		select {
		case <-ctx.Done():
			e.count(e.OtherFallbacks)
			return ZeroVector(e.config.Dimension)
		case <-time.After(e.config.RetryDelay):
		}
	}

	e.logger.Warn("embedding quota retries exhausted, using fallback",
		"index", idx, "attempts", e.config.MaxAttempts)
	e.count(e.QuotaFallbacks)
	return ZeroVector(e.config.Dimension)
}

func (e *ResilientEmbedder) count(c Counter) {
	if c != nil {
		c.Inc()
	}
}
