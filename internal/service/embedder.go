package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"manifest/internal/config"
	"manifest/internal/observability"

	"go.uber.org/zap"
)

var (
	// ErrNoVector is returned when the provider answered without a vector
	ErrNoVector = errors.New("embedding provider returned no vector")

	// ErrProviderDisabled is returned when the provider has no credentials
	ErrProviderDisabled = errors.New("embedding provider is not enabled (missing API key)")
)

// Embedder turns text into a fixed-length vector
type Embedder interface {
	// Embed creates the embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch creates embeddings for texts, in order
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Name identifies the provider in logs and metrics
	Name() string
}

// NewEmbedder builds the configured provider
func NewEmbedder(ctx context.Context, cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	switch cfg.Provider {
	case config.EmbeddingProviderOpenAI:
		return NewOpenAIClient(&cfg.OpenAI).WithLogger(logger), nil
	case config.EmbeddingProviderGenAI:
		embedder, err := NewGenAIEmbedder(ctx, cfg.GenAI)
		if err != nil {
			return nil, err
		}
		return embedder, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// instrumentedEmbedder records latency and status of every call
type instrumentedEmbedder struct {
	next    Embedder
	metrics *observability.Collector
}

// WithMetrics wraps an embedder so each call is recorded on the collector
func WithMetrics(next Embedder, metrics *observability.Collector) Embedder {
	if metrics == nil {
		return next
	}
	return &instrumentedEmbedder{next: next, metrics: metrics}
}

func (e *instrumentedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := e.next.Embed(ctx, text)
	e.metrics.ObserveEmbedding(e.next.Name(), err, time.Since(start))
	return vec, err
}

func (e *instrumentedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vecs, err := e.next.EmbedBatch(ctx, texts)
	e.metrics.ObserveEmbedding(e.next.Name(), err, time.Since(start))
	return vecs, err
}

func (e *instrumentedEmbedder) Name() string {
	return e.next.Name()
}
