package service

import (
	"context"
	"errors"

	"manifest/internal/config"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerEmbedder stops calling a failing provider until it recovers
type BreakerEmbedder struct {
	next Embedder
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerEmbedder wraps next in a circuit breaker
func NewBreakerEmbedder(next Embedder, cfg config.BreakerConfig, logger *zap.Logger) *BreakerEmbedder {
	settings := gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Only trip if we have enough requests to make a decision
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("embedding circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			// A cancelled caller says nothing about provider health.
			return err == nil || errors.Is(err, context.Canceled)
		},
	}

	return &BreakerEmbedder{
		next: next,
		cb:   gobreaker.NewCircuitBreaker(settings),
	}
}

// Name identifies the wrapped provider
func (b *BreakerEmbedder) Name() string {
	return b.next.Name()
}

// State reports the breaker state
func (b *BreakerEmbedder) State() gobreaker.State {
	return b.cb.State()
}

// Embed creates the embedding for a single text
func (b *BreakerEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return out.([]float32), nil
}

// EmbedBatch creates embeddings for texts
func (b *BreakerEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.EmbedBatch(ctx, texts)
	})
	if err != nil {
		return nil, err
	}
	return out.([][]float32), nil
}

var _ Embedder = (*BreakerEmbedder)(nil)
