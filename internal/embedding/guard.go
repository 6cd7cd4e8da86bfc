package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hyperjump/ragindex/internal/models"
)

// Guard bounds every provider call with a timeout and maps failures onto engine errors:
// caller cancellation becomes models.ErrCancelled, anything else models.ErrEmbeddingUnavailable.
type Guard struct {
	Embedder
	timeout time.Duration
}

// NewGuard wraps inner. A zero timeout leaves calls bounded only by the caller's context.
func NewGuard(inner Embedder, timeout time.Duration) *Guard {
	return &Guard{Embedder: inner, timeout: timeout}
}

// Embed calls the provider and validates the returned vector.
func (g *Guard) Embed(ctx context.Context, text string) ([]float32, error) {
	callCtx, cancel := g.callContext(ctx)
	defer cancel()
	v, err := g.Embedder.Embed(callCtx, text)
	if err != nil {
		return nil, g.classify(ctx, err)
	}
	if err := checkVector(v); err != nil {
		return nil, err
	}
	return v, nil
}

// EmbedBatch calls the provider once for all texts under a single timeout.
func (g *Guard) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	callCtx, cancel := g.callContext(ctx)
	defer cancel()
	vs, err := g.Embedder.EmbedBatch(callCtx, texts)
	if err != nil {
		return nil, g.classify(ctx, err)
	}
	if len(vs) != len(texts) {
		return nil, fmt.Errorf("%w: provider returned %d vectors for %d texts", models.ErrEmbeddingUnavailable, len(vs), len(texts))
	}
	for _, v := range vs {
		if err := checkVector(v); err != nil {
			return nil, err
		}
	}
	return vs, nil
}

func (g *Guard) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout > 0 {
		return context.WithTimeout(ctx, g.timeout)
	}
	return context.WithCancel(ctx)
}

func (g *Guard) classify(parent context.Context, err error) error {
	if errors.Is(err, models.ErrCancelled) || errors.Is(err, models.ErrEmbeddingUnavailable) {
		return err
	}
	if parent.Err() != nil {
		return fmt.Errorf("%w: %v", models.ErrCancelled, parent.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: timed out after %s", models.ErrEmbeddingUnavailable, g.timeout)
	}
	return fmt.Errorf("%w: %v", models.ErrEmbeddingUnavailable, err)
}

func checkVector(v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: provider returned an empty vector", models.ErrEmbeddingUnavailable)
	}
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return fmt.Errorf("%w: provider returned a non-finite value", models.ErrEmbeddingUnavailable)
		}
	}
	return nil
}
