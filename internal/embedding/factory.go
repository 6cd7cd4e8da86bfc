package embedding

import (
	"fmt"

	"github.com/hyperjump/ragindex/internal/config"
	"go.uber.org/zap"
)

// New builds the configured provider, wrapped in a cache and a Guard.
func New(cfg *config.EmbeddingConfig, logger *zap.Logger) (*Guard, error) {
	var inner Embedder
	switch cfg.Provider {
	case "", "hash":
		inner = NewHashEmbedder(cfg.Dimensions)
	case "ollama":
		inner = NewOllamaEmbedder(cfg.BaseURL, cfg.Model,
			WithRateLimit(cfg.RequestsPerSecond),
			WithConcurrency(cfg.Concurrency),
			WithDimensions(cfg.Dimensions),
			WithOllamaLogger(logger),
		)
	case "onnx":
		onnx, err := NewONNXEmbedder(ONNXOptions{
			ModelPath:  cfg.ModelPath,
			ModelName:  cfg.Model,
			Dimensions: cfg.Dimensions,
			MaxTokens:  cfg.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		inner = onnx
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if logger != nil {
		logger.Info("embedding provider ready",
			zap.String("provider", cfg.Provider),
			zap.String("model", inner.Model()),
			zap.Int("dimensions", inner.Dimensions()),
		)
	}
	return NewGuard(NewCachedEmbedder(inner, cfg.CacheSize), cfg.Timeout()), nil
}
