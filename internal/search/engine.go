// Package search ranks stored documents against a query and assembles grounding context.
package search

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/ragindex/internal/config"
	"github.com/hyperjump/ragindex/internal/embedding"
	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/internal/store"
	"github.com/hyperjump/ragindex/internal/vector"
	"go.uber.org/zap"
)

// Engine runs similarity search over a document store.
type Engine struct {
	store    *store.DocumentStore
	embedder embedding.Embedder
	config   *config.SearchConfig
	logger   *zap.Logger
}

// NewEngine creates a search engine with the given dependencies.
func NewEngine(st *store.DocumentStore, embedder embedding.Embedder, cfg *config.SearchConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: st, embedder: embedder, config: cfg, logger: logger}
}

// Search embeds the query and returns at most TopK documents whose similarity in the
// selected field is at least Threshold, best first. An empty store yields an empty list.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) ([]*models.SearchResult, error) {
	start := time.Now()
	if err := ProcessQuery(query, e.config); err != nil {
		return nil, err
	}

	docs := e.store.Documents()
	if len(docs) == 0 {
		return []*models.SearchResult{}, nil
	}

	qvec, err := e.embedder.Embed(ctx, query.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if dim := docs[0].Dimension(); len(qvec) != dim {
		return nil, fmt.Errorf("query vector: %w", &models.DimensionError{Got: len(qvec), Want: dim})
	}

	field := query.Field()
	allow := allowList(query.DatasetIDs)
	candidates := make([]vector.Candidate, 0, len(docs))
	for i, d := range docs {
		if allow != nil {
			if _, ok := allow[d.DatasetID]; !ok {
				continue
			}
		}
		v := d.Embedding(field)
		if v == nil {
			continue
		}
		candidates = append(candidates, vector.Candidate{Index: i, Vector: v})
	}

	matches := vector.Rank(qvec, candidates, query.ThresholdValue(), query.TopK)
	results := make([]*models.SearchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, &models.SearchResult{
			Document:       docs[m.Index],
			Similarity:     m.Similarity,
			RelevanceScore: m.Similarity,
		})
	}
	e.logger.Debug("search",
		zap.String("query", query.Query),
		zap.String("field", string(field)),
		zap.Int("candidates", len(candidates)),
		zap.Int("results", len(results)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return results, nil
}

// BuildContext searches and assembles the results into a context bundle.
// The preamble and an unset character budget fall back to the engine configuration;
// an explicit budget of 0 means no cap.
func (e *Engine) BuildContext(ctx context.Context, query *models.ContextQuery) (*models.ContextBundle, error) {
	if query.MaxContextChars != nil && *query.MaxContextChars < 0 {
		return nil, fmt.Errorf("%w: maxContextChars must be >= 0", models.ErrInvalidInput)
	}
	results, err := e.Search(ctx, &query.SearchQuery)
	if err != nil {
		return nil, err
	}
	preamble := query.SystemPreamble
	defaultChars := 0
	if e.config != nil {
		if preamble == "" {
			preamble = e.config.SystemPreamble
		}
		defaultChars = e.config.MaxContextChars
	}
	maxChars := query.Budget(defaultChars)
	return Assemble(query.Query, preamble, results, query.Field(), maxChars), nil
}

func allowList(ids []string) map[string]struct{} {
	if len(ids) == 0 {
		return nil
	}
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}
