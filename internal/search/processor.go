package search

import (
	"github.com/hyperjump/ragindex/internal/config"
	"github.com/hyperjump/ragindex/internal/models"
)

// ProcessQuery fills unset fields from cfg, clamps topK to the configured maximum,
// and validates the result.
func ProcessQuery(query *models.SearchQuery, cfg *config.SearchConfig) error {
	if cfg != nil {
		if query.TopK == 0 {
			query.TopK = cfg.DefaultTopK
		}
		if cfg.MaxTopK > 0 && query.TopK > cfg.MaxTopK {
			query.TopK = cfg.MaxTopK
		}
		if query.Threshold == nil {
			t := cfg.DefaultThreshold
			query.Threshold = &t
		}
		if query.SearchIn == "" {
			query.SearchIn = cfg.DefaultSearchIn
		}
	}
	return query.Validate()
}
