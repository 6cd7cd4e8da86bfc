package models

import "time"

// SearchResult is one ranked match. RelevanceScore equals Similarity; no boosting is applied.
type SearchResult struct {
	Document       *IndexedDocument `json:"document"`
	Similarity     float64          `json:"similarity"`
	RelevanceScore float64          `json:"relevanceScore"`
}

// SearchResponse wraps ranked results for the HTTP and CLI surfaces.
type SearchResponse struct {
	Results      []*SearchResult `json:"results"`
	TotalResults int             `json:"total_results"`
	Query        string          `json:"query"`
	QueryTime    int64           `json:"query_time_ms"`
	Parameters   SearchQuery     `json:"search_parameters"`
}

// ContextEntry is one source-attributed snippet in a context bundle.
type ContextEntry struct {
	Source         string  `json:"source"`
	Content        string  `json:"content"`
	RelevanceScore float64 `json:"relevanceScore"`
}

// ContextBundle is the grounding payload built from ranked results.
// HasContext is true iff ContextCount > 0.
type ContextBundle struct {
	Prompt       string         `json:"prompt"`
	Context      []ContextEntry `json:"context"`
	HasContext   bool           `json:"hasContext"`
	ContextCount int            `json:"contextCount"`
}

// StatusReport is Stats plus the engine's runtime state.
type StatusReport struct {
	Stats
	EngineState    string `json:"engine_state,omitempty"`
	DiskUsageBytes *int64 `json:"disk_usage_bytes,omitempty"`
	PersistPending bool   `json:"persist_pending"`
}

// AvailableDataset is an export file that can be indexed.
type AvailableDataset struct {
	Path       string    `json:"path"`
	Name       string    `json:"name"`
	Format     string    `json:"format"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
}
