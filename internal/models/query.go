package models

import "fmt"

const (
	DefaultTopK      = 5
	MaxTopK          = 100
	DefaultThreshold = 0.1
)

// SearchQuery is a similarity search request.
type SearchQuery struct {
	Query string `json:"query"`
	TopK  int    `json:"topK,omitempty"`
	// Threshold is nil when unset so that an explicit 0.0 is distinguishable from the default.
	Threshold  *float64 `json:"threshold,omitempty"`
	SearchIn   string   `json:"searchIn,omitempty"`
	DatasetIDs []string `json:"datasetIds,omitempty"`

	field SearchField
}

// Validate checks the query and fills defaults. topK above MaxTopK is clamped.
func (q *SearchQuery) Validate() error {
	if q.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidInput)
	}
	if q.TopK < 0 {
		return fmt.Errorf("%w: topK must be >= 1", ErrInvalidInput)
	}
	if q.TopK == 0 {
		q.TopK = DefaultTopK
	}
	if q.TopK > MaxTopK {
		q.TopK = MaxTopK
	}
	if q.Threshold == nil {
		t := DefaultThreshold
		q.Threshold = &t
	}
	if *q.Threshold < 0 || *q.Threshold > 1 {
		return fmt.Errorf("%w: threshold must be in [0,1], got %v", ErrInvalidInput, *q.Threshold)
	}
	field, err := ParseSearchField(q.SearchIn)
	if err != nil {
		return err
	}
	q.field = field
	q.SearchIn = string(field)
	return nil
}

// Field returns the validated search field.
func (q *SearchQuery) Field() SearchField {
	if q.field == "" {
		return FieldFullText
	}
	return q.field
}

// ThresholdValue returns the threshold, or the default when unset.
func (q *SearchQuery) ThresholdValue() float64 {
	if q.Threshold == nil {
		return DefaultThreshold
	}
	return *q.Threshold
}

// ContextQuery is a request to assemble grounding context around a query.
type ContextQuery struct {
	SearchQuery
	SystemPreamble  string `json:"systemPreamble,omitempty"`
	// MaxContextChars caps the prompt's context section. Nil uses the configured
	// budget; 0 lifts the cap.
	MaxContextChars *int `json:"maxContextChars,omitempty"`
}

// Budget returns the character budget, or def when none was requested.
func (q *ContextQuery) Budget(def int) int {
	if q.MaxContextChars == nil {
		return def
	}
	return *q.MaxContextChars
}

// Validate checks the embedded search query and the context budget.
func (q *ContextQuery) Validate() error {
	if q.MaxContextChars != nil && *q.MaxContextChars < 0 {
		return fmt.Errorf("%w: maxContextChars must be >= 0", ErrInvalidInput)
	}
	return q.SearchQuery.Validate()
}
