// Package models defines core data structures for indexed documents, queries, and search results.
package models

import (
	"fmt"
	"strings"
	"time"
)

// SearchField names a text field of an indexed document that can be embedded and searched.
type SearchField string

const (
	FieldFullText   SearchField = "fullText"
	FieldPrompt     SearchField = "prompt"
	FieldCompletion SearchField = "completion"
)

// SearchFields lists every searchable field in declaration order.
var SearchFields = []SearchField{FieldFullText, FieldPrompt, FieldCompletion}

// ParseSearchField returns the field named s. An empty string selects FieldFullText.
func ParseSearchField(s string) (SearchField, error) {
	if s == "" {
		return FieldFullText, nil
	}
	for _, f := range SearchFields {
		if strings.EqualFold(string(f), s) {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: unknown search field %q", ErrInvalidInput, s)
}

// IndexedDocument is a stored document with one embedding per non-empty text field.
// Once stored it is never mutated; removal happens per dataset.
type IndexedDocument struct {
	ID          string                 `json:"id"`
	DatasetID   string                 `json:"datasetId"`
	DatasetName string                 `json:"datasetName"`
	FullText    string                 `json:"fullText"`
	Prompt      string                 `json:"prompt,omitempty"`
	Completion  string                 `json:"completion,omitempty"`
	Intent      string                 `json:"intent,omitempty"`
	Category    string                 `json:"category,omitempty"`
	RowIndex    int                    `json:"rowIndex"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	// Embeddings is keyed by field; FieldFullText is always present.
	Embeddings map[SearchField][]float32 `json:"embeddings,omitempty"`
	IndexedAt  time.Time                 `json:"indexedAt"`
}

// Text returns the text of the given field.
func (d *IndexedDocument) Text(field SearchField) string {
	switch field {
	case FieldPrompt:
		return d.Prompt
	case FieldCompletion:
		return d.Completion
	default:
		return d.FullText
	}
}

// Embedding returns the vector for field, or nil when the field was not embedded.
func (d *IndexedDocument) Embedding(field SearchField) []float32 {
	if d.Embeddings == nil {
		return nil
	}
	return d.Embeddings[field]
}

// Dimension returns the length of the full-text embedding.
func (d *IndexedDocument) Dimension() int {
	return len(d.Embedding(FieldFullText))
}

// DocumentInput is one parsed chunk handed to the index operation.
type DocumentInput struct {
	ID         string                 `json:"id,omitempty"`
	FullText   string                 `json:"fullText"`
	Prompt     string                 `json:"prompt,omitempty"`
	Completion string                 `json:"completion,omitempty"`
	Intent     string                 `json:"intent,omitempty"`
	Category   string                 `json:"category,omitempty"`
	RowIndex   *int                   `json:"rowIndex,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// IndexRequest is the bulk ingestion payload.
type IndexRequest struct {
	DatasetID   string          `json:"datasetId"`
	DatasetName string          `json:"datasetName"`
	Documents   []DocumentInput `json:"documents"`
}

// IndexResult reports the outcome of a bulk ingestion call.
type IndexResult struct {
	IndexedCount int    `json:"indexedCount"`
	SkippedCount int    `json:"skippedCount"`
	DatasetID    string `json:"datasetId"`
	DatasetName  string `json:"datasetName"`
}

// RemoveResult reports how many documents a dataset removal deleted.
type RemoveResult struct {
	DatasetID        string `json:"datasetId"`
	RemovedDocuments int    `json:"removedDocuments"`
}

// DatasetSummary describes one live dataset.
type DatasetSummary struct {
	DatasetID     string            `json:"datasetId"`
	DatasetName   string            `json:"datasetName"`
	DocumentCount int               `json:"documentCount"`
	Category      string            `json:"category"`
	Documents     []DocumentPreview `json:"documents,omitempty"`
}

// DocumentPreview is a short listing entry for a document in a dataset.
type DocumentPreview struct {
	ID          string `json:"id"`
	RowIndex    int    `json:"rowIndex"`
	TextPreview string `json:"textPreview"`
}

// Stats summarises the store.
type Stats struct {
	TotalDocuments       int        `json:"total_documents"`
	TotalIndexedDatasets int        `json:"total_indexed_datasets"`
	LastUpdated          *time.Time `json:"last_updated"`
	TotalEmbeddings      int        `json:"total_embeddings"`
	Dimension            int        `json:"dimension"`
	ModelVersion         string     `json:"model_version,omitempty"`
}
