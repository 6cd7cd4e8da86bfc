// Package cli provides output helpers and an HTTP client for the ragindex CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const previewLen = 200

// ParseOutputFormat accepts "text" or "json".
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
// Unknown formats are treated as text.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", response.TotalResults, response.QueryTime)
	for i, result := range response.Results {
		writeOneResult(w, i+1, result)
	}
	return nil
}

func writeOneResult(w io.Writer, rank int, result *models.SearchResult) {
	doc := result.Document
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Similarity: %.4f\n", rank, result.Similarity)
	fmt.Fprintf(w, "ID: %s\n", doc.ID)
	if doc.DatasetName != "" {
		fmt.Fprintf(w, "Dataset: %s (%s)\n", doc.DatasetName, doc.DatasetID)
	} else {
		fmt.Fprintf(w, "Dataset: %s\n", doc.DatasetID)
	}
	fmt.Fprintf(w, "\n%s\n", utils.Truncate(doc.FullText, previewLen))
	fmt.Fprintln(w)
}

// WriteContext writes a context bundle. Text output is the prompt itself.
func WriteContext(w io.Writer, bundle *models.ContextBundle, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, bundle)
	}
	_, err := fmt.Fprintln(w, bundle.Prompt)
	return err
}

// WriteDatasets writes dataset summaries, with previews when present.
func WriteDatasets(w io.Writer, datasets []models.DatasetSummary, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{"datasets": datasets, "total": len(datasets)})
	}
	if len(datasets) == 0 {
		fmt.Fprintln(w, "No datasets indexed")
		return nil
	}
	for _, ds := range datasets {
		fmt.Fprintf(w, "%s\t%s\t%d documents\t%s\n", ds.DatasetID, ds.DatasetName, ds.DocumentCount, ds.Category)
		for _, p := range ds.Documents {
			fmt.Fprintf(w, "  [%d] %s: %s\n", p.RowIndex, p.ID, p.TextPreview)
		}
	}
	return nil
}

// WriteStats writes a status report.
func WriteStats(w io.Writer, r *models.StatusReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, r)
	}
	fmt.Fprintf(w, "documents:          %d   # indexed documents\n", r.TotalDocuments)
	fmt.Fprintf(w, "datasets:           %d   # live datasets\n", r.TotalIndexedDatasets)
	fmt.Fprintf(w, "embeddings:         %d   # stored vectors across fields\n", r.TotalEmbeddings)
	fmt.Fprintf(w, "dimension:          %d\n", r.Dimension)
	if r.ModelVersion != "" {
		fmt.Fprintf(w, "model_version:      %s\n", r.ModelVersion)
	}
	if r.LastUpdated != nil {
		fmt.Fprintf(w, "last_updated:       %s\n", r.LastUpdated.Format("2006-01-02 15:04:05 MST"))
	}
	if r.EngineState != "" {
		fmt.Fprintf(w, "engine_state:       %s\n", r.EngineState)
	}
	if r.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d   # persisted index on disk\n", *r.DiskUsageBytes)
	}
	fmt.Fprintf(w, "persist_pending:    %t\n", r.PersistPending)
	return nil
}
