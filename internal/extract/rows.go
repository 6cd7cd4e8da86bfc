package extract

import (
	"fmt"
	"strings"

	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/pkg/utils"
)

const fieldPreviewChars = 100

// Row is one record of a tabular export with its column order preserved.
type Row struct {
	Keys   []string
	Values map[string]string
}

func rowsToDocuments(datasetID, datasetName, format string, rows []Row) []models.DocumentInput {
	docs := make([]models.DocumentInput, 0, len(rows))
	for idx, row := range rows {
		idx := idx
		meta := map[string]interface{}{
			"row_index":    idx,
			"dataset_id":   datasetID,
			"dataset_name": datasetName,
			"format":       format,
		}
		for _, k := range row.Keys {
			if v := strings.TrimSpace(row.Values[k]); v != "" {
				meta["field_"+k] = truncateRunes(row.Values[k], fieldPreviewChars)
			}
		}
		fullText := utils.JoinFields(row.Keys, row.Values)
		if fullText == "" {
			fullText = fmt.Sprintf("Row %d", idx)
		}
		docs = append(docs, models.DocumentInput{
			ID:         fmt.Sprintf("%s_row_%d", datasetID, idx),
			FullText:   fullText,
			Prompt:     firstNonEmpty(row.Values["prompt"], fullText),
			Completion: firstNonEmpty(row.Values["completion"], fullText),
			Intent:     "data",
			Category:   "dataset_row",
			RowIndex:   &idx,
			Metadata:   meta,
		})
	}
	return docs
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
