package search

import (
	"fmt"
	"strings"

	"github.com/hyperjump/ragindex/internal/config"
	"github.com/hyperjump/ragindex/internal/models"
)

const closingInstruction = "Please answer the user's query using the provided context when relevant."

// Assemble turns ranked results into a context bundle. Entries keep result order. With
// maxChars > 0, entries are added while their combined content fits the budget and the
// first entry that does not fit ends the list. The prompt depends only on its inputs.
func Assemble(query, preamble string, results []*models.SearchResult, field models.SearchField, maxChars int) *models.ContextBundle {
	if preamble == "" {
		preamble = config.DefaultSystemPreamble
	}
	entries := make([]models.ContextEntry, 0, len(results))
	used := 0
	for _, r := range results {
		content := r.Document.Text(field)
		if content == "" {
			content = r.Document.FullText
		}
		n := len([]rune(content))
		if maxChars > 0 && used+n > maxChars {
			break
		}
		used += n
		entries = append(entries, models.ContextEntry{
			Source:         SourceLabel(r.Document),
			Content:        content,
			RelevanceScore: r.RelevanceScore,
		})
	}
	return &models.ContextBundle{
		Prompt:       BuildPrompt(query, preamble, entries),
		Context:      entries,
		HasContext:   len(entries) > 0,
		ContextCount: len(entries),
	}
}

// BuildPrompt renders the preamble, context sections, and query.
func BuildPrompt(query, preamble string, entries []models.ContextEntry) string {
	var b strings.Builder
	b.WriteString(preamble)
	b.WriteString("\n\n")
	if len(entries) == 0 {
		b.WriteString("User Query: ")
		b.WriteString(query)
		return b.String()
	}
	b.WriteString("Retrieved Context:\n")
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[Context %d] (Relevance: %.1f%%)\nSource: %s\nContent: %s\n", i+1, e.RelevanceScore*100, e.Source, e.Content)
	}
	b.WriteString("\nUser Query: ")
	b.WriteString(query)
	b.WriteString("\n\n")
	b.WriteString(closingInstruction)
	return b.String()
}

// SourceLabel names where a document came from: the dataset name, with the page when
// the metadata carries one, or the document id when the dataset is unnamed.
func SourceLabel(d *models.IndexedDocument) string {
	name := d.DatasetName
	if name == "" {
		name = d.ID
	}
	if page, ok := d.Metadata["page"]; ok && page != nil {
		return fmt.Sprintf("%s (Page %v)", name, page)
	}
	return name
}
