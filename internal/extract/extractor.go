// Package extract turns dataset exports (CSV, JSONL, JSON, XLSX) into documents ready for indexing.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/ragindex/internal/models"
)

// Dataset is the parsed content of one export file.
type Dataset struct {
	ID        string
	Name      string
	Format    string
	Documents []models.DocumentInput
}

// Extractor converts export files into documents.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Supported reports whether path has an extension the extractor understands.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".jsonl", ".ndjson", ".json", ".xlsx":
		return true
	}
	return false
}

// Extract reads the file at path and converts it into documents of the given dataset.
// An empty datasetName defaults to the file name.
func (e *Extractor) Extract(path, datasetID, datasetName string) (*Dataset, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if datasetName == "" {
		datasetName = filepath.Base(path)
	}
	return e.ExtractBytes(content, strings.ToLower(filepath.Ext(path)), datasetID, datasetName)
}

// ExtractBytes converts content according to ext, which includes the leading dot.
func (e *Extractor) ExtractBytes(content []byte, ext, datasetID, datasetName string) (*Dataset, error) {
	ds := &Dataset{ID: datasetID, Name: datasetName}
	switch ext {
	case ".csv":
		rows, err := parseCSV(toValidUTF8(content))
		if err != nil {
			return nil, err
		}
		ds.Format = "csv"
		ds.Documents = rowsToDocuments(ds.ID, ds.Name, ds.Format, rows)
	case ".jsonl", ".ndjson":
		rows, err := parseJSONL(toValidUTF8(content))
		if err != nil {
			return nil, err
		}
		ds.Format = "jsonl"
		ds.Documents = rowsToDocuments(ds.ID, ds.Name, ds.Format, rows)
	case ".json":
		if err := parseJSON(toValidUTF8(content), ds); err != nil {
			return nil, err
		}
	case ".xlsx":
		rows, err := parseExcel(content)
		if err != nil {
			return nil, err
		}
		ds.Format = "xlsx"
		ds.Documents = rowsToDocuments(ds.ID, ds.Name, ds.Format, rows)
	default:
		return nil, fmt.Errorf("%w: unsupported file type %q", models.ErrInvalidInput, ext)
	}
	return ds, nil
}

// toValidUTF8 replaces invalid UTF-8 sequences with the replacement character.
func toValidUTF8(content []byte) []byte {
	if utf8.Valid(content) {
		return content
	}
	return []byte(strings.ToValidUTF8(string(content), "\uFFFD"))
}
