package extract

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hyperjump/ragindex/internal/models"
)

// parseJSONL reads one JSON object per line. Blank lines are skipped.
func parseJSONL(content []byte) ([]Row, error) {
	var rows []Row
	sc := bufio.NewScanner(bytes.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		row, err := decodeObject(raw)
		if err != nil {
			return nil, fmt.Errorf("jsonl line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read jsonl: %w", err)
	}
	return rows, nil
}

type parsedParagraph struct {
	ID             interface{}            `json:"id"`
	Text           string                 `json:"text"`
	Page           *int                   `json:"page"`
	ParagraphIndex *int                   `json:"paragraph_index"`
	WordCount      int                    `json:"word_count"`
	CharCount      int                    `json:"char_count"`
	Annotations    map[string]interface{} `json:"annotations"`
}

type jsonExport struct {
	Filename         string            `json:"filename"`
	ExtractionMethod string            `json:"extraction_method"`
	Paragraphs       []parsedParagraph `json:"paragraphs"`
	Name             string            `json:"name"`
	Format           string            `json:"format"`
	Data             []json.RawMessage `json:"data"`
}

// parseJSON accepts three shapes: a parsed document with "paragraphs", a dataset export
// with "data" rows, or a bare array of row objects.
func parseJSON(content []byte, ds *Dataset) error {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return fmt.Errorf("parse json array: %w", err)
		}
		rows, err := decodeObjects(items)
		if err != nil {
			return err
		}
		ds.Format = "json"
		ds.Documents = rowsToDocuments(ds.ID, ds.Name, ds.Format, rows)
		return nil
	}

	var exp jsonExport
	if err := json.Unmarshal(trimmed, &exp); err != nil {
		return fmt.Errorf("parse json: %w", err)
	}
	switch {
	case exp.Paragraphs != nil:
		ds.Format = "parsed"
		ds.Documents = paragraphsToDocuments(ds.ID, exp)
	case exp.Data != nil:
		rows, err := decodeObjects(exp.Data)
		if err != nil {
			return err
		}
		ds.Format = exp.Format
		if ds.Format == "" {
			ds.Format = "json"
		}
		if exp.Name != "" && ds.Name == "" {
			ds.Name = exp.Name
		}
		ds.Documents = rowsToDocuments(ds.ID, ds.Name, ds.Format, rows)
	default:
		return fmt.Errorf("%w: json has neither \"paragraphs\" nor \"data\"", models.ErrInvalidInput)
	}
	return nil
}

func paragraphsToDocuments(datasetID string, exp jsonExport) []models.DocumentInput {
	method := exp.ExtractionMethod
	if method == "" {
		method = "unknown"
	}
	docs := make([]models.DocumentInput, 0, len(exp.Paragraphs))
	for idx, p := range exp.Paragraphs {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		idx := idx
		page := 1
		if p.Page != nil {
			page = *p.Page
		}
		pIndex := idx
		if p.ParagraphIndex != nil {
			pIndex = *p.ParagraphIndex
		}
		annotations := p.Annotations
		if annotations == nil {
			annotations = map[string]interface{}{}
		}
		pid := fmt.Sprint(idx)
		if p.ID != nil {
			pid = fmt.Sprint(p.ID)
		}
		docs = append(docs, models.DocumentInput{
			ID:         datasetID + "_" + pid,
			FullText:   p.Text,
			Prompt:     p.Text,
			Completion: p.Text,
			Intent:     "content",
			Category:   "paragraph",
			RowIndex:   &idx,
			Metadata: map[string]interface{}{
				"page":              page,
				"paragraph_index":   pIndex,
				"word_count":        p.WordCount,
				"char_count":        p.CharCount,
				"annotations":       annotations,
				"extraction_method": method,
			},
		})
	}
	return docs
}

func decodeObjects(items []json.RawMessage) ([]Row, error) {
	rows := make([]Row, 0, len(items))
	for i, raw := range items {
		row, err := decodeObject(raw)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// decodeObject reads a flat JSON object keeping key order. Non-string values keep
// their JSON text; null becomes empty.
func decodeObject(raw []byte) (Row, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return Row{}, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return Row{}, fmt.Errorf("%w: expected a JSON object", models.ErrInvalidInput)
	}
	row := Row{Values: make(map[string]string)}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return Row{}, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return Row{}, fmt.Errorf("%w: object key is not a string", models.ErrInvalidInput)
		}
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return Row{}, err
		}
		if _, dup := row.Values[key]; !dup {
			row.Keys = append(row.Keys, key)
		}
		row.Values[key] = rawToString(v)
	}
	if _, err := dec.Token(); err != nil {
		return Row{}, err
	}
	return row, nil
}

func rawToString(v json.RawMessage) string {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || string(v) == "null" {
		return ""
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return string(v)
	}
	return buf.String()
}
