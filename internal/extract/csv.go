package extract

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// parseCSV reads a header row followed by records. Short records leave missing columns empty.
func parseCSV(content []byte) ([]Row, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	keys := normalizeHeader(header)

	var rows []Row
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv record: %w", err)
		}
		rows = append(rows, recordToRow(keys, rec))
	}
	return rows, nil
}

func normalizeHeader(header []string) []string {
	keys := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		k := strings.TrimSpace(h)
		if k == "" {
			k = fmt.Sprintf("column_%d", i+1)
		}
		if n := seen[k]; n > 0 {
			seen[k]++
			k = fmt.Sprintf("%s_%d", k, n+1)
		} else {
			seen[k] = 1
		}
		keys[i] = k
	}
	return keys
}

func recordToRow(keys, rec []string) Row {
	row := Row{Keys: keys, Values: make(map[string]string, len(keys))}
	for i, k := range keys {
		if i < len(rec) {
			row.Values[k] = rec[i]
		}
	}
	return row
}
