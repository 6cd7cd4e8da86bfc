package extract

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// parseExcel reads every sheet; the first row of each sheet is its header.
func parseExcel(content []byte) ([]Row, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	var out []Row
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		keys := normalizeHeader(rows[0])
		for _, rec := range rows[1:] {
			if isBlank(rec) {
				continue
			}
			out = append(out, recordToRow(keys, rec))
		}
	}
	return out, nil
}

func isBlank(rec []string) bool {
	for _, c := range rec {
		if c != "" {
			return false
		}
	}
	return true
}
