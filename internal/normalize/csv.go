package normalize

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
)

// textColumns are the header names, checked in order, whose column carries
// one document per row in a CSV bundle.
var textColumns = []string{"text", "content", "receipt_text"}

// ExpandCSV splits a CSV bundle into one text document per non-empty row.
// The bundle must have a header row naming one of the recognized text
// columns; other columns are ignored.
func ExpandCSV(content []byte) ([][]byte, error) {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("ExpandCSV: parse: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("ExpandCSV: need a header row and at least one data row, got %d rows", len(rows))
	}

	col := -1
	for _, want := range textColumns {
		for i, name := range rows[0] {
			if strings.EqualFold(strings.TrimSpace(name), want) {
				col = i
				break
			}
		}
		if col >= 0 {
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("ExpandCSV: no text column in header (expected one of %s)", strings.Join(textColumns, ", "))
	}

	var docs [][]byte
	for _, row := range rows[1:] {
		if col >= len(row) {
			continue
		}
		if text := strings.TrimSpace(row[col]); text != "" {
			docs = append(docs, []byte(text))
		}
	}
	return docs, nil
}
