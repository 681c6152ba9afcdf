package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/mlozhkin/docledger/internal/record"
)

// exportHeader fixes the column order for both export formats. Downstream
// accounting imports key on these names.
var exportHeader = []string{"id", "date", "merchant", "amount", "category", "confidence", "status"}

const exportSheet = "Records"

// WriteCSV writes the matching records as CSV, header first, in the ledger's
// canonical ordering.
func (s *Store) WriteCSV(w io.Writer, filters ...Filter) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return fmt.Errorf("WriteCSV: writing header: %w", err)
	}
	for _, rec := range s.Records(filters...) {
		if err := cw.Write(exportRow(rec)); err != nil {
			return fmt.Errorf("WriteCSV: writing record %s: %w", rec.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("WriteCSV: flushing: %w", err)
	}
	return nil
}

// WriteXLSX writes the matching records as a single-sheet workbook with the
// same columns and ordering as the CSV export.
func (s *Store) WriteXLSX(w io.Writer, filters ...Filter) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return fmt.Errorf("WriteXLSX: naming sheet: %w", err)
	}
	for col, name := range exportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("WriteXLSX: header cell: %w", err)
		}
		if err := f.SetCellValue(exportSheet, cell, name); err != nil {
			return fmt.Errorf("WriteXLSX: writing header: %w", err)
		}
	}

	row := 2
	for _, rec := range s.Records(filters...) {
		for col, value := range exportRow(rec) {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return fmt.Errorf("WriteXLSX: cell for record %s: %w", rec.ID, err)
			}
			if err := f.SetCellValue(exportSheet, cell, value); err != nil {
				return fmt.Errorf("WriteXLSX: writing record %s: %w", rec.ID, err)
			}
		}
		row++
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("WriteXLSX: writing workbook: %w", err)
	}
	return nil
}

func exportRow(rec record.DocumentRecord) []string {
	return []string{
		rec.ID,
		rec.Date.String(),
		rec.Merchant,
		rec.Amount.String(),
		string(rec.Category),
		strconv.FormatFloat(rec.Confidence, 'f', 2, 64),
		string(rec.Status),
	}
}
