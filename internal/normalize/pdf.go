package normalize

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDFText pulls the embedded text layer, row by row so line breaks
// follow the page layout. Scanned PDFs without a text layer come back blank
// and surface as ErrEmptyDocument in the caller.
func extractPDFText(content []byte) (text string, err error) {
	// The reader panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("extractPDFText: reader panic: %v: %w", r, ErrUnsupportedFormat)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extractPDFText: %v: %w", err, ErrUnsupportedFormat)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			// A single unreadable page should not sink the document.
			continue
		}
		for _, row := range rows {
			words := make([]string, 0, len(row.Content))
			for _, word := range row.Content {
				if word.S != "" {
					words = append(words, word.S)
				}
			}
			if len(words) > 0 {
				sb.WriteString(strings.Join(words, " "))
				sb.WriteByte('\n')
			}
		}
	}
	return sb.String(), nil
}
