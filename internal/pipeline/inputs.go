package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mlozhkin/docledger/internal/normalize"
	"github.com/mlozhkin/docledger/internal/record"
)

// KindForFilename maps a filename extension onto a source kind. Unknown
// extensions are treated as plain text.
func KindForFilename(name string) record.SourceKind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return record.SourcePDF
	case ".png", ".jpg", ".jpeg":
		return record.SourceImage
	}
	return record.SourceText
}

// InputsFromFile converts one file into pipeline inputs. CSV bundles expand
// to one text input per non-empty row, named name#row; everything else maps
// to a single input of the extension's kind.
func InputsFromFile(filename string, content []byte) ([]Input, error) {
	name := filepath.Base(filename)

	if strings.EqualFold(filepath.Ext(name), ".csv") {
		docs, err := normalize.ExpandCSV(content)
		if err != nil {
			return nil, fmt.Errorf("InputsFromFile: expanding %s: %w", name, err)
		}
		inputs := make([]Input, 0, len(docs))
		for i, doc := range docs {
			inputs = append(inputs, Input{
				Content:    doc,
				SourceKind: record.SourceText,
				Filename:   fmt.Sprintf("%s#%d", name, i+1),
			})
		}
		return inputs, nil
	}

	return []Input{{Content: content, SourceKind: KindForFilename(name), Filename: name}}, nil
}
