// Package normalize converts raw submitted documents (plain text, PDF,
// image) into canonical UTF-8 text the extractor can consume. Normalization
// is pure: no network calls, no stored state. The content hash computed here
// becomes the record id and the deduplication key.
package normalize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/mlozhkin/docledger/internal/record"
)

var (
	// ErrUnsupportedFormat means the declared source kind could not be
	// parsed. Fatal to the document, never to the batch.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrEmptyDocument means normalization produced no usable text.
	ErrEmptyDocument = errors.New("empty document")
)

// Document is the normalized form of one submitted document.
type Document struct {
	// Text is canonical UTF-8 with line breaks preserved.
	Text string
	// Kind is the declared source kind the text came from.
	Kind record.SourceKind
	// Hash is the stable content hash; it becomes the record id.
	Hash string
	// LineCount is a cheap layout hint for prompt sizing.
	LineCount int
	// Excerpt is a bounded snippet retained on the record for audit.
	Excerpt string
}

// Normalizer dispatches on source kind. The OCR runner is injectable so
// image handling is testable without a tesseract install.
type Normalizer struct {
	runner     CommandRunner
	ocrBinary  string
	excerptLen int
}

// New builds a Normalizer with the real exec-based OCR runner.
func New(excerptLen int) *Normalizer {
	return NewWithRunner(execRunner{}, excerptLen)
}

// NewWithRunner builds a Normalizer with a custom command runner.
func NewWithRunner(runner CommandRunner, excerptLen int) *Normalizer {
	if excerptLen <= 0 {
		excerptLen = 500
	}
	return &Normalizer{runner: runner, ocrBinary: "tesseract", excerptLen: excerptLen}
}

// Normalize converts raw bytes of the declared kind into a Document.
func (n *Normalizer) Normalize(ctx context.Context, content []byte, kind record.SourceKind) (*Document, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("Normalize: no content submitted: %w", ErrEmptyDocument)
	}

	var text string
	var err error
	switch kind {
	case record.SourceText:
		text = string(content)
	case record.SourcePDF:
		text, err = extractPDFText(content)
	case record.SourceImage:
		text, err = n.ocrImage(ctx, content)
	default:
		return nil, fmt.Errorf("Normalize: unknown source kind %q: %w", kind, ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, err
	}

	text = CleanText(text)
	if text == "" {
		return nil, fmt.Errorf("Normalize: %s document normalized to blank text: %w", kind, ErrEmptyDocument)
	}

	return &Document{
		Text:      text,
		Kind:      kind,
		Hash:      ContentHash(kind, text),
		LineCount: strings.Count(text, "\n") + 1,
		Excerpt:   clipRunes(text, n.excerptLen),
	}, nil
}

// ContentHash derives the stable record id from the source kind and the
// normalized text. Identical submissions always hash to the same id.
func ContentHash(kind record.SourceKind, text string) string {
	sum := sha256.Sum256([]byte(string(kind) + "\n" + text))
	return hex.EncodeToString(sum[:])
}

func clipRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
