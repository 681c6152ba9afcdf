// Package record defines the core domain types shared across the pipeline:
// the document record produced by extraction, the money value object, the
// category taxonomy and the audit trail entries.
package record

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// SourceKind identifies the format a document was submitted in.
type SourceKind string

const (
	SourceImage SourceKind = "image"
	SourcePDF   SourceKind = "pdf"
	SourceText  SourceKind = "text"
)

// ParseSourceKind maps a submitted kind string onto a known SourceKind.
func ParseSourceKind(s string) (SourceKind, error) {
	switch SourceKind(s) {
	case SourceImage, SourcePDF, SourceText:
		return SourceKind(s), nil
	}
	return "", fmt.Errorf("ParseSourceKind: unknown source kind %q", s)
}

// Status is the review state of a stored record. A record transitions from
// pending to exactly one terminal status and never transitions again.
type Status string

const (
	StatusPending     Status = "pending"
	StatusAccepted    Status = "accepted"
	StatusRejected    Status = "rejected"
	StatusNeedsReview Status = "needs_review"
)

// Terminal reports whether the status is one of the end states.
func (s Status) Terminal() bool {
	switch s {
	case StatusAccepted, StatusRejected, StatusNeedsReview:
		return true
	}
	return false
}

// ParseStatus maps a submitted status string onto a known Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusAccepted, StatusRejected, StatusNeedsReview:
		return Status(s), nil
	}
	return "", fmt.Errorf("ParseStatus: unknown status %q", s)
}

// FieldConfidence carries the per-field confidences reported by extraction.
// They are retained on the record so review tooling can show which field
// dragged the overall confidence down.
type FieldConfidence struct {
	Merchant float64 `json:"merchant"`
	Amount   float64 `json:"amount"`
	Date     float64 `json:"date"`
	Category float64 `json:"category"`
}

// LineItem is a single extracted receipt line.
type LineItem struct {
	Description string `json:"description"`
	Amount      Money  `json:"amount"`
}

// DocumentRecord is one processed financial document.
//
// ID is the stable content hash of the normalized input and doubles as the
// deduplication key. Confidence is the minimum of the extraction confidence
// and the categorization confidence, both in [0,1].
type DocumentRecord struct {
	ID                   string          `json:"id"`
	Merchant             string          `json:"merchant"`
	Description          string          `json:"description,omitempty"`
	Amount               Money           `json:"amount"`
	Date                 civil.Date      `json:"date"`
	Category             Category        `json:"category"`
	Confidence           float64         `json:"confidence"`
	ExtractionConfidence float64         `json:"extraction_confidence"`
	FieldConfidence      FieldConfidence `json:"field_confidence"`
	SourceKind           SourceKind      `json:"source_kind"`
	RawExcerpt           string          `json:"raw_excerpt,omitempty"`
	Status               Status          `json:"status"`
	Supersedes           string          `json:"supersedes,omitempty"`
	LineItems            []LineItem      `json:"line_items,omitempty"`
	ReviewReason         string          `json:"review_reason,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

// Clone returns a deep copy so stored records never leak mutable state.
func (r *DocumentRecord) Clone() *DocumentRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.LineItems != nil {
		out.LineItems = make([]LineItem, len(r.LineItems))
		copy(out.LineItems, r.LineItems)
	}
	return &out
}
