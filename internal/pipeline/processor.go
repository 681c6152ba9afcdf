// Package pipeline drives each document through normalization, extraction,
// categorization and ledger acceptance. Documents are independent: one
// document's failure never blocks its batch, and only the normalizer can
// fail a document outright.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mlozhkin/docledger/internal/categorize"
	"github.com/mlozhkin/docledger/internal/extract"
	"github.com/mlozhkin/docledger/internal/ledger"
	"github.com/mlozhkin/docledger/internal/logger"
	"github.com/mlozhkin/docledger/internal/normalize"
	"github.com/mlozhkin/docledger/internal/record"
)

// DocumentState tracks how far a document travelled through the pipeline.
type DocumentState string

const (
	StateReceived     DocumentState = "received"
	StateNormalizing  DocumentState = "normalizing"
	StateExtracting   DocumentState = "extracting"
	StateCategorizing DocumentState = "categorizing"
	StateLedgering    DocumentState = "ledgering"
	StateDone         DocumentState = "done"
	StateFailed       DocumentState = "failed"
)

// Input is one raw document submitted for processing.
type Input struct {
	Content    []byte            `json:"content"`
	SourceKind record.SourceKind `json:"source_kind"`
	Filename   string            `json:"filename,omitempty"`
	Supersedes string            `json:"supersedes,omitempty"`
	Actor      string            `json:"actor,omitempty"`
}

// DocumentReport is the per-document outcome inside a batch report.
type DocumentReport struct {
	Filename  string        `json:"filename,omitempty"`
	RecordID  string        `json:"record_id,omitempty"`
	State     DocumentState `json:"state"`
	Status    record.Status `json:"status,omitempty"`
	Duplicate bool          `json:"duplicate,omitempty"`
	Error     string        `json:"error,omitempty"`
	AuditIDs  []string      `json:"audit_ids,omitempty"`
}

// Normalizer converts raw bytes into canonical text.
type Normalizer interface {
	Normalize(ctx context.Context, content []byte, kind record.SourceKind) (*normalize.Document, error)
}

// Extractor turns normalized text into a structured candidate.
type Extractor interface {
	Extract(ctx context.Context, doc *normalize.Document) (*extract.Result, error)
}

// Categorizer resolves the final category for a candidate.
type Categorizer interface {
	Categorize(merchant, suggested string, suggestedConfidence float64) categorize.Decision
}

// Ledger accepts finalized candidates and exposes their audit trail.
type Ledger interface {
	Accept(ctx context.Context, rec *record.DocumentRecord, actor string) (*record.DocumentRecord, error)
	Audit(recordID string) []record.AuditEntry
}

// Archiver stores raw document bytes out of band for later reprocessing.
type Archiver interface {
	Upload(ctx context.Context, name string, content []byte) (string, error)
}

// Options tune a Processor. The zero value is usable.
type Options struct {
	// Workers bounds batch concurrency. Defaults to 1.
	Workers int
	// DocumentTimeout bounds a single document's extraction call. The rest
	// of its batch is unaffected when it fires. Zero disables the timeout.
	DocumentTimeout time.Duration
	// Archiver, when set, receives every normalized document's raw bytes.
	// Archiving is best effort and never fails a document.
	Archiver Archiver
}

// Processor runs the per-document state machine.
type Processor struct {
	normalizer  Normalizer
	extractor   Extractor
	categorizer Categorizer
	ledger      Ledger
	archiver    Archiver
	workers     int
	timeout     time.Duration
}

// NewProcessor wires the pipeline stages together.
func NewProcessor(n Normalizer, x Extractor, c Categorizer, l Ledger, opts Options) (*Processor, error) {
	if n == nil || x == nil || c == nil || l == nil {
		return nil, fmt.Errorf("NewProcessor: all stages are required")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Processor{
		normalizer:  n,
		extractor:   x,
		categorizer: c,
		ledger:      l,
		archiver:    opts.Archiver,
		workers:     workers,
		timeout:     opts.DocumentTimeout,
	}, nil
}

// ProcessDocument runs one document through every stage. The failed state is
// reserved for normalization errors and batch cancellation; every later
// problem degrades the document to needs_review or rejected instead.
func (p *Processor) ProcessDocument(ctx context.Context, in Input) DocumentReport {
	log := logger.FromContext(ctx)
	report := DocumentReport{Filename: in.Filename, State: StateReceived}

	report.State = StateNormalizing
	doc, err := p.normalizer.Normalize(ctx, in.Content, in.SourceKind)
	if err != nil {
		report.State = StateFailed
		report.Error = err.Error()
		log.Error().
			Err(err).
			Str("filename", in.Filename).
			Msg("Document failed normalization")
		return report
	}

	if p.archiver != nil {
		if _, aerr := p.archiver.Upload(ctx, archiveName(doc, in), in.Content); aerr != nil {
			log.Warn().
				Err(aerr).
				Str("document_hash", doc.Hash).
				Msg("Archiving document failed, continuing")
		}
	}

	report.State = StateExtracting
	res, err := p.extract(ctx, doc)
	if err != nil {
		// Only batch-level cancellation surfaces here; a per-document
		// timeout was already converted to a degraded result.
		report.State = StateFailed
		report.Error = err.Error()
		return report
	}

	report.State = StateCategorizing
	decision := p.categorizer.Categorize(res.Merchant, res.SuggestedCategory, res.CategoryConfidence)

	report.State = StateLedgering
	stored, err := p.ledger.Accept(ctx, p.compose(doc, in, res, decision), in.Actor)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrDuplicate):
		report.Duplicate = true
	default:
		report.State = StateFailed
		report.Error = err.Error()
		log.Error().
			Err(err).
			Str("document_hash", doc.Hash).
			Msg("Ledger rejected candidate")
		return report
	}

	report.State = StateDone
	report.RecordID = stored.ID
	report.Status = stored.Status
	for _, entry := range p.ledger.Audit(stored.ID) {
		report.AuditIDs = append(report.AuditIDs, entry.ID)
	}
	return report
}

// extract calls the extractor under the per-document timeout. A timeout
// degrades the document; only cancellation of the parent context is an error.
func (p *Processor) extract(ctx context.Context, doc *normalize.Document) (*extract.Result, error) {
	extractCtx := ctx
	cancel := func() {}
	if p.timeout > 0 {
		extractCtx, cancel = context.WithTimeout(ctx, p.timeout)
	}
	defer cancel()

	res, err := p.extractor.Extract(extractCtx, doc)
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("extract: %w", ctx.Err())
	}
	log := logger.FromContext(ctx)
	log.Warn().
		Str("document_hash", doc.Hash).
		Dur("timeout", p.timeout).
		Msg("Extraction timed out, routing document to review")
	return &extract.Result{
		Degraded: true,
		Reason:   fmt.Sprintf("extraction timed out after %s", p.timeout),
	}, nil
}

// compose assembles the ledger candidate. The stored confidence is the
// minimum of the extraction and categorization confidences.
func (p *Processor) compose(doc *normalize.Document, in Input, res *extract.Result, decision categorize.Decision) *record.DocumentRecord {
	rec := &record.DocumentRecord{
		ID:                   doc.Hash,
		Merchant:             res.Merchant,
		Description:          res.Description,
		Amount:               res.Amount,
		Date:                 res.Date,
		Category:             decision.Category,
		Confidence:           math.Min(res.Confidence, decision.Confidence),
		ExtractionConfidence: res.Confidence,
		FieldConfidence:      res.FieldConfidence,
		SourceKind:           doc.Kind,
		RawExcerpt:           doc.Excerpt,
		Status:               record.StatusPending,
		Supersedes:           in.Supersedes,
		LineItems:            res.LineItems,
	}
	rec.FieldConfidence.Category = decision.Confidence

	switch {
	case res.DateImplausible:
		rec.Status = record.StatusRejected
		rec.ReviewReason = res.Reason
	case res.Degraded:
		rec.ReviewReason = res.Reason
	case decision.NeedsReview:
		rec.ReviewReason = decision.Reason
	}
	return rec
}

func archiveName(doc *normalize.Document, in Input) string {
	if in.Filename != "" {
		return fmt.Sprintf("%s/%s", doc.Hash[:12], in.Filename)
	}
	return fmt.Sprintf("%s/document.%s", doc.Hash[:12], in.SourceKind)
}
