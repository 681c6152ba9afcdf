package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mlozhkin/docledger/internal/logger"
	"github.com/mlozhkin/docledger/internal/record"
)

// Batch lifecycle states. A batch always ends done: individual documents
// fail, batches do not.
const (
	BatchProcessing = "processing"
	BatchDone       = "done"
)

// BatchReport aggregates the outcome of one submission.
type BatchReport struct {
	BatchID     string           `json:"batch_id"`
	State       string           `json:"state"`
	Accepted    int              `json:"accepted"`
	NeedsReview int              `json:"needs_review"`
	Rejected    int              `json:"rejected"`
	Failed      int              `json:"failed"`
	Duplicates  int              `json:"duplicates"`
	Documents   []DocumentReport `json:"documents"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
}

// ProcessBatch runs every input through the pipeline using a bounded worker
// pool. Document order in the report matches submission order regardless of
// completion order.
func (p *Processor) ProcessBatch(ctx context.Context, batchID string, inputs []Input) *BatchReport {
	if batchID == "" {
		batchID = uuid.NewString()
	}
	report := &BatchReport{
		BatchID:   batchID,
		State:     BatchProcessing,
		StartedAt: time.Now().UTC(),
		Documents: make([]DocumentReport, len(inputs)),
	}
	log := logger.FromContext(ctx).With().Str("batch_id", batchID).Logger()
	ctx = logger.WithContext(ctx, log)
	log.Info().Int("documents", len(inputs)).Msg("Processing batch")

	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := p.workers
	if workers > len(inputs) {
		workers = len(inputs)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				report.Documents[i] = p.ProcessDocument(ctx, inputs[i])
			}
		}()
	}
	for i := range inputs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, doc := range report.Documents {
		switch {
		case doc.State == StateFailed:
			report.Failed++
		case doc.Duplicate:
			report.Duplicates++
		case doc.Status == record.StatusAccepted:
			report.Accepted++
		case doc.Status == record.StatusNeedsReview:
			report.NeedsReview++
		case doc.Status == record.StatusRejected:
			report.Rejected++
		}
	}
	report.State = BatchDone
	report.FinishedAt = time.Now().UTC()

	log.Info().
		Int("accepted", report.Accepted).
		Int("needs_review", report.NeedsReview).
		Int("rejected", report.Rejected).
		Int("failed", report.Failed).
		Int("duplicates", report.Duplicates).
		Msg("Batch complete")
	return report
}
