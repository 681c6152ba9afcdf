// Package extract turns normalized document text into candidate record
// fields by calling the external completion service and validating what
// comes back. Transient service failures and malformed responses degrade a
// document to review; they never fail a batch.
package extract

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"cloud.google.com/go/civil"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mlozhkin/docledger/internal/logger"
	"github.com/mlozhkin/docledger/internal/normalize"
)

// Config carries the extractor tunables. Zero values get defaults in New.
type Config struct {
	Temperature     float64
	MaxTokens       int32
	MaxAttempts     int
	BaseBackoff     time.Duration
	MerchantMaxLen  int
	DefaultCurrency string
	DateMin         civil.Date
	DateMax         civil.Date
}

// Extractor runs one synchronous completion call per document, with one
// corrective retry for malformed responses and bounded backoff for
// transient failures.
type Extractor struct {
	svc    CompletionService
	cfg    Config
	schema *jsonschema.Schema
}

// New builds an Extractor over the given completion service.
func New(svc CompletionService, cfg Config) (*Extractor, error) {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.MerchantMaxLen <= 0 {
		cfg.MerchantMaxLen = 120
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "USD"
	}
	if cfg.DateMin.IsZero() {
		cfg.DateMin = civil.Date{Year: 2000, Month: 1, Day: 1}
	}
	if cfg.DateMax.IsZero() {
		cfg.DateMax = civil.DateOf(time.Now().AddDate(0, 0, 1))
	}

	schema, err := buildResponseSchema()
	if err != nil {
		return nil, fmt.Errorf("extract.New: %w", err)
	}
	return &Extractor{svc: svc, cfg: cfg, schema: schema}, nil
}

// Extract produces a validated Result for one normalized document. The only
// error it returns is context cancellation; every service-side failure
// degrades into a Result the pipeline stores as needs_review.
func (e *Extractor) Extract(ctx context.Context, doc *normalize.Document) (*Result, error) {
	log := logger.FromContext(ctx)

	raw, err := e.completeWithRetry(ctx, buildPrompt(doc.Text))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn().Err(err).Str("document_hash", doc.Hash).Msg("Extraction degraded, completion service unavailable")
		return degradedResult(fmt.Sprintf("completion service unavailable after %d attempts", e.cfg.MaxAttempts)), nil
	}

	resp, perr := e.parseResponse(raw)
	if perr != nil {
		log.Warn().Err(perr).Str("document_hash", doc.Hash).Msg("Malformed response, sending corrective prompt")

		raw, err = e.completeWithRetry(ctx, buildCorrectivePrompt(doc.Text, compactValidationError(perr)))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return degradedResult("completion service unavailable during corrective retry"), nil
		}
		resp, perr = e.parseResponse(raw)
		if perr != nil {
			log.Warn().Err(perr).Str("document_hash", doc.Hash).Msg("Response malformed twice, degrading to review")
			return degradedResult("completion response was malformed twice; fields require manual entry"), nil
		}
	}

	res := e.toResult(resp)
	if res.Degraded || res.DateImplausible {
		log.Info().Str("document_hash", doc.Hash).Str("reason", res.Reason).Msg("Extraction produced incomplete candidate")
	}
	return res, nil
}

// completeWithRetry calls the service up to MaxAttempts times with
// exponential backoff and jitter between attempts.
func (e *Extractor) completeWithRetry(ctx context.Context, prompt string) (string, error) {
	req := Request{Prompt: prompt, Temperature: e.cfg.Temperature, MaxTokens: e.cfg.MaxTokens}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(backoffDelay(e.cfg.BaseBackoff, attempt-1)):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		out, err := e.svc.Complete(ctx, req)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("completeWithRetry: %w after %d attempts: %v", ErrServiceUnavailable, e.cfg.MaxAttempts, lastErr)
}

const maxBackoff = 10 * time.Second

// backoffDelay doubles per retry, capped, with jitter in the upper half of
// the window so synchronized workers spread out.
func backoffDelay(base time.Duration, retries int) time.Duration {
	if retries < 1 {
		retries = 1
	}
	if retries > 10 {
		retries = 10
	}
	d := base << (retries - 1)
	if d <= 0 || d > maxBackoff {
		d = maxBackoff
	}
	half := d / 2
	return half + rand.N(half+1)
}
