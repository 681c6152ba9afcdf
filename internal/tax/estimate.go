package tax

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mlozhkin/docledger/internal/ledger"
	"github.com/mlozhkin/docledger/internal/logger"
	"github.com/mlozhkin/docledger/internal/record"
)

// Candidate ties one accepted record to the single deduction rule it matched.
type Candidate struct {
	RecordID  string       `json:"record_id"`
	Deduction record.Money `json:"deduction"`
	Rule      string       `json:"rule"`
}

// Estimate is a derived view over one quarter of the ledger. It is recomputed
// on demand and never stored, so it always reflects the ledger as of
// ComputedAt. A negative liability means overpayment; the sign is meaningful
// and is never clamped.
type Estimate struct {
	Period             Quarter      `json:"period"`
	GrossIncome        record.Money `json:"gross_income"`
	Withheld           record.Money `json:"withheld"`
	TotalDeductions    record.Money `json:"total_deductions"`
	TaxableIncome      record.Money `json:"taxable_income"`
	EstimatedTax       record.Money `json:"estimated_tax"`
	EstimatedLiability record.Money `json:"estimated_liability"`
	Candidates         []Candidate  `json:"deductible_candidates"`
	Partial            bool         `json:"partial"`
	PendingRecordIDs   []string     `json:"pending_record_ids,omitempty"`
	Warning            string       `json:"warning,omitempty"`
	ComputedAt         time.Time    `json:"computed_at"`
}

// Estimator applies a deduction rule set and bracket table to the ledger.
type Estimator struct {
	store *ledger.Store
	cfg   Config
	rules []Rule
}

// NewEstimator validates the configuration and pre-sorts the rules by
// priority.
func NewEstimator(store *ledger.Store, cfg Config) (*Estimator, error) {
	if store == nil {
		return nil, fmt.Errorf("NewEstimator: nil store")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("NewEstimator: %w", err)
	}
	return &Estimator{store: store, cfg: cfg, rules: cfg.sortedRules()}, nil
}

// Estimate computes deductions and liability for one quarter. Each accepted
// record in the period contributes to at most one rule. Records still waiting
// for review do not abort the estimate: they are listed as pending and the
// result is flagged partial so callers know not to trust it yet.
func (e *Estimator) Estimate(ctx context.Context, period Quarter, gross, withheld record.Money) (*Estimate, error) {
	if !period.Valid() {
		return nil, fmt.Errorf("Estimate: invalid period %d-Q%d", period.Year, period.Q)
	}
	from, to := period.Range()

	est := &Estimate{
		Period:      period,
		GrossIncome: gross,
		Withheld:    withheld,
		ComputedAt:  time.Now().UTC(),
	}

	for _, rec := range e.store.Records(ledger.ByDateRange(from, to)) {
		switch rec.Status {
		case record.StatusNeedsReview:
			// A superseded review record has already been replaced by a
			// corrected one, so it no longer blocks the period.
			if _, superseded := e.store.SupersededBy(rec.ID); !superseded {
				est.PendingRecordIDs = append(est.PendingRecordIDs, rec.ID)
			}
			continue
		case record.StatusAccepted:
		default:
			continue
		}

		for _, rule := range e.rules {
			if !rule.Matches(rec) {
				continue
			}
			deduction := record.NewMoney(rule.Deduction(rec), rec.Amount.Currency())
			var err error
			if est.TotalDeductions, err = est.TotalDeductions.Add(deduction); err != nil {
				return nil, fmt.Errorf("Estimate: record %s: %w", rec.ID, err)
			}
			est.Candidates = append(est.Candidates, Candidate{
				RecordID:  rec.ID,
				Deduction: deduction,
				Rule:      rule.Name,
			})
			break
		}
	}

	taxable, err := gross.Sub(est.TotalDeductions)
	if err != nil {
		return nil, fmt.Errorf("Estimate: %w", err)
	}
	if taxable.IsNegative() {
		taxable = record.NewMoney(decimal.Zero, taxable.Currency())
	}
	est.TaxableIncome = taxable
	est.EstimatedTax = record.NewMoney(progressiveTax(taxable.Amount(), e.cfg.Brackets), taxable.Currency())

	if est.EstimatedLiability, err = est.EstimatedTax.Sub(withheld); err != nil {
		return nil, fmt.Errorf("Estimate: %w", err)
	}

	if len(est.PendingRecordIDs) > 0 {
		est.Partial = true
		est.Warning = fmt.Sprintf("%d records in %s are awaiting review and are excluded from this estimate",
			len(est.PendingRecordIDs), period)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("period", period.String()).
		Int("candidates", len(est.Candidates)).
		Bool("partial", est.Partial).
		Str("liability", est.EstimatedLiability.String()).
		Msg("Tax estimate computed")
	return est, nil
}
