package ledger

import (
	"fmt"
	"sort"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/mlozhkin/docledger/internal/record"
)

// DefaultSummaryMinConfidence is the confidence floor for records included in
// spending totals when the caller does not supply one.
const DefaultSummaryMinConfidence = 0.7

const maxTopMerchants = 10

// CategoryTotal aggregates spending for one category.
type CategoryTotal struct {
	Category      record.Category `json:"category"`
	Count         int             `json:"count"`
	Total         record.Money    `json:"total"`
	WeightedTotal record.Money    `json:"weighted_total"`
}

// MerchantTotal aggregates spending for one merchant.
type MerchantTotal struct {
	Merchant string       `json:"merchant"`
	Count    int          `json:"count"`
	Total    record.Money `json:"total"`
}

// Summary describes accepted spending in a date range. Records below the
// confidence floor are counted as questionable but excluded from totals, so
// the totals only ever reflect amounts the pipeline was sure about.
type Summary struct {
	From              civil.Date      `json:"from"`
	To                civil.Date      `json:"to"`
	MinConfidence     float64         `json:"min_confidence"`
	RecordCount       int             `json:"record_count"`
	IncludedCount     int             `json:"included_count"`
	QuestionableCount int             `json:"questionable_count"`
	ReviewCount       int             `json:"review_count"`
	Total             record.Money    `json:"total"`
	WeightedTotal     record.Money    `json:"weighted_total"`
	ByCategory        []CategoryTotal `json:"by_category"`
	TopMerchants      []MerchantTotal `json:"top_merchants"`
}

type categoryAcc struct {
	count    int
	total    record.Money
	weighted record.Money
}

type merchantAcc struct {
	display string
	count   int
	total   record.Money
}

// Summary aggregates the accepted records dated within [from, to]. Mixing
// currencies in one range is an error; callers wanting per-currency totals
// should query each currency separately.
func (s *Store) Summary(from, to civil.Date, minConfidence float64) (*Summary, error) {
	if minConfidence <= 0 {
		minConfidence = DefaultSummaryMinConfidence
	}

	sum := &Summary{
		From:          from,
		To:            to,
		MinConfidence: minConfidence,
	}
	byCategory := make(map[record.Category]*categoryAcc)
	byMerchant := make(map[string]*merchantAcc)

	for _, rec := range s.Records(ByDateRange(from, to)) {
		switch rec.Status {
		case record.StatusNeedsReview:
			sum.ReviewCount++
			continue
		case record.StatusAccepted:
		default:
			continue
		}

		sum.RecordCount++
		if rec.Confidence < minConfidence {
			sum.QuestionableCount++
			continue
		}
		sum.IncludedCount++

		weighted := rec.Amount.Mul(decimal.NewFromFloat(rec.Confidence))
		var err error
		if sum.Total, err = sum.Total.Add(rec.Amount); err != nil {
			return nil, fmt.Errorf("Summary: record %s: %w", rec.ID, err)
		}
		if sum.WeightedTotal, err = sum.WeightedTotal.Add(weighted); err != nil {
			return nil, fmt.Errorf("Summary: record %s: %w", rec.ID, err)
		}

		cat, ok := byCategory[rec.Category]
		if !ok {
			cat = &categoryAcc{}
			byCategory[rec.Category] = cat
		}
		cat.count++
		if cat.total, err = cat.total.Add(rec.Amount); err != nil {
			return nil, fmt.Errorf("Summary: record %s: %w", rec.ID, err)
		}
		if cat.weighted, err = cat.weighted.Add(weighted); err != nil {
			return nil, fmt.Errorf("Summary: record %s: %w", rec.ID, err)
		}

		key := canonicalMerchant(rec.Merchant)
		m, ok := byMerchant[key]
		if !ok {
			m = &merchantAcc{display: rec.Merchant}
			byMerchant[key] = m
		}
		m.count++
		if m.total, err = m.total.Add(rec.Amount); err != nil {
			return nil, fmt.Errorf("Summary: record %s: %w", rec.ID, err)
		}
	}

	sum.ByCategory = sortedCategoryTotals(byCategory)
	sum.TopMerchants = topMerchantTotals(byMerchant)
	return sum, nil
}

func sortedCategoryTotals(byCategory map[record.Category]*categoryAcc) []CategoryTotal {
	totals := make([]CategoryTotal, 0, len(byCategory))
	for category, acc := range byCategory {
		totals = append(totals, CategoryTotal{
			Category:      category,
			Count:         acc.count,
			Total:         acc.total,
			WeightedTotal: acc.weighted,
		})
	}
	sort.SliceStable(totals, func(i, j int) bool {
		cmp := totals[i].Total.Amount().Abs().Cmp(totals[j].Total.Amount().Abs())
		if cmp != 0 {
			return cmp > 0
		}
		return totals[i].Category < totals[j].Category
	})
	return totals
}

func topMerchantTotals(byMerchant map[string]*merchantAcc) []MerchantTotal {
	totals := make([]MerchantTotal, 0, len(byMerchant))
	for _, acc := range byMerchant {
		totals = append(totals, MerchantTotal{
			Merchant: acc.display,
			Count:    acc.count,
			Total:    acc.total,
		})
	}
	sort.SliceStable(totals, func(i, j int) bool {
		cmp := totals[i].Total.Amount().Abs().Cmp(totals[j].Total.Amount().Abs())
		if cmp != 0 {
			return cmp > 0
		}
		return totals[i].Merchant < totals[j].Merchant
	})
	if len(totals) > maxTopMerchants {
		totals = totals[:maxTopMerchants]
	}
	return totals
}
