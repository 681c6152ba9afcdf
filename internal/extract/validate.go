package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/mlozhkin/docledger/internal/record"
)

// Fixed per-field weights for the overall extraction confidence. Amount and
// date carry the most weight because the estimator depends on them.
const (
	weightAmount   = 0.35
	weightDate     = 0.30
	weightMerchant = 0.20
	weightCategory = 0.15
)

// dateFormats is the fixed set of accepted date layouts, tried in order.
var dateFormats = []string{
	"2006-01-02",
	"01/02/2006",
	"02/01/2006",
	"Jan 2, 2006",
	"2 January 2006",
	"02 Jan 2006",
}

// amountCruft strips currency symbols and thousands separators before
// decimal parsing.
var amountCruft = regexp.MustCompile(`[^\d.\-]`)

// Result is the validated outcome of extracting one document.
//
// Degraded means extraction could not produce a complete candidate (service
// failure, malformed response, unparseable amount or date); the pipeline
// stores such records as needs_review. DateImplausible means the date parsed
// but fell outside the configured plausible range; such records are stored
// rejected.
type Result struct {
	Merchant           string
	Description        string
	Amount             record.Money
	Date               civil.Date
	SuggestedCategory  string
	CategoryConfidence float64
	FieldConfidence    record.FieldConfidence
	Confidence         float64
	LineItems          []record.LineItem

	Degraded        bool
	DateImplausible bool
	Reason          string
}

// toResult validates the parsed response field by field. Invalid fields are
// left empty with confidence zero rather than failing the document.
func (e *Extractor) toResult(resp *responseJSON) *Result {
	res := &Result{}
	var problems []string

	res.Merchant = clipText(stringValue(resp.Merchant.Value), e.cfg.MerchantMaxLen)
	if res.Merchant != "" {
		res.FieldConfidence.Merchant = clampUnit(resp.Merchant.Confidence)
	}

	res.Description = clipText(stringValue(resp.Description.Value), 500)

	if amount, ok := parseAmount(resp.Amount.Value); ok {
		currency := strings.ToUpper(stringValue(resp.Currency.Value))
		if len(currency) != 3 {
			currency = e.cfg.DefaultCurrency
		}
		res.Amount = record.NewMoney(amount, currency)
		res.FieldConfidence.Amount = clampUnit(resp.Amount.Confidence)
	} else {
		res.Degraded = true
		problems = append(problems, fmt.Sprintf("amount %q did not parse as a number", stringValue(resp.Amount.Value)))
	}

	if date, ok := parseDate(stringValue(resp.Date.Value)); ok {
		res.Date = date
		res.FieldConfidence.Date = clampUnit(resp.Date.Confidence)
		if date.Before(e.cfg.DateMin) || e.cfg.DateMax.Before(date) {
			res.DateImplausible = true
			problems = append(problems, fmt.Sprintf("date %s outside plausible range [%s, %s]", date, e.cfg.DateMin, e.cfg.DateMax))
		}
	} else {
		res.Degraded = true
		problems = append(problems, fmt.Sprintf("date %q did not match any accepted format", stringValue(resp.Date.Value)))
	}

	res.SuggestedCategory = stringValue(resp.Category.Value)
	res.CategoryConfidence = clampUnit(resp.Category.Confidence)
	res.FieldConfidence.Category = res.CategoryConfidence

	for _, item := range resp.LineItems {
		amount, ok := parseAmount(item.Amount)
		if !ok || strings.TrimSpace(item.Description) == "" {
			continue
		}
		res.LineItems = append(res.LineItems, record.LineItem{
			Description: clipText(item.Description, 200),
			Amount:      record.NewMoney(amount, res.Amount.Currency()),
		})
	}

	res.Confidence = weightedConfidence(res.FieldConfidence)
	if len(problems) > 0 {
		res.Reason = strings.Join(problems, "; ")
	}
	return res
}

// degradedResult is what the pipeline stores when extraction gave up
// entirely: every field empty, every confidence zero.
func degradedResult(reason string) *Result {
	return &Result{Degraded: true, Reason: reason}
}

func weightedConfidence(fc record.FieldConfidence) float64 {
	return weightAmount*fc.Amount + weightDate*fc.Date + weightMerchant*fc.Merchant + weightCategory*fc.Category
}

// stringValue renders a raw JSON scalar as a trimmed string. Objects and
// arrays come back empty.
func stringValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func parseAmount(raw json.RawMessage) (decimal.Decimal, bool) {
	s := amountCruft.ReplaceAllString(stringValue(raw), "")
	if s == "" || s == "-" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func parseDate(s string) (civil.Date, bool) {
	if s == "" {
		return civil.Date{}, false
	}
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(t), true
		}
	}
	return civil.Date{}, false
}

func clampUnit(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func clipText(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
