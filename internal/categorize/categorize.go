// Package categorize assigns each extracted candidate a category. The
// curated merchant table is ground truth and always beats the model's
// suggestion; the suggestion is only accepted above a confidence threshold.
package categorize

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mlozhkin/docledger/internal/record"
)

// Source says where a category decision came from.
type Source string

const (
	SourceMerchantTable Source = "merchant_table"
	SourceModel         Source = "model"
	SourceNone          Source = "none"
)

// Decision is the outcome of categorizing one candidate.
type Decision struct {
	Category    record.Category
	Confidence  float64
	Source      Source
	NeedsReview bool
	Reason      string
}

// Categorizer holds the merchant table and the model-acceptance threshold.
// It is read-only after construction and safe for concurrent use.
type Categorizer struct {
	table     map[string]record.Category
	keys      []string
	threshold float64
}

// New builds a Categorizer from a merchant→category table. Table keys are
// canonicalized; substring matching scans longer keys first so the most
// specific entry wins deterministically.
func New(table map[string]record.Category, threshold float64) *Categorizer {
	if threshold <= 0 {
		threshold = 0.6
	}

	canonical := make(map[string]record.Category, len(table))
	for merchant, category := range table {
		if key := canonicalMerchant(merchant); key != "" {
			canonical[key] = category
		}
	}

	keys := make([]string, 0, len(canonical))
	for k := range canonical {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	return &Categorizer{table: canonical, keys: keys, threshold: threshold}
}

// Categorize resolves a category for the extracted merchant plus the
// model's suggestion.
func (c *Categorizer) Categorize(merchant, suggested string, suggestedConfidence float64) Decision {
	if key := canonicalMerchant(merchant); key != "" {
		if category, ok := c.table[key]; ok {
			return Decision{Category: category, Confidence: 1.0, Source: SourceMerchantTable}
		}
		for _, k := range c.keys {
			if strings.Contains(key, k) {
				return Decision{Category: c.table[k], Confidence: 1.0, Source: SourceMerchantTable}
			}
		}
	}

	category, valid := record.ParseCategory(suggested)
	if valid && category != record.CategoryUncategorized && suggestedConfidence >= c.threshold {
		return Decision{Category: category, Confidence: suggestedConfidence, Source: SourceModel}
	}

	reason := "no merchant match and no usable model category"
	switch {
	case suggested != "" && !valid:
		reason = fmt.Sprintf("model suggested unknown category %q", suggested)
	case valid && category != record.CategoryUncategorized:
		reason = fmt.Sprintf("model category %s confidence %.2f below threshold %.2f", category, suggestedConfidence, c.threshold)
	}
	return Decision{
		Category:    record.CategoryUncategorized,
		Confidence:  suggestedConfidence,
		Source:      SourceNone,
		NeedsReview: true,
		Reason:      reason,
	}
}

// canonicalMerchant is the lookup key form: upper case, trimmed, inner
// whitespace collapsed.
func canonicalMerchant(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

// DefaultMerchantMap is the built-in table used when no merchant map file
// is configured. Deliberately small; real deployments supply their own.
func DefaultMerchantMap() map[string]record.Category {
	return map[string]record.Category{
		"COFFEE HOUSE":     record.CategoryMeals,
		"ACME AIRLINES":    record.CategoryTravel,
		"CITY TRANSIT":     record.CategoryTravel,
		"OFFICE DEPOT":     record.CategoryOffice,
		"STAPLES":          record.CategoryOffice,
		"AWS":              record.CategorySoftware,
		"GITHUB":           record.CategorySoftware,
		"GOOGLE CLOUD":     record.CategorySoftware,
		"WEWORK":           record.CategoryRent,
		"PACIFIC GAS":      record.CategoryUtilities,
		"COMCAST BUSINESS": record.CategoryUtilities,
	}
}

// LoadMerchantMap reads the JSON merchant table, a flat object of merchant
// name to category name. Unknown categories fail the load so a typo in the
// table surfaces at startup, not at categorization time.
func LoadMerchantMap(path string) (map[string]record.Category, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadMerchantMap: %w", err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("LoadMerchantMap: parse %s: %w", path, err)
	}

	table := make(map[string]record.Category, len(raw))
	for merchant, name := range raw {
		category, ok := record.ParseCategory(name)
		if !ok {
			return nil, fmt.Errorf("LoadMerchantMap: merchant %q maps to unknown category %q", merchant, name)
		}
		table[merchant] = category
	}
	return table, nil
}
