package tax

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mlozhkin/docledger/internal/record"
)

// Rule describes one deduction: a predicate over category, merchant and
// amount, plus the fraction of the matched amount that is deductible. Rules
// with higher priority are tried first and a record matches at most one rule.
type Rule struct {
	Name             string            `json:"name"`
	Priority         int               `json:"priority"`
	Categories       []record.Category `json:"categories,omitempty"`
	MerchantContains string            `json:"merchant_contains,omitempty"`
	MinAmount        decimal.Decimal   `json:"min_amount"`
	MaxAmount        decimal.Decimal   `json:"max_amount"`
	Rate             float64           `json:"rate"`
	Cap              decimal.Decimal   `json:"cap"`
}

// Matches reports whether the record satisfies every predicate the rule
// declares. Amount bounds compare against the absolute amount, so refunds
// match the same rules as charges.
func (r Rule) Matches(rec record.DocumentRecord) bool {
	if len(r.Categories) > 0 {
		var found bool
		for _, c := range r.Categories {
			if rec.Category == c {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if r.MerchantContains != "" {
		merchant := strings.ToUpper(strings.Join(strings.Fields(rec.Merchant), " "))
		fragment := strings.ToUpper(strings.Join(strings.Fields(r.MerchantContains), " "))
		if !strings.Contains(merchant, fragment) {
			return false
		}
	}
	abs := rec.Amount.Amount().Abs()
	if !r.MinAmount.IsZero() && abs.LessThan(r.MinAmount) {
		return false
	}
	if !r.MaxAmount.IsZero() && abs.GreaterThan(r.MaxAmount) {
		return false
	}
	return true
}

// Deduction computes the deductible amount for a matched record, rounded to
// cents and clamped by the rule's cap when one is set.
func (r Rule) Deduction(rec record.DocumentRecord) decimal.Decimal {
	d := rec.Amount.Amount().Abs().Mul(decimal.NewFromFloat(r.Rate)).Round(2)
	if !r.Cap.IsZero() && d.GreaterThan(r.Cap) {
		return r.Cap
	}
	return d
}

func (r Rule) validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule has no name")
	}
	if r.Rate < 0 || r.Rate > 1 {
		return fmt.Errorf("rule %q: rate %v outside [0, 1]", r.Name, r.Rate)
	}
	for _, c := range r.Categories {
		if !c.Valid() {
			return fmt.Errorf("rule %q: unknown category %q", r.Name, c)
		}
	}
	if !r.MinAmount.IsZero() && !r.MaxAmount.IsZero() && r.MaxAmount.LessThan(r.MinAmount) {
		return fmt.Errorf("rule %q: max_amount below min_amount", r.Name)
	}
	if r.Cap.IsNegative() {
		return fmt.Errorf("rule %q: negative cap", r.Name)
	}
	return nil
}

// Bracket is one row of a progressive bracket table. Income up to UpTo is
// taxed at Rate; a zero UpTo marks the unbounded top bracket.
type Bracket struct {
	UpTo decimal.Decimal `json:"up_to"`
	Rate float64         `json:"rate"`
}

// Config carries the deduction rules and the quarterly bracket table. Both
// are data supplied from outside; defaults here are a starting point, not
// jurisdiction advice.
type Config struct {
	Rules    []Rule    `json:"rules"`
	Brackets []Bracket `json:"brackets"`
}

// DefaultConfig returns a sample rule set and quarterly bracket table.
func DefaultConfig() Config {
	return Config{
		Rules: []Rule{
			{
				Name:       "business-travel",
				Priority:   100,
				Categories: []record.Category{record.CategoryTravel},
				Rate:       1.0,
			},
			{
				Name:       "office-supplies",
				Priority:   90,
				Categories: []record.Category{record.CategoryOffice},
				Rate:       1.0,
			},
			{
				Name:       "software-subscriptions",
				Priority:   80,
				Categories: []record.Category{record.CategorySoftware},
				Rate:       1.0,
				Cap:        decimal.NewFromInt(2500),
			},
			{
				Name:       "workspace-rent",
				Priority:   70,
				Categories: []record.Category{record.CategoryRent},
				Rate:       0.8,
			},
			{
				Name:       "utilities-share",
				Priority:   60,
				Categories: []record.Category{record.CategoryUtilities},
				Rate:       0.5,
			},
			{
				Name:       "client-meals",
				Priority:   50,
				Categories: []record.Category{record.CategoryMeals},
				Rate:       0.5,
			},
		},
		Brackets: []Bracket{
			{UpTo: decimal.NewFromInt(2500), Rate: 0.10},
			{UpTo: decimal.NewFromInt(10000), Rate: 0.15},
			{UpTo: decimal.NewFromInt(40000), Rate: 0.24},
			{Rate: 0.32},
		},
	}
}

// LoadConfig reads rules and brackets from a JSON file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("LoadConfig: reading %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("LoadConfig: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("LoadConfig: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks rule and bracket consistency.
func (c Config) Validate() error {
	seen := make(map[string]bool, len(c.Rules))
	for _, rule := range c.Rules {
		if err := rule.validate(); err != nil {
			return err
		}
		if seen[rule.Name] {
			return fmt.Errorf("duplicate rule name %q", rule.Name)
		}
		seen[rule.Name] = true
	}

	if len(c.Brackets) == 0 {
		return fmt.Errorf("bracket table is empty")
	}
	prev := decimal.Zero
	for i, b := range c.Brackets {
		if b.Rate < 0 || b.Rate > 1 {
			return fmt.Errorf("bracket %d: rate %v outside [0, 1]", i, b.Rate)
		}
		if b.UpTo.IsZero() {
			if i != len(c.Brackets)-1 {
				return fmt.Errorf("bracket %d: unbounded bracket must be last", i)
			}
			continue
		}
		if !b.UpTo.GreaterThan(prev) {
			return fmt.Errorf("bracket %d: up_to %s does not increase", i, b.UpTo)
		}
		prev = b.UpTo
	}
	return nil
}

// sortedRules returns the rules ordered by descending priority, ties broken
// by name so evaluation order is deterministic.
func (c Config) sortedRules() []Rule {
	rules := make([]Rule, len(c.Rules))
	copy(rules, c.Rules)
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].Name < rules[j].Name
	})
	return rules
}

// progressiveTax applies the bracket table to a non-negative taxable amount.
func progressiveTax(taxable decimal.Decimal, brackets []Bracket) decimal.Decimal {
	tax := decimal.Zero
	lower := decimal.Zero
	for _, b := range brackets {
		upper := taxable
		if !b.UpTo.IsZero() && b.UpTo.LessThan(upper) {
			upper = b.UpTo
		}
		if upper.GreaterThan(lower) {
			tax = tax.Add(upper.Sub(lower).Mul(decimal.NewFromFloat(b.Rate)))
		}
		if b.UpTo.IsZero() || !taxable.GreaterThan(b.UpTo) {
			break
		}
		lower = b.UpTo
	}
	return tax.Round(2)
}
