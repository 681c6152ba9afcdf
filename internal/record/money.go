package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrCurrencyMismatch is returned by arithmetic on two Money values that do
// not share a currency.
var ErrCurrencyMismatch = errors.New("currency mismatch")

// Money is an immutable signed amount tagged with an ISO 4217 currency code.
// The zero value is 0 with an empty currency and is safe to use.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// NewMoney builds a Money from a decimal amount and a currency code. The
// code is upper-cased; the sign of amount is preserved.
func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{amount: amount, currency: strings.ToUpper(strings.TrimSpace(currency))}
}

// MoneyFromString parses a decimal string such as "-12.30" into a Money.
func MoneyFromString(value, currency string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return Money{}, fmt.Errorf("MoneyFromString: parse %q: %w", value, err)
	}
	return NewMoney(d, currency), nil
}

// ZeroMoney returns a zero amount in the given currency.
func ZeroMoney(currency string) Money {
	return NewMoney(decimal.Zero, currency)
}

// Amount returns the decimal amount.
func (m Money) Amount() decimal.Decimal { return m.amount }

// Currency returns the currency code.
func (m Money) Currency() string { return m.currency }

func (m Money) IsZero() bool     { return m.amount.IsZero() }
func (m Money) IsNegative() bool { return m.amount.IsNegative() }
func (m Money) IsPositive() bool { return m.amount.IsPositive() }

// Add returns m + other. Both values must share a currency, except that a
// zero value with an empty currency acts as an identity element.
func (m Money) Add(other Money) (Money, error) {
	if m.currency == "" && m.amount.IsZero() {
		return other, nil
	}
	if other.currency == "" && other.amount.IsZero() {
		return m, nil
	}
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("Add: %w: %s vs %s", ErrCurrencyMismatch, m.currency, other.currency)
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

// Sub returns m - other under the same currency rules as Add.
func (m Money) Sub(other Money) (Money, error) {
	return m.Add(other.Neg())
}

// Mul scales the amount by factor, keeping the currency.
func (m Money) Mul(factor decimal.Decimal) Money {
	return Money{amount: m.amount.Mul(factor), currency: m.currency}
}

// Abs returns the absolute value.
func (m Money) Abs() Money {
	return Money{amount: m.amount.Abs(), currency: m.currency}
}

// Neg returns the negated value.
func (m Money) Neg() Money {
	return Money{amount: m.amount.Neg(), currency: m.currency}
}

// Equal reports value and currency equality.
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

// String renders "-12.30 USD" with two decimal places.
func (m Money) String() string {
	if m.currency == "" {
		return m.amount.StringFixed(2)
	}
	return m.amount.StringFixed(2) + " " + m.currency
}

type moneyJSON struct {
	Value    string `json:"value"`
	Currency string `json:"currency,omitempty"`
}

// MarshalJSON encodes the amount as a string to avoid float rounding.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Value: m.amount.String(), Currency: m.currency})
}

// UnmarshalJSON accepts the {"value","currency"} object form.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("Money.UnmarshalJSON: %w", err)
	}
	if raw.Value == "" {
		*m = Money{currency: strings.ToUpper(raw.Currency)}
		return nil
	}
	parsed, err := MoneyFromString(raw.Value, raw.Currency)
	if err != nil {
		return fmt.Errorf("Money.UnmarshalJSON: %w", err)
	}
	*m = parsed
	return nil
}
