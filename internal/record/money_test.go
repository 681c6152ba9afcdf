package record

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMoneyFromString(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		currency string
		want     string
		wantErr  bool
	}{
		{name: "positive", value: "4.50", currency: "usd", want: "4.50 USD"},
		{name: "negative", value: "-12.3", currency: "USD", want: "-12.30 USD"},
		{name: "whitespace", value: " 7.00 ", currency: "GBP", want: "7.00 GBP"},
		{name: "zero", value: "0", currency: "EUR", want: "0.00 EUR"},
		{name: "not a number", value: "4.5O", currency: "USD", wantErr: true},
		{name: "empty", value: "", currency: "USD", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := MoneyFromString(tt.value, tt.currency)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", m)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := m.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMoneyArithmetic(t *testing.T) {
	a := NewMoney(decimal.RequireFromString("10.00"), "USD")
	b := NewMoney(decimal.RequireFromString("-4.25"), "USD")

	sum, err := a.Add(b)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if sum.String() != "5.75 USD" {
		t.Errorf("Add = %s, want 5.75 USD", sum)
	}

	diff, err := a.Sub(b)
	if err != nil {
		t.Fatalf("Sub: %v", err)
	}
	if diff.String() != "14.25 USD" {
		t.Errorf("Sub = %s, want 14.25 USD", diff)
	}

	if got := b.Abs().String(); got != "4.25 USD" {
		t.Errorf("Abs = %s, want 4.25 USD", got)
	}

	scaled := a.Mul(decimal.RequireFromString("0.5"))
	if scaled.String() != "5.00 USD" {
		t.Errorf("Mul = %s, want 5.00 USD", scaled)
	}
}

func TestMoneyCurrencyMismatch(t *testing.T) {
	usd := NewMoney(decimal.NewFromInt(1), "USD")
	gbp := NewMoney(decimal.NewFromInt(1), "GBP")

	if _, err := usd.Add(gbp); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}
}

func TestMoneyZeroIdentity(t *testing.T) {
	// The zero value acts as identity so accumulators need no seed currency.
	var total Money
	usd := NewMoney(decimal.RequireFromString("3.10"), "USD")

	total, err := total.Add(usd)
	if err != nil {
		t.Fatalf("Add onto zero value: %v", err)
	}
	if !total.Equal(usd) {
		t.Errorf("zero + m = %s, want %s", total, usd)
	}
}

func TestMoneyJSONRoundTrip(t *testing.T) {
	in := NewMoney(decimal.RequireFromString("-42.80"), "USD")

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"value":"-42.8","currency":"USD"}` {
		t.Errorf("Marshal = %s", data)
	}

	var out Money
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !out.Equal(in) {
		t.Errorf("round trip = %s, want %s", out, in)
	}
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in    string
		want  Category
		found bool
	}{
		{"Meals", CategoryMeals, true},
		{"meals", CategoryMeals, true},
		{"  TRAVEL ", CategoryTravel, true},
		{"Uncategorized", CategoryUncategorized, true},
		{"Groceries", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseCategory(tt.in)
			if ok != tt.found || got != tt.want {
				t.Errorf("ParseCategory(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.found)
			}
		})
	}
}
