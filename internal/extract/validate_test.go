package extract

import (
	"encoding/json"
	"testing"
)

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "already clean",
			in:   `{"amount": 1}`,
			want: `{"amount": 1}`,
		},
		{
			name: "json fence",
			in:   "```json\n{\"amount\": 1}\n```",
			want: `{"amount": 1}`,
		},
		{
			name: "bare fence",
			in:   "```\n{\"amount\": 1}\n```",
			want: `{"amount": 1}`,
		},
		{
			name: "prose around object",
			in:   "Here is the extraction:\n{\"amount\": 1}\nLet me know if you need more.",
			want: `{"amount": 1}`,
		},
		{
			name: "no object at all",
			in:   "cannot help with that",
			want: "cannot help with that",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanModelJSON(tt.in); got != tt.want {
				t.Errorf("cleanModelJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseDateFormats(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2024-03-01", "2024-03-01", true},
		{"03/01/2024", "2024-03-01", true},
		{"25/12/2024", "2024-12-25", true},
		{"Mar 1, 2024", "2024-03-01", true},
		{"1 March 2024", "2024-03-01", true},
		{"01 Mar 2024", "2024-03-01", true},
		{"yesterday", "", false},
		{"2024-13-40", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := parseDate(tt.in)
			if ok != tt.ok {
				t.Fatalf("parseDate(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			}
			if ok && got.String() != tt.want {
				t.Errorf("parseDate(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{name: "number", in: `4.5`, want: "4.5", ok: true},
		{name: "negative number", in: `-12.30`, want: "-12.3", ok: true},
		{name: "quoted", in: `"4.50"`, want: "4.5", ok: true},
		{name: "currency symbol", in: `"$4.50"`, want: "4.5", ok: true},
		{name: "thousands separator", in: `"1,234.56"`, want: "1234.56", ok: true},
		{name: "words", in: `"four fifty"`, ok: false},
		{name: "empty", in: `""`, ok: false},
		{name: "null", in: `null`, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseAmount(json.RawMessage(tt.in))
			if ok != tt.ok {
				t.Fatalf("parseAmount(%s) ok = %v, want %v", tt.in, ok, tt.ok)
			}
			if ok && got.String() != tt.want {
				t.Errorf("parseAmount(%s) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeResponse(t *testing.T) {
	in := map[string]any{
		"Vendor":   "COFFEE HOUSE",
		"total":    4.5,
		"date":     map[string]any{"value": "2024-03-01", "confidence": "0.9"},
		"category": map[string]any{"value": "Meals"},
	}

	out, ok := sanitizeResponse(in).(map[string]any)
	if !ok {
		t.Fatal("sanitizeResponse did not return an object")
	}

	merchant, ok := out["merchant"].(map[string]any)
	if !ok || merchant["value"] != "COFFEE HOUSE" || merchant["confidence"] != 0.5 {
		t.Errorf("merchant = %#v", out["merchant"])
	}
	amount, ok := out["amount"].(map[string]any)
	if !ok || amount["value"] != 4.5 {
		t.Errorf("amount = %#v", out["amount"])
	}
	date, ok := out["date"].(map[string]any)
	if !ok || date["confidence"] != 0.9 {
		t.Errorf("date = %#v", out["date"])
	}
	category, ok := out["category"].(map[string]any)
	if !ok || category["confidence"] != 0.5 {
		t.Errorf("category = %#v", out["category"])
	}
}

func TestWeightsSumToOne(t *testing.T) {
	sum := weightAmount + weightDate + weightMerchant + weightCategory
	if sum != 1.0 {
		t.Errorf("field weights sum to %g, want 1.0", sum)
	}
}
