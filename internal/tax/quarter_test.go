package tax

import (
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/civil"
)

func day(year, month, dayOfMonth int) civil.Date {
	return civil.Date{Year: year, Month: time.Month(month), Day: dayOfMonth}
}

func TestParseQuarter(t *testing.T) {
	tests := []struct {
		input   string
		want    Quarter
		wantErr bool
	}{
		{input: "2024-Q1", want: Quarter{2024, 1}},
		{input: "2024-q4", want: Quarter{2024, 4}},
		{input: "  2023-Q2  ", want: Quarter{2023, 2}},
		{input: "2024-Q5", wantErr: true},
		{input: "2024-Q0", wantErr: true},
		{input: "0-Q1", wantErr: true},
		{input: "2024", wantErr: true},
		{input: "Q1-2024", wantErr: true},
		{input: "garbage", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseQuarter(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseQuarter(%q) = %v, expected error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseQuarter(%q) failed: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseQuarter(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestQuarterStringRoundTrip(t *testing.T) {
	q := Quarter{Year: 2024, Q: 3}
	parsed, err := ParseQuarter(q.String())
	if err != nil {
		t.Fatalf("ParseQuarter(%q) failed: %v", q.String(), err)
	}
	if parsed != q {
		t.Errorf("round trip gave %v, want %v", parsed, q)
	}
}

func TestQuarterRange(t *testing.T) {
	tests := []struct {
		quarter Quarter
		from    civil.Date
		to      civil.Date
	}{
		{Quarter{2024, 1}, day(2024, 1, 1), day(2024, 3, 31)},
		{Quarter{2024, 2}, day(2024, 4, 1), day(2024, 6, 30)},
		{Quarter{2024, 3}, day(2024, 7, 1), day(2024, 9, 30)},
		{Quarter{2024, 4}, day(2024, 10, 1), day(2024, 12, 31)},
	}

	for _, tt := range tests {
		t.Run(tt.quarter.String(), func(t *testing.T) {
			from, to := tt.quarter.Range()
			if from != tt.from || to != tt.to {
				t.Errorf("Range() = %v..%v, want %v..%v", from, to, tt.from, tt.to)
			}
		})
	}
}

func TestQuarterOf(t *testing.T) {
	tests := []struct {
		date civil.Date
		want Quarter
	}{
		{day(2024, 1, 1), Quarter{2024, 1}},
		{day(2024, 3, 31), Quarter{2024, 1}},
		{day(2024, 4, 1), Quarter{2024, 2}},
		{day(2024, 12, 31), Quarter{2024, 4}},
	}

	for _, tt := range tests {
		if got := QuarterOf(tt.date); got != tt.want {
			t.Errorf("QuarterOf(%v) = %v, want %v", tt.date, got, tt.want)
		}
	}
}

func TestQuarterContains(t *testing.T) {
	q := Quarter{2024, 2}
	if !q.Contains(day(2024, 4, 1)) || !q.Contains(day(2024, 6, 30)) {
		t.Error("expected quarter bounds to be inclusive")
	}
	if q.Contains(day(2024, 3, 31)) || q.Contains(day(2024, 7, 1)) {
		t.Error("expected dates outside the quarter to be excluded")
	}
}

func TestQuarterJSON(t *testing.T) {
	type payload struct {
		Period Quarter `json:"period"`
	}

	data, err := json.Marshal(payload{Period: Quarter{2024, 1}})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `{"period":"2024-Q1"}` {
		t.Errorf("marshal = %s", data)
	}

	var decoded payload
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.Period != (Quarter{2024, 1}) {
		t.Errorf("unmarshal = %v", decoded.Period)
	}

	if err := json.Unmarshal([]byte(`{"period":"2024-Q9"}`), &decoded); err == nil {
		t.Error("expected error for invalid quarter")
	}
}
