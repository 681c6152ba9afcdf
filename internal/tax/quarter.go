// Package tax estimates quarterly tax liability from the ledger. Deduction
// rules and the bracket table are configuration, not code; the estimator only
// applies them.
package tax

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// Quarter identifies a calendar quarter, written as "2024-Q1".
type Quarter struct {
	Year int
	Q    int
}

// ParseQuarter parses identifiers of the form "2024-Q1". Parsing is the
// inverse of String.
func ParseQuarter(s string) (Quarter, error) {
	parts := strings.SplitN(strings.ToUpper(strings.TrimSpace(s)), "-Q", 2)
	if len(parts) != 2 {
		return Quarter{}, fmt.Errorf("ParseQuarter: %q is not of the form 2024-Q1", s)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return Quarter{}, fmt.Errorf("ParseQuarter: bad year in %q: %w", s, err)
	}
	q, err := strconv.Atoi(parts[1])
	if err != nil {
		return Quarter{}, fmt.Errorf("ParseQuarter: bad quarter in %q: %w", s, err)
	}
	quarter := Quarter{Year: year, Q: q}
	if !quarter.Valid() {
		return Quarter{}, fmt.Errorf("ParseQuarter: %q is out of range", s)
	}
	return quarter, nil
}

// QuarterOf returns the quarter containing the given date.
func QuarterOf(d civil.Date) Quarter {
	return Quarter{Year: d.Year, Q: (int(d.Month)-1)/3 + 1}
}

// Valid reports whether the quarter denotes a real calendar quarter.
func (q Quarter) Valid() bool {
	return q.Year >= 1 && q.Q >= 1 && q.Q <= 4
}

func (q Quarter) String() string {
	return fmt.Sprintf("%04d-Q%d", q.Year, q.Q)
}

// Range returns the first and last day of the quarter, inclusive.
func (q Quarter) Range() (from, to civil.Date) {
	startMonth := time.Month((q.Q-1)*3 + 1)
	from = civil.Date{Year: q.Year, Month: startMonth, Day: 1}
	// Day 0 of the following month is the last day of this one.
	to = civil.DateOf(time.Date(q.Year, startMonth+3, 0, 0, 0, 0, 0, time.UTC))
	return from, to
}

// Contains reports whether the date falls inside the quarter.
func (q Quarter) Contains(d civil.Date) bool {
	from, to := q.Range()
	return !d.Before(from) && !d.After(to)
}

// MarshalText implements encoding.TextMarshaler so quarters serialize as
// "2024-Q1" in JSON.
func (q Quarter) MarshalText() ([]byte, error) {
	if !q.Valid() {
		return nil, fmt.Errorf("MarshalText: invalid quarter %d-Q%d", q.Year, q.Q)
	}
	return []byte(q.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (q *Quarter) UnmarshalText(text []byte) error {
	parsed, err := ParseQuarter(string(text))
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}
