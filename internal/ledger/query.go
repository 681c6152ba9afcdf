package ledger

import (
	"iter"
	"sort"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/mlozhkin/docledger/internal/record"
)

// Filter reports whether a record belongs in a query result.
type Filter func(record.DocumentRecord) bool

// ByDateRange keeps records dated within [from, to]. A zero bound leaves that
// side of the range open.
func ByDateRange(from, to civil.Date) Filter {
	return func(rec record.DocumentRecord) bool {
		if from != (civil.Date{}) && rec.Date.Before(from) {
			return false
		}
		if to != (civil.Date{}) && rec.Date.After(to) {
			return false
		}
		return true
	}
}

// ByCategory keeps records with the given category.
func ByCategory(category record.Category) Filter {
	return func(rec record.DocumentRecord) bool {
		return rec.Category == category
	}
}

// ByStatus keeps records with the given status.
func ByStatus(status record.Status) Filter {
	return func(rec record.DocumentRecord) bool {
		return rec.Status == status
	}
}

// ByMerchant keeps records whose merchant contains the given fragment,
// compared case-insensitively with whitespace collapsed.
func ByMerchant(fragment string) Filter {
	want := canonicalMerchant(fragment)
	return func(rec record.DocumentRecord) bool {
		return strings.Contains(canonicalMerchant(rec.Merchant), want)
	}
}

// Records returns a restartable sequence over a consistent snapshot of the
// ledger. Records matching every filter are yielded ordered by date, then by
// id, so equal ledgers always enumerate identically.
func (s *Store) Records(filters ...Filter) iter.Seq2[int, record.DocumentRecord] {
	s.mu.RLock()
	snapshot := make([]record.DocumentRecord, 0, len(s.records))
	for _, rec := range s.records {
		c := *rec.Clone()
		if matchAll(c, filters) {
			snapshot = append(snapshot, c)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(snapshot, func(i, j int) bool {
		if snapshot[i].Date != snapshot[j].Date {
			return snapshot[i].Date.Before(snapshot[j].Date)
		}
		return snapshot[i].ID < snapshot[j].ID
	})

	return func(yield func(int, record.DocumentRecord) bool) {
		for i, rec := range snapshot {
			if !yield(i, rec) {
				return
			}
		}
	}
}

func matchAll(rec record.DocumentRecord, filters []Filter) bool {
	for _, f := range filters {
		if !f(rec) {
			return false
		}
	}
	return true
}

// canonicalMerchant uppercases and collapses runs of whitespace so merchant
// comparisons ignore formatting noise.
func canonicalMerchant(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}
