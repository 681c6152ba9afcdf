package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	"github.com/mlozhkin/docledger/internal/record"
)

func date(year, month, day int) civil.Date {
	return civil.Date{Year: year, Month: time.Month(month), Day: day}
}

func testRecord(t *testing.T, id string, day civil.Date, merchant, amount string, category record.Category, confidence float64) *record.DocumentRecord {
	t.Helper()
	money, err := record.MoneyFromString(amount, "USD")
	if err != nil {
		t.Fatalf("MoneyFromString(%q) failed: %v", amount, err)
	}
	return &record.DocumentRecord{
		ID:                   id,
		Merchant:             merchant,
		Amount:               money,
		Date:                 day,
		Category:             category,
		Confidence:           confidence,
		ExtractionConfidence: confidence,
		FieldConfidence: record.FieldConfidence{
			Merchant: confidence,
			Amount:   confidence,
			Date:     confidence,
			Category: confidence,
		},
		SourceKind: record.SourceText,
		Status:     record.StatusPending,
	}
}

func mustAccept(t *testing.T, s *Store, rec *record.DocumentRecord) *record.DocumentRecord {
	t.Helper()
	stored, err := s.Accept(context.Background(), rec, "")
	if err != nil {
		t.Fatalf("Accept(%s) failed: %v", rec.ID, err)
	}
	return stored
}

func TestAcceptStatusAssignment(t *testing.T) {
	tests := []struct {
		name       string
		prepare    func(*record.DocumentRecord)
		wantStatus record.Status
		wantReason string
		wantEvent  record.AuditEvent
	}{
		{
			name:       "confident record is accepted",
			prepare:    func(rec *record.DocumentRecord) {},
			wantStatus: record.StatusAccepted,
			wantEvent:  record.AuditCreated,
		},
		{
			name: "low confidence goes to review",
			prepare: func(rec *record.DocumentRecord) {
				rec.Confidence = 0.3
			},
			wantStatus: record.StatusNeedsReview,
			wantReason: "below acceptance minimum",
			wantEvent:  record.AuditCreated,
		},
		{
			name: "pre-flagged record keeps its reason",
			prepare: func(rec *record.DocumentRecord) {
				rec.ReviewReason = "no category matched with sufficient confidence"
			},
			wantStatus: record.StatusNeedsReview,
			wantReason: "no category matched",
			wantEvent:  record.AuditCreated,
		},
		{
			name: "rejected candidate stays rejected",
			prepare: func(rec *record.DocumentRecord) {
				rec.Status = record.StatusRejected
				rec.ReviewReason = "date outside plausible range"
			},
			wantStatus: record.StatusRejected,
			wantReason: "plausible range",
			wantEvent:  record.AuditRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(0.5)
			rec := testRecord(t, "rec-1", date(2024, 3, 1), "COFFEE HOUSE", "4.50", record.CategoryMeals, 0.9)
			tt.prepare(rec)

			stored := mustAccept(t, s, rec)
			if stored.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", stored.Status, tt.wantStatus)
			}
			if tt.wantReason != "" && !strings.Contains(stored.ReviewReason, tt.wantReason) {
				t.Errorf("review reason %q does not mention %q", stored.ReviewReason, tt.wantReason)
			}
			if stored.CreatedAt.IsZero() {
				t.Error("expected CreatedAt to be stamped")
			}

			entries := s.Audit("rec-1")
			if len(entries) != 1 {
				t.Fatalf("expected 1 audit entry, got %d", len(entries))
			}
			if entries[0].Event != tt.wantEvent {
				t.Errorf("audit event = %q, want %q", entries[0].Event, tt.wantEvent)
			}
			if entries[0].Actor != record.ActorSystem {
				t.Errorf("audit actor = %q, want %q", entries[0].Actor, record.ActorSystem)
			}
		})
	}
}

func TestAcceptRejectsBadCandidates(t *testing.T) {
	s := NewStore(0.5)

	if _, err := s.Accept(context.Background(), nil, ""); err == nil {
		t.Error("expected error for nil record")
	}

	rec := testRecord(t, "", date(2024, 3, 1), "SHOP", "1.00", record.CategoryOther, 0.9)
	if _, err := s.Accept(context.Background(), rec, ""); err == nil {
		t.Error("expected error for record without id")
	}

	rec = testRecord(t, "rec-1", date(2024, 3, 1), "SHOP", "1.00", record.CategoryOther, 0.9)
	rec.Status = record.StatusAccepted
	if _, err := s.Accept(context.Background(), rec, ""); err == nil {
		t.Error("expected error for pre-finalized candidate status")
	}
}

func TestAcceptDuplicateIsIdempotent(t *testing.T) {
	s := NewStore(0.5)
	first := mustAccept(t, s, testRecord(t, "rec-1", date(2024, 3, 1), "COFFEE HOUSE", "4.50", record.CategoryMeals, 0.9))

	for i := 0; i < 3; i++ {
		dup := testRecord(t, "rec-1", date(2024, 3, 1), "COFFEE HOUSE", "4.50", record.CategoryMeals, 0.9)
		existing, err := s.Accept(context.Background(), dup, "")
		if !errors.Is(err, ErrDuplicate) {
			t.Fatalf("attempt %d: error = %v, want ErrDuplicate", i+1, err)
		}
		if existing == nil || existing.ID != first.ID {
			t.Fatalf("attempt %d: expected the existing record back", i+1)
		}
		if existing.Status != record.StatusAccepted {
			t.Errorf("attempt %d: existing status = %q, want accepted", i+1, existing.Status)
		}
	}

	if got := s.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}

	var duplicates int
	for _, entry := range s.Audit("rec-1") {
		if entry.Event == record.AuditDuplicateAttempt {
			duplicates++
		}
	}
	if duplicates != 3 {
		t.Errorf("duplicate_attempt entries = %d, want 3", duplicates)
	}
}

func TestRecategorize(t *testing.T) {
	ctx := context.Background()

	t.Run("updates category and recomputes confidence", func(t *testing.T) {
		s := NewStore(0.5)
		rec := testRecord(t, "rec-1", date(2024, 3, 1), "COFFEE HOUSE", "4.50", record.CategoryOther, 0.7)
		rec.ExtractionConfidence = 0.8
		rec.Confidence = 0.7
		mustAccept(t, s, rec)

		updated, err := s.Recategorize(ctx, "rec-1", record.CategoryMeals, "reviewer@example.com", "morning coffee")
		if err != nil {
			t.Fatalf("Recategorize failed: %v", err)
		}
		if updated.Category != record.CategoryMeals {
			t.Errorf("category = %q, want %q", updated.Category, record.CategoryMeals)
		}
		if updated.FieldConfidence.Category != 1.0 {
			t.Errorf("category confidence = %v, want 1.0", updated.FieldConfidence.Category)
		}
		if updated.Confidence != 0.8 {
			t.Errorf("confidence = %v, want extraction confidence 0.8", updated.Confidence)
		}
		if updated.Status != record.StatusAccepted {
			t.Errorf("status changed to %q, want accepted", updated.Status)
		}

		entries := s.Audit("rec-1")
		last := entries[len(entries)-1]
		if last.Event != record.AuditRecategorized {
			t.Fatalf("last audit event = %q, want recategorized", last.Event)
		}
		if last.Actor != "reviewer@example.com" {
			t.Errorf("audit actor = %q", last.Actor)
		}
		if !strings.Contains(last.Reason, "Other") || !strings.Contains(last.Reason, "Meals") {
			t.Errorf("audit reason %q does not name both categories", last.Reason)
		}
	})

	t.Run("needs_review keeps its status", func(t *testing.T) {
		s := NewStore(0.5)
		rec := testRecord(t, "rec-1", date(2024, 3, 1), "SHOP", "9.99", record.CategoryUncategorized, 0.3)
		mustAccept(t, s, rec)

		updated, err := s.Recategorize(ctx, "rec-1", record.CategoryOffice, "", "")
		if err != nil {
			t.Fatalf("Recategorize failed: %v", err)
		}
		if updated.Status != record.StatusNeedsReview {
			t.Errorf("status = %q, want needs_review", updated.Status)
		}
	})

	t.Run("same category is a no-op", func(t *testing.T) {
		s := NewStore(0.5)
		mustAccept(t, s, testRecord(t, "rec-1", date(2024, 3, 1), "SHOP", "9.99", record.CategoryMeals, 0.9))
		before := len(s.Audit("rec-1"))

		if _, err := s.Recategorize(ctx, "rec-1", record.CategoryMeals, "", ""); err != nil {
			t.Fatalf("Recategorize failed: %v", err)
		}
		if after := len(s.Audit("rec-1")); after != before {
			t.Errorf("audit grew from %d to %d on a no-op", before, after)
		}
	})

	t.Run("rejected records cannot be recategorized", func(t *testing.T) {
		s := NewStore(0.5)
		rec := testRecord(t, "rec-1", date(2024, 3, 1), "SHOP", "9.99", record.CategoryMeals, 0.9)
		rec.Status = record.StatusRejected
		mustAccept(t, s, rec)

		_, err := s.Recategorize(ctx, "rec-1", record.CategoryOffice, "", "")
		if !errors.Is(err, ErrStatusConflict) {
			t.Errorf("error = %v, want ErrStatusConflict", err)
		}
	})

	t.Run("unknown record", func(t *testing.T) {
		s := NewStore(0.5)
		_, err := s.Recategorize(ctx, "missing", record.CategoryOffice, "", "")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("invalid category", func(t *testing.T) {
		s := NewStore(0.5)
		mustAccept(t, s, testRecord(t, "rec-1", date(2024, 3, 1), "SHOP", "9.99", record.CategoryMeals, 0.9))
		if _, err := s.Recategorize(ctx, "rec-1", record.Category("Groceries"), "", ""); err == nil {
			t.Error("expected error for unknown category")
		}
	})
}

func TestSupersede(t *testing.T) {
	ctx := context.Background()

	newReviewRecord := func(t *testing.T, s *Store, id string) {
		t.Helper()
		rec := testRecord(t, id, date(2024, 3, 1), "SHOP", "9.99", record.CategoryUncategorized, 0.2)
		mustAccept(t, s, rec)
	}

	t.Run("links replacement to review record", func(t *testing.T) {
		s := NewStore(0.5)
		newReviewRecord(t, s, "old-1")

		repl := testRecord(t, "new-1", date(2024, 3, 1), "SHOP", "9.99", record.CategoryOffice, 0.9)
		repl.Supersedes = "old-1"
		stored, err := s.Accept(ctx, repl, "reviewer@example.com")
		if err != nil {
			t.Fatalf("Accept failed: %v", err)
		}
		if stored.Supersedes != "old-1" {
			t.Errorf("supersedes = %q, want old-1", stored.Supersedes)
		}

		byID, ok := s.SupersededBy("old-1")
		if !ok || byID != "new-1" {
			t.Errorf("SupersededBy(old-1) = %q, %v; want new-1, true", byID, ok)
		}

		entries := s.Audit("old-1")
		last := entries[len(entries)-1]
		if last.Event != record.AuditSuperseded {
			t.Errorf("last audit event on target = %q, want superseded", last.Event)
		}
		if !strings.Contains(last.Reason, "new-1") {
			t.Errorf("audit reason %q does not name the replacement", last.Reason)
		}
	})

	t.Run("cannot supersede an accepted record", func(t *testing.T) {
		s := NewStore(0.5)
		mustAccept(t, s, testRecord(t, "old-1", date(2024, 3, 1), "SHOP", "9.99", record.CategoryMeals, 0.9))

		repl := testRecord(t, "new-1", date(2024, 3, 1), "SHOP", "9.99", record.CategoryMeals, 0.9)
		repl.Supersedes = "old-1"
		_, err := s.Accept(ctx, repl, "")
		if !errors.Is(err, ErrStatusConflict) {
			t.Errorf("error = %v, want ErrStatusConflict", err)
		}
		if s.Len() != 1 {
			t.Errorf("Len() = %d, replacement should not have been stored", s.Len())
		}
	})

	t.Run("cannot supersede a missing record", func(t *testing.T) {
		s := NewStore(0.5)
		repl := testRecord(t, "new-1", date(2024, 3, 1), "SHOP", "9.99", record.CategoryMeals, 0.9)
		repl.Supersedes = "missing"
		_, err := s.Accept(ctx, repl, "")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("cannot supersede twice", func(t *testing.T) {
		s := NewStore(0.5)
		newReviewRecord(t, s, "old-1")

		first := testRecord(t, "new-1", date(2024, 3, 1), "SHOP", "9.99", record.CategoryOffice, 0.9)
		first.Supersedes = "old-1"
		mustAccept(t, s, first)

		second := testRecord(t, "new-2", date(2024, 3, 2), "SHOP", "9.99", record.CategoryOffice, 0.9)
		second.Supersedes = "old-1"
		_, err := s.Accept(ctx, second, "")
		if !errors.Is(err, ErrStatusConflict) {
			t.Errorf("error = %v, want ErrStatusConflict", err)
		}
	})
}

func TestAuditLogIsACopy(t *testing.T) {
	s := NewStore(0.5)
	mustAccept(t, s, testRecord(t, "rec-1", date(2024, 3, 1), "SHOP", "9.99", record.CategoryMeals, 0.9))

	log := s.AuditLog()
	if len(log) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(log))
	}
	log[0].Reason = "mutated"

	if got := s.AuditLog()[0].Reason; got == "mutated" {
		t.Error("mutating the returned log leaked into the store")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewStore(0.5)
	mustAccept(t, s, testRecord(t, "rec-1", date(2024, 3, 1), "SHOP", "9.99", record.CategoryMeals, 0.9))

	got, ok := s.Get("rec-1")
	if !ok {
		t.Fatal("expected record")
	}
	got.Merchant = "MUTATED"

	again, _ := s.Get("rec-1")
	if again.Merchant != "SHOP" {
		t.Errorf("merchant = %q, store was mutated through a copy", again.Merchant)
	}

	if _, ok := s.Get("missing"); ok {
		t.Error("expected miss for unknown id")
	}
}
