// Package ledger keeps the authoritative set of accepted document records
// together with an append-only audit trail. A single Store guards all writes;
// reads operate on consistent snapshots.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mlozhkin/docledger/internal/logger"
	"github.com/mlozhkin/docledger/internal/record"
)

// DefaultMinConfidence is the acceptance threshold applied when the store is
// constructed without an explicit one.
const DefaultMinConfidence = 0.5

var (
	// ErrDuplicate is returned by Accept when a record with the same content
	// hash is already stored.
	ErrDuplicate = errors.New("duplicate record")

	// ErrNotFound is returned when a record id is not present in the store.
	ErrNotFound = errors.New("record not found")

	// ErrStatusConflict is returned when a record's status does not permit
	// the requested operation.
	ErrStatusConflict = errors.New("record status does not permit this operation")
)

// Store is an in-memory ledger. All mutations take the write lock; queries
// copy records out so callers never observe concurrent writes.
type Store struct {
	mu            sync.RWMutex
	records       map[string]*record.DocumentRecord
	auditLog      []record.AuditEntry
	auditIdx      map[string][]int
	supersededBy  map[string]string
	minConfidence float64
}

// NewStore creates an empty ledger. Records whose confidence falls below
// minConfidence are stored as needs_review instead of accepted.
func NewStore(minConfidence float64) *Store {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	return &Store{
		records:       make(map[string]*record.DocumentRecord),
		auditIdx:      make(map[string][]int),
		supersededBy:  make(map[string]string),
		minConfidence: minConfidence,
	}
}

// Accept stores a candidate record and finalizes its status. Candidates must
// arrive as pending, or as rejected when validation already failed upstream.
// Resubmitting content that is already stored leaves the ledger unchanged:
// the existing record is returned together with ErrDuplicate, and the attempt
// is recorded in the audit trail.
func (s *Store) Accept(ctx context.Context, rec *record.DocumentRecord, actor string) (*record.DocumentRecord, error) {
	if rec == nil {
		return nil, fmt.Errorf("Accept: nil record")
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("Accept: record has no id")
	}
	if rec.Status != record.StatusPending && rec.Status != record.StatusRejected {
		return nil, fmt.Errorf("Accept: candidate status must be %q or %q, got %q",
			record.StatusPending, record.StatusRejected, rec.Status)
	}
	log := logger.FromContext(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[rec.ID]; ok {
		s.appendAuditLocked(record.NewAuditEntry(rec.ID, record.AuditDuplicateAttempt, actor,
			"submission matched an existing record"))
		log.Warn().
			Str("record_id", rec.ID).
			Msg("Duplicate submission, keeping existing record")
		return existing.Clone(), fmt.Errorf("Accept: record %s: %w", rec.ID, ErrDuplicate)
	}

	if rec.Supersedes != "" {
		if err := s.checkSupersedesLocked(rec.Supersedes); err != nil {
			return nil, fmt.Errorf("Accept: supersedes %s: %w", rec.Supersedes, err)
		}
	}

	stored := rec.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	var entry record.AuditEntry
	switch {
	case stored.Status == record.StatusRejected:
		if stored.ReviewReason == "" {
			stored.ReviewReason = "failed validation"
		}
		entry = record.NewAuditEntry(stored.ID, record.AuditRejected, actor, stored.ReviewReason)
	case stored.ReviewReason != "":
		stored.Status = record.StatusNeedsReview
		entry = record.NewAuditEntry(stored.ID, record.AuditCreated, actor, stored.ReviewReason)
	case stored.Confidence < s.minConfidence:
		stored.Status = record.StatusNeedsReview
		stored.ReviewReason = fmt.Sprintf("confidence %.2f below acceptance minimum %.2f",
			stored.Confidence, s.minConfidence)
		entry = record.NewAuditEntry(stored.ID, record.AuditCreated, actor, stored.ReviewReason)
	default:
		stored.Status = record.StatusAccepted
		entry = record.NewAuditEntry(stored.ID, record.AuditCreated, actor, "")
	}

	s.records[stored.ID] = stored
	s.appendAuditLocked(entry)

	if stored.Supersedes != "" {
		s.supersededBy[stored.Supersedes] = stored.ID
		s.appendAuditLocked(record.NewAuditEntry(stored.Supersedes, record.AuditSuperseded, actor,
			fmt.Sprintf("superseded by %s", stored.ID)))
	}

	log.Info().
		Str("record_id", stored.ID).
		Str("status", string(stored.Status)).
		Str("category", string(stored.Category)).
		Msg("Record stored in ledger")
	return stored.Clone(), nil
}

// checkSupersedesLocked verifies that the target of a supersede link exists,
// is waiting for review, and has not already been replaced.
func (s *Store) checkSupersedesLocked(targetID string) error {
	target, ok := s.records[targetID]
	if !ok {
		return ErrNotFound
	}
	if target.Status != record.StatusNeedsReview {
		return fmt.Errorf("target is %s: %w", target.Status, ErrStatusConflict)
	}
	if byID, ok := s.supersededBy[targetID]; ok {
		return fmt.Errorf("target already superseded by %s: %w", byID, ErrStatusConflict)
	}
	return nil
}

// Get returns a copy of the record with the given id.
func (s *Store) Get(id string) (*record.DocumentRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Len reports the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Recategorize assigns a new category to an accepted or needs_review record.
// The correction is treated as authoritative, so the category confidence
// becomes 1.0 and the overall confidence is recomputed from the extraction
// side alone. The record's status is left untouched.
func (s *Store) Recategorize(ctx context.Context, id string, category record.Category, actor, note string) (*record.DocumentRecord, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("Recategorize: invalid category %q", category)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("Recategorize: record %s: %w", id, ErrNotFound)
	}
	if rec.Status != record.StatusAccepted && rec.Status != record.StatusNeedsReview {
		return nil, fmt.Errorf("Recategorize: record %s is %s: %w", id, rec.Status, ErrStatusConflict)
	}
	if rec.Category == category {
		return rec.Clone(), nil
	}

	previous := rec.Category
	rec.Category = category
	rec.FieldConfidence.Category = 1.0
	rec.Confidence = rec.ExtractionConfidence

	reason := fmt.Sprintf("category changed from %s to %s", previous, category)
	if note != "" {
		reason += ": " + note
	}
	s.appendAuditLocked(record.NewAuditEntry(id, record.AuditRecategorized, actor, reason))

	log := logger.FromContext(ctx)
	log.Info().
		Str("record_id", id).
		Str("from", string(previous)).
		Str("to", string(category)).
		Msg("Record recategorized")
	return rec.Clone(), nil
}

// SupersededBy reports the id of the record that replaced the given one.
func (s *Store) SupersededBy(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID, ok := s.supersededBy[id]
	return byID, ok
}

// Audit returns the audit entries for one record, oldest first.
func (s *Store) Audit(recordID string) []record.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.auditIdx[recordID]
	entries := make([]record.AuditEntry, 0, len(idx))
	for _, i := range idx {
		entries = append(entries, s.auditLog[i])
	}
	return entries
}

// AuditLog returns a copy of the full audit trail, oldest first.
func (s *Store) AuditLog() []record.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]record.AuditEntry, len(s.auditLog))
	copy(entries, s.auditLog)
	return entries
}

func (s *Store) appendAuditLocked(entry record.AuditEntry) {
	s.auditLog = append(s.auditLog, entry)
	s.auditIdx[entry.RecordID] = append(s.auditIdx[entry.RecordID], len(s.auditLog)-1)
}
