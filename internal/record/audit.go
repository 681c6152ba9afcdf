package record

import (
	"time"

	"github.com/google/uuid"
)

// AuditEvent names the kind of an audit trail entry.
type AuditEvent string

const (
	AuditCreated          AuditEvent = "created"
	AuditRejected         AuditEvent = "rejected"
	AuditDuplicateAttempt AuditEvent = "duplicate_attempt"
	AuditRecategorized    AuditEvent = "recategorized"
	AuditSuperseded       AuditEvent = "superseded"
)

// ActorSystem is the actor recorded for entries the pipeline writes itself.
const ActorSystem = "system"

// AuditEntry is one immutable line of the ledger's audit trail. Entries are
// append-only and never mutated or deleted.
type AuditEntry struct {
	ID        string     `json:"id"`
	Timestamp time.Time  `json:"timestamp"`
	RecordID  string     `json:"record_id"`
	Event     AuditEvent `json:"event"`
	Actor     string     `json:"actor"`
	Reason    string     `json:"reason,omitempty"`
}

// NewAuditEntry stamps a new entry with a fresh id and the current time.
func NewAuditEntry(recordID string, event AuditEvent, actor, reason string) AuditEntry {
	if actor == "" {
		actor = ActorSystem
	}
	return AuditEntry{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		RecordID:  recordID,
		Event:     event,
		Actor:     actor,
		Reason:    reason,
	}
}
