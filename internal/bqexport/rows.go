// Package bqexport mirrors accepted ledger records and their audit trail into
// BigQuery for analytical queries. The sink is append-only: rows already
// present in the dataset are skipped, never rewritten. Schema lives in
// migrations/bigquery and is applied by cmd/migrate.
package bqexport

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/mlozhkin/docledger/internal/record"
)

const (
	recordsTable = "ledger_records"
	auditTable   = "audit_entries"
)

// RecordRow is the BigQuery projection of a ledger record.
type RecordRow struct {
	RecordID string `bigquery:"record_id"` // REQUIRED

	Merchant    string              `bigquery:"merchant"`    // NULLABLE (empty on low-confidence extraction)
	Description bigquery.NullString `bigquery:"description"` // NULLABLE

	Amount   *big.Rat `bigquery:"amount"`   // REQUIRED NUMERIC
	Currency string   `bigquery:"currency"` // REQUIRED STRING

	RecordDate civil.Date `bigquery:"record_date"` // REQUIRED

	Category             string  `bigquery:"category"`
	Confidence           float64 `bigquery:"confidence"`
	ExtractionConfidence float64 `bigquery:"extraction_confidence"`

	SourceKind string `bigquery:"source_kind"`
	Status     string `bigquery:"status"`

	Supersedes   bigquery.NullString `bigquery:"supersedes"`    // NULLABLE
	ReviewReason bigquery.NullString `bigquery:"review_reason"` // NULLABLE

	CreatedTS  time.Time `bigquery:"created_ts"`
	ExportedTS time.Time `bigquery:"exported_ts"`
}

// AuditRow is the BigQuery projection of one audit trail entry.
type AuditRow struct {
	EntryID  string `bigquery:"entry_id"` // REQUIRED
	RecordID string `bigquery:"record_id"`

	Event  string              `bigquery:"event"`
	Actor  string              `bigquery:"actor"`
	Reason bigquery.NullString `bigquery:"reason"` // NULLABLE

	EventTS    time.Time `bigquery:"event_ts"`
	ExportedTS time.Time `bigquery:"exported_ts"`
}

// RowFromRecord converts a ledger record into its BigQuery row.
func RowFromRecord(rec record.DocumentRecord) *RecordRow {
	row := &RecordRow{
		RecordID:             rec.ID,
		Merchant:             rec.Merchant,
		Amount:               rec.Amount.Amount().Rat(),
		Currency:             rec.Amount.Currency(),
		RecordDate:           rec.Date,
		Category:             string(rec.Category),
		Confidence:           rec.Confidence,
		ExtractionConfidence: rec.ExtractionConfidence,
		SourceKind:           string(rec.SourceKind),
		Status:               string(rec.Status),
		CreatedTS:            rec.CreatedAt,
		ExportedTS:           time.Now().UTC(),
	}

	if rec.Description != "" {
		row.Description = bigquery.NullString{StringVal: rec.Description, Valid: true}
	}
	if rec.Supersedes != "" {
		row.Supersedes = bigquery.NullString{StringVal: rec.Supersedes, Valid: true}
	}
	if rec.ReviewReason != "" {
		row.ReviewReason = bigquery.NullString{StringVal: rec.ReviewReason, Valid: true}
	}

	return row
}

// RowFromAudit converts an audit entry into its BigQuery row.
func RowFromAudit(entry record.AuditEntry) *AuditRow {
	row := &AuditRow{
		EntryID:    entry.ID,
		RecordID:   entry.RecordID,
		Event:      string(entry.Event),
		Actor:      entry.Actor,
		EventTS:    entry.Timestamp,
		ExportedTS: time.Now().UTC(),
	}

	if entry.Reason != "" {
		row.Reason = bigquery.NullString{StringVal: entry.Reason, Valid: true}
	}

	return row
}
