package bqexport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/mlozhkin/docledger/internal/logger"
	"github.com/mlozhkin/docledger/internal/record"
)

// ErrDatasetNotMigrated is returned when the export tables do not exist yet.
var ErrDatasetNotMigrated = errors.New("bqexport: export tables missing, run cmd/migrate first")

// Exporter writes ledger rows into the configured BigQuery dataset.
type Exporter struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// Report counts what one Export pass did.
type Report struct {
	RecordsInserted int `json:"records_inserted"`
	RecordsSkipped  int `json:"records_skipped"`
	AuditInserted   int `json:"audit_inserted"`
	AuditSkipped    int `json:"audit_skipped"`
}

// New creates an Exporter with its own BigQuery client.
func New(ctx context.Context, projectID, datasetID string) (*Exporter, error) {
	if projectID == "" {
		return nil, errors.New("bqexport: project id is required")
	}

	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("New: bigquery client: %w", err)
	}

	return NewWithClient(client, projectID, datasetID), nil
}

// NewWithClient creates an Exporter around an existing client. The caller
// keeps ownership of the client's lifecycle.
func NewWithClient(client *bigquery.Client, projectID, datasetID string) *Exporter {
	return &Exporter{client: client, projectID: projectID, datasetID: datasetID}
}

// Close releases the underlying client.
func (e *Exporter) Close() error {
	return e.client.Close()
}

// Export mirrors records and audit entries into BigQuery, skipping rows the
// dataset already holds. Streaming inserts cannot upsert, so idempotence
// comes from reading the exported id sets first.
func (e *Exporter) Export(ctx context.Context, records []record.DocumentRecord, audit []record.AuditEntry) (*Report, error) {
	log := logger.FromContext(ctx)

	exportedRecords, err := e.exportedIDs(ctx, recordsTable, "record_id")
	if err != nil {
		return nil, fmt.Errorf("Export: %w", err)
	}
	exportedAudit, err := e.exportedIDs(ctx, auditTable, "entry_id")
	if err != nil {
		return nil, fmt.Errorf("Export: %w", err)
	}

	report := &Report{}

	var recordRows []*RecordRow
	for _, rec := range records {
		if exportedRecords[rec.ID] {
			report.RecordsSkipped++
			continue
		}
		recordRows = append(recordRows, RowFromRecord(rec))
	}

	var auditRows []*AuditRow
	for _, entry := range audit {
		if exportedAudit[entry.ID] {
			report.AuditSkipped++
			continue
		}
		auditRows = append(auditRows, RowFromAudit(entry))
	}

	if err := e.InsertRecords(ctx, recordRows); err != nil {
		return nil, fmt.Errorf("Export: %w", err)
	}
	report.RecordsInserted = len(recordRows)

	if err := e.InsertAuditEntries(ctx, auditRows); err != nil {
		return nil, fmt.Errorf("Export: %w", err)
	}
	report.AuditInserted = len(auditRows)

	log.Info().
		Int("records_inserted", report.RecordsInserted).
		Int("records_skipped", report.RecordsSkipped).
		Int("audit_inserted", report.AuditInserted).
		Int("audit_skipped", report.AuditSkipped).
		Msg("BigQuery export completed")

	return report, nil
}

// InsertRecords streams record rows into the ledger_records table.
func (e *Exporter) InsertRecords(ctx context.Context, rows []*RecordRow) error {
	if len(rows) == 0 {
		return nil
	}

	table := e.client.DatasetInProject(e.projectID, e.datasetID).Table(recordsTable)
	if err := table.Inserter().Put(ctx, rows); err != nil {
		return fmt.Errorf("InsertRecords: inserting rows: %w", err)
	}

	return nil
}

// InsertAuditEntries streams audit rows into the audit_entries table.
func (e *Exporter) InsertAuditEntries(ctx context.Context, rows []*AuditRow) error {
	if len(rows) == 0 {
		return nil
	}

	table := e.client.DatasetInProject(e.projectID, e.datasetID).Table(auditTable)
	if err := table.Inserter().Put(ctx, rows); err != nil {
		return fmt.Errorf("InsertAuditEntries: inserting rows: %w", err)
	}

	return nil
}

// QueryRecordsByDateRange reads exported records back within [from, to],
// ordered the way the ledger orders them.
func (e *Exporter) QueryRecordsByDateRange(ctx context.Context, from, to time.Time) ([]*RecordRow, error) {
	q := e.client.Query(fmt.Sprintf(`
		SELECT
			record_id,
			merchant,
			description,
			amount,
			currency,
			record_date,
			category,
			confidence,
			extraction_confidence,
			source_kind,
			status,
			supersedes,
			review_reason,
			created_ts,
			exported_ts
		FROM `+"`%s.%s.%s`"+`
		WHERE record_date >= @from_date
		  AND record_date <= @to_date
		ORDER BY record_date, record_id
	`, e.projectID, e.datasetID, recordsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "from_date", Value: from.Format("2006-01-02")},
		{Name: "to_date", Value: to.Format("2006-01-02")},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryRecordsByDateRange: query read: %w", err)
	}

	var rows []*RecordRow
	for {
		var r RecordRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryRecordsByDateRange: iter next: %w", err)
		}
		rows = append(rows, &r)
	}

	return rows, nil
}

// exportedIDs reads the id column of a table into a set. A missing table
// means the dataset has not been migrated.
func (e *Exporter) exportedIDs(ctx context.Context, table, idColumn string) (map[string]bool, error) {
	q := e.client.Query(fmt.Sprintf(
		"SELECT %s AS id FROM `%s.%s.%s`", idColumn, e.projectID, e.datasetID, table))

	it, err := q.Read(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("exportedIDs: table %s.%s: %w", e.datasetID, table, ErrDatasetNotMigrated)
		}
		return nil, fmt.Errorf("exportedIDs: query read: %w", err)
	}

	ids := make(map[string]bool)
	for {
		var row struct {
			ID string `bigquery:"id"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("exportedIDs: iter next: %w", err)
		}
		ids[row.ID] = true
	}

	return ids, nil
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
