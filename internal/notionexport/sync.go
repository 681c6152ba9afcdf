package notionexport

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"

	"github.com/mlozhkin/docledger/internal/logger"
	"github.com/mlozhkin/docledger/internal/record"
)

// BatchSize bounds how many records one sync pass logs as a unit.
const BatchSize = 100

// Report counts what one sync pass did.
type Report struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Total   int `json:"total"`
}

// Sync mirrors the given records into the Notion database. Existing pages are
// updated in place (status and category drift after recategorize/supersede),
// missing pages are created, and pages whose record id is absent from the
// snapshot are archived. Per-page failures are logged and skipped so one bad
// page never aborts the pass.
func Sync(ctx context.Context, service NotionService, databaseID string, records []record.DocumentRecord, dryRun bool) (*Report, error) {
	log := logger.FromContext(ctx)

	log.Info().
		Int("record_count", len(records)).
		Bool("dry_run", dryRun).
		Msg("Starting Notion sync")

	pages, err := queryAllPages(ctx, service, databaseID)
	if err != nil {
		return nil, fmt.Errorf("Sync: %w", err)
	}
	log.Info().Int("page_count", len(pages)).Msg("Retrieved existing Notion pages")

	// Page per record id; pages without a key count as stale.
	pageByRecord := make(map[string]notionapi.Page)
	for _, page := range pages {
		if id := RecordIDFromPage(page); id != "" {
			pageByRecord[id] = page
		}
	}

	valid := make(map[string]bool, len(records))
	for _, rec := range records {
		valid[rec.ID] = true
	}

	report := &Report{Total: len(records)}

	for _, page := range pages {
		recordID := RecordIDFromPage(page)
		if recordID != "" && valid[recordID] {
			continue
		}

		if dryRun {
			log.Info().
				Str("record_id", recordID).
				Str("page_id", string(page.ID)).
				Msg("[DRY RUN] Would archive stale Notion page")
			report.Deleted++
			continue
		}

		if err := service.DeletePage(ctx, string(page.ID)); err != nil {
			log.Warn().
				Err(err).
				Str("record_id", recordID).
				Str("page_id", string(page.ID)).
				Msg("Failed to archive stale Notion page")
			continue
		}
		report.Deleted++
	}

	for start := 0; start < len(records); start += BatchSize {
		end := start + BatchSize
		if end > len(records) {
			end = len(records)
		}
		log.Info().
			Int("batch_start", start).
			Int("batch_size", end-start).
			Msg("Processing batch")

		for _, rec := range records[start:end] {
			existing, exists := pageByRecord[rec.ID]

			if dryRun {
				if exists {
					report.Updated++
				} else {
					report.Created++
				}
				continue
			}

			props := RecordToProperties(rec)

			if exists {
				if _, err := service.UpdatePage(ctx, string(existing.ID), props); err != nil {
					log.Warn().
						Err(err).
						Str("record_id", rec.ID).
						Str("page_id", string(existing.ID)).
						Msg("Failed to update Notion page")
					continue
				}
				report.Updated++
				continue
			}

			page, err := service.CreatePage(ctx, databaseID, props)
			if err != nil {
				log.Warn().
					Err(err).
					Str("record_id", rec.ID).
					Msg("Failed to create Notion page")
				continue
			}
			log.Debug().
				Str("record_id", rec.ID).
				Str("page_id", string(page.ID)).
				Msg("Created Notion page")
			report.Created++
		}
	}

	log.Info().
		Int("created", report.Created).
		Int("updated", report.Updated).
		Int("deleted", report.Deleted).
		Int("total", report.Total).
		Msg("Notion sync completed")

	return report, nil
}

// queryAllPages pages through the whole database.
func queryAllPages(ctx context.Context, service NotionService, databaseID string) ([]notionapi.Page, error) {
	var all []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{PageSize: 100}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := service.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllPages: %w", err)
		}

		all = append(all, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return all, nil
}
