// Command sync-notion mirrors ledger records from a running api server into a
// Notion database for human review. One-shot: fetch, diff against the
// database, create/update/archive pages, report.
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/mlozhkin/docledger/internal/apiclient"
	"github.com/mlozhkin/docledger/internal/config"
	"github.com/mlozhkin/docledger/internal/logger"
	"github.com/mlozhkin/docledger/internal/notionexport"
)

func main() {
	log := logger.New()
	cfg := config.Load()

	server := flag.String("server", "http://localhost:8080", "Base URL of the api server")
	from := flag.String("from", "", "Only sync records on or after this date (YYYY-MM-DD)")
	to := flag.String("to", "", "Only sync records on or before this date (YYYY-MM-DD)")
	status := flag.String("status", "", "Only sync records with this status (e.g. needs_review)")
	notionToken := flag.String("notion-token", cfg.NotionToken, "Notion API token")
	notionDBID := flag.String("notion-db-id", cfg.NotionDatabaseID, "Notion database ID")
	dryRun := flag.Bool("dry-run", false, "Preview changes without touching Notion")
	flag.Parse()

	if *notionToken == "" {
		log.Fatal().Msg("Error: --notion-token (or NOTION_TOKEN) is required")
	}
	if *notionDBID == "" {
		log.Fatal().Msg("Error: --notion-db-id (or NOTION_DATABASE_ID) is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	log.Info().
		Str("server", *server).
		Bool("dry_run", *dryRun).
		Msg("Starting Notion sync")

	client := apiclient.New(*server)
	records, err := client.Records(ctx, apiclient.RecordsQuery{
		Status: *status,
		From:   *from,
		To:     *to,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to fetch records from api server")
	}

	log.Info().Int("record_count", len(records)).Msg("Fetched ledger records")

	notion := notionexport.NewClient(*notionToken)
	report, err := notionexport.Sync(ctx, notion, *notionDBID, records, *dryRun)
	if err != nil {
		log.Fatal().Err(err).Msg("Sync failed")
	}

	if *dryRun {
		fmt.Printf("Dry run: would create %d, update %d, archive %d pages (%d records)\n",
			report.Created, report.Updated, report.Deleted, report.Total)
		return
	}
	fmt.Printf("Sync complete: %d created, %d updated, %d archived (%d records)\n",
		report.Created, report.Updated, report.Deleted, report.Total)
}
