// The cli binary is the operator's front door to the ledger. submit runs
// documents through the extraction pipeline in-process; the remaining
// commands talk to a running api server, except publish, which reads from
// the server and writes to the BigQuery or Notion mirror directly.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mlozhkin/docledger/internal/apiclient"
	"github.com/mlozhkin/docledger/internal/archive"
	"github.com/mlozhkin/docledger/internal/bqexport"
	"github.com/mlozhkin/docledger/internal/categorize"
	"github.com/mlozhkin/docledger/internal/config"
	"github.com/mlozhkin/docledger/internal/extract"
	"github.com/mlozhkin/docledger/internal/ledger"
	"github.com/mlozhkin/docledger/internal/logger"
	"github.com/mlozhkin/docledger/internal/normalize"
	"github.com/mlozhkin/docledger/internal/notionexport"
	"github.com/mlozhkin/docledger/internal/pipeline"
	"github.com/mlozhkin/docledger/internal/record"
	"github.com/mlozhkin/docledger/internal/tax"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "submit":
		runSubmit(log)
	case "records":
		runRecords(log)
	case "estimate":
		runEstimate(log)
	case "export":
		runExport(log)
	case "recategorize":
		runRecategorize(log)
	case "publish":
		runPublish(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("DocLedger CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  submit        Run documents through the extraction pipeline")
	fmt.Println("  records       List or inspect ledger records on a running api server")
	fmt.Println("  estimate      Request a quarterly tax estimate")
	fmt.Println("  export        Download the ledger as CSV or XLSX")
	fmt.Println("  recategorize  Assign a reviewed category to a record")
	fmt.Println("  publish       Mirror ledger records to BigQuery or Notion")
	fmt.Println("  help          Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func runSubmit(log zerolog.Logger) {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	text := fs.String("text", "", "Submit this literal text as a single document")
	kind := fs.String("kind", "", "Force the source kind (text, pdf or image) instead of inferring it from file extensions")
	actor := fs.String("actor", "cli", "Actor recorded on audit entries")
	supersedes := fs.String("supersedes", "", "Record ID the submitted document replaces")
	fs.Parse(os.Args[2:])

	files := fs.Args()
	if *text == "" && len(files) == 0 {
		log.Fatal().Msg("Error: provide file paths or --text")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if err := cfg.RequireCompletion(); err != nil {
		log.Fatal().Err(err).Msg("Missing completion-service credentials")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	var forced record.SourceKind
	if *kind != "" {
		k, err := record.ParseSourceKind(*kind)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid --kind")
		}
		forced = k
	}

	var inputs []pipeline.Input
	if *text != "" {
		inputs = append(inputs, pipeline.Input{
			Content:    []byte(*text),
			SourceKind: record.SourceText,
			Filename:   "inline",
		})
	}
	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			log.Fatal().Err(err).Str("file", path).Msg("Failed to read file")
		}
		if forced != "" {
			inputs = append(inputs, pipeline.Input{
				Content:    content,
				SourceKind: forced,
				Filename:   filepath.Base(path),
			})
			continue
		}
		expanded, err := pipeline.InputsFromFile(path, content)
		if err != nil {
			log.Fatal().Err(err).Str("file", path).Msg("Failed to prepare file")
		}
		inputs = append(inputs, expanded...)
	}
	for i := range inputs {
		inputs[i].Actor = *actor
	}
	if *supersedes != "" {
		if len(inputs) != 1 {
			log.Fatal().Msg("Error: --supersedes requires exactly one document")
		}
		inputs[0].Supersedes = *supersedes
	}

	processor, archiveStore := buildProcessor(ctx, cfg, log)

	log.Info().Int("documents", len(inputs)).Msg("Submitting batch")
	report := processor.ProcessBatch(ctx, "", inputs)

	if archiveStore != nil {
		if err := archiveStore.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close archive store")
		}
	}

	printBatchReport(report)
	if report.Failed > 0 {
		os.Exit(1)
	}
}

// buildProcessor assembles the extraction pipeline from configuration,
// mirroring the worker's stack.
func buildProcessor(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*pipeline.Processor, *archive.Store) {
	gemini, err := extract.NewGeminiService(ctx, cfg.APIKey, cfg.ModelName)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create completion service")
	}
	completion := extract.NewRateLimited(gemini, cfg.RequestsPerMinute)

	extractor, err := extract.New(completion, extract.Config{
		Temperature:     cfg.Temperature,
		MaxTokens:       cfg.MaxOutputTokens,
		MaxAttempts:     cfg.MaxAttempts,
		BaseBackoff:     cfg.BaseBackoff,
		MerchantMaxLen:  cfg.MerchantMaxLen,
		DefaultCurrency: cfg.DefaultCurrency,
		DateMin:         cfg.DateMin,
		DateMax:         cfg.DateMax,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create extractor")
	}

	table := categorize.DefaultMerchantMap()
	if cfg.MerchantMapPath != "" {
		table, err = categorize.LoadMerchantMap(cfg.MerchantMapPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load merchant map")
		}
	}

	opts := pipeline.Options{
		Workers:         cfg.WorkerCount,
		DocumentTimeout: cfg.DocumentTimeout,
	}
	var archiveStore *archive.Store
	if cfg.ArchiveBucket != "" {
		archiveStore, err = archive.New(ctx, cfg.ArchiveBucket)
		if err != nil {
			log.Warn().Err(err).Msg("Archive disabled: storage client unavailable")
		} else {
			opts.Archiver = archiveStore
		}
	}

	processor, err := pipeline.NewProcessor(
		normalize.New(cfg.ExcerptMaxLen),
		extractor,
		categorize.New(table, cfg.CategoryThreshold),
		ledger.NewStore(cfg.MinConfidence),
		opts,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create processor")
	}
	return processor, archiveStore
}

func printBatchReport(report *pipeline.BatchReport) {
	fmt.Println("\n=== Batch Report ===")
	fmt.Printf("Batch ID:   %s\n", report.BatchID)
	fmt.Printf("Documents:  %d\n", len(report.Documents))
	fmt.Printf("Accepted:   %d\n", report.Accepted)
	fmt.Printf("Review:     %d\n", report.NeedsReview)
	fmt.Printf("Rejected:   %d\n", report.Rejected)
	fmt.Printf("Failed:     %d\n", report.Failed)
	if report.Duplicates > 0 {
		fmt.Printf("Duplicates: %d\n", report.Duplicates)
	}
	fmt.Println()
	for i, doc := range report.Documents {
		fmt.Printf("%d. %s\n", i+1, doc.Filename)
		if doc.RecordID != "" {
			fmt.Printf("   Record: %s\n", doc.RecordID)
		}
		if doc.Status != "" {
			fmt.Printf("   Status: %s\n", doc.Status)
		}
		if doc.Duplicate {
			fmt.Println("   Duplicate of an existing record")
		}
		if doc.Error != "" {
			fmt.Printf("   Error:  %s\n", doc.Error)
		}
	}
}

func runRecords(log zerolog.Logger) {
	fs := flag.NewFlagSet("records", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "Base URL of the api server")
	id := fs.String("id", "", "Show a single record with its audit trail")
	category := fs.String("category", "", "Filter by category")
	status := fs.String("status", "", "Filter by status (accepted, needs_review, rejected)")
	merchant := fs.String("merchant", "", "Filter by merchant substring")
	from := fs.String("from", "", "Only records dated on or after this day (YYYY-MM-DD)")
	to := fs.String("to", "", "Only records dated on or before this day (YYYY-MM-DD)")
	fs.Parse(os.Args[2:])

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	client := apiclient.New(*server)

	if *id != "" {
		rec, err := client.Record(ctx, *id)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to fetch record")
		}
		entries, err := client.Audit(ctx, *id)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to fetch audit trail")
		}
		printRecordDetail(rec, entries)
		return
	}

	records, err := client.Records(ctx, apiclient.RecordsQuery{
		Category: *category,
		Status:   *status,
		Merchant: *merchant,
		From:     *from,
		To:       *to,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list records")
	}
	if len(records) == 0 {
		fmt.Println("No records found.")
		return
	}

	fmt.Printf("%-10s  %-12s  %-28s  %14s  %-13s  %s\n",
		"DATE", "ID", "MERCHANT", "AMOUNT", "CATEGORY", "STATUS")
	for _, rec := range records {
		fmt.Printf("%-10s  %-12s  %-28s  %14s  %-13s  %s\n",
			rec.Date.String(), shortID(rec.ID), clip(rec.Merchant, 28),
			rec.Amount.String(), rec.Category, rec.Status)
	}
	fmt.Printf("\n%d record(s)\n", len(records))
}

func printRecordDetail(rec *record.DocumentRecord, entries []record.AuditEntry) {
	fmt.Println("\n=== Record ===")
	fmt.Printf("ID:          %s\n", rec.ID)
	fmt.Printf("Merchant:    %s\n", rec.Merchant)
	if rec.Description != "" {
		fmt.Printf("Description: %s\n", rec.Description)
	}
	fmt.Printf("Amount:      %s\n", rec.Amount)
	fmt.Printf("Date:        %s\n", rec.Date)
	fmt.Printf("Category:    %s\n", rec.Category)
	fmt.Printf("Confidence:  %.2f (extraction %.2f)\n", rec.Confidence, rec.ExtractionConfidence)
	fmt.Printf("Source:      %s\n", rec.SourceKind)
	fmt.Printf("Status:      %s\n", rec.Status)
	if rec.Supersedes != "" {
		fmt.Printf("Supersedes:  %s\n", rec.Supersedes)
	}
	if rec.ReviewReason != "" {
		fmt.Printf("Review:      %s\n", rec.ReviewReason)
	}

	if len(rec.LineItems) > 0 {
		fmt.Printf("\n=== Line Items (%d) ===\n", len(rec.LineItems))
		for i, item := range rec.LineItems {
			fmt.Printf("%d. %s  %s\n", i+1, item.Description, item.Amount)
		}
	}

	fmt.Printf("\n=== Audit Trail (%d) ===\n", len(entries))
	for i, e := range entries {
		fmt.Printf("%d. %s  %s by %s", i+1, e.Timestamp.Format(time.RFC3339), e.Event, e.Actor)
		if e.Reason != "" {
			fmt.Printf(" (%s)", e.Reason)
		}
		fmt.Println()
	}
}

func runEstimate(log zerolog.Logger) {
	fs := flag.NewFlagSet("estimate", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "Base URL of the api server")
	period := fs.String("period", "", "Quarter to estimate, e.g. 2024-Q1")
	gross := fs.String("gross-income", "", "Gross income for the quarter, e.g. 25000.00")
	withheld := fs.String("withheld", "0", "Tax already withheld for the quarter")
	currency := fs.String("currency", "", "Currency override for the amounts")
	fs.Parse(os.Args[2:])

	if *period == "" {
		log.Fatal().Msg("Error: --period is required")
	}
	if *gross == "" {
		log.Fatal().Msg("Error: --gross-income is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	client := apiclient.New(*server)
	est, err := client.Estimate(ctx, *period, *gross, *withheld, *currency)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to compute estimate")
	}
	printEstimate(est)
}

func printEstimate(est *tax.Estimate) {
	fmt.Println("\n=== Tax Estimate ===")
	fmt.Printf("Period:          %s\n", est.Period)
	fmt.Printf("Gross income:    %s\n", est.GrossIncome)
	fmt.Printf("Deductions:      %s\n", est.TotalDeductions)
	fmt.Printf("Taxable income:  %s\n", est.TaxableIncome)
	fmt.Printf("Estimated tax:   %s\n", est.EstimatedTax)
	fmt.Printf("Withheld:        %s\n", est.Withheld)
	fmt.Printf("Liability:       %s\n", est.EstimatedLiability)

	if len(est.Candidates) > 0 {
		fmt.Printf("\n=== Deductible Candidates (%d) ===\n", len(est.Candidates))
		for i, c := range est.Candidates {
			fmt.Printf("%d. %s  %s  (%s)\n", i+1, shortID(c.RecordID), c.Deduction, c.Rule)
		}
	}
	if est.Partial {
		fmt.Printf("\nWarning: %s\n", est.Warning)
		for _, id := range est.PendingRecordIDs {
			fmt.Printf("  pending: %s\n", shortID(id))
		}
	}
}

func runExport(log zerolog.Logger) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "Base URL of the api server")
	format := fs.String("format", "csv", "Export format: csv or xlsx")
	out := fs.String("out", "", "Output file (default records.<format>)")
	category := fs.String("category", "", "Filter by category")
	status := fs.String("status", "", "Filter by status")
	from := fs.String("from", "", "Only records dated on or after this day (YYYY-MM-DD)")
	to := fs.String("to", "", "Only records dated on or before this day (YYYY-MM-DD)")
	fs.Parse(os.Args[2:])

	*format = strings.ToLower(*format)
	if *format != "csv" && *format != "xlsx" {
		log.Fatal().Str("format", *format).Msg("Error: --format must be csv or xlsx")
	}
	if *out == "" {
		*out = "records." + *format
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	f, err := os.Create(*out)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create output file")
	}

	client := apiclient.New(*server)
	q := apiclient.RecordsQuery{Category: *category, Status: *status, From: *from, To: *to}
	if err := client.Export(ctx, *format, q, f); err != nil {
		f.Close()
		os.Remove(*out)
		log.Fatal().Err(err).Msg("Export failed")
	}
	if err := f.Close(); err != nil {
		log.Fatal().Err(err).Msg("Failed to write output file")
	}
	fmt.Printf("Exported ledger to %s\n", *out)
}

func runRecategorize(log zerolog.Logger) {
	fs := flag.NewFlagSet("recategorize", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "Base URL of the api server")
	id := fs.String("id", "", "Record ID to recategorize")
	category := fs.String("category", "", "New category")
	actor := fs.String("actor", "cli", "Actor recorded on the audit entry")
	note := fs.String("note", "", "Optional note stored with the audit entry")
	fs.Parse(os.Args[2:])

	if *id == "" {
		log.Fatal().Msg("Error: --id is required")
	}
	if *category == "" {
		log.Fatal().Msg("Error: --category is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	client := apiclient.New(*server)
	rec, err := client.Recategorize(ctx, *id, *category, *actor, *note)
	if err != nil {
		log.Fatal().Err(err).Msg("Recategorize failed")
	}
	fmt.Printf("Record %s is now %s (status %s, confidence %.2f)\n",
		shortID(rec.ID), rec.Category, rec.Status, rec.Confidence)
}

func runPublish(log zerolog.Logger) {
	cfg := config.Load()

	fs := flag.NewFlagSet("publish", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "Base URL of the api server")
	sink := fs.String("sink", "", "Destination: bigquery or notion")
	status := fs.String("status", "", "Only publish records with this status")
	from := fs.String("from", "", "Only records dated on or after this day (YYYY-MM-DD)")
	to := fs.String("to", "", "Only records dated on or before this day (YYYY-MM-DD)")
	project := fs.String("project", cfg.BigQueryProject, "BigQuery project (bigquery sink)")
	dataset := fs.String("dataset", cfg.BigQueryDataset, "BigQuery dataset (bigquery sink)")
	notionToken := fs.String("notion-token", cfg.NotionToken, "Notion integration token (notion sink)")
	notionDB := fs.String("notion-db-id", cfg.NotionDatabaseID, "Notion database ID (notion sink)")
	dryRun := fs.Bool("dry-run", false, "Log planned Notion changes without applying them")
	fs.Parse(os.Args[2:])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	client := apiclient.New(*server)
	records, err := client.Records(ctx, apiclient.RecordsQuery{Status: *status, From: *from, To: *to})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to fetch records")
	}

	switch *sink {
	case "bigquery":
		if *project == "" {
			log.Fatal().Msg("Error: --project (or BIGQUERY_PROJECT) is required")
		}
		entries, err := client.AuditLog(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to fetch audit log")
		}
		exporter, err := bqexport.New(ctx, *project, *dataset)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create BigQuery exporter")
		}
		defer exporter.Close()

		report, err := exporter.Export(ctx, records, entries)
		if err != nil {
			log.Fatal().Err(err).Msg("BigQuery export failed")
		}
		fmt.Printf("BigQuery: %d records inserted (%d already present), %d audit entries inserted (%d already present)\n",
			report.RecordsInserted, report.RecordsSkipped, report.AuditInserted, report.AuditSkipped)
	case "notion":
		if *notionToken == "" {
			log.Fatal().Msg("Error: --notion-token (or NOTION_TOKEN) is required")
		}
		if *notionDB == "" {
			log.Fatal().Msg("Error: --notion-db-id (or NOTION_DATABASE_ID) is required")
		}
		report, err := notionexport.Sync(ctx, notionexport.NewClient(*notionToken), *notionDB, records, *dryRun)
		if err != nil {
			log.Fatal().Err(err).Msg("Notion sync failed")
		}
		if *dryRun {
			fmt.Printf("Dry run: would create %d, update %d, archive %d (%d records)\n",
				report.Created, report.Updated, report.Deleted, report.Total)
		} else {
			fmt.Printf("Notion: %d created, %d updated, %d archived (%d records)\n",
				report.Created, report.Updated, report.Deleted, report.Total)
		}
	default:
		log.Fatal().Msg("Error: --sink must be bigquery or notion")
	}
}

// shortID trims record IDs for table output; the --id views print them whole.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
