// Command migrate applies the BigQuery schema for the analytical export
// dataset. Migration files live in migrations/bigquery as NNNN_name.sql with
// {{PROJECT_ID}} and {{DATASET_ID}} placeholders; applied versions are
// recorded in a schema_migrations table so reruns are no-ops.
package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/mlozhkin/docledger/internal/config"
)

var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

type migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

func main() {
	cfg := config.Load()

	projectID := flag.String("project", cfg.BigQueryProject, "GCP project id")
	datasetID := flag.String("dataset", cfg.BigQueryDataset, "BigQuery dataset id")
	location := flag.String("location", "US", "Dataset location used when the dataset must be created")
	migrationsDir := flag.String("migrations", "migrations/bigquery", "Path to the migrations directory")
	appliedBy := flag.String("applied-by", "migrate-cli", "Recorded as the applier of new migrations")
	flag.Parse()

	if *projectID == "" {
		log.Fatal("Error: -project flag (or BIGQUERY_PROJECT) is required")
	}

	ctx := context.Background()

	client, err := bigquery.NewClient(ctx, *projectID)
	if err != nil {
		log.Fatalf("Failed to create BigQuery client: %v", err)
	}
	defer client.Close()

	log.Printf("Connected to BigQuery project %s, dataset %s", *projectID, *datasetID)

	if err := ensureDataset(ctx, client, *datasetID, *location); err != nil {
		log.Fatalf("Failed to ensure dataset: %v", err)
	}
	if err := ensureMigrationsTable(ctx, client, *projectID, *datasetID); err != nil {
		log.Fatalf("Failed to ensure schema_migrations table: %v", err)
	}

	migrations, err := readMigrations(*migrationsDir, *projectID, *datasetID)
	if err != nil {
		log.Fatalf("Failed to read migrations: %v", err)
	}
	log.Printf("Found %d migration files", len(migrations))

	applied, err := appliedVersions(ctx, client, *projectID, *datasetID)
	if err != nil {
		log.Fatalf("Failed to read applied migrations: %v", err)
	}
	log.Printf("Found %d already applied migrations", len(applied))

	ran := 0
	for _, m := range migrations {
		if applied[m.Version] {
			log.Printf("  [SKIP] %04d_%s (already applied)", m.Version, m.Name)
			continue
		}

		log.Printf("  [RUN]  %04d_%s", m.Version, m.Name)
		if err := runQuery(ctx, client, m.SQL, nil); err != nil {
			log.Fatalf("Failed to execute migration %04d_%s: %v", m.Version, m.Name, err)
		}
		if err := recordMigration(ctx, client, *projectID, *datasetID, m, *appliedBy); err != nil {
			log.Fatalf("Failed to record migration %04d_%s: %v", m.Version, m.Name, err)
		}
		log.Printf("  [OK]   %04d_%s", m.Version, m.Name)
		ran++
	}

	if ran == 0 {
		log.Println("No new migrations to apply. Dataset is up to date.")
	} else {
		log.Printf("Applied %d migration(s)", ran)
	}
}

// ensureDataset creates the export dataset when it does not exist yet.
func ensureDataset(ctx context.Context, client *bigquery.Client, datasetID, location string) error {
	ds := client.Dataset(datasetID)
	_, err := ds.Metadata(ctx)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("dataset metadata: %w", err)
	}

	log.Printf("Dataset %s not found, creating in %s", datasetID, location)
	if err := ds.Create(ctx, &bigquery.DatasetMetadata{Location: location}); err != nil {
		return fmt.Errorf("creating dataset: %w", err)
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, client *bigquery.Client, projectID, datasetID string) error {
	sql := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS `+"`%s.%s.schema_migrations`"+` (
			version    INT64 NOT NULL,
			name       STRING NOT NULL,
			applied_at TIMESTAMP NOT NULL,
			checksum   STRING,
			applied_by STRING
		)
	`, projectID, datasetID)

	return runQuery(ctx, client, sql, nil)
}

// readMigrations loads NNNN_name.sql files sorted by version. Checksums are
// taken before placeholder substitution so the same logical migration hashes
// identically across projects.
func readMigrations(dir, projectID, datasetID string) ([]migration, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		// Allow running from inside cmd/migrate during development.
		alt := filepath.Join("../..", dir)
		if _, err := os.Stat(alt); os.IsNotExist(err) {
			return nil, fmt.Errorf("migrations directory not found: %s", dir)
		}
		dir = alt
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		matches := migrationPattern.FindStringSubmatch(entry.Name())
		if matches == nil {
			log.Printf("Skipping file with invalid name: %s", entry.Name())
			continue
		}

		version, err := strconv.Atoi(matches[1])
		if err != nil {
			log.Printf("Skipping file with invalid version: %s", entry.Name())
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}

		sql := string(content)
		sql = strings.ReplaceAll(sql, "{{PROJECT_ID}}", projectID)
		sql = strings.ReplaceAll(sql, "{{DATASET_ID}}", datasetID)

		migrations = append(migrations, migration{
			Version:  version,
			Name:     matches[2],
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

func appliedVersions(ctx context.Context, client *bigquery.Client, projectID, datasetID string) (map[int]bool, error) {
	sql := fmt.Sprintf(`
		SELECT version
		FROM `+"`%s.%s.schema_migrations`"+`
		ORDER BY version ASC
	`, projectID, datasetID)

	it, err := client.Query(sql).Read(ctx)
	if err != nil {
		if isNotFound(err) {
			return map[int]bool{}, nil
		}
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	versions := make(map[int]bool)
	for {
		var row struct {
			Version int64 `bigquery:"version"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating applied migrations: %w", err)
		}
		versions[int(row.Version)] = true
	}

	return versions, nil
}

func recordMigration(ctx context.Context, client *bigquery.Client, projectID, datasetID string, m migration, appliedBy string) error {
	sql := fmt.Sprintf(`
		INSERT INTO `+"`%s.%s.schema_migrations`"+`
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, @applied_at, @checksum, @applied_by)
	`, projectID, datasetID)

	params := []bigquery.QueryParameter{
		{Name: "version", Value: m.Version},
		{Name: "name", Value: m.Name},
		{Name: "applied_at", Value: time.Now().UTC()},
		{Name: "checksum", Value: m.Checksum},
		{Name: "applied_by", Value: appliedBy},
	}

	return runQuery(ctx, client, sql, params)
}

func runQuery(ctx context.Context, client *bigquery.Client, sql string, params []bigquery.QueryParameter) error {
	q := client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
