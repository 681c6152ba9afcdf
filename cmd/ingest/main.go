// The ingest binary bulk-loads documents through the extraction pipeline in
// one shot. Arguments may be local files, directories, CSV bundles or
// gs:// URIs; everything runs as a single batch and the report prints once
// every document has settled.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mlozhkin/docledger/internal/archive"
	"github.com/mlozhkin/docledger/internal/categorize"
	"github.com/mlozhkin/docledger/internal/config"
	"github.com/mlozhkin/docledger/internal/extract"
	"github.com/mlozhkin/docledger/internal/ledger"
	"github.com/mlozhkin/docledger/internal/logger"
	"github.com/mlozhkin/docledger/internal/normalize"
	"github.com/mlozhkin/docledger/internal/pipeline"
)

func main() {
	log := logger.NewService("ingest")

	var (
		actor   = flag.String("actor", "ingest", "Actor recorded on audit entries")
		timeout = flag.Duration("timeout", 15*time.Minute, "Overall deadline for the run")
	)
	flag.Parse()

	paths := flag.Args()
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: ingest [flags] <file|directory|gs://uri> ...")
		os.Exit(1)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if err := cfg.RequireCompletion(); err != nil {
		log.Fatal().Err(err).Msg("Missing completion-service credentials")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	// gs:// arguments get their own storage client so remote fetches work
	// even without an archive bucket configured.
	var fetchStore *archive.Store
	for _, p := range paths {
		if !strings.HasPrefix(p, "gs://") {
			continue
		}
		bucket, _, err := archive.ParseURI(p)
		if err != nil {
			log.Fatal().Err(err).Str("uri", p).Msg("Invalid gs:// URI")
		}
		fetchStore, err = archive.New(ctx, bucket)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create storage client")
		}
		break
	}

	inputs := collectInputs(ctx, paths, *actor, fetchStore, log)
	if fetchStore != nil {
		if err := fetchStore.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close storage client")
		}
	}
	if len(inputs) == 0 {
		log.Fatal().Msg("No documents found to ingest")
	}

	processor, archiveStore := buildProcessor(ctx, cfg, log)

	log.Info().Int("documents", len(inputs)).Msg("Starting ingestion")
	report := processor.ProcessBatch(ctx, "", inputs)

	if archiveStore != nil {
		if err := archiveStore.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close archive store")
		}
	}

	fmt.Println("\n=== Ingestion Report ===")
	fmt.Printf("Batch ID:   %s\n", report.BatchID)
	fmt.Printf("Documents:  %d\n", len(report.Documents))
	fmt.Printf("Accepted:   %d\n", report.Accepted)
	fmt.Printf("Review:     %d\n", report.NeedsReview)
	fmt.Printf("Rejected:   %d\n", report.Rejected)
	fmt.Printf("Failed:     %d\n", report.Failed)
	fmt.Printf("Duplicates: %d\n", report.Duplicates)
	for _, doc := range report.Documents {
		if doc.Error != "" {
			fmt.Printf("  %s: %s\n", doc.Filename, doc.Error)
		}
	}

	if report.Failed > 0 {
		os.Exit(1)
	}
}

// collectInputs expands the argument list into pipeline inputs. Directories
// are walked recursively and contribute every supported file; CSV files
// expand to one input per row; gs:// URIs are fetched from storage.
func collectInputs(ctx context.Context, paths []string, actor string, fetchStore *archive.Store, log zerolog.Logger) []pipeline.Input {
	var inputs []pipeline.Input

	add := func(name string, content []byte) {
		expanded, err := pipeline.InputsFromFile(name, content)
		if err != nil {
			log.Fatal().Err(err).Str("file", name).Msg("Failed to prepare file")
		}
		inputs = append(inputs, expanded...)
	}

	for _, p := range paths {
		if strings.HasPrefix(p, "gs://") {
			content, err := fetchStore.Fetch(ctx, p)
			if err != nil {
				log.Fatal().Err(err).Str("uri", p).Msg("Failed to fetch object")
			}
			add(archive.Filename(p), content)
			continue
		}

		info, err := os.Stat(p)
		if err != nil {
			log.Fatal().Err(err).Str("path", p).Msg("Failed to stat path")
		}
		if !info.IsDir() {
			content, err := os.ReadFile(p)
			if err != nil {
				log.Fatal().Err(err).Str("file", p).Msg("Failed to read file")
			}
			add(p, content)
			continue
		}

		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			name := d.Name()
			if d.IsDir() {
				if strings.HasPrefix(name, ".") && path != p {
					return filepath.SkipDir
				}
				return nil
			}
			if !supported(name) {
				return nil
			}
			content, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			add(path, content)
			return nil
		})
		if err != nil {
			log.Fatal().Err(err).Str("dir", p).Msg("Failed to scan directory")
		}
	}

	for i := range inputs {
		inputs[i].Actor = actor
	}
	return inputs
}

// supported filters directory scans down to document files. Explicit file
// arguments bypass this check.
func supported(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".text", ".pdf", ".png", ".jpg", ".jpeg", ".csv":
		return true
	}
	return false
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
