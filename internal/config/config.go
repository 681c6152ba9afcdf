// Package config loads runtime configuration from the environment. Only
// missing completion-service credentials are fatal, and only for binaries
// that extract; everything else has a workable default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// Config carries every tunable the pipeline and its surfaces read.
type Config struct {
	// Completion service.
	ModelName         string
	APIKey            string
	Temperature       float64
	MaxOutputTokens   int32
	RequestsPerMinute int
	MaxAttempts       int
	BaseBackoff       time.Duration
	DocumentTimeout   time.Duration

	// Batch processing.
	WorkerCount int
	QueueSize   int

	// Validation and thresholds.
	MinConfidence     float64
	CategoryThreshold float64
	SummaryConfidence float64
	MerchantMaxLen    int
	ExcerptMaxLen     int
	DefaultCurrency   string
	DateMin           civil.Date
	DateMax           civil.Date

	// Configuration files.
	MerchantMapPath string
	TaxConfigPath   string

	// Optional sinks.
	ArchiveBucket    string
	BigQueryProject  string
	BigQueryDataset  string
	NotionToken      string
	NotionDatabaseID string

	// HTTP server.
	Port string
}

// Load reads the environment and applies defaults. It never fails; Validate
// and RequireCompletion surface problems explicitly at startup.
func Load() *Config {
	return &Config{
		ModelName:         getEnv("MODEL_NAME", "gemini-2.5-flash"),
		APIKey:            getEnv("GEMINI_API_KEY", ""),
		Temperature:       getEnvAsFloat("MODEL_TEMPERATURE", 0.1),
		MaxOutputTokens:   int32(getEnvAsInt("MODEL_MAX_TOKENS", 2000)),
		RequestsPerMinute: getEnvAsInt("COMPLETION_RPM", 60),
		MaxAttempts:       getEnvAsInt("EXTRACT_MAX_ATTEMPTS", 3),
		BaseBackoff:       getEnvAsDuration("EXTRACT_BASE_BACKOFF", 500*time.Millisecond),
		DocumentTimeout:   getEnvAsDuration("DOCUMENT_TIMEOUT", 60*time.Second),

		WorkerCount: getEnvAsInt("PIPELINE_WORKERS", 4),
		QueueSize:   getEnvAsInt("QUEUE_SIZE", 100),

		MinConfidence:     getEnvAsFloat("MIN_CONFIDENCE", 0.5),
		CategoryThreshold: getEnvAsFloat("CATEGORY_THRESHOLD", 0.6),
		SummaryConfidence: getEnvAsFloat("SUMMARY_MIN_CONFIDENCE", 0.7),
		MerchantMaxLen:    getEnvAsInt("MERCHANT_MAX_LEN", 120),
		ExcerptMaxLen:     getEnvAsInt("EXCERPT_MAX_LEN", 500),
		DefaultCurrency:   getEnv("DEFAULT_CURRENCY", "USD"),
		DateMin:           getEnvAsDate("DATE_MIN", civil.Date{Year: 2000, Month: 1, Day: 1}),
		DateMax:           getEnvAsDate("DATE_MAX", civil.DateOf(time.Now().AddDate(0, 0, 1))),

		MerchantMapPath: getEnv("MERCHANT_MAP_PATH", ""),
		TaxConfigPath:   getEnv("TAX_CONFIG_PATH", ""),

		ArchiveBucket:    getEnv("ARCHIVE_BUCKET", ""),
		BigQueryProject:  getEnv("BIGQUERY_PROJECT", ""),
		BigQueryDataset:  getEnv("BIGQUERY_DATASET", "docledger"),
		NotionToken:      getEnv("NOTION_TOKEN", ""),
		NotionDatabaseID: getEnv("NOTION_DATABASE_ID", ""),

		Port: getEnv("PORT", "8080"),
	}
}

// Validate checks internal consistency. Called by every binary after Load.
func (c *Config) Validate() error {
	var problems []string

	for name, v := range map[string]float64{
		"MIN_CONFIDENCE":         c.MinConfidence,
		"CATEGORY_THRESHOLD":     c.CategoryThreshold,
		"SUMMARY_MIN_CONFIDENCE": c.SummaryConfidence,
	} {
		if v < 0 || v > 1 {
			problems = append(problems, fmt.Sprintf("%s must be in [0,1], got %g", name, v))
		}
	}
	if c.WorkerCount < 1 {
		problems = append(problems, "PIPELINE_WORKERS must be at least 1")
	}
	if c.MaxAttempts < 1 {
		problems = append(problems, "EXTRACT_MAX_ATTEMPTS must be at least 1")
	}
	if c.RequestsPerMinute < 1 {
		problems = append(problems, "COMPLETION_RPM must be at least 1")
	}
	if c.DefaultCurrency == "" {
		problems = append(problems, "DEFAULT_CURRENCY must not be empty")
	}
	if !c.DateMin.Before(c.DateMax) {
		problems = append(problems, fmt.Sprintf("DATE_MIN %s must be before DATE_MAX %s", c.DateMin, c.DateMax))
	}

	if len(problems) > 0 {
		return fmt.Errorf("config.Validate: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RequireCompletion fails when no completion-service credential is present.
// Binaries that extract call this at startup so a missing key never surfaces
// mid-batch.
func (c *Config) RequireCompletion() error {
	if c.APIKey != "" {
		return nil
	}
	if os.Getenv("GOOGLE_API_KEY") != "" || os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != "" {
		return nil
	}
	return fmt.Errorf("config.RequireCompletion: no completion-service credentials: set GEMINI_API_KEY, GOOGLE_API_KEY or GOOGLE_APPLICATION_CREDENTIALS")
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvAsDate(key string, fallback civil.Date) civil.Date {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := civil.ParseDate(v); err == nil {
			return d
		}
	}
	return fallback
}
