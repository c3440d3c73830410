// Package config loads ledger configuration from environment variables and
// optional .env files.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the run orchestration needs to wire its
// collaborators.
type Config struct {
	// Tabular store (BigQuery).
	ProjectID string
	Dataset   string
	Table     string

	// GCS bucket for archiving raw bank-email payloads. Empty disables
	// archiving.
	ArchiveBucket string

	// Classifier.
	GeminiModel   string
	ClassifyDelay time.Duration

	// Currency rate endpoint.
	RatesURL string

	// Local export files read by the file-backed source providers.
	MailExportPath      string
	BankExportPath      string
	SplitwiseExportPath string
}

// Load reads configuration from the environment. A .env file in the current
// directory is loaded first when present; a custom path may be given.
func Load(envPath ...string) (*Config, error) {
	if len(envPath) > 0 && envPath[0] != "" {
		if err := godotenv.Load(envPath[0]); err != nil {
			return nil, fmt.Errorf("load env file %q: %w", envPath[0], err)
		}
	} else {
		_ = godotenv.Load()
	}

	delay, err := parseDurationEnv("CLASSIFY_DELAY", 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid CLASSIFY_DELAY: %w", err)
	}

	cfg := &Config{
		ProjectID:           os.Getenv("LEDGER_PROJECT_ID"),
		Dataset:             getEnv("LEDGER_DATASET", "finance"),
		Table:               getEnv("LEDGER_TABLE", "movements"),
		ArchiveBucket:       os.Getenv("LEDGER_ARCHIVE_BUCKET"),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		ClassifyDelay:       delay,
		RatesURL:            getEnv("RATES_URL", "https://api.exchangerate.host/convert"),
		MailExportPath:      os.Getenv("MAIL_EXPORT_PATH"),
		BankExportPath:      os.Getenv("BANK_EXPORT_PATH"),
		SplitwiseExportPath: os.Getenv("SPLITWISE_EXPORT_PATH"),
	}

	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("LEDGER_PROJECT_ID is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseDurationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}
