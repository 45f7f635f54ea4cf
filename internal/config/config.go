// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMemory   = "memory"
	BackendBigQuery = "bigquery"
	BackendSQLite   = "sqlite"
)

// MaxCaptureStopGrace is the longest a stop may wait for the recognizer.
const MaxCaptureStopGrace = 150 * time.Millisecond

type Config struct {
	// HTTP server
	Port     string
	LogLevel string

	// Extraction
	GoogleAPIKey string
	GeminiModel  string

	// Ledger
	LedgerBackend     string
	BigQueryProject   string
	BigQueryDataset   string
	SQLiteDBPath      string
	ReferenceCacheTTL time.Duration

	// Archive
	ArchiveBucket string

	// Notifications
	NotionToken      string
	NotionDatabaseID string
	AMQPURL          string
	AMQPExchange     string
	AMQPRoutingKey   string

	// Capture
	CaptureLanguage  string
	CaptureStopGrace time.Duration
	SessionTTL       time.Duration

	parseErrs []string
}

// Load reads an optional .env file and the environment, then validates.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("Load: reading .env: %w", err)
	}

	c := &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		GoogleAPIKey: getEnv("GOOGLE_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		LedgerBackend:   strings.ToLower(getEnv("LEDGER_BACKEND", BackendMemory)),
		BigQueryProject: getEnv("BIGQUERY_PROJECT", ""),
		BigQueryDataset: getEnv("BIGQUERY_DATASET", "ledger"),
		SQLiteDBPath:    getEnv("SQLITE_DB_PATH", "./data/ledger.db"),

		ArchiveBucket: getEnv("ARCHIVE_BUCKET", ""),

		NotionToken:      getEnv("NOTION_TOKEN", ""),
		NotionDatabaseID: getEnv("NOTION_DATABASE_ID", ""),
		AMQPURL:          getEnv("AMQP_URL", ""),
		AMQPExchange:     getEnv("AMQP_EXCHANGE", "ledger"),
		AMQPRoutingKey:   getEnv("AMQP_ROUTING_KEY", "transactions"),

		CaptureLanguage: getEnv("CAPTURE_LANGUAGE", "pt-BR"),
	}
	c.ReferenceCacheTTL = c.getEnvDuration("REFERENCE_CACHE_TTL", 5*time.Minute)
	c.CaptureStopGrace = c.getEnvDuration("CAPTURE_STOP_GRACE", 100*time.Millisecond)
	c.SessionTTL = c.getEnvDuration("SESSION_TTL", 30*time.Minute)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate reports every configuration problem in one error.
func (c *Config) Validate() error {
	problems := append([]string(nil), c.parseErrs...)

	if port, err := strconv.Atoi(c.Port); err != nil {
		problems = append(problems, fmt.Sprintf("invalid PORT %q: must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid PORT %d: must be between 1 and 65535", port))
	}

	switch c.LedgerBackend {
	case BackendMemory:
	case BackendBigQuery:
		if c.BigQueryProject == "" {
			problems = append(problems, "BIGQUERY_PROJECT is required for the bigquery backend")
		}
		if c.BigQueryDataset == "" {
			problems = append(problems, "BIGQUERY_DATASET is required for the bigquery backend")
		}
	case BackendSQLite:
		if c.SQLiteDBPath == "" {
			problems = append(problems, "SQLITE_DB_PATH is required for the sqlite backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("invalid LEDGER_BACKEND %q: must be one of memory, bigquery, sqlite", c.LedgerBackend))
	}

	if c.AMQPURL != "" {
		if u, err := url.Parse(c.AMQPURL); err != nil {
			problems = append(problems, fmt.Sprintf("invalid AMQP_URL: %v", err))
		} else if u.Scheme != "amqp" && u.Scheme != "amqps" {
			problems = append(problems, fmt.Sprintf("invalid AMQP_URL scheme %q: must be amqp or amqps", u.Scheme))
		}
		if c.AMQPExchange == "" {
			problems = append(problems, "AMQP_EXCHANGE is required when AMQP_URL is set")
		}
	}

	if (c.NotionToken == "") != (c.NotionDatabaseID == "") {
		problems = append(problems, "NOTION_TOKEN and NOTION_DATABASE_ID must be set together")
	}

	if c.CaptureStopGrace <= 0 || c.CaptureStopGrace > MaxCaptureStopGrace {
		problems = append(problems, fmt.Sprintf("invalid CAPTURE_STOP_GRACE %v: must be in (0, %v]", c.CaptureStopGrace, MaxCaptureStopGrace))
	}
	if c.ReferenceCacheTTL < 0 {
		problems = append(problems, "REFERENCE_CACHE_TTL must not be negative")
	}
	if c.SessionTTL <= 0 {
		problems = append(problems, "SESSION_TTL must be positive")
	}
	if c.CaptureLanguage == "" {
		problems = append(problems, "CAPTURE_LANGUAGE must not be empty")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// ExtractionConfigured reports whether a model API key is present.
func (c *Config) ExtractionConfigured() bool {
	return c.GoogleAPIKey != ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func (c *Config) getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		c.parseErrs = append(c.parseErrs, fmt.Sprintf("invalid %s %q: %v", key, v, err))
		return fallback
	}
	return d
}
