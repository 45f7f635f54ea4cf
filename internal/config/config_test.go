package config

import (
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "GOOGLE_API_KEY", "GEMINI_MODEL", "LEDGER_BACKEND",
		"BIGQUERY_PROJECT", "BIGQUERY_DATASET", "SQLITE_DB_PATH", "ARCHIVE_BUCKET",
		"NOTION_TOKEN", "NOTION_DATABASE_ID", "AMQP_URL", "AMQP_EXCHANGE", "AMQP_ROUTING_KEY",
		"CAPTURE_LANGUAGE", "CAPTURE_STOP_GRACE", "REFERENCE_CACHE_TTL", "SESSION_TTL",
	} {
		t.Setenv(key, "")
	}
	t.Chdir(t.TempDir())
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "8080" || cfg.LedgerBackend != BackendMemory || cfg.GeminiModel != "gemini-2.5-flash" {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.CaptureLanguage != "pt-BR" || cfg.CaptureStopGrace != 100*time.Millisecond {
		t.Errorf("capture defaults = %q, %v", cfg.CaptureLanguage, cfg.CaptureStopGrace)
	}
	if cfg.ExtractionConfigured() {
		t.Error("ExtractionConfigured() = true without a key")
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LEDGER_BACKEND", "SQLite")
	t.Setenv("SQLITE_DB_PATH", "/tmp/ledger.db")
	t.Setenv("CAPTURE_STOP_GRACE", "120ms")
	t.Setenv("GOOGLE_API_KEY", "key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "9090" || cfg.LedgerBackend != BackendSQLite || cfg.CaptureStopGrace != 120*time.Millisecond {
		t.Errorf("cfg = %+v", cfg)
	}
	if !cfg.ExtractionConfigured() {
		t.Error("ExtractionConfigured() = false with a key")
	}
}

func TestLoad_AggregatesProblems(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "abc")
	t.Setenv("LEDGER_BACKEND", "bigquery")
	t.Setenv("CAPTURE_STOP_GRACE", "500ms")
	t.Setenv("SESSION_TTL", "soon")
	t.Setenv("AMQP_URL", "http://broker")
	t.Setenv("NOTION_TOKEN", "secret")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() succeeded with invalid configuration")
	}
	for _, want := range []string{"PORT", "BIGQUERY_PROJECT", "CAPTURE_STOP_GRACE", "SESSION_TTL", "AMQP_URL", "NOTION_DATABASE_ID"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %s:\n%v", want, err)
		}
	}
}

func TestValidate_Backends(t *testing.T) {
	base := Config{
		Port:             "8080",
		CaptureLanguage:  "pt-BR",
		CaptureStopGrace: 100 * time.Millisecond,
		SessionTTL:       time.Minute,
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"memory", func(c *Config) { c.LedgerBackend = BackendMemory }, false},
		{"bigquery complete", func(c *Config) {
			c.LedgerBackend, c.BigQueryProject, c.BigQueryDataset = BackendBigQuery, "proj", "ledger"
		}, false},
		{"bigquery without project", func(c *Config) { c.LedgerBackend, c.BigQueryDataset = BackendBigQuery, "ledger" }, true},
		{"sqlite without path", func(c *Config) { c.LedgerBackend = BackendSQLite }, true},
		{"unknown", func(c *Config) { c.LedgerBackend = "postgres" }, true},
		{"grace at limit", func(c *Config) { c.LedgerBackend, c.CaptureStopGrace = BackendMemory, MaxCaptureStopGrace }, false},
		{"grace over limit", func(c *Config) { c.LedgerBackend, c.CaptureStopGrace = BackendMemory, 151*time.Millisecond }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
