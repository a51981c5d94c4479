package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != "8000" {
		t.Errorf("expected port 8000, got %s", cfg.Server.Port)
	}
	if cfg.Queue.StuckThreshold != 10*time.Minute {
		t.Errorf("expected 10m stuck threshold, got %s", cfg.Queue.StuckThreshold)
	}
	if cfg.Queue.MaxAutoRetries != 2 {
		t.Errorf("expected 2 auto retries, got %d", cfg.Queue.MaxAutoRetries)
	}
	if cfg.LLM.MaxRetries != 3 || cfg.LLM.BackoffBase != time.Second || cfg.LLM.BackoffCap != 8*time.Second {
		t.Errorf("unexpected llm retry config: %+v", cfg.LLM)
	}
	if cfg.Database.IsPostgres() {
		t.Errorf("default DSN should select sqlite, got %s", cfg.Database.DSN)
	}
}

func TestLoadReadsSecretFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groq_key")
	if err := os.WriteFile(path, []byte("gsk-from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("GROQ_API_KEY_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Groq.APIKey != "gsk-from-file" {
		t.Errorf("expected key from file, got %q", cfg.Groq.APIKey)
	}
}

func TestDatabaseIsPostgres(t *testing.T) {
	tests := []struct {
		dsn  string
		want bool
	}{
		{"postgres://u:p@localhost:5432/db", true},
		{"postgresql://localhost/db", true},
		{"rankforge.db", false},
		{":memory:", false},
	}
	for _, tt := range tests {
		if got := (DatabaseConfig{DSN: tt.dsn}).IsPostgres(); got != tt.want {
			t.Errorf("IsPostgres(%q) = %v, want %v", tt.dsn, got, tt.want)
		}
	}
}
