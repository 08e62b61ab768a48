package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Engine.MaxAttempts != 3 {
		t.Errorf("expected default max_attempts 3, got %d", cfg.Engine.MaxAttempts)
	}
	if cfg.Engine.RetryBackoff.Duration != 50*time.Millisecond {
		t.Errorf("expected default backoff 50ms, got %s", cfg.Engine.RetryBackoff.Duration)
	}
}

func TestLoad_TOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
[server]
port = 9090
request_timeout = "15s"

[engine]
max_attempts = 5
retry_backoff = "100ms"
min_trade_usdc = "2.5"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Server.RequestTimeout.Duration != 15*time.Second {
		t.Errorf("expected request timeout 15s, got %s", cfg.Server.RequestTimeout.Duration)
	}
	if cfg.Engine.MaxAttempts != 5 {
		t.Errorf("expected max_attempts 5, got %d", cfg.Engine.MaxAttempts)
	}
	if cfg.Engine.RetryBackoff.Duration != 100*time.Millisecond {
		t.Errorf("expected backoff 100ms, got %s", cfg.Engine.RetryBackoff.Duration)
	}
	if cfg.Engine.MinTradeUsdc != "2.5" {
		t.Errorf("expected min trade 2.5, got %s", cfg.Engine.MinTradeUsdc)
	}
	// Sections absent from the file keep their defaults.
	if cfg.Redis.CacheTTL.Duration != 30*time.Second {
		t.Errorf("expected default cache TTL, got %s", cfg.Redis.CacheTTL.Duration)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AMM_SERVER_PORT", "7070")
	t.Setenv("AMM_DATABASE_URL", "postgres://localhost:5432/amm")
	t.Setenv("AMM_ENGINE_RETRY_BACKOFF", "200ms")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("expected env port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Database.URL != "postgres://localhost:5432/amm" {
		t.Errorf("unexpected database URL: %s", cfg.Database.URL)
	}
	if cfg.Engine.RetryBackoff.Duration != 200*time.Millisecond {
		t.Errorf("expected env backoff 200ms, got %s", cfg.Engine.RetryBackoff.Duration)
	}
}

func TestValidate_Rejects(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for port 0")
	}

	cfg = Defaults()
	cfg.Engine.MaxAttempts = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero max_attempts")
	}
}
