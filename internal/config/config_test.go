package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/garnizeh/rioforms/internal/config"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{"RIOFORMS_ADDR", "RIOFORMS_DATABASE_PATH", "RIOFORMS_REMOTE_URL", "RIOFORMS_CACHE_BACKEND", "RIOFORMS_TOLERATE_DUPLICATES"} {
		t.Setenv(k, "")
	}

	cfg, err := config.LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig returned error for empty path: %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Fatalf("unexpected Addr: got %q want %q", cfg.Addr, ":8080")
	}
	if cfg.DatabasePath != "rioforms.db" {
		t.Fatalf("unexpected DatabasePath: got %q", cfg.DatabasePath)
	}
	if cfg.Remote.ServicePath != "/api/service/RioFormsService" {
		t.Fatalf("unexpected ServicePath: got %q", cfg.Remote.ServicePath)
	}
	if !cfg.Replay.TolerateDuplicates {
		t.Fatalf("expected duplicates to be tolerated by default")
	}
	if cfg.Replay.DuplicatePattern != config.DefaultDuplicatePattern {
		t.Fatalf("unexpected DuplicatePattern: %q", cfg.Replay.DuplicatePattern)
	}
	if cfg.Cache.Backend != "sqlite" {
		t.Fatalf("unexpected cache backend: %q", cfg.Cache.Backend)
	}
	if cfg.Probe.Interval != 10*time.Second {
		t.Fatalf("unexpected probe interval: %v", cfg.Probe.Interval)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("RIOFORMS_ADDR", ":9999")
	t.Setenv("RIOFORMS_REMOTE_URL", "https://forms.example.org/")
	t.Setenv("RIOFORMS_TOLERATE_DUPLICATES", "false")

	cfg, err := config.LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Fatalf("unexpected Addr: %q", cfg.Addr)
	}
	if cfg.Remote.BaseURL != "https://forms.example.org" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Remote.BaseURL)
	}
	if cfg.Replay.TolerateDuplicates {
		t.Fatalf("expected duplicates not tolerated")
	}
}

func TestLoadConfig_BadBoolEnv(t *testing.T) {
	t.Setenv("RIOFORMS_TOLERATE_DUPLICATES", "maybe")
	if _, err := config.LoadConfig(""); err == nil {
		t.Fatalf("expected error for unparsable bool")
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	t.Setenv("RIOFORMS_ADDR", "")
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	content := `addr: "127.0.0.1:7000"
database_path: "/tmp/field.db"
remote:
  base_url: "https://forms.example.org"
  timeout: 5s
  retries: 1
cache:
  backend: memory
  version: "2024.06"
replay:
  duplicate_pattern: "(?i)already exists"
probe:
  interval: 2s
`
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.LoadConfig(p)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Addr != "127.0.0.1:7000" || cfg.DatabasePath != "/tmp/field.db" {
		t.Fatalf("file values not applied: %#v", cfg)
	}
	if cfg.Remote.Timeout != 5*time.Second || cfg.Remote.Retries != 1 {
		t.Fatalf("remote values not applied: %#v", cfg.Remote)
	}
	if cfg.Remote.CircuitFailureThreshold != 5 {
		t.Fatalf("expected circuit threshold default, got %d", cfg.Remote.CircuitFailureThreshold)
	}
	if cfg.Cache.Backend != "memory" || cfg.Cache.Version != "2024.06" {
		t.Fatalf("cache values not applied: %#v", cfg.Cache)
	}
	if cfg.Replay.DuplicatePattern != "(?i)already exists" || !cfg.Replay.TolerateDuplicates {
		t.Fatalf("replay values not applied: %#v", cfg.Replay)
	}
	if cfg.Probe.Interval != 2*time.Second || cfg.Probe.Timeout != 3*time.Second {
		t.Fatalf("probe values not applied: %#v", cfg.Probe)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := config.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		mut  func(c *config.Config)
		ok   bool
	}{
		{"defaults", func(c *config.Config) {}, true},
		{"empty database path", func(c *config.Config) { c.DatabasePath = "" }, false},
		{"bad log level", func(c *config.Config) { c.Log.Level = "chatty" }, false},
		{"bad log format", func(c *config.Config) { c.Log.Format = "xml" }, false},
		{"relative base url", func(c *config.Config) { c.Remote.BaseURL = "forms.local" }, false},
		{"negative retries", func(c *config.Config) { c.Remote.Retries = -1 }, false},
		{"unknown backend", func(c *config.Config) { c.Cache.Backend = "disk" }, false},
		{"redis without addr", func(c *config.Config) { c.Cache.Backend = "redis"; c.Cache.Redis.Addr = "" }, false},
		{"bad duplicate pattern", func(c *config.Config) { c.Replay.DuplicatePattern = "(" }, false},
		{"service path without slash", func(c *config.Config) { c.Remote.ServicePath = "svc" }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mut(cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestValidate_FillsZeroValues(t *testing.T) {
	cfg := &config.Config{DatabasePath: "x.db"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Remote.BaseURL == "" || cfg.Remote.Timeout <= 0 || cfg.Probe.Interval <= 0 {
		t.Fatalf("expected defaults populated: %#v", cfg)
	}
	if cfg.Cache.Backend != "sqlite" || cfg.Log.Format != "json" {
		t.Fatalf("expected defaults populated: %#v", cfg)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, ".env")
	if err := os.WriteFile(p, []byte("RIOFORMS_TEST_DOTENV=loaded\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("RIOFORMS_TEST_DOTENV") })

	if err := config.LoadDotEnv(filepath.Join(dir, "missing.env"), p); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("RIOFORMS_TEST_DOTENV"); got != "loaded" {
		t.Fatalf("expected variable from .env, got %q", got)
	}
}
