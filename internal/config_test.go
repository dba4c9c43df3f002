package internal

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestLoadConfigDefaults tests that the default values are applied correctly when loading a config.
func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0o600); err != nil {
		t.Fatalf("write app config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Providers.Bitbucket.Path != "/webhooks/bitbucket" {
		t.Fatalf("expected default bitbucket path, got %q", cfg.Providers.Bitbucket.Path)
	}
	if cfg.Providers.Bitbucket.InstallTopic != "rtapish-fromserver" {
		t.Fatalf("expected default install topic, got %q", cfg.Providers.Bitbucket.InstallTopic)
	}
	if cfg.Watermill.Driver != "gochannel" {
		t.Fatalf("expected default watermill driver, got %q", cfg.Watermill.Driver)
	}
	if cfg.Watermill.BuildAttempts != 10 || cfg.Watermill.BuildDelay() != 2*time.Second {
		t.Fatalf("expected publisher build retries 10x2s, got %d x %s", cfg.Watermill.BuildAttempts, cfg.Watermill.BuildDelay())
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("expected default sqlite storage, got %q", cfg.Storage.Driver)
	}
	if cfg.Ingest.LookupTimeout() != 3*time.Second {
		t.Fatalf("expected 3s lookup timeout, got %s", cfg.Ingest.LookupTimeout())
	}
	if cfg.Ingest.Dedupe.Enabled {
		t.Fatalf("expected dedupe to be disabled by default")
	}
	if cfg.API.StatsMinCommits != 10 {
		t.Fatalf("expected stats min commits 10, got %d", cfg.API.StatsMinCommits)
	}
	if len(cfg.Telemetry.Sinks) != 1 || cfg.Telemetry.Sinks[0] != "log" {
		t.Fatalf("expected log telemetry sink, got %v", cfg.Telemetry.Sinks)
	}
}

// TestLoadConfigExpandsEnv tests that environment variables are substituted before parsing.
func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("REVIEWHOOKS_TEST_SECRET", "{hook-uuid}")
	cfg, err := parseConfig([]byte("providers:\n  bitbucket:\n    enabled: true\n    secret: \"${REVIEWHOOKS_TEST_SECRET}\"\n"))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if !cfg.Providers.Bitbucket.Enabled {
		t.Fatalf("expected bitbucket to be enabled")
	}
	if cfg.Providers.Bitbucket.Secret != "{hook-uuid}" {
		t.Fatalf("expected secret from env, got %q", cfg.Providers.Bitbucket.Secret)
	}
}

// TestLoadConfigInvalidRule tests that loading a config with an invalid rule returns an error.
func TestLoadConfigInvalidRule(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "rules:\n  - when: event == \"pullrequest:created\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write rules config: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error for missing emit")
	}
}

// TestLoadConfigTrimsFields tests that the fields in a rule are trimmed correctly.
func TestLoadConfigTrimsFields(t *testing.T) {
	content := "rules:\n  - when: \"  event == \\\"pullrequest:approved\\\"  \"\n    emit: \"  pr.approved  \"\n    drivers: [\" kafka \", \"\"]\n"
	cfg, err := parseConfig([]byte(content))
	if err != nil {
		t.Fatalf("parse rules config: %v", err)
	}
	if cfg.Rules[0].When != "event == \"pullrequest:approved\"" {
		t.Fatalf("expected trimmed when, got %q", cfg.Rules[0].When)
	}
	if cfg.Rules[0].Emit != "pr.approved" {
		t.Fatalf("expected trimmed emit, got %q", cfg.Rules[0].Emit)
	}
	if len(cfg.Rules[0].Drivers) != 1 || cfg.Rules[0].Drivers[0] != "kafka" {
		t.Fatalf("expected trimmed drivers, got %v", cfg.Rules[0].Drivers)
	}
}
