package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
venue:
  ws_base_url: "wss://stream.binance.com:9443"
  rest_base_url: "https://api.binance.com"
  symbols: [BTCUSDT]
dispatcher:
  queue_size: 1024
book:
  max_buffer_size: 500
snapshot:
  dir: ./data/snapshots
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTestConfig(t, minimalConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Venue.DepthLimit != 1000 {
		t.Errorf("expected default depth limit 1000, got %d", cfg.Venue.DepthLimit)
	}
	if cfg.Book.MaxDepthLevels != 1000 {
		t.Errorf("expected default max depth levels 1000, got %d", cfg.Book.MaxDepthLevels)
	}
	if cfg.Snapshot.MaxSnapshots != 20 {
		t.Errorf("expected default max snapshots 20, got %d", cfg.Snapshot.MaxSnapshots)
	}
}

func TestValidateRejectsMissingSymbols(t *testing.T) {
	cfg := &Config{
		Venue: VenueConfig{WSBaseURL: "wss://x", RESTBaseURL: "https://x"},
	}
	applyDefaults(cfg)
	cfg.Snapshot.Dir = "./data"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for missing symbols")
	}
}

func TestValidateRejectsIncompleteStrategy(t *testing.T) {
	path := writeTestConfig(t, minimalConfig+"\nstrategies:\n  - id: s1\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for strategy missing kind/symbol")
	}
}

func TestEnvOverride(t *testing.T) {
	path := writeTestConfig(t, minimalConfig)
	t.Setenv("VELOZ_LOGGING_LEVEL", "debug")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected env override to set logging.level=debug, got %q", cfg.Logging.Level)
	}
}
