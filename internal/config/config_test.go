package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	yamlContent := []byte(`
storage:
  data_dir: "/tmp/backtest/data"
  sqlite_path: "/tmp/backtest/backtest.db"
logging:
  level: "info"
  format: "json"
backtest:
  default_cost_bps: 5
  default_mode: "CC"
  workers: 4
  progress_every_ms: 250
`)

	tmpFile, err := os.CreateTemp("", "backtest-config-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		t.Fatalf("failed to close temp file: %v", err)
	}

	os.Unsetenv("DATA_DIR")
	os.Unsetenv("SQLITE_PATH")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("BACKTEST_COST_BPS")
	os.Unsetenv("BACKTEST_WORKERS")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/backtest/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/backtest/data")
	}
	if cfg.Storage.SQLitePath != "/tmp/backtest/backtest.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, "/tmp/backtest/backtest.db")
	}

	// -- Logging --
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}

	// -- Backtest --
	if cfg.Backtest.DefaultCostBps != 5 {
		t.Errorf("Backtest.DefaultCostBps = %f, want %f", cfg.Backtest.DefaultCostBps, 5.0)
	}
	if cfg.Backtest.DefaultMode != "CC" {
		t.Errorf("Backtest.DefaultMode = %q, want %q", cfg.Backtest.DefaultMode, "CC")
	}
	if cfg.Backtest.Workers != 4 {
		t.Errorf("Backtest.Workers = %d, want %d", cfg.Backtest.Workers, 4)
	}
	if cfg.Backtest.ProgressEveryMs != 250 {
		t.Errorf("Backtest.ProgressEveryMs = %d, want %d", cfg.Backtest.ProgressEveryMs, 250)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	yamlContent := []byte(`
storage:
  data_dir: "/original/data"
backtest:
  default_cost_bps: 5
`)

	tmpFile, err := os.CreateTemp("", "backtest-config-env-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	tmpFile.Close()

	os.Setenv("DATA_DIR", "/env/data")
	os.Setenv("BACKTEST_COST_BPS", "12.5")
	os.Setenv("BACKTEST_WORKERS", "8")
	defer os.Unsetenv("DATA_DIR")
	defer os.Unsetenv("BACKTEST_COST_BPS")
	defer os.Unsetenv("BACKTEST_WORKERS")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
	if cfg.Backtest.DefaultCostBps != 12.5 {
		t.Errorf("Backtest.DefaultCostBps = %f, want %f (env override)", cfg.Backtest.DefaultCostBps, 12.5)
	}
	if cfg.Backtest.Workers != 8 {
		t.Errorf("Backtest.Workers = %d, want %d (env override)", cfg.Backtest.Workers, 8)
	}
}
