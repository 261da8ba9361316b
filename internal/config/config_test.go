package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accrue.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATA_DIR", "SQLITE_PATH",
		"ALPACA_API_KEY", "ALPACA_API_SECRET", "ALPACA_DATA_URL",
		"APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
		"LOG_LEVEL", "FORCE_SYNTHETIC", "RISK_FREE_RATE",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadFull(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/var/lib/accrue/data"
  sqlite_path: "/var/lib/accrue/accrue.db"
server:
  host: "127.0.0.1"
  port: 9000
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  data_url: "https://data.alpaca.markets"
logging:
  level: "debug"
  format: "text"
market_data:
  fetch_timeout_secs: 5
  max_retries: 2
  rate_limit_per_min: 100
  max_concurrent_fetch: 4
  force_synthetic: true
simulation:
  risk_free_rate: 0.02
  max_concurrent_runs: 2
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Storage.DataDir != "/var/lib/accrue/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/var/lib/accrue/data")
	}
	if cfg.Storage.SQLitePath != "/var/lib/accrue/accrue.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, "/var/lib/accrue/accrue.db")
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("Server = %+v, want 127.0.0.1:9000", cfg.Server)
	}
	if cfg.Alpaca.APIKey != "test-key" || cfg.Alpaca.APISecret != "test-secret" {
		t.Errorf("Alpaca credentials not loaded: %+v", cfg.Alpaca)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want debug/text", cfg.Logging)
	}
	if cfg.MarketData.FetchTimeoutSecs != 5 {
		t.Errorf("MarketData.FetchTimeoutSecs = %d, want 5", cfg.MarketData.FetchTimeoutSecs)
	}
	if cfg.MarketData.MaxRetries != 2 {
		t.Errorf("MarketData.MaxRetries = %d, want 2", cfg.MarketData.MaxRetries)
	}
	if !cfg.MarketData.ForceSynthetic {
		t.Error("MarketData.ForceSynthetic = false, want true")
	}
	if cfg.Simulation.RiskFreeRate != 0.02 {
		t.Errorf("Simulation.RiskFreeRate = %f, want 0.02", cfg.Simulation.RiskFreeRate)
	}
	if cfg.Simulation.MaxConcurrentRuns != 2 {
		t.Errorf("Simulation.MaxConcurrentRuns = %d, want 2", cfg.Simulation.MaxConcurrentRuns)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	// A minimal file keeps the defaults for everything it omits.
	path := writeConfig(t, `
server:
  port: 8888
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Server.Port != 8888 {
		t.Errorf("Server.Port = %d, want 8888", cfg.Server.Port)
	}
	def := Default()
	if cfg.Storage.DataDir != def.Storage.DataDir {
		t.Errorf("Storage.DataDir = %q, want default %q", cfg.Storage.DataDir, def.Storage.DataDir)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want info/json defaults", cfg.Logging)
	}
	if cfg.MarketData.FetchTimeoutSecs != def.MarketData.FetchTimeoutSecs {
		t.Errorf("MarketData.FetchTimeoutSecs = %d, want default %d",
			cfg.MarketData.FetchTimeoutSecs, def.MarketData.FetchTimeoutSecs)
	}
	if cfg.MarketData.ForceSynthetic {
		t.Error("MarketData.ForceSynthetic should default to false")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  data_dir: "/original/data"
`)

	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("FORCE_SYNTHETIC", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	// api_secret should remain from YAML since no env override was set.
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (from YAML)", cfg.Alpaca.APISecret, "yaml-secret")
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
	if !cfg.MarketData.ForceSynthetic {
		t.Error("FORCE_SYNTHETIC env should enable synthetic mode")
	}

	// Canonical SDK names take precedence over the ALPACA_* aliases.
	t.Setenv("APCA_API_KEY_ID", "canonical-key")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Alpaca.APIKey != "canonical-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (APCA_API_KEY_ID wins)", cfg.Alpaca.APIKey, "canonical-key")
	}
}
