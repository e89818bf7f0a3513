package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{Symbols: []SymbolConfig{{Symbol: "SOL"}}}
}

func TestEngineDefaults(t *testing.T) {
	cfg := validConfig()
	applyDefaults(cfg)
	if cfg.Engine.MaxRetries != 2 {
		t.Fatalf("expected max retries default 2, got %d", cfg.Engine.MaxRetries)
	}
	if cfg.Engine.ShadeTicks != 1 {
		t.Fatalf("expected shade ticks default 1, got %d", cfg.Engine.ShadeTicks)
	}
	if cfg.Engine.SuppressWindow != 30 || cfg.Engine.SuppressMinSamples != 10 || cfg.Engine.SuppressThreshold != 3 {
		t.Fatalf("unexpected suppression defaults: %+v", cfg.Engine)
	}
	if cfg.Engine.SuppressCooldown != time.Minute {
		t.Fatalf("expected cooldown default 1m, got %v", cfg.Engine.SuppressCooldown)
	}
	if cfg.Engine.SpecTTL != 5*time.Minute {
		t.Fatalf("expected spec ttl default 5m, got %v", cfg.Engine.SpecTTL)
	}
	if len(cfg.Engine.QuirkySymbols) != 1 || cfg.Engine.QuirkySymbols[0] != "SOL" {
		t.Fatalf("unexpected quirky symbols default: %v", cfg.Engine.QuirkySymbols)
	}
}

func TestSymbolSizingDefaults(t *testing.T) {
	cfg := validConfig()
	applyDefaults(cfg)
	sym := cfg.Symbols[0]
	if sym.Sizing.MinUSD != 10 || sym.Sizing.TargetUSD != 50 || sym.Sizing.MaxUSD != 100 {
		t.Fatalf("unexpected sizing defaults: %+v", sym.Sizing)
	}
	if sym.CapitalUSD != 500 {
		t.Fatalf("expected capital default 500, got %v", sym.CapitalUSD)
	}
}

func TestMetricsDefaults(t *testing.T) {
	cfg := validConfig()
	applyDefaults(cfg)
	if cfg.Metrics.Enabled == nil || !cfg.Metrics.EnabledValue() {
		t.Fatalf("expected metrics enabled default")
	}
	if cfg.Metrics.Address != "127.0.0.1:9001" {
		t.Fatalf("expected metrics address default, got %q", cfg.Metrics.Address)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Fatalf("expected metrics path default, got %q", cfg.Metrics.Path)
	}
}

func TestWSURLDerivedFromREST(t *testing.T) {
	cfg := validConfig()
	cfg.REST.BaseURL = "https://example.com"
	applyDefaults(cfg)
	if cfg.WS.URL != "wss://example.com/ws" {
		t.Fatalf("expected derived ws url, got %q", cfg.WS.URL)
	}
}

func TestWSURLDerivedFromRESTHTTP(t *testing.T) {
	cfg := validConfig()
	cfg.REST.BaseURL = "http://example.com"
	applyDefaults(cfg)
	if cfg.WS.URL != "ws://example.com/ws" {
		t.Fatalf("expected derived ws url, got %q", cfg.WS.URL)
	}
}

func TestWSURLRespectsExplicitValue(t *testing.T) {
	cfg := validConfig()
	cfg.REST.BaseURL = "https://example.com"
	cfg.WS.URL = "wss://override.example/ws"
	applyDefaults(cfg)
	if cfg.WS.URL != "wss://override.example/ws" {
		t.Fatalf("expected explicit ws url, got %q", cfg.WS.URL)
	}
}

func TestValidateRequiresSymbols(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for missing symbols")
	}
}

func TestValidateRejectsDuplicateSymbols(t *testing.T) {
	cfg := &Config{Symbols: []SymbolConfig{{Symbol: "SOL"}, {Symbol: "SOL"}}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for duplicate symbols")
	}
}

func TestValidateRejectsInvertedSizing(t *testing.T) {
	cfg := &Config{Symbols: []SymbolConfig{{
		Symbol: "SOL",
		Sizing: SizingConfig{MinUSD: 60, TargetUSD: 50, MaxUSD: 100},
	}}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for min > target")
	}
}

func TestValidateRejectsUnknownUnwindMode(t *testing.T) {
	cfg := &Config{Symbols: []SymbolConfig{{
		Symbol:    "SOL",
		Inventory: InventoryConfig{Unwind: "panic"},
	}}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for unknown unwind mode")
	}
}

func TestValidateRejectsMetricsPathWithoutSlash(t *testing.T) {
	cfg := validConfig()
	cfg.Metrics.Path = "metrics"
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for metrics path without leading slash")
	}
}

func TestValidateRejectsAuditWithoutDSN(t *testing.T) {
	t.Setenv("HL_AUDIT_DSN", "")
	cfg := validConfig()
	cfg.Audit.Enabled = true
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for missing audit dsn")
	}
}

func TestAuditDSNEnvOverride(t *testing.T) {
	t.Setenv("HL_AUDIT_DSN", "postgres://env/audit")
	cfg := validConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.DSN = "postgres://file/audit"
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	if cfg.Audit.DSN != "postgres://env/audit" {
		t.Fatalf("expected env dsn override, got %q", cfg.Audit.DSN)
	}
	if err := validate(cfg); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsShortDeadManHorizon(t *testing.T) {
	cfg := validConfig()
	cfg.DeadMan.Horizon = time.Second
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for short dead man horizon")
	}
}

func TestValidateRejectsDrawdownFractionOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.Risk.MaxDrawdown = 15
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for drawdown given as percent, not fraction")
	}
}

func TestLoadFullFile(t *testing.T) {
	raw := `
log:
  level: debug
engine:
  max_retries: 3
  quirky_symbols: [SOL, DOGE]
grid:
  stagger_bps: 3
symbols:
  - symbol: SOL
    capital_usd: 1000
    sizing:
      min_usd: 15
      target_usd: 60
      max_usd: 120
    inventory:
      max_position_usd: 800
      unwind: auto
    override:
      tick_size: 0.0001
      lot_size: 0.01
  - symbol: ETH
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected debug level, got %q", cfg.Log.Level)
	}
	if cfg.Engine.MaxRetries != 3 {
		t.Fatalf("expected max retries 3, got %d", cfg.Engine.MaxRetries)
	}
	if len(cfg.Engine.QuirkySymbols) != 2 {
		t.Fatalf("expected quirky symbols from file, got %v", cfg.Engine.QuirkySymbols)
	}
	if len(cfg.Symbols) != 2 {
		t.Fatalf("expected 2 symbols, got %d", len(cfg.Symbols))
	}
	sol := cfg.Symbols[0]
	if sol.Sizing.MinUSD != 15 || sol.Inventory.Unwind != "auto" || sol.Override.TickSize != 0.0001 {
		t.Fatalf("unexpected SOL config: %+v", sol)
	}
	eth := cfg.Symbols[1]
	if eth.Sizing.TargetUSD != 50 || eth.CapitalUSD != 500 {
		t.Fatalf("expected ETH defaults, got %+v", eth)
	}
}
