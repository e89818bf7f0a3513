package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      LoggingConfig  `yaml:"log"`
	REST     RESTConfig     `yaml:"rest"`
	WS       WSConfig       `yaml:"ws"`
	State    StateConfig    `yaml:"state"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Audit    AuditConfig    `yaml:"audit"`
	Engine   EngineConfig   `yaml:"engine"`
	Grid     GridConfig     `yaml:"grid"`
	Risk     RiskConfig     `yaml:"risk"`
	Throttle ThrottleConfig `yaml:"throttle"`
	DeadMan  DeadManConfig  `yaml:"dead_man"`
	Symbols  []SymbolConfig `yaml:"symbols"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type RESTConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type WSConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	return m.Enabled != nil && *m.Enabled
}

// AuditConfig points the best-effort order-history writer at Postgres.
// The DSN can come from HL_AUDIT_DSN instead of the file.
type AuditConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// EngineConfig tunes the submission ladder shared by every symbol worker.
type EngineConfig struct {
	RefreshInterval     time.Duration `yaml:"refresh_interval"`
	MaxRetries          int           `yaml:"max_retries"`
	ShadeTicks          int64         `yaml:"shade_ticks"`
	QuirkySymbols       []string      `yaml:"quirky_symbols"`
	SuppressWindow      int           `yaml:"suppress_window"`
	SuppressMinSamples  int           `yaml:"suppress_min_samples"`
	SuppressThreshold   int           `yaml:"suppress_threshold"`
	SuppressCooldown    time.Duration `yaml:"suppress_cooldown"`
	DeadzoneBps         float64       `yaml:"deadzone_bps"`
	DailyNotionalCapUSD float64       `yaml:"daily_notional_cap_usd"`
	OrderExpiry         time.Duration `yaml:"order_expiry"`
	SpecTTL             time.Duration `yaml:"spec_ttl"`
	HistorySize         int           `yaml:"history_size"`
}

type GridLayerConfig struct {
	OffsetBps     float64 `yaml:"offset_bps"`
	CapitalShare  float64 `yaml:"capital_share"`
	OrdersPerSide int     `yaml:"orders_per_side"`
	ParkOnly      bool    `yaml:"park_only"`
}

type GridConfig struct {
	Layers          []GridLayerConfig `yaml:"layers"`
	StaggerBps      float64           `yaml:"stagger_bps"`
	SkewStepBps     float64           `yaml:"skew_step_bps"`
	SkewStepRatio   float64           `yaml:"skew_step_ratio"`
	ParkActivation  float64           `yaml:"park_activation"`
	RepriceDriftBps float64           `yaml:"reprice_drift_bps"`
}

// RiskConfig values are fractions: max_drawdown 0.15 halts at a 15% drawdown
// from the equity high-water mark.
type RiskConfig struct {
	MaxDrawdown       float64 `yaml:"max_drawdown"`
	MaxDailyDrawdown  float64 `yaml:"max_daily_drawdown"`
	HardStopPrice     float64 `yaml:"hard_stop_price"`
	MaxInventoryRatio float64 `yaml:"max_inventory_ratio"`
}

type ThrottleConfig struct {
	CancelsPerMinute       int     `yaml:"cancels_per_minute"`
	GlobalCancelsPerMinute int     `yaml:"global_cancels_per_minute"`
	WeightPerMinute        int64   `yaml:"weight_per_minute"`
	WeightWarnFraction     float64 `yaml:"weight_warn_fraction"`
}

// DeadManConfig arms the exchange-side scheduleCancel. The switch is re-armed
// at half the horizon, so a wedged process loses its quotes within Horizon.
type DeadManConfig struct {
	Enabled *bool         `yaml:"enabled"`
	Horizon time.Duration `yaml:"horizon"`
}

func (d DeadManConfig) EnabledValue() bool {
	return d.Enabled == nil || *d.Enabled
}

type SymbolConfig struct {
	Symbol     string          `yaml:"symbol"`
	CapitalUSD float64         `yaml:"capital_usd"`
	Sizing     SizingConfig    `yaml:"sizing"`
	Inventory  InventoryConfig `yaml:"inventory"`
	Override   OverrideConfig  `yaml:"override"`
}

type SizingConfig struct {
	MinUSD    float64 `yaml:"min_usd"`
	TargetUSD float64 `yaml:"target_usd"`
	MaxUSD    float64 `yaml:"max_usd"`
	MaxUSDAbs float64 `yaml:"max_usd_abs"`
}

type InventoryConfig struct {
	MaxPositionCoins float64 `yaml:"max_position_coins"`
	MaxPositionUSD   float64 `yaml:"max_position_usd"`
	Unwind           string  `yaml:"unwind"`
	UnwindThreshold  float64 `yaml:"unwind_threshold"`
}

// OverrideConfig pins parts of an instrument spec for symbols whose
// advertised grid is known to be wrong. Zero fields defer to the exchange.
type OverrideConfig struct {
	TickSize    float64 `yaml:"tick_size"`
	LotSize     float64 `yaml:"lot_size"`
	MinNotional float64 `yaml:"min_notional"`
	MaxLeverage float64 `yaml:"max_leverage"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = "https://api.hyperliquid.xyz"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.WS.URL == "" {
		cfg.WS.URL = deriveWSURL(cfg.REST.BaseURL)
	}
	if cfg.WS.ReconnectDelay == 0 {
		cfg.WS.ReconnectDelay = 3 * time.Second
	}
	if cfg.WS.PingInterval == 0 {
		cfg.WS.PingInterval = 15 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/hl-mm-bot.db"
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Audit.Schema == "" {
		cfg.Audit.Schema = "public"
	}
	if cfg.Engine.RefreshInterval == 0 {
		cfg.Engine.RefreshInterval = 2 * time.Second
	}
	if cfg.Engine.MaxRetries == 0 {
		cfg.Engine.MaxRetries = 2
	}
	if cfg.Engine.ShadeTicks == 0 {
		cfg.Engine.ShadeTicks = 1
	}
	if cfg.Engine.QuirkySymbols == nil {
		cfg.Engine.QuirkySymbols = []string{"SOL"}
	}
	if cfg.Engine.SuppressWindow == 0 {
		cfg.Engine.SuppressWindow = 30
	}
	if cfg.Engine.SuppressMinSamples == 0 {
		cfg.Engine.SuppressMinSamples = 10
	}
	if cfg.Engine.SuppressThreshold == 0 {
		cfg.Engine.SuppressThreshold = 3
	}
	if cfg.Engine.SuppressCooldown == 0 {
		cfg.Engine.SuppressCooldown = time.Minute
	}
	if cfg.Engine.DeadzoneBps == 0 {
		cfg.Engine.DeadzoneBps = 1
	}
	if cfg.Engine.OrderExpiry == 0 {
		cfg.Engine.OrderExpiry = 3 * time.Second
	}
	if cfg.Engine.SpecTTL == 0 {
		cfg.Engine.SpecTTL = 5 * time.Minute
	}
	if cfg.Engine.HistorySize == 0 {
		cfg.Engine.HistorySize = 1000
	}
	if cfg.Throttle.CancelsPerMinute == 0 {
		cfg.Throttle.CancelsPerMinute = 200
	}
	if cfg.Throttle.GlobalCancelsPerMinute == 0 {
		cfg.Throttle.GlobalCancelsPerMinute = 1000
	}
	if cfg.Throttle.WeightPerMinute == 0 {
		cfg.Throttle.WeightPerMinute = 1000
	}
	if cfg.Throttle.WeightWarnFraction == 0 {
		cfg.Throttle.WeightWarnFraction = 0.8
	}
	if cfg.DeadMan.Horizon == 0 {
		cfg.DeadMan.Horizon = 5 * time.Minute
	}
	for i := range cfg.Symbols {
		applySymbolDefaults(&cfg.Symbols[i])
	}
}

func applySymbolDefaults(sym *SymbolConfig) {
	if sym.Sizing.MinUSD == 0 {
		sym.Sizing.MinUSD = 10
	}
	if sym.Sizing.TargetUSD == 0 {
		sym.Sizing.TargetUSD = 50
	}
	if sym.Sizing.MaxUSD == 0 {
		sym.Sizing.MaxUSD = 100
	}
	if sym.CapitalUSD == 0 {
		sym.CapitalUSD = 500
	}
}

func applyEnvOverrides(cfg *Config) {
	if dsn := strings.TrimSpace(os.Getenv("HL_AUDIT_DSN")); dsn != "" {
		cfg.Audit.DSN = dsn
	}
}

func deriveWSURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimSuffix(strings.TrimPrefix(baseURL, "https://"), "/") + "/ws"
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimSuffix(strings.TrimPrefix(baseURL, "http://"), "/") + "/ws"
	default:
		return "wss://api.hyperliquid.xyz/ws"
	}
}

func validate(cfg *Config) error {
	if len(cfg.Symbols) == 0 {
		return errors.New("at least one symbol is required")
	}
	seen := make(map[string]struct{}, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		if sym.Symbol == "" {
			return errors.New("symbols entries require a symbol name")
		}
		if _, dup := seen[sym.Symbol]; dup {
			return fmt.Errorf("duplicate symbol %s", sym.Symbol)
		}
		seen[sym.Symbol] = struct{}{}
		if err := validateSymbol(sym); err != nil {
			return err
		}
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	if cfg.Audit.Enabled && strings.TrimSpace(cfg.Audit.DSN) == "" {
		return errors.New("audit.dsn is required when audit is enabled (or set HL_AUDIT_DSN)")
	}
	if cfg.Risk.MaxDrawdown < 0 || cfg.Risk.MaxDrawdown >= 1 {
		return errors.New("risk.max_drawdown must be in [0, 1)")
	}
	if cfg.Risk.MaxDailyDrawdown < 0 || cfg.Risk.MaxDailyDrawdown >= 1 {
		return errors.New("risk.max_daily_drawdown must be in [0, 1)")
	}
	if cfg.Risk.MaxInventoryRatio < 0 {
		return errors.New("risk.max_inventory_ratio must be >= 0")
	}
	if cfg.Engine.DeadzoneBps < 0 {
		return errors.New("engine.deadzone_bps must be >= 0")
	}
	if cfg.Engine.RefreshInterval < 0 {
		return errors.New("engine.refresh_interval must be >= 0")
	}
	if cfg.DeadMan.EnabledValue() && cfg.DeadMan.Horizon < 10*time.Second {
		return errors.New("dead_man.horizon must be at least 10s")
	}
	if cfg.Throttle.WeightWarnFraction <= 0 || cfg.Throttle.WeightWarnFraction > 1 {
		return errors.New("throttle.weight_warn_fraction must be in (0, 1]")
	}
	return nil
}

func validateSymbol(sym SymbolConfig) error {
	s := sym.Sizing
	if s.MinUSD <= 0 || s.TargetUSD <= 0 || s.MaxUSD <= 0 {
		return fmt.Errorf("%s: sizing floors and caps must be positive", sym.Symbol)
	}
	if s.MinUSD > s.TargetUSD || s.TargetUSD > s.MaxUSD {
		return fmt.Errorf("%s: want sizing min <= target <= max", sym.Symbol)
	}
	if s.MaxUSDAbs != 0 && s.MaxUSDAbs < s.MaxUSD {
		return fmt.Errorf("%s: sizing max_usd_abs below max_usd", sym.Symbol)
	}
	switch sym.Inventory.Unwind {
	case "", "off", "manual", "auto":
	default:
		return fmt.Errorf("%s: unknown unwind mode %q", sym.Symbol, sym.Inventory.Unwind)
	}
	if sym.Inventory.MaxPositionCoins < 0 || sym.Inventory.MaxPositionUSD < 0 {
		return fmt.Errorf("%s: inventory caps must be >= 0", sym.Symbol)
	}
	if sym.CapitalUSD <= 0 {
		return fmt.Errorf("%s: capital_usd must be > 0", sym.Symbol)
	}
	if o := sym.Override; o.TickSize < 0 || o.LotSize < 0 || o.MinNotional < 0 || o.MaxLeverage < 0 {
		return fmt.Errorf("%s: override values must be >= 0", sym.Symbol)
	}
	return nil
}
