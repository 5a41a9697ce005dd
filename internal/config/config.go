package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Symbol identifies one leg of the traded pair.
type Symbol string

const (
	SymbolETH Symbol = "ETH"
	SymbolBTC Symbol = "BTC"
)

func ParseSymbol(value string) (Symbol, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "ETH", "ETH-PERP", "ETH_PERP":
		return SymbolETH, nil
	case "BTC", "BTC-PERP", "BTC_PERP":
		return SymbolBTC, nil
	}
	return "", fmt.Errorf("unsupported symbol: %s", value)
}

// PriceField selects which bar price feeds the indicators.
type PriceField string

const (
	PriceMid   PriceField = "MID"
	PriceMark  PriceField = "MARK"
	PriceClose PriceField = "CLOSE"
)

type SigmaFloorMode string

const (
	SigmaFloorConst    SigmaFloorMode = "CONST"
	SigmaFloorQuantile SigmaFloorMode = "QUANTILE"
	SigmaFloorEwmaMix  SigmaFloorMode = "EWMA_MIX"
)

type CapitalMode string

const (
	CapitalFixedNotional CapitalMode = "FIXED_NOTIONAL"
	CapitalEquityRatio   CapitalMode = "EQUITY_RATIO"
)

type FundingMode string

const (
	FundingFilter    FundingMode = "FILTER"
	FundingThreshold FundingMode = "THRESHOLD"
	FundingSize      FundingMode = "SIZE"
)

type RoundingMode string

const (
	RoundFloor   RoundingMode = "FLOOR"
	RoundCeil    RoundingMode = "CEIL"
	RoundNearest RoundingMode = "ROUND"
)

type MinSizePolicy string

const (
	MinSizeSkip   MinSizePolicy = "SKIP"
	MinSizeAdjust MinSizePolicy = "ADJUST"
)

type Config struct {
	Log         LoggingConfig                   `yaml:"log"`
	REST        RESTConfig                      `yaml:"rest"`
	WS          WSConfig                        `yaml:"ws"`
	State       StateConfig                     `yaml:"state"`
	Strategy    StrategyConfig                  `yaml:"strategy"`
	SigmaFloor  SigmaFloorConfig                `yaml:"sigma_floor"`
	Position    PositionConfig                  `yaml:"position"`
	Funding     FundingConfig                   `yaml:"funding"`
	Risk        RiskConfig                      `yaml:"risk"`
	Execution   ExecutionConfig                 `yaml:"execution"`
	Journal     JournalConfig                   `yaml:"journal"`
	Metrics     MetricsConfig                   `yaml:"metrics"`
	Telegram    TelegramConfig                  `yaml:"telegram"`
	Backtest    BacktestConfig                  `yaml:"backtest"`
	Instruments map[Symbol]InstrumentConstraint `yaml:"instruments"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type RESTConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type WSConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type StrategyConfig struct {
	NZ          int           `yaml:"n_z"`
	EntryZ      float64       `yaml:"entry_z"`
	TpZ         float64       `yaml:"tp_z"`
	SlZ         float64       `yaml:"sl_z"`
	BarInterval time.Duration `yaml:"bar_interval"`
	PriceField  PriceField    `yaml:"price_field"`
	WarmupBars  int           `yaml:"warmup_bars"`
}

type SigmaFloorConfig struct {
	Mode           SigmaFloorMode `yaml:"mode"`
	Const          float64        `yaml:"const"`
	QuantileWindow int            `yaml:"quantile_window"`
	QuantileP      float64        `yaml:"quantile_p"`
	EwmaHalfLife   int            `yaml:"ewma_half_life"`
}

type PositionConfig struct {
	CapitalMode   CapitalMode   `yaml:"capital_mode"`
	FixedNotional float64       `yaml:"fixed_notional"`
	EquityRatioK  float64       `yaml:"equity_ratio_k"`
	MaxNotional   float64       `yaml:"max_notional"`
	NVol          int           `yaml:"n_vol"`
	MinSizePolicy MinSizePolicy `yaml:"min_size_policy"`
}

// FundingConfig tunes the entry-time funding controls. CostThreshold,
// ThresholdK, and SizeAlpha all act on the worst-case funding cost
// normalized by total pair notional, so cost_threshold is a fraction of
// notional (0.0005 = 5 bps over the hold horizon), not a quote amount.
type FundingConfig struct {
	Modes         []FundingMode `yaml:"modes"`
	CostThreshold float64       `yaml:"cost_threshold"`
	ThresholdK    float64       `yaml:"threshold_k"`
	SizeAlpha     float64       `yaml:"size_alpha"`
	CMinRatio     float64       `yaml:"c_min_ratio"`
	Disabled      bool          `yaml:"disabled"`
}

type RiskConfig struct {
	MaxHoldHours  int `yaml:"max_hold_hours"`
	CooldownHours int `yaml:"cooldown_hours"`
	ConfirmBarsTP int `yaml:"confirm_bars_tp"`
}

type ExecutionConfig struct {
	Paper           bool          `yaml:"paper"`
	SlippageBps     float64       `yaml:"slippage_bps"`
	MaxAttempts     int           `yaml:"max_attempts"`
	BaseDelay       time.Duration `yaml:"base_delay"`
	MinCallInterval time.Duration `yaml:"min_call_interval"`
}

type JournalConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type TelegramConfig struct {
	Enabled                bool          `yaml:"enabled"`
	Token                  string        `yaml:"token"`
	ChatID                 string        `yaml:"chat_id"`
	OperatorEnabled        bool          `yaml:"operator_enabled"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids"`
}

type BacktestConfig struct {
	InitialCapital  float64 `yaml:"initial_capital"`
	IncludeFees     bool    `yaml:"include_fees"`
	FeeBps          float64 `yaml:"fee_bps"`
	IncludeSlippage bool    `yaml:"include_slippage"`
	SlippageBps     float64 `yaml:"slippage_bps"`
	IncludeFunding  bool    `yaml:"include_funding"`
}

type InstrumentConstraint struct {
	MinQty       float64      `yaml:"min_qty"`
	MinNotional  float64      `yaml:"min_notional"`
	StepSize     float64      `yaml:"step_size"`
	QtyPrecision int32        `yaml:"qty_precision"`
	RoundingMode RoundingMode `yaml:"rounding_mode"`
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

// Default returns a fully defaulted config for backtests and tests that
// do not load a file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = "https://api.hyperliquid.xyz"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.WS.URL == "" {
		cfg.WS.URL = "wss://api.hyperliquid.xyz/ws"
	}
	if cfg.WS.ReconnectDelay == 0 {
		cfg.WS.ReconnectDelay = 3 * time.Second
	}
	if cfg.WS.PingInterval == 0 {
		cfg.WS.PingInterval = 30 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/hl-pairs-bot.db"
	}
	if cfg.Strategy.NZ == 0 {
		cfg.Strategy.NZ = 384
	}
	if cfg.Strategy.EntryZ == 0 {
		cfg.Strategy.EntryZ = 1.5
	}
	if cfg.Strategy.TpZ == 0 {
		cfg.Strategy.TpZ = 0.45
	}
	if cfg.Strategy.SlZ == 0 {
		cfg.Strategy.SlZ = 3.5
	}
	if cfg.Strategy.BarInterval == 0 {
		cfg.Strategy.BarInterval = 15 * time.Minute
	}
	if cfg.Strategy.PriceField == "" {
		cfg.Strategy.PriceField = PriceMid
	}
	if cfg.SigmaFloor.Mode == "" {
		cfg.SigmaFloor.Mode = SigmaFloorConst
	}
	if cfg.SigmaFloor.Const == 0 {
		cfg.SigmaFloor.Const = 0.001
	}
	if cfg.SigmaFloor.QuantileWindow == 0 {
		cfg.SigmaFloor.QuantileWindow = 2880
	}
	if cfg.SigmaFloor.QuantileP == 0 {
		cfg.SigmaFloor.QuantileP = 0.10
	}
	if cfg.SigmaFloor.EwmaHalfLife == 0 {
		cfg.SigmaFloor.EwmaHalfLife = 20
	}
	if cfg.Position.CapitalMode == "" {
		cfg.Position.CapitalMode = CapitalFixedNotional
	}
	if cfg.Position.FixedNotional == 0 {
		cfg.Position.FixedNotional = 50000
	}
	if cfg.Position.NVol == 0 {
		cfg.Position.NVol = 672
	}
	if cfg.Position.MinSizePolicy == "" {
		cfg.Position.MinSizePolicy = MinSizeSkip
	}
	if cfg.Funding.Modes == nil {
		cfg.Funding.Modes = []FundingMode{FundingFilter}
	}
	if cfg.Funding.CostThreshold == 0 {
		cfg.Funding.CostThreshold = 0.001
	}
	if cfg.Funding.ThresholdK == 0 {
		cfg.Funding.ThresholdK = 0.5
	}
	if cfg.Funding.SizeAlpha == 0 {
		cfg.Funding.SizeAlpha = 0.5
	}
	if cfg.Funding.CMinRatio == 0 {
		cfg.Funding.CMinRatio = 0.3
	}
	if cfg.Risk.MaxHoldHours == 0 {
		cfg.Risk.MaxHoldHours = 48
	}
	if cfg.Risk.CooldownHours == 0 {
		cfg.Risk.CooldownHours = 24
	}
	if cfg.Execution.MaxAttempts == 0 {
		cfg.Execution.MaxAttempts = 2
	}
	if cfg.Execution.BaseDelay == 0 {
		cfg.Execution.BaseDelay = 200 * time.Millisecond
	}
	if cfg.Execution.MinCallInterval == 0 {
		cfg.Execution.MinCallInterval = 200 * time.Millisecond
	}
	if cfg.Execution.SlippageBps == 0 {
		cfg.Execution.SlippageBps = 5
	}
	if cfg.Journal.Schema == "" {
		cfg.Journal.Schema = "public"
	}
	if cfg.Journal.QueueSize == 0 {
		cfg.Journal.QueueSize = 256
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9185"
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 3 * time.Second
	}
	if cfg.Backtest.InitialCapital == 0 {
		cfg.Backtest.InitialCapital = 10000
	}
	if cfg.Backtest.FeeBps == 0 {
		cfg.Backtest.FeeBps = 2
	}
	if cfg.Backtest.SlippageBps == 0 {
		cfg.Backtest.SlippageBps = 5
	}
	if cfg.Instruments == nil {
		cfg.Instruments = map[Symbol]InstrumentConstraint{}
	}
	if _, ok := cfg.Instruments[SymbolETH]; !ok {
		cfg.Instruments[SymbolETH] = InstrumentConstraint{
			MinQty:       0.01,
			MinNotional:  10,
			StepSize:     0.001,
			QtyPrecision: 3,
			RoundingMode: RoundFloor,
		}
	}
	if _, ok := cfg.Instruments[SymbolBTC]; !ok {
		cfg.Instruments[SymbolBTC] = InstrumentConstraint{
			MinQty:       0.001,
			MinNotional:  10,
			StepSize:     0.0001,
			QtyPrecision: 4,
			RoundingMode: RoundFloor,
		}
	}
	if cfg.Strategy.WarmupBars == 0 {
		cfg.Strategy.WarmupBars = cfg.Strategy.NZ
	}
}

func validate(cfg *Config) error {
	if cfg.Strategy.NZ <= 0 {
		return errors.New("strategy.n_z must be > 0")
	}
	if cfg.Strategy.EntryZ <= 0 {
		return errors.New("strategy.entry_z must be > 0")
	}
	if cfg.Strategy.EntryZ >= cfg.Strategy.SlZ {
		return errors.New("strategy.entry_z must be < strategy.sl_z")
	}
	if cfg.Strategy.TpZ < 0 {
		return errors.New("strategy.tp_z must be >= 0")
	}
	// An inverted take-profit band would never be reachable from an entry.
	if cfg.Strategy.TpZ >= cfg.Strategy.EntryZ {
		return errors.New("strategy.tp_z must be < strategy.entry_z")
	}
	switch cfg.Strategy.PriceField {
	case PriceMid, PriceMark, PriceClose:
	default:
		return fmt.Errorf("strategy.price_field: unsupported value %q", cfg.Strategy.PriceField)
	}
	switch cfg.SigmaFloor.Mode {
	case SigmaFloorConst, SigmaFloorQuantile, SigmaFloorEwmaMix:
	default:
		return fmt.Errorf("sigma_floor.mode: unsupported value %q", cfg.SigmaFloor.Mode)
	}
	if cfg.SigmaFloor.Const <= 0 {
		return errors.New("sigma_floor.const must be > 0")
	}
	if cfg.SigmaFloor.QuantileP <= 0 || cfg.SigmaFloor.QuantileP > 1 {
		return errors.New("sigma_floor.quantile_p must be in (0,1]")
	}
	if cfg.SigmaFloor.QuantileWindow <= 0 {
		return errors.New("sigma_floor.quantile_window must be > 0")
	}
	if cfg.SigmaFloor.EwmaHalfLife <= 0 {
		return errors.New("sigma_floor.ewma_half_life must be > 0")
	}
	switch cfg.Position.CapitalMode {
	case CapitalFixedNotional:
		if cfg.Position.FixedNotional <= 0 {
			return errors.New("position.fixed_notional must be > 0")
		}
	case CapitalEquityRatio:
		if cfg.Position.EquityRatioK <= 0 {
			return errors.New("position.equity_ratio_k must be > 0")
		}
	default:
		return fmt.Errorf("position.capital_mode: unsupported value %q", cfg.Position.CapitalMode)
	}
	if cfg.Position.NVol <= 0 {
		return errors.New("position.n_vol must be > 0")
	}
	switch cfg.Position.MinSizePolicy {
	case MinSizeSkip, MinSizeAdjust:
	default:
		return fmt.Errorf("position.min_size_policy: unsupported value %q", cfg.Position.MinSizePolicy)
	}
	for _, mode := range cfg.Funding.Modes {
		switch mode {
		case FundingFilter, FundingThreshold, FundingSize:
		default:
			return fmt.Errorf("funding.modes: unsupported value %q", mode)
		}
	}
	if cfg.Funding.CMinRatio <= 0 || cfg.Funding.CMinRatio > 1 {
		return errors.New("funding.c_min_ratio must be in (0,1]")
	}
	if cfg.Risk.MaxHoldHours <= 0 {
		return errors.New("risk.max_hold_hours must be > 0")
	}
	if cfg.Risk.CooldownHours <= 0 {
		return errors.New("risk.cooldown_hours must be > 0")
	}
	if cfg.Risk.ConfirmBarsTP < 0 {
		return errors.New("risk.confirm_bars_tp must be >= 0")
	}
	if cfg.Execution.MaxAttempts < 0 {
		return errors.New("execution.max_attempts must be >= 0")
	}
	if cfg.Position.MaxNotional > 0 && cfg.Position.FixedNotional > cfg.Position.MaxNotional {
		return errors.New("position.fixed_notional exceeds position.max_notional")
	}
	for symbol, constraint := range cfg.Instruments {
		if constraint.StepSize <= 0 {
			return fmt.Errorf("instruments.%s.step_size must be > 0", symbol)
		}
		switch constraint.RoundingMode {
		case RoundFloor, RoundCeil, RoundNearest:
		default:
			return fmt.Errorf("instruments.%s.rounding_mode: unsupported value %q", symbol, constraint.RoundingMode)
		}
	}
	if cfg.Journal.Enabled && cfg.Journal.DSN == "" {
		return errors.New("journal.dsn is required when journal.enabled")
	}
	if cfg.Telegram.Enabled && (cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram.enabled")
	}
	return nil
}
