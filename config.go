// FILE: config.go
// Package main – Runtime configuration model and loaders.
//
// Configuration is layered, lowest to highest precedence:
//   1) baked-in defaults (defaultConfig)
//   2) optional YAML file (CONFIG_FILE, default config/config.yaml)
//   3) environment variables (hydrated from .env by loadBotEnv, see env.go)
//
// Typical flow (see main.go):
//   loadBotEnv()
//   cfg, err := loadConfig(getEnv("CONFIG_FILE", "config/config.yaml"))
package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RiskLimits are the capital-preservation bounds injected into the risk
// gate. They are fixed at startup and never mutated at runtime.
type RiskLimits struct {
	MaxPositionPct      float64 `yaml:"max_position_percent"`  // % of balance per position
	MaxExposurePct      float64 `yaml:"max_exposure_percent"`  // % of balance across all open trades
	MaxOpenPositions    int     `yaml:"max_open_positions"`    // concurrent open positions
	MaxSingleLoss       float64 `yaml:"max_single_loss"`       // absolute USDC cap per trade
	MinBalance          float64 `yaml:"min_balance"`           // hard floor; breach trips the stop
	DailyDrawdownLimit  float64 `yaml:"daily_drawdown_limit"`  // fraction of day-start balance
	WeeklyDrawdownLimit float64 `yaml:"weekly_drawdown_limit"` // fraction of week-start balance
	MaxVolatility       float64 `yaml:"max_volatility"`        // warning threshold, not a rejection
	KellyFraction       float64 `yaml:"kelly_fraction"`        // fraction of full Kelly for sizing
	MinTradeSize        float64 `yaml:"min_trade_size"`        // venue minimum order, USDC
}

// ArbitrageConfig tunes the YES/NO sum-under-par scanner.
type ArbitrageConfig struct {
	Enabled   bool    `yaml:"enabled"`
	MinSpread float64 `yaml:"min_spread"`   // minimum net profit per pair
	MaxSize   float64 `yaml:"max_size"`     // USDC cap per arb (both legs combined)
	MakerBuf  float64 `yaml:"maker_buffer"` // price shade to keep maker status
}

// MarketMakerConfig tunes the two-sided quoting strategy.
type MarketMakerConfig struct {
	Enabled           bool    `yaml:"enabled"`
	SpreadOffset      float64 `yaml:"spread_offset"`       // quote distance from fair value
	OrderSize         float64 `yaml:"order_size"`          // USDC per quote side
	MinEdge           float64 `yaml:"min_edge"`            // minimum per-side EV to quote
	RebalanceAt       float64 `yaml:"rebalance_threshold"` // fair-value drift before re-quote
	MaxInventoryRatio float64 `yaml:"max_inventory_ratio"` // net inventory / order size cap
	MinLiquidity      float64 `yaml:"min_liquidity"`       // skip thin books
}

// SpikeConfig tunes the spot-spike mean-reversion strategy.
type SpikeConfig struct {
	Enabled       bool    `yaml:"enabled"`
	ThresholdPct  float64 `yaml:"threshold_percent"` // move size that counts as a spike
	WindowSec     int     `yaml:"lookback_seconds"`
	CooldownSec   int     `yaml:"cooldown_seconds"` // per-asset re-entry guard
	SizePct       float64 `yaml:"size_percent"`     // % of balance per reversion bet
	MaxSize       float64 `yaml:"max_size"`         // USDC cap per bet
	MinConfidence float64 `yaml:"min_confidence"`
}

// Config holds all runtime knobs for trading and operations.
type Config struct {
	// Mode: "paper" (synthetic venue), "sim" (live data, paper fills),
	// "live" (gateway for data and execution).
	Mode string

	// Ops
	Port       int
	GatewayURL string // local REST gateway sidecar, e.g. http://127.0.0.1:8787
	GammaURL   string // public market-data API base (read-only)

	// Loop control
	StartingBalance   float64
	PollIntervalSec   int
	MinEV             float64 // drop intents below this expected value
	MaxTradesPerCycle int

	// Order lifecycle
	OrderTimeoutSec int // per-order resting budget before EXPIRED
	OrderSyncSec    int // reconcile/timeout sweep period

	// Market filters
	FocusCategory string
	MinLiquidity  float64

	// Persistence
	DataDir     string
	StateFile   string // JSON engine snapshot (display/ops cache)
	HistoryFile string // append-only closed-position CSV

	// Spot price feed
	FeedSymbols []string
	FeedWSURL   string
	FeedRESTURL string

	// Alerts
	DiscordWebhook      string
	AlertMinIntervalSec int

	Risk        RiskLimits
	Arbitrage   ArbitrageConfig
	MarketMaker MarketMakerConfig
	Spike       SpikeConfig
}

// defaultConfig mirrors the conservative small-account profile the engine
// is tuned for ($50 starting capital, micro-trades).
func defaultConfig() Config {
	return Config{
		Mode:              "sim",
		Port:              8080,
		GatewayURL:        "",
		GammaURL:          "",
		StartingBalance:   50.0,
		PollIntervalSec:   2,
		MinEV:             0.02,
		MaxTradesPerCycle: 3,
		OrderTimeoutSec:   60,
		OrderSyncSec:      5,
		FocusCategory:     "",
		MinLiquidity:      100.0,
		DataDir:           "data",
		StateFile:         "data/engine_state.json",
		HistoryFile:       "data/closed_positions.csv",
		FeedSymbols:       []string{"BTC", "ETH"},
		FeedWSURL:         "wss://stream.binance.com:9443/stream",
		FeedRESTURL:       "https://api.binance.com",
		AlertMinIntervalSec: 60,
		Risk: RiskLimits{
			MaxPositionPct:      2.0,
			MaxExposurePct:      20.0,
			MaxOpenPositions:    10,
			MaxSingleLoss:       5.0,
			MinBalance:          10.0,
			DailyDrawdownLimit:  0.05,
			WeeklyDrawdownLimit: 0.15,
			MaxVolatility:       0.10,
			KellyFraction:       0.25,
			MinTradeSize:        0.50,
		},
		Arbitrage: ArbitrageConfig{
			Enabled:   true,
			MinSpread: 0.01,
			MaxSize:   5.0,
			MakerBuf:  0.005,
		},
		MarketMaker: MarketMakerConfig{
			Enabled:           true,
			SpreadOffset:      0.02,
			OrderSize:         2.0,
			MinEdge:           0.005,
			RebalanceAt:       0.02,
			MaxInventoryRatio: 3.0,
			MinLiquidity:      500.0,
		},
		Spike: SpikeConfig{
			Enabled:       true,
			ThresholdPct:  3.0,
			WindowSec:     60,
			CooldownSec:   300,
			SizePct:       1.0,
			MaxSize:       2.0,
			MinConfidence: 0.6,
		},
	}
}

// fileConfig is the YAML schema. Sections and key names follow the
// config/config.yaml layout; absent keys keep their defaults.
type fileConfig struct {
	General struct {
		Mode            string  `yaml:"mode"`
		StartingBalance float64 `yaml:"starting_balance"`
		PollIntervalSec int     `yaml:"poll_interval_seconds"`
		Port            int     `yaml:"metrics_port"`
	} `yaml:"general"`
	Markets struct {
		FocusCategory string  `yaml:"focus_category"`
		MinLiquidity  float64 `yaml:"min_liquidity"`
	} `yaml:"markets"`
	EV struct {
		MinEV             float64 `yaml:"min_ev"`
		MaxTradesPerCycle int     `yaml:"max_trades_per_cycle"`
	} `yaml:"ev"`
	Orders struct {
		TimeoutSec int `yaml:"timeout_seconds"`
		SyncSec    int `yaml:"sync_seconds"`
	} `yaml:"orders"`
	Risk       *RiskLimits        `yaml:"risk"`
	Strategies struct {
		Arbitrage      *ArbitrageConfig   `yaml:"arbitrage"`
		MarketMaking   *MarketMakerConfig `yaml:"market_making"`
		SpikeReversion *SpikeConfig       `yaml:"spike_reversion"`
		CopyTrading    *struct {
			Enabled bool `yaml:"enabled"`
		} `yaml:"copy_trading"`
	} `yaml:"strategies"`
	Feeds struct {
		Symbols []string `yaml:"symbols"`
		WSURL   string   `yaml:"ws_url"`
		RESTURL string   `yaml:"rest_url"`
	} `yaml:"feeds"`
	Alerts struct {
		DiscordWebhook string `yaml:"discord_webhook"`
		MinIntervalSec int    `yaml:"min_interval_seconds"`
	} `yaml:"alerts"`
}

// loadConfig builds the runtime Config: defaults, then the YAML file if
// present, then env overrides, then validation.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if bs, err := os.ReadFile(path); err == nil {
		var fc fileConfig
		if err := yaml.Unmarshal(bs, &fc); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
		applyFile(&cfg, fc)
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, fc fileConfig) {
	if v := strings.TrimSpace(fc.General.Mode); v != "" {
		cfg.Mode = v
	}
	if fc.General.StartingBalance > 0 {
		cfg.StartingBalance = fc.General.StartingBalance
	}
	if fc.General.PollIntervalSec > 0 {
		cfg.PollIntervalSec = fc.General.PollIntervalSec
	}
	if fc.General.Port > 0 {
		cfg.Port = fc.General.Port
	}
	if v := strings.TrimSpace(fc.Markets.FocusCategory); v != "" {
		cfg.FocusCategory = v
	}
	if fc.Markets.MinLiquidity > 0 {
		cfg.MinLiquidity = fc.Markets.MinLiquidity
	}
	if fc.EV.MinEV > 0 {
		cfg.MinEV = fc.EV.MinEV
	}
	if fc.EV.MaxTradesPerCycle > 0 {
		cfg.MaxTradesPerCycle = fc.EV.MaxTradesPerCycle
	}
	if fc.Orders.TimeoutSec > 0 {
		cfg.OrderTimeoutSec = fc.Orders.TimeoutSec
	}
	if fc.Orders.SyncSec > 0 {
		cfg.OrderSyncSec = fc.Orders.SyncSec
	}
	if fc.Risk != nil {
		r := &cfg.Risk
		o := fc.Risk
		if o.MaxPositionPct > 0 {
			r.MaxPositionPct = o.MaxPositionPct
		}
		if o.MaxExposurePct > 0 {
			r.MaxExposurePct = o.MaxExposurePct
		}
		if o.MaxOpenPositions > 0 {
			r.MaxOpenPositions = o.MaxOpenPositions
		}
		if o.MaxSingleLoss > 0 {
			r.MaxSingleLoss = o.MaxSingleLoss
		}
		if o.MinBalance > 0 {
			r.MinBalance = o.MinBalance
		}
		if o.DailyDrawdownLimit > 0 {
			r.DailyDrawdownLimit = o.DailyDrawdownLimit
		}
		if o.WeeklyDrawdownLimit > 0 {
			r.WeeklyDrawdownLimit = o.WeeklyDrawdownLimit
		}
		if o.MaxVolatility > 0 {
			r.MaxVolatility = o.MaxVolatility
		}
		if o.KellyFraction > 0 {
			r.KellyFraction = o.KellyFraction
		}
		if o.MinTradeSize > 0 {
			r.MinTradeSize = o.MinTradeSize
		}
	}
	if fc.Strategies.Arbitrage != nil {
		a := *fc.Strategies.Arbitrage
		cfg.Arbitrage.Enabled = a.Enabled
		if a.MinSpread > 0 {
			cfg.Arbitrage.MinSpread = a.MinSpread
		}
		if a.MaxSize > 0 {
			cfg.Arbitrage.MaxSize = a.MaxSize
		}
		if a.MakerBuf > 0 {
			cfg.Arbitrage.MakerBuf = a.MakerBuf
		}
	}
	if fc.Strategies.MarketMaking != nil {
		m := *fc.Strategies.MarketMaking
		cfg.MarketMaker.Enabled = m.Enabled
		if m.SpreadOffset > 0 {
			cfg.MarketMaker.SpreadOffset = m.SpreadOffset
		}
		if m.OrderSize > 0 {
			cfg.MarketMaker.OrderSize = m.OrderSize
		}
		if m.MinEdge > 0 {
			cfg.MarketMaker.MinEdge = m.MinEdge
		}
		if m.RebalanceAt > 0 {
			cfg.MarketMaker.RebalanceAt = m.RebalanceAt
		}
		if m.MaxInventoryRatio > 0 {
			cfg.MarketMaker.MaxInventoryRatio = m.MaxInventoryRatio
		}
		if m.MinLiquidity > 0 {
			cfg.MarketMaker.MinLiquidity = m.MinLiquidity
		}
	}
	if fc.Strategies.SpikeReversion != nil {
		s := *fc.Strategies.SpikeReversion
		cfg.Spike.Enabled = s.Enabled
		if s.ThresholdPct > 0 {
			cfg.Spike.ThresholdPct = s.ThresholdPct
		}
		if s.WindowSec > 0 {
			cfg.Spike.WindowSec = s.WindowSec
		}
		if s.CooldownSec > 0 {
			cfg.Spike.CooldownSec = s.CooldownSec
		}
		if s.SizePct > 0 {
			cfg.Spike.SizePct = s.SizePct
		}
		if s.MaxSize > 0 {
			cfg.Spike.MaxSize = s.MaxSize
		}
		if s.MinConfidence > 0 {
			cfg.Spike.MinConfidence = s.MinConfidence
		}
	}
	if len(fc.Feeds.Symbols) > 0 {
		cfg.FeedSymbols = fc.Feeds.Symbols
	}
	if v := strings.TrimSpace(fc.Feeds.WSURL); v != "" {
		cfg.FeedWSURL = v
	}
	if v := strings.TrimSpace(fc.Feeds.RESTURL); v != "" {
		cfg.FeedRESTURL = v
	}
	if v := strings.TrimSpace(fc.Alerts.DiscordWebhook); v != "" {
		cfg.DiscordWebhook = v
	}
	if fc.Alerts.MinIntervalSec > 0 {
		cfg.AlertMinIntervalSec = fc.Alerts.MinIntervalSec
	}
}

// applyEnv lets env vars (hydrated by loadBotEnv) override file values.
func applyEnv(cfg *Config) {
	cfg.Mode = strings.ToLower(getEnv("MODE", cfg.Mode))
	cfg.Port = getEnvInt("PORT", cfg.Port)
	cfg.GatewayURL = getEnv("GATEWAY_URL", cfg.GatewayURL)
	cfg.GammaURL = getEnv("GAMMA_URL", cfg.GammaURL)
	cfg.StartingBalance = getEnvFloat("STARTING_BALANCE", cfg.StartingBalance)
	cfg.PollIntervalSec = getEnvInt("POLL_INTERVAL_SEC", cfg.PollIntervalSec)
	cfg.MinEV = getEnvFloat("MIN_EV", cfg.MinEV)
	cfg.MaxTradesPerCycle = getEnvInt("MAX_TRADES_PER_CYCLE", cfg.MaxTradesPerCycle)
	cfg.OrderTimeoutSec = getEnvInt("ORDER_TIMEOUT_SEC", cfg.OrderTimeoutSec)
	cfg.OrderSyncSec = getEnvInt("ORDER_SYNC_SEC", cfg.OrderSyncSec)
	cfg.FocusCategory = getEnv("FOCUS_CATEGORY", cfg.FocusCategory)
	cfg.MinLiquidity = getEnvFloat("MIN_LIQUIDITY", cfg.MinLiquidity)
	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)
	cfg.StateFile = getEnv("STATE_FILE", cfg.StateFile)
	cfg.HistoryFile = getEnv("HISTORY_FILE", cfg.HistoryFile)
	if v := getEnv("FEED_SYMBOLS", ""); v != "" {
		parts := strings.Split(v, ",")
		syms := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
				syms = append(syms, p)
			}
		}
		if len(syms) > 0 {
			cfg.FeedSymbols = syms
		}
	}
	cfg.FeedWSURL = getEnv("FEED_WS_URL", cfg.FeedWSURL)
	cfg.FeedRESTURL = getEnv("FEED_REST_URL", cfg.FeedRESTURL)
	cfg.DiscordWebhook = getEnv("DISCORD_WEBHOOK", cfg.DiscordWebhook)
	cfg.AlertMinIntervalSec = getEnvInt("ALERT_MIN_INTERVAL_SEC", cfg.AlertMinIntervalSec)

	cfg.Risk.MaxPositionPct = getEnvFloat("MAX_POSITION_PCT", cfg.Risk.MaxPositionPct)
	cfg.Risk.MaxExposurePct = getEnvFloat("MAX_EXPOSURE_PCT", cfg.Risk.MaxExposurePct)
	cfg.Risk.MaxOpenPositions = getEnvInt("MAX_OPEN_POSITIONS", cfg.Risk.MaxOpenPositions)
	cfg.Risk.MaxSingleLoss = getEnvFloat("MAX_SINGLE_LOSS", cfg.Risk.MaxSingleLoss)
	cfg.Risk.MinBalance = getEnvFloat("MIN_BALANCE", cfg.Risk.MinBalance)
	cfg.Risk.DailyDrawdownLimit = getEnvFloat("DAILY_DRAWDOWN_LIMIT", cfg.Risk.DailyDrawdownLimit)
	cfg.Risk.WeeklyDrawdownLimit = getEnvFloat("WEEKLY_DRAWDOWN_LIMIT", cfg.Risk.WeeklyDrawdownLimit)
	cfg.Risk.MaxVolatility = getEnvFloat("MAX_VOLATILITY", cfg.Risk.MaxVolatility)

	cfg.Arbitrage.Enabled = getEnvBool("STRAT_ARBITRAGE", cfg.Arbitrage.Enabled)
	cfg.MarketMaker.Enabled = getEnvBool("STRAT_MARKET_MAKER", cfg.MarketMaker.Enabled)
	cfg.Spike.Enabled = getEnvBool("STRAT_SPIKE_REVERSION", cfg.Spike.Enabled)
}

// Validate range-checks the knobs that would make the engine unsafe or
// nonsensical if misconfigured.
func (c Config) Validate() error {
	switch c.Mode {
	case "paper", "sim", "live":
	default:
		return fmt.Errorf("config: unknown mode %q (want paper|sim|live)", c.Mode)
	}
	if c.Mode == "live" && strings.TrimSpace(c.GatewayURL) == "" {
		return fmt.Errorf("config: live mode requires GATEWAY_URL")
	}
	if c.StartingBalance <= 0 {
		return fmt.Errorf("config: starting balance must be > 0 (got %.2f)", c.StartingBalance)
	}
	if c.PollIntervalSec <= 0 {
		return fmt.Errorf("config: poll interval must be > 0 (got %d)", c.PollIntervalSec)
	}
	if c.Risk.MaxPositionPct <= 0 || c.Risk.MaxPositionPct > 100 {
		return fmt.Errorf("config: max position %% out of range (got %.2f)", c.Risk.MaxPositionPct)
	}
	if c.Risk.MaxExposurePct <= 0 || c.Risk.MaxExposurePct > 100 {
		return fmt.Errorf("config: max exposure %% out of range (got %.2f)", c.Risk.MaxExposurePct)
	}
	if c.Risk.DailyDrawdownLimit <= 0 || c.Risk.DailyDrawdownLimit >= 1 {
		return fmt.Errorf("config: daily drawdown limit must be a fraction in (0,1) (got %.2f)", c.Risk.DailyDrawdownLimit)
	}
	if c.Risk.WeeklyDrawdownLimit <= 0 || c.Risk.WeeklyDrawdownLimit >= 1 {
		return fmt.Errorf("config: weekly drawdown limit must be a fraction in (0,1) (got %.2f)", c.Risk.WeeklyDrawdownLimit)
	}
	if c.Risk.KellyFraction <= 0 || c.Risk.KellyFraction > 1 {
		return fmt.Errorf("config: kelly fraction must be in (0,1] (got %.2f)", c.Risk.KellyFraction)
	}
	if c.Risk.MinTradeSize <= 0 {
		return fmt.Errorf("config: min trade size must be > 0 (got %.2f)", c.Risk.MinTradeSize)
	}
	if c.MaxTradesPerCycle <= 0 {
		return fmt.Errorf("config: max trades per cycle must be > 0 (got %d)", c.MaxTradesPerCycle)
	}
	return nil
}
