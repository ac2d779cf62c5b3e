// Package config loads and validates the application configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	API            APIConfig            `mapstructure:"api"`
	ScanInterval   time.Duration        `mapstructure:"scan_interval"`
	Filters        FiltersConfig        `mapstructure:"filters"`
	Alerts         AlertsConfig         `mapstructure:"alerts"`
	WalletTracking WalletTrackingConfig `mapstructure:"wallet_tracking"`
	State          StateConfig          `mapstructure:"state"`
	Telegram       TelegramConfig       `mapstructure:"telegram"`
	Output         OutputConfig         `mapstructure:"output"`
	History        HistoryConfig        `mapstructure:"history"`
	Logging        LoggingConfig        `mapstructure:"logging"`
}

// APIConfig holds Polymarket API configuration.
type APIConfig struct {
	GammaBaseURL    string        `mapstructure:"gamma_base_url"`
	ClobBaseURL     string        `mapstructure:"clob_base_url"`
	MarketsEndpoint string        `mapstructure:"markets_endpoint"`
	ActiveOnly      bool          `mapstructure:"active_only"`
	ExcludeReview   bool          `mapstructure:"exclude_review"`
	Limit           int           `mapstructure:"limit"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryDelayBase  time.Duration `mapstructure:"retry_delay_base"`
	UseClobPrices   bool          `mapstructure:"use_clob_prices"`
	ClobPriceSide   string        `mapstructure:"clob_price_side"`
	ClobBatchSize   int           `mapstructure:"clob_batch_size"`
	StreamEnabled   bool          `mapstructure:"stream_enabled"`
	StreamURL       string        `mapstructure:"stream_url"`
}

// FiltersConfig gates which outcomes are eligible for alerting.
type FiltersConfig struct {
	Probability      ProbabilityFilter `mapstructure:"probability"`
	TimeToResolution ResolutionFilter  `mapstructure:"time_to_resolution"`
	Liquidity        LiquidityFilter   `mapstructure:"liquidity"`
	Volume           VolumeFilter      `mapstructure:"volume"`
}

// ProbabilityFilter bounds the outcome price. Bounds above 1 are read as
// percentages and divided by 100 before comparison.
type ProbabilityFilter struct {
	Enabled bool    `mapstructure:"enabled"`
	Min     float64 `mapstructure:"min"`
	Max     float64 `mapstructure:"max"`
}

// ResolutionFilter bounds days until market resolution.
type ResolutionFilter struct {
	Enabled bool    `mapstructure:"enabled"`
	MinDays float64 `mapstructure:"min_days"`
	MaxDays float64 `mapstructure:"max_days"`
}

// LiquidityFilter requires a minimum outcome liquidity in USD.
type LiquidityFilter struct {
	Enabled bool    `mapstructure:"enabled"`
	MinUSD  float64 `mapstructure:"min_usd"`
}

// VolumeFilter requires a minimum cumulative volume in USD.
type VolumeFilter struct {
	Enabled bool    `mapstructure:"enabled"`
	MinUSD  float64 `mapstructure:"min_usd"`
}

// AlertsConfig holds per-rule alert configuration.
type AlertsConfig struct {
	NewMarket        NewMarketAlert   `mapstructure:"new_market"`
	PriceSpike       PriceSpikeAlert  `mapstructure:"price_spike"`
	RangeEntry       RangeEntryAlert  `mapstructure:"range_entry"`
	VolumeSpike      VolumeSpikeAlert `mapstructure:"volume_spike"`
	WhaleTrade       WhaleTradeAlert  `mapstructure:"whale_trade"`
	InsiderDetection InsiderAlert     `mapstructure:"insider_detection"`
}

type NewMarketAlert struct {
	Enabled bool `mapstructure:"enabled"`
}

type PriceSpikeAlert struct {
	Enabled         bool    `mapstructure:"enabled"`
	LookbackMinutes float64 `mapstructure:"lookback_minutes"`
	PercentChange   float64 `mapstructure:"percent_change"`
	AbsoluteChange  float64 `mapstructure:"absolute_change"`
}

type RangeEntryAlert struct {
	Enabled bool `mapstructure:"enabled"`
}

type VolumeSpikeAlert struct {
	Enabled         bool    `mapstructure:"enabled"`
	PercentChange   float64 `mapstructure:"percent_change"`
	LookbackMinutes int     `mapstructure:"lookback_minutes"`
	BaselineDays    int     `mapstructure:"baseline_days"`
}

type WhaleTradeAlert struct {
	Enabled bool    `mapstructure:"enabled"`
	MinUSD  float64 `mapstructure:"min_usd"`
}

type InsiderAlert struct {
	Enabled           bool    `mapstructure:"enabled"`
	NewWalletAgeHours float64 `mapstructure:"new_wallet_age_hours"`
	SingleMarketFocus bool    `mapstructure:"single_market_focus"`
	MinVolumeUSD      float64 `mapstructure:"min_volume_usd"`
}

// WalletTrackingConfig controls the per-wallet stats subsystem.
type WalletTrackingConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	RetentionDays int  `mapstructure:"retention_days"`
	MaxWallets    int  `mapstructure:"max_wallets"`
}

// StateConfig holds state-file persistence configuration.
type StateConfig struct {
	Path               string `mapstructure:"path"`
	MaxProcessedTrades int    `mapstructure:"max_processed_trades"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Token          string        `mapstructure:"token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// OutputConfig holds the optional append-only alert log file.
type OutputConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// HistoryConfig holds the SQLite alert journal configuration.
type HistoryConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	DBPath    string `mapstructure:"db_path"`
	MaxAlerts int    `mapstructure:"max_alerts"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("POLYSENTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Token and chat ID present implies telegram delivery is wanted.
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != "" {
		cfg.Telegram.Enabled = true
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.gamma_base_url", "https://gamma-api.polymarket.com")
	v.SetDefault("api.clob_base_url", "https://clob.polymarket.com")
	v.SetDefault("api.markets_endpoint", "/events")
	v.SetDefault("api.active_only", true)
	v.SetDefault("api.exclude_review", true)
	v.SetDefault("api.limit", 0) // 0 = API default page size
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("api.max_retries", 3)
	v.SetDefault("api.retry_delay_base", "2s")
	v.SetDefault("api.use_clob_prices", true)
	v.SetDefault("api.clob_price_side", "BUY")
	v.SetDefault("api.clob_batch_size", 200)
	v.SetDefault("api.stream_enabled", false)
	v.SetDefault("api.stream_url", "wss://ws-subscriptions-clob.polymarket.com/ws")

	v.SetDefault("scan_interval", "5m")

	v.SetDefault("filters.probability.enabled", false)
	v.SetDefault("filters.probability.min", 0.0)
	v.SetDefault("filters.probability.max", 1.0)
	v.SetDefault("filters.time_to_resolution.enabled", false)
	v.SetDefault("filters.time_to_resolution.min_days", 0.0)
	v.SetDefault("filters.time_to_resolution.max_days", 36500.0)
	v.SetDefault("filters.liquidity.enabled", false)
	v.SetDefault("filters.liquidity.min_usd", 0.0)
	v.SetDefault("filters.volume.enabled", false)
	v.SetDefault("filters.volume.min_usd", 0.0)

	v.SetDefault("alerts.new_market.enabled", true)
	v.SetDefault("alerts.price_spike.enabled", true)
	v.SetDefault("alerts.price_spike.lookback_minutes", 60.0)
	v.SetDefault("alerts.price_spike.percent_change", 0.0)
	v.SetDefault("alerts.price_spike.absolute_change", 0.0)
	v.SetDefault("alerts.range_entry.enabled", true)
	v.SetDefault("alerts.volume_spike.enabled", false)
	v.SetDefault("alerts.volume_spike.percent_change", 200.0)
	v.SetDefault("alerts.volume_spike.lookback_minutes", 30)
	v.SetDefault("alerts.volume_spike.baseline_days", 7)
	v.SetDefault("alerts.whale_trade.enabled", false)
	v.SetDefault("alerts.whale_trade.min_usd", 10000.0)
	v.SetDefault("alerts.insider_detection.enabled", false)
	v.SetDefault("alerts.insider_detection.new_wallet_age_hours", 24.0)
	v.SetDefault("alerts.insider_detection.single_market_focus", true)
	v.SetDefault("alerts.insider_detection.min_volume_usd", 5000.0)

	v.SetDefault("wallet_tracking.enabled", true)
	v.SetDefault("wallet_tracking.retention_days", 30)
	v.SetDefault("wallet_tracking.max_wallets", 100000)

	v.SetDefault("state.path", "./data/state.json")
	v.SetDefault("state.max_processed_trades", 50000)

	// Empty defaults keep the credential keys visible to Unmarshal when they
	// come from the environment alone.
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	v.SetDefault("output.enabled", false)
	v.SetDefault("output.path", "./data/alerts.log")

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.db_path", "./data/history.db")
	v.SetDefault("history.max_alerts", 10000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are usable. Failures here
// are fatal at startup.
func (c *Config) Validate() error {
	if c.API.GammaBaseURL == "" {
		return fmt.Errorf("api.gamma_base_url is required")
	}
	if c.API.ClobBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if c.API.MarketsEndpoint == "" {
		return fmt.Errorf("api.markets_endpoint is required")
	}
	if c.ScanInterval < 10*time.Second {
		return fmt.Errorf("scan_interval must be at least 10 seconds")
	}
	if c.API.MaxRetries < 1 {
		return fmt.Errorf("api.max_retries must be at least 1")
	}
	if c.API.ClobBatchSize < 1 {
		return fmt.Errorf("api.clob_batch_size must be at least 1")
	}
	if side := c.API.ClobPriceSide; side != "BUY" && side != "SELL" {
		return fmt.Errorf("api.clob_price_side must be BUY or SELL")
	}

	if c.Filters.Probability.Min > c.Filters.Probability.Max {
		return fmt.Errorf("filters.probability.min must not exceed max")
	}
	if c.Filters.TimeToResolution.MinDays > c.Filters.TimeToResolution.MaxDays {
		return fmt.Errorf("filters.time_to_resolution.min_days must not exceed max_days")
	}
	if c.Filters.Liquidity.MinUSD < 0 {
		return fmt.Errorf("filters.liquidity.min_usd must not be negative")
	}
	if c.Filters.Volume.MinUSD < 0 {
		return fmt.Errorf("filters.volume.min_usd must not be negative")
	}

	if c.Alerts.PriceSpike.LookbackMinutes <= 0 {
		return fmt.Errorf("alerts.price_spike.lookback_minutes must be positive")
	}
	if c.Alerts.VolumeSpike.LookbackMinutes < 1 {
		return fmt.Errorf("alerts.volume_spike.lookback_minutes must be at least 1")
	}
	if c.Alerts.VolumeSpike.BaselineDays < 1 {
		return fmt.Errorf("alerts.volume_spike.baseline_days must be at least 1")
	}
	if c.Alerts.WhaleTrade.MinUSD < 0 {
		return fmt.Errorf("alerts.whale_trade.min_usd must not be negative")
	}
	if c.Alerts.InsiderDetection.NewWalletAgeHours <= 0 {
		return fmt.Errorf("alerts.insider_detection.new_wallet_age_hours must be positive")
	}

	if c.WalletTracking.RetentionDays < 1 {
		return fmt.Errorf("wallet_tracking.retention_days must be at least 1")
	}
	if c.WalletTracking.MaxWallets < 1 {
		return fmt.Errorf("wallet_tracking.max_wallets must be at least 1")
	}

	if c.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if c.State.MaxProcessedTrades < 1 {
		return fmt.Errorf("state.max_processed_trades must be at least 1")
	}

	if c.Telegram.Enabled {
		if c.Telegram.Token == "" {
			return fmt.Errorf("telegram.token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.Output.Enabled && c.Output.Path == "" {
		return fmt.Errorf("output.path is required when output is enabled")
	}
	if c.History.Enabled {
		if c.History.DBPath == "" {
			return fmt.Errorf("history.db_path is required when history is enabled")
		}
		if c.History.MaxAlerts < 1 {
			return fmt.Errorf("history.max_alerts must be at least 1")
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
