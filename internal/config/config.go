// Package config defines all configuration for the trading engine core.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// fields overridable via TRADE_* environment variables.
//
// Money-valued limits are configured as decimal strings ("0.5", not 0.5)
// so they never pass through binary floating point on their way into the
// risk gate.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"tradecore/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	Engine        EngineConfig       `mapstructure:"engine"`
	Risk          RiskConfig         `mapstructure:"risk"`
	Sync          SyncConfig         `mapstructure:"sync"`
	Subscriptions SubscriptionConfig `mapstructure:"subscriptions"`
	Rules         RulesConfig        `mapstructure:"rules"`
	Store         StoreConfig        `mapstructure:"store"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// EngineConfig tunes the dispatch loop and the performance writer.
type EngineConfig struct {
	QueueSize           int           `mapstructure:"queue_size"`           // inbound event buffer
	PerformanceDebounce time.Duration `mapstructure:"performance_debounce"` // per-strategy write collapse window
}

// RiskConfig sets the hard limits checked before every order. Decimal
// fields are strings; empty string disables that limit.
type RiskConfig struct {
	MaxPositionSize  string `mapstructure:"max_position_size"`
	MaxDailyLoss     string `mapstructure:"max_daily_loss"`
	MaxDrawdown      string `mapstructure:"max_drawdown"`
	MaxOpenPositions int    `mapstructure:"max_open_positions"`
	MaxLeverage      int    `mapstructure:"max_leverage"`
}

// Limits parses the decimal fields into the risk gate's limit set.
func (c RiskConfig) Limits() (types.RiskLimits, error) {
	limits := types.RiskLimits{
		MaxOpenPositions: c.MaxOpenPositions,
		MaxLeverage:      c.MaxLeverage,
	}
	var err error
	if limits.MaxPositionSize, err = parseDecimal(c.MaxPositionSize, "risk.max_position_size"); err != nil {
		return limits, err
	}
	if limits.MaxDailyLoss, err = parseDecimal(c.MaxDailyLoss, "risk.max_daily_loss"); err != nil {
		return limits, err
	}
	if limits.MaxDrawdown, err = parseDecimal(c.MaxDrawdown, "risk.max_drawdown"); err != nil {
		return limits, err
	}
	return limits, nil
}

// SyncConfig controls order reconciliation.
type SyncConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	BatchSize       int           `mapstructure:"batch_size"`
	MaxErrorRecords int           `mapstructure:"max_error_records"`
}

// SubscriptionConfig overrides the default polling cadences per data type.
type SubscriptionConfig struct {
	TickerPoll    time.Duration `mapstructure:"ticker_poll"`
	OrderBookPoll time.Duration `mapstructure:"orderbook_poll"`
	TradesPoll    time.Duration `mapstructure:"trades_poll"`
	KlinesPoll    time.Duration `mapstructure:"klines_poll"`
}

// RulesConfig controls the symbol-info cache.
type RulesConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// StoreConfig sets where the file-backed data manager persists state.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with TRADE_* env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TRADE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("engine.queue_size", 1024)
	v.SetDefault("engine.performance_debounce", "2s")
	v.SetDefault("sync.interval", "5s")
	v.SetDefault("sync.batch_size", 5)
	v.SetDefault("sync.max_error_records", 50)
	v.SetDefault("subscriptions.ticker_poll", "5s")
	v.SetDefault("subscriptions.orderbook_poll", "500ms")
	v.SetDefault("subscriptions.trades_poll", "5s")
	v.SetDefault("subscriptions.klines_poll", "60s")
	v.SetDefault("rules.ttl", "30m")
	v.SetDefault("store.data_dir", "data")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Engine.QueueSize <= 0 {
		return fmt.Errorf("engine.queue_size must be > 0")
	}
	if c.Engine.PerformanceDebounce < 0 {
		return fmt.Errorf("engine.performance_debounce must be >= 0")
	}
	if c.Sync.Interval < time.Second {
		return fmt.Errorf("sync.interval must be >= 1s")
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be > 0")
	}
	if c.Rules.TTL <= 0 {
		return fmt.Errorf("rules.ttl must be > 0")
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	if _, err := c.Risk.Limits(); err != nil {
		return err
	}
	return nil
}

func parseDecimal(s, field string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
