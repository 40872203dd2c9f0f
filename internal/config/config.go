// Package config provides configuration management for the trend trader.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	apperrors "trend-trader/internal/errors"
	"trend-trader/internal/models"
)

// Config holds all application configuration.
type Config struct {
	Session    SessionConfig    `mapstructure:"session" yaml:"session"`
	Instrument InstrumentConfig `mapstructure:"instrument" yaml:"instrument"`
	Strategy   StrategyConfig   `mapstructure:"strategy" yaml:"strategy"`
	Gateway    GatewayConfig    `mapstructure:"gateway" yaml:"gateway"`
	Feed       FeedConfig       `mapstructure:"feed" yaml:"feed"`
	Store      StoreConfig      `mapstructure:"store" yaml:"store"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

// SessionConfig holds the injected session identity.
type SessionConfig struct {
	ID       string `mapstructure:"id" yaml:"id"`
	ClientID int    `mapstructure:"client_id" yaml:"client_id"`
	Account  string `mapstructure:"account" yaml:"account"`
	Mode     string `mapstructure:"mode" yaml:"mode"` // "paper", "live"
}

// InstrumentConfig identifies the traded contract.
type InstrumentConfig struct {
	Symbol       string  `mapstructure:"symbol" yaml:"symbol"`
	Exchange     string  `mapstructure:"exchange" yaml:"exchange"`
	ContractType string  `mapstructure:"contract_type" yaml:"contract_type"` // FUT, STK, IND
	Expiry       string  `mapstructure:"expiry" yaml:"expiry"`               // YYYYMM or "front"
	TickSize     float64 `mapstructure:"tick_size" yaml:"tick_size"`
	Currency     string  `mapstructure:"currency" yaml:"currency"`
}

// FlankMode selects which protective orders flank an entry.
type FlankMode string

const (
	FlankBracket         FlankMode = "bracket"
	FlankTrailing        FlankMode = "trailing"
	FlankBracketTrailing FlankMode = "bracket_trailing"
)

// TrailType selects how trailing offsets are interpreted.
type TrailType string

const (
	TrailAmount  TrailType = "amount"
	TrailPercent TrailType = "percent"
)

// StrategyConfig holds the execution state machine parameters.
type StrategyConfig struct {
	FastWindow       int           `mapstructure:"fast_window" yaml:"fast_window"`
	SlowWindow       int           `mapstructure:"slow_window" yaml:"slow_window"`
	BaseOrderSize    int           `mapstructure:"base_order_size" yaml:"base_order_size"`
	ProfitOffset     float64       `mapstructure:"profit_offset" yaml:"profit_offset"`
	StopOffset       float64       `mapstructure:"stop_offset" yaml:"stop_offset"`
	FlankMode        FlankMode     `mapstructure:"flank_mode" yaml:"flank_mode"`
	LinkedFlanks     bool          `mapstructure:"linked_flanks" yaml:"linked_flanks"`
	TrailType        TrailType     `mapstructure:"trail_type" yaml:"trail_type"`
	StalenessTimeout time.Duration `mapstructure:"staleness_timeout" yaml:"staleness_timeout"`
	PriceSource      string        `mapstructure:"price_source" yaml:"price_source"`
}

// GatewayConfig selects and configures the brokerage gateway.
type GatewayConfig struct {
	Kind            string        `mapstructure:"kind" yaml:"kind"` // "paper", "kite"
	BreakerFailures int           `mapstructure:"breaker_failures" yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout" yaml:"breaker_timeout"`
	CallTimeout     time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
	Paper           PaperConfig   `mapstructure:"paper" yaml:"paper"`
	Kite            KiteConfig    `mapstructure:"kite" yaml:"kite"`
	Bridge          BridgeConfig  `mapstructure:"bridge" yaml:"bridge"`
}

// PaperConfig configures the simulated gateway.
type PaperConfig struct {
	InitialPosition int `mapstructure:"initial_position" yaml:"initial_position"`
}

// KiteConfig holds Kite Connect credentials and order defaults.
type KiteConfig struct {
	APIKey       string        `mapstructure:"api_key" yaml:"-" json:"-"`
	AccessToken  string        `mapstructure:"access_token" yaml:"-" json:"-"`
	Product      string        `mapstructure:"product" yaml:"product"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// BridgeConfig describes the workstation connection profile of an external
// TWS/IB Gateway bridge.
type BridgeConfig struct {
	Host           string `mapstructure:"host" yaml:"host"`
	Platform       string `mapstructure:"platform" yaml:"platform"`               // "tws", "gateway"
	ConnectionType string `mapstructure:"connection_type" yaml:"connection_type"` // "paper", "live"
}

var bridgePorts = map[string]map[string]int{
	"tws":     {"paper": 7497, "live": 7496},
	"gateway": {"paper": 4002, "live": 4001},
}

// Port returns the well-known port for the bridge profile.
func (b BridgeConfig) Port() (int, error) {
	byType, ok := bridgePorts[b.Platform]
	if !ok {
		return 0, fmt.Errorf("unknown platform %q", b.Platform)
	}
	port, ok := byType[b.ConnectionType]
	if !ok {
		return 0, fmt.Errorf("unknown connection type %q", b.ConnectionType)
	}
	return port, nil
}

// FeedConfig selects the market data feed.
type FeedConfig struct {
	Kind            string        `mapstructure:"kind" yaml:"kind"` // "replay", "websocket", "kite"
	ReplayFile      string        `mapstructure:"replay_file" yaml:"replay_file"`
	WebsocketURL    string        `mapstructure:"websocket_url" yaml:"websocket_url"`
	InstrumentToken uint32        `mapstructure:"instrument_token" yaml:"instrument_token"`
	BarInterval     time.Duration `mapstructure:"bar_interval" yaml:"bar_interval"`
	MaxGap          time.Duration `mapstructure:"max_gap" yaml:"max_gap"`
}

// StoreConfig configures the sqlite journal.
type StoreConfig struct {
	Path        string `mapstructure:"path" yaml:"path"`
	SeedHistory bool   `mapstructure:"seed_history" yaml:"seed_history"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level    string `mapstructure:"level" yaml:"level"`
	Console  bool   `mapstructure:"console" yaml:"console"`
	File     bool   `mapstructure:"file" yaml:"file"`
	FilePath string `mapstructure:"file_path" yaml:"file_path"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/trend-trader"
	}
	return filepath.Join(home, ".config", "trend-trader")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := newViper(configDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, fmt.Errorf("writing config template: %w", err)
		}
	}

	credPath := filepath.Join(configDir, "credentials.toml")
	if exists(credPath) {
		v.SetConfigFile(credPath)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("loading credentials.toml: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.assignSessionID()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration produced by the defaults alone.
func Default() *Config {
	v := newViper("")
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func newViper(configDir string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	if configDir != "" {
		v.AddConfigPath(configDir)
	}

	v.SetDefault("session.client_id", 1)
	v.SetDefault("session.mode", "paper")

	v.SetDefault("instrument.symbol", "MES")
	v.SetDefault("instrument.exchange", "GLOBEX")
	v.SetDefault("instrument.contract_type", "FUT")
	v.SetDefault("instrument.expiry", models.ExpiryFrontMonth)
	v.SetDefault("instrument.tick_size", 0.25)
	v.SetDefault("instrument.currency", "USD")

	v.SetDefault("strategy.fast_window", 9)
	v.SetDefault("strategy.slow_window", 21)
	v.SetDefault("strategy.base_order_size", 1)
	v.SetDefault("strategy.profit_offset", 1.0)
	v.SetDefault("strategy.stop_offset", 2.0)
	v.SetDefault("strategy.flank_mode", string(FlankBracket))
	v.SetDefault("strategy.linked_flanks", true)
	v.SetDefault("strategy.trail_type", string(TrailAmount))
	v.SetDefault("strategy.staleness_timeout", "30s")
	v.SetDefault("strategy.price_source", "close")

	v.SetDefault("gateway.kind", "paper")
	v.SetDefault("gateway.breaker_failures", 3)
	v.SetDefault("gateway.breaker_timeout", "30s")
	v.SetDefault("gateway.call_timeout", "10s")
	v.SetDefault("gateway.kite.product", "NRML")
	v.SetDefault("gateway.kite.poll_interval", "2s")
	v.SetDefault("gateway.bridge.host", "127.0.0.1")
	v.SetDefault("gateway.bridge.platform", "tws")
	v.SetDefault("gateway.bridge.connection_type", "paper")

	v.SetDefault("feed.kind", "replay")
	v.SetDefault("feed.bar_interval", "5s")
	v.SetDefault("feed.max_gap", "60s")

	v.SetDefault("store.path", filepath.Join(DefaultConfigDir(), "trader.db"))
	v.SetDefault("store.seed_history", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", filepath.Join(DefaultConfigDir(), "logs", "trader.log"))

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9108")
	return v
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TREND_TRADER_KITE_API_KEY"); v != "" {
		cfg.Gateway.Kite.APIKey = v
	}
	if v := os.Getenv("TREND_TRADER_KITE_ACCESS_TOKEN"); v != "" {
		cfg.Gateway.Kite.AccessToken = v
	}
	if v := os.Getenv("TREND_TRADER_SESSION_ID"); v != "" {
		cfg.Session.ID = v
	}
	if v := os.Getenv("TREND_TRADER_MODE"); v != "" {
		cfg.Session.Mode = v
	}
}

// assignSessionID generates the session identity once, at load time, when
// none was configured.
func (c *Config) assignSessionID() {
	if c.Session.ID == "" {
		c.Session.ID = uuid.NewString()
	}
}

// InstrumentAt returns the configured instrument with the expiry resolved at now.
func (c *Config) InstrumentAt(now time.Time) models.Instrument {
	return models.Instrument{
		Symbol:       strings.ToUpper(c.Instrument.Symbol),
		Exchange:     strings.ToUpper(c.Instrument.Exchange),
		ContractType: models.ContractType(strings.ToUpper(c.Instrument.ContractType)),
		Expiry:       c.Instrument.Expiry,
		TickSize:     c.Instrument.TickSize,
		Currency:     c.Instrument.Currency,
	}.ResolveExpiry(now)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Session.Mode != "" && c.Session.Mode != "live" && c.Session.Mode != "paper" {
		return apperrors.NewValidationError("session.mode", c.Session.Mode, "must be 'live' or 'paper'")
	}

	if err := c.InstrumentAt(time.Now()).Validate(); err != nil {
		return err
	}

	if err := c.Strategy.Validate(); err != nil {
		return err
	}

	switch c.Gateway.Kind {
	case "paper":
	case "kite":
		if c.Gateway.Kite.APIKey == "" || c.Gateway.Kite.AccessToken == "" {
			return apperrors.NewValidationError("gateway.kite", "", "api_key and access_token are required")
		}
		if c.Strategy.LinkedFlanks {
			return apperrors.NewValidationError("strategy.linked_flanks", true, "kite does not accept attached orders")
		}
	default:
		return apperrors.NewValidationError("gateway.kind", c.Gateway.Kind, "must be 'paper' or 'kite'")
	}
	if c.Gateway.BreakerFailures < 1 {
		return apperrors.NewValidationError("gateway.breaker_failures", c.Gateway.BreakerFailures, "must be at least 1")
	}

	switch c.Feed.Kind {
	case "replay", "websocket", "kite":
	default:
		return apperrors.NewValidationError("feed.kind", c.Feed.Kind, "must be 'replay', 'websocket' or 'kite'")
	}
	if c.Feed.BarInterval <= 0 {
		return apperrors.NewValidationError("feed.bar_interval", c.Feed.BarInterval, "must be positive")
	}

	return nil
}

// Validate checks the strategy parameters.
func (s StrategyConfig) Validate() error {
	if s.FastWindow <= 0 {
		return apperrors.NewValidationError("strategy.fast_window", s.FastWindow, "must be positive")
	}
	if s.SlowWindow <= 0 {
		return apperrors.NewValidationError("strategy.slow_window", s.SlowWindow, "must be positive")
	}
	if s.BaseOrderSize <= 0 {
		return apperrors.NewValidationError("strategy.base_order_size", s.BaseOrderSize, "must be positive")
	}
	if s.StopOffset <= 0 {
		return apperrors.NewValidationError("strategy.stop_offset", s.StopOffset, "must be positive")
	}
	if s.ProfitOffset < 0 {
		return apperrors.NewValidationError("strategy.profit_offset", s.ProfitOffset, "must be non-negative")
	}
	if s.StalenessTimeout <= 0 {
		return apperrors.NewValidationError("strategy.staleness_timeout", s.StalenessTimeout, "must be positive")
	}
	switch s.FlankMode {
	case FlankBracket, FlankBracketTrailing:
		if s.ProfitOffset <= 0 {
			return apperrors.NewValidationError("strategy.profit_offset", s.ProfitOffset, "required by flank mode "+string(s.FlankMode))
		}
	case FlankTrailing:
	default:
		return apperrors.NewValidationError("strategy.flank_mode", s.FlankMode, "must be bracket, trailing or bracket_trailing")
	}
	switch s.TrailType {
	case TrailAmount, TrailPercent, "":
	default:
		return apperrors.NewValidationError("strategy.trail_type", s.TrailType, "must be 'amount' or 'percent'")
	}
	if _, err := models.ParsePriceSource(s.PriceSource); err != nil {
		return apperrors.NewValidationError("strategy.price_source", s.PriceSource, err.Error())
	}
	return nil
}

// PriceSourceField returns the parsed price source.
func (s StrategyConfig) PriceSourceField() models.PriceSource {
	src, err := models.ParsePriceSource(s.PriceSource)
	if err != nil {
		return models.PriceClose
	}
	return src
}

// IsPaperMode returns true if paper trading mode is enabled.
func (c *Config) IsPaperMode() bool {
	return c.Session.Mode == "paper"
}
