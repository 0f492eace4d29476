// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/rovshanmuradov/solana-sniper/internal/strategy"
)

// Platform selects which launchpads the entry bridge accepts.
type Platform string

const (
	PlatformPumpFun  Platform = "pumpfun"
	PlatformLetsBonk Platform = "letsbonk"
	PlatformBoth     Platform = "both"
)

const envPrefix = "SNIPER"

// Config holds application settings loaded from config.json and the environment.
type Config struct {
	PrivateKey string   `mapstructure:"private_key"`
	RPCList    []string `mapstructure:"rpc_list"`
	FeedURL    string   `mapstructure:"feed_url"`
	TradeURL   string   `mapstructure:"trade_url"`
	Platform   Platform `mapstructure:"platform"`

	// Entry
	BuyAmount            float64  `mapstructure:"buy_amount"`
	Slippage             float64  `mapstructure:"slippage"`
	PriorityFee          float64  `mapstructure:"priority_fee"`
	Pool                 string   `mapstructure:"pool"`
	MinMarketCap         float64  `mapstructure:"min_market_cap"`
	SolUSDPrice          float64  `mapstructure:"sol_usd_price"`
	KeywordFilterEnabled bool     `mapstructure:"keyword_filter_enabled"`
	Keywords             []string `mapstructure:"keywords"`
	SeenCapacity         int      `mapstructure:"seen_capacity"`

	// Exit strategy
	PartialSellTarget      float64 `mapstructure:"partial_sell_target"`
	PartialSellPercent     float64 `mapstructure:"partial_sell_percent"`
	TrailingStopMultiplier float64 `mapstructure:"trailing_stop_multiplier"`
	StopLoss               float64 `mapstructure:"stop_loss"`
	TrailingRatchetFactor  float64 `mapstructure:"trailing_ratchet_factor"`
	RatchetPeakGate        float64 `mapstructure:"ratchet_peak_gate"`

	// Timing
	MonitorInterval   time.Duration `mapstructure:"-"`
	MonitorIntervalMS int           `mapstructure:"monitor_interval_ms"`
	FirstCheckDelay   time.Duration `mapstructure:"-"`
	FirstCheckDelayMS int           `mapstructure:"first_check_delay_ms"`
	PriceTimeout      time.Duration `mapstructure:"-"`
	PriceTimeoutMS    int           `mapstructure:"price_timeout_ms"`
	TradeTimeout      time.Duration `mapstructure:"-"`
	TradeTimeoutMS    int           `mapstructure:"trade_timeout_ms"`
	MonitorWorkers    int           `mapstructure:"monitor_workers"`
	PriceRPS          float64       `mapstructure:"price_rps"`

	// Outputs
	TradeHistoryDir string `mapstructure:"trade_history_dir"`
	WebhookURL      string `mapstructure:"webhook_url"`
	MetricsAddr     string `mapstructure:"metrics_addr"`
	DebugLogging    bool   `mapstructure:"debug_logging"`
	LogFile         string `mapstructure:"log_file"`
}

const (
	DefaultFeedURL            = "wss://pumpportal.fun/api/data"
	DefaultTradeURL           = "https://pumpportal.fun/api/trade-local"
	DefaultSlippage           = 15
	DefaultPriorityFee        = 0.005
	DefaultPool               = "pump"
	DefaultSolUSDPrice        = 200
	DefaultSeenCapacity       = 500
	DefaultMonitorIntervalMS  = 10000
	DefaultFirstCheckDelayMS  = 5000
	DefaultPriceTimeoutMS     = 10000
	DefaultTradeTimeoutMS     = 60000
	DefaultMonitorWorkers     = 8
	DefaultPriceRPS           = 5
	DefaultTradeHistoryDir    = "logs"
	DefaultLogFile            = "logs/sniper.log"
	DefaultPartialSellTarget  = 6.0
	DefaultPartialSellPercent = 66
	DefaultTrailingStop       = 2.0
	DefaultStopLoss           = 50
	DefaultRatchetFactor      = 0.5
	DefaultRatchetPeakGate    = 0.9
)

// LoadConfig reads configuration from the given file path, applies environment
// overrides and validates the result. An empty path loads from the environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	defaults := map[string]interface{}{
		"feed_url":                 DefaultFeedURL,
		"trade_url":                DefaultTradeURL,
		"platform":                 string(PlatformPumpFun),
		"slippage":                 DefaultSlippage,
		"priority_fee":             DefaultPriorityFee,
		"pool":                     DefaultPool,
		"sol_usd_price":            DefaultSolUSDPrice,
		"seen_capacity":            DefaultSeenCapacity,
		"partial_sell_target":      DefaultPartialSellTarget,
		"partial_sell_percent":     DefaultPartialSellPercent,
		"trailing_stop_multiplier": DefaultTrailingStop,
		"stop_loss":                DefaultStopLoss,
		"trailing_ratchet_factor":  DefaultRatchetFactor,
		"ratchet_peak_gate":        DefaultRatchetPeakGate,
		"monitor_interval_ms":      DefaultMonitorIntervalMS,
		"first_check_delay_ms":     DefaultFirstCheckDelayMS,
		"price_timeout_ms":         DefaultPriceTimeoutMS,
		"trade_timeout_ms":         DefaultTradeTimeoutMS,
		"monitor_workers":          DefaultMonitorWorkers,
		"price_rps":                DefaultPriceRPS,
		"trade_history_dir":        DefaultTradeHistoryDir,
		"log_file":                 DefaultLogFile,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{
		"private_key", "rpc_list", "buy_amount", "min_market_cap", "keyword_filter_enabled",
		"keywords", "webhook_url", "metrics_addr", "debug_logging",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config error: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal error: %w", err)
	}

	// Comma separated lists arrive as a single string from the environment.
	cfg.RPCList = splitList(cfg.RPCList)
	cfg.Keywords = splitList(cfg.Keywords)

	cfg.MonitorInterval = time.Duration(cfg.MonitorIntervalMS) * time.Millisecond
	cfg.FirstCheckDelay = time.Duration(cfg.FirstCheckDelayMS) * time.Millisecond
	cfg.PriceTimeout = time.Duration(cfg.PriceTimeoutMS) * time.Millisecond
	cfg.TradeTimeout = time.Duration(cfg.TradeTimeoutMS) * time.Millisecond

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate checks required fields. It never patches missing values.
func (c *Config) validate() error {
	if c.PrivateKey == "" {
		return errors.New("private_key is required")
	}
	if len(c.RPCList) == 0 {
		return errors.New("rpc_list must contain at least one RPC endpoint")
	}
	for _, rpcURL := range c.RPCList {
		if err := validateURLWithCache(rpcURL, "http"); err != nil {
			return fmt.Errorf("invalid rpc endpoint %q: %w", rpcURL, err)
		}
	}
	if err := validateURLWithCache(c.FeedURL, "ws"); err != nil {
		return fmt.Errorf("invalid feed_url: %w", err)
	}
	if err := validateURLWithCache(c.TradeURL, "http"); err != nil {
		return fmt.Errorf("invalid trade_url: %w", err)
	}
	if c.WebhookURL != "" {
		if err := validateURLWithCache(c.WebhookURL, "https"); err != nil {
			return errors.New("webhook URL must use HTTPS")
		}
	}
	switch c.Platform {
	case PlatformPumpFun, PlatformLetsBonk, PlatformBoth:
	default:
		return fmt.Errorf("invalid platform %q", c.Platform)
	}
	if err := validateNumericParams(c); err != nil {
		return err
	}
	if _, err := c.ExitStrategy(); err != nil {
		return err
	}
	return nil
}

func validateNumericParams(c *Config) error {
	if c.BuyAmount <= 0 {
		return errors.New("buy_amount must be positive")
	}
	if c.Slippage < 0 || c.Slippage > 100 {
		return errors.New("invalid slippage")
	}
	if c.PriorityFee < 0 {
		return errors.New("invalid priority_fee")
	}
	if c.MinMarketCap < 0 {
		return errors.New("invalid min_market_cap")
	}
	if c.SolUSDPrice <= 0 {
		return errors.New("invalid sol_usd_price")
	}
	if c.SeenCapacity <= 0 {
		return errors.New("invalid seen_capacity")
	}
	if c.MonitorInterval <= 0 {
		return errors.New("invalid monitor_interval_ms")
	}
	if c.FirstCheckDelay < 0 {
		return errors.New("invalid first_check_delay_ms")
	}
	if c.PriceTimeout <= 0 {
		return errors.New("invalid price_timeout_ms")
	}
	if c.TradeTimeout <= 0 {
		return errors.New("invalid trade_timeout_ms")
	}
	if c.MonitorWorkers <= 0 {
		return errors.New("invalid monitor_workers")
	}
	if c.PriceRPS <= 0 {
		return errors.New("invalid price_rps")
	}
	return nil
}

// ExitStrategy converts the exit settings into the engine's configuration.
// stop_loss is a drawdown percent, so 50 becomes a fraction of 0.5.
func (c *Config) ExitStrategy() (strategy.Config, error) {
	sc := strategy.Config{
		PartialSellTarget:  decimal.NewFromFloat(c.PartialSellTarget),
		PartialSellPercent: decimal.NewFromFloat(c.PartialSellPercent),
		TrailingStopBase:   decimal.NewFromFloat(c.TrailingStopMultiplier),
		StopLossFraction:   decimal.NewFromFloat(c.StopLoss).Div(decimal.NewFromInt(100)),
		RatchetFactor:      decimal.NewFromFloat(c.TrailingRatchetFactor),
		RatchetPeakGate:    decimal.NewFromFloat(c.RatchetPeakGate),
	}
	if err := sc.Validate(); err != nil {
		return strategy.Config{}, fmt.Errorf("invalid exit strategy: %w", err)
	}
	return sc, nil
}

// AcceptsPlatform reports whether tokens from the given launchpad should be traded.
func (c *Config) AcceptsPlatform(p string) bool {
	return c.Platform == PlatformBoth || string(c.Platform) == p
}

// MaskedRPC hides query strings, where providers put API keys, for logging.
func MaskedRPC(rpcURL string) string {
	parsed, err := url.Parse(rpcURL)
	if err != nil || parsed.RawQuery == "" {
		return rpcURL
	}
	parsed.RawQuery = "***"
	return parsed.String()
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	if _, ok := urlCache.Load(rawURL + "|" + protocol); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	urlCache.Store(rawURL+"|"+protocol, parsed)
	return nil
}

func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if clean := strings.TrimSpace(part); clean != "" {
				out = append(out, clean)
			}
		}
	}
	return out
}
