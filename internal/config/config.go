// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config carries every knob the keeper recognizes. All collaborators receive
// it (or a slice of it) explicitly through their constructors; nothing reads
// the environment after LoadConfig returns.
type Config struct {
	RPCURL      string `mapstructure:"rpc_url"`
	WalletPath  string `mapstructure:"wallet_path"`
	PoolAddress string `mapstructure:"pool_address"`

	MonitorIntervalSec int     `mapstructure:"monitor_interval_s"`
	RecenterThreshold  float64 `mapstructure:"recenter_threshold"`

	PositionWidth  int    `mapstructure:"position_width"`
	InitialAmountX uint64 `mapstructure:"initial_amount_x"`
	InitialAmountY uint64 `mapstructure:"initial_amount_y"`
	TokenXDecimals uint8  `mapstructure:"token_x_decimals"`
	TokenYDecimals uint8  `mapstructure:"token_y_decimals"`
	DLMMProgramID  string `mapstructure:"dlmm_program_id"`

	QuoteAPIURL string `mapstructure:"quote_api_url"`
	// QuoteAPIKey is only ever taken from DLMM_BOT_QUOTE_API_KEY; secrets
	// stay out of the config file.
	QuoteAPIKey            string  `mapstructure:"-"`
	SlippageBps            uint16  `mapstructure:"slippage_bps"`
	MaxPriceImpactPct      float64 `mapstructure:"max_price_impact_pct"`
	PriorityLevel          string  `mapstructure:"priority_level"`
	PriorityFeeMaxLamports uint64  `mapstructure:"priority_fee_max_lamports"`

	BundleRelayURL     string `mapstructure:"bundle_relay_url"`
	BundlePriority     string `mapstructure:"bundle_priority"`
	BundleTimeoutMs    int    `mapstructure:"bundle_timeout_ms"`
	DefaultTipLamports uint64 `mapstructure:"default_tip_lamports"`

	PriceAPIURL string `mapstructure:"price_api_url"`

	MaxRetries         int    `mapstructure:"max_retries"`
	RetryOnChainErrors bool   `mapstructure:"retry_onchain_errors"`
	SkipPreflight      bool   `mapstructure:"skip_preflight"`
	DebugLogging       bool   `mapstructure:"debug_logging"`
	LogFile            string `mapstructure:"log_file"`
	MetricsListenAddr  string `mapstructure:"metrics_listen_addr"`
	ShutdownTimeoutSec int    `mapstructure:"shutdown_timeout_s"`
}

const (
	DefaultMonitorIntervalSec = 10
	DefaultRecenterThreshold  = 0.45
	DefaultSlippageBps        = 50
	DefaultMaxPriceImpactPct  = 0.5
	DefaultBundleTimeoutMs    = 30000
	DefaultTipLamports        = 10_000
	DefaultMaxRetries         = 3
	DefaultShutdownTimeoutSec = 30

	DefaultQuoteAPIURL    = "https://api.jup.ag/swap/v1"
	DefaultPriceAPIURL    = "https://api.jup.ag/price/v2"
	DefaultBundleRelayURL = "https://mainnet.block-engine.jito.wtf"
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"monitor_interval_s":   DefaultMonitorIntervalSec,
		"recenter_threshold":   DefaultRecenterThreshold,
		"slippage_bps":         DefaultSlippageBps,
		"max_price_impact_pct": DefaultMaxPriceImpactPct,
		"priority_level":       "high",
		"bundle_priority":      "medium",
		"bundle_timeout_ms":    DefaultBundleTimeoutMs,
		"default_tip_lamports": DefaultTipLamports,
		"max_retries":          DefaultMaxRetries,
		"retry_onchain_errors": true,
		"position_width":       21,
		"token_x_decimals":     9,
		"token_y_decimals":     6,
		"quote_api_url":        DefaultQuoteAPIURL,
		"price_api_url":        DefaultPriceAPIURL,
		"bundle_relay_url":     DefaultBundleRelayURL,
		"log_file":             "logs/keeper.log",
		"shutdown_timeout_s":   DefaultShutdownTimeoutSec,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}

	return &cfg, validateConfig(&cfg)
}

// MonitorInterval returns the tick period of the position monitor.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalSec) * time.Second
}

// BundleTimeout returns the wall-clock ceiling for bundle confirmation.
func (c *Config) BundleTimeout() time.Duration {
	return time.Duration(c.BundleTimeoutMs) * time.Millisecond
}

// ShutdownTimeout returns the graceful shutdown window.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSec) * time.Second
}

func validateConfig(cfg *Config) error {
	if cfg.RPCURL == "" {
		return errors.New("rpc_url is required")
	}
	if err := validateURL(cfg.RPCURL, "http"); err != nil {
		return errors.New("invalid RPC URL protocol")
	}
	if cfg.WalletPath == "" {
		return errors.New("wallet_path is required")
	}
	if cfg.PoolAddress == "" {
		return errors.New("pool_address is required")
	}
	for _, u := range []string{cfg.QuoteAPIURL, cfg.PriceAPIURL, cfg.BundleRelayURL} {
		if err := validateURL(u, "http"); err != nil {
			return errors.New("invalid API URL protocol")
		}
	}
	switch cfg.PriorityLevel {
	case "medium", "high", "veryHigh":
	default:
		return errors.New("priority_level must be one of medium, high, veryHigh")
	}
	switch cfg.BundlePriority {
	case "low", "medium", "high", "max":
	default:
		return errors.New("bundle_priority must be one of low, medium, high, max")
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.MonitorIntervalSec <= 0 {
		return errors.New("invalid monitor_interval_s")
	}
	if cfg.RecenterThreshold <= 0 || cfg.RecenterThreshold >= 1 {
		return errors.New("recenter_threshold must be in (0, 1)")
	}
	if cfg.MaxPriceImpactPct <= 0 {
		return errors.New("invalid max_price_impact_pct")
	}
	if cfg.BundleTimeoutMs <= 0 {
		return errors.New("invalid bundle_timeout_ms")
	}
	if cfg.MaxRetries < 1 {
		return errors.New("invalid max_retries")
	}
	if cfg.PositionWidth < 1 || cfg.PositionWidth > 70 {
		return errors.New("position_width must be in [1, 70]")
	}
	return nil
}

func validateURL(rawURL string, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	v.AutomaticEnv()
	v.SetEnvPrefix("DLMM_BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if envRPC := v.GetString("RPC_URL"); envRPC != "" {
		cfg.RPCURL = strings.TrimSpace(envRPC)
	}
	if envWallet := v.GetString("WALLET_PATH"); envWallet != "" {
		cfg.WalletPath = strings.TrimSpace(envWallet)
	}
	if envPool := v.GetString("POOL_ADDRESS"); envPool != "" {
		cfg.PoolAddress = strings.TrimSpace(envPool)
	}
	// Read directly rather than through viper so a quote_api_key entry in
	// the config file can never supply the secret.
	if envKey := os.Getenv("DLMM_BOT_QUOTE_API_KEY"); envKey != "" {
		cfg.QuoteAPIKey = strings.TrimSpace(envKey)
	}
	return nil
}
