// Package config defines the top-level configuration for the copy-trading bot
// and provides validation helpers.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by COPYBOT_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Polygon    PolygonConfig    `toml:"polygon"`
	Redis      RedisConfig      `toml:"redis"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Copy       CopyConfig       `toml:"copy"`
	Risk       RiskConfig       `toml:"risk"`
	Executor   ExecutorConfig   `toml:"executor"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds the controlled account's signing credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	ProxyAddress     string `toml:"proxy_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost string `toml:"clob_host"`
	DataHost string `toml:"data_host"`
	WsHost   string `toml:"ws_host"`
	ChainID  int    `toml:"chain_id"`
}

// PolygonConfig holds the JSON-RPC endpoint used for balance lookups.
type PolygonConfig struct {
	RPCURL       string `toml:"rpc_url"`
	USDCContract string `toml:"usdc_contract"`
}

// RedisConfig holds Redis connection parameters. An empty Addr disables Redis
// and the bot falls back to in-memory deduplication.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	DedupTTL   duration `toml:"dedup_ttl"`
	BalanceTTL duration `toml:"balance_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters for the ledger
// checkpoint store.
type PostgresConfig struct {
	Enabled            bool     `toml:"enabled"`
	DSN                string   `toml:"dsn"`
	Host               string   `toml:"host"`
	Port               int      `toml:"port"`
	Database           string   `toml:"database"`
	User               string   `toml:"user"`
	Password           string   `toml:"password"`
	SSLMode            string   `toml:"ssl_mode"`
	PoolMaxConns       int      `toml:"pool_max_conns"`
	PoolMinConns       int      `toml:"pool_min_conns"`
	RunMigrations      bool     `toml:"run_migrations"`
	CheckpointInterval duration `toml:"checkpoint_interval"`
}

// CopyConfig holds the copy-sizing strategy and watched accounts.
type CopyConfig struct {
	UserAddresses []string `toml:"user_addresses"`
	Strategy      string   `toml:"copy_strategy"`
	CopySize      float64  `toml:"copy_size"`

	AdaptiveMinPercent   float64 `toml:"adaptive_min_percent"`
	AdaptiveMaxPercent   float64 `toml:"adaptive_max_percent"`
	AdaptiveThresholdUSD float64 `toml:"adaptive_threshold_usd"`

	TieredMultipliers string `toml:"tiered_multipliers"`

	TradeMultiplier float64 `toml:"trade_multiplier"`
	TooOldHours     float64 `toml:"too_old_hours"`
	Concurrency     int     `toml:"concurrency"`
}

// RiskConfig holds the per-order and aggregate exposure limits. A zero limit
// disables that check.
type RiskConfig struct {
	MaxOrderSizeUSD    float64 `toml:"max_order_size_usd"`
	MinOrderSizeUSD    float64 `toml:"min_order_size_usd"`
	MaxPositionSizeUSD float64 `toml:"max_position_size_usd"`
	MaxDailyVolumeUSD  float64 `toml:"max_daily_volume_usd"`
}

// ExecutorConfig holds order submission retry and timeout parameters.
type ExecutorConfig struct {
	NetworkRetryLimit int `toml:"network_retry_limit"`
	RetryBaseDelayMs  int `toml:"retry_base_delay_ms"`
	RequestTimeoutMs  int `toml:"request_timeout_ms"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost: "https://clob.polymarket.com",
			DataHost: "https://data-api.polymarket.com",
			WsHost:   "wss://ws-live-data.polymarket.com",
			ChainID:  137,
		},
		Polygon: PolygonConfig{
			RPCURL:       "https://polygon-rpc.com",
			USDCContract: "0x2791bca1f2de4661ed88a30c99a7a9449aa84174",
		},
		Redis: RedisConfig{
			Addr:       "",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
			DedupTTL:   duration{24 * time.Hour},
			BalanceTTL: duration{5 * time.Second},
		},
		Postgres: PostgresConfig{
			Enabled:            false,
			Host:               "localhost",
			Port:               5432,
			Database:           "copybot",
			User:               "postgres",
			SSLMode:            "disable",
			PoolMaxConns:       10,
			PoolMinConns:       2,
			RunMigrations:      true,
			CheckpointInterval: duration{30 * time.Second},
		},
		Copy: CopyConfig{
			Strategy:             "PERCENTAGE",
			CopySize:             10.0,
			AdaptiveMinPercent:   5.0,
			AdaptiveMaxPercent:   20.0,
			AdaptiveThresholdUSD: 500.0,
			TradeMultiplier:      1.0,
			TooOldHours:          1.0,
			Concurrency:          8,
		},
		Risk: RiskConfig{
			MaxOrderSizeUSD:    100.0,
			MinOrderSizeUSD:    1.0,
			MaxPositionSizeUSD: 500.0,
			MaxDailyVolumeUSD:  1000.0,
		},
		Executor: ExecutorConfig{
			NetworkRetryLimit: 3,
			RetryBaseDelayMs:  500,
			RequestTimeoutMs:  30_000,
		},
		Server: ServerConfig{
			Enabled: false,
			Port:    8000,
		},
		Notify: NotifyConfig{
			Events: []string{"order_filled", "order_failed", "risk_rejected", "error"},
		},
		Mode:     "copy",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"copy":    true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validStrategies enumerates the accepted values for copy.copy_strategy.
var validStrategies = map[string]bool{
	string(domain.StrategyPercentage): true,
	string(domain.StrategyFixed):      true,
	string(domain.StrategyAdaptive):   true,
	string(domain.StrategyTiered):     true,
}

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found. Watched addresses are
// lowercase-normalized in place.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: copy, monitor)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet is only needed when orders are actually placed.
	if strings.ToLower(c.Mode) == "copy" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode copy")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
		if c.Wallet.ProxyAddress != "" && !addressPattern.MatchString(c.Wallet.ProxyAddress) {
			errs = append(errs, fmt.Sprintf("wallet: proxy_address %q is not a valid Ethereum address", c.Wallet.ProxyAddress))
		}
	}

	// Endpoints
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.DataHost == "" {
		errs = append(errs, "polymarket: data_host must not be empty")
	}
	if c.Polymarket.WsHost == "" {
		errs = append(errs, "polymarket: ws_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polygon.RPCURL == "" {
		errs = append(errs, "polygon: rpc_url must not be empty")
	}
	if !addressPattern.MatchString(c.Polygon.USDCContract) {
		errs = append(errs, fmt.Sprintf("polygon: usdc_contract %q is not a valid Ethereum address", c.Polygon.USDCContract))
	}

	// Watched accounts. Addresses are matched case-insensitively against the
	// activity stream, so normalize them here.
	if len(c.Copy.UserAddresses) == 0 {
		errs = append(errs, "copy: user_addresses must list at least one account to follow")
	}
	for i, addr := range c.Copy.UserAddresses {
		if !addressPattern.MatchString(addr) {
			errs = append(errs, fmt.Sprintf("copy: user_addresses[%d] %q is not a valid Ethereum address", i, addr))
			continue
		}
		c.Copy.UserAddresses[i] = strings.ToLower(addr)
	}

	// Sizing strategy
	strat := strings.ToUpper(c.Copy.Strategy)
	if !validStrategies[strat] {
		errs = append(errs, fmt.Sprintf("copy: unknown copy_strategy %q (valid: PERCENTAGE, FIXED, ADAPTIVE, TIERED)", c.Copy.Strategy))
	} else {
		switch domain.StrategyKind(strat) {
		case domain.StrategyPercentage:
			if c.Copy.CopySize <= 0 {
				errs = append(errs, "copy: copy_size (percent) must be > 0 for PERCENTAGE")
			}
		case domain.StrategyFixed:
			if c.Copy.CopySize <= 0 {
				errs = append(errs, "copy: copy_size (USD) must be > 0 for FIXED")
			}
		case domain.StrategyAdaptive:
			if c.Copy.AdaptiveMinPercent <= 0 || c.Copy.AdaptiveMaxPercent <= 0 {
				errs = append(errs, "copy: adaptive_min_percent and adaptive_max_percent must be > 0 for ADAPTIVE")
			}
			if c.Copy.AdaptiveMinPercent > c.Copy.AdaptiveMaxPercent {
				errs = append(errs, "copy: adaptive_min_percent must not exceed adaptive_max_percent")
			}
			if c.Copy.AdaptiveThresholdUSD <= 0 {
				errs = append(errs, "copy: adaptive_threshold_usd must be > 0 for ADAPTIVE")
			}
		case domain.StrategyTiered:
			if _, err := ParseTiers(c.Copy.TieredMultipliers); err != nil {
				errs = append(errs, fmt.Sprintf("copy: tiered_multipliers: %v", err))
			}
		}
	}
	if c.Copy.TradeMultiplier < 0 {
		errs = append(errs, "copy: trade_multiplier must not be negative")
	}
	if c.Copy.TooOldHours < 0 {
		errs = append(errs, "copy: too_old_hours must not be negative")
	}

	// Risk limits: zero disables a check, negative is a mistake.
	if c.Risk.MaxOrderSizeUSD < 0 {
		errs = append(errs, "risk: max_order_size_usd must not be negative")
	}
	if c.Risk.MinOrderSizeUSD < 0 {
		errs = append(errs, "risk: min_order_size_usd must not be negative")
	}
	if c.Risk.MaxPositionSizeUSD < 0 {
		errs = append(errs, "risk: max_position_size_usd must not be negative")
	}
	if c.Risk.MaxDailyVolumeUSD < 0 {
		errs = append(errs, "risk: max_daily_volume_usd must not be negative")
	}
	if c.Risk.MaxOrderSizeUSD > 0 && c.Risk.MinOrderSizeUSD > c.Risk.MaxOrderSizeUSD {
		errs = append(errs, "risk: min_order_size_usd must not exceed max_order_size_usd")
	}

	// Executor
	if c.Executor.NetworkRetryLimit < 0 {
		errs = append(errs, "executor: network_retry_limit must not be negative")
	}
	if c.Executor.RetryBaseDelayMs < 0 {
		errs = append(errs, "executor: retry_base_delay_ms must not be negative")
	}
	if c.Executor.RequestTimeoutMs <= 0 {
		errs = append(errs, "executor: request_timeout_ms must be > 0")
	}

	// Redis
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Strategy builds the domain sizing strategy from the copy section. Percent
// options are converted to fractions. Call only after Validate.
func (c *Config) Strategy() (domain.CopyStrategy, error) {
	kind := domain.StrategyKind(strings.ToUpper(c.Copy.Strategy))
	strat := domain.CopyStrategy{Kind: kind}

	switch kind {
	case domain.StrategyPercentage:
		strat.Ratio = c.Copy.CopySize / 100
	case domain.StrategyFixed:
		strat.AmountUSD = c.Copy.CopySize
	case domain.StrategyAdaptive:
		strat.MinPct = c.Copy.AdaptiveMinPercent / 100
		strat.MaxPct = c.Copy.AdaptiveMaxPercent / 100
		strat.ThresholdUSD = c.Copy.AdaptiveThresholdUSD
	case domain.StrategyTiered:
		bands, err := ParseTiers(c.Copy.TieredMultipliers)
		if err != nil {
			return domain.CopyStrategy{}, fmt.Errorf("config: tiered_multipliers: %w", err)
		}
		strat.Bands = bands
	default:
		return domain.CopyStrategy{}, fmt.Errorf("config: unknown copy_strategy %q", c.Copy.Strategy)
	}
	return strat, nil
}

// RiskLimits builds the domain risk limits from the risk and copy sections.
func (c *Config) RiskLimits() domain.RiskLimits {
	return domain.RiskLimits{
		MaxOrderSizeUSD:    c.Risk.MaxOrderSizeUSD,
		MinOrderSizeUSD:    c.Risk.MinOrderSizeUSD,
		MaxPositionSizeUSD: c.Risk.MaxPositionSizeUSD,
		MaxDailyVolumeUSD:  c.Risk.MaxDailyVolumeUSD,
		GlobalMultiplier:   c.Copy.TradeMultiplier,
	}
}

// MaxEventAge converts too_old_hours into a duration; zero disables the
// stale-event guard.
func (c *Config) MaxEventAge() time.Duration {
	return time.Duration(c.Copy.TooOldHours * float64(time.Hour))
}

// RequestTimeout returns the HTTP request timeout for venue clients.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Executor.RequestTimeoutMs) * time.Millisecond
}

// RetryBaseDelay returns the initial backoff delay between submission retries.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Executor.RetryBaseDelayMs) * time.Millisecond
}
