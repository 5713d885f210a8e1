package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies COPYBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known COPYBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "COPYBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.ProxyAddress, "COPYBOT_WALLET_PROXY_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "COPYBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "COPYBOT_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "COPYBOT_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.DataHost, "COPYBOT_POLYMARKET_DATA_HOST")
	setStr(&cfg.Polymarket.WsHost, "COPYBOT_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "COPYBOT_POLYMARKET_CHAIN_ID")

	// ── Polygon ──
	setStr(&cfg.Polygon.RPCURL, "COPYBOT_POLYGON_RPC_URL")
	setStr(&cfg.Polygon.USDCContract, "COPYBOT_POLYGON_USDC_CONTRACT")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "COPYBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "COPYBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "COPYBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "COPYBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "COPYBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "COPYBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.DedupTTL, "COPYBOT_REDIS_DEDUP_TTL")
	setDuration(&cfg.Redis.BalanceTTL, "COPYBOT_REDIS_BALANCE_TTL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "COPYBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "COPYBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "COPYBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "COPYBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "COPYBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "COPYBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "COPYBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "COPYBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "COPYBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "COPYBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "COPYBOT_POSTGRES_RUN_MIGRATIONS")
	setDuration(&cfg.Postgres.CheckpointInterval, "COPYBOT_POSTGRES_CHECKPOINT_INTERVAL")

	// ── Copy ──
	setStringSlice(&cfg.Copy.UserAddresses, "COPYBOT_COPY_USER_ADDRESSES")
	setStr(&cfg.Copy.Strategy, "COPYBOT_COPY_STRATEGY")
	setFloat64(&cfg.Copy.CopySize, "COPYBOT_COPY_SIZE")
	setFloat64(&cfg.Copy.AdaptiveMinPercent, "COPYBOT_COPY_ADAPTIVE_MIN_PERCENT")
	setFloat64(&cfg.Copy.AdaptiveMaxPercent, "COPYBOT_COPY_ADAPTIVE_MAX_PERCENT")
	setFloat64(&cfg.Copy.AdaptiveThresholdUSD, "COPYBOT_COPY_ADAPTIVE_THRESHOLD_USD")
	setStr(&cfg.Copy.TieredMultipliers, "COPYBOT_COPY_TIERED_MULTIPLIERS")
	setFloat64(&cfg.Copy.TradeMultiplier, "COPYBOT_COPY_TRADE_MULTIPLIER")
	setFloat64(&cfg.Copy.TooOldHours, "COPYBOT_COPY_TOO_OLD_HOURS")
	setInt(&cfg.Copy.Concurrency, "COPYBOT_COPY_CONCURRENCY")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxOrderSizeUSD, "COPYBOT_RISK_MAX_ORDER_SIZE_USD")
	setFloat64(&cfg.Risk.MinOrderSizeUSD, "COPYBOT_RISK_MIN_ORDER_SIZE_USD")
	setFloat64(&cfg.Risk.MaxPositionSizeUSD, "COPYBOT_RISK_MAX_POSITION_SIZE_USD")
	setFloat64(&cfg.Risk.MaxDailyVolumeUSD, "COPYBOT_RISK_MAX_DAILY_VOLUME_USD")

	// ── Executor ──
	setInt(&cfg.Executor.NetworkRetryLimit, "COPYBOT_EXECUTOR_NETWORK_RETRY_LIMIT")
	setInt(&cfg.Executor.RetryBaseDelayMs, "COPYBOT_EXECUTOR_RETRY_BASE_DELAY_MS")
	setInt(&cfg.Executor.RequestTimeoutMs, "COPYBOT_EXECUTOR_REQUEST_TIMEOUT_MS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "COPYBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "COPYBOT_SERVER_PORT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "COPYBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "COPYBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "COPYBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "COPYBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "COPYBOT_MODE")
	setStr(&cfg.LogLevel, "COPYBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
