package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copybot/internal/domain"
)

const testAddress = "0xAbC0000000000000000000000000000000000001"

func validConfig() Config {
	cfg := Defaults()
	cfg.Mode = "monitor"
	cfg.Copy.UserAddresses = []string{testAddress}
	return cfg
}

func TestValidateMonitorMode(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	// Addresses are lowercase-normalized in place.
	assert.Equal(t, "0xabc0000000000000000000000000000000000001", cfg.Copy.UserAddresses[0])
}

func TestValidateCopyModeRequiresWallet(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "copy"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet")

	cfg.Wallet.PrivateKey = "ac09"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadAddress(t *testing.T) {
	cfg := validConfig()
	cfg.Copy.UserAddresses = []string{"not-an-address"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user_addresses[0]")
}

func TestValidateRequiresWatchedAddresses(t *testing.T) {
	cfg := validConfig()
	cfg.Copy.UserAddresses = nil
	assert.Error(t, cfg.Validate())
}

func TestValidateUnknownModeAndStrategy(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "backtest"
	cfg.Copy.Strategy = "MARTINGALE"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "copy_strategy")
}

func TestValidateAdaptiveBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Copy.Strategy = "ADAPTIVE"
	cfg.Copy.AdaptiveMinPercent = 20
	cfg.Copy.AdaptiveMaxPercent = 5
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adaptive_min_percent")
}

func TestValidateTieredRequiresParsableTiers(t *testing.T) {
	cfg := validConfig()
	cfg.Copy.Strategy = "TIERED"
	cfg.Copy.TieredMultipliers = ""
	assert.Error(t, cfg.Validate())

	cfg.Copy.TieredMultipliers = "0-100:1.0,100+:1.5"
	assert.NoError(t, cfg.Validate())
}

func TestStrategyPercentConversion(t *testing.T) {
	cfg := validConfig()
	cfg.Copy.Strategy = "PERCENTAGE"
	cfg.Copy.CopySize = 10

	strat, err := cfg.Strategy()
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyPercentage, strat.Kind)
	assert.InDelta(t, 0.10, strat.Ratio, 1e-12)
}

func TestStrategyAdaptiveConversion(t *testing.T) {
	cfg := validConfig()
	cfg.Copy.Strategy = "adaptive" // case-insensitive
	cfg.Copy.AdaptiveMinPercent = 5
	cfg.Copy.AdaptiveMaxPercent = 20
	cfg.Copy.AdaptiveThresholdUSD = 500

	strat, err := cfg.Strategy()
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyAdaptive, strat.Kind)
	assert.InDelta(t, 0.05, strat.MinPct, 1e-12)
	assert.InDelta(t, 0.20, strat.MaxPct, 1e-12)
	assert.Equal(t, 500.0, strat.ThresholdUSD)
}

func TestRiskLimitsIncludesMultiplier(t *testing.T) {
	cfg := validConfig()
	cfg.Copy.TradeMultiplier = 0.5
	cfg.Risk.MaxOrderSizeUSD = 42

	limits := cfg.RiskLimits()
	assert.Equal(t, 42.0, limits.MaxOrderSizeUSD)
	assert.Equal(t, 0.5, limits.GlobalMultiplier)
}

func TestMaxEventAge(t *testing.T) {
	cfg := validConfig()
	cfg.Copy.TooOldHours = 1.5
	assert.Equal(t, 90*time.Minute, cfg.MaxEventAge())

	cfg.Copy.TooOldHours = 0
	assert.Equal(t, time.Duration(0), cfg.MaxEventAge())
}

func TestParseTiers(t *testing.T) {
	bands, err := ParseTiers("0-100:1.0, 100-500:1.5, 500+:2.0")
	require.NoError(t, err)
	require.Len(t, bands, 3)
	assert.Equal(t, domain.TierBand{Min: 0, Max: 100, Multiplier: 1.0}, bands[0])
	assert.Equal(t, domain.TierBand{Min: 100, Max: 500, Multiplier: 1.5}, bands[1])
	assert.Equal(t, domain.TierBand{Min: 500, Multiplier: 2.0, Open: true}, bands[2])
}

func TestParseTiersErrors(t *testing.T) {
	cases := []struct {
		name string
		spec string
	}{
		{"empty", ""},
		{"missing multiplier", "0-100"},
		{"bad multiplier", "0-100:x"},
		{"zero multiplier", "0-100:0"},
		{"inverted range", "100-50:1.0"},
		{"negative lower bound", "-5-100:1.0"},
		{"overlapping bands", "0-100:1.0,50-200:1.5"},
		{"open band not last", "100+:2.0,0-100:1.0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseTiers(tc.spec)
			assert.Error(t, err)
		})
	}
}

func TestLoadTOMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "monitor"

[copy]
user_addresses = ["` + testAddress + `"]
copy_strategy = "FIXED"
copy_size = 25.0

[risk]
max_order_size_usd = 50.0
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("COPYBOT_RISK_MAX_ORDER_SIZE_USD", "75")
	t.Setenv("COPYBOT_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "FIXED", cfg.Copy.Strategy)
	assert.Equal(t, 25.0, cfg.Copy.CopySize)
	assert.Equal(t, 75.0, cfg.Risk.MaxOrderSizeUSD) // env wins over TOML
	assert.Equal(t, "debug", cfg.LogLevel)
	// Untouched fields keep their defaults.
	assert.Equal(t, "https://clob.polymarket.com", cfg.Polymarket.ClobHost)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet.PrivateKey = "secret-key"
	cfg.Postgres.Password = "pg-pass"
	cfg.Notify.TelegramToken = "tok"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Notify.TelegramToken)
	// Original untouched.
	assert.Equal(t, "secret-key", cfg.Wallet.PrivateKey)
}
