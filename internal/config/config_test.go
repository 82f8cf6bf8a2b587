package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.001, cfg.Strategy.JumpThreshold)
	assert.Equal(t, 1.02, cfg.Strategy.EVThreshold)
	assert.Equal(t, 10.0, cfg.Strategy.NotionalUSD)
	assert.Equal(t, 50.0, cfg.Risk.DailyLossCapUSD)
	assert.Equal(t, 500.0, cfg.Execution.InventoryCap)
	assert.GreaterOrEqual(t, cfg.Execution.InventoryCap, cfg.Strategy.NotionalUSD/cfg.Strategy.MinPrice,
		"the default cap holds one order at the lowest tradeable price")
	assert.Equal(t, 30*time.Second, cfg.Execution.CancelRelease.Duration)
	assert.Equal(t, 5*time.Second, cfg.Binance.Staleness.Duration)
	assert.Equal(t, time.Second, cfg.Strategy.Cooldown.Duration)
	assert.True(t, cfg.Execution.PostOnly)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "live"
	cfg.Strategy.EVThreshold = 0.9
	cfg.Risk.DailyLossCapUSD = 0
	cfg.Polymarket.ApiKey = "only-key"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "wallet: either private_key or encrypted_key_path")
	assert.Contains(t, msg, "ev_threshold must be >= 1")
	assert.Contains(t, msg, "daily_loss_cap_usd must be positive")
	assert.Contains(t, msg, "must all be set together")
}

func TestValidateCapHoldsOneOrder(t *testing.T) {
	cfg := Defaults()
	cfg.Execution.InventoryCap = 50
	assert.ErrorContains(t, cfg.Validate(), "inventory_cap 50 cannot hold one order at min_price (500 shares)")

	cfg.Strategy.MinPrice = 0.2
	assert.NoError(t, cfg.Validate())

	cfg.Strategy.MinPrice = 0
	assert.ErrorContains(t, cfg.Validate(), "min_price must be in (0, 1)")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "arbitrage"
	assert.ErrorContains(t, cfg.Validate(), `unknown mode "arbitrage"`)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "monitor"

[strategy]
jump_threshold = 0.002
cooldown = "3s"

[binance]
staleness = "2s"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("BTCBOT_STRATEGY_NOTIONAL_USD", "25")
	t.Setenv("BTCBOT_EXECUTION_POST_ONLY", "false")
	t.Setenv("BTCBOT_NOTIFY_EVENTS", "breaker_tripped, settlement")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, 0.002, cfg.Strategy.JumpThreshold)
	assert.Equal(t, 3*time.Second, cfg.Strategy.Cooldown.Duration)
	assert.Equal(t, 2*time.Second, cfg.Binance.Staleness.Duration)
	assert.Equal(t, 25.0, cfg.Strategy.NotionalUSD)
	assert.False(t, cfg.Execution.PostOnly)
	assert.Equal(t, []string{"breaker_tripped", "settlement"}, cfg.Notify.Events)
	// untouched values keep their defaults
	assert.Equal(t, 1.02, cfg.Strategy.EVThreshold)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xdeadbeef"
	cfg.Polymarket.ApiSecret = "secret"
	cfg.Redis.Password = ""

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallet.PrivateKey)
	assert.Equal(t, "***", out.Polymarket.ApiSecret)
	assert.Equal(t, "", out.Redis.Password)
	assert.Equal(t, "0xdeadbeef", cfg.Wallet.PrivateKey)

	out.Notify.Events[0] = "changed"
	assert.NotEqual(t, "changed", cfg.Notify.Events[0])
}
