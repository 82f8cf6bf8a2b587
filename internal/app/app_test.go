package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWireWithBackendsDisabled(t *testing.T) {
	cfg := config.Defaults()
	deps, cleanup, err := Wire(context.Background(), &cfg, quietLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.OrderStore)
	assert.Nil(t, deps.SignalBus)
	assert.Nil(t, deps.Archiver)
	assert.Nil(t, deps.Notifier)
	assert.Empty(t, deps.Checks)
}

func TestRunModeRejectsUnknownMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "backtest"
	a := New(&cfg, quietLogger())

	err := a.runMode(context.Background(), &Dependencies{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported mode "backtest"`)
}

func TestLiveModeNeedsKey(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = ModeLive
	a := New(&cfg, quietLogger())

	_, err := a.liveVenue(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load wallet key")
}
