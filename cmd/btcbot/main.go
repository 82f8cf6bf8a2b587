// Command btcbot runs the Polymarket BTC 15-minute latency bot. It loads
// configuration, validates it, wires dependencies, sets up signal handling, and
// starts the application in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/app"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/config"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/logging"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger, logCloser := logging.New(cfg.LogLevel, cfg.Log)
	defer logCloser.Close()
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	redacted := config.RedactedConfig(cfg)
	logger.Info("btcbot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Float64("jump_threshold", redacted.Strategy.JumpThreshold),
		slog.Float64("ev_threshold", redacted.Strategy.EVThreshold),
		slog.Float64("notional_usd", redacted.Strategy.NotionalUSD),
		slog.Float64("daily_loss_cap_usd", redacted.Risk.DailyLossCapUSD),
		slog.Bool("post_only", redacted.Execution.PostOnly),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error", slog.String("error", err.Error()))
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("btcbot stopped")
}
