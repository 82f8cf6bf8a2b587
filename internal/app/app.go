// Package app owns the process lifecycle: it wires the infrastructure, takes
// the single-instance lock and runs the engine with its producers in the
// configured mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/config"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
)

const (
	instanceLockKey = "btcbot:instance"
	instanceLockTTL = 30 * time.Second
)

// App is the root application object. Cleanup functions run in reverse
// order on Close.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies and blocks in the configured mode until ctx is
// cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	g, gctx := errgroup.WithContext(ctx)

	// Two trading processes on one wallet would double every order.
	if deps.LockManager != nil && a.cfg.NeedsWallet() {
		unlock, err := deps.LockManager.Acquire(ctx, instanceLockKey, instanceLockTTL)
		if err != nil {
			return fmt.Errorf("app: instance lock: %w", err)
		}
		a.closers = append(a.closers, unlock)
		g.Go(func() error { return a.holdLock(gctx, deps.LockManager) })
	}

	g.Go(func() error { return a.runMode(gctx, deps) })
	return g.Wait()
}

// holdLock refreshes the instance lock at a third of its TTL. Losing it
// stops the process.
func (a *App) holdLock(ctx context.Context, locks domain.LockManager) error {
	t := time.NewTicker(instanceLockTTL / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := locks.Refresh(ctx, instanceLockKey, instanceLockTTL); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("app: instance lock lost: %w", err)
			}
		}
	}
}

// Close tears down resources in reverse registration order. Later calls
// are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
