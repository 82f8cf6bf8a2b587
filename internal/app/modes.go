package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/crypto"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/engine"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/executor"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/feed"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/market"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/platform/paper"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/platform/polymarket"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/risk"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/server"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/server/handler"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/service"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/strategy"
)

const (
	venueCancelTimeout = 10 * time.Second
	httpShutdownGrace  = 5 * time.Second
)

// Run modes.
const (
	ModeLive    = "live"
	ModePaper   = "paper"
	ModeMonitor = "monitor"
)

// venueSetup is what a mode contributes on top of the shared core.
type venueSetup struct {
	venue domain.OrderVenue
	paper *paper.Venue     // paper mode only
	creds *crypto.APICreds // live mode only, for the user channel
}

// runMode builds the core for the configured mode and runs it with its
// producers until ctx is cancelled or one of them fails.
func (a *App) runMode(ctx context.Context, deps *Dependencies) error {
	mode := strings.ToLower(a.cfg.Mode)
	var (
		setup venueSetup
		err   error
	)
	switch mode {
	case ModeLive:
		setup, err = a.liveVenue(ctx)
		if err != nil {
			return err
		}
	case ModePaper, ModeMonitor:
		pv := paper.NewVenue(nil, a.logger)
		setup = venueSetup{venue: pv, paper: pv}
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
	trading := mode != ModeMonitor

	journal := service.NewJournal(deps.TradeStore, deps.SignalBus, a.logger)
	exec := executor.NewManager(executor.Config{
		InventoryCap:  decimal.NewFromFloat(a.cfg.Execution.InventoryCap),
		PostOnly:      a.cfg.Execution.PostOnly,
		FillDedupTTL:  a.cfg.Execution.FillDedupTTL.Duration,
		CancelRelease: a.cfg.Execution.CancelRelease.Duration,
	}, setup.venue, nil, journal, a.logger)
	gov := risk.NewGovernor(decimal.NewFromFloat(a.cfg.Risk.DailyLossCapUSD), exec, time.Now(), a.logger)
	exec.SetRisk(gov)

	publisher := service.NewPublisher(service.Sinks{
		Bus:      deps.SignalBus,
		Prices:   deps.PriceCache,
		Orders:   deps.OrderStore,
		Audit:    deps.AuditStore,
		Archiver: deps.Archiver,
		Journal:  journal,
		Notifier: deps.Notifier,
	}, 0, a.logger)
	journal.Forward(publisher.Offer)

	eng := engine.New(engine.Config{
		Mode:          mode,
		Trading:       trading,
		QueueSize:     a.cfg.Engine.QueueSize,
		ClockInterval: a.cfg.Engine.ClockInterval.Duration,
		StaleAfter:    a.cfg.Binance.Staleness.Duration,
		RequoteDrift:  decimal.NewFromFloat(a.cfg.Strategy.RequoteDrift),
	}, engine.Deps{
		Tracker:   market.NewTracker(a.cfg.Engine.ArchiveSize, a.logger),
		Strategy:  strategy.NewLatencyArb(strategy.ParamsFromConfig(a.cfg.Strategy, a.cfg.Execution), a.logger),
		Executor:  exec,
		Risk:      gov,
		Publisher: publisher,
	}, a.logger)

	if trading {
		a.restoreDay(ctx, journal, exec, gov)
		a.cancelStale(ctx, setup.venue)
	}

	backoff := feed.Backoff{Base: a.cfg.Binance.BackoffBase.Duration, Cap: a.cfg.Binance.BackoffCap.Duration}
	maxProto := a.cfg.Binance.MaxProtocolErrors

	binance := feed.NewBinanceFeed(feed.BinanceConfig{
		WsURL:             a.cfg.Binance.WsURL,
		Symbol:            a.cfg.Binance.Symbol,
		StaleAfter:        a.cfg.Binance.Staleness.Duration,
		Backoff:           backoff,
		MaxProtocolErrors: maxProto,
	}, eng.PostTick, a.logger)

	onQuote := eng.PostQuote
	if setup.paper != nil && trading {
		setup.paper.SetHandler(eng)
		onQuote = func(q domain.Quote) {
			eng.PostQuote(q)
			setup.paper.OnQuote(q)
		}
	}
	quotes := feed.NewQuoteFeed(a.cfg.Polymarket.WsHost, backoff, maxProto, onQuote, a.logger)

	gamma := polymarket.NewGammaClient(a.cfg.Polymarket.GammaHost)
	discovery := market.NewDiscovery(gamma, polymarket.WindowQuery{
		EventSlug:    a.cfg.Discovery.EventSlug,
		TagSlug:      a.cfg.Discovery.TagSlug,
		TitleMatch:   a.cfg.Discovery.TitleMatch,
		WindowLength: a.cfg.Discovery.WindowLength.Duration,
	}, a.cfg.Discovery.PollInterval.Duration, eng.PostWindow, a.logger)
	resolver := market.NewResolver(gamma, a.cfg.Discovery.ResolutionPoll.Duration, eng.PostResolution, a.logger)

	eng.OnWindowChange(quotes.Track)
	eng.WatchResolutions(resolver.Watch)
	eng.AddFeed("binance", binance.ConnState)
	eng.AddFeed("polymarket_market", quotes.ConnState)

	var fills *feed.FillStream
	if setup.creds != nil {
		fills = feed.NewFillStream(a.cfg.Polymarket.WsHost, *setup.creds, backoff, maxProto, exec.Owns, eng, a.logger)
		eng.OnWindowChange(fills.Track)
		eng.AddFeed("polymarket_user", fills.ConnState)
	}

	a.logger.InfoContext(ctx, "core wired",
		slog.String("mode", mode),
		slog.Bool("trading", trading),
		slog.Bool("postgres", deps.OrderStore != nil),
		slog.Bool("redis", deps.SignalBus != nil),
		slog.Bool("s3", deps.Archiver != nil),
	)

	g, gctx := errgroup.WithContext(ctx)

	// The publisher outlives the engine so the notices of its shutdown
	// cancel-all still reach the sinks.
	pubCtx, stopPub := context.WithCancel(context.WithoutCancel(gctx))
	g.Go(func() error {
		defer stopPub()
		return eng.Run(gctx)
	})
	g.Go(func() error { return publisher.Run(pubCtx) })

	g.Go(func() error { return binance.Run(gctx) })
	g.Go(func() error { return quotes.Run(gctx) })
	g.Go(func() error { return discovery.Run(gctx) })
	g.Go(func() error { return resolver.Run(gctx) })
	if fills != nil {
		g.Go(func() error { return fills.Run(gctx) })
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(gctx, g, deps, eng)
	}

	return g.Wait()
}

// liveVenue loads the wallet key, derives L2 credentials when none are
// configured and builds the CLOB venue.
func (a *App) liveVenue(ctx context.Context) (venueSetup, error) {
	pm := a.cfg.Polymarket
	key, err := crypto.LoadKey(crypto.KeySource{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		Password:         a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return venueSetup{}, fmt.Errorf("app: load wallet key: %w", err)
	}
	signer, err := crypto.NewSigner(key, int64(pm.ChainID), pm.ExchangeAddress)
	if err != nil {
		return venueSetup{}, fmt.Errorf("app: signer: %w", err)
	}

	clob := polymarket.NewClobClient(polymarket.ClobOptions{
		BaseURL:       pm.ClobHost,
		Signer:        signer,
		Creds:         crypto.APICreds{Key: pm.ApiKey, Secret: pm.ApiSecret, Passphrase: pm.ApiPassphrase},
		Funder:        a.cfg.Wallet.SafeAddress,
		SignatureType: pm.SignatureType,
	})
	if !clob.Creds().Valid() {
		if _, err := clob.DeriveAPIKey(ctx); err != nil {
			return venueSetup{}, fmt.Errorf("app: derive api key: %w", err)
		}
		a.logger.InfoContext(ctx, "derived L2 api credentials", slog.String("creds", clob.Creds().String()))
	}

	creds := clob.Creds()
	a.logger.InfoContext(ctx, "live venue ready",
		slog.String("signer", signer.Address().Hex()),
		slog.String("funder", a.cfg.Wallet.SafeAddress),
	)
	return venueSetup{venue: polymarket.NewVenue(clob, signer, a.logger), creds: &creds}, nil
}

// restoreDay seeds today's realized P&L from the journal so a restart cannot
// reset the loss breaker.
func (a *App) restoreDay(ctx context.Context, journal *service.Journal, exec *executor.Manager, gov *risk.Governor) {
	now := time.Now()
	pnl, err := journal.RealizedSince(ctx, now)
	if err != nil {
		a.logger.WarnContext(ctx, "could not restore realized pnl; starting the day at zero",
			slog.String("error", err.Error()),
		)
		return
	}
	if pnl.IsZero() {
		return
	}
	exec.RestoreRealized(pnl)
	tripped := gov.Observe(ctx, now, exec.Inventory())
	a.logger.InfoContext(ctx, "restored realized pnl",
		slog.String("realized_pnl", pnl.String()),
		slog.Bool("breaker_tripped", gov.Tripped()),
		slog.Bool("tripped_now", tripped),
	)
}

// cancelStale pulls any orders a previous run left on the venue.
func (a *App) cancelStale(ctx context.Context, venue domain.OrderVenue) {
	ctx, cancel := context.WithTimeout(ctx, venueCancelTimeout)
	defer cancel()
	if err := venue.CancelAll(ctx); err != nil {
		a.logger.WarnContext(ctx, "startup cancel-all failed", slog.String("error", err.Error()))
		return
	}
	a.logger.InfoContext(ctx, "startup cancel-all done")
}

// startHTTPServer serves the status API in g and shuts it down with ctx.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine.Engine) {
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Checks, a.logger),
		Status: handler.NewStatusHandler(eng),
	}
	if deps.OrderStore != nil {
		handlers.History = handler.NewHistoryHandler(deps.OrderStore, deps.TradeStore, deps.AuditStore, a.logger)
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
