// Package engine runs the single-writer event loop that ties the price feed,
// market tracker, strategy, executor and risk governor together.
package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/executor"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/market"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/metrics"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/risk"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/strategy"
)

const shutdownCancelTimeout = 5 * time.Second

// Publisher receives side effects after the loop has decided. Publish must
// not block.
type Publisher interface {
	Publish(n domain.Notice)
}

// Config sizes and tunes the loop.
type Config struct {
	Mode          string
	Trading       bool // false in monitor mode: intents are published, never submitted
	QueueSize     int
	ClockInterval time.Duration
	StaleAfter    time.Duration
	RequoteDrift  decimal.Decimal
	HistoryEvery  time.Duration
	HistorySize   int
}

// Deps are the core components the loop owns while it runs.
type Deps struct {
	Tracker   *market.Tracker
	Strategy  *strategy.LatencyArb
	Executor  *executor.Manager
	Risk      *risk.Governor
	Publisher Publisher
}

// Engine serializes every state change through one goroutine. Producers only
// post events; nothing else writes to the tracker, strategy, executor or
// governor while Run is active.
type Engine struct {
	cfg     Config
	events  chan Event
	done    chan struct{}
	tracker *market.Tracker
	strat   *strategy.LatencyArb
	exec    *executor.Manager
	gov     *risk.Governor
	pub     Publisher
	logger  *slog.Logger
	now     func() time.Time

	windowHooks []func(*domain.MarketWindow)
	watch       func(marketID string)
	feeds       map[string]func() domain.ConnState

	lastTick  *domain.PriceTick
	anchors   map[domain.Side]decimal.Decimal // quote when the current market's orders were placed
	day       time.Time
	hist      *history
	processed uint64

	snap    atomic.Pointer[Snapshot]
	dropped atomic.Uint64
}

// New creates an engine. Hooks and feeds must be registered before Run.
func New(cfg Config, d Deps, logger *slog.Logger) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.ClockInterval <= 0 {
		cfg.ClockInterval = 250 * time.Millisecond
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Second
	}
	e := &Engine{
		cfg:     cfg,
		events:  make(chan Event, cfg.QueueSize),
		done:    make(chan struct{}),
		tracker: d.Tracker,
		strat:   d.Strategy,
		exec:    d.Executor,
		gov:     d.Risk,
		pub:     d.Publisher,
		logger:  logger.With(slog.String("component", "engine")),
		now:     time.Now,
		feeds:   make(map[string]func() domain.ConnState),
		anchors: make(map[domain.Side]decimal.Decimal),
		hist:    newHistory(cfg.HistoryEvery, cfg.HistorySize),
	}
	e.day = domain.TradingDay(e.now())
	e.exec.OnOrderChange(func(rec domain.OrderRecord) {
		e.publish(domain.Notice{Kind: domain.NoticeOrder, At: rec.LastStatusAt, Order: &rec})
	})
	return e
}

// OnWindowChange registers fn to run in the loop whenever the current window
// changes. fn receives nil when the window expired with no successor.
func (e *Engine) OnWindowChange(fn func(*domain.MarketWindow)) {
	e.windowHooks = append(e.windowHooks, fn)
}

// WatchResolutions registers fn to receive closed markets that still hold
// shares.
func (e *Engine) WatchResolutions(fn func(marketID string)) { e.watch = fn }

// AddFeed exposes a connection state in snapshots. fn must be safe to call
// from the loop goroutine.
func (e *Engine) AddFeed(name string, fn func() domain.ConnState) { e.feeds[name] = fn }

// Snapshot returns the latest published state. Never nil.
func (e *Engine) Snapshot() *Snapshot {
	if s := e.snap.Load(); s != nil {
		return s
	}
	return &Snapshot{Mode: e.cfg.Mode}
}

// PostTick enqueues a price tick without blocking. A full queue drops the
// tick; the next one supersedes it anyway.
func (e *Engine) PostTick(t domain.PriceTick) {
	select {
	case e.events <- Event{Kind: TickEvent, Tick: t}:
	default:
		e.dropped.Add(1)
		metrics.FeedTicksDropped.WithLabelValues("queue_full").Inc()
	}
}

// PostWindow enqueues discovery output. It blocks until queued or the loop
// has stopped.
func (e *Engine) PostWindow(w *domain.MarketWindow) { e.post(Event{Kind: WindowEvent, Window: w}) }

// PostQuote enqueues a top-of-book update.
func (e *Engine) PostQuote(q domain.Quote) { e.post(Event{Kind: QuoteEvent, Quote: q}) }

// PostResolution enqueues a market outcome.
func (e *Engine) PostResolution(r domain.Resolution) {
	e.post(Event{Kind: ResolutionEvent, Resolution: r})
}

// OnVenueFill implements domain.FillHandler.
func (e *Engine) OnVenueFill(f domain.Fill) { e.post(Event{Kind: FillEvent, Fill: f}) }

// OnVenueOrderUpdate implements domain.FillHandler.
func (e *Engine) OnVenueOrderUpdate(u domain.OrderUpdate) {
	e.post(Event{Kind: OrderUpdateEvent, Update: u})
}

func (e *Engine) post(ev Event) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

// Run processes events until ctx is cancelled, then cancels every resting
// order it knows about.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	e.logger.Info("engine started",
		slog.String("mode", e.cfg.Mode),
		slog.Bool("trading", e.cfg.Trading),
		slog.Int("queue_size", cap(e.events)),
	)

	clock := time.NewTicker(e.cfg.ClockInterval)
	defer clock.Stop()

	e.publishSnapshot(e.now())
	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()
		case ev := <-e.events:
			e.handle(ctx, ev)
		case <-clock.C:
			now := e.now()
			e.housekeep(ctx, now)
			e.hist.sample(now, e.exec.Inventory())
		}
		metrics.EngineQueueDepth.Set(float64(len(e.events)))
		e.publishSnapshot(e.now())
	}
}

func (e *Engine) handle(ctx context.Context, ev Event) {
	e.processed++
	now := e.now()
	e.housekeep(ctx, now)

	switch ev.Kind {
	case TickEvent:
		e.onTick(ctx, now, ev.Tick)
	case WindowEvent:
		e.onWindow(ctx, now, ev.Window)
	case QuoteEvent:
		e.onQuote(ctx, ev.Quote)
	case FillEvent:
		if err := e.exec.OnFill(ctx, ev.Fill); err != nil {
			e.logger.Warn("fill not applied", slog.String("error", err.Error()))
		}
		e.observeRisk(ctx, now)
	case OrderUpdateEvent:
		if err := e.exec.OnOrderUpdate(ev.Update); err != nil {
			e.logger.Debug("order update not applied", slog.String("error", err.Error()))
		}
	case ResolutionEvent:
		e.onResolution(ctx, now, ev.Resolution)
	default:
		e.logger.Warn("unknown event", slog.Int("kind", int(ev.Kind)))
	}
}

// housekeep expires a closed window and rolls the trading day.
func (e *Engine) housekeep(ctx context.Context, now time.Time) {
	e.transition(ctx, now, e.tracker.Expire(now))

	day := domain.TradingDay(now)
	if !day.After(e.day) {
		return
	}
	prevDay := e.day
	prev := e.exec.RollDay(now)
	e.gov.RollDay(now)
	e.day = day
	e.logger.Info("new trading day",
		slog.Time("previous", prevDay),
		slog.String("previous_realized", prev.StringFixed(4)),
	)
	e.publish(domain.Notice{Kind: domain.NoticeDayRolled, At: prevDay, PnL: prev})
}

func (e *Engine) onTick(ctx context.Context, now time.Time, tick domain.PriceTick) {
	if e.lastTick != nil && !tick.Timestamp.After(e.lastTick.Timestamp) {
		metrics.FeedTicksDropped.WithLabelValues("out_of_order").Inc()
		return
	}
	e.lastTick = &tick
	e.publish(domain.Notice{Kind: domain.NoticeTick, At: tick.Timestamp, Tick: &tick})

	var window *domain.MarketWindow
	if w, ok := e.tracker.Active(now); ok {
		window = &w
	}
	intent := e.strat.Evaluate(strategy.Input{
		Tick:       tick,
		Window:     window,
		Inventory:  e.exec.Inventory(),
		Risk:       e.gov.State(),
		PriceStale: now.Sub(tick.ReceivedAt) > e.cfg.StaleAfter,
	})
	if intent == nil {
		return
	}
	e.publish(domain.Notice{Kind: domain.NoticeIntent, At: now, Intent: intent})
	if !e.cfg.Trading {
		return
	}

	rec, err := e.exec.Submit(ctx, *intent, window)
	if err != nil {
		e.publish(domain.Notice{Kind: domain.NoticeRejected, At: e.now(), Intent: intent, Reason: err.Error()})
		return
	}
	metrics.TickToSubmit.Observe(e.now().Sub(tick.ReceivedAt).Seconds())
	e.anchors[rec.Side] = window.Quote(rec.Side)
}

func (e *Engine) onWindow(ctx context.Context, now time.Time, w *domain.MarketWindow) {
	tr, err := e.tracker.Apply(now, w)
	if err != nil {
		e.logger.Warn("window rejected", slog.String("error", err.Error()))
		return
	}
	e.transition(ctx, now, tr)
}

// transition runs the rollover barrier: the old market's orders are
// cancelled before any further event is read, then the window is archived
// and strategy memory reset.
func (e *Engine) transition(ctx context.Context, now time.Time, tr market.Transition) {
	if tr.Kind == market.NoChange {
		return
	}

	if old := tr.Old; old != nil {
		n, err := e.exec.CancelAll(ctx, old.MarketID)
		if err != nil {
			e.logger.Error("rollover cancel-all incomplete",
				slog.String("market_id", old.MarketID),
				slog.String("error", err.Error()),
			)
		}
		archive := &domain.WindowArchive{
			Window:     *old,
			Orders:     e.exec.OrdersForMarket(old.MarketID),
			Trades:     e.exec.TakeTrades(old.MarketID),
			ArchivedAt: now,
		}
		if e.exec.HasPosition(old.MarketID) && e.watch != nil {
			e.watch(old.MarketID)
		}
		metrics.Rollovers.Inc()
		e.logger.Info("rollover",
			slog.String("kind", tr.Kind.String()),
			slog.String("old_market_id", old.MarketID),
			slog.Int("cancelled", n),
		)
		e.publish(domain.Notice{Kind: domain.NoticeRollover, At: now, Archive: archive, Next: tr.New})
	}

	e.strat.ResetWindow()
	clear(e.anchors)
	if tr.New != nil {
		e.exec.SetMarket(tr.New.MarketID)
	} else {
		e.exec.SetMarket("")
	}
	for _, fn := range e.windowHooks {
		fn(tr.New)
	}
}

func (e *Engine) onQuote(ctx context.Context, q domain.Quote) {
	if !e.tracker.ApplyQuote(q) {
		return
	}
	w, _ := e.tracker.Current()
	e.exec.MarkToMarket(w)
	e.checkDrift(ctx, w)
}

// checkDrift pulls the current market's orders once its quote has moved
// away from where they were placed.
func (e *Engine) checkDrift(ctx context.Context, w domain.MarketWindow) {
	if len(e.anchors) == 0 || !e.cfg.RequoteDrift.IsPositive() {
		return
	}
	for side, anchor := range e.anchors {
		drift := w.Quote(side).Sub(anchor).Abs()
		if !drift.GreaterThan(e.cfg.RequoteDrift) {
			continue
		}
		n, err := e.exec.CancelAll(ctx, w.MarketID)
		if err != nil {
			e.logger.Warn("requote cancel failed", slog.String("error", err.Error()))
			return
		}
		e.logger.Info("quote drifted, orders pulled",
			slog.String("market_id", w.MarketID),
			slog.String("side", string(side)),
			slog.String("drift", drift.String()),
			slog.Int("cancelled", n),
		)
		clear(e.anchors)
		return
	}
}

func (e *Engine) onResolution(ctx context.Context, now time.Time, res domain.Resolution) {
	pnl := e.exec.Settle(ctx, res)
	e.exec.TakeTrades(res.MarketID)
	e.publish(domain.Notice{Kind: domain.NoticeSettlement, At: now, Resolution: &res, PnL: pnl})
	e.observeRisk(ctx, now)
}

func (e *Engine) observeRisk(ctx context.Context, now time.Time) {
	if !e.gov.Observe(ctx, now, e.exec.Inventory()) {
		return
	}
	clear(e.anchors)
	st := e.gov.State()
	e.publish(domain.Notice{Kind: domain.NoticeBreaker, At: now, Risk: &st})
}

func (e *Engine) shutdown() {
	if !e.cfg.Trading {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownCancelTimeout)
	defer cancel()
	n, err := e.exec.CancelAll(ctx, "")
	if err != nil {
		e.logger.Error("shutdown cancel-all incomplete", slog.String("error", err.Error()))
	}
	e.logger.Info("engine stopped", slog.Int("cancelled", n), slog.Uint64("events", e.processed))
}

func (e *Engine) publish(n domain.Notice) {
	if e.pub != nil {
		e.pub.Publish(n)
	}
}

func (e *Engine) publishSnapshot(now time.Time) {
	s := &Snapshot{
		At:         now,
		Mode:       e.cfg.Mode,
		Feeds:      make(map[string]domain.ConnState, len(e.feeds)),
		Inventory:  e.exec.Inventory(),
		Risk:       e.gov.State(),
		OpenOrders: e.exec.OpenOrders(""),
		History:    e.hist.copy(),
		QueueDepth: len(e.events),
		Dropped:    e.dropped.Load(),
		Events:     e.processed,
		PriceStale: true,
	}
	if w, ok := e.tracker.Current(); ok {
		s.Market = &w
	}
	if e.lastTick != nil {
		t := *e.lastTick
		s.LastTick = &t
		s.PriceAge = now.Sub(t.ReceivedAt)
		s.PriceStale = s.PriceAge > e.cfg.StaleAfter
	}
	for name, fn := range e.feeds {
		s.Feeds[name] = fn()
	}
	e.snap.Store(s)
}
