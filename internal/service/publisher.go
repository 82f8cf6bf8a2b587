package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/metrics"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/notify"
)

// Bus channels notices are published on.
const (
	ChannelTicks   = "ticks"
	ChannelIntents = "intents"
	ChannelOrders  = "orders"
	ChannelRisk    = "risk"
	ChannelMarket  = "market"
)

const (
	defaultPublisherQueue = 4096
	sinkTimeout           = 5 * time.Second
	drainTimeout          = 10 * time.Second
)

// Sinks are the optional destinations of engine notices. Nil fields are
// skipped.
type Sinks struct {
	Bus      domain.SignalBus
	Prices   domain.PriceCache
	Orders   domain.OrderStore
	Audit    domain.AuditStore
	Archiver domain.WindowArchiver
	Journal  *Journal
	Notifier *notify.Notifier
}

// Publisher implements engine.Publisher. Publish never blocks the engine;
// notices are written to the sinks from Run's goroutine.
type Publisher struct {
	sinks  Sinks
	queue  chan domain.Notice
	logger *slog.Logger

	// orders already upserted; later changes use UpdateStatus.
	known map[string]bool
}

// NewPublisher creates a Publisher with a queue of size notices.
func NewPublisher(sinks Sinks, size int, logger *slog.Logger) *Publisher {
	if size <= 0 {
		size = defaultPublisherQueue
	}
	return &Publisher{
		sinks:  sinks,
		queue:  make(chan domain.Notice, size),
		logger: logger.With(slog.String("component", "publisher")),
		known:  make(map[string]bool),
	}
}

// Publish queues n, dropping it when the queue is full.
func (p *Publisher) Publish(n domain.Notice) { p.Offer(n) }

// Offer queues n and reports whether there was room for it.
func (p *Publisher) Offer(n domain.Notice) bool {
	select {
	case p.queue <- n:
		return true
	default:
		metrics.NoticesDropped.Inc()
		return false
	}
}

// Run writes queued notices until ctx is cancelled, then drains what is
// left with a bounded deadline.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case n := <-p.queue:
			p.handle(ctx, n)
		case <-ctx.Done():
			p.drain()
			return nil
		}
	}
}

func (p *Publisher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case n := <-p.queue:
			p.handle(ctx, n)
		default:
			return
		}
		if ctx.Err() != nil {
			p.logger.Warn("drain deadline reached", slog.Int("remaining", len(p.queue)))
			return
		}
	}
}

func (p *Publisher) handle(parent context.Context, n domain.Notice) {
	ctx, cancel := context.WithTimeout(parent, sinkTimeout)
	defer cancel()

	switch n.Kind {
	case domain.NoticeTrade:
		// The trade stream is the bus for trades.
		if p.sinks.Journal != nil && n.Trade != nil {
			p.check(ctx, "journal", p.sinks.Journal.Persist(ctx, *n.Trade))
		}
		return
	case domain.NoticeTick:
		if p.sinks.Prices != nil && n.Tick != nil {
			p.check(ctx, "price_cache", p.sinks.Prices.SetTick(ctx, *n.Tick))
		}
	case domain.NoticeOrder:
		p.persistOrder(ctx, n.Order)
	case domain.NoticeRejected:
		p.audit(ctx, n, map[string]any{"reason": n.Reason, "intent": n.Intent})
	case domain.NoticeRollover:
		p.archiveWindow(ctx, n)
	case domain.NoticeBreaker:
		p.audit(ctx, n, map[string]any{"risk": n.Risk})
	case domain.NoticeSettlement:
		p.audit(ctx, n, map[string]any{"resolution": n.Resolution, "pnl": n.PnL.String()})
	case domain.NoticeDayRolled:
		p.archiveJournal(ctx, n)
		p.audit(ctx, n, map[string]any{"day": n.At.Format(time.DateOnly), "realized_pnl": n.PnL.String()})
		clear(p.known)
	}

	if p.sinks.Bus != nil {
		if payload, err := json.Marshal(newEnvelope(n)); err == nil {
			p.check(ctx, "bus", p.sinks.Bus.Publish(ctx, channelFor(n.Kind), payload))
		}
	}
	if p.sinks.Notifier != nil {
		p.check(ctx, "notify", p.sinks.Notifier.Notify(ctx, n))
	}
}

func (p *Publisher) persistOrder(ctx context.Context, rec *domain.OrderRecord) {
	if p.sinks.Orders == nil || rec == nil {
		return
	}
	if p.known[rec.OrderID] {
		p.check(ctx, "orders", p.sinks.Orders.UpdateStatus(ctx, rec.OrderID, rec.Status, rec.FilledSize.String()))
		return
	}
	err := p.sinks.Orders.Upsert(ctx, *rec)
	if err == nil {
		p.known[rec.OrderID] = true
	}
	p.check(ctx, "orders", err)
}

func (p *Publisher) archiveWindow(ctx context.Context, n domain.Notice) {
	if n.Archive == nil {
		return
	}
	detail := map[string]any{
		"market_id": n.Archive.Window.MarketID,
		"orders":    len(n.Archive.Orders),
		"trades":    len(n.Archive.Trades),
		"reason":    n.Reason,
	}
	if n.Next != nil {
		detail["next_market_id"] = n.Next.MarketID
	}
	if p.sinks.Archiver != nil {
		key, err := p.sinks.Archiver.ArchiveWindow(ctx, *n.Archive)
		p.check(ctx, "archive", err)
		if err == nil {
			detail["archive_key"] = key
		}
	}
	p.audit(ctx, n, detail)
}

func (p *Publisher) archiveJournal(ctx context.Context, n domain.Notice) {
	if p.sinks.Journal == nil {
		return
	}
	trades := p.sinks.Journal.TakeDay(n.At)
	if p.sinks.Archiver == nil || len(trades) == 0 {
		return
	}
	key, err := p.sinks.Archiver.ArchiveJournal(ctx, n.At, trades)
	if p.check(ctx, "archive", err) {
		p.logger.InfoContext(ctx, "journal archived",
			slog.String("key", key),
			slog.Int("trades", len(trades)),
		)
	}
}

func (p *Publisher) audit(ctx context.Context, n domain.Notice, detail map[string]any) {
	if p.sinks.Audit == nil {
		return
	}
	p.check(ctx, "audit", p.sinks.Audit.Log(ctx, string(n.Kind), detail))
}

// check logs and counts err against sink. It reports whether err was nil.
func (p *Publisher) check(ctx context.Context, sink string, err error) bool {
	if err == nil {
		return true
	}
	metrics.SinkErrors.WithLabelValues(sink).Inc()
	p.logger.WarnContext(ctx, "sink write failed",
		slog.String("sink", sink),
		slog.String("error", err.Error()),
	)
	return false
}

func channelFor(kind domain.NoticeKind) string {
	switch kind {
	case domain.NoticeTick:
		return ChannelTicks
	case domain.NoticeIntent:
		return ChannelIntents
	case domain.NoticeOrder, domain.NoticeRejected:
		return ChannelOrders
	case domain.NoticeBreaker, domain.NoticeDayRolled:
		return ChannelRisk
	default:
		return ChannelMarket
	}
}

// envelope is the bus payload. Archives are reduced to their window.
type envelope struct {
	Kind       domain.NoticeKind    `json:"kind"`
	At         time.Time            `json:"at"`
	Tick       *domain.PriceTick    `json:"tick,omitempty"`
	Intent     *domain.OrderIntent  `json:"intent,omitempty"`
	Order      *domain.OrderRecord  `json:"order,omitempty"`
	Market     *domain.MarketWindow `json:"market,omitempty"`
	Next       *domain.MarketWindow `json:"next,omitempty"`
	Risk       *domain.RiskState    `json:"risk,omitempty"`
	Resolution *domain.Resolution   `json:"resolution,omitempty"`
	PnL        string               `json:"pnl,omitempty"`
	Reason     string               `json:"reason,omitempty"`
}

func newEnvelope(n domain.Notice) envelope {
	e := envelope{
		Kind:       n.Kind,
		At:         n.At,
		Tick:       n.Tick,
		Intent:     n.Intent,
		Order:      n.Order,
		Next:       n.Next,
		Risk:       n.Risk,
		Resolution: n.Resolution,
		Reason:     n.Reason,
	}
	if n.Archive != nil {
		e.Market = &n.Archive.Window
	}
	switch n.Kind {
	case domain.NoticeSettlement, domain.NoticeDayRolled:
		e.PnL = n.PnL.String()
	}
	return e
}
