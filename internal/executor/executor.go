// Package executor turns order intents into venue orders and keeps the books:
// order records, per-market inventory and the day's P&L.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/metrics"
)

// maxRetainedOrders bounds the audit trail of terminal orders kept in memory.
const maxRetainedOrders = 5000

// RiskView is the part of the risk governor the executor consults.
type RiskView interface {
	Tripped() bool
}

// OrderObserver is told about every order record change. It must not block.
type OrderObserver func(domain.OrderRecord)

// Config holds execution limits. CancelRelease is how long a
// venue-confirmed cancel keeps its size reserved, covering fills matched
// before the cancel landed.
type Config struct {
	InventoryCap  decimal.Decimal
	PostOnly      bool
	FillDedupTTL  time.Duration
	CancelRelease time.Duration
}

// position is the holding in one market.
type position struct {
	yes, no         decimal.Decimal
	yesCost, noCost decimal.Decimal
}

func (p *position) shares(side domain.Side) decimal.Decimal {
	if side == domain.SideYes {
		return p.yes
	}
	return p.no
}

func (p *position) add(side domain.Side, size, cost decimal.Decimal) {
	if side == domain.SideYes {
		p.yes, p.yesCost = p.yes.Add(size), p.yesCost.Add(cost)
		return
	}
	p.no, p.noCost = p.no.Add(size), p.noCost.Add(cost)
}

func (p *position) empty() bool { return p.yes.IsZero() && p.no.IsZero() }

// Manager is the only writer of order records and inventory. Every method
// except Owns must be called from the engine goroutine.
type Manager struct {
	cfg     Config
	venue   domain.OrderVenue
	risk    RiskView
	journal domain.TradeJournal
	observe OrderObserver
	dedup   *Dedup
	logger  *slog.Logger
	now     func() time.Time

	orders    map[string]*domain.OrderRecord
	confirmed map[string]time.Time // venue-confirmed cancels
	sequence  []string
	owned     sync.Map
	positions map[string]*position
	trades    map[string][]domain.TradeRecord

	market     string
	realized   decimal.Decimal
	unrealized decimal.Decimal
}

// NewManager creates an execution manager. journal and risk may be nil.
func NewManager(cfg Config, venue domain.OrderVenue, risk RiskView, journal domain.TradeJournal, logger *slog.Logger) *Manager {
	if cfg.FillDedupTTL <= 0 {
		cfg.FillDedupTTL = 10 * time.Minute
	}
	if cfg.CancelRelease <= 0 {
		cfg.CancelRelease = 30 * time.Second
	}
	return &Manager{
		cfg:       cfg,
		venue:     venue,
		risk:      risk,
		journal:   journal,
		dedup:     NewDedup(cfg.FillDedupTTL),
		logger:    logger.With(slog.String("component", "executor")),
		now:       time.Now,
		orders:    make(map[string]*domain.OrderRecord),
		confirmed: make(map[string]time.Time),
		positions: make(map[string]*position),
		trades:    make(map[string][]domain.TradeRecord),
	}
}

// SetRisk wires the governor after construction; the governor itself needs
// the manager as its canceller.
func (m *Manager) SetRisk(r RiskView) { m.risk = r }

// OnOrderChange registers the order observer.
func (m *Manager) OnOrderChange(fn OrderObserver) { m.observe = fn }

// SetMarket selects the market Inventory reports on.
func (m *Manager) SetMarket(marketID string) {
	m.market = marketID
	m.unrealized = decimal.Zero
}

// Owns reports whether orderID was placed by this manager. Safe for
// concurrent use; the fill stream calls it from its own goroutine.
func (m *Manager) Owns(orderID string) bool {
	_, ok := m.owned.Load(orderID)
	return ok
}

// Submit validates intent against window and places it on the venue.
func (m *Manager) Submit(ctx context.Context, intent domain.OrderIntent, window *domain.MarketWindow) (domain.OrderRecord, error) {
	if err := m.precheck(intent, window); err != nil {
		result := "risk_rejected"
		if domain.IsVenueRejection(err) {
			result = "venue_rejected"
		} else if !domain.IsRiskBreach(err) {
			result = "state_rejected"
		}
		metrics.Orders.WithLabelValues(result).Inc()
		m.logger.Info("intent rejected",
			slog.String("intent_id", intent.ID),
			slog.String("market_id", intent.MarketID),
			slog.String("reason", err.Error()),
		)
		return domain.OrderRecord{}, err
	}

	ack, err := m.venue.PlaceOrder(ctx, domain.OrderRequest{
		MarketID: intent.MarketID,
		TokenID:  intent.TokenID,
		Side:     intent.Side,
		Price:    intent.Price,
		Size:     intent.Size,
		PostOnly: m.cfg.PostOnly,
	})
	if err != nil {
		result := "venue_rejected"
		if !domain.IsVenueRejection(err) {
			result = "transport_error"
			if !domain.IsTransport(err) {
				err = &domain.TransportError{Op: "place order", Err: err}
			}
		}
		metrics.Orders.WithLabelValues(result).Inc()
		m.logger.Warn("order placement failed",
			slog.String("intent_id", intent.ID),
			slog.String("market_id", intent.MarketID),
			slog.String("error", err.Error()),
		)
		return domain.OrderRecord{}, fmt.Errorf("executor: submit: %w", err)
	}

	now := m.now()
	status := ack.Status
	if status == "" || status == domain.OrderStatusFilled {
		// Fill details arrive on the fill stream.
		status = domain.OrderStatusOpen
	}
	rec := &domain.OrderRecord{
		OrderID:      ack.OrderID,
		IntentID:     intent.ID,
		MarketID:     intent.MarketID,
		TokenID:      intent.TokenID,
		Side:         intent.Side,
		Price:        intent.Price,
		Size:         intent.Size,
		Status:       status,
		SubmittedAt:  now,
		LastStatusAt: now,
	}
	m.orders[rec.OrderID] = rec
	m.sequence = append(m.sequence, rec.OrderID)
	m.owned.Store(rec.OrderID, struct{}{})
	m.prune()
	metrics.Orders.WithLabelValues("placed").Inc()
	m.logger.Info("order placed",
		slog.String("order_id", rec.OrderID),
		slog.String("market_id", rec.MarketID),
		slog.String("side", string(rec.Side)),
		slog.String("price", rec.Price.String()),
		slog.String("size", rec.Size.String()),
	)
	m.changed(*rec)
	return *rec, nil
}

func (m *Manager) precheck(intent domain.OrderIntent, window *domain.MarketWindow) error {
	if m.risk != nil && m.risk.Tripped() {
		return domain.ErrBreakerTripped
	}
	if window == nil {
		return &domain.StateInconsistency{Detail: "submit " + intent.MarketID, Err: domain.ErrNoActiveMarket}
	}
	if intent.MarketID != window.MarketID {
		return &domain.StateInconsistency{
			Detail: fmt.Sprintf("intent for %s, active %s", intent.MarketID, window.MarketID),
			Err:    domain.ErrMarketMismatch,
		}
	}
	if m.cfg.PostOnly {
		if ask := window.BestAsk(intent.Side); ask.IsPositive() && intent.Price.GreaterThanOrEqual(ask) {
			return &domain.VenueRejection{
				Reason: fmt.Sprintf("price %s at or above best ask %s", intent.Price, ask),
				Err:    domain.ErrWouldCross,
			}
		}
	}
	filled := decimal.Zero
	if p := m.positions[intent.MarketID]; p != nil {
		filled = p.shares(intent.Side)
	}
	reserved := m.reserved(intent.MarketID, intent.Side)
	if filled.Add(reserved).Add(intent.Size).GreaterThan(m.cfg.InventoryCap) {
		return fmt.Errorf("%w: %s filled %s + reserved %s + size %s > cap %s",
			domain.ErrInventoryCap, intent.Side, filled, reserved, intent.Size, m.cfg.InventoryCap)
	}
	return nil
}

// reserved is the unfilled size of orders that could still fill. Cancelled
// orders count until the venue has confirmed the cancel and CancelRelease
// has passed without a fill: a fill can race the cancel.
func (m *Manager) reserved(marketID string, side domain.Side) decimal.Decimal {
	now := m.now()
	total := decimal.Zero
	for _, id := range m.sequence {
		o := m.orders[id]
		if o.MarketID != marketID || o.Side != side {
			continue
		}
		if o.Status == domain.OrderStatusFilled || o.Status == domain.OrderStatusRejected {
			continue
		}
		if at, ok := m.confirmed[id]; ok && o.Status == domain.OrderStatusCancelled && now.Sub(at) >= m.cfg.CancelRelease {
			continue
		}
		total = total.Add(o.Remaining())
	}
	return total
}

// CancelAll cancels every resting order in marketID ("" for all markets) and
// returns how many were cancelled. A second call finds nothing to do.
func (m *Manager) CancelAll(ctx context.Context, marketID string) (int, error) {
	var errs []error
	n := 0
	for _, id := range m.sequence {
		o := m.orders[id]
		if !o.Status.Cancellable() || (marketID != "" && o.MarketID != marketID) {
			continue
		}
		if err := m.venue.CancelOrder(ctx, o.OrderID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			errs = append(errs, fmt.Errorf("cancel %s: %w", o.OrderID, err))
			continue
		}
		o.Status = domain.OrderStatusCancelled
		o.LastStatusAt = m.now()
		n++
		metrics.Cancels.Inc()
		m.changed(*o)
	}
	if n > 0 || len(errs) > 0 {
		m.logger.Info("cancel-all",
			slog.String("market_id", marketID),
			slog.Int("cancelled", n),
			slog.Int("failed", len(errs)),
		)
	}
	if len(errs) > 0 {
		return n, fmt.Errorf("executor: cancel-all: %w", errors.Join(errs...))
	}
	return n, nil
}

// OnFill applies a venue fill. Duplicates are ignored; fills for unknown
// orders leave inventory untouched; overfills are clamped.
func (m *Manager) OnFill(ctx context.Context, f domain.Fill) error {
	now := m.now()
	if f.TradeID != "" && m.dedup.Seen(f.TradeID, now) {
		m.logger.Debug("duplicate fill ignored", slog.String("trade_id", f.TradeID))
		return nil
	}
	o, ok := m.orders[f.OrderID]
	if !ok {
		err := &domain.StateInconsistency{Detail: "fill " + f.TradeID + " for order " + f.OrderID, Err: domain.ErrUnknownOrder}
		m.logger.Warn("fill for unknown order", slog.String("order_id", f.OrderID), slog.String("trade_id", f.TradeID))
		return err
	}

	size := f.Size
	remaining := o.Remaining()
	if size.GreaterThan(remaining) {
		m.logger.Warn("fill exceeds remaining size, clamping",
			slog.String("order_id", o.OrderID),
			slog.String("fill", size.String()),
			slog.String("remaining", remaining.String()),
		)
		size = remaining
	}
	if !size.IsPositive() {
		return nil
	}
	price := f.Price
	if !price.IsPositive() {
		price = o.Price
	}

	if at, ok := m.confirmed[o.OrderID]; ok && now.Sub(at) >= m.cfg.CancelRelease {
		m.logger.Warn("fill after cancel was released",
			slog.String("order_id", o.OrderID),
			slog.String("size", size.String()),
		)
	}

	o.FilledSize = o.FilledSize.Add(size)
	switch {
	case o.Remaining().IsZero():
		o.Status = domain.OrderStatusFilled
	case o.Status != domain.OrderStatusCancelled:
		o.Status = domain.OrderStatusPartiallyFilled
	}
	o.LastStatusAt = now

	p := m.positions[o.MarketID]
	if p == nil {
		p = &position{}
		m.positions[o.MarketID] = p
	}
	p.add(o.Side, size, size.Mul(price))
	m.realized = m.realized.Sub(f.Fee)
	metrics.Fills.Inc()

	at := f.At
	if at.IsZero() {
		at = now
	}
	m.record(ctx, domain.TradeRecord{
		Time:        at,
		Kind:        domain.TradeKindFill,
		MarketID:    o.MarketID,
		OrderID:     o.OrderID,
		TradeID:     f.TradeID,
		Side:        o.Side,
		Price:       price,
		Size:        size,
		Fee:         f.Fee,
		RealizedPnL: f.Fee.Neg(),
	})
	m.logger.Info("fill applied",
		slog.String("order_id", o.OrderID),
		slog.String("side", string(o.Side)),
		slog.String("price", price.String()),
		slog.String("size", size.String()),
		slog.String("status", string(o.Status)),
	)
	m.changed(*o)
	return nil
}

// OnOrderUpdate applies a venue status change. Terminal orders do not move,
// so a cancel confirmation after a fill is a no-op.
func (m *Manager) OnOrderUpdate(u domain.OrderUpdate) error {
	o, ok := m.orders[u.OrderID]
	if !ok {
		return &domain.StateInconsistency{Detail: "update for order " + u.OrderID, Err: domain.ErrUnknownOrder}
	}
	at := u.At
	if at.IsZero() {
		at = m.now()
	}
	if u.Status == domain.OrderStatusCancelled && (o.Status == domain.OrderStatusCancelled || o.Status.Cancellable()) {
		if _, ok := m.confirmed[o.OrderID]; !ok {
			m.confirmed[o.OrderID] = at
		}
	}
	if o.Status.Terminal() || o.Status == u.Status {
		return nil
	}
	if u.Status == domain.OrderStatusOpen && o.Status == domain.OrderStatusPartiallyFilled {
		return nil
	}
	o.Status = u.Status
	o.LastStatusAt = at
	if u.Status == domain.OrderStatusCancelled {
		metrics.Cancels.Inc()
	}
	m.changed(*o)
	return nil
}

// Settle realizes the resolved market's position: winning shares pay 1,
// losing shares pay 0. It returns the realized amount.
func (m *Manager) Settle(ctx context.Context, res domain.Resolution) decimal.Decimal {
	p := m.positions[res.MarketID]
	if p == nil || p.empty() {
		delete(m.positions, res.MarketID)
		return decimal.Zero
	}
	winner := domain.SideNo
	if res.YesWon {
		winner = domain.SideYes
	}

	total := decimal.Zero
	at := res.ResolvedAt
	if at.IsZero() {
		at = m.now()
	}
	for _, side := range []domain.Side{domain.SideYes, domain.SideNo} {
		shares := p.shares(side)
		if !shares.IsPositive() {
			continue
		}
		cost := p.yesCost
		if side == domain.SideNo {
			cost = p.noCost
		}
		pnl := cost.Neg()
		payout := decimal.Zero
		if side == winner {
			pnl = shares.Sub(cost)
			payout = decimal.NewFromInt(1)
		}
		total = total.Add(pnl)
		m.record(ctx, domain.TradeRecord{
			Time:        at,
			Kind:        domain.TradeKindSettlement,
			MarketID:    res.MarketID,
			Side:        side,
			Price:       payout,
			Size:        shares,
			RealizedPnL: pnl,
		})
	}
	m.realized = m.realized.Add(total)
	delete(m.positions, res.MarketID)
	if res.MarketID == m.market {
		m.unrealized = decimal.Zero
	}
	m.logger.Info("market settled",
		slog.String("market_id", res.MarketID),
		slog.Bool("yes_won", res.YesWon),
		slog.String("pnl", total.StringFixed(4)),
		slog.String("realized_today", m.realized.StringFixed(4)),
	)
	return total
}

// MarkToMarket values the current market's position at the window's quotes.
func (m *Manager) MarkToMarket(w domain.MarketWindow) decimal.Decimal {
	p := m.positions[w.MarketID]
	if p == nil || w.MarketID != m.market {
		return m.unrealized
	}
	v := p.yes.Mul(w.Quote(domain.SideYes)).Sub(p.yesCost)
	v = v.Add(p.no.Mul(w.Quote(domain.SideNo)).Sub(p.noCost))
	m.unrealized = v
	return v
}

// RollDay starts a new P&L day and returns the previous day's realized P&L.
func (m *Manager) RollDay(now time.Time) decimal.Decimal {
	prev := m.realized
	m.realized = decimal.Zero
	m.dedup.Cleanup(now)
	return prev
}

// RestoreRealized seeds the day's realized P&L from the journal at startup.
func (m *Manager) RestoreRealized(pnl decimal.Decimal) { m.realized = pnl }

// Inventory reports the current market's shares and the day's P&L.
func (m *Manager) Inventory() domain.InventoryState {
	st := domain.InventoryState{
		MarketID:         m.market,
		RealizedPnLToday: m.realized,
		UnrealizedPnL:    m.unrealized,
	}
	if p := m.positions[m.market]; p != nil {
		st.YesShares, st.NoShares = p.yes, p.no
	}
	if m.market != "" {
		st.ReservedYes = m.reserved(m.market, domain.SideYes)
		st.ReservedNo = m.reserved(m.market, domain.SideNo)
	}
	return st
}

// HasPosition reports whether marketID still holds unsettled shares.
func (m *Manager) HasPosition(marketID string) bool {
	p := m.positions[marketID]
	return p != nil && !p.empty()
}

// Orders returns every retained order in submission order.
func (m *Manager) Orders() []domain.OrderRecord {
	out := make([]domain.OrderRecord, 0, len(m.sequence))
	for _, id := range m.sequence {
		out = append(out, *m.orders[id])
	}
	return out
}

// OrdersForMarket returns the retained orders of one market.
func (m *Manager) OrdersForMarket(marketID string) []domain.OrderRecord {
	var out []domain.OrderRecord
	for _, id := range m.sequence {
		if o := m.orders[id]; o.MarketID == marketID {
			out = append(out, *o)
		}
	}
	return out
}

// OpenOrders returns non-terminal orders, optionally for one market.
func (m *Manager) OpenOrders(marketID string) []domain.OrderRecord {
	var out []domain.OrderRecord
	for _, id := range m.sequence {
		o := m.orders[id]
		if o.Status.Terminal() || (marketID != "" && o.MarketID != marketID) {
			continue
		}
		out = append(out, *o)
	}
	return out
}

// TakeTrades returns and forgets the trade records kept for marketID.
func (m *Manager) TakeTrades(marketID string) []domain.TradeRecord {
	t := m.trades[marketID]
	delete(m.trades, marketID)
	return t
}

func (m *Manager) record(ctx context.Context, rec domain.TradeRecord) {
	m.trades[rec.MarketID] = append(m.trades[rec.MarketID], rec)
	if m.journal == nil {
		return
	}
	if err := m.journal.AppendTrade(ctx, rec); err != nil {
		m.logger.Error("journal append failed",
			slog.String("market_id", rec.MarketID),
			slog.String("kind", string(rec.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) changed(rec domain.OrderRecord) {
	if m.observe != nil {
		m.observe(rec)
	}
}

// prune drops the oldest terminal orders beyond maxRetainedOrders.
func (m *Manager) prune() {
	excess := len(m.sequence) - maxRetainedOrders
	if excess <= 0 {
		return
	}
	kept := m.sequence[:0]
	for _, id := range m.sequence {
		if excess > 0 && m.orders[id].Status.Terminal() && m.positions[m.orders[id].MarketID] == nil {
			delete(m.orders, id)
			delete(m.confirmed, id)
			m.owned.Delete(id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	m.sequence = kept
}
