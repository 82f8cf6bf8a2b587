package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
)

// PnLPoint is one sample of the session P&L history.
type PnLPoint struct {
	At         time.Time       `json:"at"`
	Realized   decimal.Decimal `json:"realized"`
	Unrealized decimal.Decimal `json:"unrealized"`
}

// Snapshot is a read-only copy of engine state for the status API. A new one
// is published after every event; holders never see it change.
type Snapshot struct {
	At         time.Time                   `json:"at"`
	Mode       string                      `json:"mode"`
	Market     *domain.MarketWindow        `json:"market,omitempty"`
	LastTick   *domain.PriceTick           `json:"last_tick,omitempty"`
	PriceAge   time.Duration               `json:"price_age_ns"`
	PriceStale bool                        `json:"price_stale"`
	Feeds      map[string]domain.ConnState `json:"feeds"`
	Inventory  domain.InventoryState       `json:"inventory"`
	Risk       domain.RiskState            `json:"risk"`
	OpenOrders []domain.OrderRecord        `json:"open_orders"`
	History    []PnLPoint                  `json:"pnl_history"`
	QueueDepth int                         `json:"queue_depth"`
	Dropped    uint64                      `json:"ticks_dropped"`
	Events     uint64                      `json:"events_processed"`
}

// history is a bounded ring of P&L samples.
type history struct {
	every  time.Duration
	size   int
	last   time.Time
	points []PnLPoint
}

func newHistory(every time.Duration, size int) *history {
	if every <= 0 {
		every = 10 * time.Second
	}
	if size <= 0 {
		size = 360
	}
	return &history{every: every, size: size}
}

// sample appends a point when at least every has passed since the last one.
func (h *history) sample(now time.Time, inv domain.InventoryState) bool {
	if !h.last.IsZero() && now.Sub(h.last) < h.every {
		return false
	}
	h.last = now
	h.points = append(h.points, PnLPoint{At: now, Realized: inv.RealizedPnLToday, Unrealized: inv.UnrealizedPnL})
	if n := len(h.points) - h.size; n > 0 {
		h.points = append([]PnLPoint(nil), h.points[n:]...)
	}
	return true
}

func (h *history) copy() []PnLPoint {
	return append([]PnLPoint(nil), h.points...)
}
