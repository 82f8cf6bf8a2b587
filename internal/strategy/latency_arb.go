// Package strategy turns reference price jumps into maker-only order intents
// on the lagging 15-minute market.
package strategy

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/config"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/metrics"
)

// Reason codes carried on emitted intents.
const (
	ReasonJumpUp   = "latency_jump_up"
	ReasonJumpDown = "latency_jump_down"
)

var (
	tickSize   = decimal.New(1, -3)
	maxImplied = decimal.RequireFromString("0.99")
	two        = decimal.NewFromInt(2)
)

// Params are the latency-arbitrage knobs.
type Params struct {
	JumpThreshold    decimal.Decimal
	EVThreshold      decimal.Decimal
	Notional         decimal.Decimal
	Cooldown         time.Duration
	QuoteMoveEpsilon decimal.Decimal
	MaxBump          decimal.Decimal
	MinOrderSize     decimal.Decimal
	MinPrice         decimal.Decimal
	InventoryCap     decimal.Decimal
}

// ParamsFromConfig converts the float configuration into decimals.
func ParamsFromConfig(s config.StrategyConfig, e config.ExecutionConfig) Params {
	return Params{
		JumpThreshold:    decimal.NewFromFloat(s.JumpThreshold),
		EVThreshold:      decimal.NewFromFloat(s.EVThreshold),
		Notional:         decimal.NewFromFloat(s.NotionalUSD),
		Cooldown:         s.Cooldown.Duration,
		QuoteMoveEpsilon: decimal.NewFromFloat(s.QuoteMoveEpsilon),
		MaxBump:          decimal.NewFromFloat(s.MaxBump),
		MinOrderSize:     decimal.NewFromFloat(s.MinOrderSize),
		MinPrice:         decimal.NewFromFloat(s.MinPrice),
		InventoryCap:     decimal.NewFromFloat(e.InventoryCap),
	}
}

// Input is everything one evaluation looks at.
type Input struct {
	Tick       domain.PriceTick
	Window     *domain.MarketWindow
	Inventory  domain.InventoryState
	Risk       domain.RiskState
	PriceStale bool
}

// reference is the state captured at the previous evaluation.
type reference struct {
	price    decimal.Decimal
	quoteYes decimal.Decimal
	quoteNo  decimal.Decimal
	market   string
}

// LatencyArb emits an intent when the reference price jumps and the market's
// quote has not caught up yet. Not safe for concurrent use.
type LatencyArb struct {
	params   Params
	ref      *reference
	lastEmit map[string]time.Time
	logger   *slog.Logger
	newID    func() string
}

// NewLatencyArb creates the strategy.
func NewLatencyArb(p Params, logger *slog.Logger) *LatencyArb {
	return &LatencyArb{
		params:   p,
		lastEmit: make(map[string]time.Time),
		logger:   logger.With(slog.String("strategy", "latency_arb")),
		newID:    func() string { return uuid.New().String() },
	}
}

// Name returns the strategy identifier.
func (s *LatencyArb) Name() string { return "latency_arb" }

// ResetWindow forgets reference quotes and cooldowns. Called on rollover.
// The reference price survives: it describes BTC, not the market.
func (s *LatencyArb) ResetWindow() {
	if s.ref != nil {
		s.ref = &reference{price: s.ref.price}
	}
	clear(s.lastEmit)
}

// Evaluate runs one decision for a tick and returns an intent or nil.
func (s *LatencyArb) Evaluate(in Input) *domain.OrderIntent {
	prev := s.ref
	s.ref = &reference{price: in.Tick.Price}
	if in.Window != nil {
		s.ref.market = in.Window.MarketID
		s.ref.quoteYes = in.Window.Quote(domain.SideYes)
		s.ref.quoteNo = in.Window.Quote(domain.SideNo)
	}

	switch {
	case in.Risk.BreakerTripped, in.PriceStale, in.Window == nil, !in.Window.HasQuotes():
		return nil
	case prev == nil || !prev.price.IsPositive():
		return nil
	}

	change := in.Tick.Price.Sub(prev.price).Div(prev.price)
	if change.Abs().LessThanOrEqual(s.params.JumpThreshold) {
		return nil
	}

	side, reason := domain.SideYes, ReasonJumpUp
	if change.IsNegative() {
		side, reason = domain.SideNo, ReasonJumpDown
	}
	w := in.Window

	// Lag is only measurable against a reference taken on this market.
	if prev.market != w.MarketID {
		return nil
	}
	quote := w.Quote(side)
	prevQuote := prev.quoteYes
	if side == domain.SideNo {
		prevQuote = prev.quoteNo
	}
	if quote.Sub(prevQuote).Abs().GreaterThan(s.params.QuoteMoveEpsilon) {
		s.logger.Debug("quote already moved",
			slog.String("side", string(side)),
			slog.String("quote", quote.String()),
			slog.String("ref_quote", prevQuote.String()),
		)
		return nil
	}

	bump := decimal.Min(s.params.MaxBump, change.Abs().Mul(two))
	implied := decimal.Min(maxImplied, quote.Add(bump))

	price := makerPrice(quote, w.BestAsk(side))
	if !price.IsPositive() || price.LessThan(s.params.MinPrice) {
		return nil
	}
	ev := implied.Div(price)
	if ev.LessThan(s.params.EVThreshold) {
		return nil
	}

	size := s.params.Notional.Div(price).Round(2)
	if size.LessThan(s.params.MinOrderSize) || !size.IsPositive() {
		return nil
	}

	if last, ok := s.lastEmit[w.MarketID]; ok && in.Tick.Timestamp.Sub(last) < s.params.Cooldown {
		return nil
	}
	// An intent the executor's cap would reject must not burn the cooldown.
	exposure := decimal.Zero
	if in.Inventory.MarketID == w.MarketID {
		exposure = in.Inventory.Exposure(side)
	}
	if exposure.Add(size).GreaterThan(s.params.InventoryCap) {
		s.logger.Debug("no room under inventory cap",
			slog.String("side", string(side)),
			slog.String("exposure", exposure.String()),
			slog.String("size", size.String()),
		)
		return nil
	}

	s.lastEmit[w.MarketID] = in.Tick.Timestamp
	intent := &domain.OrderIntent{
		ID:          s.newID(),
		MarketID:    w.MarketID,
		TokenID:     w.TokenID(side),
		Side:        side,
		Action:      domain.ActionPlace,
		Price:       price,
		Size:        size,
		Notional:    price.Mul(size),
		EV:          ev.Round(4),
		ReasonCode:  reason,
		GeneratedAt: in.Tick.Timestamp,
	}
	metrics.Intents.WithLabelValues(string(side)).Inc()
	s.logger.Info("intent emitted",
		slog.String("market_id", w.MarketID),
		slog.String("side", string(side)),
		slog.String("change", change.StringFixed(5)),
		slog.String("price", price.String()),
		slog.String("size", size.String()),
		slog.String("ev", intent.EV.String()),
	)
	return intent
}

// makerPrice floors quote to the tick and keeps it strictly below the best
// ask so the order rests instead of taking.
func makerPrice(quote, bestAsk decimal.Decimal) decimal.Decimal {
	p := quote.Div(tickSize).Floor().Mul(tickSize)
	if bestAsk.IsPositive() && p.GreaterThanOrEqual(bestAsk) {
		p = bestAsk.Sub(tickSize)
	}
	return p
}
