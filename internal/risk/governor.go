// Package risk implements the daily loss circuit breaker.
package risk

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/metrics"
)

// Canceller pulls resting orders. marketID "" means every market.
type Canceller interface {
	CancelAll(ctx context.Context, marketID string) (int, error)
}

// Governor owns RiskState. Normal -> Tripped happens when the day's realized
// loss strictly exceeds the cap; Tripped -> Normal only on a new UTC day.
// Not safe for concurrent use.
type Governor struct {
	lossCap   decimal.Decimal
	state     domain.RiskState
	canceller Canceller
	onTrip    func(domain.RiskState)
	logger    *slog.Logger
}

// NewGovernor creates a governor for the trading day containing now.
func NewGovernor(lossCap decimal.Decimal, canceller Canceller, now time.Time, logger *slog.Logger) *Governor {
	return &Governor{
		lossCap:   lossCap,
		state:     domain.RiskState{TradingDay: domain.TradingDay(now)},
		canceller: canceller,
		logger:    logger.With(slog.String("component", "risk_governor")),
	}
}

// OnTrip registers a hook called once per trip, after cancel-all.
func (g *Governor) OnTrip(fn func(domain.RiskState)) { g.onTrip = fn }

// State returns a copy of the risk state.
func (g *Governor) State() domain.RiskState { return g.state }

// Tripped reports whether new orders are blocked.
func (g *Governor) Tripped() bool { return g.state.BreakerTripped }

// LossCap is the configured daily limit.
func (g *Governor) LossCap() decimal.Decimal { return g.lossCap }

// Observe updates the day's loss from inv and trips the breaker when it
// exceeds the cap. It reports whether this call tripped it.
func (g *Governor) Observe(ctx context.Context, now time.Time, inv domain.InventoryState) bool {
	loss := decimal.Max(decimal.Zero, inv.RealizedPnLToday.Neg())
	g.state.CumulativeLossToday = loss
	metrics.RealizedPnLToday.Set(inv.RealizedPnLToday.InexactFloat64())

	if g.state.BreakerTripped || !loss.GreaterThan(g.lossCap) {
		return false
	}

	g.state.BreakerTripped = true
	g.state.TripTime = now
	metrics.BreakerTripped.Set(1)
	g.logger.Error("daily loss breaker tripped",
		slog.String("loss", loss.StringFixed(2)),
		slog.String("cap", g.lossCap.StringFixed(2)),
	)

	if g.canceller != nil {
		n, err := g.canceller.CancelAll(ctx, "")
		if err != nil {
			g.logger.Error("cancel-all after trip failed", slog.String("error", err.Error()))
		} else {
			g.logger.Warn("orders cancelled after trip", slog.Int("cancelled", n))
		}
	}
	if g.onTrip != nil {
		g.onTrip(g.state)
	}
	return true
}

// RollDay resets the breaker when now falls on a later UTC date.
func (g *Governor) RollDay(now time.Time) bool {
	day := domain.TradingDay(now)
	if !day.After(g.state.TradingDay) {
		return false
	}
	wasTripped := g.state.BreakerTripped
	g.state = domain.RiskState{TradingDay: day}
	metrics.BreakerTripped.Set(0)
	g.logger.Info("trading day rolled", slog.Time("day", day), slog.Bool("was_tripped", wasTripped))
	return true
}
