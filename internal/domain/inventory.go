package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InventoryState holds share counts for the active market and P&L for the
// current trading day.
type InventoryState struct {
	MarketID         string
	YesShares        decimal.Decimal
	NoShares         decimal.Decimal
	RealizedPnLToday decimal.Decimal
	UnrealizedPnL    decimal.Decimal

	// Unfilled size of this market's orders that could still fill.
	ReservedYes decimal.Decimal
	ReservedNo  decimal.Decimal
}

// Shares returns the share count for side.
func (s InventoryState) Shares(side Side) decimal.Decimal {
	if side == SideYes {
		return s.YesShares
	}
	return s.NoShares
}

// Exposure is what counts against the inventory cap on side: shares held
// plus size still reserved by orders.
func (s InventoryState) Exposure(side Side) decimal.Decimal {
	if side == SideYes {
		return s.YesShares.Add(s.ReservedYes)
	}
	return s.NoShares.Add(s.ReservedNo)
}

// RiskState is the daily loss breaker.
type RiskState struct {
	CumulativeLossToday decimal.Decimal
	BreakerTripped      bool
	TripTime            time.Time
	TradingDay          time.Time
}

// TradingDay truncates t to its UTC calendar date.
func TradingDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
