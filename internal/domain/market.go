package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketWindow is one 15-minute binary market. Values are immutable: every
// change produces a copy with a higher Version.
type MarketWindow struct {
	MarketID    string
	ConditionID string
	Question    string
	Slug        string
	YesTokenID  string
	NoTokenID   string
	OpenTime    time.Time
	CloseTime   time.Time

	QuotedYes  decimal.Decimal
	QuotedNo   decimal.Decimal
	BestBidYes decimal.Decimal
	BestAskYes decimal.Decimal
	BestBidNo  decimal.Decimal
	BestAskNo  decimal.Decimal

	LastUpdate time.Time
	Version    uint64
}

// IsActive reports whether now falls in [OpenTime, CloseTime).
func (w MarketWindow) IsActive(now time.Time) bool {
	return !now.Before(w.OpenTime) && now.Before(w.CloseTime)
}

// HasQuotes reports whether a Yes quote has been observed.
func (w MarketWindow) HasQuotes() bool {
	return w.QuotedYes.IsPositive()
}

// Quote returns the quoted price for the given side. A missing No quote is
// derived from the Yes quote.
func (w MarketWindow) Quote(side Side) decimal.Decimal {
	if side == SideYes {
		return w.QuotedYes
	}
	if w.QuotedNo.IsPositive() {
		return w.QuotedNo
	}
	if w.QuotedYes.IsPositive() {
		return decimal.NewFromInt(1).Sub(w.QuotedYes)
	}
	return decimal.Zero
}

// BestAsk returns the best ask for side, zero when unknown.
func (w MarketWindow) BestAsk(side Side) decimal.Decimal {
	if side == SideYes {
		return w.BestAskYes
	}
	return w.BestAskNo
}

// TokenID returns the outcome token for side.
func (w MarketWindow) TokenID(side Side) string {
	if side == SideYes {
		return w.YesTokenID
	}
	return w.NoTokenID
}

// SideForToken maps an outcome token back to its side.
func (w MarketWindow) SideForToken(tokenID string) (Side, bool) {
	switch tokenID {
	case w.YesTokenID:
		return SideYes, true
	case w.NoTokenID:
		return SideNo, true
	}
	return "", false
}

// Quote is a top-of-book update for one outcome token.
type Quote struct {
	MarketID string
	TokenID  string
	Mid      decimal.Decimal
	BestBid  decimal.Decimal
	BestAsk  decimal.Decimal
	At       time.Time
}

// Resolution is the final outcome of a closed market.
type Resolution struct {
	MarketID   string
	YesWon     bool
	ResolvedAt time.Time
}
