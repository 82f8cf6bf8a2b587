package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TradeKind distinguishes fills from settlements in the journal.
type TradeKind string

const (
	TradeKindFill       TradeKind = "fill"
	TradeKindSettlement TradeKind = "settlement"
)

// TradeRecord is one audit journal row.
type TradeRecord struct {
	Time        time.Time       `json:"time"`
	Kind        TradeKind       `json:"kind"`
	MarketID    string          `json:"market_id"`
	OrderID     string          `json:"order_id,omitempty"`
	TradeID     string          `json:"trade_id,omitempty"`
	Side        Side            `json:"side"`
	Price       decimal.Decimal `json:"price"`
	Size        decimal.Decimal `json:"size"`
	Fee         decimal.Decimal `json:"fee"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
}

// TradeJournal appends trade records to durable storage.
type TradeJournal interface {
	AppendTrade(ctx context.Context, rec TradeRecord) error
}
