package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// NoticeKind names an engine side effect.
type NoticeKind string

const (
	NoticeTick       NoticeKind = "tick"
	NoticeIntent     NoticeKind = "intent"
	NoticeOrder      NoticeKind = "order"
	NoticeRejected   NoticeKind = "order_rejected"
	NoticeRollover   NoticeKind = "rollover"
	NoticeBreaker    NoticeKind = "breaker_tripped"
	NoticeSettlement NoticeKind = "settlement"
	NoticeDayRolled  NoticeKind = "day_rolled"
	NoticeTrade      NoticeKind = "trade"
)

// Notice is an after-the-fact report from the engine to the publisher.
// Only the fields relevant to Kind are set.
type Notice struct {
	Kind       NoticeKind
	At         time.Time
	Tick       *PriceTick
	Intent     *OrderIntent
	Order      *OrderRecord
	Archive    *WindowArchive
	Next       *MarketWindow
	Risk       *RiskState
	Resolution *Resolution
	Trade      *TradeRecord
	PnL        decimal.Decimal
	Reason     string
}
