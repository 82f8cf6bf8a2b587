package engine

import (
	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
)

// EventKind identifies what an Event carries.
type EventKind int

const (
	TickEvent EventKind = iota + 1
	WindowEvent
	QuoteEvent
	FillEvent
	OrderUpdateEvent
	ResolutionEvent
)

func (k EventKind) String() string {
	switch k {
	case TickEvent:
		return "tick"
	case WindowEvent:
		return "window"
	case QuoteEvent:
		return "quote"
	case FillEvent:
		return "fill"
	case OrderUpdateEvent:
		return "order_update"
	case ResolutionEvent:
		return "resolution"
	default:
		return "unknown"
	}
}

// Event is one input to the loop. Only the field matching Kind is set.
type Event struct {
	Kind       EventKind
	Tick       domain.PriceTick
	Window     *domain.MarketWindow
	Quote      domain.Quote
	Fill       domain.Fill
	Update     domain.OrderUpdate
	Resolution domain.Resolution
}
