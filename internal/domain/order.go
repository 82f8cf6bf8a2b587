package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the binary outcome an order buys.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Opposite returns the other outcome.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// IntentAction is what an OrderIntent asks the executor to do.
type IntentAction string

const (
	ActionPlace     IntentAction = "place"
	ActionCancelAll IntentAction = "cancel_all"
)

// OrderIntent is a proposed order produced by the strategy. It is consumed
// once by the executor.
type OrderIntent struct {
	ID          string
	MarketID    string
	TokenID     string
	Side        Side
	Action      IntentAction
	Price       decimal.Decimal
	Size        decimal.Decimal
	Notional    decimal.Decimal
	EV          decimal.Decimal
	ReasonCode  string
	GeneratedAt time.Time
}

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Terminal reports whether no further status transitions are expected.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// Cancellable reports whether the order still rests on the venue.
func (s OrderStatus) Cancellable() bool {
	switch s {
	case OrderStatusPending, OrderStatusOpen, OrderStatusPartiallyFilled:
		return true
	}
	return false
}

// OrderRecord is the executor's view of a submitted order.
type OrderRecord struct {
	OrderID      string
	IntentID     string
	MarketID     string
	TokenID      string
	Side         Side
	Price        decimal.Decimal
	Size         decimal.Decimal
	FilledSize   decimal.Decimal
	Status       OrderStatus
	SubmittedAt  time.Time
	LastStatusAt time.Time
}

// Remaining is the unfilled size.
func (o OrderRecord) Remaining() decimal.Decimal {
	r := o.Size.Sub(o.FilledSize)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// OrderRequest is what the executor sends to a venue.
type OrderRequest struct {
	MarketID string
	TokenID  string
	Side     Side
	Price    decimal.Decimal
	Size     decimal.Decimal
	PostOnly bool
}

// OrderAck is the venue's response to a placement.
type OrderAck struct {
	OrderID string
	Status  OrderStatus
}

// Fill is a (partial) execution reported by the venue.
type Fill struct {
	TradeID string
	OrderID string
	Price   decimal.Decimal
	Size    decimal.Decimal
	Fee     decimal.Decimal
	At      time.Time
}

// OrderUpdate is a venue-side status change for one order.
type OrderUpdate struct {
	OrderID string
	Status  OrderStatus
	At      time.Time
}

// OrderVenue submits and cancels orders.
type OrderVenue interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, orderID string) error
	CancelAll(ctx context.Context) error
}

// FillHandler receives venue execution reports.
type FillHandler interface {
	OnVenueFill(f Fill)
	OnVenueOrderUpdate(u OrderUpdate)
}
