// Package paper simulates a post-only venue for dry runs against live
// market data.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
)

type restingOrder struct {
	id      string
	tokenID string
	price   decimal.Decimal
	size    decimal.Decimal
}

// Venue implements domain.OrderVenue in memory. A resting buy fills in full
// at its own price once the token's best ask falls to or below it.
type Venue struct {
	mu      sync.Mutex
	orders  map[string]*restingOrder
	asks    map[string]decimal.Decimal // tokenID -> best ask
	handler domain.FillHandler
	logger  *slog.Logger
	now     func() time.Time
}

// NewVenue creates a paper venue. Fills go to handler, which may be set
// later with SetHandler.
func NewVenue(handler domain.FillHandler, logger *slog.Logger) *Venue {
	return &Venue{
		orders:  make(map[string]*restingOrder),
		asks:    make(map[string]decimal.Decimal),
		handler: handler,
		logger:  logger.With(slog.String("component", "paper_venue")),
		now:     time.Now,
	}
}

// SetHandler replaces the fill receiver.
func (v *Venue) SetHandler(h domain.FillHandler) {
	v.mu.Lock()
	v.handler = h
	v.mu.Unlock()
}

// PlaceOrder rests req. Post-only orders at or above the best ask are
// rejected the way the exchange does.
func (v *Venue) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	if req.TokenID == "" || !req.Price.IsPositive() || !req.Size.IsPositive() {
		return domain.OrderAck{}, &domain.VenueRejection{
			Reason: fmt.Sprintf("token %q price %s size %s", req.TokenID, req.Price, req.Size),
			Err:    domain.ErrInvalidOrder,
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if ask, ok := v.asks[req.TokenID]; ok && req.PostOnly && ask.IsPositive() && req.Price.GreaterThanOrEqual(ask) {
		return domain.OrderAck{}, &domain.VenueRejection{
			Reason: fmt.Sprintf("price %s crosses ask %s", req.Price, ask),
			Err:    domain.ErrWouldCross,
		}
	}

	id := "paper-" + uuid.NewString()
	v.orders[id] = &restingOrder{id: id, tokenID: req.TokenID, price: req.Price, size: req.Size}
	v.logger.Debug("order resting",
		slog.String("order_id", id),
		slog.String("token_id", req.TokenID),
		slog.String("price", req.Price.String()),
		slog.String("size", req.Size.String()),
	)
	return domain.OrderAck{OrderID: id, Status: domain.OrderStatusOpen}, nil
}

// CancelOrder removes a resting order.
func (v *Venue) CancelOrder(_ context.Context, orderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.orders[orderID]; !ok {
		return fmt.Errorf("paper: cancel %s: %w", orderID, domain.ErrNotFound)
	}
	delete(v.orders, orderID)
	return nil
}

// CancelAll removes every resting order.
func (v *Venue) CancelAll(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	clear(v.orders)
	return nil
}

// Resting is the number of open paper orders.
func (v *Venue) Resting() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.orders)
}

// OnQuote records the token's best ask and fills the orders it trades
// through. Fills are delivered after the lock is released so the handler may
// call back into the venue.
func (v *Venue) OnQuote(q domain.Quote) {
	v.mu.Lock()
	if q.BestAsk.IsPositive() {
		v.asks[q.TokenID] = q.BestAsk
	}
	var fills []domain.Fill
	if q.BestAsk.IsPositive() {
		at := q.At
		if at.IsZero() {
			at = v.now()
		}
		for id, o := range v.orders {
			if o.tokenID != q.TokenID || q.BestAsk.GreaterThan(o.price) {
				continue
			}
			fills = append(fills, domain.Fill{
				TradeID: "paper-trade-" + uuid.NewString(),
				OrderID: id,
				Price:   o.price,
				Size:    o.size,
				At:      at,
			})
			delete(v.orders, id)
		}
	}
	h := v.handler
	v.mu.Unlock()

	for _, f := range fills {
		v.logger.Info("paper fill",
			slog.String("order_id", f.OrderID),
			slog.String("price", f.Price.String()),
			slog.String("size", f.Size.String()),
		)
		if h != nil {
			h.OnVenueFill(f)
		}
	}
}
