package paper

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
)

type fillRecorder struct {
	fills   []domain.Fill
	updates []domain.OrderUpdate
}

func (r *fillRecorder) OnVenueFill(f domain.Fill)               { r.fills = append(r.fills, f) }
func (r *fillRecorder) OnVenueOrderUpdate(u domain.OrderUpdate) { r.updates = append(r.updates, u) }

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newVenue() (*Venue, *fillRecorder) {
	rec := &fillRecorder{}
	return NewVenue(rec, slog.New(slog.NewTextHandler(io.Discard, nil))), rec
}

func quote(token, ask string) domain.Quote {
	return domain.Quote{TokenID: token, BestAsk: d(ask), At: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func TestPaperFillsWhenAskTradesThrough(t *testing.T) {
	v, rec := newVenue()
	ctx := context.Background()

	ack, err := v.PlaceOrder(ctx, domain.OrderRequest{TokenID: "yes", Price: d("0.40"), Size: d("25"), PostOnly: true})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusOpen, ack.Status)

	v.OnQuote(quote("yes", "0.41"))
	v.OnQuote(quote("no", "0.30"))
	assert.Empty(t, rec.fills)

	v.OnQuote(quote("yes", "0.40"))
	require.Len(t, rec.fills, 1)
	f := rec.fills[0]
	assert.Equal(t, ack.OrderID, f.OrderID)
	assert.True(t, f.Price.Equal(d("0.40")))
	assert.True(t, f.Size.Equal(d("25")))
	assert.NotEmpty(t, f.TradeID)
	assert.Zero(t, v.Resting())

	v.OnQuote(quote("yes", "0.35"))
	assert.Len(t, rec.fills, 1, "filled orders do not fill twice")
}

func TestPaperPostOnlyRejectsCross(t *testing.T) {
	v, _ := newVenue()
	v.OnQuote(quote("yes", "0.40"))

	_, err := v.PlaceOrder(context.Background(), domain.OrderRequest{TokenID: "yes", Price: d("0.40"), Size: d("5"), PostOnly: true})
	assert.ErrorIs(t, err, domain.ErrWouldCross)
	assert.True(t, domain.IsVenueRejection(err))

	_, err = v.PlaceOrder(context.Background(), domain.OrderRequest{TokenID: "yes", Price: d("0"), Size: d("5")})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestPaperCancel(t *testing.T) {
	v, rec := newVenue()
	ctx := context.Background()
	ack, err := v.PlaceOrder(ctx, domain.OrderRequest{TokenID: "yes", Price: d("0.40"), Size: d("5"), PostOnly: true})
	require.NoError(t, err)

	require.NoError(t, v.CancelOrder(ctx, ack.OrderID))
	assert.ErrorIs(t, v.CancelOrder(ctx, ack.OrderID), domain.ErrNotFound)

	_, err = v.PlaceOrder(ctx, domain.OrderRequest{TokenID: "yes", Price: d("0.40"), Size: d("5"), PostOnly: true})
	require.NoError(t, err)
	require.NoError(t, v.CancelAll(ctx))

	v.OnQuote(quote("yes", "0.10"))
	assert.Empty(t, rec.fills)
}
