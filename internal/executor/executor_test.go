package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/service"
)

type fakeVenue struct {
	placed    []domain.OrderRequest
	cancelled []string
	placeErr  error
	cancelErr map[string]error
	seq       int
}

func (v *fakeVenue) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	if v.placeErr != nil {
		return domain.OrderAck{}, v.placeErr
	}
	v.seq++
	v.placed = append(v.placed, req)
	return domain.OrderAck{OrderID: fmt.Sprintf("ord-%d", v.seq), Status: domain.OrderStatusOpen}, nil
}

func (v *fakeVenue) CancelOrder(_ context.Context, orderID string) error {
	v.cancelled = append(v.cancelled, orderID)
	return v.cancelErr[orderID]
}

func (v *fakeVenue) CancelAll(context.Context) error { return nil }

type flagRisk bool

func (f *flagRisk) Tripped() bool { return bool(*f) }

type memJournal struct{ recs []domain.TradeRecord }

func (j *memJournal) AppendTrade(_ context.Context, r domain.TradeRecord) error {
	j.recs = append(j.recs, r)
	return nil
}

// stalledStore never finishes an insert before its context ends.
type stalledStore struct{}

func (stalledStore) Insert(ctx context.Context, _ domain.TradeRecord) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stalledStore) ListByMarket(context.Context, string, domain.ListOpts) ([]domain.TradeRecord, error) {
	return nil, nil
}

func (stalledStore) ListSince(context.Context, time.Time, int) ([]domain.TradeRecord, error) {
	return nil, nil
}

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testWindow() *domain.MarketWindow {
	return &domain.MarketWindow{
		MarketID:   "m1",
		YesTokenID: "yes-1",
		NoTokenID:  "no-1",
		OpenTime:   t0,
		CloseTime:  t0.Add(15 * time.Minute),
		QuotedYes:  d("0.40"),
		QuotedNo:   d("0.60"),
		BestAskYes: d("0.41"),
		BestAskNo:  d("0.61"),
	}
}

func intent(side domain.Side, price, size string) domain.OrderIntent {
	return domain.OrderIntent{
		ID:       "intent",
		MarketID: "m1",
		TokenID:  "tok-" + string(side),
		Side:     side,
		Action:   domain.ActionPlace,
		Price:    d(price),
		Size:     d(size),
	}
}

type harness struct {
	m       *Manager
	venue   *fakeVenue
	risk    *flagRisk
	journal *memJournal
}

func newHarness(t *testing.T, cap string) harness {
	t.Helper()
	v := &fakeVenue{cancelErr: map[string]error{}}
	r := new(flagRisk)
	j := &memJournal{}
	m := NewManager(Config{InventoryCap: d(cap), PostOnly: true, FillDedupTTL: time.Minute}, v, r, j,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.now = func() time.Time { return t0 }
	m.SetMarket("m1")
	return harness{m: m, venue: v, risk: r, journal: j}
}

func TestSubmitPlacesPostOnlyOrder(t *testing.T) {
	h := newHarness(t, "50")
	rec, err := h.m.Submit(context.Background(), intent(domain.SideYes, "0.40", "10"), testWindow())
	require.NoError(t, err)

	assert.Equal(t, "ord-1", rec.OrderID)
	assert.Equal(t, domain.OrderStatusOpen, rec.Status)
	require.Len(t, h.venue.placed, 1)
	assert.True(t, h.venue.placed[0].PostOnly)
	assert.True(t, h.m.Owns("ord-1"))
	assert.False(t, h.m.Owns("ord-2"))
}

func TestSubmitRejections(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(h harness)
		intent  domain.OrderIntent
		window  *domain.MarketWindow
		wantErr error
		check   func(t *testing.T, err error)
	}{
		{
			name:    "breaker tripped",
			setup:   func(h harness) { *h.risk = true },
			intent:  intent(domain.SideYes, "0.40", "10"),
			window:  testWindow(),
			wantErr: domain.ErrBreakerTripped,
		},
		{
			name:    "market mismatch",
			intent:  func() domain.OrderIntent { i := intent(domain.SideYes, "0.40", "10"); i.MarketID = "m0"; return i }(),
			window:  testWindow(),
			wantErr: domain.ErrMarketMismatch,
		},
		{
			name:    "no window",
			intent:  intent(domain.SideYes, "0.40", "10"),
			wantErr: domain.ErrNoActiveMarket,
		},
		{
			name:    "would cross",
			intent:  intent(domain.SideNo, "0.61", "10"),
			window:  testWindow(),
			wantErr: domain.ErrWouldCross,
			check:   func(t *testing.T, err error) { assert.True(t, domain.IsVenueRejection(err)) },
		},
		{
			name:    "over cap",
			intent:  intent(domain.SideYes, "0.40", "51"),
			window:  testWindow(),
			wantErr: domain.ErrInventoryCap,
			check:   func(t *testing.T, err error) { assert.True(t, domain.IsRiskBreach(err)) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "50")
			if tt.setup != nil {
				tt.setup(h)
			}
			_, err := h.m.Submit(context.Background(), tt.intent, tt.window)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.check != nil {
				tt.check(t, err)
			}
			assert.Empty(t, h.venue.placed)
		})
	}
}

func TestSubmitCountsReservedSize(t *testing.T) {
	h := newHarness(t, "50")
	ctx := context.Background()
	_, err := h.m.Submit(ctx, intent(domain.SideYes, "0.40", "30"), testWindow())
	require.NoError(t, err)

	// Cancelled but unconfirmed size still counts: a fill may race the cancel.
	_, err = h.m.CancelAll(ctx, "m1")
	require.NoError(t, err)

	_, err = h.m.Submit(ctx, intent(domain.SideYes, "0.40", "25"), testWindow())
	assert.ErrorIs(t, err, domain.ErrInventoryCap)

	// The other side has its own budget.
	_, err = h.m.Submit(ctx, intent(domain.SideNo, "0.55", "25"), testWindow())
	assert.NoError(t, err)
}

func TestConfirmedCancelReleasesReservation(t *testing.T) {
	h := newHarness(t, "50")
	ctx := context.Background()
	_, err := h.m.Submit(ctx, intent(domain.SideYes, "0.40", "30"), testWindow())
	require.NoError(t, err)
	_, err = h.m.CancelAll(ctx, "m1")
	require.NoError(t, err)

	require.NoError(t, h.m.OnOrderUpdate(domain.OrderUpdate{OrderID: "ord-1", Status: domain.OrderStatusCancelled, At: t0}))
	_, err = h.m.Submit(ctx, intent(domain.SideYes, "0.40", "25"), testWindow())
	assert.ErrorIs(t, err, domain.ErrInventoryCap, "still inside the release window")
	assert.Equal(t, "30", h.m.Inventory().ReservedYes.String())

	h.m.now = func() time.Time { return t0.Add(31 * time.Second) }
	assert.True(t, h.m.Inventory().ReservedYes.IsZero())
	_, err = h.m.Submit(ctx, intent(domain.SideYes, "0.40", "25"), testWindow())
	require.NoError(t, err)
	assert.Equal(t, "25", h.m.Inventory().ReservedYes.String())
}

func TestSubmitVenueErrors(t *testing.T) {
	h := newHarness(t, "50")
	h.venue.placeErr = &domain.VenueRejection{Reason: "balance", Err: domain.ErrInsufficientBalance}
	_, err := h.m.Submit(context.Background(), intent(domain.SideYes, "0.40", "10"), testWindow())
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	h.venue.placeErr = errors.New("connection reset")
	_, err = h.m.Submit(context.Background(), intent(domain.SideYes, "0.40", "10"), testWindow())
	assert.True(t, domain.IsTransport(err))
	assert.Empty(t, h.m.Orders())
}

func TestCancelAllIsIdempotent(t *testing.T) {
	h := newHarness(t, "50")
	ctx := context.Background()
	for range 3 {
		_, err := h.m.Submit(ctx, intent(domain.SideYes, "0.40", "5"), testWindow())
		require.NoError(t, err)
	}

	n, err := h.m.CancelAll(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, h.venue.cancelled, 3)

	n, err = h.m.CancelAll(ctx, "m1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, h.venue.cancelled, 3, "second call must not reach the venue")
	assert.Empty(t, h.m.OpenOrders(""))
}

func TestCancelAllScopesToMarketAndKeepsGoing(t *testing.T) {
	h := newHarness(t, "50")
	ctx := context.Background()
	_, err := h.m.Submit(ctx, intent(domain.SideYes, "0.40", "5"), testWindow())
	require.NoError(t, err)
	_, err = h.m.Submit(ctx, intent(domain.SideYes, "0.40", "5"), testWindow())
	require.NoError(t, err)

	n, err := h.m.CancelAll(ctx, "other")
	require.NoError(t, err)
	assert.Zero(t, n)

	h.venue.cancelErr["ord-1"] = &domain.TransportError{Op: "cancel", Err: errors.New("timeout")}
	h.venue.cancelErr["ord-2"] = domain.ErrNotFound
	n, err = h.m.CancelAll(ctx, "")
	assert.Error(t, err)
	assert.Equal(t, 1, n, "not-found counts as cancelled")

	open := h.m.OpenOrders("")
	require.Len(t, open, 1)
	assert.Equal(t, "ord-1", open[0].OrderID)
}

func TestOnFillUpdatesInventoryAndJournal(t *testing.T) {
	h := newHarness(t, "50")
	ctx := context.Background()
	_, err := h.m.Submit(ctx, intent(domain.SideYes, "0.40", "10"), testWindow())
	require.NoError(t, err)

	require.NoError(t, h.m.OnFill(ctx, domain.Fill{TradeID: "t1", OrderID: "ord-1", Price: d("0.40"), Size: d("4")}))
	inv := h.m.Inventory()
	assert.True(t, inv.YesShares.Equal(d("4")))
	assert.Equal(t, domain.OrderStatusPartiallyFilled, h.m.Orders()[0].Status)

	require.NoError(t, h.m.OnFill(ctx, domain.Fill{TradeID: "t2", OrderID: "ord-1", Price: d("0.40"), Size: d("6")}))
	assert.Equal(t, domain.OrderStatusFilled, h.m.Orders()[0].Status)
	assert.True(t, h.m.Inventory().YesShares.Equal(d("10")))
	require.Len(t, h.journal.recs, 2)
	assert.Equal(t, domain.TradeKindFill, h.journal.recs[1].Kind)
}

func TestOnFillDoesNotWaitForTradeStore(t *testing.T) {
	h := newHarness(t, "50")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pub := service.NewPublisher(service.Sinks{}, 8, logger)
	journal := service.NewJournal(stalledStore{}, nil, logger)
	journal.Forward(pub.Offer)
	h.m.journal = journal

	ctx := context.Background()
	_, err := h.m.Submit(ctx, intent(domain.SideYes, "0.40", "10"), testWindow())
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, h.m.OnFill(ctx, domain.Fill{TradeID: "t1", OrderID: "ord-1", Price: d("0.40"), Size: d("10")}))
	h.m.Settle(ctx, domain.Resolution{MarketID: "m1", YesWon: true, ResolvedAt: t0})
	assert.Less(t, time.Since(start), 200*time.Millisecond)
	assert.Len(t, journal.TakeDay(t0), 2)
}

func TestOnFillDuplicateUnknownAndOverfill(t *testing.T) {
	h := newHarness(t, "50")
	ctx := context.Background()
	_, err := h.m.Submit(ctx, intent(domain.SideNo, "0.55", "10"), testWindow())
	require.NoError(t, err)

	fill := domain.Fill{TradeID: "t1", OrderID: "ord-1", Price: d("0.55"), Size: d("5")}
	require.NoError(t, h.m.OnFill(ctx, fill))
	require.NoError(t, h.m.OnFill(ctx, fill))
	assert.True(t, h.m.Inventory().NoShares.Equal(d("5")), "duplicate trade applied once")

	err = h.m.OnFill(ctx, domain.Fill{TradeID: "t9", OrderID: "ghost", Size: d("1")})
	var si *domain.StateInconsistency
	require.ErrorAs(t, err, &si)
	assert.ErrorIs(t, err, domain.ErrUnknownOrder)
	assert.True(t, h.m.Inventory().NoShares.Equal(d("5")))

	require.NoError(t, h.m.OnFill(ctx, domain.Fill{TradeID: "t2", OrderID: "ord-1", Price: d("0.55"), Size: d("50")}))
	assert.True(t, h.m.Inventory().NoShares.Equal(d("10")), "overfill clamped to order size")
}

func TestInventoryNeverExceedsCap(t *testing.T) {
	h := newHarness(t, "20")
	ctx := context.Background()
	w := testWindow()

	// Place and fill repeatedly, including cancelled orders that fill late.
	for i := 0; i < 10; i++ {
		rec, err := h.m.Submit(ctx, intent(domain.SideYes, "0.40", "7"), w)
		if err != nil {
			assert.ErrorIs(t, err, domain.ErrInventoryCap)
			continue
		}
		if i%2 == 0 {
			_, err = h.m.CancelAll(ctx, "m1")
			require.NoError(t, err)
		}
		require.NoError(t, h.m.OnFill(ctx, domain.Fill{
			TradeID: fmt.Sprintf("t%d", i), OrderID: rec.OrderID, Price: d("0.40"), Size: d("9"),
		}))
		assert.True(t, h.m.Inventory().YesShares.LessThanOrEqual(d("20")))
	}
	assert.True(t, h.m.Inventory().YesShares.Equal(d("14")))
}

func TestOnOrderUpdate(t *testing.T) {
	h := newHarness(t, "50")
	ctx := context.Background()
	_, err := h.m.Submit(ctx, intent(domain.SideYes, "0.40", "10"), testWindow())
	require.NoError(t, err)

	require.NoError(t, h.m.OnOrderUpdate(domain.OrderUpdate{OrderID: "ord-1", Status: domain.OrderStatusCancelled, At: t0}))
	assert.Equal(t, domain.OrderStatusCancelled, h.m.Orders()[0].Status)

	// Terminal orders do not reopen.
	require.NoError(t, h.m.OnOrderUpdate(domain.OrderUpdate{OrderID: "ord-1", Status: domain.OrderStatusOpen, At: t0}))
	assert.Equal(t, domain.OrderStatusCancelled, h.m.Orders()[0].Status)

	assert.ErrorIs(t, h.m.OnOrderUpdate(domain.OrderUpdate{OrderID: "nope", Status: domain.OrderStatusOpen}), domain.ErrUnknownOrder)
}

func TestSettle(t *testing.T) {
	tests := []struct {
		name   string
		yesWon bool
		want   string
	}{
		// 10 Yes at 0.40 cost 4; 10 No at 0.55 cost 5.5.
		{name: "yes wins", yesWon: true, want: "0.5"}, // (10-4) - 5.5
		{name: "no wins", yesWon: false, want: "0.5"}, // -4 + (10-5.5)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "50")
			ctx := context.Background()
			_, err := h.m.Submit(ctx, intent(domain.SideYes, "0.40", "10"), testWindow())
			require.NoError(t, err)
			_, err = h.m.Submit(ctx, intent(domain.SideNo, "0.55", "10"), testWindow())
			require.NoError(t, err)
			require.NoError(t, h.m.OnFill(ctx, domain.Fill{TradeID: "a", OrderID: "ord-1", Price: d("0.40"), Size: d("10")}))
			require.NoError(t, h.m.OnFill(ctx, domain.Fill{TradeID: "b", OrderID: "ord-2", Price: d("0.55"), Size: d("10")}))

			pnl := h.m.Settle(ctx, domain.Resolution{MarketID: "m1", YesWon: tt.yesWon, ResolvedAt: t0})
			assert.True(t, pnl.Equal(d(tt.want)), "got %s", pnl)
			assert.True(t, h.m.Inventory().RealizedPnLToday.Equal(d(tt.want)))
			assert.False(t, h.m.HasPosition("m1"))

			// Settling again is a no-op.
			assert.True(t, h.m.Settle(ctx, domain.Resolution{MarketID: "m1", YesWon: tt.yesWon}).IsZero())
		})
	}
}

func TestSettleLossOnly(t *testing.T) {
	h := newHarness(t, "50")
	ctx := context.Background()
	_, err := h.m.Submit(ctx, intent(domain.SideYes, "0.40", "10"), testWindow())
	require.NoError(t, err)
	require.NoError(t, h.m.OnFill(ctx, domain.Fill{TradeID: "a", OrderID: "ord-1", Price: d("0.40"), Size: d("10")}))

	pnl := h.m.Settle(ctx, domain.Resolution{MarketID: "m1", YesWon: false})
	assert.True(t, pnl.Equal(d("-4")))

	trades := h.m.TakeTrades("m1")
	require.Len(t, trades, 2)
	assert.Equal(t, domain.TradeKindSettlement, trades[1].Kind)
	assert.Empty(t, h.m.TakeTrades("m1"))
}

func TestMarkToMarketAndRollDay(t *testing.T) {
	h := newHarness(t, "50")
	ctx := context.Background()
	_, err := h.m.Submit(ctx, intent(domain.SideYes, "0.40", "10"), testWindow())
	require.NoError(t, err)
	require.NoError(t, h.m.OnFill(ctx, domain.Fill{TradeID: "a", OrderID: "ord-1", Price: d("0.40"), Size: d("10"), Fee: d("0.1")}))

	w := testWindow()
	w.QuotedYes = d("0.50")
	assert.True(t, h.m.MarkToMarket(*w).Equal(d("1")))
	assert.True(t, h.m.Inventory().RealizedPnLToday.Equal(d("-0.1")))

	prev := h.m.RollDay(t0.Add(24 * time.Hour))
	assert.True(t, prev.Equal(d("-0.1")))
	assert.True(t, h.m.Inventory().RealizedPnLToday.IsZero())
	assert.True(t, h.m.Inventory().YesShares.Equal(d("10")), "positions survive the day roll")
}

func TestRestoreRealized(t *testing.T) {
	h := newHarness(t, "50")
	h.m.RestoreRealized(d("-12.5"))
	assert.True(t, h.m.Inventory().RealizedPnLToday.Equal(d("-12.5")))
	assert.True(t, h.m.RollDay(t0.Add(24*time.Hour)).Equal(d("-12.5")))
}

func TestDedupExpires(t *testing.T) {
	dd := NewDedup(time.Minute)
	assert.False(t, dd.Seen("a", t0))
	assert.True(t, dd.Seen("a", t0.Add(30*time.Second)))
	assert.False(t, dd.Seen("a", t0.Add(2*time.Minute)))

	dd.Cleanup(t0.Add(10 * time.Minute))
	assert.Zero(t, dd.Len())
}
