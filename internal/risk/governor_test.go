package risk

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

type fakeCanceller struct {
	calls   []string
	openNow int
}

func (f *fakeCanceller) CancelAll(_ context.Context, marketID string) (int, error) {
	f.calls = append(f.calls, marketID)
	n := f.openNow
	f.openNow = 0
	return n, nil
}

var day1 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newGovernor(c Canceller) *Governor {
	return NewGovernor(decimal.NewFromInt(50), c, day1, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func pnl(v string) domain.InventoryState {
	return domain.InventoryState{RealizedPnLToday: decimal.RequireFromString(v)}
}

func TestGovernorTripsStrictlyAboveCap(t *testing.T) {
	c := &fakeCanceller{openNow: 3}
	g := newGovernor(c)
	var trips []domain.RiskState
	g.OnTrip(func(s domain.RiskState) { trips = append(trips, s) })
	ctx := context.Background()

	assert.False(t, g.Observe(ctx, day1, pnl("25")))
	assert.True(t, g.State().CumulativeLossToday.IsZero(), "gains are not losses")

	assert.False(t, g.Observe(ctx, day1, pnl("-50")), "a loss equal to the cap does not trip")
	assert.False(t, g.Tripped())

	at := day1.Add(time.Hour)
	assert.True(t, g.Observe(ctx, at, pnl("-50.01")))
	st := g.State()
	assert.True(t, st.BreakerTripped)
	assert.Equal(t, at, st.TripTime)
	assert.Equal(t, "50.01", st.CumulativeLossToday.String())
	assert.Equal(t, []string{""}, c.calls, "trip cancels every market")
	require.Len(t, trips, 1)

	assert.False(t, g.Observe(ctx, at.Add(time.Minute), pnl("-80")), "already tripped")
	assert.Len(t, c.calls, 1)
}

func TestGovernorStaysTrippedUntilNextUTCDay(t *testing.T) {
	g := newGovernor(&fakeCanceller{})
	ctx := context.Background()
	require.True(t, g.Observe(ctx, day1, pnl("-60")))

	// a profit later in the day does not un-trip
	g.Observe(ctx, day1.Add(2*time.Hour), pnl("10"))
	assert.True(t, g.Tripped())

	assert.False(t, g.RollDay(time.Date(2026, 3, 10, 23, 59, 59, 0, time.UTC)))
	assert.True(t, g.Tripped())

	// 01:00 in UTC+2 is still the previous UTC day
	loc := time.FixedZone("UTC+2", 2*3600)
	assert.False(t, g.RollDay(time.Date(2026, 3, 11, 1, 0, 0, 0, loc)))

	assert.True(t, g.RollDay(time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)))
	assert.False(t, g.Tripped())
	assert.True(t, g.State().CumulativeLossToday.IsZero())
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), g.State().TradingDay)
}
