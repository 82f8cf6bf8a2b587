package polymarket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
)

const eventsJSON = `[{
  "id":"e1","title":"Bitcoin Up or Down - 15 minute","slug":"btc-updown-15m","active":true,"closed":false,
  "markets":[
    {"id":"old","conditionId":"0xold","closed":true,"clobTokenIds":"[\"a\",\"b\"]","endDate":"2026-01-01T11:45:00Z"},
    {"id":"later","conditionId":"0xlater","closed":false,"acceptingOrders":true,"clobTokenIds":"[\"c\",\"d\"]","endDate":"2026-01-01T12:15:00Z"},
    {"id":"cur","conditionId":"0xcur","question":"BTC up 12:00?","closed":"false","acceptingOrders":"true","clobTokenIds":"[\"yes1\",\"no1\"]","endDate":"2026-01-01T12:00:00Z"},
    {"id":"paused","closed":false,"acceptingOrders":false,"clobTokenIds":["e","f"],"endDate":"2026-01-01T11:55:00Z"}
  ]}]`

func TestFindActiveWindowBySlug(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events", r.URL.Path)
		assert.Equal(t, "btc-updown-15m", r.URL.Query().Get("slug"))
		assert.Equal(t, "false", r.URL.Query().Get("closed"))
		_, _ = w.Write([]byte(eventsJSON))
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL)
	now := time.Date(2026, 1, 1, 11, 50, 0, 0, time.UTC)
	w, err := g.FindActiveWindow(context.Background(), WindowQuery{EventSlug: "btc-updown-15m", WindowLength: 15 * time.Minute}, now)
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, "cur", w.MarketID)
	assert.Equal(t, "0xcur", w.ConditionID)
	assert.Equal(t, "yes1", w.YesTokenID)
	assert.Equal(t, "no1", w.NoTokenID)
	assert.Equal(t, time.Date(2026, 1, 1, 11, 45, 0, 0, time.UTC), w.OpenTime)
	assert.Equal(t, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), w.CloseTime)
}

func TestFindActiveWindowTagFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("slug") != "" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		assert.Equal(t, "bitcoin", r.URL.Query().Get("tag_slug"))
		_, _ = w.Write([]byte(`[{"id":"x","title":"Bitcoin above 100k on Friday?","markets":[
		   {"id":"weekly","clobTokenIds":["w1","w2"],"endDate":"2026-01-02T00:00:00Z"}]},` + eventsJSON[1:]))
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL)
	now := time.Date(2026, 1, 1, 12, 5, 0, 0, time.UTC)
	w, err := g.FindActiveWindow(context.Background(), WindowQuery{
		EventSlug: "missing", TagSlug: "bitcoin", TitleMatch: []string{"15 minute"}, WindowLength: 15 * time.Minute,
	}, now)
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, "later", w.MarketID, "non-matching titles are ignored and ended markets skipped")
}

func TestFindActiveWindowNone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	w, err := NewGammaClient(srv.URL).FindActiveWindow(context.Background(), WindowQuery{EventSlug: "x"}, time.Now())
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestGetMarketResolution(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/markets/yes":
			_, _ = w.Write([]byte(`{"id":"yes","closed":true,"outcomePrices":"[\"1\",\"0\"]"}`))
		case "/markets/no":
			_, _ = w.Write([]byte(`{"id":"no","closed":true,"outcomePrices":["0","1"]}`))
		case "/markets/open":
			_, _ = w.Write([]byte(`{"id":"open","closed":false,"outcomePrices":["0.6","0.4"]}`))
		case "/markets/down":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	g := NewGammaClient(srv.URL)
	ctx := context.Background()

	res, err := g.GetMarketResolution(ctx, "yes")
	require.NoError(t, err)
	assert.Equal(t, MarketResolution{Closed: true, YesWon: true}, res)

	res, err = g.GetMarketResolution(ctx, "no")
	require.NoError(t, err)
	assert.Equal(t, MarketResolution{Closed: true, YesWon: false}, res)

	res, err = g.GetMarketResolution(ctx, "open")
	require.NoError(t, err)
	assert.False(t, res.Closed)

	_, err = g.GetMarketResolution(ctx, "down")
	assert.True(t, domain.IsTransport(err))

	_, err = g.GetMarketResolution(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
