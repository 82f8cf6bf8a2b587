package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/crypto"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/platform/polymarket"
)

type quoteRecorder struct {
	mu     sync.Mutex
	quotes []domain.Quote
}

func (r *quoteRecorder) add(q domain.Quote) {
	r.mu.Lock()
	r.quotes = append(r.quotes, q)
	r.mu.Unlock()
}

func (r *quoteRecorder) snapshot() []domain.Quote {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Quote(nil), r.quotes...)
}

func TestQuoteFeedHandleMessageFiltersTokens(t *testing.T) {
	rec := &quoteRecorder{}
	f := NewQuoteFeed("wss://example", DefaultBackoff(), 10, rec.add, testLogger())
	f.Track(&domain.MarketWindow{MarketID: "m1", YesTokenID: "yes", NoTokenID: "no"})

	raw := `[
	  {"event_type":"book","asset_id":"yes","market":"0xc","bids":[{"price":"0.48","size":"10"}],"asks":[{"price":"0.52","size":"10"}],"timestamp":"1767268800000"},
	  {"event_type":"book","asset_id":"other","market":"0xc","bids":[{"price":"0.10","size":"10"}],"asks":[{"price":"0.20","size":"10"}]}
	]`
	require.NoError(t, f.handleMessage([]byte(raw)))

	got := rec.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].MarketID)
	assert.Equal(t, "yes", got[0].TokenID)
	assert.Equal(t, "0.5", got[0].Mid.String())
}

func TestQuoteFeedResubscribesOnTrack(t *testing.T) {
	subs := make(chan polymarket.MarketSubscription, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		var sub polymarket.MarketSubscription
		_ = json.Unmarshal(msg, &sub)
		subs <- sub
		book := `{"event_type":"best_bid_ask","asset_id":"` + sub.AssetIDs[0] + `","best_bid":"0.40","best_ask":"0.42"}`
		_ = c.WriteMessage(websocket.TextMessage, []byte(book))
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	rec := &quoteRecorder{}
	b := Backoff{Base: time.Millisecond, Cap: 5 * time.Millisecond}
	f := NewQuoteFeed("ws"+strings.TrimPrefix(srv.URL, "http"), b, 10, rec.add, testLogger())

	f.Track(&domain.MarketWindow{MarketID: "m1", YesTokenID: "y1", NoTokenID: "n1"})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- f.Run(ctx) }()

	first := <-subs
	assert.Equal(t, []string{"y1", "n1"}, first.AssetIDs)
	assert.Equal(t, "market", first.Type)
	assert.True(t, first.CustomFeatureEnabled)

	f.Track(&domain.MarketWindow{MarketID: "m2", YesTokenID: "y2", NoTokenID: "n2"})
	second := <-subs
	assert.Equal(t, []string{"y2", "n2"}, second.AssetIDs)

	require.Eventually(t, func() bool {
		for _, q := range rec.snapshot() {
			if q.MarketID == "m2" && q.TokenID == "y2" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, f.ConnState().Attempt, "a resubscribe is not a failure")

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

type fillRecorder struct {
	mu      sync.Mutex
	fills   []domain.Fill
	updates []domain.OrderUpdate
}

func (r *fillRecorder) OnVenueFill(f domain.Fill) {
	r.mu.Lock()
	r.fills = append(r.fills, f)
	r.mu.Unlock()
}

func (r *fillRecorder) OnVenueOrderUpdate(u domain.OrderUpdate) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func TestFillStreamTrackAndHandle(t *testing.T) {
	rec := &fillRecorder{}
	ours := func(id string) bool { return id == "o1" }
	s := NewFillStream("wss://example", crypto.APICreds{Key: "key", Secret: "c2VjcmV0", Passphrase: "pass"}, DefaultBackoff(), 10, ours, rec, testLogger())

	_, ok := s.subscription()
	assert.False(t, ok, "nothing to subscribe before a market is tracked")

	s.Track(&domain.MarketWindow{ConditionID: "0xa"})
	s.Track(&domain.MarketWindow{ConditionID: "0xa"})
	s.Track(&domain.MarketWindow{ConditionID: "0xb"})
	s.Track(&domain.MarketWindow{ConditionID: "0xc"})
	frame, ok := s.subscription()
	require.True(t, ok)
	sub := frame.(polymarket.UserSubscription)
	assert.Equal(t, []string{"0xb", "0xc"}, sub.Markets)
	assert.Equal(t, "user", sub.Type)
	assert.Equal(t, "key", sub.Auth.APIKey)

	raw := `[{"event_type":"trade","id":"t1","status":"MATCHED","maker_orders":[
	           {"order_id":"o1","matched_amount":"5","price":"0.4"},
	           {"order_id":"someone-else","matched_amount":"3","price":"0.4"}]},
	         {"event_type":"order","id":"o1","type":"CANCELLATION"}]`
	require.NoError(t, s.handleMessage([]byte(raw)))
	require.Len(t, rec.fills, 1)
	assert.Equal(t, "t1:o1", rec.fills[0].TradeID)
	require.Len(t, rec.updates, 1)
	assert.Equal(t, domain.OrderStatusCancelled, rec.updates[0].Status)
}
