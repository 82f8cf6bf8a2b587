package polymarket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
)

var wsNow = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestParseMarketBook(t *testing.T) {
	raw := `{"event_type":"book","asset_id":"yes","market":"0xc",
	  "bids":[{"price":"0.30","size":"5"},{"price":"0.45","size":"1"},{"price":"0.47","size":"0"}],
	  "asks":[{"price":"0.60","size":"5"},{"price":"0.55","size":"2"}],
	  "timestamp":"1767268800123"}`
	books, err := ParseMarketMessage([]byte(raw), wsNow)
	require.NoError(t, err)
	require.Len(t, books, 1)
	b := books[0]
	assert.Equal(t, "0.45", b.BestBid.String(), "empty levels are skipped")
	assert.Equal(t, "0.55", b.BestAsk.String())
	assert.Equal(t, "0.5", b.Mid().String())
	assert.Equal(t, time.UnixMilli(1767268800123).UTC(), b.At)
}

func TestParseMarketPriceChangeArray(t *testing.T) {
	raw := `[{"event_type":"price_change","market":"0xc","timestamp":"1767268800",
	  "price_changes":[
	    {"asset_id":"yes","price":"0.5","size":"10","side":"BUY","best_bid":"0.50","best_ask":"0.52"},
	    {"asset_id":"no","price":"0.5","size":"10","side":"SELL"}]},
	  {"event_type":"last_trade_price","asset_id":"yes","price":"0.51"}]`
	books, err := ParseMarketMessage([]byte(raw), wsNow)
	require.NoError(t, err)
	require.Len(t, books, 1, "changes without top of book and trade prints carry no quote")
	assert.Equal(t, "yes", books[0].AssetID)
	assert.Equal(t, "0.51", books[0].Mid().String())
	assert.Equal(t, time.Unix(1767268800, 0).UTC(), books[0].At)
}

func TestParseMarketBestBidAskOneSided(t *testing.T) {
	books, err := ParseMarketMessage([]byte(`{"event_type":"best_bid_ask","asset_id":"no","best_bid":"","best_ask":"0.61"}`), wsNow)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "0.61", books[0].Mid().String())
	assert.Equal(t, wsNow, books[0].At)
}

func TestParseMarketMalformed(t *testing.T) {
	for _, raw := range []string{``, `PONG`, `[{"event_type":`, `{"asset_id":"x"}`, `{"event_type":"book","bids":"nope"}`} {
		_, err := ParseMarketMessage([]byte(raw), wsNow)
		assert.ErrorIs(t, err, ErrMalformed, raw)
	}
}

func TestParseUserTradeAndOrders(t *testing.T) {
	ours := func(id string) bool { return id == "mine" }
	raw := `[
	  {"event_type":"trade","id":"t9","status":"MATCHED","taker_order_id":"them","price":"0.4","size":"10",
	   "maker_orders":[{"order_id":"mine","matched_amount":"4","price":"0.39"},{"order_id":"other","matched_amount":"6","price":"0.4"}],
	   "timestamp":"1767268800000"},
	  {"event_type":"trade","id":"t10","status":"FAILED","maker_orders":[{"order_id":"mine","matched_amount":"1","price":"0.39"}]},
	  {"event_type":"order","id":"mine","type":"PLACEMENT"},
	  {"event_type":"order","id":"mine","type":"UPDATE"},
	  {"event_type":"order","id":"mine","type":"CANCELLATION"}
	]`
	fills, updates, err := ParseUserMessage([]byte(raw), ours, wsNow)
	require.NoError(t, err)

	require.Len(t, fills, 1)
	assert.Equal(t, domain.Fill{
		TradeID: "t9:mine",
		OrderID: "mine",
		Price:   fills[0].Price,
		Size:    fills[0].Size,
		At:      time.UnixMilli(1767268800000).UTC(),
	}, fills[0])
	assert.Equal(t, "0.39", fills[0].Price.String())
	assert.Equal(t, "4", fills[0].Size.String())

	require.Len(t, updates, 2)
	assert.Equal(t, domain.OrderStatusOpen, updates[0].Status)
	assert.Equal(t, domain.OrderStatusCancelled, updates[1].Status)
}

func TestSubscriptionFrames(t *testing.T) {
	b, err := json.Marshal(NewMarketSubscription("y", "n"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"assets_ids":["y","n"],"type":"market","custom_feature_enabled":true}`, string(b))

	b, err = json.Marshal(NewUserSubscription(UserAuth{APIKey: "k", Secret: "s", Passphrase: "p"}, "0xc"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"auth":{"apiKey":"k","secret":"s","passphrase":"p"},"markets":["0xc"],"type":"user"}`, string(b))
}
