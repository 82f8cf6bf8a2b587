package polymarket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/crypto"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
)

const testExchange = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"

func newTestVenue(t *testing.T, h http.HandlerFunc) *Venue {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	signer, err := crypto.NewSigner(key, 137, testExchange)
	require.NoError(t, err)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	clob := NewClobClient(ClobOptions{
		BaseURL: srv.URL,
		Signer:  signer,
		Creds:   crypto.APICreds{Key: "k", Secret: "c2VjcmV0", Passphrase: "p"},
	})
	return NewVenue(clob, signer, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBuildOrderAmounts(t *testing.T) {
	req := domain.OrderRequest{
		TokenID: "123",
		Side:    domain.SideYes,
		Price:   decimal.RequireFromString("0.1"),
		Size:    decimal.RequireFromString("100"),
	}
	p, err := BuildOrder(req, "0xmaker", "0xsigner", 2)
	require.NoError(t, err)
	assert.Equal(t, "10000000", p.MakerAmount, "10 USDC of collateral")
	assert.Equal(t, "100000000", p.TakerAmount, "100 shares")
	assert.Equal(t, crypto.SideBuy, p.Side)
	assert.Equal(t, "123", p.TokenID)
	assert.NotEmpty(t, p.Salt)

	_, err = BuildOrder(domain.OrderRequest{TokenID: "1", Price: decimal.NewFromInt(1), Size: decimal.NewFromInt(1)}, "", "", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	_, err = BuildOrder(domain.OrderRequest{TokenID: "1", Price: decimal.RequireFromString("0.5"), Size: decimal.RequireFromString("0.001")}, "", "", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestVenuePlaceOrder(t *testing.T) {
	var body map[string]any
	v := newTestVenue(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/order", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("POLY_API_KEY"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"success":true,"orderID":"0xabc","status":"live"}`))
	})

	ack, err := v.PlaceOrder(context.Background(), domain.OrderRequest{
		TokenID: "123", Side: domain.SideYes,
		Price: decimal.RequireFromString("0.1"), Size: decimal.NewFromInt(100), PostOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderAck{OrderID: "0xabc", Status: domain.OrderStatusOpen}, ack)
	assert.Equal(t, true, body["postOnly"])
	assert.Equal(t, "GTC", body["orderType"])
	order := body["order"].(map[string]any)
	assert.Equal(t, "BUY", order["side"])
	assert.NotEmpty(t, order["signature"])
}

func TestVenuePlaceOrderRejections(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{"would cross", http.StatusBadRequest, `{"error":"invalid post-only order: order crosses book"}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, domain.ErrWouldCross)
			assert.True(t, domain.IsVenueRejection(err))
		}},
		{"balance", http.StatusOK, `{"success":false,"errorMsg":"not enough balance / allowance"}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
		}},
		{"rate limited", http.StatusTooManyRequests, `slow down`, func(t *testing.T, err error) {
			assert.True(t, domain.IsTransport(err))
			assert.ErrorIs(t, err, domain.ErrRateLimited)
		}},
		{"server error", http.StatusInternalServerError, `boom`, func(t *testing.T, err error) {
			assert.True(t, domain.IsTransport(err))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestVenue(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := v.PlaceOrder(context.Background(), domain.OrderRequest{
				TokenID: "1", Price: decimal.RequireFromString("0.5"), Size: decimal.NewFromInt(10),
			})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestVenueCancelOrderNotFoundIsNoop(t *testing.T) {
	v := newTestVenue(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		_, _ = w.Write([]byte(`{"canceled":[],"not_canceled":{"gone":"order not found"}}`))
	})
	assert.NoError(t, v.CancelOrder(context.Background(), "gone"))
}

func TestClobGetOpenOrdersBothShapes(t *testing.T) {
	calls := 0
	v := newTestVenue(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			_, _ = w.Write([]byte(`{"data":[{"id":"a"}],"next_cursor":"LTE="}`))
			return
		}
		_, _ = w.Write([]byte(`[{"id":"b"},{"id":"c"}]`))
	})
	orders, err := v.clob.GetOpenOrders(context.Background(), "0xc")
	require.NoError(t, err)
	assert.Len(t, orders, 1)
	orders, err = v.clob.GetOpenOrders(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, orders, 2)
}
