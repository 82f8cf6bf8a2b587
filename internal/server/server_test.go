package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/engine"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/server/handler"
)

type fixedSnapshot struct{ snap *engine.Snapshot }

func (f fixedSnapshot) Snapshot() *engine.Snapshot { return f.snap }

type oneOrder struct {
	rec  domain.OrderRecord
	seen *domain.ListOpts
}

func (o oneOrder) Upsert(context.Context, domain.OrderRecord) error { return nil }
func (o oneOrder) UpdateStatus(context.Context, string, domain.OrderStatus, string) error {
	return nil
}
func (o oneOrder) GetByID(_ context.Context, id string) (domain.OrderRecord, error) {
	switch id {
	case o.rec.OrderID:
		return o.rec, nil
	case "slow":
		return domain.OrderRecord{}, fmt.Errorf("select order: %w", context.DeadlineExceeded)
	case "broken":
		return domain.OrderRecord{}, errors.New("pq: relation does not exist")
	}
	return domain.OrderRecord{}, domain.ErrNotFound
}
func (o oneOrder) ListByMarket(_ context.Context, _ string, opts domain.ListOpts) ([]domain.OrderRecord, error) {
	if o.seen != nil {
		*o.seen = opts
	}
	return nil, nil
}

func newTestServer(t *testing.T, apiKey string, checks map[string]handler.Check) http.Handler {
	t.Helper()
	return newOrderServer(t, apiKey, checks, nil)
}

func newOrderServer(t *testing.T, apiKey string, checks map[string]handler.Check, seen *domain.ListOpts) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	snap := &engine.Snapshot{
		Mode:      "paper",
		Market:    &domain.MarketWindow{MarketID: "m1"},
		Inventory: domain.InventoryState{MarketID: "m1", RealizedPnLToday: decimal.NewFromInt(-3)},
		Risk:      domain.RiskState{TradingDay: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)},
	}
	srv := NewServer(Config{Port: 8000, APIKey: apiKey}, Handlers{
		Health:  handler.NewHealthHandler(checks, logger),
		Status:  handler.NewStatusHandler(fixedSnapshot{snap}),
		History: handler.NewHistoryHandler(oneOrder{rec: domain.OrderRecord{OrderID: "o1", MarketID: "m1"}, seen: seen}, nil, nil, logger),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "metrics") }),
	}, logger)
	return srv.Handler()
}

func get(h http.Handler, path string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, "", map[string]handler.Check{
		"redis": func(context.Context) error { return nil },
	})
	rec := get(h, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHealthDegraded(t *testing.T) {
	h := newTestServer(t, "", map[string]handler.Check{
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	})
	rec := get(h, "/api/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestStatusReturnsSnapshot(t *testing.T) {
	rec := get(newTestServer(t, "", nil), "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap engine.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "paper", snap.Mode)
	require.NotNil(t, snap.Market)
	assert.Equal(t, "m1", snap.Market.MarketID)
	assert.True(t, snap.Inventory.RealizedPnLToday.Equal(decimal.NewFromInt(-3)))
}

func TestAuth(t *testing.T) {
	h := newTestServer(t, "secret", nil)

	assert.Equal(t, http.StatusUnauthorized, get(h, "/api/status").Code)
	assert.Equal(t, http.StatusUnauthorized, get(h, "/api/status", "X-API-Key", "wrong").Code)
	assert.Equal(t, http.StatusOK, get(h, "/api/status", "Authorization", "Bearer secret").Code)
	assert.Equal(t, http.StatusOK, get(h, "/api/health").Code, "health is public")
}

func TestOrderLookup(t *testing.T) {
	h := newTestServer(t, "", nil)
	assert.Equal(t, http.StatusOK, get(h, "/api/orders/o1").Code)

	tests := []struct {
		path     string
		wantCode int
		wantKind string
		wantMsg  string
	}{
		{"/api/orders/nope", http.StatusNotFound, "not_found", "get order nope: not found"},
		{"/api/orders/slow", http.StatusGatewayTimeout, "store_timeout", "get order slow: select order: context deadline exceeded"},
		{"/api/orders/broken", http.StatusInternalServerError, "internal", "get order broken failed"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := get(h, tt.path)
			require.Equal(t, tt.wantCode, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantKind, body["code"])
			assert.Equal(t, tt.wantMsg, body["error"])
		})
	}
}

func TestListQueryParsing(t *testing.T) {
	var seen domain.ListOpts
	h := newOrderServer(t, "", nil, &seen)

	rec := get(h, "/api/markets/m1/orders?limit=900&offset=10&since=2026-03-10T12:00:00Z&until=2026-03-10T13:00:00%2B01:00")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 500, seen.Limit)
	assert.Equal(t, 10, seen.Offset)
	require.NotNil(t, seen.Since)
	require.NotNil(t, seen.Until)
	assert.True(t, seen.Since.Equal(*seen.Until), "until is normalised to UTC")

	seen = domain.ListOpts{}
	require.Equal(t, http.StatusOK, get(h, "/api/markets/m1/orders").Code)
	assert.Equal(t, domain.ListOpts{Limit: 50}, seen)

	for _, q := range []string{"limit=abc", "limit=0", "offset=-1", "since=yesterday", "since=2026-03-10T13:00:00Z&until=2026-03-10T12:00:00Z"} {
		rec := get(h, "/api/markets/m1/orders?"+q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		assert.Contains(t, rec.Body.String(), `"code":"bad_query"`, q)
	}
}

func TestUnauthorizedEnvelope(t *testing.T) {
	rec := get(newTestServer(t, "secret", nil), "/api/status")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unauthorized", body["code"])
	assert.Equal(t, "missing authentication token", body["error"])
}

func TestMetricsRoute(t *testing.T) {
	rec := get(newTestServer(t, "", nil), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "metrics", rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t, "", nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
