package handler

import (
	"log/slog"
	"net/http"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
)

// HistoryHandler serves persisted orders, trades and the audit log.
type HistoryHandler struct {
	orders domain.OrderStore
	trades domain.TradeStore
	audit  domain.AuditStore
	logger *slog.Logger
}

func NewHistoryHandler(orders domain.OrderStore, trades domain.TradeStore, audit domain.AuditStore, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{orders: orders, trades: trades, audit: audit, logger: logger}
}

// GetOrder returns one order.
// GET /api/orders/{id}
func (h *HistoryHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	order, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get order "+id, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// ListMarketOrders returns a market's orders, newest first.
// GET /api/markets/{id}/orders?limit=50&offset=0&since=...&until=...
func (h *HistoryHandler) ListMarketOrders(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_query", err.Error())
		return
	}
	orders, err := h.orders.ListByMarket(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		h.fail(w, r, "list orders", err)
		return
	}
	if orders == nil {
		orders = []domain.OrderRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// ListMarketTrades returns a market's journal records, oldest first.
// GET /api/markets/{id}/trades
func (h *HistoryHandler) ListMarketTrades(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_query", err.Error())
		return
	}
	trades, err := h.trades.ListByMarket(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		h.fail(w, r, "list trades", err)
		return
	}
	if trades == nil {
		trades = []domain.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

// ListAudit returns the audit log, newest first.
// GET /api/audit
func (h *HistoryHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_query", err.Error())
		return
	}
	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		h.fail(w, r, "list audit", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// fail logs server-side failures and answers with the mapped envelope.
func (h *HistoryHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := errorStatus(err)
	if status < http.StatusInternalServerError {
		writeError(w, status, code, op+": "+err.Error())
		return
	}
	h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
		slog.String("error", err.Error()),
	)
	writeError(w, status, code, op+" failed")
}
