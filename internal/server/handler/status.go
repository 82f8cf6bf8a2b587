package handler

import (
	"net/http"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/engine"
)

// SnapshotSource supplies the latest engine snapshot.
type SnapshotSource interface {
	Snapshot() *engine.Snapshot
}

// StatusHandler serves the engine snapshot.
type StatusHandler struct {
	source SnapshotSource
}

func NewStatusHandler(source SnapshotSource) *StatusHandler {
	return &StatusHandler{source: source}
}

// GetStatus responds with the current market, BTC price and age, feed
// states, inventory, risk, open orders and P&L history.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.Snapshot())
}
