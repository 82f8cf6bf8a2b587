package feed

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/crypto"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/platform/polymarket"
)

// maxTrackedMarkets bounds the user-channel market filter. Two covers the
// current window and the one just rolled out of, whose late fills still count.
const maxTrackedMarkets = 2

// FillStream follows the authenticated Polymarket user channel and forwards
// our fills and order status changes.
type FillStream struct {
	ch      *channel
	creds   crypto.APICreds
	ours    func(orderID string) bool
	handler domain.FillHandler

	mu      sync.Mutex
	markets []string
}

// NewFillStream creates a user-channel stream. ours filters maker orders that
// belong to other participants out of trade events.
func NewFillStream(wsHost string, creds crypto.APICreds, b Backoff, maxProtocolErrors int,
	ours func(string) bool, handler domain.FillHandler, logger *slog.Logger) *FillStream {
	url := strings.TrimRight(wsHost, "/") + polymarket.UserChannelPath
	return &FillStream{
		ch:      newChannel("polymarket_user", url, b, maxProtocolErrors, logger.With(slog.String("component", "fill_stream"))),
		creds:   creds,
		ours:    ours,
		handler: handler,
	}
}

// Track adds the window's condition to the subscription, dropping the oldest
// beyond maxTrackedMarkets.
func (s *FillStream) Track(w *domain.MarketWindow) {
	if w == nil || w.ConditionID == "" {
		return
	}
	s.mu.Lock()
	for _, m := range s.markets {
		if m == w.ConditionID {
			s.mu.Unlock()
			return
		}
	}
	s.markets = append(s.markets, w.ConditionID)
	if len(s.markets) > maxTrackedMarkets {
		s.markets = s.markets[len(s.markets)-maxTrackedMarkets:]
	}
	s.mu.Unlock()
	s.ch.notify()
}

// ConnState exposes the reconnect state machine.
func (s *FillStream) ConnState() domain.ConnState {
	return s.ch.reconn.State()
}

// Run streams until ctx is cancelled.
func (s *FillStream) Run(ctx context.Context) error {
	return s.ch.run(ctx, s.subscription, s.handleMessage)
}

func (s *FillStream) subscription() (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.markets) == 0 {
		return nil, false
	}
	auth := polymarket.UserAuth{APIKey: s.creds.Key, Secret: s.creds.Secret, Passphrase: s.creds.Passphrase}
	return polymarket.NewUserSubscription(auth, append([]string(nil), s.markets...)...), true
}

func (s *FillStream) handleMessage(raw []byte) error {
	fills, updates, err := polymarket.ParseUserMessage(raw, s.ours, s.ch.now())
	if err != nil {
		return err
	}
	for _, f := range fills {
		s.handler.OnVenueFill(f)
	}
	for _, u := range updates {
		s.handler.OnVenueOrderUpdate(u)
	}
	return nil
}
