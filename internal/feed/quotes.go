package feed

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/platform/polymarket"
)

// QuoteHandler receives top-of-book updates. It must not block.
type QuoteHandler func(domain.Quote)

// QuoteFeed streams Polymarket top of book for the tracked window's outcome
// tokens. Calling Track with a different window resubscribes.
type QuoteFeed struct {
	ch      *channel
	onQuote QuoteHandler

	mu     sync.Mutex
	market string
	tokens [2]string
}

// NewQuoteFeed creates a quote feed against wsHost (e.g.
// "wss://ws-subscriptions-clob.polymarket.com").
func NewQuoteFeed(wsHost string, b Backoff, maxProtocolErrors int, onQuote QuoteHandler, logger *slog.Logger) *QuoteFeed {
	url := strings.TrimRight(wsHost, "/") + polymarket.MarketChannelPath
	return &QuoteFeed{
		ch:      newChannel("polymarket_market", url, b, maxProtocolErrors, logger.With(slog.String("component", "quote_feed"))),
		onQuote: onQuote,
	}
}

// Track switches the subscription to w. A nil window unsubscribes.
func (f *QuoteFeed) Track(w *domain.MarketWindow) {
	f.mu.Lock()
	var market string
	var tokens [2]string
	if w != nil {
		market, tokens = w.MarketID, [2]string{w.YesTokenID, w.NoTokenID}
	}
	if market == f.market && tokens == f.tokens {
		f.mu.Unlock()
		return
	}
	f.market, f.tokens = market, tokens
	f.mu.Unlock()
	f.ch.notify()
}

// ConnState exposes the reconnect state machine.
func (f *QuoteFeed) ConnState() domain.ConnState {
	return f.ch.reconn.State()
}

// Run streams until ctx is cancelled.
func (f *QuoteFeed) Run(ctx context.Context) error {
	return f.ch.run(ctx, f.subscription, f.handleMessage)
}

func (f *QuoteFeed) subscription() (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.market == "" {
		return nil, false
	}
	return polymarket.NewMarketSubscription(f.tokens[0], f.tokens[1]), true
}

func (f *QuoteFeed) handleMessage(raw []byte) error {
	books, err := polymarket.ParseMarketMessage(raw, f.ch.now())
	if err != nil {
		return err
	}
	f.mu.Lock()
	market, tokens := f.market, f.tokens
	f.mu.Unlock()

	for _, b := range books {
		if b.AssetID != tokens[0] && b.AssetID != tokens[1] {
			continue
		}
		mid := b.Mid()
		if !mid.IsPositive() || f.onQuote == nil {
			continue
		}
		f.onQuote(domain.Quote{
			MarketID: market,
			TokenID:  b.AssetID,
			Mid:      mid,
			BestBid:  b.BestBid,
			BestAsk:  b.BestAsk,
			At:       b.At,
		})
	}
	return nil
}
