package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/metrics"
)

var errMalformed = errors.New("malformed message")

// TickHandler receives accepted ticks. It must not block.
type TickHandler func(domain.PriceTick)

// BinanceConfig configures a BinanceFeed.
type BinanceConfig struct {
	// WsURL is the stream base, e.g. "wss://stream.binance.com:9443/ws".
	WsURL             string
	Symbol            string
	StaleAfter        time.Duration
	Backoff           Backoff
	MaxProtocolErrors int
}

// BinanceFeed streams the 24h ticker for one symbol and keeps the latest
// accepted price. Out-of-order ticks are dropped; the feed never returns
// until its context is cancelled.
type BinanceFeed struct {
	cfg        BinanceConfig
	instrument string
	onTick     TickHandler
	reconn     *Reconnector
	latest     atomic.Pointer[domain.PriceTick]
	logger     *slog.Logger
	now        func() time.Time
}

// NewBinanceFeed creates a feed for cfg.Symbol. onTick may be nil.
func NewBinanceFeed(cfg BinanceConfig, onTick TickHandler, logger *slog.Logger) *BinanceFeed {
	if cfg.MaxProtocolErrors <= 0 {
		cfg.MaxProtocolErrors = 10
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Second
	}
	return &BinanceFeed{
		cfg:        cfg,
		instrument: strings.ToUpper(cfg.Symbol),
		onTick:     onTick,
		reconn:     NewReconnector(cfg.Backoff, time.Now()),
		logger:     logger.With(slog.String("component", "binance_feed")),
		now:        time.Now,
	}
}

// StreamURL is the full ticker stream endpoint.
func (f *BinanceFeed) StreamURL() string {
	return strings.TrimRight(f.cfg.WsURL, "/") + "/" + strings.ToLower(f.cfg.Symbol) + "@ticker"
}

// Latest returns the most recent accepted tick.
func (f *BinanceFeed) Latest() (domain.PriceTick, bool) {
	p := f.latest.Load()
	if p == nil {
		return domain.PriceTick{}, false
	}
	return *p, true
}

// Age is how long ago the latest tick was received. It is unbounded when no
// tick has arrived yet.
func (f *BinanceFeed) Age(now time.Time) time.Duration {
	p := f.latest.Load()
	if p == nil {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(p.ReceivedAt)
}

// IsStale reports whether the latest tick is older than the staleness window.
func (f *BinanceFeed) IsStale(now time.Time) bool {
	return f.Age(now) > f.cfg.StaleAfter
}

// ConnState exposes the reconnect state machine.
func (f *BinanceFeed) ConnState() domain.ConnState {
	return f.reconn.State()
}

// Run connects and streams until ctx is cancelled, reconnecting with
// full-jitter backoff on any failure.
func (f *BinanceFeed) Run(ctx context.Context) error {
	url := f.StreamURL()
	f.logger.Info("binance feed starting", slog.String("url", url))

	for {
		err := f.runConnection(ctx, url)
		if ctx.Err() != nil {
			f.reconn.Stopped(f.now())
			metrics.FeedConnected.WithLabelValues("binance").Set(0)
			return ctx.Err()
		}

		delay := f.reconn.Failed(f.now(), err)
		metrics.FeedConnected.WithLabelValues("binance").Set(0)
		metrics.FeedReconnects.WithLabelValues("binance").Inc()
		st := f.reconn.State()
		f.logger.Warn("binance feed disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Int("attempt", st.Attempt),
			slog.Duration("delay", delay),
		)
		if err := sleepCtx(ctx, delay); err != nil {
			f.reconn.Stopped(f.now())
			return err
		}
	}
}

func (f *BinanceFeed) runConnection(ctx context.Context, url string) error {
	conn, err := dialWS(ctx, url)
	if err != nil {
		return err
	}
	defer conn.Close()

	f.reconn.Connected(f.now())
	metrics.FeedConnected.WithLabelValues("binance").Set(1)
	f.logger.Info("binance feed connected")

	consecutive := 0
	for {
		msg, err := conn.Read()
		if err != nil {
			return err
		}
		if err := f.handleMessage(msg); err != nil {
			consecutive++
			metrics.FeedTicksDropped.WithLabelValues("malformed").Inc()
			f.logger.Debug("dropping malformed message",
				slog.String("error", err.Error()),
				slog.Int("consecutive", consecutive),
			)
			if consecutive > f.cfg.MaxProtocolErrors {
				return protocolErrorf("binance", consecutive, err)
			}
			continue
		}
		consecutive = 0
	}
}

// binanceTicker is the subset of the 24hr ticker payload we use.
type binanceTicker struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
}

// handleMessage parses one frame. Combined-stream envelopes
// ({"stream":..., "data":{...}}) are unwrapped.
func (f *BinanceFeed) handleMessage(raw []byte) error {
	var env struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if env.Stream != "" && len(env.Data) > 0 {
		raw = env.Data
	}

	var t binanceTicker
	if err := json.Unmarshal(raw, &t); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if t.EventTime <= 0 || t.Close == "" {
		return fmt.Errorf("%w: missing E or c", errMalformed)
	}
	price, err := decimal.NewFromString(t.Close)
	if err != nil || !price.IsPositive() {
		return fmt.Errorf("%w: bad price %q", errMalformed, t.Close)
	}

	f.accept(domain.PriceTick{
		Timestamp:  time.UnixMilli(t.EventTime).UTC(),
		ReceivedAt: f.now(),
		Instrument: f.instrument,
		Price:      price,
	})
	return nil
}

// accept stores tick if it is newer than the latest one and forwards it.
func (f *BinanceFeed) accept(tick domain.PriceTick) bool {
	if prev := f.latest.Load(); prev != nil && !tick.Timestamp.After(prev.Timestamp) {
		metrics.FeedTicksDropped.WithLabelValues("out_of_order").Inc()
		return false
	}
	f.latest.Store(&tick)
	metrics.FeedTicks.WithLabelValues(tick.Instrument).Inc()
	if f.onTick != nil {
		f.onTick(tick)
	}
	return true
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
