package market

import (
	"context"
	"log/slog"
	"time"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/platform/polymarket"
)

// WindowFinder locates the current window. Implemented by
// polymarket.GammaClient.
type WindowFinder interface {
	FindActiveWindow(ctx context.Context, q polymarket.WindowQuery, now time.Time) (*domain.MarketWindow, error)
}

// Discovery polls the finder and reports the window whenever it changes.
type Discovery struct {
	finder   WindowFinder
	query    polymarket.WindowQuery
	interval time.Duration
	onWindow func(*domain.MarketWindow)
	logger   *slog.Logger
	now      func() time.Time

	lastID  string
	emitted bool
}

// NewDiscovery creates a poller. onWindow receives nil when no market is
// live; it must not block for long.
func NewDiscovery(finder WindowFinder, q polymarket.WindowQuery, interval time.Duration,
	onWindow func(*domain.MarketWindow), logger *slog.Logger) *Discovery {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Discovery{
		finder:   finder,
		query:    q,
		interval: interval,
		onWindow: onWindow,
		logger:   logger.With(slog.String("component", "discovery")),
		now:      time.Now,
	}
}

// Run polls immediately and then every interval until ctx is cancelled.
func (d *Discovery) Run(ctx context.Context) error {
	d.poll(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

// poll queries once. Errors keep the last known window in place.
func (d *Discovery) poll(ctx context.Context) {
	w, err := d.finder.FindActiveWindow(ctx, d.query, d.now())
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Warn("window discovery failed", slog.String("error", err.Error()))
		}
		return
	}
	id := ""
	if w != nil {
		id = w.MarketID
	}
	if d.emitted && id == d.lastID {
		return
	}
	d.lastID, d.emitted = id, true
	if w == nil {
		d.logger.Info("no live window")
	} else {
		d.logger.Info("window discovered",
			slog.String("market_id", w.MarketID),
			slog.String("question", w.Question),
			slog.Time("close", w.CloseTime),
		)
	}
	d.onWindow(w)
}
