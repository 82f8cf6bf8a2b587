package market

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/platform/polymarket"
)

// ResolutionSource reads a market's settlement state. Implemented by
// polymarket.GammaClient.
type ResolutionSource interface {
	GetMarketResolution(ctx context.Context, marketID string) (polymarket.MarketResolution, error)
}

// Resolver polls archived markets that still hold inventory until they
// resolve, then reports the outcome.
type Resolver struct {
	src        ResolutionSource
	interval   time.Duration
	giveUp     time.Duration
	onResolved func(domain.Resolution)
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	pending map[string]time.Time
}

// NewResolver creates a resolution poller.
func NewResolver(src ResolutionSource, interval time.Duration, onResolved func(domain.Resolution), logger *slog.Logger) *Resolver {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Resolver{
		src:        src,
		interval:   interval,
		giveUp:     24 * time.Hour,
		onResolved: onResolved,
		logger:     logger.With(slog.String("component", "resolver")),
		now:        time.Now,
		pending:    make(map[string]time.Time),
	}
}

// Watch adds a market to the poll set. Safe to call from any goroutine.
func (r *Resolver) Watch(marketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[marketID]; !ok {
		r.pending[marketID] = r.now()
	}
}

// Pending lists watched markets in a stable order.
func (r *Resolver) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Run polls until ctx is cancelled.
func (r *Resolver) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.check(ctx)
		}
	}
}

func (r *Resolver) check(ctx context.Context) {
	for _, id := range r.Pending() {
		res, err := r.src.GetMarketResolution(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("resolution check failed", slog.String("market_id", id), slog.String("error", err.Error()))
			r.expire(id)
			continue
		}
		now := r.now()
		if !res.Closed {
			r.expire(id)
			continue
		}

		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		r.logger.Info("market resolved", slog.String("market_id", id), slog.Bool("yes_won", res.YesWon))
		r.onResolved(domain.Resolution{MarketID: id, YesWon: res.YesWon, ResolvedAt: now})
	}
}

// expire drops id once it has been watched longer than giveUp, whether the
// lookups fail or the market simply stays open.
func (r *Resolver) expire(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	since, ok := r.pending[id]
	if ok && r.now().Sub(since) > r.giveUp {
		delete(r.pending, id)
		r.logger.Error("market unresolved, giving up", slog.String("market_id", id), slog.Time("watching_since", since))
	}
}
