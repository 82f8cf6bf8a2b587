package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
)

// PriceCache keeps the latest reference tick per instrument in a hash at
// "price:{instrument}" with fields price, ts and recv (Unix nanoseconds).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by c.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.rdb}
}

func priceKey(instrument string) string {
	return "price:" + instrument
}

// SetTick stores tick as the latest for its instrument.
func (pc *PriceCache) SetTick(ctx context.Context, tick domain.PriceTick) error {
	if err := pc.rdb.HSet(ctx, priceKey(tick.Instrument), tickFields(tick)).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", tick.Instrument, err)
	}
	return nil
}

// LatestTick returns the stored tick, or domain.ErrNotFound.
func (pc *PriceCache) LatestTick(ctx context.Context, instrument string) (domain.PriceTick, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(instrument)).Result()
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("redis: get price %s: %w", instrument, err)
	}
	return parseTick(instrument, vals)
}

func tickFields(t domain.PriceTick) map[string]any {
	return map[string]any{
		"price": t.Price.String(),
		"ts":    strconv.FormatInt(t.Timestamp.UnixNano(), 10),
		"recv":  strconv.FormatInt(t.ReceivedAt.UnixNano(), 10),
	}
}

func parseTick(instrument string, vals map[string]string) (domain.PriceTick, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return domain.PriceTick{}, domain.ErrNotFound
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("redis: parse price %s: %w", instrument, err)
	}
	ts, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("redis: parse ts %s: %w", instrument, err)
	}
	tick := domain.PriceTick{Instrument: instrument, Price: price, Timestamp: time.Unix(0, ts).UTC()}
	if recv, err := strconv.ParseInt(vals["recv"], 10, 64); err == nil {
		tick.ReceivedAt = time.Unix(0, recv).UTC()
	}
	return tick, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
