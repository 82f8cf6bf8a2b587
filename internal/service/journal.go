// Package service holds the side-effect services around the engine: the
// trade journal and the notice publisher.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/metrics"
)

// TradeStream is the redis stream every journal record is appended to.
const TradeStream = "trades"

const (
	journalWriteTimeout = 2 * time.Second
	restorePageSize     = 1000
)

// Journal implements domain.TradeJournal. Records are buffered per UTC day
// until the publisher uploads that day's journal, and written to the trade
// store and the trade stream. Once Forward is set those writes leave the
// caller's goroutine.
type Journal struct {
	trades  domain.TradeStore
	bus     domain.SignalBus
	logger  *slog.Logger
	forward func(domain.Notice) bool

	mu   sync.Mutex
	days map[time.Time][]domain.TradeRecord
}

// NewJournal creates a Journal. trades and bus may be nil.
func NewJournal(trades domain.TradeStore, bus domain.SignalBus, logger *slog.Logger) *Journal {
	return &Journal{
		trades: trades,
		bus:    bus,
		logger: logger.With(slog.String("component", "journal")),
		days:   make(map[time.Time][]domain.TradeRecord),
	}
}

// Forward routes store and stream writes through fn, usually
// Publisher.Offer. fn reports whether it accepted the notice. Call before
// the first AppendTrade.
func (j *Journal) Forward(fn func(domain.Notice) bool) { j.forward = fn }

// AppendTrade records rec. Without a forwarder the writes happen inline and
// a store failure is returned.
func (j *Journal) AppendTrade(ctx context.Context, rec domain.TradeRecord) error {
	day := domain.TradingDay(rec.Time)
	j.mu.Lock()
	j.days[day] = append(j.days[day], rec)
	j.mu.Unlock()

	if j.forward == nil {
		if err := j.Persist(ctx, rec); err != nil {
			metrics.SinkErrors.WithLabelValues("journal").Inc()
			return err
		}
		return nil
	}
	if !j.forward(domain.Notice{Kind: domain.NoticeTrade, At: rec.Time, Trade: &rec}) {
		// Still in the day buffer, so the daily upload keeps it.
		metrics.SinkErrors.WithLabelValues("journal").Inc()
		return fmt.Errorf("journal: queue full, trade %s not persisted", rec.TradeID)
	}
	return nil
}

// Persist writes rec to the trade stream and the trade store. A store
// failure is returned; a stream failure is only logged since the store is
// the record of truth.
func (j *Journal) Persist(ctx context.Context, rec domain.TradeRecord) error {
	ctx, cancel := context.WithTimeout(ctx, journalWriteTimeout)
	defer cancel()

	if j.bus != nil {
		if payload, err := json.Marshal(rec); err == nil {
			if err := j.bus.StreamAppend(ctx, TradeStream, payload); err != nil {
				metrics.SinkErrors.WithLabelValues("trade_stream").Inc()
				j.logger.WarnContext(ctx, "stream append failed",
					slog.String("market_id", rec.MarketID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if j.trades == nil {
		return nil
	}
	if err := j.trades.Insert(ctx, rec); err != nil {
		return fmt.Errorf("journal: insert trade: %w", err)
	}
	return nil
}

// TakeDay returns and forgets the buffered records of day.
func (j *Journal) TakeDay(day time.Time) []domain.TradeRecord {
	day = domain.TradingDay(day)
	j.mu.Lock()
	defer j.mu.Unlock()
	recs := j.days[day]
	delete(j.days, day)
	return recs
}

// RealizedSince sums the realized P&L journaled since the start of day. The
// trade store is read first; the trade stream is the fallback when the store
// is absent or failing.
func (j *Journal) RealizedSince(ctx context.Context, day time.Time) (decimal.Decimal, error) {
	day = domain.TradingDay(day)

	var storeErr error
	if j.trades != nil {
		recs, err := j.trades.ListSince(ctx, day, 0)
		if err == nil {
			return sumRealized(recs, day), nil
		}
		storeErr = fmt.Errorf("journal: list trades: %w", err)
		j.logger.WarnContext(ctx, "trade store unavailable, reading stream",
			slog.String("error", err.Error()),
		)
	}
	if j.bus == nil {
		return decimal.Zero, storeErr
	}

	total := decimal.Zero
	last := "0"
	for {
		msgs, err := j.bus.StreamRead(ctx, TradeStream, last, restorePageSize)
		if err != nil {
			return decimal.Zero, errors.Join(storeErr, fmt.Errorf("journal: read stream: %w", err))
		}
		for _, m := range msgs {
			var rec domain.TradeRecord
			if err := json.Unmarshal(m.Payload, &rec); err != nil {
				continue
			}
			total = total.Add(sumRealized([]domain.TradeRecord{rec}, day))
		}
		if len(msgs) < restorePageSize {
			return total, nil
		}
		last = msgs[len(msgs)-1].ID
	}
}

func sumRealized(recs []domain.TradeRecord, day time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, r := range recs {
		if r.Time.Before(day) {
			continue
		}
		total = total.Add(r.RealizedPnL)
	}
	return total
}

var _ domain.TradeJournal = (*Journal)(nil)
