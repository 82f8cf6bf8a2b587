package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
)

// TradeStore implements domain.TradeStore: the durable trade journal.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore on pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Insert appends rec. A fill whose trade_id is already stored is skipped,
// so replays after reconnect are harmless.
func (s *TradeStore) Insert(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trades (time, kind, market_id, order_id, trade_id, side, price, size, fee, realized_pnl)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10::numeric)
		ON CONFLICT (trade_id) WHERE trade_id <> '' DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		rec.Time, string(rec.Kind), rec.MarketID, rec.OrderID, rec.TradeID, string(rec.Side),
		rec.Price.String(), rec.Size.String(), rec.Fee.String(), rec.RealizedPnL.String(),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s/%s: %w", rec.MarketID, rec.Kind, err)
	}
	return nil
}

const tradeSelectCols = `time, kind, market_id, order_id, trade_id, side,
	price::text, size::text, fee::text, realized_pnl::text`

func scanTrades(rows pgx.Rows) ([]domain.TradeRecord, error) {
	defer rows.Close()
	var out []domain.TradeRecord
	for rows.Next() {
		var (
			rec                   domain.TradeRecord
			kind, side            string
			price, size, fee, pnl string
		)
		if err := rows.Scan(&rec.Time, &kind, &rec.MarketID, &rec.OrderID, &rec.TradeID, &side,
			&price, &size, &fee, &pnl); err != nil {
			return nil, err
		}
		rec.Kind = domain.TradeKind(kind)
		rec.Side = domain.Side(side)
		var err error
		if rec.Price, err = parseDecimal(price); err != nil {
			return nil, err
		}
		if rec.Size, err = parseDecimal(size); err != nil {
			return nil, err
		}
		if rec.Fee, err = parseDecimal(fee); err != nil {
			return nil, err
		}
		if rec.RealizedPnL, err = parseDecimal(pnl); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListByMarket returns a market's journal in time order.
func (s *TradeStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	var w whereBuilder
	w.add("market_id = $%d", marketID)
	w.timeRange("time", opts)
	query := `SELECT ` + tradeSelectCols + ` FROM trades` + w.sql("time, id", opts)
	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades %s: %w", marketID, err)
	}
	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades %s: %w", marketID, err)
	}
	return trades, nil
}

// ListSince returns up to limit journal rows at or after since, oldest first.
func (s *TradeStore) ListSince(ctx context.Context, since time.Time, limit int) ([]domain.TradeRecord, error) {
	var w whereBuilder
	w.add("time >= $%d", since)
	query := `SELECT ` + tradeSelectCols + ` FROM trades` + w.sql("time, id", domain.ListOpts{Limit: limit})
	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades since %s: %w", since.Format(time.RFC3339), err)
	}
	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

var _ domain.TradeStore = (*TradeStore)(nil)
