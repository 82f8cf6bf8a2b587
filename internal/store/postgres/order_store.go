package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
)

// OrderStore implements domain.OrderStore.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates an OrderStore on pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Upsert writes the full record, replacing mutable columns on conflict.
func (s *OrderStore) Upsert(ctx context.Context, rec domain.OrderRecord) error {
	const query = `
		INSERT INTO orders (
			order_id, intent_id, market_id, token_id, side,
			price, size, filled_size, status, submitted_at, last_status_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9, $10, $11, NOW())
		ON CONFLICT (order_id) DO UPDATE SET
			filled_size    = EXCLUDED.filled_size,
			status         = EXCLUDED.status,
			last_status_at = EXCLUDED.last_status_at,
			updated_at     = NOW()`

	_, err := s.pool.Exec(ctx, query,
		rec.OrderID, rec.IntentID, rec.MarketID, rec.TokenID, string(rec.Side),
		rec.Price.String(), rec.Size.String(), rec.FilledSize.String(),
		string(rec.Status), rec.SubmittedAt, rec.LastStatusAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert order %s: %w", rec.OrderID, err)
	}
	return nil
}

// UpdateStatus sets status and filled size of an existing order.
func (s *OrderStore) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, filled string) error {
	const query = `
		UPDATE orders SET status = $1, filled_size = $2::numeric, last_status_at = NOW(), updated_at = NOW()
		WHERE order_id = $3`
	tag, err := s.pool.Exec(ctx, query, string(status), filled, orderID)
	if err != nil {
		return fmt.Errorf("postgres: update order status %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const orderSelectCols = `order_id, intent_id, market_id, token_id, side,
	price::text, size::text, filled_size::text, status, submitted_at, last_status_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.OrderRecord, error) {
	var (
		rec                   domain.OrderRecord
		side, status          string
		price, size, filledSz string
	)
	if err := row.Scan(
		&rec.OrderID, &rec.IntentID, &rec.MarketID, &rec.TokenID, &side,
		&price, &size, &filledSz, &status, &rec.SubmittedAt, &rec.LastStatusAt,
	); err != nil {
		return domain.OrderRecord{}, err
	}
	rec.Side = domain.Side(side)
	rec.Status = domain.OrderStatus(status)

	var err error
	if rec.Price, err = parseDecimal(price); err != nil {
		return domain.OrderRecord{}, fmt.Errorf("price: %w", err)
	}
	if rec.Size, err = parseDecimal(size); err != nil {
		return domain.OrderRecord{}, fmt.Errorf("size: %w", err)
	}
	if rec.FilledSize, err = parseDecimal(filledSz); err != nil {
		return domain.OrderRecord{}, fmt.Errorf("filled_size: %w", err)
	}
	return rec, nil
}

// GetByID returns one order or domain.ErrNotFound.
func (s *OrderStore) GetByID(ctx context.Context, orderID string) (domain.OrderRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderSelectCols+` FROM orders WHERE order_id = $1`, orderID)
	rec, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.OrderRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.OrderRecord{}, fmt.Errorf("postgres: get order %s: %w", orderID, err)
	}
	return rec, nil
}

// ListByMarket returns a market's orders, newest first.
func (s *OrderStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.OrderRecord, error) {
	var w whereBuilder
	w.add("market_id = $%d", marketID)
	w.timeRange("submitted_at", opts)
	query := `SELECT ` + orderSelectCols + ` FROM orders` + w.sql("submitted_at DESC", opts)

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders %s: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.OrderRecord
	for rows.Next() {
		rec, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list orders rows: %w", err)
	}
	return out, nil
}

var _ domain.OrderStore = (*OrderStore)(nil)
