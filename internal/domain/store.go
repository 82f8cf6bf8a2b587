package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OrderStore persists order records.
type OrderStore interface {
	Upsert(ctx context.Context, rec OrderRecord) error
	UpdateStatus(ctx context.Context, orderID string, status OrderStatus, filled string) error
	GetByID(ctx context.Context, orderID string) (OrderRecord, error)
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]OrderRecord, error)
}

// TradeStore persists the trade journal.
type TradeStore interface {
	Insert(ctx context.Context, rec TradeRecord) error
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]TradeRecord, error)
	ListSince(ctx context.Context, since time.Time, limit int) ([]TradeRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
