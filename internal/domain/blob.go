package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// WindowArchive is the cold-storage record of a finished market window.
type WindowArchive struct {
	Window     MarketWindow  `json:"window"`
	Orders     []OrderRecord `json:"orders"`
	Trades     []TradeRecord `json:"trades"`
	ArchivedAt time.Time     `json:"archived_at"`
}

// WindowArchiver stores finished windows and daily journals.
type WindowArchiver interface {
	ArchiveWindow(ctx context.Context, a WindowArchive) (string, error)
	ArchiveJournal(ctx context.Context, day time.Time, trades []TradeRecord) (string, error)
}
