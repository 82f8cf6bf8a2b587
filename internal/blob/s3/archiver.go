package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
)

// Archiver implements domain.WindowArchiver over a BlobWriter.
//
// Layout:
//
//	windows/YYYY-MM-DD/{market_id}.json   one closed window with its orders and trades
//	trades/YYYY-MM-DD.jsonl               the day's journal, one record per line
type Archiver struct {
	writer domain.BlobWriter
}

// NewArchiver creates an Archiver writing through w.
func NewArchiver(w domain.BlobWriter) *Archiver {
	return &Archiver{writer: w}
}

// WindowKey is the object key for a window archive.
func WindowKey(w domain.MarketWindow) string {
	return fmt.Sprintf("windows/%s/%s.json", w.CloseTime.UTC().Format(time.DateOnly), w.MarketID)
}

// JournalKey is the object key for a day's journal.
func JournalKey(day time.Time) string {
	return fmt.Sprintf("trades/%s.jsonl", day.UTC().Format(time.DateOnly))
}

// ArchiveWindow uploads a as indented JSON and returns its key.
func (a *Archiver) ArchiveWindow(ctx context.Context, arc domain.WindowArchive) (string, error) {
	data, err := json.MarshalIndent(arc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal window %s: %w", arc.Window.MarketID, err)
	}
	key := WindowKey(arc.Window)
	if err := a.writer.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return "", err
	}
	return key, nil
}

// ArchiveJournal uploads trades as JSONL. Payloads past the multipart
// minimum go through the multipart uploader.
func (a *Archiver) ArchiveJournal(ctx context.Context, day time.Time, trades []domain.TradeRecord) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range trades {
		if err := enc.Encode(trades[i]); err != nil {
			return "", fmt.Errorf("s3blob: encode trade %d: %w", i, err)
		}
	}

	key := JournalKey(day)
	var err error
	if int64(buf.Len()) > minPartSize {
		err = a.writer.PutMultipart(ctx, key, &buf, minPartSize)
	} else {
		err = a.writer.Put(ctx, key, &buf, "application/x-ndjson")
	}
	if err != nil {
		return "", err
	}
	return key, nil
}

var _ domain.WindowArchiver = (*Archiver)(nil)
