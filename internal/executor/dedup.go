package executor

import (
	"sync"
	"time"
)

// Dedup remembers trade IDs for a time-to-live window so a fill reported
// twice (REST reconciliation and websocket, or a websocket replay after
// reconnect) is applied once. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // tradeID -> first seen
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup that treats an ID as duplicate for ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// Seen reports whether id was recorded within the TTL before now. Unseen or
// expired IDs are recorded and false is returned.
func (d *Dedup) Seen(id string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if first, ok := d.seen[id]; ok && now.Sub(first) < d.ttl {
		return true
	}
	d.seen[id] = now
	return false
}

// Cleanup removes entries older than the TTL.
func (d *Dedup) Cleanup(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
}

// Len is the number of remembered IDs.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
