package feed

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
)

// Backoff computes full-jitter exponential reconnect delays:
// delay = rand[0, min(Cap, Base*2^(attempt-1))).
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
	// Rand returns a value in [0, 1). Nil uses math/rand.
	Rand func() float64
}

// DefaultBackoff is 1s base, 60s cap.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Cap: 60 * time.Second}
}

// Ceiling returns the un-jittered upper bound for attempt (1-based).
func (b Backoff) Ceiling(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	limit := b.Cap
	if limit < base {
		limit = base
	}
	if attempt < 1 {
		attempt = 1
	}
	wait := base
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= limit || wait <= 0 {
			return limit
		}
	}
	return wait
}

// Next returns the jittered delay for attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	r := b.Rand
	if r == nil {
		r = rand.Float64
	}
	return time.Duration(r() * float64(b.Ceiling(attempt)))
}

// Reconnector is the connection state machine shared by the streaming feeds:
// Connected -> Reconnecting(attempt, next_retry_at) -> Connected, and
// Disconnected once the feed is stopped. It is safe for concurrent reads.
type Reconnector struct {
	mu      sync.RWMutex
	backoff Backoff
	state   domain.ConnState
}

// NewReconnector starts in the Disconnected state.
func NewReconnector(b Backoff, now time.Time) *Reconnector {
	return &Reconnector{
		backoff: b,
		state:   domain.ConnState{Status: domain.ConnDisconnected, Since: now},
	}
}

// State returns a copy of the current state.
func (r *Reconnector) State() domain.ConnState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Connected records a successful connection and resets the attempt counter.
func (r *Reconnector) Connected(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = domain.ConnState{Status: domain.ConnConnected, Since: now}
}

// Failed records a failed or dropped connection and returns how long to wait
// before the next attempt.
func (r *Reconnector) Failed(now time.Time, err error) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	attempt := r.state.Attempt + 1
	delay := r.backoff.Next(attempt)
	since := r.state.Since
	if r.state.Status != domain.ConnReconnecting {
		since = now
	}
	r.state = domain.ConnState{
		Status:      domain.ConnReconnecting,
		Attempt:     attempt,
		NextRetryAt: now.Add(delay),
		Since:       since,
	}
	if err != nil {
		r.state.LastError = err.Error()
	}
	return delay
}

// Stopped records that the feed is no longer trying to connect.
func (r *Reconnector) Stopped(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = domain.ConnState{Status: domain.ConnDisconnected, Since: now, LastError: r.state.LastError}
}
