// Package market tracks the lifecycle of the rolling 15-minute window: which
// market is current, when it rolls over, and how it resolves.
package market

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
)

// TransitionKind classifies what a tracker update did.
type TransitionKind int

const (
	NoChange TransitionKind = iota
	// Installed: a window became current while none was.
	Installed
	// Rolled: the current window was replaced by one with another MarketID.
	Rolled
	// Expired: the current window passed its CloseTime and was archived.
	Expired
)

func (k TransitionKind) String() string {
	switch k {
	case Installed:
		return "installed"
	case Rolled:
		return "rolled"
	case Expired:
		return "expired"
	default:
		return "no_change"
	}
}

// Transition describes a tracker update. Old is the window that left (Rolled,
// Expired); New is the one that became current (Installed, Rolled).
type Transition struct {
	Kind TransitionKind
	Old  *domain.MarketWindow
	New  *domain.MarketWindow
}

// Tracker owns the current MarketWindow and the archive of past ones. It is
// not safe for concurrent use; the engine loop is its only writer.
type Tracker struct {
	current     *domain.MarketWindow
	archive     []domain.MarketWindow
	archiveSize int
	version     uint64
	logger      *slog.Logger
}

// NewTracker creates a tracker keeping at most archiveSize past windows.
func NewTracker(archiveSize int, logger *slog.Logger) *Tracker {
	if archiveSize <= 0 {
		archiveSize = 96
	}
	return &Tracker{
		archiveSize: archiveSize,
		logger:      logger.With(slog.String("component", "market_tracker")),
	}
}

// Current returns the installed window whether or not it is active yet.
func (t *Tracker) Current() (domain.MarketWindow, bool) {
	if t.current == nil {
		return domain.MarketWindow{}, false
	}
	return *t.current, true
}

// Active returns the current window if now falls inside it.
func (t *Tracker) Active(now time.Time) (domain.MarketWindow, bool) {
	if t.current == nil || !t.current.IsActive(now) {
		return domain.MarketWindow{}, false
	}
	return *t.current, true
}

// Archived returns past windows, oldest first.
func (t *Tracker) Archived() []domain.MarketWindow {
	return append([]domain.MarketWindow(nil), t.archive...)
}

// LastArchived returns the most recently archived window.
func (t *Tracker) LastArchived() (domain.MarketWindow, bool) {
	if len(t.archive) == 0 {
		return domain.MarketWindow{}, false
	}
	return t.archive[len(t.archive)-1], true
}

// Apply installs discovery output. A nil window while the current one is
// still open is a discovery gap and is ignored.
func (t *Tracker) Apply(now time.Time, w *domain.MarketWindow) (Transition, error) {
	if w == nil {
		if t.current != nil && !now.Before(t.current.CloseTime) {
			return t.Expire(now), nil
		}
		return Transition{}, nil
	}
	if w.MarketID == "" || !w.OpenTime.Before(w.CloseTime) {
		return Transition{}, &domain.StateInconsistency{
			Detail: fmt.Sprintf("invalid window %q [%s, %s)", w.MarketID, w.OpenTime, w.CloseTime),
		}
	}

	if t.current == nil {
		if t.wasArchived(w.MarketID) {
			return Transition{}, nil
		}
		next := t.stamp(*w)
		if last, ok := t.LastArchived(); ok && next.OpenTime.Before(last.CloseTime) {
			next.OpenTime = last.CloseTime
		}
		t.current = &next
		t.logger.Info("market window installed",
			slog.String("market_id", next.MarketID),
			slog.Time("open", next.OpenTime),
			slog.Time("close", next.CloseTime),
		)
		return Transition{Kind: Installed, New: &next}, nil
	}

	if w.MarketID == t.current.MarketID {
		return Transition{}, nil
	}

	old := *t.current
	active := now.Before(old.CloseTime)
	if active && w.OpenTime.Before(old.CloseTime) {
		return Transition{}, &domain.StateInconsistency{
			Detail: fmt.Sprintf("window %s opens at %s before current %s closes at %s",
				w.MarketID, w.OpenTime.Format(time.RFC3339), old.MarketID, old.CloseTime.Format(time.RFC3339)),
		}
	}

	next := t.stamp(*w)
	if next.OpenTime.Before(old.CloseTime) {
		next.OpenTime = old.CloseTime
	}
	t.push(old)
	t.current = &next
	t.logger.Info("market window rolled",
		slog.String("old_market_id", old.MarketID),
		slog.String("market_id", next.MarketID),
		slog.Time("close", next.CloseTime),
	)
	return Transition{Kind: Rolled, Old: &old, New: &next}, nil
}

// Expire archives the current window once now reaches its CloseTime.
func (t *Tracker) Expire(now time.Time) Transition {
	if t.current == nil || now.Before(t.current.CloseTime) {
		return Transition{}
	}
	old := *t.current
	t.push(old)
	t.current = nil
	t.logger.Info("market window expired", slog.String("market_id", old.MarketID))
	return Transition{Kind: Expired, Old: &old}
}

// ApplyQuote records top of book for the current window. Quotes for any
// other market or token are ignored.
func (t *Tracker) ApplyQuote(q domain.Quote) bool {
	if t.current == nil || (q.MarketID != "" && q.MarketID != t.current.MarketID) {
		return false
	}
	side, ok := t.current.SideForToken(q.TokenID)
	if !ok {
		return false
	}
	next := *t.current
	switch side {
	case domain.SideYes:
		next.QuotedYes, next.BestBidYes, next.BestAskYes = q.Mid, q.BestBid, q.BestAsk
	case domain.SideNo:
		next.QuotedNo, next.BestBidNo, next.BestAskNo = q.Mid, q.BestBid, q.BestAsk
	}
	next.LastUpdate = q.At
	next = t.stamp(next)
	t.current = &next
	return true
}

// stamp returns w with the next version number.
func (t *Tracker) stamp(w domain.MarketWindow) domain.MarketWindow {
	t.version++
	w.Version = t.version
	return w
}

func (t *Tracker) wasArchived(marketID string) bool {
	for i := range t.archive {
		if t.archive[i].MarketID == marketID {
			return true
		}
	}
	return false
}

func (t *Tracker) push(w domain.MarketWindow) {
	t.archive = append(t.archive, w)
	if n := len(t.archive) - t.archiveSize; n > 0 {
		t.archive = append([]domain.MarketWindow(nil), t.archive[n:]...)
	}
}
