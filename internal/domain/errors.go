package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrSigningFailed = errors.New("signing failed")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrLockHeld      = errors.New("lock already held")

	// Risk rejections. These are deterministic outcomes, not faults.
	ErrBreakerTripped = errors.New("daily loss breaker tripped")
	ErrInventoryCap   = errors.New("inventory cap exceeded")

	// Venue rejections.
	ErrWouldCross          = errors.New("post-only order would cross the book")
	ErrInsufficientBalance = errors.New("insufficient balance")

	// State inconsistencies.
	ErrUnknownOrder   = errors.New("unknown order")
	ErrMarketMismatch = errors.New("intent market is not the active market")
	ErrNoActiveMarket = errors.New("no active market")
)

// TransportError wraps a network failure talking to a feed or venue.
// Transport errors are retried by the caller with backoff and never fatal.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// VenueRejection is returned when the venue refuses an order.
type VenueRejection struct {
	Reason string
	Err    error
}

func (e *VenueRejection) Error() string {
	if e.Err == nil {
		return "venue rejected: " + e.Reason
	}
	return fmt.Sprintf("venue rejected: %s: %v", e.Reason, e.Err)
}

func (e *VenueRejection) Unwrap() error { return e.Err }

// StateInconsistency reports an event that contradicts local state, such as
// a fill for an order we never placed.
type StateInconsistency struct {
	Detail string
	Err    error
}

func (e *StateInconsistency) Error() string {
	if e.Err == nil {
		return "state inconsistency: " + e.Detail
	}
	return fmt.Sprintf("state inconsistency: %s: %v", e.Detail, e.Err)
}

func (e *StateInconsistency) Unwrap() error { return e.Err }

// IsRiskBreach reports whether err is a risk rejection.
func IsRiskBreach(err error) bool {
	return errors.Is(err, ErrBreakerTripped) || errors.Is(err, ErrInventoryCap)
}

// IsVenueRejection reports whether err carries a VenueRejection.
func IsVenueRejection(err error) bool {
	var vr *VenueRejection
	return errors.As(err, &vr)
}

// IsTransport reports whether err carries a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
