package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceTick is one observation of the reference instrument price.
// Timestamp is the exchange event time, not the local receive time.
type PriceTick struct {
	Timestamp  time.Time
	ReceivedAt time.Time
	Instrument string
	Price      decimal.Decimal
}

// ConnStatus is the state of a streaming connection.
type ConnStatus string

const (
	ConnConnected    ConnStatus = "connected"
	ConnReconnecting ConnStatus = "reconnecting"
	ConnDisconnected ConnStatus = "disconnected"
)

// ConnState describes a feed connection and its reconnect schedule.
type ConnState struct {
	Status      ConnStatus
	Attempt     int
	NextRetryAt time.Time
	Since       time.Time
	LastError   string
}
