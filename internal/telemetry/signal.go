// Package telemetry carries the typed signals components publish about themselves.
// The session registry, fan-out router and transaction monitor publish,
// the metrics aggregator consumes.
package telemetry

import (
	"Tidewatch/internal/entity"
	"time"
)

type Kind string

const (
	UserConnected         Kind = "user_connected"
	UserDisconnected      Kind = "user_disconnected"
	TransactionTransition Kind = "transaction_transition"
	Delivery              Kind = "delivery"
)

// Signal is a single observation. Only the fields relevant to Kind are set.
type Signal struct {
	Kind Kind
	At   time.Time

	UserID       string
	ConnectionID string
	// Set when a connect created the user's session group or a disconnect deleted it.
	GroupChanged bool

	TransactionID string
	OperationType string
	// From is empty for a freshly tracked transaction.
	From  entity.TransactionState
	To    entity.TransactionState
	Error string

	Delivered int
}

// Publisher accepts signals. Implementations must not block the caller.
type Publisher interface {
	Publish(Signal)
}

// PublisherFunc adapts a plain function into a Publisher.
type PublisherFunc func(Signal)

func (f PublisherFunc) Publish(s Signal) { f(s) }

// Discard drops every signal.
var Discard Publisher = PublisherFunc(func(Signal) {})
