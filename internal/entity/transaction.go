// Structure of the Transaction Model tracked by Tidewatch.

package entity

import (
	"encoding/json"
	"time"
)

type TransactionState string

const (
	StatePending   TransactionState = "pending"
	StateConfirmed TransactionState = "confirmed"
	StateFailed    TransactionState = "failed"
	StateRetrying  TransactionState = "retrying"
)

// Error details attached to failed transactions by Tidewatch itself.
const (
	ErrorTimeout           = "timeout"
	ErrorRetriesExhausted  = "retries exhausted"
	ErrorSchedulingFailure = "retry scheduling failed"
)

// Terminal reports whether no further transition may happen from s.
// A stored failed state is always terminal, retryable failures are kept as retrying.
func (s TransactionState) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// ParseTransactionState maps a wire value onto a known state.
func ParseTransactionState(raw string) (TransactionState, bool) {
	switch s := TransactionState(raw); s {
	case StatePending, StateConfirmed, StateFailed, StateRetrying:
		return s, true
	}
	return "", false
}

// One asynchronous operation under observation.
// Saved as transaction:<this.ID> once it reaches a terminal state.
type Transaction struct {
	ID            string           `json:"transaction_id"`
	UserID        string           `json:"user_id"`
	OperationType string           `json:"operation_type"`
	State         TransactionState `json:"state"`
	// Number of failed attempts so far, never above the configured maximum
	Attempt       int             `json:"attempt"`
	CreatedAt     time.Time       `json:"created_at"`
	LastUpdatedAt time.Time       `json:"last_updated_at"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
}
