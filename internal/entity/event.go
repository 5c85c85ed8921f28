// Structure of the events pushed to live client sessions.

package entity

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventConnectionEstablished EventType = "connection_established"
	EventTransactionUpdate     EventType = "transaction_update"
	EventSystemNotification    EventType = "system_notification"
	EventPong                  EventType = "pong"
	EventAck                   EventType = "ack"
	EventError                 EventType = "error"
)

// Event is an immutable notification. It targets either one user or every live session.
type Event struct {
	Type         EventType `json:"type"`
	TargetUserID string    `json:"target_user_id,omitempty"`
	Broadcast    bool      `json:"broadcast,omitempty"`
	Body         any       `json:"body,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

type TransactionUpdate struct {
	TransactionID string           `json:"transaction_id"`
	State         TransactionState `json:"state"`
	OperationType string           `json:"operation_type"`
	Attempt       int              `json:"attempt"`
	Result        json.RawMessage  `json:"result,omitempty"`
	Error         string           `json:"error,omitempty"`
}

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ParseSeverity maps a wire value onto a known severity.
func ParseSeverity(raw string) (Severity, bool) {
	switch s := Severity(raw); s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return s, true
	}
	return "", false
}

type SystemNotification struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

type ConnectionEstablished struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
}

type Ack struct {
	Ack     string `json:"ack"`
	Channel string `json:"channel,omitempty"`
}

type ErrorBody struct {
	Message string `json:"message"`
}

// NewTransactionEvent builds the transaction_update event for the owner of tx.
func NewTransactionEvent(tx Transaction) Event {
	return Event{
		Type:         EventTransactionUpdate,
		TargetUserID: tx.UserID,
		Body: TransactionUpdate{
			TransactionID: tx.ID,
			State:         tx.State,
			OperationType: tx.OperationType,
			Attempt:       tx.Attempt,
			Result:        tx.Result,
			Error:         tx.Error,
		},
		Timestamp: tx.LastUpdatedAt,
	}
}

// NewSystemNotification builds a broadcast system_notification event.
func NewSystemNotification(severity Severity, message string, at time.Time) Event {
	return Event{
		Type:      EventSystemNotification,
		Broadcast: true,
		Body:      SystemNotification{Severity: severity, Message: message},
		Timestamp: at,
	}
}

// Frames sent by clients over their session.
type ClientMessage struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}
