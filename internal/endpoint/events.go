// Package endpoint keeps one canonical messenger per destination, journals
// every state transition and records received and undeliverable messages.
package endpoint

import (
	"time"

	"github.com/ihiteshgupta/peer-messenger/internal/messenger"
)

// EventType represents the type of endpoint event.
type EventType int

const (
	EventMessage EventType = iota
	EventStateChange
	EventMessageFailed
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventMessage:
		return "message"
	case EventStateChange:
		return "state_change"
	case EventMessageFailed:
		return "message_failed"
	default:
		return "unknown"
	}
}

// Event represents an endpoint event.
type Event struct {
	Type      EventType
	Payload   interface{}
	Timestamp time.Time
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(t EventType, payload interface{}) Event {
	return Event{
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// MessagePayload contains data for message events.
type MessagePayload struct {
	ID         string
	From       string
	Service    string
	Param      string
	Headers    map[string]string
	Body       []byte
	ReceivedAt time.Time
}

// StatePayload contains data for state change events.
type StatePayload = messenger.StateChange

// FailurePayload contains data for message failure events.
type FailurePayload = messenger.FailedMessage
