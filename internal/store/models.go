// Package store persists the messenger journal: state transitions, messages
// that could not be delivered and messages received from peers.
package store

import (
	"time"

	"github.com/ihiteshgupta/peer-messenger/internal/state"
)

// Transition represents one recorded state machine transition of a
// messenger. Channel is empty for a shared connection.
type Transition struct {
	ID          int64       `json:"id"`
	Destination string      `json:"destination"`
	Channel     string      `json:"channel,omitempty"`
	FromState   state.State `json:"-"`
	ToState     state.State `json:"-"`
	From        string      `json:"from_state"`
	To          string      `json:"to_state"`
	Event       string      `json:"event"`
	Action      string      `json:"action"`
	Timestamp   time.Time   `json:"timestamp"`
}

// MessengerState is the last known state of one messenger.
type MessengerState struct {
	Destination string      `json:"destination"`
	Channel     string      `json:"channel,omitempty"`
	State       state.State `json:"-"`
	Name        string      `json:"state"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// FailedMessage is a dead letter: a message that was force-failed.
type FailedMessage struct {
	ID          int64     `json:"id"`
	MessageID   string    `json:"message_id"`
	Destination string    `json:"destination"`
	Channel     string    `json:"channel"`
	Service     string    `json:"service,omitempty"`
	Param       string    `json:"param,omitempty"`
	Body        []byte    `json:"-"`
	Content     string    `json:"content"`
	Retries     int       `json:"retries"`
	Error       string    `json:"error"`
	FailedAt    time.Time `json:"failed_at"`
}

// InboxMessage is a message received from a peer.
type InboxMessage struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	Service    string    `json:"service,omitempty"`
	Param      string    `json:"param,omitempty"`
	Body       []byte    `json:"-"`
	Content    string    `json:"content"`
	ReceivedAt time.Time `json:"received_at"`
}
