package messenger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the delivery outcome recorded on a message.
type Status int

const (
	StatusPending Status = iota
	StatusSent
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSent:
		return "sent"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Message is one application message. Acceptance by a channel only promises
// queuing; the delivery outcome is recorded on the message itself.
type Message struct {
	ID        string
	Body      []byte
	Headers   map[string]string
	CreatedAt time.Time

	mu     sync.Mutex
	status Status
	err    error
	done   chan struct{}
}

// NewMessage creates a pending message with a fresh ID.
func NewMessage(body []byte) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Body:      body,
		Headers:   make(map[string]string),
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// Outcome returns the recorded status and failure cause, if any.
func (m *Message) Outcome() (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.err
}

// Done is closed once the message has an outcome.
func (m *Message) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	return m.done
}

// Wait blocks until the message is sent or failed, or ctx is done. It returns
// the recorded failure cause, or nil once the message was handed to the
// connection.
func (m *Message) Wait(ctx context.Context) error {
	select {
	case <-m.Done():
		_, err := m.Outcome()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// init lazily creates done for messages built without NewMessage.
func (m *Message) init() {
	if m.done == nil {
		m.done = make(chan struct{})
	}
}

// settle records the outcome. The first outcome wins.
func (m *Message) settle(status Status, err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()

	if m.status != StatusPending {
		return false
	}
	m.status = status
	m.err = err
	close(m.done)
	return true
}

// pendingMessage is a queued message with its addressing and retry record.
type pendingMessage struct {
	msg     *Message
	service string
	param   string

	retries int
	lastErr error
}

// maxSendRetries bounds how often one message is retried after a failed send.
const maxSendRetries = 1

// FailedMessage describes a message that was force-failed.
type FailedMessage struct {
	Destination string
	Channel     string
	MessageID   string
	Service     string
	Param       string
	Body        []byte
	Retries     int
	Err         error
	FailedAt    time.Time
}
