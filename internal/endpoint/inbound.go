package endpoint

import (
	"context"

	"github.com/google/uuid"

	"github.com/ihiteshgupta/peer-messenger/internal/store"
	"github.com/ihiteshgupta/peer-messenger/internal/transport"
)

// HandleInbound queues a message received by the transport listener. It
// matches transport.Handler.
func (e *Endpoint) HandleInbound(in transport.Inbound) {
	e.EmitEvent(NewEvent(EventMessage, MessagePayload{
		ID:         in.ID,
		From:       in.From,
		Service:    in.Service,
		Param:      in.Param,
		Headers:    in.Headers,
		Body:       in.Body,
		ReceivedAt: in.ReceivedAt,
	}))
}

// handleMessage stores a received message and notifies message listeners.
func (e *Endpoint) handleMessage(evt Event) {
	payload, ok := evt.Payload.(MessagePayload)
	if !ok {
		e.log.Error("invalid message payload")
		return
	}

	msg := store.InboxMessage{
		ID:         payload.ID,
		From:       payload.From,
		Service:    payload.Service,
		Param:      payload.Param,
		Body:       payload.Body,
		Content:    string(payload.Body),
		ReceivedAt: payload.ReceivedAt,
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = evt.Timestamp
	}

	if err := e.store.Inbox.Store(context.Background(), &msg); err != nil {
		e.log.Error("failed to store message", "from", msg.From, "error", err)
	}
	e.log.Debug("message received", "from", msg.From, "id", msg.ID, "service", msg.Service)

	e.mu.RLock()
	listeners := make([]func(store.InboxMessage), len(e.msgListeners))
	copy(listeners, e.msgListeners)
	e.mu.RUnlock()

	for _, listener := range listeners {
		listener(msg)
	}
}
