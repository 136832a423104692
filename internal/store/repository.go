package store

import (
	"context"
	"errors"

	"github.com/ihiteshgupta/peer-messenger/internal/state"
)

// ErrNotFound is returned when a requested item is not found.
var ErrNotFound = errors.New("not found")

// StateRepository defines operations for state persistence.
type StateRepository interface {
	GetState(ctx context.Context, destination, channel string) (state.State, error)
	SaveState(ctx context.Context, destination, channel string, s state.State) error
	ListStates(ctx context.Context) ([]MessengerState, error)
	LogTransition(ctx context.Context, t *Transition) error
	GetTransitionHistory(ctx context.Context, destination string, limit int) ([]Transition, error)
}

// FailureRepository defines operations for dead letter persistence.
type FailureRepository interface {
	Record(ctx context.Context, msg *FailedMessage) error
	List(ctx context.Context, destination string, limit int) ([]FailedMessage, error)
	Count(ctx context.Context, destination string) (int, error)
}

// InboxRepository defines operations for received message persistence.
type InboxRepository interface {
	Store(ctx context.Context, msg *InboxMessage) error
	List(ctx context.Context, from string, limit int, before string) ([]InboxMessage, error)
	GetByID(ctx context.Context, id string) (*InboxMessage, error)
	Count(ctx context.Context, from string) (int, error)
}
