package messenger

import (
	"errors"
	"fmt"

	"github.com/ihiteshgupta/peer-messenger/internal/state"
)

var (
	// ErrOverflow is returned by Submit when the channel queue is full. The
	// message is left untouched and may be submitted again.
	ErrOverflow = errors.New("channel queue overflow")

	// ErrInputClosed is returned by Submit once the channel stopped accepting
	// messages.
	ErrInputClosed = errors.New("channel input closed")

	// ErrMessengerClosed is recorded on messages abandoned when a channel is
	// closed or shut down with messages still queued.
	ErrMessengerClosed = errors.New("messenger unexpectedly closed")

	// ErrConnectionClosed is recorded on messages abandoned because the shared
	// connection could not carry them.
	ErrConnectionClosed = errors.New("connection unexpectedly closed")

	// ErrOutputClosed is recorded on a message still queued when the channel
	// output was closed.
	ErrOutputClosed = errors.New("output closed before message was sent")

	// ErrIdentityMismatch is returned when a connection resolves to a peer
	// other than the one previously observed.
	ErrIdentityMismatch = errors.New("logical destination mismatch")
)

// TerminalError is returned by the blocking Send when a channel can no
// longer accept messages.
type TerminalError struct {
	Destination string
	Channel     state.State
	Shared      state.State
	Err         error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("messenger for %s is %s (connection %s): %v", e.Destination, e.Channel, e.Shared, e.Err)
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}
