package messenger

import "context"

// Transport is the physical connection a Shared drives. Connect and Send may
// block; Close must not block indefinitely.
type Transport interface {
	// Connect establishes the connection and returns the logical identity of
	// the peer it reached.
	Connect(ctx context.Context) (string, error)

	// Send blocks until msg is flushed to the connection or fails.
	Send(ctx context.Context, msg *Message, service, param string) error

	// Close closes the connection. It may race with an in-flight Send.
	Close() error

	// LogicalDestination returns the identity of the connected peer.
	LogicalDestination() string
}
