package endpoint

import (
	"strings"

	"github.com/ihiteshgupta/peer-messenger/internal/messenger"
)

// TransportFactory creates the transport for a network address.
// This allows for easy faking in tests.
type TransportFactory func(addr string) messenger.Transport

// lossNotifier is implemented by transports that detect dropped connections
// on their own.
type lossNotifier interface {
	OnConnectionLost(fn func(error))
}

// ParseDestination splits "peer@host:port" into the expected peer identity
// and the address to dial. A destination without "@" has no expected
// identity.
func ParseDestination(destination string) (identity, addr string) {
	if i := strings.LastIndex(destination, "@"); i >= 0 {
		return destination[:i], destination[i+1:]
	}
	return "", destination
}
