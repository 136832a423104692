package messenger

import (
	"log/slog"

	"github.com/ihiteshgupta/peer-messenger/internal/config"
)

// Option configures a Shared.
type Option func(*Shared)

// WithConfig sets timeouts, capacity and reconnect policy.
func WithConfig(cfg *config.Config) Option {
	return func(s *Shared) {
		s.cfg = cfg
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Shared) {
		s.baseLog = log
	}
}

// WithExpectedDestination makes any connection resolving to another logical
// destination a hard failure.
func WithExpectedDestination(identity string) Option {
	return func(s *Shared) {
		s.expected = identity
	}
}

// WithFailureHook registers fn to be called once for every force-failed message.
func WithFailureHook(fn func(FailedMessage)) Option {
	return func(s *Shared) {
		s.failureHook = fn
	}
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithCapacity sets the queue capacity.
func WithCapacity(n int) ChannelOption {
	return func(c *Channel) {
		if n < 1 {
			n = 1
		}
		c.capacity = n
	}
}

// WithDefaultService sets the service used when Submit is given none.
func WithDefaultService(service string) ChannelOption {
	return func(c *Channel) {
		c.defaultService = service
	}
}

// WithDefaultParam sets the service parameter used when Submit is given none.
func WithDefaultParam(param string) ChannelOption {
	return func(c *Channel) {
		c.defaultParam = param
	}
}

// WithChannelID overrides the generated channel ID.
func WithChannelID(id string) ChannelOption {
	return func(c *Channel) {
		c.id = id
	}
}
