package messenger

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ihiteshgupta/peer-messenger/internal/config"
)

// fakeTransport is a scriptable Transport.
type fakeTransport struct {
	mu sync.Mutex

	// identity is reported by every Connect unless identities has an entry
	// for that attempt.
	identity   string
	identities []string
	connectErr error
	// connectGate, when set, blocks Connect until it is closed.
	connectGate chan struct{}
	// sendHook, when set, runs before a message is recorded as sent.
	sendHook func(ctx context.Context, msg *Message) error

	connects int
	closes   int
	sent     []string
	services []string
	current  string
}

func (f *fakeTransport) Connect(ctx context.Context) (string, error) {
	f.mu.Lock()
	f.connects++
	attempt := f.connects
	gate := f.connectGate
	err := f.connectErr
	identity := f.identity
	if attempt <= len(f.identities) {
		identity = f.identities[attempt-1]
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	f.current = identity
	f.mu.Unlock()
	return identity, nil
}

func (f *fakeTransport) Send(ctx context.Context, msg *Message, service, param string) error {
	if f.sendHook != nil {
		if err := f.sendHook(ctx, msg); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, string(msg.Body))
	f.services = append(f.services, service+"/"+param)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTransport) LogicalDestination() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *fakeTransport) sentBodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.ChannelCapacity = 4
	cfg.IdleTimeout = 50 * time.Millisecond
	cfg.ConnectTimeout = 2 * time.Second
	cfg.SendTimeout = 2 * time.Second
	cfg.ReconnectBaseDelay = time.Millisecond
	cfg.ReconnectMaxDelay = 5 * time.Millisecond
	cfg.ReconnectMaxRetries = 10
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestShared(t *testing.T, ft *fakeTransport, opts ...Option) *Shared {
	t.Helper()

	base := []Option{WithConfig(testConfig()), WithLogger(discardLogger())}
	s := NewShared("peer-a", ft, append(base, opts...)...)
	t.Cleanup(s.Shutdown)
	return s
}

// failureLog collects force-failed messages.
type failureLog struct {
	mu     sync.Mutex
	failed []FailedMessage
}

func (l *failureLog) record(m FailedMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failed = append(l.failed, m)
}

func (l *failureLog) all() []FailedMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]FailedMessage, len(l.failed))
	copy(out, l.failed)
	return out
}

// transitionLog collects the states a messenger moved into.
type transitionLog struct {
	mu     sync.Mutex
	states []StateChange
}

func (l *transitionLog) record(c StateChange) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, c)
}

func (l *transitionLog) all() []StateChange {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]StateChange, len(l.states))
	copy(out, l.states)
	return out
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}
