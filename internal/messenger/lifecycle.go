package messenger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ihiteshgupta/peer-messenger/internal/state"
)

// StateChange describes one committed transition of a channel or of the
// shared connection.
type StateChange struct {
	Destination string
	// Channel is empty for the shared connection.
	Channel string
	From    state.State
	To      state.State
	Event   state.Event
	Action  state.Action
	At      time.Time
}

// Changed reports whether the transition left the state it started in.
func (c StateChange) Changed() bool {
	return c.From != c.To
}

// lifecycle is the machine, lock and change notification shared by channels
// and the shared connection.
type lifecycle struct {
	mu      sync.Mutex
	machine *state.Machine
	// changed is closed and replaced on every state change, under mu.
	changed chan struct{}

	destination string
	channel     string
	log         *slog.Logger

	listenersMu sync.RWMutex
	listeners   []func(StateChange)
}

func (l *lifecycle) init(initial state.State, destination, channel string, log *slog.Logger) {
	l.machine = state.NewMachine(initial)
	l.changed = make(chan struct{})
	l.destination = destination
	l.channel = channel
	l.log = log
}

// fireLocked applies ev and returns the committed transition. The caller holds
// mu and runs the action through finish after releasing it.
func (l *lifecycle) fireLocked(ev state.Event) StateChange {
	from := l.machine.Current()
	action := l.machine.Apply(ev)
	to := l.machine.Current()

	if from != to {
		close(l.changed)
		l.changed = make(chan struct{})
	}

	return StateChange{
		Destination: l.destination,
		Channel:     l.channel,
		From:        from,
		To:          to,
		Event:       ev,
		Action:      action,
		At:          time.Now(),
	}
}

// finish reports a committed transition and runs its action. It must be
// called without mu held.
func (l *lifecycle) finish(h actionHandler, c StateChange) {
	if c.Changed() {
		l.log.Debug("state transition",
			"from", c.From.String(),
			"to", c.To.String(),
			"event", c.Event.String(),
			"action", c.Action.String(),
		)
		l.notify(c)
	}
	dispatch(h, c.Action)
}

func (l *lifecycle) notify(c StateChange) {
	l.listenersMu.RLock()
	listeners := make([]func(StateChange), len(l.listeners))
	copy(listeners, l.listeners)
	l.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(c)
	}
}

// OnTransition registers a callback invoked after every state change.
// Callbacks run without any messenger lock held.
func (l *lifecycle) OnTransition(fn func(StateChange)) {
	l.listenersMu.Lock()
	defer l.listenersMu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// State returns the current state.
func (l *lifecycle) State() state.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.machine.Current()
}

// snapshot returns the current state and the channel closed on its next change.
func (l *lifecycle) snapshot() (state.State, <-chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.machine.Current(), l.changed
}

// AwaitState blocks until the state is in mask or ctx is done, and returns
// the last observed state.
func (l *lifecycle) AwaitState(ctx context.Context, mask state.State) (state.State, error) {
	for {
		current, changed := l.snapshot()
		if current.Any(mask) {
			return current, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return current, ctx.Err()
		}
	}
}

// WaitForState waits up to timeout for a state in mask and returns the state
// reached, which is outside mask if the timeout expired.
func (l *lifecycle) WaitForState(mask state.State, timeout time.Duration) state.State {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	current, _ := l.AwaitState(ctx, mask)
	return current
}
