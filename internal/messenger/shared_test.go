package messenger

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ihiteshgupta/peer-messenger/internal/health"
	"github.com/ihiteshgupta/peer-messenger/internal/state"
)

func TestShared_RoundRobinAcrossChannels(t *testing.T) {
	gate := make(chan struct{})
	ft := &fakeTransport{identity: "peer-a", connectGate: gate}
	s := newTestShared(t, ft)

	const channels, perChannel = 3, 5
	var msgs []*Message
	for i := 0; i < channels; i++ {
		c := s.NewChannel(WithCapacity(8))
		for j := 0; j < perChannel; j++ {
			m := NewMessage([]byte(fmt.Sprintf("%d-%d", i, j)))
			require.NoError(t, c.Submit(m, "", ""))
			msgs = append(msgs, m)
		}
	}

	close(gate)
	for _, m := range msgs {
		require.NoError(t, m.Wait(waitCtx(t)))
	}

	sent := ft.sentBodies()
	require.Len(t, sent, channels*perChannel)

	for round := 0; round < perChannel; round++ {
		seen := make(map[byte]bool)
		for _, body := range sent[round*channels : (round+1)*channels] {
			seen[body[0]] = true
			assert.Equal(t, byte('0'+round), body[2], "round %d sent %s", round, body)
		}
		assert.Len(t, seen, channels, "round %d: %v", round, sent)
	}
}

func TestShared_IdentityMismatchOnResolve(t *testing.T) {
	ft := &fakeTransport{identity: "peer-x"}
	var failures failureLog
	s := newTestShared(t, ft, WithExpectedDestination("peer-y"), WithFailureHook(failures.record))

	c := s.NewChannel()
	idle := s.NewChannel()

	m := NewMessage([]byte("hello"))
	require.NoError(t, c.Submit(m, "", ""))
	idle.Resolve()

	assert.Equal(t, state.StateUnresolvable, s.WaitForState(state.Terminal, time.Second))
	assert.ErrorIs(t, s.LastError(), ErrIdentityMismatch)
	assert.Equal(t, 1, ft.closeCount())

	assert.Equal(t, state.StateUnresolvable, c.WaitForState(state.Terminal, time.Second))
	assert.Equal(t, state.StateUnresolvable, idle.WaitForState(state.Terminal, time.Second))

	err := m.Wait(waitCtx(t))
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.Len(t, failures.all(), 1)
	assert.Empty(t, ft.sentBodies())
}

func TestShared_IdentityMismatchOnReconnect(t *testing.T) {
	ft := &fakeTransport{identities: []string{"peer-x", "peer-z"}}
	var failed atomic.Bool
	ft.sendHook = func(ctx context.Context, msg *Message) error {
		if string(msg.Body) == "second" && !failed.Swap(true) {
			return errors.New("connection reset")
		}
		return nil
	}
	s := newTestShared(t, ft)
	c := s.NewChannel()

	first := NewMessage([]byte("first"))
	require.NoError(t, c.Submit(first, "", ""))
	require.NoError(t, first.Wait(waitCtx(t)))
	assert.Equal(t, "peer-x", s.LogicalDestination())

	second := NewMessage([]byte("second"))
	require.NoError(t, c.Submit(second, "", ""))

	assert.Equal(t, state.StateBroken, s.WaitForState(state.Terminal, time.Second))
	assert.ErrorIs(t, s.LastError(), ErrIdentityMismatch)

	err := second.Wait(waitCtx(t))
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.Equal(t, state.StateBroken, c.WaitForState(state.Terminal, time.Second))
	assert.Equal(t, 2, ft.connectCount())
}

func TestShared_RetriesOnceAfterReconnect(t *testing.T) {
	ft := &fakeTransport{identity: "peer-a"}
	var attempts atomic.Int32
	ft.sendHook = func(ctx context.Context, msg *Message) error {
		if attempts.Add(1) == 1 {
			return errors.New("connection reset")
		}
		return nil
	}
	s := newTestShared(t, ft)
	c := s.NewChannel()

	m := NewMessage([]byte("retry-me"))
	require.NoError(t, c.Submit(m, "", ""))

	require.NoError(t, m.Wait(waitCtx(t)))
	assert.Equal(t, []string{"retry-me"}, ft.sentBodies())
	assert.Equal(t, 2, ft.connectCount())
	assert.Equal(t, state.StateConnected, s.WaitForState(state.StateConnected, time.Second))

	stats := s.Stats()
	assert.Equal(t, 1, stats.Health.ReconnectCount)
	assert.Equal(t, int64(1), stats.Health.MessagesSent)
}

func TestShared_MessageFailingTwiceIsDropped(t *testing.T) {
	errPoison := errors.New("payload rejected")
	ft := &fakeTransport{identity: "peer-a"}
	ft.sendHook = func(ctx context.Context, msg *Message) error {
		if string(msg.Body) == "poison" {
			return errPoison
		}
		return nil
	}
	var failures failureLog
	s := newTestShared(t, ft, WithFailureHook(failures.record))
	c := s.NewChannel()

	poison := NewMessage([]byte("poison"))
	ok := NewMessage([]byte("ok"))
	require.NoError(t, c.Submit(poison, "", ""))
	require.NoError(t, c.Submit(ok, "", ""))

	err := poison.Wait(waitCtx(t))
	assert.ErrorIs(t, err, errPoison)
	require.NoError(t, ok.Wait(waitCtx(t)))

	assert.Equal(t, []string{"ok"}, ft.sentBodies())
	assert.Equal(t, 3, ft.connectCount())

	failed := failures.all()
	require.Len(t, failed, 1)
	assert.Equal(t, poison.ID, failed[0].MessageID)
	assert.Equal(t, 1, failed[0].Retries)
}

// gatedSend makes every Send block until a result is pushed to release.
func gatedSend(ft *fakeTransport) (started <-chan struct{}, release chan<- error) {
	startedCh := make(chan struct{}, 16)
	releaseCh := make(chan error)
	ft.sendHook = func(ctx context.Context, msg *Message) error {
		startedCh <- struct{}{}
		select {
		case err := <-releaseCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return startedCh, releaseCh
}

func waitStarted(t *testing.T, started <-chan struct{}) {
	t.Helper()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("send never started")
	}
}

func TestShared_ClosingWithSendInFlight(t *testing.T) {
	tests := []struct {
		name    string
		result  error
		want    []state.State
		msgErr  error
		channel state.State
	}{
		{
			name:    "send succeeds",
			result:  nil,
			want:    []state.State{state.StateClosing, state.StateClosed},
			channel: state.StateConnected,
		},
		{
			name:    "send fails",
			result:  errors.New("broken pipe"),
			want:    []state.State{state.StateClosing, state.StateDisconnecting, state.StateBroken},
			msgErr:  ErrConnectionClosed,
			channel: state.StateBroken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := &fakeTransport{identity: "peer-a"}
			started, release := gatedSend(ft)
			s := newTestShared(t, ft)

			var log transitionLog
			s.OnTransition(log.record)

			c := s.NewChannel()
			m := NewMessage([]byte("in-flight"))
			require.NoError(t, c.Submit(m, "", ""))
			waitStarted(t, started)

			s.Close()
			require.Equal(t, state.StateClosing, s.State())

			release <- tt.result

			s.WaitForState(state.Terminal, time.Second)

			var tail []state.State
			for _, change := range log.all() {
				if change.From.Any(state.StateSending) || change.From.Any(state.StateClosing|state.StateDisconnecting) {
					tail = append(tail, change.To)
				}
			}
			assert.Equal(t, tt.want, tail)

			err := m.Wait(waitCtx(t))
			if tt.msgErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.msgErr)
			}
			assert.Equal(t, tt.channel, c.WaitForState(tt.channel, time.Second))
			assert.GreaterOrEqual(t, ft.closeCount(), 1)
		})
	}
}

func TestShared_ShutdownWhileSending(t *testing.T) {
	ft := &fakeTransport{identity: "peer-a"}
	started, _ := gatedSend(ft)
	var failures failureLog
	s := newTestShared(t, ft, WithFailureHook(failures.record))

	c := s.NewChannel()
	inFlight := NewMessage([]byte("in-flight"))
	queued := NewMessage([]byte("queued"))
	require.NoError(t, c.Submit(inFlight, "", ""))
	require.NoError(t, c.Submit(queued, "", ""))
	waitStarted(t, started)

	s.Shutdown()

	assert.Equal(t, state.StateBroken, s.WaitForState(state.Terminal, time.Second))
	assert.Equal(t, state.StateBroken, c.WaitForState(state.Terminal, time.Second))
	assert.ErrorIs(t, inFlight.Wait(waitCtx(t)), ErrConnectionClosed)
	assert.ErrorIs(t, queued.Wait(waitCtx(t)), ErrConnectionClosed)
	assert.Len(t, failures.all(), 2)
}

func TestShared_CloseWhenIdle(t *testing.T) {
	ft := &fakeTransport{identity: "peer-a"}
	s := newTestShared(t, ft)

	c := s.NewChannel()
	c.Resolve()
	require.Equal(t, state.StateConnected, s.WaitForState(state.StateConnected, time.Second))

	s.Close()
	assert.Equal(t, state.StateClosed, s.State())
	assert.Equal(t, 1, ft.closeCount())

	// A channel that was idle when the connection closed fails its next message.
	m := NewMessage(nil)
	require.NoError(t, c.Submit(m, "", ""))
	assert.ErrorIs(t, m.Wait(waitCtx(t)), ErrConnectionClosed)
	assert.Equal(t, state.StateBroken, c.State())

	s.Close()
	assert.Equal(t, state.StateClosed, s.State())
	assert.Equal(t, 1, ft.closeCount())
}

func TestShared_CloseWhileResolvingDeliversQueued(t *testing.T) {
	gate := make(chan struct{})
	ft := &fakeTransport{identity: "peer-a", connectGate: gate}
	var failures failureLog
	s := newTestShared(t, ft, WithFailureHook(failures.record))

	c := s.NewChannel()
	m := NewMessage([]byte("queued"))
	require.NoError(t, c.Submit(m, "", ""))
	require.Equal(t, state.StateResolvePending, s.State())

	c.Close()
	s.Close()
	assert.Equal(t, state.StateResolveClosing, s.State())
	assert.Equal(t, state.StateResolveClosing, c.State())

	close(gate)
	require.NoError(t, m.Wait(waitCtx(t)))
	assert.Equal(t, []string{"queued"}, ft.sentBodies())
	assert.Empty(t, failures.all())

	assert.Equal(t, state.StateClosed, s.WaitForState(state.Terminal, time.Second))
	assert.Equal(t, state.StateClosed, c.WaitForState(state.Terminal, time.Second))
	assert.Eventually(t, func() bool { return ft.closeCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestShared_CloseWhileResolvingWithoutMessages(t *testing.T) {
	ft := &fakeTransport{identity: "peer-a", connectGate: make(chan struct{})}
	s := newTestShared(t, ft)

	c := s.NewChannel()
	c.Resolve()
	require.Eventually(t, func() bool { return ft.connectCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, state.StateResolving, s.State())

	// Nothing is queued, so there is nothing to wait for.
	s.Close()
	assert.Equal(t, state.StateClosed, s.State())
	assert.Equal(t, state.StateUnresolvable, c.WaitForState(state.Terminal, time.Second))
	assert.Empty(t, ft.sentBodies())
}

func TestShared_ConnectionLostReconnectsLazily(t *testing.T) {
	ft := &fakeTransport{identity: "peer-a"}
	s := newTestShared(t, ft)
	c := s.NewChannel()

	first := NewMessage([]byte("first"))
	require.NoError(t, c.Submit(first, "", ""))
	require.NoError(t, first.Wait(waitCtx(t)))
	require.Equal(t, state.StateConnected, s.WaitForState(state.StateConnected, time.Second))

	s.ConnectionLost(errors.New("peer hung up"))
	assert.Equal(t, state.StateDisconnected, s.State())
	assert.Equal(t, 1, ft.connectCount())

	second := NewMessage([]byte("second"))
	require.NoError(t, c.Submit(second, "", ""))
	require.NoError(t, second.Wait(waitCtx(t)))
	assert.Equal(t, 2, ft.connectCount())
	assert.Equal(t, []string{"first", "second"}, ft.sentBodies())
}

func TestShared_ReconnectRetryBudget(t *testing.T) {
	ft := &fakeTransport{identity: "peer-a"}
	ft.sendHook = func(ctx context.Context, msg *Message) error {
		return errors.New("always down")
	}
	cfg := testConfig()
	cfg.ReconnectMaxRetries = 1
	var failures failureLog
	s := newTestShared(t, ft, WithConfig(cfg), WithFailureHook(failures.record))
	c := s.NewChannel()

	msgs := []*Message{NewMessage([]byte("a")), NewMessage([]byte("b"))}
	for _, m := range msgs {
		require.NoError(t, c.Submit(m, "", ""))
	}

	assert.Equal(t, state.StateBroken, s.WaitForState(state.Terminal, 2*time.Second))
	assert.ErrorIs(t, s.LastError(), health.ErrMaxRetriesExceeded)
	for _, m := range msgs {
		assert.Error(t, m.Wait(waitCtx(t)))
	}
	assert.Len(t, failures.all(), 2)
}

func TestShared_WorkerStartsLazilyAndRetires(t *testing.T) {
	ft := &fakeTransport{identity: "peer-a"}
	s := newTestShared(t, ft)
	assert.False(t, s.Stats().WorkerRunning)

	c := s.NewChannel()
	m := NewMessage([]byte("x"))
	require.NoError(t, c.Submit(m, "", ""))
	require.NoError(t, m.Wait(waitCtx(t)))

	assert.Eventually(t, func() bool { return !s.Stats().WorkerRunning }, 2*time.Second, 10*time.Millisecond)

	// A retired worker comes back for new work.
	again := NewMessage([]byte("y"))
	require.NoError(t, c.Submit(again, "", ""))
	require.NoError(t, again.Wait(waitCtx(t)))
}

func TestShared_Stats(t *testing.T) {
	ft := &fakeTransport{identity: "peer-a"}
	s := newTestShared(t, ft)

	stats := s.Stats()
	assert.Equal(t, "peer-a", stats.Destination)
	assert.Equal(t, "unresolved", stats.State)
	assert.Empty(t, stats.LogicalDestination)

	c := s.NewChannel()
	c.Resolve()
	require.Equal(t, state.StateConnected, s.WaitForState(state.StateConnected, time.Second))

	stats = s.Stats()
	assert.Equal(t, "connected", stats.State)
	assert.Equal(t, "peer-a", stats.LogicalDestination)
	assert.Equal(t, 0, stats.ActiveChannels)
	assert.True(t, stats.Health.Connected)
	assert.Equal(t, 1, stats.Health.ConnectAttempts)
}
