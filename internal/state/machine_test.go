package state

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMachine(t *testing.T) {
	m := NewMachine(StateUnresolved)
	require.NotNil(t, m)
	assert.Equal(t, StateUnresolved, m.Current())

	m = NewMachine(StateConnected)
	assert.Equal(t, StateConnected, m.Current())
}

func TestNewMachine_InvalidInitialState(t *testing.T) {
	assert.Panics(t, func() { NewMachine(StateUnresolved | StateConnected) })
	assert.Panics(t, func() { NewMachine(0) })
}

func TestTable_EveryCellDefined(t *testing.T) {
	for _, s := range States() {
		for _, e := range Events() {
			tr := Lookup(s, e)
			assert.True(t, tr.Next.IsValid(), "%v on %v", e, s)
		}
	}
}

func TestTable_TerminalStatesAreFrozen(t *testing.T) {
	for _, s := range States() {
		if !s.IsTerminal() {
			continue
		}
		for _, e := range Events() {
			assert.Equal(t, s, Lookup(s, e).Next, "%v on %v", e, s)
		}
	}
}

func TestTable_EnteringIdleFromBusyDrainsQueue(t *testing.T) {
	// A busy state may only become idle through the idle event (queue emptied)
	// or through an action that fails every queued message.
	for _, s := range States() {
		if s.IsIdle() {
			continue
		}
		for _, e := range Events() {
			tr := Lookup(s, e)
			if !tr.Next.IsIdle() {
				continue
			}
			assert.True(t, e == EventIdle || tr.Action.FailsAll(), "%v on %v -> %v (%v)", e, s, tr.Next, tr.Action)
		}
	}
}

func TestTable_LeavingIdleRequiresMessages(t *testing.T) {
	for _, s := range States() {
		if !s.IsIdle() {
			continue
		}
		for _, e := range Events() {
			tr := Lookup(s, e)
			if tr.Next.IsIdle() {
				continue
			}
			assert.Contains(t, []Event{EventMessagesQueued, EventSaturated}, e, "%v on %v -> %v", e, s, tr.Next)
		}
	}
}

func TestTable_SaturationFollowsEvents(t *testing.T) {
	for _, s := range States() {
		if !s.IsUsable() {
			continue
		}
		// Space freed: never saturated afterwards.
		assert.False(t, Lookup(s, EventMessagesQueued).Next.IsSaturated(), "messages_queued on %v", s)
		// Queue full: saturated afterwards.
		assert.True(t, Lookup(s, EventSaturated).Next.IsSaturated(), "saturated on %v", s)
	}
}

func TestTable_CloseIsIdempotent(t *testing.T) {
	for _, s := range States() {
		once := Lookup(s, EventClose)
		twice := Lookup(once.Next, EventClose)
		assert.Equal(t, once.Next, twice.Next, "close on %v", s)
		assert.Equal(t, ActionNone, twice.Action, "second close on %v", s)
		assert.False(t, once.Next.IsUsable(), "close on %v leaves input open", s)
	}
}

func TestMachine_SubmitToUnresolved(t *testing.T) {
	m := NewMachine(StateUnresolved)

	action := m.Apply(EventMessagesQueued)
	assert.Equal(t, ActionConnect, action)
	assert.Equal(t, StateResolvePending, m.Current())
}

func TestMachine_ResolveSendDrain(t *testing.T) {
	m := NewMachine(StateUnresolved)

	assert.Equal(t, ActionConnect, m.Apply(EventMessagesQueued))
	assert.Equal(t, ActionNone, m.Apply(EventSaturated))
	assert.Equal(t, StateResolveSaturated, m.Current())

	assert.Equal(t, ActionStartSending, m.Apply(EventConnectionUp))
	assert.Equal(t, StateSendingSaturated, m.Current())

	assert.Equal(t, ActionNone, m.Apply(EventMessagesQueued))
	assert.Equal(t, StateSending, m.Current())

	assert.Equal(t, ActionNone, m.Apply(EventIdle))
	assert.Equal(t, StateConnected, m.Current())
}

func TestMachine_ReconnectFlow(t *testing.T) {
	m := NewMachine(StateConnected)

	assert.Equal(t, ActionStartSending, m.Apply(EventMessagesQueued))
	assert.Equal(t, ActionConnect, m.Apply(EventConnectionDown))
	assert.Equal(t, StateReconnecting, m.Current())

	assert.Equal(t, ActionStartSending, m.Apply(EventConnectionUp))
	assert.Equal(t, StateSending, m.Current())

	assert.Equal(t, ActionConnect, m.Apply(EventConnectionDown))
	assert.Equal(t, ActionCloseInputAndFailAll, m.Apply(EventConnectionDown))
	assert.Equal(t, StateBroken, m.Current())
}

func TestMachine_ClosingOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		events []Event
		want   []State
	}{
		{
			name:   "in-flight send succeeds",
			events: []Event{EventIdle},
			want:   []State{StateClosed},
		},
		{
			name:   "in-flight send fails",
			events: []Event{EventConnectionDown, EventConnectionDown},
			want:   []State{StateDisconnecting, StateBroken},
		},
		{
			name:   "shutdown while closing",
			events: []Event{EventShutdown, EventIdle},
			want:   []State{StateDisconnecting, StateClosed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(StateConnected)
			m.Apply(EventMessagesQueued)
			require.Equal(t, ActionCloseInput, m.Apply(EventClose))
			require.Equal(t, StateClosing, m.Current())

			for i, e := range tt.events {
				m.Apply(e)
				assert.Equal(t, tt.want[i], m.Current())
			}
		})
	}
}

func TestMachine_ShutdownForcesClosure(t *testing.T) {
	tests := []struct {
		name   string
		setup  []Event
		from   State
		want   State
		action Action
	}{
		{"from unresolved", nil, StateUnresolved, StateClosed, ActionCloseInput},
		{"from resolve pending", []Event{EventMessagesQueued}, StateUnresolved, StateUnresolvable, ActionCloseInputAndFailAll},
		{"from connected", nil, StateConnected, StateClosed, ActionCloseInputAndOutput},
		{"from sending", []Event{EventMessagesQueued}, StateConnected, StateDisconnecting, ActionCloseInputAndOutput},
		{"from reconnecting", []Event{EventMessagesQueued, EventConnectionDown}, StateConnected, StateBroken, ActionCloseInputAndFailAll},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(tt.from)
			for _, e := range tt.setup {
				m.Apply(e)
			}
			assert.Equal(t, tt.action, m.Apply(EventShutdown))
			assert.Equal(t, tt.want, m.Current())
		})
	}
}

func TestMachine_RandomEventsStayInDefinedStates(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	events := Events()

	for run := 0; run < 50; run++ {
		m := NewMachine(StateUnresolved)
		for i := 0; i < 200; i++ {
			before := m.Current()
			e := events[rng.Intn(len(events))]
			want := Lookup(before, e)

			action := m.Apply(e)
			require.True(t, m.Current().IsValid(), "%v on %v", e, before)
			require.Equal(t, want.Next, m.Current())
			require.Equal(t, want.Action, action)
		}
	}
}
