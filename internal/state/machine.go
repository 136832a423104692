package state

import (
	"context"
	"fmt"

	"github.com/qmuntal/stateless"
)

// Machine is one messenger's instance of the shared transition table. It owns
// only the current state; the table itself is global and immutable.
//
// Machine is not safe for concurrent use. Its owner serialises every call
// under the same lock that guards the owner's queue.
type Machine struct {
	sm      *stateless.StateMachine
	current State
}

// NewMachine creates a machine starting in the given state.
func NewMachine(initial State) *Machine {
	if !initial.IsValid() {
		panic(fmt.Sprintf("state: invalid initial state %#x", uint32(initial)))
	}
	m := &Machine{current: initial}

	m.sm = stateless.NewStateMachineWithExternalStorage(
		func(_ context.Context) (stateless.State, error) {
			return m.current, nil
		},
		func(_ context.Context, s stateless.State) error {
			m.current = s.(State)
			return nil
		},
		stateless.FiringImmediate,
	)

	for _, s := range States() {
		cfg := m.sm.Configure(s)
		for _, e := range Events() {
			tr := Lookup(s, e)
			if tr.Next == s {
				cfg.PermitReentry(e)
			} else {
				cfg.Permit(e, tr.Next)
			}
		}
	}

	return m
}

// Current returns the current state.
func (m *Machine) Current() State {
	return m.current
}

// Apply fires e, commits the next state and returns the action the owner must
// run once it has released its lock.
func (m *Machine) Apply(e Event) Action {
	from := m.current
	tr := Lookup(from, e)
	if err := m.sm.Fire(e); err != nil {
		// The stateless configuration is generated from the same table.
		panic(fmt.Sprintf("state: %v on %v: %v", e, from, err))
	}
	if m.current != tr.Next {
		panic(fmt.Sprintf("state: %v on %v reached %v, want %v", e, from, m.current, tr.Next))
	}
	return tr.Action
}
