package state

import "fmt"

// Transition is one cell of the transition table.
type Transition struct {
	Next   State
	Action Action
}

type transitionTable [numStates][numEvents]Transition

// table is built once and never written again; every machine reads it.
var table = buildTable()

// Lookup returns the transition for event e in state s.
func Lookup(s State, e Event) Transition {
	if !s.IsValid() {
		panic(fmt.Sprintf("state: lookup from invalid state %#x", uint32(s)))
	}
	if e < 0 || int(e) >= numEvents {
		panic(fmt.Sprintf("state: lookup of invalid event %d", int(e)))
	}
	return table[s.index()][e]
}

func to(next State, action Action) Transition {
	return Transition{Next: next, Action: action}
}

func stay(s State) Transition {
	return Transition{Next: s, Action: ActionNone}
}

func buildTable() *transitionTable {
	t := new(transitionTable)

	// Cells are listed in event order: resolve, messagesQueued, saturated,
	// close, shutdown, connectionUp, connectionDown, idle.
	row := func(s State, cells ...Transition) {
		if len(cells) != numEvents {
			panic(fmt.Sprintf("state: row %v has %d cells, want %d", s, len(cells), numEvents))
		}
		for i, c := range cells {
			if !c.Next.IsValid() {
				panic(fmt.Sprintf("state: row %v event %v has no next state", s, Event(i)))
			}
		}
		t[s.index()] = [numEvents]Transition(cells)
	}

	row(StateUnresolved,
		to(StateResolving, ActionConnect),
		to(StateResolvePending, ActionConnect),
		to(StateResolveSaturated, ActionConnect),
		to(StateClosed, ActionCloseInput),
		to(StateClosed, ActionCloseInput),
		to(StateConnected, ActionNone),
		to(StateUnresolvable, ActionCloseInput),
		stay(StateUnresolved),
	)
	row(StateResolving,
		stay(StateResolving),
		to(StateResolvePending, ActionNone),
		to(StateResolveSaturated, ActionNone),
		to(StateClosed, ActionCloseInput),
		to(StateClosed, ActionCloseInput),
		to(StateConnected, ActionNone),
		to(StateUnresolvable, ActionCloseInput),
		stay(StateResolving),
	)
	row(StateResolvePending,
		stay(StateResolvePending),
		stay(StateResolvePending),
		to(StateResolveSaturated, ActionNone),
		to(StateResolveClosing, ActionCloseInput),
		to(StateUnresolvable, ActionCloseInputAndFailAll),
		to(StateSending, ActionStartSending),
		to(StateUnresolvable, ActionCloseInputAndFailAll),
		to(StateResolving, ActionNone),
	)
	row(StateResolveSaturated,
		stay(StateResolveSaturated),
		to(StateResolvePending, ActionNone),
		stay(StateResolveSaturated),
		to(StateResolveClosing, ActionCloseInput),
		to(StateUnresolvable, ActionCloseInputAndFailAll),
		to(StateSendingSaturated, ActionStartSending),
		to(StateUnresolvable, ActionCloseInputAndFailAll),
		to(StateResolving, ActionNone),
	)
	row(StateConnected,
		stay(StateConnected),
		to(StateSending, ActionStartSending),
		to(StateSendingSaturated, ActionStartSending),
		to(StateClosed, ActionCloseInputAndOutput),
		to(StateClosed, ActionCloseInputAndOutput),
		stay(StateConnected),
		to(StateDisconnected, ActionNone),
		stay(StateConnected),
	)
	row(StateDisconnected,
		stay(StateDisconnected),
		to(StateReconnecting, ActionConnect),
		to(StateReconnectSaturated, ActionConnect),
		to(StateClosed, ActionCloseInput),
		to(StateClosed, ActionCloseInput),
		to(StateConnected, ActionNone),
		stay(StateDisconnected),
		stay(StateDisconnected),
	)
	row(StateSending,
		stay(StateSending),
		stay(StateSending),
		to(StateSendingSaturated, ActionNone),
		to(StateClosing, ActionCloseInput),
		to(StateDisconnecting, ActionCloseInputAndOutput),
		stay(StateSending),
		to(StateReconnecting, ActionConnect),
		to(StateConnected, ActionNone),
	)
	row(StateSendingSaturated,
		stay(StateSendingSaturated),
		to(StateSending, ActionNone),
		stay(StateSendingSaturated),
		to(StateClosing, ActionCloseInput),
		to(StateDisconnecting, ActionCloseInputAndOutput),
		stay(StateSendingSaturated),
		to(StateReconnectSaturated, ActionConnect),
		to(StateConnected, ActionNone),
	)
	row(StateReconnecting,
		stay(StateReconnecting),
		stay(StateReconnecting),
		to(StateReconnectSaturated, ActionNone),
		to(StateReconnectClosing, ActionCloseInput),
		to(StateBroken, ActionCloseInputAndFailAll),
		to(StateSending, ActionStartSending),
		to(StateBroken, ActionCloseInputAndFailAll),
		to(StateDisconnected, ActionNone),
	)
	row(StateReconnectSaturated,
		stay(StateReconnectSaturated),
		to(StateReconnecting, ActionNone),
		stay(StateReconnectSaturated),
		to(StateReconnectClosing, ActionCloseInput),
		to(StateBroken, ActionCloseInputAndFailAll),
		to(StateSendingSaturated, ActionStartSending),
		to(StateBroken, ActionCloseInputAndFailAll),
		to(StateDisconnected, ActionNone),
	)
	row(StateResolveClosing,
		stay(StateResolveClosing),
		stay(StateResolveClosing),
		stay(StateResolveClosing),
		stay(StateResolveClosing),
		to(StateUnresolvable, ActionFailAll),
		to(StateClosing, ActionStartSending),
		to(StateUnresolvable, ActionFailAll),
		to(StateClosed, ActionNone),
	)
	row(StateReconnectClosing,
		stay(StateReconnectClosing),
		stay(StateReconnectClosing),
		stay(StateReconnectClosing),
		stay(StateReconnectClosing),
		to(StateBroken, ActionFailAll),
		to(StateClosing, ActionStartSending),
		to(StateBroken, ActionFailAll),
		to(StateClosed, ActionNone),
	)
	row(StateClosing,
		stay(StateClosing),
		stay(StateClosing),
		stay(StateClosing),
		stay(StateClosing),
		to(StateDisconnecting, ActionCloseOutput),
		stay(StateClosing),
		to(StateDisconnecting, ActionCloseOutput),
		to(StateClosed, ActionCloseOutput),
	)
	row(StateDisconnecting,
		stay(StateDisconnecting),
		stay(StateDisconnecting),
		stay(StateDisconnecting),
		stay(StateDisconnecting),
		stay(StateDisconnecting),
		stay(StateDisconnecting),
		to(StateBroken, ActionFailAll),
		to(StateClosed, ActionNone),
	)
	for _, s := range []State{StateUnresolvable, StateClosed, StateBroken} {
		row(s,
			stay(s),
			stay(s),
			stay(s),
			stay(s),
			stay(s),
			// A connection that completes after the messenger gave up is dropped.
			to(s, ActionCloseOutput),
			stay(s),
			stay(s),
		)
	}

	for i := range t {
		for j := range t[i] {
			if t[i][j].Next == 0 {
				panic(fmt.Sprintf("state: no transition for %v on %v", State(1)<<i, Event(j)))
			}
		}
	}
	return t
}
