// Package state provides the finite state machine shared by every
// connection-oriented messenger: the channel queues and the shared connection
// they multiplex onto.
package state

import (
	"fmt"
	"math/bits"
	"strings"
)

// State is one discrete messenger state. Every state is a distinct bit so that
// composite predicates can be expressed as masks.
type State uint32

const (
	// Unconnected: no connection has been proven viable yet.
	StateUnresolved State = 1 << iota
	StateResolving
	StateResolvePending
	StateResolveSaturated

	// Resolved and idle.
	StateConnected
	StateDisconnected

	// Resolved with messages outstanding.
	StateSending
	StateSendingSaturated
	StateReconnecting
	StateReconnectSaturated

	// Input closed, messages still outstanding.
	StateResolveClosing
	StateReconnectClosing
	StateClosing
	StateDisconnecting

	// Terminal.
	StateUnresolvable
	StateClosed
	StateBroken
)

const numStates = 17

// Composite masks.
const (
	// Unconnected states have never seen a viable connection.
	Unconnected = StateUnresolved | StateResolving | StateResolvePending | StateResolveSaturated

	// Usable states accept new messages.
	Usable = StateUnresolved | StateResolving | StateResolvePending | StateResolveSaturated |
		StateConnected | StateDisconnected |
		StateSending | StateSendingSaturated | StateReconnecting | StateReconnectSaturated

	// Resolved states are reached only after the connection was proven viable once.
	Resolved = StateConnected | StateDisconnected |
		StateSending | StateSendingSaturated | StateReconnecting | StateReconnectSaturated |
		StateReconnectClosing | StateClosing | StateDisconnecting

	// Terminal states never change again.
	Terminal = StateUnresolvable | StateClosed | StateBroken

	// Idle states have no message outstanding.
	Idle = StateUnresolved | StateResolving | StateConnected | StateDisconnected | Terminal

	// Saturated states have no buffer space left.
	Saturated = StateResolveSaturated | StateSendingSaturated | StateReconnectSaturated

	// AllStates is the union of every discrete state.
	AllStates State = 1<<numStates - 1
)

var stateNames = [numStates]string{
	"unresolved",
	"resolving",
	"resolve_pending",
	"resolve_saturated",
	"connected",
	"disconnected",
	"sending",
	"sending_saturated",
	"reconnecting",
	"reconnect_saturated",
	"resolve_closing",
	"reconnect_closing",
	"closing",
	"disconnecting",
	"unresolvable",
	"closed",
	"broken",
}

// States returns the discrete states in declaration order.
func States() []State {
	out := make([]State, numStates)
	for i := range out {
		out[i] = State(1) << i
	}
	return out
}

// ParseState returns the discrete state with the given name.
func ParseState(name string) (State, bool) {
	for i, n := range stateNames {
		if n == name {
			return State(1) << i, true
		}
	}
	return 0, false
}

var maskNames = map[string]State{
	"unconnected": Unconnected,
	"usable":      Usable,
	"resolved":    Resolved,
	"terminal":    Terminal,
	"idle":        Idle,
	"saturated":   Saturated,
}

// ParseMask parses state names and composite mask names joined by "|", the
// form String renders masks in.
func ParseMask(expr string) (State, error) {
	var mask State
	for _, part := range strings.Split(expr, "|") {
		name := strings.ToLower(strings.TrimSpace(part))
		if m, ok := maskNames[name]; ok {
			mask |= m
			continue
		}
		s, ok := ParseState(name)
		if !ok {
			return 0, fmt.Errorf("unknown state %q", part)
		}
		mask |= s
	}
	return mask, nil
}

// IsValid reports whether s is exactly one discrete state.
func (s State) IsValid() bool {
	return s != 0 && s&AllStates == s && s&(s-1) == 0
}

func (s State) index() int {
	return bits.TrailingZeros32(uint32(s))
}

// String returns the state name, or the names of every member joined by "|"
// when s is a mask.
func (s State) String() string {
	if s.IsValid() {
		return stateNames[s.index()]
	}
	if s == 0 {
		return "none"
	}
	var names []string
	for i := 0; i < numStates; i++ {
		if s&(State(1)<<i) != 0 {
			names = append(names, stateNames[i])
		}
	}
	if s&^AllStates != 0 {
		names = append(names, "invalid")
	}
	return strings.Join(names, "|")
}

// Any reports whether s shares at least one state with mask.
func (s State) Any(mask State) bool {
	return s&mask != 0
}

// IsUsable returns true if new messages may be submitted in this state.
func (s State) IsUsable() bool { return s.Any(Usable) }

// IsResolved returns true if the connection has been proven viable at least once.
func (s State) IsResolved() bool { return s.Any(Resolved) }

// IsTerminal returns true if the state can no longer change.
func (s State) IsTerminal() bool { return s.Any(Terminal) }

// IsIdle returns true if no message is outstanding.
func (s State) IsIdle() bool { return s.Any(Idle) }

// IsSaturated returns true if no buffer space is left.
func (s State) IsSaturated() bool { return s.Any(Saturated) }
