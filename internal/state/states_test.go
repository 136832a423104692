package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStates_DistinctBits(t *testing.T) {
	var seen State
	for _, s := range States() {
		assert.True(t, s.IsValid(), "%v", s)
		assert.Zero(t, seen&s, "%v reuses a bit", s)
		seen |= s
	}
	assert.Equal(t, AllStates, seen)
	assert.Len(t, States(), 17)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unresolved", StateUnresolved.String())
	assert.Equal(t, "broken", StateBroken.String())
	assert.Equal(t, "unresolvable|closed|broken", Terminal.String())
	assert.Equal(t, "none", State(0).String())
}

func TestParseState(t *testing.T) {
	for _, s := range States() {
		parsed, ok := ParseState(s.String())
		assert.True(t, ok)
		assert.Equal(t, s, parsed)
	}
	_, ok := ParseState("ready")
	assert.False(t, ok)
}

func TestParseMask(t *testing.T) {
	tests := []struct {
		expr    string
		want    State
		wantErr bool
	}{
		{"connected", StateConnected, false},
		{"connected|terminal", StateConnected | Terminal, false},
		{" Sending | closed ", StateSending | StateClosed, false},
		{"usable", Usable, false},
		{"closing|bogus", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ParseMask(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	// Masks round-trip through String.
	mask := StateResolving | StateBroken
	got, err := ParseMask(mask.String())
	assert.NoError(t, err)
	assert.Equal(t, mask, got)
}

func TestState_Predicates(t *testing.T) {
	tests := []struct {
		state     State
		usable    bool
		resolved  bool
		terminal  bool
		idle      bool
		saturated bool
	}{
		{StateUnresolved, true, false, false, true, false},
		{StateResolvePending, true, false, false, false, false},
		{StateResolveSaturated, true, false, false, false, true},
		{StateConnected, true, true, false, true, false},
		{StateSendingSaturated, true, true, false, false, true},
		{StateReconnecting, true, true, false, false, false},
		{StateClosing, false, true, false, false, false},
		{StateResolveClosing, false, false, false, false, false},
		{StateUnresolvable, false, false, true, true, false},
		{StateClosed, false, false, true, true, false},
		{StateBroken, false, false, true, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			assert.Equal(t, tt.usable, tt.state.IsUsable())
			assert.Equal(t, tt.resolved, tt.state.IsResolved())
			assert.Equal(t, tt.terminal, tt.state.IsTerminal())
			assert.Equal(t, tt.idle, tt.state.IsIdle())
			assert.Equal(t, tt.saturated, tt.state.IsSaturated())
		})
	}
}

func TestEventAndActionNames(t *testing.T) {
	assert.Equal(t, "connection_up", EventConnectionUp.String())
	assert.Equal(t, "unknown", Event(42).String())
	assert.Equal(t, "close_input_and_fail_all", ActionCloseInputAndFailAll.String())

	assert.True(t, ActionCloseInputAndOutput.ClosesInput())
	assert.True(t, ActionCloseInputAndOutput.ClosesOutput())
	assert.False(t, ActionCloseInputAndOutput.FailsAll())
	assert.True(t, ActionCloseInputAndFailAll.FailsAll())
	assert.False(t, ActionConnect.ClosesInput())
}
