package state

// Event is an input to the state machine. Events are the only way to change state.
type Event int

const (
	EventResolve Event = iota
	EventMessagesQueued
	EventSaturated
	EventClose
	EventShutdown
	EventConnectionUp
	EventConnectionDown
	EventIdle
)

const numEvents = 8

var eventNames = [numEvents]string{
	"resolve",
	"messages_queued",
	"saturated",
	"close",
	"shutdown",
	"connection_up",
	"connection_down",
	"idle",
}

// Events returns every event in declaration order.
func Events() []Event {
	out := make([]Event, numEvents)
	for i := range out {
		out[i] = Event(i)
	}
	return out
}

// String returns the string representation of the event.
func (e Event) String() string {
	if e < 0 || int(e) >= numEvents {
		return "unknown"
	}
	return eventNames[e]
}

// Action is the side effect requested by a transition. Actions are executed by
// the owner of the machine after its lock has been released.
type Action int

const (
	ActionNone Action = iota
	ActionConnect
	ActionStartSending
	ActionCloseInput
	ActionCloseOutput
	ActionFailAll
	ActionCloseInputAndOutput
	ActionCloseInputAndFailAll
)

// String returns the string representation of the action.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionConnect:
		return "connect"
	case ActionStartSending:
		return "start_sending"
	case ActionCloseInput:
		return "close_input"
	case ActionCloseOutput:
		return "close_output"
	case ActionFailAll:
		return "fail_all"
	case ActionCloseInputAndOutput:
		return "close_input_and_output"
	case ActionCloseInputAndFailAll:
		return "close_input_and_fail_all"
	default:
		return "unknown"
	}
}

// ClosesInput returns true if the action includes closing the input side.
func (a Action) ClosesInput() bool {
	return a == ActionCloseInput || a == ActionCloseInputAndOutput || a == ActionCloseInputAndFailAll
}

// ClosesOutput returns true if the action includes closing the output side.
func (a Action) ClosesOutput() bool {
	return a == ActionCloseOutput || a == ActionCloseInputAndOutput
}

// FailsAll returns true if the action fails every queued message.
func (a Action) FailsAll() bool {
	return a == ActionFailAll || a == ActionCloseInputAndFailAll
}
