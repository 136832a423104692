package messenger

import "github.com/ihiteshgupta/peer-messenger/internal/state"

// actionHandler runs the effects a transition asks for. Every method is
// called without the owner's lock held.
type actionHandler interface {
	connectAction()
	startSendingAction()
	closeInputAction()
	closeOutputAction()
	failAllAction()
}

// dispatch runs action against h, splitting composite actions into their parts.
func dispatch(h actionHandler, action state.Action) {
	switch action {
	case state.ActionNone:
	case state.ActionConnect:
		h.connectAction()
	case state.ActionStartSending:
		h.startSendingAction()
	default:
		if action.ClosesInput() {
			h.closeInputAction()
		}
		if action.ClosesOutput() {
			h.closeOutputAction()
		}
		if action.FailsAll() {
			h.failAllAction()
		}
	}
}
