package voting

import "strings"

// Action is a lifecycle command an administrator can issue on a voting
type Action string

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
	ActionTally Action = "tally"
	ActionSave  Action = "save"
)

// ParseAction returns ErrInvalidAction for anything but the four actions
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.TrimSpace(s)); a {
	case ActionStart, ActionStop, ActionTally, ActionSave:
		return a, nil
	}
	return "", ErrInvalidAction
}

// the messages returned to the caller. They are part of the API contract.
const (
	MsgStarted      = "Voting started"
	MsgStopped      = "Voting stopped"
	MsgTallied      = "Voting tallied"
	MsgSaved        = "Voting has been saved in local"
	MsgNotStarted   = "Voting is not started"
	MsgNotStopped   = "Voting is not stopped"
	MsgNotTallied   = "Voting has not being tallied"
	MsgAlreadyStart = "Voting already started"
	MsgAlreadyStop  = "Voting already stopped"
	MsgAlreadyTally = "Voting already tallied"
	MsgAlreadySaved = "Voting already saved"
)

type edge struct {
	from Status
	to   Status
	ok   string
}

var edges = map[Action]edge{
	ActionStart: {from: NotStarted, to: Started, ok: MsgStarted},
	ActionStop:  {from: Started, to: Stopped, ok: MsgStopped},
	ActionTally: {from: Stopped, to: Tallied, ok: MsgTallied},
	ActionSave:  {from: Tallied, to: Saved, ok: MsgSaved},
}

// guard decides whether action may run on a voting in status s. It returns the
// target status and the success message, or a *TransitionError with the message
// for the caller.
func guard(s Status, a Action) (Status, string, error) {
	e, ok := edges[a]
	if !ok {
		return s, "", ErrInvalidAction
	}
	if s == e.from {
		return e.to, e.ok, nil
	}
	if s > e.from {
		// too late for this action
		switch a {
		case ActionStart:
			return s, "", transitionError(MsgAlreadyStart)
		case ActionStop:
			return s, "", transitionError(MsgAlreadyStop)
		case ActionTally:
			return s, "", transitionError(MsgAlreadyTally)
		default:
			return s, "", transitionError(MsgAlreadySaved)
		}
	}
	// too early, report the first missing step
	switch s {
	case NotStarted:
		return s, "", transitionError(MsgNotStarted)
	case Started:
		return s, "", transitionError(MsgNotStopped)
	default:
		return s, "", transitionError(MsgNotTallied)
	}
}
