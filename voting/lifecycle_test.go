package voting

import (
	"errors"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestParseAction(t *testing.T) {
	c := qt.New(t)
	a, err := ParseAction(" tally ")
	c.Assert(err, qt.IsNil)
	c.Assert(a, qt.Equals, ActionTally)

	for _, s := range []string{"", "Start", "open", "delete"} {
		_, err := ParseAction(s)
		c.Assert(err, qt.ErrorIs, ErrInvalidAction, qt.Commentf("action %q", s))
	}
}

func TestGuard(t *testing.T) {
	tests := []struct {
		status Status
		action Action
		to     Status
		msg    string
		ok     bool
	}{
		{NotStarted, ActionStart, Started, MsgStarted, true},
		{NotStarted, ActionStop, NotStarted, MsgNotStarted, false},
		{NotStarted, ActionTally, NotStarted, MsgNotStarted, false},
		{NotStarted, ActionSave, NotStarted, MsgNotStarted, false},

		{Started, ActionStart, Started, MsgAlreadyStart, false},
		{Started, ActionStop, Stopped, MsgStopped, true},
		{Started, ActionTally, Started, MsgNotStopped, false},
		{Started, ActionSave, Started, MsgNotStopped, false},

		{Stopped, ActionStart, Stopped, MsgAlreadyStart, false},
		{Stopped, ActionStop, Stopped, MsgAlreadyStop, false},
		{Stopped, ActionTally, Tallied, MsgTallied, true},
		{Stopped, ActionSave, Stopped, MsgNotTallied, false},

		{Tallied, ActionStart, Tallied, MsgAlreadyStart, false},
		{Tallied, ActionStop, Tallied, MsgAlreadyStop, false},
		{Tallied, ActionTally, Tallied, MsgAlreadyTally, false},
		{Tallied, ActionSave, Saved, MsgSaved, true},

		{Saved, ActionStart, Saved, MsgAlreadyStart, false},
		{Saved, ActionStop, Saved, MsgAlreadyStop, false},
		{Saved, ActionTally, Saved, MsgAlreadyTally, false},
		{Saved, ActionSave, Saved, MsgAlreadySaved, false},
	}
	for _, tt := range tests {
		t.Run(tt.status.String()+"/"+string(tt.action), func(t *testing.T) {
			c := qt.New(t)
			to, msg, err := guard(tt.status, tt.action)
			c.Assert(to, qt.Equals, tt.to)
			if tt.ok {
				c.Assert(err, qt.IsNil)
				c.Assert(msg, qt.Equals, tt.msg)
				return
			}
			c.Assert(err, qt.ErrorIs, ErrInvalidTransition)
			var te *TransitionError
			c.Assert(errors.As(err, &te), qt.IsTrue)
			c.Assert(te.Message, qt.Equals, tt.msg)
		})
	}
}

func TestGuardUnknownAction(t *testing.T) {
	_, _, err := guard(Started, Action("pause"))
	qt.Assert(t, err, qt.ErrorIs, ErrInvalidAction)
}
