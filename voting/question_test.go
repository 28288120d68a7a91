package voting

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestNewQuestion(t *testing.T) {
	c := qt.New(t)
	q, err := NewQuestion(" best colour? ", false, "red", " ", " green ", "", "blue")
	c.Assert(err, qt.IsNil)
	c.Assert(q.Desc, qt.Equals, "best colour?")
	c.Assert(q.Options, qt.DeepEquals, []QuestionOption{
		{Number: 1, Option: "red"},
		{Number: 2, Option: "green"},
		{Number: 3, Option: "blue"},
	})
	c.Assert(q.Numbers(), qt.DeepEquals, []int{1, 2, 3})
	c.Assert(q.HasOption(3), qt.IsTrue)
	c.Assert(q.HasOption(0), qt.IsFalse)
	c.Assert(q.HasOption(4), qt.IsFalse)
}

func TestNewQuestionYesNo(t *testing.T) {
	c := qt.New(t)
	yesNo := []QuestionOption{{Number: 1, Option: YesOption}, {Number: 2, Option: NoOption}}

	// whatever the caller sends is replaced
	for _, opts := range [][]string{nil, {"maybe"}, {"NO", "YES", "perhaps"}} {
		q, err := NewQuestion("agree?", true, opts...)
		c.Assert(err, qt.IsNil)
		c.Assert(q.IsYesNo, qt.IsTrue)
		c.Assert(q.Options, qt.DeepEquals, yesNo)
	}
}

func TestNewQuestionInvalid(t *testing.T) {
	c := qt.New(t)
	_, err := NewQuestion("  ", false, "a")
	c.Assert(err, qt.ErrorIs, ErrInvalidVoting)
	_, err = NewQuestion("q", false)
	c.Assert(err, qt.ErrorIs, ErrInvalidVoting)
	_, err = NewQuestion("q", false, " ", "")
	c.Assert(err, qt.ErrorIs, ErrInvalidVoting)
}
