package voting

import (
	"fmt"
	"strings"
)

// labels of a yes/no question, numbered 1 and 2
const (
	YesOption = "YES"
	NoOption  = "NO"
)

// NewQuestion builds a question with options numbered from 1 in the order given.
// A yes/no question always gets exactly the YES and NO options and anything
// supplied is discarded. This is the only place that rule is applied.
func NewQuestion(desc string, isYesNo bool, options ...string) (Question, error) {
	q := Question{Desc: strings.TrimSpace(desc), IsYesNo: isYesNo}
	if q.Desc == "" {
		return q, fmt.Errorf("%w: question is required", ErrInvalidVoting)
	}
	if isYesNo {
		q.Options = []QuestionOption{
			{Number: 1, Option: YesOption},
			{Number: 2, Option: NoOption},
		}
		return q, nil
	}
	for _, o := range options {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		q.Options = append(q.Options, QuestionOption{Number: len(q.Options) + 1, Option: o})
	}
	if len(q.Options) == 0 {
		return q, fmt.Errorf("%w: question_opt is required", ErrInvalidVoting)
	}
	return q, nil
}
