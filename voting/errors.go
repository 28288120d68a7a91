package voting

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated    = errors.New("authentication credentials were not provided")
	ErrForbidden          = errors.New("you do not have permission to perform this action")
	ErrInvalidAction      = errors.New("Action not found, try with start, stop, tally or save")
	ErrInvalidTransition  = errors.New("invalid voting transition")
	ErrNotEligible        = errors.New("voter is not in the census of this voting")
	ErrAlreadyVoted       = errors.New("voter has already voted in this voting")
	ErrVotingNotOpen      = errors.New("voting is not open")
	ErrReconciliation     = errors.New("tally does not reconcile with the trustee aggregate")
	ErrTrusteeUnavailable = errors.New("trustee unavailable")
	ErrVotingNotFound     = errors.New("voting not found")
	ErrInvalidVoting      = errors.New("invalid voting")
	// ErrConflict is returned by a Store when a compare-and-set update
	// finds a different status than expected.
	ErrConflict = errors.New("voting was modified concurrently")
)

// TransitionError carries the exact message for a rejected lifecycle action
type TransitionError struct {
	Message string
}

func (e *TransitionError) Error() string {
	return e.Message
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

func transitionError(msg string) error {
	return &TransitionError{Message: msg}
}

// ReconciliationError describes where a trustee result disagrees with the decrypted ballots.
// Option is 0 when the problem is not about a single option.
type ReconciliationError struct {
	Option   int
	Counted  int64
	Reported int64
	Reason   string
}

func (e *ReconciliationError) Error() string {
	if e.Option == 0 {
		return fmt.Sprintf("%s: %s", ErrReconciliation, e.Reason)
	}
	return fmt.Sprintf("%s: option %d: %s (counted %d, reported %d)",
		ErrReconciliation, e.Option, e.Reason, e.Counted, e.Reported)
}

func (e *ReconciliationError) Is(target error) bool {
	return target == ErrReconciliation
}
