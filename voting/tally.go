package voting

import "fmt"

// Reconcile checks a trustee result against the question and the number of
// ballots that were sent for decryption. The trustee is not trusted: every
// option count it reports in postproc must match the count of that option in
// the decrypted tally.
//
// Plaintexts that are not an option number are spoiled ballots. They are
// counted in the tally length, excluded from option counts and returned.
func Reconcile(q *Question, ballots int, res *TallyResult) (spoiled int, err error) {
	if res == nil {
		return 0, &ReconciliationError{Reason: "trustee returned no result"}
	}
	if len(res.Tally) != ballots {
		return 0, &ReconciliationError{
			Reason: fmt.Sprintf("trustee returned %d plaintexts for %d ballots", len(res.Tally), ballots),
		}
	}

	reported := make(map[int]int64, len(res.PostProc))
	for _, pp := range res.PostProc {
		if !q.HasOption(int64(pp.Number)) {
			return 0, &ReconciliationError{
				Option:   pp.Number,
				Reported: pp.Votes,
				Reason:   fmt.Sprintf("option %d is not in the question", pp.Number),
			}
		}
		if _, dup := reported[pp.Number]; dup {
			return 0, &ReconciliationError{Option: pp.Number, Reported: pp.Votes, Reason: "option reported twice"}
		}
		if pp.Votes < 0 {
			return 0, &ReconciliationError{Option: pp.Number, Reported: pp.Votes, Reason: "negative count"}
		}
		reported[pp.Number] = pp.Votes
	}

	counted := make(map[int]int64, len(q.Options))
	for _, m := range res.Tally {
		if !q.HasOption(m) {
			spoiled++
			continue
		}
		counted[int(m)]++
	}

	// options missing from postproc were reported as zero
	for _, o := range q.Options {
		if counted[o.Number] != reported[o.Number] {
			return spoiled, &ReconciliationError{
				Option:   o.Number,
				Counted:  counted[o.Number],
				Reported: reported[o.Number],
				Reason:   "count mismatch",
			}
		}
	}
	return spoiled, nil
}
