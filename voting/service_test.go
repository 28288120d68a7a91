package voting_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/thechriswalker/go-decide/crypto/elgamal"
	"github.com/thechriswalker/go-decide/storage"
	"github.com/thechriswalker/go-decide/voting"
)

var (
	admin    = &voting.Actor{ID: 1, Name: "admin", Admin: true}
	noAdmin  = &voting.Actor{ID: 2, Name: "someone"}
	endOfDay = time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
)

// fakeTrustee decrypts honestly unless told to fail or cheat
type fakeTrustee struct {
	mu      sync.Mutex
	keys    map[int64]*elgamal.KeyPair
	keygens int
	tallies int
	fail    error
	cheat   func(*voting.TallyResult)
}

func newFakeTrustee() *fakeTrustee {
	return &fakeTrustee{keys: map[int64]*elgamal.KeyPair{}}
}

func (f *fakeTrustee) KeyHolder(voting.Auth) (voting.KeyHolder, error) { return f, nil }

func (f *fakeTrustee) Tallier(voting.Auth) (voting.Tallier, error) { return f, nil }

func (f *fakeTrustee) GenerateKey(ctx context.Context, votingID int64, bits int) (*elgamal.PublicKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	kp, ok := f.keys[votingID]
	if !ok {
		kp = elgamal.GenerateKey(bits)
		f.keys[votingID] = kp
		f.keygens++
	}
	return kp.Public(), nil
}

func (f *fakeTrustee) Tally(ctx context.Context, req *voting.TallyRequest) (*voting.TallyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tallies++
	if f.fail != nil {
		return nil, f.fail
	}
	sk := f.keys[req.VotingID].Secret()
	res := &voting.TallyResult{Tally: make([]int64, len(req.Ciphertexts))}
	counts := map[int]int64{}
	for i, ct := range req.Ciphertexts {
		m, err := sk.DecryptInt(ct)
		if err != nil {
			return nil, err
		}
		res.Tally[i] = m
		counts[int(m)]++
	}
	for _, n := range req.Options {
		res.PostProc = append(res.PostProc, voting.PostProc{Number: n, Votes: counts[n]})
	}
	if f.cheat != nil {
		f.cheat(res)
	}
	return res, nil
}

func (f *fakeTrustee) SignReport(ctx context.Context, votingID int64, digest []byte) (*elgamal.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keys[votingID].Secret().CreateSignature(digest), nil
}

type fixture struct {
	c       *qt.C
	ctx     context.Context
	svc     *voting.Service
	trustee *fakeTrustee
	dir     string
}

func newFixture(c *qt.C) *fixture {
	return newFixtureWithStore(c, storage.NewMemoryStorage())
}

func newFixtureWithStore(c *qt.C, store voting.Store) *fixture {
	f := &fixture{c: c, ctx: context.Background(), trustee: newFakeTrustee(), dir: c.TempDir()}
	f.svc = voting.NewService(store, f.trustee,
		voting.WithKeyBits(64),
		voting.WithReportDir(f.dir),
		voting.WithClock(func() time.Time { return endOfDay }),
	)
	return f
}

func (f *fixture) create(options ...string) *voting.Voting {
	if len(options) == 0 {
		options = []string{"a", "b", "c"}
	}
	v, err := f.svc.CreateVoting(f.ctx, admin, voting.NewVoting{
		Name:     "test voting",
		Desc:     "testing",
		Question: "which?",
		Options:  options,
	})
	f.c.Assert(err, qt.IsNil)
	return v
}

func (f *fixture) apply(id int64, action string) (string, error) {
	return f.svc.Apply(f.ctx, admin, id, action, "")
}

func (f *fixture) mustApply(id int64, actions ...string) {
	for _, a := range actions {
		_, err := f.apply(id, a)
		f.c.Assert(err, qt.IsNil, qt.Commentf("action %s", a))
	}
}

func (f *fixture) vote(id, voter, option int64) error {
	v, err := f.svc.Voting(f.ctx, id)
	f.c.Assert(err, qt.IsNil)
	ct, err := v.PublicKey.EncryptInt(option)
	f.c.Assert(err, qt.IsNil)
	_, err = f.svc.SubmitBallot(f.ctx, &voting.Actor{ID: voter}, id, voter, ct)
	return err
}

func (f *fixture) status(id int64) voting.Status {
	v, err := f.svc.Voting(f.ctx, id)
	f.c.Assert(err, qt.IsNil)
	return v.Status
}

func TestCreateVoting(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	v := f.create(" a ", "", "b")
	c.Assert(v.Status, qt.Equals, voting.NotStarted)
	c.Assert(v.Question.Options, qt.HasLen, 2)
	c.Assert(v.Auths, qt.DeepEquals, []voting.Auth{{URL: "http://localhost:8000", Name: "self", IsSelf: true}})

	_, err := f.svc.CreateVoting(f.ctx, nil, voting.NewVoting{})
	c.Assert(err, qt.ErrorIs, voting.ErrUnauthenticated)
	_, err = f.svc.CreateVoting(f.ctx, noAdmin, voting.NewVoting{})
	c.Assert(err, qt.ErrorIs, voting.ErrForbidden)
	_, err = f.svc.CreateVoting(f.ctx, admin, voting.NewVoting{Name: "x", Question: "q", Options: []string{"a"}})
	c.Assert(err, qt.ErrorIs, voting.ErrInvalidVoting)

	// a voting this node cannot tally is refused
	_, err = f.svc.CreateVoting(f.ctx, admin, voting.NewVoting{
		Name: "x", Desc: "y", Question: "q", Options: []string{"a"},
		Auths: []voting.Auth{{URL: "http://elsewhere:8000"}},
	})
	c.Assert(err, qt.ErrorIs, voting.ErrInvalidVoting)

	v, err = f.svc.CreateVoting(f.ctx, admin, voting.NewVoting{
		Name: "x", Desc: "y", Question: "q", IsYesNo: true, Options: []string{"maybe"},
		Auths: []voting.Auth{{URL: "http://localhost:8000/", Name: "me"}, {URL: "http://elsewhere:8000"}},
	})
	c.Assert(err, qt.IsNil)
	c.Assert(v.Auths[0].IsSelf, qt.IsTrue)
	c.Assert(v.Auths[1].IsSelf, qt.IsFalse)
	c.Assert(v.Question.Options, qt.DeepEquals, []voting.QuestionOption{
		{Number: 1, Option: voting.YesOption},
		{Number: 2, Option: voting.NoOption},
	})
}

func TestFullLifecycle(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	v := f.create()

	msg, err := f.apply(v.ID, "start")
	c.Assert(err, qt.IsNil)
	c.Assert(msg, qt.Equals, voting.MsgStarted)

	_, err = f.svc.AddCensus(f.ctx, admin, v.ID, 10, 11, 12, 13, 14, 15)
	c.Assert(err, qt.IsNil)
	for i, opt := range []int64{1, 1, 2, 3, 3, 3} {
		c.Assert(f.vote(v.ID, int64(10+i), opt), qt.IsNil)
	}

	f.mustApply(v.ID, "stop", "tally")
	got, err := f.svc.Voting(f.ctx, v.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Status, qt.Equals, voting.Tallied)
	c.Assert(got.Tally, qt.DeepEquals, []int64{1, 1, 2, 3, 3, 3})
	c.Assert(got.StartDate, qt.Not(qt.IsNil))
	c.Assert(*got.EndDate, qt.Equals, endOfDay)

	msg, err = f.apply(v.ID, "save")
	c.Assert(err, qt.IsNil)
	c.Assert(msg, qt.Equals, voting.MsgSaved)
	got, err = f.svc.Voting(f.ctx, v.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Status, qt.Equals, voting.Saved)
	c.Assert(got.File, qt.Equals, "ficheros/1-test voting - 05-03-24.txt")
	_, err = os.Stat(f.svc.Reports().Location(got.File))
	c.Assert(err, qt.IsNil)

	// terminal
	for _, a := range []string{"start", "stop", "tally", "save"} {
		_, err := f.apply(v.ID, a)
		c.Assert(err, qt.ErrorIs, voting.ErrInvalidTransition)
	}
}

// lostSaveStore loses the compare-and-set of every save, as if another node
// had moved the voting first.
type lostSaveStore struct {
	voting.Store
}

func (s lostSaveStore) UpdateVoting(ctx context.Context, v *voting.Voting, expect voting.Status) error {
	if v.Status == voting.Saved {
		return voting.ErrConflict
	}
	return s.Store.UpdateVoting(ctx, v, expect)
}

func TestSaveConflictRemovesReport(t *testing.T) {
	c := qt.New(t)
	f := newFixtureWithStore(c, lostSaveStore{storage.NewMemoryStorage()})
	v := f.create()
	f.mustApply(v.ID, "start")
	_, err := f.svc.AddCensus(f.ctx, admin, v.ID, 10)
	c.Assert(err, qt.IsNil)
	c.Assert(f.vote(v.ID, 10, 2), qt.IsNil)
	f.mustApply(v.ID, "stop", "tally")

	_, err = f.apply(v.ID, "save")
	c.Assert(err, qt.ErrorIs, voting.ErrConflict)
	c.Assert(f.status(v.ID), qt.Equals, voting.Tallied)
	_, err = os.Stat(f.svc.Reports().Location("ficheros/1-test voting - 05-03-24.txt"))
	c.Assert(errors.Is(err, os.ErrNotExist), qt.IsTrue)
}

func TestApplyChecksCallerFirst(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	v := f.create()

	_, err := f.svc.Apply(f.ctx, nil, v.ID, "nonsense", "")
	c.Assert(err, qt.ErrorIs, voting.ErrUnauthenticated)
	_, err = f.svc.Apply(f.ctx, noAdmin, v.ID, "start", "")
	c.Assert(err, qt.ErrorIs, voting.ErrForbidden)
	_, err = f.apply(v.ID, "nonsense")
	c.Assert(err, qt.ErrorIs, voting.ErrInvalidAction)
	_, err = f.apply(999, "start")
	c.Assert(err, qt.ErrorIs, voting.ErrVotingNotFound)
	c.Assert(f.status(v.ID), qt.Equals, voting.NotStarted)
}

func TestConcurrentStart(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	v := f.create()

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.apply(v.ID, "start")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		var te *voting.TransitionError
		c.Assert(errors.As(err, &te), qt.IsTrue)
		c.Assert(te.Message, qt.Equals, voting.MsgAlreadyStart)
	}
	c.Assert(ok, qt.Equals, 1)
	c.Assert(f.trustee.keygens, qt.Equals, 1)
}

func TestCreatePublicKey(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	v := f.create()

	pk, err := f.svc.CreatePublicKey(f.ctx, v.ID)
	c.Assert(err, qt.IsNil)
	again, err := f.svc.CreatePublicKey(f.ctx, v.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(again.Equals(pk), qt.IsTrue)

	// start keeps the key made before
	f.mustApply(v.ID, "start")
	got, err := f.svc.Voting(f.ctx, v.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(got.PublicKey.Equals(pk), qt.IsTrue)
	c.Assert(f.trustee.keygens, qt.Equals, 1)
}

func TestKeyFailureKeepsVotingClosed(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	v := f.create()
	f.trustee.fail = errors.New("connection refused")

	_, err := f.apply(v.ID, "start")
	c.Assert(err, qt.ErrorIs, voting.ErrTrusteeUnavailable)
	c.Assert(f.status(v.ID), qt.Equals, voting.NotStarted)

	f.trustee.fail = nil
	f.mustApply(v.ID, "start")
}

func TestSubmitBallot(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	v := f.create()
	f.mustApply(v.ID, "start")
	_, err := f.svc.AddCensus(f.ctx, admin, v.ID, 5)
	c.Assert(err, qt.IsNil)

	got, err := f.svc.Voting(f.ctx, v.ID)
	c.Assert(err, qt.IsNil)
	ct, err := got.PublicKey.EncryptInt(2)
	c.Assert(err, qt.IsNil)

	// only the voter can cast their ballot
	_, err = f.svc.SubmitBallot(f.ctx, nil, v.ID, 5, ct)
	c.Assert(err, qt.ErrorIs, voting.ErrUnauthenticated)
	_, err = f.svc.SubmitBallot(f.ctx, &voting.Actor{ID: 6}, v.ID, 5, ct)
	c.Assert(err, qt.ErrorIs, voting.ErrUnauthenticated)

	_, err = f.svc.SubmitBallot(f.ctx, &voting.Actor{ID: 6}, v.ID, 6, ct)
	c.Assert(err, qt.ErrorIs, voting.ErrNotEligible)

	_, err = f.svc.SubmitBallot(f.ctx, &voting.Actor{ID: 5}, v.ID, 5, nil)
	c.Assert(err, qt.ErrorIs, elgamal.ErrEncoding)

	// a ciphertext outside the voting group
	big := &elgamal.CipherText{A: got.PublicKey.P, B: ct.B}
	_, err = f.svc.SubmitBallot(f.ctx, &voting.Actor{ID: 5}, v.ID, 5, big)
	c.Assert(err, qt.ErrorIs, elgamal.ErrEncoding)

	b, err := f.svc.SubmitBallot(f.ctx, &voting.Actor{ID: 5}, v.ID, 5, ct)
	c.Assert(err, qt.IsNil)
	c.Assert(b.Receipt, qt.Equals, voting.Receipt(v.ID, 5, ct))
	c.Assert(b.CreatedAt, qt.Equals, endOfDay)

	_, err = f.svc.SubmitBallot(f.ctx, &voting.Actor{ID: 5}, v.ID, 5, ct)
	c.Assert(err, qt.ErrorIs, voting.ErrAlreadyVoted)

	f.mustApply(v.ID, "stop")
	_, err = f.svc.AddCensus(f.ctx, admin, v.ID, 7)
	c.Assert(err, qt.IsNil)
	c.Assert(f.vote(v.ID, 7, 1), qt.ErrorIs, voting.ErrVotingNotOpen)
}

func TestConcurrentBallots(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	v := f.create()
	f.mustApply(v.ID, "start")
	_, err := f.svc.AddCensus(f.ctx, admin, v.ID, 5)
	c.Assert(err, qt.IsNil)

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.vote(v.ID, 5, 1)
		}()
	}
	wg.Wait()
	close(errs)
	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		c.Assert(err, qt.ErrorIs, voting.ErrAlreadyVoted)
	}
	c.Assert(ok, qt.Equals, 1)
}

func TestTallyReconciliationFailure(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	v := f.create()
	f.mustApply(v.ID, "start")
	_, err := f.svc.AddCensus(f.ctx, admin, v.ID, 1, 2, 3, 4, 5, 6)
	c.Assert(err, qt.IsNil)
	for i, opt := range []int64{1, 1, 2, 3, 3, 3} {
		c.Assert(f.vote(v.ID, int64(i+1), opt), qt.IsNil)
	}
	f.mustApply(v.ID, "stop")

	// the trustee under reports option 3
	f.trustee.cheat = func(res *voting.TallyResult) {
		for i := range res.PostProc {
			if res.PostProc[i].Number == 3 {
				res.PostProc[i].Votes = 2
			}
		}
	}
	_, err = f.apply(v.ID, "tally")
	c.Assert(err, qt.ErrorIs, voting.ErrReconciliation)
	var re *voting.ReconciliationError
	c.Assert(errors.As(err, &re), qt.IsTrue)
	c.Assert(re.Option, qt.Equals, 3)
	c.Assert(re.Counted, qt.Equals, int64(3))
	c.Assert(re.Reported, qt.Equals, int64(2))

	got, err := f.svc.Voting(f.ctx, v.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Status, qt.Equals, voting.Stopped)
	c.Assert(got.Tally, qt.IsNil)

	// an honest retry goes through
	f.trustee.cheat = nil
	f.mustApply(v.ID, "tally")
	c.Assert(f.status(v.ID), qt.Equals, voting.Tallied)
}

func TestTallyTrusteeUnavailable(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	v := f.create()
	f.mustApply(v.ID, "start", "stop")

	f.trustee.fail = errors.New("connection reset")
	_, err := f.apply(v.ID, "tally")
	c.Assert(err, qt.ErrorIs, voting.ErrTrusteeUnavailable)
	c.Assert(f.status(v.ID), qt.Equals, voting.Stopped)

	f.trustee.fail = nil
	f.mustApply(v.ID, "tally")
	c.Assert(f.trustee.tallies, qt.Equals, 2)
}

func TestTallyNoBallots(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	v := f.create("yes", "no")
	f.mustApply(v.ID, "start", "stop", "tally")

	got, err := f.svc.Voting(f.ctx, v.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Tally, qt.HasLen, 0)
	c.Assert(got.PostProc, qt.DeepEquals, []voting.PostProc{{Number: 1}, {Number: 2}})
}

func TestCensus(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	v := f.create()

	n, err := f.svc.AddCensus(f.ctx, admin, v.ID, 1, 2, 2, 3)
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 3)
	n, err = f.svc.RemoveCensus(f.ctx, admin, v.ID, 3, 4)
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 1)

	_, err = f.svc.AddCensus(f.ctx, noAdmin, v.ID, 9)
	c.Assert(err, qt.ErrorIs, voting.ErrForbidden)
	_, err = f.svc.AddCensus(f.ctx, admin, 999, 9)
	c.Assert(err, qt.ErrorIs, voting.ErrVotingNotFound)
}
