// Package storetest is the behaviour every voting.Store must have.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/google/uuid"
	big "github.com/ncw/gmp"

	"github.com/thechriswalker/go-decide/crypto/elgamal"
	"github.com/thechriswalker/go-decide/voting"
)

// Run the contract against fresh stores created by open
func Run(t *testing.T, open func(t *testing.T) voting.Store) {
	t.Run("CreateAndLoad", func(t *testing.T) { testCreateAndLoad(t, open(t)) })
	t.Run("UpdateCompareAndSet", func(t *testing.T) { testUpdate(t, open(t)) })
	t.Run("Census", func(t *testing.T) { testCensus(t, open(t)) })
	t.Run("InsertBallot", func(t *testing.T) { testInsertBallot(t, open(t)) })
	t.Run("ConcurrentBallots", func(t *testing.T) { testConcurrentBallots(t, open(t)) })
}

func newVoting() *voting.Voting {
	return &voting.Voting{
		Name: "test voting",
		Desc: "a description",
		Question: voting.Question{
			Desc: "which one?",
			Options: []voting.QuestionOption{
				{Number: 1, Option: "one"},
				{Number: 2, Option: "two"},
				{Number: 3, Option: "three"},
			},
		},
		Auths: []voting.Auth{
			{URL: "http://localhost:8000", Name: "self", IsSelf: true},
			{URL: "http://other:8000", Name: "other"},
		},
		Status: voting.NotStarted,
	}
}

func testKey() *elgamal.PublicKey {
	sys := &elgamal.System{P: big.NewInt(227), Q: big.NewInt(113), G: big.NewInt(69)}
	return elgamal.GenerateKeyPair(sys).Public()
}

func ballot(votingID, voterID int64) *voting.Ballot {
	return &voting.Ballot{
		ID:        uuid.New(),
		VotingID:  votingID,
		VoterID:   voterID,
		Vote:      &elgamal.CipherText{A: big.NewInt(12), B: big.NewInt(34)},
		Receipt:   "receipt",
		CreatedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func started(t *testing.T, s voting.Store) *voting.Voting {
	c := qt.New(t)
	ctx := context.Background()
	v := newVoting()
	c.Assert(s.CreateVoting(ctx, v), qt.IsNil)
	v.Status = voting.Started
	v.PublicKey = testKey()
	c.Assert(s.UpdateVoting(ctx, v, voting.NotStarted), qt.IsNil)
	return v
}

func testCreateAndLoad(t *testing.T, s voting.Store) {
	c := qt.New(t)
	defer s.Close()
	ctx := context.Background()

	v := newVoting()
	c.Assert(s.CreateVoting(ctx, v), qt.IsNil)
	c.Assert(v.ID, qt.Not(qt.Equals), int64(0))

	got, err := s.Voting(ctx, v.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Name, qt.Equals, v.Name)
	c.Assert(got.Desc, qt.Equals, v.Desc)
	c.Assert(got.Question, qt.DeepEquals, v.Question)
	c.Assert(got.Auths, qt.DeepEquals, v.Auths)
	c.Assert(got.Status, qt.Equals, voting.NotStarted)
	c.Assert(got.StartDate, qt.IsNil)
	c.Assert(got.PublicKey, qt.IsNil)
	c.Assert(got.Tally, qt.IsNil)

	_, err = s.Voting(ctx, v.ID+100)
	c.Assert(err, qt.ErrorIs, voting.ErrVotingNotFound)
}

func testUpdate(t *testing.T, s voting.Store) {
	c := qt.New(t)
	defer s.Close()
	ctx := context.Background()

	v := newVoting()
	c.Assert(s.CreateVoting(ctx, v), qt.IsNil)

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 5, 18, 30, 0, 0, time.UTC)
	v.Status = voting.Tallied
	v.StartDate = &start
	v.EndDate = &end
	v.PublicKey = testKey()
	v.Tally = []int64{1, 1, 2, 3, 3, 3}
	v.PostProc = []voting.PostProc{{Number: 3, Votes: 3}, {Number: 1, Votes: 2}, {Number: 2, Votes: 1}}
	c.Assert(s.UpdateVoting(ctx, v, voting.NotStarted), qt.IsNil)

	got, err := s.Voting(ctx, v.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Status, qt.Equals, voting.Tallied)
	c.Assert(got.StartDate.Equal(start), qt.IsTrue)
	c.Assert(got.EndDate.Equal(end), qt.IsTrue)
	c.Assert(got.PublicKey.Equals(v.PublicKey), qt.IsTrue)
	c.Assert(got.Tally, qt.DeepEquals, v.Tally)
	c.Assert(got.PostProc, qt.DeepEquals, v.PostProc)

	// the stored status is Tallied now, so expecting NotStarted must fail and write nothing
	v.Status = voting.Saved
	v.File = "somewhere.txt"
	c.Assert(s.UpdateVoting(ctx, v, voting.NotStarted), qt.ErrorIs, voting.ErrConflict)
	got, err = s.Voting(ctx, v.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Status, qt.Equals, voting.Tallied)
	c.Assert(got.File, qt.Equals, "")

	v.ID += 100
	c.Assert(s.UpdateVoting(ctx, v, voting.Tallied), qt.ErrorIs, voting.ErrVotingNotFound)
}

func testCensus(t *testing.T, s voting.Store) {
	c := qt.New(t)
	defer s.Close()
	ctx := context.Background()

	v := newVoting()
	c.Assert(s.CreateVoting(ctx, v), qt.IsNil)

	n, err := s.AddCensus(ctx, v.ID, 1, 2, 3)
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 3)
	n, err = s.AddCensus(ctx, v.ID, 3, 4)
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 1)

	ok, err := s.IsEligible(ctx, v.ID, 4)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
	ok, err = s.IsEligible(ctx, v.ID, 5)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)

	n, err = s.RemoveCensus(ctx, v.ID, 4, 5)
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 1)
	ok, err = s.IsEligible(ctx, v.ID, 4)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)

	_, err = s.AddCensus(ctx, v.ID+100, 1)
	c.Assert(err, qt.ErrorIs, voting.ErrVotingNotFound)
}

func testInsertBallot(t *testing.T, s voting.Store) {
	c := qt.New(t)
	defer s.Close()
	ctx := context.Background()

	v := newVoting()
	c.Assert(s.CreateVoting(ctx, v), qt.IsNil)
	_, err := s.AddCensus(ctx, v.ID, 1, 2)
	c.Assert(err, qt.IsNil)

	// not started yet
	c.Assert(s.InsertBallot(ctx, ballot(v.ID, 1)), qt.ErrorIs, voting.ErrVotingNotOpen)
	// not in census wins over not open
	c.Assert(s.InsertBallot(ctx, ballot(v.ID, 9)), qt.ErrorIs, voting.ErrNotEligible)

	v.Status = voting.Started
	c.Assert(s.UpdateVoting(ctx, v, voting.NotStarted), qt.IsNil)

	first := ballot(v.ID, 1)
	c.Assert(s.InsertBallot(ctx, first), qt.IsNil)
	c.Assert(s.InsertBallot(ctx, ballot(v.ID, 1)), qt.ErrorIs, voting.ErrAlreadyVoted)
	c.Assert(s.InsertBallot(ctx, ballot(v.ID, 2)), qt.IsNil)
	c.Assert(s.InsertBallot(ctx, ballot(v.ID+100, 1)), qt.ErrorIs, voting.ErrVotingNotFound)

	ballots, err := s.Ballots(ctx, v.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(ballots, qt.HasLen, 2)
	c.Assert(ballots[0].ID, qt.Equals, first.ID)
	c.Assert(ballots[0].VoterID, qt.Equals, int64(1))
	c.Assert(ballots[0].Vote.Equals(first.Vote), qt.IsTrue)
	c.Assert(ballots[0].Receipt, qt.Equals, first.Receipt)
	c.Assert(ballots[0].CreatedAt.Equal(first.CreatedAt), qt.IsTrue)
	c.Assert(ballots[1].VoterID, qt.Equals, int64(2))

	// stopped: already voted still reported first, new voters are refused
	v.Status = voting.Stopped
	c.Assert(s.UpdateVoting(ctx, v, voting.Started), qt.IsNil)
	_, err = s.AddCensus(ctx, v.ID, 3)
	c.Assert(err, qt.IsNil)
	c.Assert(s.InsertBallot(ctx, ballot(v.ID, 1)), qt.ErrorIs, voting.ErrAlreadyVoted)
	c.Assert(s.InsertBallot(ctx, ballot(v.ID, 3)), qt.ErrorIs, voting.ErrVotingNotOpen)

	ballots, err = s.Ballots(ctx, v.ID+100)
	c.Assert(err, qt.IsNil)
	c.Assert(ballots, qt.HasLen, 0)
}

func testConcurrentBallots(t *testing.T, s voting.Store) {
	c := qt.New(t)
	defer s.Close()
	ctx := context.Background()

	v := started(t, s)
	_, err := s.AddCensus(ctx, v.ID, 1)
	c.Assert(err, qt.IsNil)

	const n = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, dupe int
		others   []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InsertBallot(ctx, ballot(v.ID, 1))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, voting.ErrAlreadyVoted):
				dupe++
			default:
				others = append(others, err)
			}
		}()
	}
	wg.Wait()
	c.Assert(others, qt.HasLen, 0)
	c.Assert(ok, qt.Equals, 1)
	c.Assert(dupe, qt.Equals, n-1)

	ballots, err := s.Ballots(ctx, v.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(ballots, qt.HasLen, 1)
}
