package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/thechriswalker/go-decide/voting"
)

func TestClient(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	ta := newTestAPI(c)
	srv := httptest.NewServer(ta.router)
	defer srv.Close()

	cl := NewClient(srv.URL+"/", adminToken, 5*time.Second)
	v, err := cl.CreateVoting(ctx, voting.NewVoting{Name: "n", Desc: "d", Question: "q", IsYesNo: true})
	c.Assert(err, qt.IsNil)
	c.Assert(v.Question.Options, qt.HasLen, 2)

	n, err := cl.AddCensus(ctx, v.ID, voterID, 43)
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 2)

	msg, err := cl.Action(ctx, v.ID, "tally")
	var re *ResponseError
	c.Assert(errors.As(err, &re), qt.IsTrue)
	c.Assert(re.Status, qt.Equals, http.StatusBadRequest)
	c.Assert(re.Message, qt.Equals, voting.MsgNotStarted)
	c.Assert(msg, qt.Equals, "")

	msg, err = cl.Action(ctx, v.ID, "start")
	c.Assert(err, qt.IsNil)
	c.Assert(msg, qt.Equals, voting.MsgStarted)

	got, err := cl.Voting(ctx, v.ID)
	c.Assert(err, qt.IsNil)
	ct, err := got.PublicKey.EncryptInt(1)
	c.Assert(err, qt.IsNil)

	voter := NewClient(srv.URL, voterToken, 5*time.Second)
	res, err := voter.SubmitBallot(ctx, BallotRequest{Voting: v.ID, Voter: voterID, Vote: ct})
	c.Assert(err, qt.IsNil)
	c.Assert(res.Receipt, qt.Equals, voting.Receipt(v.ID, voterID, ct))

	_, err = voter.SubmitBallot(ctx, BallotRequest{Voting: v.ID, Voter: voterID, Vote: ct})
	c.Assert(errors.As(err, &re), qt.IsTrue)
	c.Assert(re.Status, qt.Equals, http.StatusConflict)
	c.Assert(re.Code, qt.Equals, ErrAlreadyVoted.Code)
}
