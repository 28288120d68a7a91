package trustee

import (
	"context"
	"net"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/thechriswalker/go-decide/voting"
)

// startServer runs a trustee on a loopback port and returns its address
func startServer(c *qt.C, local *Local) string {
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, "127.0.0.1:0", local, ready)
	}()
	var addr net.Addr
	select {
	case addr = <-ready:
	case err := <-done:
		c.Fatalf("trustee did not start: %v", err)
	}
	c.Cleanup(func() {
		cancel()
		<-done
	})
	return addr.String()
}

func TestClientServer(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	local, err := NewLocal(t.TempDir(), WithTokens("s3cret"))
	c.Assert(err, qt.IsNil)
	addr := startServer(c, local)

	client, err := Dial(addr, "s3cret", 5*time.Second)
	c.Assert(err, qt.IsNil)
	defer client.Close()

	pk, err := client.GenerateKey(ctx, 11, 64)
	c.Assert(err, qt.IsNil)
	c.Assert(pk.Validate(), qt.IsNil)

	res, err := client.Tally(ctx, &voting.TallyRequest{
		VotingID:    11,
		Token:       "s3cret",
		PublicKey:   pk,
		Ciphertexts: encryptAll(c, pk, 1, 2, 2),
		Options:     []int{1, 2},
	})
	c.Assert(err, qt.IsNil)
	c.Assert(res.Tally, qt.HasLen, 3)
	c.Assert(res.PostProc, qt.DeepEquals, []voting.PostProc{{Number: 2, Votes: 2}, {Number: 1, Votes: 1}})
}

func TestClientErrorsAreUnavailable(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	local, err := NewLocal(t.TempDir(), WithTokens("s3cret"))
	c.Assert(err, qt.IsNil)
	addr := startServer(c, local)

	client, err := Dial(addr, "", 5*time.Second)
	c.Assert(err, qt.IsNil)
	defer client.Close()

	_, err = client.Tally(ctx, &voting.TallyRequest{VotingID: 1, Token: "wrong"})
	c.Assert(err, qt.ErrorIs, voting.ErrTrusteeUnavailable)
	c.Assert(err, qt.ErrorMatches, ".*Unauthenticated.*")

	_, err = client.Tally(ctx, &voting.TallyRequest{VotingID: 1, Token: "s3cret"})
	c.Assert(err, qt.ErrorIs, voting.ErrTrusteeUnavailable)
	c.Assert(err, qt.ErrorMatches, ".*NotFound.*")
}

func TestPool(t *testing.T) {
	c := qt.New(t)
	local, err := NewLocal(t.TempDir())
	c.Assert(err, qt.IsNil)
	p := NewPool(local, "", time.Second)
	defer p.Close()

	selfAuth := voting.Auth{URL: "http://localhost:8000", IsSelf: true}
	holder, err := p.KeyHolder(selfAuth)
	c.Assert(err, qt.IsNil)
	c.Assert(holder, qt.Equals, voting.KeyHolder(local))
	self, err := p.Tallier(selfAuth)
	c.Assert(err, qt.IsNil)
	c.Assert(self, qt.Equals, voting.Tallier(local))

	a, err := p.Tallier(voting.Auth{URL: "http://trustee.example:9000/"})
	c.Assert(err, qt.IsNil)
	b, err := p.Tallier(voting.Auth{URL: "https://trustee.example:9000"})
	c.Assert(err, qt.IsNil)
	c.Assert(a, qt.Equals, b)

	// the remote key holder is the same connection that tallies
	remote, err := p.KeyHolder(voting.Auth{URL: "http://trustee.example:9000"})
	c.Assert(err, qt.IsNil)
	c.Assert(remote, qt.Equals, voting.KeyHolder(a.(*Client)))
	_, signs := remote.(voting.Signer)
	c.Assert(signs, qt.IsFalse)
}

func TestDialAddr(t *testing.T) {
	c := qt.New(t)
	c.Assert(dialAddr("http://localhost:8000"), qt.Equals, "localhost:8000")
	c.Assert(dialAddr("https://trustee.example:9000/decide/"), qt.Equals, "trustee.example:9000")
	c.Assert(dialAddr("10.0.0.1:9000"), qt.Equals, "10.0.0.1:9000")
}
