package trustee

import (
	"context"
	"sync"
	"testing"

	qt "github.com/frankban/quicktest"
	big "github.com/ncw/gmp"

	"github.com/thechriswalker/go-decide/crypto/elgamal"
	"github.com/thechriswalker/go-decide/voting"
)

func encryptAll(c *qt.C, pk *elgamal.PublicKey, votes ...int64) []*elgamal.CipherText {
	out := make([]*elgamal.CipherText, len(votes))
	for i, m := range votes {
		ct, err := pk.EncryptInt(m)
		c.Assert(err, qt.IsNil)
		out[i] = ct
	}
	return out
}

func TestLocalTally(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	c.Assert(err, qt.IsNil)

	pk, err := l.GenerateKey(ctx, 7, 64)
	c.Assert(err, qt.IsNil)

	res, err := l.Tally(ctx, &voting.TallyRequest{
		VotingID:    7,
		PublicKey:   pk,
		Ciphertexts: encryptAll(c, pk, 1, 1, 2, 3, 3, 3),
		Options:     []int{1, 2, 3},
	})
	c.Assert(err, qt.IsNil)
	c.Assert(res.Tally, qt.HasLen, 6)
	c.Assert(res.PostProc, qt.DeepEquals, []voting.PostProc{
		{Number: 3, Votes: 3},
		{Number: 1, Votes: 2},
		{Number: 2, Votes: 1},
	})

	// whatever order the mix produced, the result reconciles
	q := voting.Question{Options: []voting.QuestionOption{{Number: 1}, {Number: 2}, {Number: 3}}}
	spoiled, err := voting.Reconcile(&q, 6, res)
	c.Assert(err, qt.IsNil)
	c.Assert(spoiled, qt.Equals, 0)
}

func TestLocalTallyEmpty(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	c.Assert(err, qt.IsNil)
	_, err = l.GenerateKey(ctx, 1, 64)
	c.Assert(err, qt.IsNil)

	res, err := l.Tally(ctx, &voting.TallyRequest{VotingID: 1, Options: []int{1, 2}})
	c.Assert(err, qt.IsNil)
	c.Assert(res.Tally, qt.HasLen, 0)
	c.Assert(res.PostProc, qt.DeepEquals, []voting.PostProc{{Number: 1}, {Number: 2}})
}

func TestLocalKeystore(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	dir := t.TempDir()

	l, err := NewLocal(dir)
	c.Assert(err, qt.IsNil)
	pk, err := l.GenerateKey(ctx, 3, 64)
	c.Assert(err, qt.IsNil)

	// a second call never replaces the key
	again, err := l.GenerateKey(ctx, 3, 64)
	c.Assert(err, qt.IsNil)
	c.Assert(again.Equals(pk), qt.IsTrue)

	// a new process reads it from disk
	l2, err := NewLocal(dir)
	c.Assert(err, qt.IsNil)
	res, err := l2.Tally(ctx, &voting.TallyRequest{
		VotingID:    3,
		PublicKey:   pk,
		Ciphertexts: encryptAll(c, pk, 2),
		Options:     []int{1, 2},
	})
	c.Assert(err, qt.IsNil)
	c.Assert(res.Tally, qt.DeepEquals, []int64{2})

	_, err = l2.Tally(ctx, &voting.TallyRequest{VotingID: 4})
	c.Assert(err, qt.ErrorIs, ErrUnknownVoting)
}

func TestLocalTokens(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	l, err := NewLocal(t.TempDir(), WithTokens("s3cret"))
	c.Assert(err, qt.IsNil)
	_, err = l.GenerateKey(ctx, 1, 64)
	c.Assert(err, qt.IsNil)

	_, err = l.Tally(ctx, &voting.TallyRequest{VotingID: 1, Token: "nope"})
	c.Assert(err, qt.ErrorIs, ErrInvalidToken)
	_, err = l.Tally(ctx, &voting.TallyRequest{VotingID: 1, Token: "s3cret"})
	c.Assert(err, qt.IsNil)
}

func TestLocalTallySpoilsUndecodableBallots(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	c.Assert(err, qt.IsNil)
	pk, err := l.GenerateKey(ctx, 3, 64)
	c.Assert(err, qt.IsNil)

	// with a=1 the plaintext is b, and p-1 is never in the subgroup
	junk := &elgamal.CipherText{A: big.NewInt(1), B: new(big.Int).Sub(pk.P, big.NewInt(1))}
	res, err := l.Tally(ctx, &voting.TallyRequest{
		VotingID:    3,
		PublicKey:   pk,
		Ciphertexts: append(encryptAll(c, pk, 1, 2), junk),
		Options:     []int{1, 2},
	})
	c.Assert(err, qt.IsNil)
	c.Assert(res.Tally, qt.HasLen, 3)
	c.Assert(res.PostProc, qt.DeepEquals, []voting.PostProc{
		{Number: 1, Votes: 1},
		{Number: 2, Votes: 1},
	})

	q := voting.Question{Options: []voting.QuestionOption{{Number: 1}, {Number: 2}}}
	spoiled, err := voting.Reconcile(&q, 3, res)
	c.Assert(err, qt.IsNil)
	c.Assert(spoiled, qt.Equals, 1)
}

func TestLocalKeyGenerationDoesNotBlockTally(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	c.Assert(err, qt.IsNil)
	pk, err := l.GenerateKey(ctx, 1, 64)
	c.Assert(err, qt.IsNil)

	entered := make(chan struct{})
	release := make(chan struct{})
	l.newKey = func(bits int) *elgamal.KeyPair {
		close(entered)
		<-release
		return elgamal.GenerateKey(bits)
	}
	generated := make(chan error, 1)
	go func() {
		_, err := l.GenerateKey(ctx, 2, 64)
		generated <- err
	}()
	<-entered

	res, err := l.Tally(ctx, &voting.TallyRequest{VotingID: 1, PublicKey: pk, Ciphertexts: encryptAll(c, pk, 2), Options: []int{1, 2}})
	c.Assert(err, qt.IsNil)
	c.Assert(res.Tally, qt.DeepEquals, []int64{2})

	close(release)
	c.Assert(<-generated, qt.IsNil)
}

func TestLocalConcurrentGenerateKey(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	dir := t.TempDir()
	l, err := NewLocal(dir)
	c.Assert(err, qt.IsNil)

	// both calls finish the prime search before either stores its key
	var entered sync.WaitGroup
	entered.Add(2)
	l.newKey = func(bits int) *elgamal.KeyPair {
		entered.Done()
		entered.Wait()
		return elgamal.GenerateKey(bits)
	}
	keys := make([]*elgamal.PublicKey, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range keys {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys[i], errs[i] = l.GenerateKey(ctx, 5, 64)
		}(i)
	}
	wg.Wait()
	c.Assert(errs[0], qt.IsNil)
	c.Assert(errs[1], qt.IsNil)
	c.Assert(keys[0].Equals(keys[1]), qt.IsTrue)

	reopened, err := NewLocal(dir)
	c.Assert(err, qt.IsNil)
	stored, err := reopened.GenerateKey(ctx, 5, 64)
	c.Assert(err, qt.IsNil)
	c.Assert(stored.Equals(keys[0]), qt.IsTrue)
}

func TestLocalRejectsForeignKey(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	c.Assert(err, qt.IsNil)
	_, err = l.GenerateKey(ctx, 1, 64)
	c.Assert(err, qt.IsNil)

	other := elgamal.GenerateKey(64).Public()
	_, err = l.Tally(ctx, &voting.TallyRequest{VotingID: 1, PublicKey: other})
	c.Assert(err, qt.ErrorMatches, ".*public key does not match.*")
}

func TestLocalTallyCancelled(t *testing.T) {
	c := qt.New(t)
	l, err := NewLocal(t.TempDir())
	c.Assert(err, qt.IsNil)
	pk, err := l.GenerateKey(context.Background(), 1, 64)
	c.Assert(err, qt.IsNil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Tally(ctx, &voting.TallyRequest{VotingID: 1, Ciphertexts: encryptAll(c, pk, 1)})
	c.Assert(err, qt.ErrorIs, context.Canceled)
}

func TestSignReport(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	c.Assert(err, qt.IsNil)
	pk, err := l.GenerateKey(ctx, 1, 64)
	c.Assert(err, qt.IsNil)

	digest := []byte("0123456789abcdef0123456789abcdef")
	sig, err := l.SignReport(ctx, 1, digest)
	c.Assert(err, qt.IsNil)
	c.Assert(pk.VerifySignature(sig, digest), qt.IsNil)
}

func TestAggregate(t *testing.T) {
	got := Aggregate([]int64{2, 2, 1, 9, 3, 3}, []int{1, 2, 3, 4})
	qt.Assert(t, got, qt.DeepEquals, []voting.PostProc{
		{Number: 2, Votes: 2},
		{Number: 3, Votes: 2},
		{Number: 1, Votes: 1},
		{Number: 4, Votes: 0},
	})
}
