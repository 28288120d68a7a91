package trustee

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thechriswalker/go-decide/crypto/elgamal"
	"github.com/thechriswalker/go-decide/crypto/random"
	"github.com/thechriswalker/go-decide/voting"
)

var (
	// ErrInvalidToken is returned when a token list is configured and the request token is not on it
	ErrInvalidToken = errors.New("invalid trustee token")
	// ErrUnknownVoting means this trustee holds no key for the voting
	ErrUnknownVoting = errors.New("no key for voting")
)

// Local is the trustee running in this process. It keeps the secret key of
// each voting in a keystore directory, one JSON file per voting.
type Local struct {
	dir    string
	tokens map[string]struct{}

	mu   sync.Mutex
	keys map[int64]*elgamal.KeyPair

	newKey func(bits int) *elgamal.KeyPair
}

var (
	_ voting.KeyHolder = (*Local)(nil)
	_ voting.Tallier   = (*Local)(nil)
	_ voting.Signer    = (*Local)(nil)
)

type LocalOption interface {
	apply(*Local)
}

type optionFunc func(*Local)

func (f optionFunc) apply(l *Local) {
	f(l)
}

// WithTokens restricts tally requests to the given tokens. No tokens means any token.
func WithTokens(tokens ...string) LocalOption {
	return optionFunc(func(l *Local) {
		for _, t := range tokens {
			if t != "" {
				l.tokens[t] = struct{}{}
			}
		}
	})
}

// NewLocal opens (creating it if needed) the keystore in dir
func NewLocal(dir string, options ...LocalOption) (*Local, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("Could not create keystore directory (%s): %w", dir, err)
	}
	l := &Local{
		dir:    dir,
		tokens: map[string]struct{}{},
		keys:   map[int64]*elgamal.KeyPair{},
		newKey: elgamal.GenerateKey,
	}
	for _, f := range options {
		f.apply(l)
	}
	return l, nil
}

// CheckToken validates a request token against the configured list
func (l *Local) CheckToken(token string) error {
	if len(l.tokens) == 0 {
		return nil
	}
	if _, ok := l.tokens[token]; !ok {
		return ErrInvalidToken
	}
	return nil
}

func (l *Local) keyFile(votingID int64) string {
	return filepath.Join(l.dir, fmt.Sprintf("voting_%d.json", votingID))
}

// key loads the key pair for a voting. l.mu must be held.
func (l *Local) key(votingID int64) (*elgamal.KeyPair, error) {
	if kp, ok := l.keys[votingID]; ok {
		return kp, nil
	}
	b, err := os.ReadFile(l.keyFile(votingID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w %d", ErrUnknownVoting, votingID)
	}
	if err != nil {
		return nil, err
	}
	kp := &elgamal.KeyPair{}
	if err := json.Unmarshal(b, kp); err != nil {
		return nil, fmt.Errorf("keystore file for voting %d: %w", votingID, err)
	}
	l.keys[votingID] = kp
	return kp, nil
}

func (l *Local) loadKey(votingID int64) (*elgamal.KeyPair, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.key(votingID)
}

// GenerateKey creates the key of a voting, or returns the existing one.
// The keystore is not locked during the prime search, so other votings can
// still tally.
func (l *Local) GenerateKey(ctx context.Context, votingID int64, bits int) (*elgamal.PublicKey, error) {
	kp, err := l.loadKey(votingID)
	if err == nil {
		return kp.Public(), nil
	}
	if !errors.Is(err, ErrUnknownVoting) {
		return nil, err
	}

	// safe prime search can take a while for big keys
	done := make(chan *elgamal.KeyPair, 1)
	go func() {
		done <- l.newKey(bits)
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case kp = <-done:
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// a concurrent call for the same voting may have won the race
	if existing, err := l.key(votingID); err == nil {
		return existing.Public(), nil
	} else if !errors.Is(err, ErrUnknownVoting) {
		return nil, err
	}
	b, err := json.Marshal(kp)
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(l.keyFile(votingID), b); err != nil {
		return nil, fmt.Errorf("writing keystore: %w", err)
	}
	l.keys[votingID] = kp
	return kp.Public(), nil
}

func writeFileAtomic(path string, b []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".key-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Tally shuffles the ciphertexts, decrypts each one and counts the votes per option.
func (l *Local) Tally(ctx context.Context, req *voting.TallyRequest) (*voting.TallyResult, error) {
	if err := l.CheckToken(req.Token); err != nil {
		return nil, err
	}
	kp, err := l.loadKey(req.VotingID)
	if err != nil {
		return nil, err
	}
	if req.PublicKey != nil && !req.PublicKey.Equals(kp.Public()) {
		return nil, fmt.Errorf("voting %d: public key does not match the keystore", req.VotingID)
	}

	// mix first, so the order of the plaintexts says nothing about who voted
	cts := append([]*elgamal.CipherText(nil), req.Ciphertexts...)
	random.Shuffle(len(cts), func(i, j int) { cts[i], cts[j] = cts[j], cts[i] })

	started := time.Now()
	bar := MaybeProgress("decrypting", len(cts))
	bar.Start()
	res := &voting.TallyResult{Tally: make([]int64, len(cts))}
	undecodable := 0
	for i, ct := range cts {
		if err := ctx.Err(); err != nil {
			bar.Finish()
			return nil, err
		}
		m, err := kp.Secret().DecryptInt(ct)
		if err != nil {
			// 0 is never an option number, so the ballot counts as spoiled
			undecodable++
			m = 0
		}
		res.Tally[i] = m
		bar.Increment()
	}
	bar.Finish()
	if undecodable > 0 {
		log.Warn().Int64("voting", req.VotingID).Int("ballots", undecodable).Msg("ballots did not decrypt to an option")
	}

	res.PostProc = Aggregate(res.Tally, req.Options)
	log.Info().Int64("voting", req.VotingID).Int("ballots", len(cts)).Dur("took", time.Since(started)).Msg("voting decrypted")
	return res, nil
}

// Aggregate counts the votes for each option, most voted first, ties by option number.
func Aggregate(tally []int64, options []int) []voting.PostProc {
	counts := make(map[int64]int64, len(options))
	for _, m := range tally {
		counts[m]++
	}
	out := make([]voting.PostProc, len(options))
	for i, n := range options {
		out[i] = voting.PostProc{Number: n, Votes: counts[int64(n)]}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Votes != out[j].Votes {
			return out[i].Votes > out[j].Votes
		}
		return out[i].Number < out[j].Number
	})
	return out
}

// SignReport signs a result digest with the voting key
func (l *Local) SignReport(ctx context.Context, votingID int64, digest []byte) (*elgamal.Signature, error) {
	kp, err := l.loadKey(votingID)
	if err != nil {
		return nil, err
	}
	return kp.Secret().CreateSignature(digest), nil
}
