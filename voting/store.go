package voting

import (
	"context"

	"github.com/thechriswalker/go-decide/crypto/elgamal"
)

// Store is the persistence the service needs. Implementations live in the
// storage packages.
type Store interface {
	// CreateVoting stores a new voting and sets its ID.
	CreateVoting(ctx context.Context, v *Voting) error
	// Voting loads a voting, or ErrVotingNotFound.
	Voting(ctx context.Context, id int64) (*Voting, error)
	// UpdateVoting writes the mutable fields of the voting (status, dates, public key,
	// tally, postproc and file) in one unit, provided the stored status is still
	// expect. Otherwise it returns ErrConflict and writes nothing.
	UpdateVoting(ctx context.Context, v *Voting, expect Status) error

	// AddCensus and RemoveCensus return how many entries actually changed.
	AddCensus(ctx context.Context, votingID int64, voterIDs ...int64) (int, error)
	RemoveCensus(ctx context.Context, votingID int64, voterIDs ...int64) (int, error)
	IsEligible(ctx context.Context, votingID, voterID int64) (bool, error)

	// InsertBallot atomically checks the census entry, that the voter has no ballot
	// yet and that the voting is Started, then inserts. It returns ErrNotEligible,
	// ErrAlreadyVoted or ErrVotingNotOpen (in that order of precedence) on failure,
	// and ErrVotingNotFound for an unknown voting.
	InsertBallot(ctx context.Context, b *Ballot) error
	// Ballots returns the ballots of a voting in insertion order.
	Ballots(ctx context.Context, votingID int64) ([]*Ballot, error)

	Close() error
}

// TallyRequest is everything a trustee needs to decrypt a voting
type TallyRequest struct {
	VotingID    int64
	Token       string
	PublicKey   *elgamal.PublicKey
	Ciphertexts []*elgamal.CipherText
	// Options are the option numbers of the question, for the aggregate.
	Options []int
}

// TallyResult is what the trustee reports. Nothing in it is trusted until reconciled.
type TallyResult struct {
	Tally    []int64
	PostProc []PostProc
}

// Tallier mixes, decrypts and aggregates a voting's ballots.
type Tallier interface {
	Tally(ctx context.Context, req *TallyRequest) (*TallyResult, error)
}

// KeyHolder creates the key pair of a voting and keeps the secret half.
type KeyHolder interface {
	GenerateKey(ctx context.Context, votingID int64, bits int) (*elgamal.PublicKey, error)
}

// Signer is implemented by key holders able to sign a report digest with the voting key.
type Signer interface {
	SignReport(ctx context.Context, votingID int64, digest []byte) (*elgamal.Signature, error)
}

// Trustees resolves the trustee capabilities of a voting. The key of a
// voting is created and used by the same auth.
type Trustees interface {
	KeyHolder(auth Auth) (KeyHolder, error)
	Tallier(auth Auth) (Tallier, error)
}
