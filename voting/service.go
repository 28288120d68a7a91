package voting

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/sha3"

	"github.com/thechriswalker/go-decide/crypto/elgamal"
)

// DefaultKeyBits is the size of the group generated for each voting
const DefaultKeyBits = 256

// Service is the voting core: creation, census, ballot intake and the lifecycle.
type Service struct {
	store    Store
	trustees Trustees
	reports  *ReportWriter
	options  *serviceOptions
	locks    *keyedMutex
}

type serviceOptions struct {
	keyBits   int
	baseURL   string
	reportDir string
	location  *time.Location
	now       func() time.Time
}

type ServiceOption interface {
	apply(*serviceOptions)
}

type optionFunc func(*serviceOptions)

func (f optionFunc) apply(opts *serviceOptions) {
	f(opts)
}

// WithKeyBits sets the size of the voting keys
func WithKeyBits(bits int) ServiceOption {
	return optionFunc(func(o *serviceOptions) {
		o.keyBits = bits
	})
}

// WithBaseURL sets the url that identifies this node in a voting's auths
func WithBaseURL(url string) ServiceOption {
	return optionFunc(func(o *serviceOptions) {
		o.baseURL = url
	})
}

func WithReportDir(dir string) ServiceOption {
	return optionFunc(func(o *serviceOptions) {
		o.reportDir = dir
	})
}

// WithLocation sets the timezone used for report dates
func WithLocation(loc *time.Location) ServiceOption {
	return optionFunc(func(o *serviceOptions) {
		o.location = loc
	})
}

func WithClock(now func() time.Time) ServiceOption {
	return optionFunc(func(o *serviceOptions) {
		o.now = now
	})
}

func NewService(store Store, trustees Trustees, options ...ServiceOption) *Service {
	opts := &serviceOptions{
		keyBits:   DefaultKeyBits,
		baseURL:   "http://localhost:8000",
		reportDir: ".",
		location:  time.UTC,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, f := range options {
		f.apply(opts)
	}
	return &Service{
		store:    store,
		trustees: trustees,
		reports:  NewReportWriter(opts.reportDir, opts.location),
		options:  opts,
		locks:    newKeyedMutex(),
	}
}

// Reports is the writer used on save
func (s *Service) Reports() *ReportWriter {
	return s.reports
}

func authorize(actor *Actor) error {
	if actor == nil {
		return ErrUnauthenticated
	}
	if !actor.Admin {
		return ErrForbidden
	}
	return nil
}

func sameURL(a, b string) bool {
	return strings.TrimRight(strings.TrimSpace(a), "/") == strings.TrimRight(strings.TrimSpace(b), "/")
}

// CreateVoting stores a new voting in NotStarted. Auths pointing at our base url
// are marked as self, and the self auth is added when no auth is given.
func (s *Service) CreateVoting(ctx context.Context, actor *Actor, nv NewVoting) (*Voting, error) {
	if err := authorize(actor); err != nil {
		return nil, err
	}
	v := &Voting{
		Name:   strings.TrimSpace(nv.Name),
		Desc:   strings.TrimSpace(nv.Desc),
		Status: NotStarted,
	}
	if v.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidVoting)
	}
	if v.Desc == "" {
		return nil, fmt.Errorf("%w: desc is required", ErrInvalidVoting)
	}
	q, err := NewQuestion(nv.Question, nv.IsYesNo, nv.Options...)
	if err != nil {
		return nil, err
	}
	v.Question = q

	for _, a := range nv.Auths {
		a.URL = strings.TrimSpace(a.URL)
		if a.URL == "" {
			return nil, fmt.Errorf("%w: auth url is required", ErrInvalidVoting)
		}
		if a.Name == "" {
			a.Name = a.URL
		}
		a.IsSelf = sameURL(a.URL, s.options.baseURL)
		v.Auths = append(v.Auths, a)
	}
	if len(v.Auths) == 0 {
		v.Auths = []Auth{{URL: s.options.baseURL, Name: "self", IsSelf: true}}
	}
	if _, ok := v.SelfAuth(); !ok {
		return nil, fmt.Errorf("%w: one auth must be this node (%s)", ErrInvalidVoting, s.options.baseURL)
	}

	if err := s.store.CreateVoting(ctx, v); err != nil {
		return nil, err
	}
	log.Info().Int64("voting", v.ID).Str("name", v.Name).Int("options", len(v.Question.Options)).Msg("voting created")
	return v, nil
}

// Voting loads a voting
func (s *Service) Voting(ctx context.Context, id int64) (*Voting, error) {
	return s.store.Voting(ctx, id)
}

// AddCensus makes voters eligible for a voting. Adding an existing entry is a no-op.
func (s *Service) AddCensus(ctx context.Context, actor *Actor, votingID int64, voterIDs ...int64) (int, error) {
	if err := authorize(actor); err != nil {
		return 0, err
	}
	if _, err := s.store.Voting(ctx, votingID); err != nil {
		return 0, err
	}
	n, err := s.store.AddCensus(ctx, votingID, voterIDs...)
	if err != nil {
		return n, err
	}
	log.Debug().Int64("voting", votingID).Int("added", n).Msg("census updated")
	return n, nil
}

// RemoveCensus removes voters from the census. Ballots already cast stay.
func (s *Service) RemoveCensus(ctx context.Context, actor *Actor, votingID int64, voterIDs ...int64) (int, error) {
	if err := authorize(actor); err != nil {
		return 0, err
	}
	if _, err := s.store.Voting(ctx, votingID); err != nil {
		return 0, err
	}
	n, err := s.store.RemoveCensus(ctx, votingID, voterIDs...)
	if err != nil {
		return n, err
	}
	log.Debug().Int64("voting", votingID).Int("removed", n).Msg("census updated")
	return n, nil
}

// CreatePublicKey asks the self trustee for the voting key. A key that
// exists is returned unchanged, it is never replaced.
func (s *Service) CreatePublicKey(ctx context.Context, votingID int64) (*elgamal.PublicKey, error) {
	unlock := s.locks.Lock(votingID)
	defer unlock()

	v, err := s.store.Voting(ctx, votingID)
	if err != nil {
		return nil, err
	}
	if v.PublicKey != nil {
		return v.PublicKey, nil
	}
	if v.Status != NotStarted {
		return nil, transitionError(MsgAlreadyStart)
	}
	next := v.Clone()
	if next.PublicKey, err = s.generateKey(ctx, v); err != nil {
		return nil, err
	}
	if err := s.store.UpdateVoting(ctx, next, NotStarted); err != nil {
		return nil, err
	}
	return next.PublicKey, nil
}

// generateKey asks the first auth of the voting, the one that later tallies, for the key
func (s *Service) generateKey(ctx context.Context, v *Voting) (*elgamal.PublicKey, error) {
	started := time.Now()
	if len(v.Auths) == 0 {
		return nil, fmt.Errorf("%w: voting %d has no auths", ErrTrusteeUnavailable, v.ID)
	}
	holder, err := s.trustees.KeyHolder(v.Auths[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTrusteeUnavailable, err)
	}
	pk, err := holder.GenerateKey(ctx, v.ID, s.options.keyBits)
	if err != nil {
		if !errors.Is(err, ErrTrusteeUnavailable) {
			err = fmt.Errorf("%w: %w", ErrTrusteeUnavailable, err)
		}
		return nil, err
	}
	if err := pk.Validate(); err != nil {
		return nil, fmt.Errorf("trustee returned an invalid key: %w", err)
	}
	log.Info().Int64("voting", v.ID).Str("auth", v.Auths[0].URL).Int("bits", pk.Bits()).Dur("took", time.Since(started)).Msg("voting key created")
	return pk, nil
}

// SubmitBallot stores the ballot of voter. Only the voter can submit their own ballot.
func (s *Service) SubmitBallot(ctx context.Context, actor *Actor, votingID, voterID int64, vote *elgamal.CipherText) (*Ballot, error) {
	if actor == nil || actor.ID != voterID {
		return nil, ErrUnauthenticated
	}
	ok, err := s.store.IsEligible(ctx, votingID, voterID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotEligible
	}
	if vote == nil || vote.A == nil || vote.B == nil {
		return nil, fmt.Errorf("vote is required: %w", elgamal.ErrEncoding)
	}
	v, err := s.store.Voting(ctx, votingID)
	if err != nil {
		return nil, err
	}
	if v.PublicKey != nil {
		if err := vote.Validate(v.PublicKey); err != nil {
			return nil, err
		}
	}

	b := &Ballot{
		ID:        uuid.New(),
		VotingID:  votingID,
		VoterID:   voterID,
		Vote:      vote,
		Receipt:   Receipt(votingID, voterID, vote),
		CreatedAt: s.options.now(),
	}
	if err := s.store.InsertBallot(ctx, b); err != nil {
		return nil, err
	}
	log.Debug().Int64("voting", votingID).Str("ballot", b.ID.String()).Msg("ballot stored")
	return b, nil
}

// Receipt is the Keccak-256 of the ballot a voter can keep to check their vote was counted
func Receipt(votingID, voterID int64, vote *elgamal.CipherText) string {
	h := sha3.NewLegacyKeccak256()
	fmt.Fprintf(h, "%d|%d|%s|%s", votingID, voterID, vote.A, vote.B)
	return hex.EncodeToString(h.Sum(nil))
}

// Apply runs a lifecycle action on a voting and returns the message for the caller.
// token is forwarded to the trustee on tally. The guard and the state write run
// under the voting lock, including the trustee call of a tally.
func (s *Service) Apply(ctx context.Context, actor *Actor, votingID int64, action string, token string) (string, error) {
	if err := authorize(actor); err != nil {
		return "", err
	}
	a, err := ParseAction(action)
	if err != nil {
		return "", err
	}

	unlock := s.locks.Lock(votingID)
	defer unlock()

	v, err := s.store.Voting(ctx, votingID)
	if err != nil {
		return "", err
	}
	to, msg, err := guard(v.Status, a)
	if err != nil {
		log.Debug().Int64("voting", v.ID).Str("action", string(a)).Str("status", v.Status.String()).Msg(err.Error())
		return "", err
	}

	from := v.Status
	next := v.Clone()
	next.Status = to
	switch a {
	case ActionStart:
		if next.PublicKey == nil {
			if next.PublicKey, err = s.generateKey(ctx, v); err != nil {
				return "", err
			}
		}
		now := s.options.now()
		next.StartDate = &now
	case ActionStop:
		now := s.options.now()
		next.EndDate = &now
	case ActionTally:
		if err := s.tally(ctx, next, token); err != nil {
			return "", err
		}
	case ActionSave:
		if err := s.save(ctx, next); err != nil {
			return "", err
		}
	}

	if err := s.store.UpdateVoting(ctx, next, from); err != nil {
		if a == ActionSave && next.File != "" {
			s.discardReport(ctx, next)
		}
		return "", err
	}
	log.Info().Int64("voting", v.ID).Str("action", string(a)).Str("status", next.Status.String()).Msg(msg)
	return msg, nil
}

// tally sends every ballot to the first auth of the voting and keeps the
// result only when it reconciles.
func (s *Service) tally(ctx context.Context, v *Voting, token string) error {
	ballots, err := s.store.Ballots(ctx, v.ID)
	if err != nil {
		return err
	}
	if len(v.Auths) == 0 {
		return fmt.Errorf("%w: voting %d has no auths", ErrTrusteeUnavailable, v.ID)
	}
	tallier, err := s.trustees.Tallier(v.Auths[0])
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTrusteeUnavailable, err)
	}
	req := &TallyRequest{
		VotingID:    v.ID,
		Token:       token,
		PublicKey:   v.PublicKey,
		Ciphertexts: make([]*elgamal.CipherText, len(ballots)),
		Options:     v.Question.Numbers(),
	}
	for i, b := range ballots {
		req.Ciphertexts[i] = b.Vote
	}

	started := time.Now()
	res, err := tallier.Tally(ctx, req)
	if err != nil {
		log.Warn().Err(err).Int64("voting", v.ID).Str("auth", v.Auths[0].URL).
			Str("fault", "infrastructure").Msg("trustee tally failed")
		if !errors.Is(err, ErrTrusteeUnavailable) {
			err = fmt.Errorf("%w: %w", ErrTrusteeUnavailable, err)
		}
		return err
	}
	spoiled, err := Reconcile(&v.Question, len(ballots), res)
	if err != nil {
		log.Error().Err(err).Int64("voting", v.ID).Str("auth", v.Auths[0].URL).
			Str("fault", "correctness").Msg("trustee result rejected")
		return err
	}
	if spoiled > 0 {
		log.Warn().Int64("voting", v.ID).Int("spoiled", spoiled).Msg("ballots not matching any option")
	}
	v.Tally = res.Tally
	v.PostProc = res.PostProc
	log.Debug().Int64("voting", v.ID).Int("ballots", len(ballots)).Dur("took", time.Since(started)).Msg("tally reconciled")
	return nil
}

// discardReport removes a report whose save was not recorded, unless the
// stored voting points at the same file.
func (s *Service) discardReport(ctx context.Context, v *Voting) {
	if cur, err := s.store.Voting(ctx, v.ID); err == nil && cur.File == v.File {
		return
	}
	if err := s.reports.Remove(v.File); err != nil {
		log.Warn().Err(err).Int64("voting", v.ID).Str("file", v.File).Msg("could not remove unrecorded report")
	}
}

// save writes the report, signed when the key holder of the voting can sign
func (s *Service) save(ctx context.Context, v *Voting) error {
	var signer Signer
	if len(v.Auths) > 0 {
		if holder, err := s.trustees.KeyHolder(v.Auths[0]); err == nil {
			signer, _ = holder.(Signer)
		}
	}
	r, err := s.reports.Write(ctx, v, signer)
	if err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	v.File = r.Path
	return nil
}
