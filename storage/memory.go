package storage

import (
	"context"
	"sync"

	"github.com/thechriswalker/go-decide/voting"
)

// MemoryStorage keeps everything in maps behind one mutex.
// Useful for tests and throwaway servers.
type MemoryStorage struct {
	mu      sync.Mutex
	lastID  int64
	votings map[int64]*voting.Voting
	census  map[int64]map[int64]struct{}
	ballots map[int64][]*voting.Ballot
	voted   map[int64]map[int64]struct{}
}

var _ voting.Store = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		votings: map[int64]*voting.Voting{},
		census:  map[int64]map[int64]struct{}{},
		ballots: map[int64][]*voting.Ballot{},
		voted:   map[int64]map[int64]struct{}{},
	}
}

func (m *MemoryStorage) CreateVoting(ctx context.Context, v *voting.Voting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastID++
	v.ID = m.lastID
	m.votings[v.ID] = v.Clone()
	return nil
}

func (m *MemoryStorage) Voting(ctx context.Context, id int64) (*voting.Voting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.votings[id]
	if !ok {
		return nil, voting.ErrVotingNotFound
	}
	return v.Clone(), nil
}

func (m *MemoryStorage) UpdateVoting(ctx context.Context, v *voting.Voting, expect voting.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	curr, ok := m.votings[v.ID]
	if !ok {
		return voting.ErrVotingNotFound
	}
	if curr.Status != expect {
		return voting.ErrConflict
	}
	next := curr.Clone()
	upd := v.Clone()
	next.Status = upd.Status
	next.StartDate = upd.StartDate
	next.EndDate = upd.EndDate
	next.PublicKey = upd.PublicKey
	next.Tally = upd.Tally
	next.PostProc = upd.PostProc
	next.File = upd.File
	m.votings[v.ID] = next
	return nil
}

func (m *MemoryStorage) AddCensus(ctx context.Context, votingID int64, voterIDs ...int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.votings[votingID]; !ok {
		return 0, voting.ErrVotingNotFound
	}
	c, ok := m.census[votingID]
	if !ok {
		c = map[int64]struct{}{}
		m.census[votingID] = c
	}
	n := 0
	for _, id := range voterIDs {
		if _, ok := c[id]; !ok {
			c[id] = struct{}{}
			n++
		}
	}
	return n, nil
}

func (m *MemoryStorage) RemoveCensus(ctx context.Context, votingID int64, voterIDs ...int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.census[votingID]
	n := 0
	for _, id := range voterIDs {
		if _, ok := c[id]; ok {
			delete(c, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStorage) IsEligible(ctx context.Context, votingID, voterID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.census[votingID][voterID]
	return ok, nil
}

func (m *MemoryStorage) InsertBallot(ctx context.Context, b *voting.Ballot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.votings[b.VotingID]
	if !ok {
		return voting.ErrVotingNotFound
	}
	if _, ok := m.census[b.VotingID][b.VoterID]; !ok {
		return voting.ErrNotEligible
	}
	if _, ok := m.voted[b.VotingID][b.VoterID]; ok {
		return voting.ErrAlreadyVoted
	}
	if v.Status != voting.Started {
		return voting.ErrVotingNotOpen
	}
	if m.voted[b.VotingID] == nil {
		m.voted[b.VotingID] = map[int64]struct{}{}
	}
	m.voted[b.VotingID][b.VoterID] = struct{}{}
	bc := *b
	m.ballots[b.VotingID] = append(m.ballots[b.VotingID], &bc)
	return nil
}

func (m *MemoryStorage) Ballots(ctx context.Context, votingID int64) ([]*voting.Ballot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.ballots[votingID]
	out := make([]*voting.Ballot, len(list))
	for i, b := range list {
		bc := *b
		out[i] = &bc
	}
	return out, nil
}

func (m *MemoryStorage) Close() error {
	return nil
}
