package voting

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/thechriswalker/go-decide/crypto/elgamal"
)

// Status of a voting. The order of the constants is the order of the lifecycle.
type Status int

const (
	NotStarted Status = iota
	Started
	Stopped
	Tallied
	Saved
)

var statusNames = [...]string{
	NotStarted: "not_started",
	Started:    "started",
	Stopped:    "stopped",
	Tallied:    "tallied",
	Saved:      "saved",
}

func (s Status) String() string {
	if s < NotStarted || s > Saved {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// ParseStatus reverses Status.String
func ParseStatus(s string) (Status, error) {
	for i, name := range statusNames {
		if name == s {
			return Status(i), nil
		}
	}
	return NotStarted, fmt.Errorf("unknown voting status %q", s)
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	v, err := ParseStatus(str)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// QuestionOption is one choice of a question, numbered from 1.
type QuestionOption struct {
	Number int    `json:"number"`
	Option string `json:"option"`
}

type Question struct {
	Desc    string           `json:"desc"`
	IsYesNo bool             `json:"is_yes_no"`
	Options []QuestionOption `json:"options"`
}

// HasOption reports whether n is the number of one of the options
func (q *Question) HasOption(n int64) bool {
	for _, o := range q.Options {
		if int64(o.Number) == n {
			return true
		}
	}
	return false
}

// Numbers returns the option numbers in order
func (q *Question) Numbers() []int {
	out := make([]int, len(q.Options))
	for i, o := range q.Options {
		out[i] = o.Number
	}
	return out
}

// Auth is a trustee node able to generate keys and tally a voting.
type Auth struct {
	URL    string `json:"url"`
	Name   string `json:"name"`
	IsSelf bool   `json:"me"`
}

// PostProc is the aggregate a trustee reports for one option.
type PostProc struct {
	Number int   `json:"number"`
	Votes  int64 `json:"votes"`
}

type Voting struct {
	ID        int64              `json:"id"`
	Name      string             `json:"name"`
	Desc      string             `json:"desc"`
	Question  Question           `json:"question"`
	Auths     []Auth             `json:"auths"`
	Status    Status             `json:"status"`
	StartDate *time.Time         `json:"start_date"`
	EndDate   *time.Time         `json:"end_date"`
	PublicKey *elgamal.PublicKey `json:"pub_key"`
	Tally     []int64            `json:"tally"`
	PostProc  []PostProc         `json:"postproc"`
	File      string             `json:"file,omitempty"`
}

// SelfAuth returns the auth marked as this node
func (v *Voting) SelfAuth() (Auth, bool) {
	for _, a := range v.Auths {
		if a.IsSelf {
			return a, true
		}
	}
	return Auth{}, false
}

// Clone makes a copy that can be mutated without affecting the original.
// The public key is shared, it is never mutated once set.
func (v *Voting) Clone() *Voting {
	c := *v
	c.Question.Options = append([]QuestionOption(nil), v.Question.Options...)
	c.Auths = append([]Auth(nil), v.Auths...)
	if v.StartDate != nil {
		t := *v.StartDate
		c.StartDate = &t
	}
	if v.EndDate != nil {
		t := *v.EndDate
		c.EndDate = &t
	}
	if v.Tally != nil {
		c.Tally = append([]int64(nil), v.Tally...)
	}
	if v.PostProc != nil {
		c.PostProc = append([]PostProc(nil), v.PostProc...)
	}
	return &c
}

// Ballot is an encrypted vote. It is never mutated once stored.
type Ballot struct {
	ID        uuid.UUID           `json:"id"`
	VotingID  int64               `json:"voting"`
	VoterID   int64               `json:"voter"`
	Vote      *elgamal.CipherText `json:"vote"`
	Receipt   string              `json:"receipt"`
	CreatedAt time.Time           `json:"created_at"`
}

// NewVoting is the input to voting creation
type NewVoting struct {
	Name     string   `json:"name"`
	Desc     string   `json:"desc"`
	Question string   `json:"question"`
	Options  []string `json:"question_opt"`
	IsYesNo  bool     `json:"is_yes_no"`
	Auths    []Auth   `json:"auths"`
}

// Actor is whoever is calling into the service. A nil actor is unauthenticated.
type Actor struct {
	ID    int64
	Name  string
	Admin bool
}
