package api

import (
	"encoding/json"
	"net/http"

	"github.com/thechriswalker/go-decide/crypto/elgamal"
)

// BallotRequest is an encrypted vote as cast by a voter
type BallotRequest struct {
	Voting int64               `json:"voting"`
	Voter  int64               `json:"voter"`
	Vote   *elgamal.CipherText `json:"vote"`
}

// BallotResponse is what the voter keeps
type BallotResponse struct {
	ID      string `json:"id"`
	Receipt string `json:"receipt"`
}

// storeBallot POST /store/
func (a *API) storeBallot(w http.ResponseWriter, r *http.Request) {
	var req BallotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	b, err := a.service.SubmitBallot(r.Context(), actorFrom(r.Context()), req.Voting, req.Voter, req.Vote)
	if err != nil {
		writeError(w, err)
		return
	}
	httpWriteJSON(w, http.StatusOK, BallotResponse{ID: b.ID.String(), Receipt: b.Receipt})
}
