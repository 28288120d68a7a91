package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/thechriswalker/go-decide/voting"
)

// ActionRequest is the body of a lifecycle action
type ActionRequest struct {
	Action string `json:"action"`
}

// CensusRequest lists the voters to add or remove
type CensusRequest struct {
	Voters []int64 `json:"voters"`
}

// CensusResponse is the number of rows that changed
type CensusResponse struct {
	Added   int `json:"added,omitempty"`
	Removed int `json:"removed,omitempty"`
}

func votingID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// createVoting POST /voting/
func (a *API) createVoting(w http.ResponseWriter, r *http.Request) {
	var nv voting.NewVoting
	if err := json.NewDecoder(r.Body).Decode(&nv); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	v, err := a.service.CreateVoting(r.Context(), actorFrom(r.Context()), nv)
	if err != nil {
		writeError(w, err)
		return
	}
	httpWriteJSON(w, http.StatusCreated, v)
}

// voting GET /voting/{id}/
func (a *API) voting(w http.ResponseWriter, r *http.Request) {
	id, err := votingID(r)
	if err != nil {
		ErrMalformedID.WithErr(err).Write(w)
		return
	}
	v, err := a.service.Voting(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	httpWriteJSON(w, http.StatusOK, v)
}

// votingAction PUT /voting/{id}/
//
// The answer is a bare JSON string, on success and on rejected transitions.
func (a *API) votingAction(w http.ResponseWriter, r *http.Request) {
	id, err := votingID(r)
	if err != nil {
		ErrMalformedID.WithErr(err).Write(w)
		return
	}
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	msg, err := a.service.Apply(r.Context(), actorFrom(r.Context()), id, req.Action, tokenFrom(r.Context()))
	var te *voting.TransitionError
	switch {
	case err == nil:
		httpWriteJSON(w, http.StatusOK, msg)
	case errors.As(err, &te):
		httpWriteJSON(w, http.StatusBadRequest, te.Message)
	case errors.Is(err, voting.ErrInvalidAction):
		httpWriteJSON(w, http.StatusBadRequest, voting.ErrInvalidAction.Error())
	default:
		writeError(w, err)
	}
}

func (a *API) decodeCensus(w http.ResponseWriter, r *http.Request) (int64, []int64, bool) {
	id, err := votingID(r)
	if err != nil {
		ErrMalformedID.WithErr(err).Write(w)
		return 0, nil, false
	}
	var req CensusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return 0, nil, false
	}
	return id, req.Voters, true
}

// addCensus POST /voting/{id}/census/
func (a *API) addCensus(w http.ResponseWriter, r *http.Request) {
	id, voters, ok := a.decodeCensus(w, r)
	if !ok {
		return
	}
	n, err := a.service.AddCensus(r.Context(), actorFrom(r.Context()), id, voters...)
	if err != nil {
		writeError(w, err)
		return
	}
	httpWriteJSON(w, http.StatusCreated, CensusResponse{Added: n})
}

// removeCensus DELETE /voting/{id}/census/
func (a *API) removeCensus(w http.ResponseWriter, r *http.Request) {
	id, voters, ok := a.decodeCensus(w, r)
	if !ok {
		return
	}
	n, err := a.service.RemoveCensus(r.Context(), actorFrom(r.Context()), id, voters...)
	if err != nil {
		writeError(w, err)
		return
	}
	httpWriteJSON(w, http.StatusOK, CensusResponse{Removed: n})
}
