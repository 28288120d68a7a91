package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/thechriswalker/go-decide/crypto/elgamal"
	"github.com/thechriswalker/go-decide/voting"
)

// Error codes in the 40001-49999 range are the caller's fault, 50001-59999 are ours.
// NEVER change any of the current error codes, only append new ones.
var (
	ErrResourceNotFound = Error{Code: 40001, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("resource not found")}
	ErrMalformedBody    = Error{Code: 40004, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed JSON body")}
	ErrMalformedID      = Error{Code: 40006, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed voting ID")}
	ErrVotingNotFound   = Error{Code: 40007, HTTPstatus: http.StatusNotFound, Err: voting.ErrVotingNotFound}
	ErrInvalidVoting    = Error{Code: 40008, HTTPstatus: http.StatusBadRequest, Err: voting.ErrInvalidVoting}
	ErrNotEligible      = Error{Code: 40009, HTTPstatus: http.StatusForbidden, Err: voting.ErrNotEligible}
	ErrAlreadyVoted     = Error{Code: 40010, HTTPstatus: http.StatusConflict, Err: voting.ErrAlreadyVoted}
	ErrVotingNotOpen    = Error{Code: 40011, HTTPstatus: http.StatusBadRequest, Err: voting.ErrVotingNotOpen}
	ErrInvalidBallot    = Error{Code: 40012, HTTPstatus: http.StatusBadRequest, Err: elgamal.ErrEncoding}
	ErrUnauthenticated  = Error{Code: 40013, HTTPstatus: http.StatusUnauthorized, Err: voting.ErrUnauthenticated}
	ErrForbidden        = Error{Code: 40014, HTTPstatus: http.StatusForbidden, Err: voting.ErrForbidden}
	ErrReconciliation   = Error{Code: 40015, HTTPstatus: http.StatusConflict, Err: voting.ErrReconciliation}

	ErrMarshalingServerJSONFailed = Error{Code: 50001, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("marshaling (server-side) JSON failed")}
	ErrGenericInternalServerError = Error{Code: 50002, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("internal server error")}
	ErrTrusteeUnavailable         = Error{Code: 50003, HTTPstatus: http.StatusServiceUnavailable, Err: voting.ErrTrusteeUnavailable}
	ErrConflict                   = Error{Code: 50004, HTTPstatus: http.StatusConflict, Err: voting.ErrConflict}
)

// domainErrors maps the service errors to their API error, first match wins
var domainErrors = []struct {
	err error
	api Error
}{
	{voting.ErrUnauthenticated, ErrUnauthenticated},
	{voting.ErrForbidden, ErrForbidden},
	{voting.ErrVotingNotFound, ErrVotingNotFound},
	{voting.ErrInvalidVoting, ErrInvalidVoting},
	{voting.ErrNotEligible, ErrNotEligible},
	{voting.ErrAlreadyVoted, ErrAlreadyVoted},
	{voting.ErrVotingNotOpen, ErrVotingNotOpen},
	{elgamal.ErrEncoding, ErrInvalidBallot},
	{voting.ErrReconciliation, ErrReconciliation},
	{voting.ErrTrusteeUnavailable, ErrTrusteeUnavailable},
	{voting.ErrConflict, ErrConflict},
}

// writeError writes the API error for a service error. The message of the
// domain error is kept, the API error only adds the code and status.
func writeError(w http.ResponseWriter, err error) {
	for _, m := range domainErrors {
		if errors.Is(err, m.err) {
			Error{Err: err, Code: m.api.Code, HTTPstatus: m.api.HTTPstatus}.Write(w)
			return
		}
	}
	log.Err(err).Msg("unexpected error in API handler")
	ErrGenericInternalServerError.Write(w)
}
