package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// httpWriteJSON writes data as the JSON response with the given status
func httpWriteJSON(w http.ResponseWriter, status int, data interface{}) {
	jdata, err := json.Marshal(data)
	if err != nil {
		ErrMarshalingServerJSONFailed.WithErr(err).Write(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	n, err := w.Write(append(jdata, '\n'))
	if err != nil {
		log.Warn().Err(err).Msg("failed to write http response")
		return
	}
	log.Debug().Int("bytes", n).Int("status", status).Msg("api response")
}

// httpWriteOK writes an empty OK response
func httpWriteOK(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("\n")); err != nil {
		log.Warn().Err(err).Msg("failed to write on response")
	}
}

// SimpleJSONResponse is for json status responses that are not API errors
func SimpleJSONResponse(wr http.ResponseWriter, code int, msg string) {
	obj := map[string]interface{}{
		"status":  http.StatusText(code),
		"message": msg,
		"code":    code,
	}
	wr.Header().Set("content-type", "application/json")
	wr.WriteHeader(code)
	enc := json.NewEncoder(wr)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	enc.Encode(obj)
}
