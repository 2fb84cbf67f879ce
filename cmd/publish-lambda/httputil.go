package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/fpang/instagram-publisher/internal/apperr"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func httpError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads the request body into v, answering 400 on malformed
// input. Returns false when the response has already been written.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// respondAppError maps a service error to an HTTP response, preserving
// the classification (validation 400, auth 401, not_found 404,
// remote_api 502) and logging the full cause server-side.
func respondAppError(w http.ResponseWriter, err error) {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		log.Warn().Err(err).Str("code", string(ae.Code)).Msg("Request failed")
		httpError(w, ae.HTTPStatus(), ae.Message)
		return
	}
	log.Error().Err(err).Msg("Request failed")
	httpError(w, http.StatusInternalServerError, "internal error")
}
