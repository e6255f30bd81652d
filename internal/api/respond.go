package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/pytake/backend/internal/apperr"
	"github.com/pytake/backend/internal/auth"
	"github.com/rs/zerolog"
)

// maxBodyBytes caps request bodies
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string      `json:"error"`
	Code  apperr.Code `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err to its HTTP status. Internal and dependency failures
// are logged and their details withheld.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	status := apperr.HTTPStatus(err)
	code := apperr.CodeOf(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("code", string(code)).Msg("request failed")
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func forbidden(w http.ResponseWriter) {
	writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden"})
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

// claimsOf returns the caller's claims. Routes outside the auth middleware
// act as an anonymous viewer.
func claimsOf(r *http.Request) *auth.Claims {
	if c, ok := auth.GetUserFromContext(r.Context()); ok && c != nil {
		return c
	}
	return &auth.Claims{Role: auth.RoleViewer}
}
