// Package api implements the coordinator's HTTP/JSON surface: one handler
// file per entity kind over chi. Response bodies are bare entity/array
// JSON (no "data" envelope) and error bodies are either a field-keyed
// validation object or {"detail": "..."}.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/perfectstorm/coordinator/internal/apperr"
)

// JSON writes a JSON-encoded response with the given status code.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Ok writes a 200 OK response with the bare payload.
func Ok(w http.ResponseWriter, payload any) {
	JSON(w, http.StatusOK, payload)
}

// Created writes a 201 Created response with the bare payload.
func Created(w http.ResponseWriter, payload any) {
	JSON(w, http.StatusCreated, payload)
}

// NoContent writes a 204 No Content response with no body.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// detail is the shape of a general (non-validation) error body: {"detail": "<message>"}.
type detail struct {
	Detail string `json:"detail"`
}

// ErrDetail writes a JSON error body of the form {"detail": message} at
// the given status.
func ErrDetail(w http.ResponseWriter, status int, message string) {
	JSON(w, status, detail{Detail: message})
}

// ErrBadRequest writes a 400 with a {"detail": ...} body, for malformed
// requests that never reach validation (bad JSON, bad query syntax).
func ErrBadRequest(w http.ResponseWriter, message string) {
	ErrDetail(w, http.StatusBadRequest, message)
}

// ErrNotFound writes a 404 {"detail": ...} body.
func ErrNotFound(w http.ResponseWriter) {
	ErrDetail(w, http.StatusNotFound, "not found")
}

// ErrConflict writes a 409 {"detail": ...} body.
func ErrConflict(w http.ResponseWriter, message string) {
	ErrDetail(w, http.StatusConflict, message)
}

// ErrInternal writes a 500 {"detail": ...} body. The underlying error
// detail is intentionally not exposed to the client.
func ErrInternal(w http.ResponseWriter) {
	ErrDetail(w, http.StatusInternalServerError, "an internal error occurred")
}

// ErrValidation writes a 400 with the field-keyed body:
// {"field": ["message", ...]}.
func ErrValidation(w http.ResponseWriter, ve *apperr.ValidationError) {
	JSON(w, http.StatusBadRequest, ve.Fields)
}

// HandleError maps a repo/engine error to the appropriate HTTP response,
// the one dispatch point every handler routes its store errors through
// (the validation/not-found/conflict/internal taxonomy in internal/apperr).
func HandleError(w http.ResponseWriter, err error) {
	if ve, ok := apperr.AsValidation(err); ok {
		ErrValidation(w, ve)
		return
	}
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		ErrNotFound(w)
	case errors.Is(err, apperr.ErrConflict):
		ErrConflict(w, err.Error())
	case errors.Is(err, apperr.ErrAmbiguousLookup):
		ErrDetail(w, http.StatusBadRequest, "ambiguous lookup: multiple entities match")
	default:
		ErrInternal(w)
	}
}

// decodeJSON decodes the request body into dst. Returns false and writes
// an appropriate error response if decoding fails, so callers can
// early-return.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		ErrBadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}
