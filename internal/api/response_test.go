package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/perfectstorm/coordinator/internal/apperr"
)

func TestHandleErrorMapsSentinelsToStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err error
		status int
	}{
		{"not found", apperr.ErrNotFound, http.StatusNotFound},
		{"conflict", apperr.ErrConflict, http.StatusConflict},
		{"ambiguous lookup", apperr.ErrAmbiguousLookup, http.StatusBadRequest},
		{"validation", apperr.NewValidation("type", "is required"), http.StatusBadRequest},
		{"unknown", errUnexpected{}, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HandleError(rec, tc.err)
			if rec.Code != tc.status {
				t.Errorf("status = %d, want %d", rec.Code, tc.status)
			}
		})
	}
}

func TestHandleErrorValidationBodyIsFieldKeyed(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleError(rec, apperr.NewValidation("type", "is required"))

	var body map[string][]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if msgs := body["type"]; len(msgs) != 1 || msgs[0] != "is required" {
		t.Errorf("body[type] = %v, want [\"is required\"]", msgs)
	}
}

func TestHandleErrorGeneralBodyUsesDetailKey(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleError(rec, apperr.ErrNotFound)

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if _, ok := body["detail"]; !ok {
		t.Errorf("body = %v, want a \"detail\" key", body)
	}
}

type errUnexpected struct{}

func (errUnexpected) Error() string { return "something unexpected" }
