// Package api provides HTTP handlers for the Connect API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/introji/connect/internal/domain"
)

// retryAfterSeconds is sent with 503 responses for transient failures.
const retryAfterSeconds = "1"

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Field   string `json:"field,omitempty"`
}

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrNotAParticipant, http.StatusForbidden, "not_a_participant"},
	{domain.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{domain.ErrInvalidCode, http.StatusNotFound, "invalid_code"},
	{domain.ErrCodeExpired, http.StatusGone, "code_expired"},
	{domain.ErrAlreadyInSession, http.StatusConflict, "already_in_session"},
	{domain.ErrWrongState, http.StatusConflict, "wrong_state"},
	{domain.ErrPromptIndexMismatch, http.StatusConflict, "prompt_index_mismatch"},
	{domain.ErrDuplicateResponse, http.StatusConflict, "duplicate_response"},
	{domain.ErrSessionNotActive, http.StatusConflict, "session_not_active"},
	{domain.ErrAlreadyEnded, http.StatusConflict, "already_ended"},
	{domain.ErrNotQueued, http.StatusConflict, "not_queued"},
	{domain.ErrTransient, http.StatusServiceUnavailable, "transient"},
}

// WriteError maps a service error to its HTTP status and writes it.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		JSON(w, http.StatusBadRequest, errorBody{Error: "validation", Message: ve.Reason, Field: ve.Field})
		return
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			if c.status == http.StatusServiceUnavailable {
				w.Header().Set("Retry-After", retryAfterSeconds)
			}
			JSON(w, c.status, errorBody{Error: c.code, Message: c.err.Error()})
			return
		}
	}
	slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}

// decode reads a JSON request body into v, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		JSON(w, http.StatusBadRequest, errorBody{Error: "validation", Message: "invalid request body"})
		return false
	}
	return true
}
