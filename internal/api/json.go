package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/duet/internal/apperr"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error     string `json:"error" validate:"required"`
	Code      string `json:"code" validate:"required"`
	Retryable bool   `json:"retryable,omitempty"`
}

func errorBody(err error) errResponse {
	return errResponse{
		Error:     apperr.Message(err),
		Code:      apperr.Kind(err),
		Retryable: apperr.Retryable(err),
	}
}

// statusOf maps a domain error onto an HTTP status code.
func statusOf(err error) int {
	switch {
	case errors.Is(err, apperr.ErrInvalidInput), errors.Is(err, apperr.ErrWeakPassword):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrUnauthenticated), errors.Is(err, apperr.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrForbidden), errors.Is(err, apperr.ErrAccountDisabled):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrUnknownUser):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrAlreadyProcessed), errors.Is(err, apperr.ErrAlreadyPaired),
		errors.Is(err, apperr.ErrDuplicateInvite), errors.Is(err, apperr.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrNotInPair), errors.Is(err, apperr.ErrNotDueYet):
		return http.StatusPreconditionFailed
	case errors.Is(err, apperr.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, apperr.ErrExternalService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err. Unclassified errors are logged and reported as internal.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		slog.Error(op+" failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	writeJSON(w, status, errorBody(err))
}

// decodeBody decodes a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(apperr.ErrInvalidInput, err)
	}
	return nil
}
