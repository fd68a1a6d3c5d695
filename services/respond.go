package services

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: APIError{
		Code:      code,
		Message:   message,
		RequestID: middleware.GetReqID(r.Context()),
	}})
}

// writeServiceError maps service sentinels onto HTTP responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error())
	case errors.Is(err, ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
	case errors.Is(err, ErrNotFound):
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Session not found")
	case errors.Is(err, ErrInsufficientCredits):
		writeError(w, r, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS", "Not enough credits to start a mock interview")
	case errors.Is(err, ErrSessionAbandoned):
		writeError(w, r, http.StatusConflict, "SESSION_ABANDONED", "This interview was abandoned and cannot be finalized")
	default:
		slog.Error("Request failed", "error", err, "path", r.URL.Path)
		writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Something went wrong")
	}
}
