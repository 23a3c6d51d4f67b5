package handlers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/userhub/userhub/internal/repository"
	"github.com/userhub/userhub/internal/service"
)

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeValidationError(w http.ResponseWriter, fields map[string]string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: fields})
}

// writeServiceError maps service and repository errors onto the status-code
// contract. Anything unrecognized is an infrastructure failure: 500, never
// retried here.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(w, http.StatusBadRequest, "invalid credentials")
	case errors.Is(err, service.ErrEmailTaken), errors.Is(err, repository.ErrUserExists):
		writeError(w, http.StatusBadRequest, "email already registered")
	case errors.Is(err, service.ErrResetInvalid):
		writeError(w, http.StatusBadRequest, "reset ticket invalid or expired")
	case errors.Is(err, service.ErrInvalidRole):
		writeError(w, http.StatusBadRequest, "invalid role")
	case errors.Is(err, service.ErrRefreshInvalid):
		writeError(w, http.StatusForbidden, "refresh token invalid or revoked")
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "access denied")
	case errors.Is(err, repository.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// getClientIP yields a stable per-client key: the originating address from
// a multi-hop X-Forwarded-For chain, or the peer address without its
// ephemeral port.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
