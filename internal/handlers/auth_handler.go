package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/userhub/userhub/internal/metrics"
	"github.com/userhub/userhub/internal/models"
	"github.com/userhub/userhub/internal/service"
	"github.com/userhub/userhub/internal/throttle"
)

type AuthHandler struct {
	service *service.AuthService
	limiter throttle.Limiter
}

func NewAuthHandler(service *service.AuthService, limiter throttle.Limiter) *AuthHandler {
	return &AuthHandler{
		service: service,
		limiter: limiter,
	}
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req models.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	fields := map[string]string{}
	if strings.TrimSpace(req.Name) == "" {
		fields["name"] = "name is required"
	}
	if !strings.Contains(req.Email, "@") {
		fields["email"] = "a valid email is required"
	}
	if len(req.Password) < 8 {
		fields["password"] = "password must be at least 8 characters"
	}
	if len(fields) > 0 {
		writeValidationError(w, fields)
		return
	}

	user, err := h.service.Signup(r.Context(), &req, getClientIP(r), r.Header.Get("User-Agent"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// Login sits behind the throttle. The attempt is counted up front, before
// the credential check runs, so attempt volume is bounded whatever the
// outcome and however slow the check.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	decision, err := h.limiter.Attempt(r.Context(), getClientIP(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !decision.Allowed {
		metrics.LoginThrottled.Inc()
		retryAfter := int(decision.RetryAfter.Seconds())
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":       "too many login attempts",
			"retry_after": retryAfter,
		})
		return
	}

	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Email == "" || req.Password == "" {
		writeValidationError(w, map[string]string{
			"email":    "email is required",
			"password": "password is required",
		})
		return
	}

	pair, err := h.service.Login(r.Context(), &req, getClientIP(r), r.Header.Get("User-Agent"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.RefreshToken == "" {
		writeValidationError(w, map[string]string{"refresh_token": "refresh_token is required"})
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req models.LogoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.RefreshToken == "" {
		writeValidationError(w, map[string]string{"refresh_token": "refresh_token is required"})
		return
	}

	if err := h.service.Logout(r.Context(), req.RefreshToken, req.Everywhere, getClientIP(r), r.Header.Get("User-Agent")); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// ForgotPassword answers the same way whether or not the email is
// registered.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req models.ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !strings.Contains(req.Email, "@") {
		writeValidationError(w, map[string]string{"email": "a valid email is required"})
		return
	}

	if err := h.service.ForgotPassword(r.Context(), req.Email, getClientIP(r), r.Header.Get("User-Agent")); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "if the address is registered, a reset link has been sent",
	})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	ticket := r.PathValue("ticket")
	if ticket == "" {
		writeError(w, http.StatusBadRequest, "reset ticket is required")
		return
	}

	var req models.ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(req.Password) < 8 {
		writeValidationError(w, map[string]string{"password": "password must be at least 8 characters"})
		return
	}

	if err := h.service.ResetPassword(r.Context(), ticket, req.Password, getClientIP(r), r.Header.Get("User-Agent")); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "password updated"})
}

func (h *AuthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
