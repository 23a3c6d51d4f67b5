package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/userhub/userhub/internal/audit"
	"github.com/userhub/userhub/internal/models"
	"github.com/userhub/userhub/internal/repository"
	"github.com/userhub/userhub/internal/service"
	"github.com/userhub/userhub/internal/throttle"
	"github.com/userhub/userhub/pkg/tokens"
)

// ============================================================================
// Test Setup
// ============================================================================

type capturedMail struct {
	resetURL string
}

func (m *capturedMail) SendPasswordReset(ctx context.Context, email, resetURL string) error {
	m.resetURL = resetURL
	return nil
}

func (m *capturedMail) ticket() string {
	return m.resetURL[strings.LastIndex(m.resetURL, "/")+1:]
}

func newTestAuthHandler(limiter throttle.Limiter) (*AuthHandler, *capturedMail) {
	repo := repository.NewInMemoryRepository()
	vault := tokens.NewVault("test-access-secret", "test-refresh-secret")
	mail := &capturedMail{}
	svc := service.NewAuthService(repo, vault, audit.NewLogger(repo), mail, "http://localhost:3000")
	return NewAuthHandler(svc, limiter), mail
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func signupAlice(t *testing.T, h *AuthHandler) {
	t.Helper()
	rec := postJSON(t, h.Signup, "/api/v1/auth/signup", models.SignupRequest{
		Name: "Alice", Email: "alice@example.com", Password: "correct-horse",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Signup returned %d: %s", rec.Code, rec.Body.String())
	}
}

func loginAlice(t *testing.T, h *AuthHandler) models.TokenPairResponse {
	t.Helper()
	rec := postJSON(t, h.Login, "/api/v1/auth/login", models.LoginRequest{
		Email: "alice@example.com", Password: "correct-horse",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Login returned %d: %s", rec.Code, rec.Body.String())
	}

	var pair models.TokenPairResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &pair); err != nil {
		t.Fatalf("decode pair: %v", err)
	}
	return pair
}

// ============================================================================
// Signup
// ============================================================================

func TestSignupHandler(t *testing.T) {
	h, _ := newTestAuthHandler(throttle.NoOpLimiter{})

	rec := postJSON(t, h.Signup, "/api/v1/auth/signup", models.SignupRequest{
		Name: "Alice", Email: "alice@example.com", Password: "correct-horse",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var user models.User
	if err := json.Unmarshal(rec.Body.Bytes(), &user); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Errorf("Expected alice@example.com, got %s", user.Email)
	}
	if strings.Contains(rec.Body.String(), "password_hash") || strings.Contains(rec.Body.String(), "correct-horse") {
		t.Error("Response must not leak password material")
	}
}

func TestSignupValidation(t *testing.T) {
	h, _ := newTestAuthHandler(throttle.NoOpLimiter{})

	tests := []struct {
		name string
		req  models.SignupRequest
	}{
		{"missing name", models.SignupRequest{Email: "a@b.com", Password: "correct-horse"}},
		{"bad email", models.SignupRequest{Name: "A", Email: "not-an-email", Password: "correct-horse"}},
		{"short password", models.SignupRequest{Name: "A", Email: "a@b.com", Password: "short"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, h.Signup, "/api/v1/auth/signup", tt.req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestSignupDuplicateEmailStatus(t *testing.T) {
	h, _ := newTestAuthHandler(throttle.NoOpLimiter{})
	signupAlice(t, h)

	rec := postJSON(t, h.Signup, "/api/v1/auth/signup", models.SignupRequest{
		Name: "Alice Again", Email: "alice@example.com", Password: "correct-horse",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for duplicate email, got %d", rec.Code)
	}
}

// ============================================================================
// Login and Throttling
// ============================================================================

func TestLoginHandler(t *testing.T) {
	h, _ := newTestAuthHandler(throttle.NoOpLimiter{})
	signupAlice(t, h)

	pair := loginAlice(t, h)
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Error("Expected both tokens in the response")
	}
	if pair.TokenType != "Bearer" {
		t.Errorf("Expected Bearer, got %s", pair.TokenType)
	}
}

func TestLoginBadCredentialsStatus(t *testing.T) {
	h, _ := newTestAuthHandler(throttle.NoOpLimiter{})
	signupAlice(t, h)

	rec := postJSON(t, h.Login, "/api/v1/auth/login", models.LoginRequest{
		Email: "alice@example.com", Password: "wrong-password",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestLoginThrottled(t *testing.T) {
	h, _ := newTestAuthHandler(throttle.NewMemoryLimiter(2, 10*time.Minute))
	signupAlice(t, h)

	// Two failed attempts fill the window; the outcome is irrelevant to
	// the count.
	for i := 0; i < 2; i++ {
		rec := postJSON(t, h.Login, "/api/v1/auth/login", models.LoginRequest{
			Email: "alice@example.com", Password: "wrong-password",
		})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("Expected 400, got %d", rec.Code)
		}
	}

	// Correct credentials do not matter: the decision precedes the check.
	rec := postJSON(t, h.Login, "/api/v1/auth/login", models.LoginRequest{
		Email: "alice@example.com", Password: "correct-horse",
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 must carry a Retry-After header")
	}

	var body struct {
		RetryAfter int `json:"retry_after"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.RetryAfter <= 0 {
		t.Errorf("Expected a positive retry_after, got %d", body.RetryAfter)
	}
}

func TestLoginThrottleKeyedByClient(t *testing.T) {
	h, _ := newTestAuthHandler(throttle.NewMemoryLimiter(1, 10*time.Minute))
	signupAlice(t, h)

	send := func(ip string) *httptest.ResponseRecorder {
		b, _ := json.Marshal(models.LoginRequest{Email: "alice@example.com", Password: "correct-horse"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(b))
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		h.Login(rec, req)
		return rec
	}

	if rec := send("1.1.1.1"); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if rec := send("1.1.1.1"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429 for exhausted client, got %d", rec.Code)
	}
	if rec := send("2.2.2.2"); rec.Code != http.StatusOK {
		t.Fatalf("Other clients must be unaffected, got %d", rec.Code)
	}
}

// ============================================================================
// Refresh and Logout
// ============================================================================

func TestRefreshHandler(t *testing.T) {
	h, _ := newTestAuthHandler(throttle.NoOpLimiter{})
	signupAlice(t, h)
	pair := loginAlice(t, h)

	rec := postJSON(t, h.Refresh, "/api/v1/auth/refresh", models.RefreshRequest{
		RefreshToken: pair.RefreshToken,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// The consumed token now yields the revoked-token status.
	rec = postJSON(t, h.Refresh, "/api/v1/auth/refresh", models.RefreshRequest{
		RefreshToken: pair.RefreshToken,
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for a rotated-out token, got %d", rec.Code)
	}
}

func TestRefreshHandlerRejectsGarbage(t *testing.T) {
	h, _ := newTestAuthHandler(throttle.NoOpLimiter{})

	rec := postJSON(t, h.Refresh, "/api/v1/auth/refresh", models.RefreshRequest{
		RefreshToken: "not-a-token",
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", rec.Code)
	}

	rec = postJSON(t, h.Refresh, "/api/v1/auth/refresh", models.RefreshRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing token, got %d", rec.Code)
	}
}

func TestLogoutHandler(t *testing.T) {
	h, _ := newTestAuthHandler(throttle.NoOpLimiter{})
	signupAlice(t, h)
	pair := loginAlice(t, h)

	rec := postJSON(t, h.Logout, "/api/v1/auth/logout", models.LogoutRequest{
		RefreshToken: pair.RefreshToken,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	// Logout is idempotent.
	rec = postJSON(t, h.Logout, "/api/v1/auth/logout", models.LogoutRequest{
		RefreshToken: pair.RefreshToken,
	})
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 on repeat logout, got %d", rec.Code)
	}
}

// ============================================================================
// Password Reset
// ============================================================================

func TestForgotPasswordUniformResponse(t *testing.T) {
	h, mail := newTestAuthHandler(throttle.NoOpLimiter{})
	signupAlice(t, h)

	known := postJSON(t, h.ForgotPassword, "/api/v1/auth/forgot-password", models.ForgotPasswordRequest{
		Email: "alice@example.com",
	})
	unknown := postJSON(t, h.ForgotPassword, "/api/v1/auth/forgot-password", models.ForgotPasswordRequest{
		Email: "nobody@example.com",
	})

	// Same status, same body: existence is not disclosed.
	if known.Code != http.StatusOK || unknown.Code != http.StatusOK {
		t.Fatalf("Expected 200/200, got %d/%d", known.Code, unknown.Code)
	}
	if known.Body.String() != unknown.Body.String() {
		t.Error("Known and unknown emails must produce identical responses")
	}
	if mail.resetURL == "" {
		t.Error("Known email should have produced a reset mail")
	}
}

func TestResetPasswordHandler(t *testing.T) {
	h, mail := newTestAuthHandler(throttle.NoOpLimiter{})
	signupAlice(t, h)

	rec := postJSON(t, h.ForgotPassword, "/api/v1/auth/forgot-password", models.ForgotPasswordRequest{
		Email: "alice@example.com",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("ForgotPassword returned %d", rec.Code)
	}

	reset := func(ticket, password string) *httptest.ResponseRecorder {
		b, _ := json.Marshal(models.ResetPasswordRequest{Password: password})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/reset-password/"+ticket, bytes.NewReader(b))
		req.SetPathValue("ticket", ticket)
		rec := httptest.NewRecorder()
		h.ResetPassword(rec, req)
		return rec
	}

	ticket := mail.ticket()
	if rec := reset(ticket, "brand-new-password"); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := reset(ticket, "another-password"); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 on reuse, got %d", rec.Code)
	}
	if rec := reset("made-up-ticket", "another-password"); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown ticket, got %d", rec.Code)
	}
	if rec := reset(ticket, "short"); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a short password, got %d", rec.Code)
	}
}
