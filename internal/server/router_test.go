package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/userhub/userhub/internal/audit"
	"github.com/userhub/userhub/internal/handlers"
	"github.com/userhub/userhub/internal/logging"
	"github.com/userhub/userhub/internal/middleware"
	"github.com/userhub/userhub/internal/models"
	"github.com/userhub/userhub/internal/repository"
	"github.com/userhub/userhub/internal/service"
	"github.com/userhub/userhub/internal/throttle"
	"github.com/userhub/userhub/pkg/tokens"
)

type nullMailer struct{}

func (nullMailer) SendPasswordReset(ctx context.Context, email, resetURL string) error { return nil }

// newTestServer wires the whole stack against the in-memory repository and
// seeds one user per role. Passwords are all "correct-horse".
func newTestServer(t *testing.T) (*httptest.Server, *tokens.Vault) {
	t.Helper()

	repo := repository.NewInMemoryRepository()
	vault := tokens.NewVault("test-access-secret", "test-refresh-secret")
	auditLog := audit.NewLogger(repo)

	authService := service.NewAuthService(repo, vault, auditLog, nullMailer{}, "http://localhost:3000")
	userService := service.NewUserService(repo, auditLog)

	router := NewRouter(
		handlers.NewAuthHandler(authService, throttle.NoOpLimiter{}),
		handlers.NewUserHandler(userService),
		middleware.NewAuthMiddleware(vault),
		&logging.Logger{Logger: slog.New(slog.NewJSONHandler(io.Discard, nil))},
	)

	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	now := time.Now().UTC()
	for _, u := range []struct {
		id    string
		email string
		role  models.Role
	}{
		{"admin-1", "admin@example.com", models.RoleAdmin},
		{"mod-1", "mod@example.com", models.RoleModerator},
		{"user-1", "user@example.com", models.RoleStandard},
	} {
		err := repo.CreateUser(context.Background(), &models.User{
			ID: u.id, Name: "Seed", Email: u.email, PasswordHash: string(hash),
			Role: u.role, CreatedAt: now, UpdatedAt: now,
		})
		if err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, vault
}

func doRequest(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func accessFor(t *testing.T, vault *tokens.Vault, userID string, role models.Role) string {
	t.Helper()
	signed, err := vault.SignAccess(userID, string(role))
	if err != nil {
		t.Fatalf("SignAccess failed: %v", err)
	}
	return signed
}

// ============================================================================
// Route Protection
// ============================================================================

func TestRouteProtection(t *testing.T) {
	srv, vault := newTestServer(t)

	admin := accessFor(t, vault, "admin-1", models.RoleAdmin)
	mod := accessFor(t, vault, "mod-1", models.RoleModerator)
	standard := accessFor(t, vault, "user-1", models.RoleStandard)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
	}{
		{"health is public", http.MethodGet, "/healthz", "", nil, http.StatusOK},
		{"metrics is public", http.MethodGet, "/metrics", "", nil, http.StatusOK},

		{"users list needs auth", http.MethodGet, "/api/v1/users", "", nil, http.StatusUnauthorized},
		{"users list denies standard", http.MethodGet, "/api/v1/users", standard, nil, http.StatusForbidden},
		{"users list allows moderator", http.MethodGet, "/api/v1/users", mod, nil, http.StatusOK},
		{"users list allows admin", http.MethodGet, "/api/v1/users", admin, nil, http.StatusOK},

		{"profile needs auth", http.MethodGet, "/api/v1/profile", "", nil, http.StatusUnauthorized},
		{"profile with token", http.MethodGet, "/api/v1/profile", standard, nil, http.StatusOK},

		{"self read allowed", http.MethodGet, "/api/v1/users/user-1", standard, nil, http.StatusOK},
		{"cross read denied", http.MethodGet, "/api/v1/users/admin-1", standard, nil, http.StatusForbidden},
		{"admin cross read", http.MethodGet, "/api/v1/users/user-1", admin, nil, http.StatusOK},

		{"role change needs admin", http.MethodPut, "/api/v1/users/user-1/role", mod,
			models.ChangeRoleRequest{Role: "moderator"}, http.StatusForbidden},
		{"role change by admin", http.MethodPut, "/api/v1/users/user-1/role", admin,
			models.ChangeRoleRequest{Role: "moderator"}, http.StatusOK},
		{"unknown role rejected", http.MethodPut, "/api/v1/users/user-1/role", admin,
			models.ChangeRoleRequest{Role: "superuser"}, http.StatusBadRequest},

		{"password override needs admin", http.MethodPut, "/api/v1/users/user-1/password", mod,
			models.SetPasswordRequest{Password: "override-password"}, http.StatusForbidden},
		{"password override by admin", http.MethodPut, "/api/v1/users/user-1/password", admin,
			models.SetPasswordRequest{Password: "override-password"}, http.StatusOK},
		{"short override rejected", http.MethodPut, "/api/v1/users/user-1/password", admin,
			models.SetPasswordRequest{Password: "short"}, http.StatusBadRequest},

		{"activity needs admin", http.MethodGet, "/api/v1/activity", mod, nil, http.StatusForbidden},
		{"activity for admin", http.MethodGet, "/api/v1/activity", admin, nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, tt.method, srv.URL+tt.path, tt.token, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestUpdateUserEmailConflict(t *testing.T) {
	srv, vault := newTestServer(t)
	standard := accessFor(t, vault, "user-1", models.RoleStandard)

	// Moving to an address someone else holds is the caller's fault, not a
	// server failure.
	resp := doRequest(t, http.MethodPut, srv.URL+"/api/v1/users/user-1", standard,
		models.UpdateUserRequest{Email: "mod@example.com"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for an email conflict, got %d", resp.StatusCode)
	}

	// A free address goes through.
	resp = doRequest(t, http.MethodPut, srv.URL+"/api/v1/users/user-1", standard,
		models.UpdateUserRequest{Email: "new@example.com"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 for a free address, got %d", resp.StatusCode)
	}
}

// ============================================================================
// Full Session Flow
// ============================================================================

func TestLoginRefreshLogoutFlow(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/auth/login", "", models.LoginRequest{
		Email: "user@example.com", Password: "correct-horse",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Login returned %d", resp.StatusCode)
	}

	var pair models.TokenPairResponse
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		t.Fatalf("decode pair: %v", err)
	}

	// The issued access token opens protected routes.
	resp = doRequest(t, http.MethodGet, srv.URL+"/api/v1/profile", pair.AccessToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Profile with fresh token returned %d", resp.StatusCode)
	}

	// Refresh rotates; the old refresh token dies with the exchange.
	resp = doRequest(t, http.MethodPost, srv.URL+"/api/v1/auth/refresh", "", models.RefreshRequest{
		RefreshToken: pair.RefreshToken,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Refresh returned %d", resp.StatusCode)
	}

	var next models.TokenPairResponse
	if err := json.NewDecoder(resp.Body).Decode(&next); err != nil {
		t.Fatalf("decode pair: %v", err)
	}

	resp = doRequest(t, http.MethodPost, srv.URL+"/api/v1/auth/refresh", "", models.RefreshRequest{
		RefreshToken: pair.RefreshToken,
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Rotated-out token returned %d, want 403", resp.StatusCode)
	}

	// Logout revokes the live session.
	resp = doRequest(t, http.MethodPost, srv.URL+"/api/v1/auth/logout", "", models.LogoutRequest{
		RefreshToken: next.RefreshToken,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Logout returned %d", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodPost, srv.URL+"/api/v1/auth/refresh", "", models.RefreshRequest{
		RefreshToken: next.RefreshToken,
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Revoked token returned %d, want 403", resp.StatusCode)
	}
}
