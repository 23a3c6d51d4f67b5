package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/userhub/userhub/internal/handlers"
	"github.com/userhub/userhub/internal/logging"
	"github.com/userhub/userhub/internal/middleware"
	"github.com/userhub/userhub/internal/models"
)

// NewRouter registers the API routes. Ordering on protected routes is fixed:
// authenticate, then authorize, then the handler body.
func NewRouter(auth *handlers.AuthHandler, users *handlers.UserHandler, authMW *middleware.AuthMiddleware, log *logging.Logger) http.Handler {
	mux := http.NewServeMux()

	// Authentication endpoints (public)
	mux.HandleFunc("POST /api/v1/auth/signup", auth.Signup)
	mux.HandleFunc("POST /api/v1/auth/login", auth.Login)
	mux.HandleFunc("POST /api/v1/auth/refresh", auth.Refresh)
	mux.HandleFunc("POST /api/v1/auth/logout", auth.Logout)
	mux.HandleFunc("POST /api/v1/auth/forgot-password", auth.ForgotPassword)
	mux.HandleFunc("POST /api/v1/auth/reset-password/{ticket}", auth.ResetPassword)

	// User management
	mux.HandleFunc("GET /api/v1/users", authMW.RequireRole(models.RoleAdmin, models.RoleModerator)(users.ListUsers))
	mux.HandleFunc("GET /api/v1/users/{id}", authMW.RequireAuth(users.GetUser))
	mux.HandleFunc("PUT /api/v1/users/{id}", authMW.RequireAuth(users.UpdateUser))
	mux.HandleFunc("DELETE /api/v1/users/{id}", authMW.RequireAuth(users.DeleteUser))
	mux.HandleFunc("PUT /api/v1/users/{id}/role", authMW.RequireRole(models.RoleAdmin)(users.ChangeRole))
	mux.HandleFunc("PUT /api/v1/users/{id}/password", authMW.RequireRole(models.RoleAdmin)(users.ResetUserPassword))

	// Own profile
	mux.HandleFunc("GET /api/v1/profile", authMW.RequireAuth(users.GetProfile))
	mux.HandleFunc("PUT /api/v1/profile", authMW.RequireAuth(users.UpdateProfile))

	// Activity log viewer
	mux.HandleFunc("GET /api/v1/activity", authMW.RequireRole(models.RoleAdmin)(users.ListActivity))

	// Operational endpoints
	mux.HandleFunc("GET /healthz", auth.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.RequestID(accessLog(log, mux))
}
