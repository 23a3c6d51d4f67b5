package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/userhub/userhub/internal/middleware"
	"github.com/userhub/userhub/internal/models"
	"github.com/userhub/userhub/internal/service"
)

type UserHandler struct {
	service *service.UserService
}

func NewUserHandler(service *service.UserService) *UserHandler {
	return &UserHandler{service: service}
}

func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, users)
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	actorID, _ := middleware.UserIDFrom(r.Context())
	actorRole, _ := middleware.RoleFrom(r.Context())

	user, err := h.service.GetUser(r.Context(), actorID, actorRole, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	actorID, _ := middleware.UserIDFrom(r.Context())
	actorRole, _ := middleware.RoleFrom(r.Context())

	user, err := h.service.UpdateUser(r.Context(), actorID, actorRole, r.PathValue("id"), &req, getClientIP(r), r.Header.Get("User-Agent"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	actorID, _ := middleware.UserIDFrom(r.Context())
	actorRole, _ := middleware.RoleFrom(r.Context())

	if err := h.service.DeleteUser(r.Context(), actorID, actorRole, r.PathValue("id"), getClientIP(r), r.Header.Get("User-Agent")); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "user deleted"})
}

func (h *UserHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	var req models.ChangeRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	actorID, _ := middleware.UserIDFrom(r.Context())

	user, err := h.service.ChangeRole(r.Context(), actorID, r.PathValue("id"), req.Role, getClientIP(r), r.Header.Get("User-Agent"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// ResetUserPassword sets a new password on behalf of the target user.
func (h *UserHandler) ResetUserPassword(w http.ResponseWriter, r *http.Request) {
	var req models.SetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(req.Password) < 8 {
		writeValidationError(w, map[string]string{"password": "password must be at least 8 characters"})
		return
	}

	actorID, _ := middleware.UserIDFrom(r.Context())

	if err := h.service.ResetUserPassword(r.Context(), actorID, r.PathValue("id"), req.Password, getClientIP(r), r.Header.Get("User-Agent")); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "password updated"})
}

func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFrom(r.Context())

	user, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID, _ := middleware.UserIDFrom(r.Context())

	user, err := h.service.UpdateProfile(r.Context(), userID, &req, getClientIP(r), r.Header.Get("User-Agent"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) ListActivity(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, err := h.service.ListActivity(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if entries == nil {
		entries = []*models.ActivityEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
