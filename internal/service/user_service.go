package service

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/userhub/userhub/internal/audit"
	"github.com/userhub/userhub/internal/models"
	"github.com/userhub/userhub/internal/repository"
)

var (
	ErrForbidden   = errors.New("access denied")
	ErrInvalidRole = errors.New("invalid role")
)

// UserService covers the management surface: listing, inspection, edits,
// deletion and role changes, with admin-or-self authorization decided here
// rather than in each handler.
type UserService struct {
	repo     repository.Repository
	auditLog *audit.Logger
}

func NewUserService(repo repository.Repository, auditLog *audit.Logger) *UserService {
	return &UserService{repo: repo, auditLog: auditLog}
}

func (s *UserService) ListUsers(ctx context.Context) ([]*models.User, error) {
	return s.repo.ListUsers(ctx)
}

// GetUser returns a user record. Admins may read anyone; others only
// themselves.
func (s *UserService) GetUser(ctx context.Context, actorID string, actorRole models.Role, targetID string) (*models.User, error) {
	if actorRole != models.RoleAdmin && actorID != targetID {
		return nil, ErrForbidden
	}
	return s.repo.GetUserByID(ctx, targetID)
}

// UpdateUser edits name/email/avatar. Role changes ride along only for
// admins; anyone else supplying one is rejected outright.
func (s *UserService) UpdateUser(ctx context.Context, actorID string, actorRole models.Role, targetID string, req *models.UpdateUserRequest, ipAddress, userAgent string) (*models.User, error) {
	if actorRole != models.RoleAdmin && actorID != targetID {
		return nil, ErrForbidden
	}

	user, err := s.repo.GetUserByID(ctx, targetID)
	if err != nil {
		return nil, err
	}

	if req.Name != "" {
		user.Name = req.Name
	}
	if req.Email != "" {
		user.Email = req.Email
	}
	if req.AvatarURL != "" {
		user.AvatarURL = req.AvatarURL
	}
	if req.Role != "" {
		if actorRole != models.RoleAdmin {
			return nil, ErrForbidden
		}
		role, ok := models.ParseRole(req.Role)
		if !ok {
			return nil, ErrInvalidRole
		}
		user.Role = role
	}

	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return nil, err
	}

	s.auditLog.Log(ctx, actorID, models.ActionUserUpdate, models.ResultSuccess, "", ipAddress, userAgent, map[string]any{
		"target": targetID,
	})

	return user, nil
}

func (s *UserService) DeleteUser(ctx context.Context, actorID string, actorRole models.Role, targetID, ipAddress, userAgent string) error {
	if actorRole != models.RoleAdmin && actorID != targetID {
		return ErrForbidden
	}

	if err := s.repo.DeleteUser(ctx, targetID); err != nil {
		return err
	}

	// Deleting the account also kills its outstanding sessions.
	if err := s.repo.DeleteRefreshTokensByUser(ctx, targetID); err != nil {
		return err
	}

	s.auditLog.Log(ctx, actorID, models.ActionUserDelete, models.ResultSuccess, "", ipAddress, userAgent, map[string]any{
		"target": targetID,
	})

	return nil
}

// ChangeRole is the admin-only role switch. The role comes in as text and
// leaves as a member of the closed enum or not at all.
func (s *UserService) ChangeRole(ctx context.Context, actorID, targetID, newRole, ipAddress, userAgent string) (*models.User, error) {
	role, ok := models.ParseRole(newRole)
	if !ok {
		return nil, ErrInvalidRole
	}

	user, err := s.repo.GetUserByID(ctx, targetID)
	if err != nil {
		return nil, err
	}

	user.Role = role
	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return nil, err
	}

	s.auditLog.Log(ctx, actorID, models.ActionUserChangeRole, models.ResultSuccess, "", ipAddress, userAgent, map[string]any{
		"target": targetID,
		"role":   string(role),
	})

	return user, nil
}

// ResetUserPassword is the admin-side password override, for accounts whose
// owner cannot run the self-service reset. Every outstanding session of the
// target dies with the old password.
func (s *UserService) ResetUserPassword(ctx context.Context, actorID, targetID, newPassword, ipAddress, userAgent string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	user, err := s.repo.GetUserByID(ctx, targetID)
	if err != nil {
		return err
	}

	user.PasswordHash = string(hashedPassword)
	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return err
	}

	if err := s.repo.DeleteRefreshTokensByUser(ctx, targetID); err != nil {
		return err
	}

	s.auditLog.Log(ctx, actorID, models.ActionUserResetPassword, models.ResultSuccess, "", ipAddress, userAgent, map[string]any{
		"target": targetID,
	})

	return nil
}

func (s *UserService) GetProfile(ctx context.Context, userID string) (*models.User, error) {
	return s.repo.GetUserByID(ctx, userID)
}

func (s *UserService) UpdateProfile(ctx context.Context, userID string, req *models.UpdateProfileRequest, ipAddress, userAgent string) (*models.User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.Name != "" {
		user.Name = req.Name
	}
	if req.AvatarURL != "" {
		user.AvatarURL = req.AvatarURL
	}

	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return nil, err
	}

	s.auditLog.Log(ctx, userID, models.ActionProfileUpdate, models.ResultSuccess, "", ipAddress, userAgent, nil)

	return user, nil
}

func (s *UserService) ListActivity(ctx context.Context, limit, offset int) ([]*models.ActivityEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListActivity(ctx, limit, offset)
}
