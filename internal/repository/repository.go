package repository

import (
	"context"
	"errors"
	"time"

	"github.com/userhub/userhub/internal/models"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrUserExists           = errors.New("user already exists")
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
)

type Repository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	ListUsers(ctx context.Context) ([]*models.User, error)
	DeleteUser(ctx context.Context, id string) error

	// SetResetToken stores the digest and expiry of a freshly issued reset
	// ticket, replacing any outstanding one.
	SetResetToken(ctx context.Context, userID, digest string, expiresAt time.Time) error

	// RedeemResetToken atomically swaps the password hash and clears the
	// reset digest/expiry for the user whose stored digest matches and has
	// not expired. Returns false when nothing matched; the caller must not
	// learn whether the digest was unknown or merely expired.
	RedeemResetToken(ctx context.Context, digest, newPasswordHash string) (bool, error)

	CreateRefreshToken(ctx context.Context, rec *models.RefreshToken) error
	GetRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	// ClaimRefreshToken atomically removes and returns the record for the
	// digest. Exactly one of any set of concurrent claimants gets the
	// record; the rest get ErrRefreshTokenNotFound. Rotation goes through
	// here so one record can never fund two exchanges.
	ClaimRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	// DeleteRefreshToken revokes by digest. Idempotent: deleting an absent
	// record is not an error.
	DeleteRefreshToken(ctx context.Context, tokenHash string) error
	// DeleteRefreshTokensByUser revokes every session of one user
	// ("log out everywhere").
	DeleteRefreshTokensByUser(ctx context.Context, userID string) error

	LogActivity(ctx context.Context, entry *models.ActivityEntry) error
	ListActivity(ctx context.Context, limit, offset int) ([]*models.ActivityEntry, error)
}
