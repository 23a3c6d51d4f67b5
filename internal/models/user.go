package models

import (
	"strings"
	"time"
)

// Role is the closed set of authorization roles. Parse at the boundary,
// compare canonically everywhere else.
type Role string

const (
	RoleStandard  Role = "standard"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// ParseRole normalizes user input to a canonical Role.
// Unknown values are rejected rather than defaulted.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleStandard:
		return RoleStandard, true
	case RoleModerator:
		return RoleModerator, true
	case RoleAdmin:
		return RoleAdmin, true
	}
	return "", false
}

func (r Role) Valid() bool {
	_, ok := ParseRole(string(r))
	return ok
}

// In reports whether r is one of the allowed roles.
func (r Role) In(allowed ...Role) bool {
	for _, a := range allowed {
		if r == a {
			return true
		}
	}
	return false
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Reset ticket digest and expiry. Only the SHA-256 of the ticket is
	// ever stored; both fields are cleared atomically when the ticket is
	// redeemed.
	ResetTokenHash    *string    `json:"-"`
	ResetTokenExpires *time.Time `json:"-"`
}

// RefreshToken is the durable record behind an outstanding refresh token.
// Presence of a record is the sole proof that the bearer may mint a new
// access token; deletion is revocation. Keyed by the SHA-256 digest of the
// token so the database never holds a usable credential.
type RefreshToken struct {
	TokenHash string    `json:"-"`
	UserID    string    `json:"user_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired checks the record's own lifetime. Expiry is lazy: there is no
// background sweeper, validation consults this at lookup time.
func (rt *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(rt.ExpiresAt)
}
