package tokens

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

const issuer = "userhub"

// AccessClaims is the self-contained assertion carried by an access token.
// It is never stored server-side; signature and expiry decide its validity.
type AccessClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// RefreshClaims is the signed half of a refresh token. The other half of its
// validity is membership in the refresh token store; signature alone is never
// sufficient.
type RefreshClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

type Vault struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	resetTTL      time.Duration
}

func NewVault(accessSecret, refreshSecret string) *Vault {
	return &Vault{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     15 * time.Minute,
		refreshTTL:    7 * 24 * time.Hour,
		resetTTL:      10 * time.Minute,
	}
}

func (v *Vault) AccessTTL() time.Duration  { return v.accessTTL }
func (v *Vault) RefreshTTL() time.Duration { return v.refreshTTL }
func (v *Vault) ResetTTL() time.Duration   { return v.resetTTL }

// SignAccess mints a short-lived access token. It fails only on signing
// infrastructure problems, never on business state.
func (v *Vault) SignAccess(userID, role string) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(v.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.accessSecret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// SignRefresh mints a long-lived refresh token carrying a fresh jti. The
// caller must record the token in the store before handing it out.
func (v *Vault) SignRefresh(userID string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}

	now := time.Now()
	claims := RefreshClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id.String(),
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(v.refreshTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.refreshSecret)
	if err != nil {
		return "", fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, nil
}

// ParseAccess verifies signature and expiry of an access token. All failure
// modes collapse into ErrInvalidToken; callers never learn the cause.
func (v *Vault) ParseAccess(tokenString string) (*AccessClaims, error) {
	return parseClaims(tokenString, v.accessSecret, &AccessClaims{})
}

// ParseRefresh verifies signature and expiry of a refresh token. Passing this
// check is necessary but not sufficient: membership in the refresh token
// store decides whether the token is still honored.
func (v *Vault) ParseRefresh(tokenString string) (*RefreshClaims, error) {
	return parseClaims(tokenString, v.refreshSecret, &RefreshClaims{})
}

func parseClaims[C jwt.Claims](tokenString string, secret []byte, claims C) (C, error) {
	var zero C
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil {
		return zero, ErrInvalidToken
	}

	parsed, ok := token.Claims.(C)
	if !ok || !token.Valid {
		return zero, ErrInvalidToken
	}
	return parsed, nil
}

// Digest returns the hex SHA-256 of a token string. Stores index refresh
// tokens and reset tickets by digest so a leaked table is not a credential
// dump, and the exact-match lookup doubles as a constant-time comparison.
func Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NewResetTicket generates a high-entropy, single-use password reset ticket.
// The plaintext is returned exactly once; only its digest may be stored.
func NewResetTicket() (plaintext, digest string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate reset ticket: %w", err)
	}
	plaintext = base64.RawURLEncoding.EncodeToString(b)
	return plaintext, Digest(plaintext), nil
}
