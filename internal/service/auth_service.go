package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/userhub/userhub/internal/audit"
	"github.com/userhub/userhub/internal/mailer"
	"github.com/userhub/userhub/internal/metrics"
	"github.com/userhub/userhub/internal/models"
	"github.com/userhub/userhub/internal/repository"
	"github.com/userhub/userhub/pkg/tokens"
)

var (
	// ErrInvalidCredentials covers unknown identity and wrong password
	// alike; the two must be indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRefreshInvalid covers missing, revoked, expired and
	// signature-invalid refresh tokens uniformly.
	ErrRefreshInvalid = errors.New("refresh token invalid or revoked")
	// ErrResetInvalid covers unknown and expired reset tickets uniformly.
	ErrResetInvalid = errors.New("reset ticket invalid or expired")
	ErrEmailTaken   = errors.New("email already registered")
)

type AuthService struct {
	repo         repository.Repository
	vault        *tokens.Vault
	auditLog     *audit.Logger
	mail         mailer.Mailer
	resetBaseURL string
}

func NewAuthService(repo repository.Repository, vault *tokens.Vault, auditLog *audit.Logger, mail mailer.Mailer, resetBaseURL string) *AuthService {
	return &AuthService{
		repo:         repo,
		vault:        vault,
		auditLog:     auditLog,
		mail:         mail,
		resetBaseURL: resetBaseURL,
	}
}

func (s *AuthService) Signup(ctx context.Context, req *models.SignupRequest, ipAddress, userAgent string) (*models.User, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	userID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate user id: %w", err)
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           userID.String(),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: string(hashedPassword),
		Role:         models.RoleStandard,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	s.auditLog.Log(ctx, user.ID, models.ActionSignup, models.ResultSuccess, "", ipAddress, userAgent, map[string]any{
		"email": user.Email,
	})

	return user, nil
}

// Login verifies the presented secret and, on success, issues a fresh
// access+refresh pair. bcrypt's comparison is constant-time, and the unknown-
// identity path runs the same comparison against a dummy hash so lookup
// misses are not observable through timing either.
func (s *AuthService) Login(ctx context.Context, req *models.LoginRequest, ipAddress, userAgent string) (*models.TokenPairResponse, error) {
	user, err := s.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			bcrypt.CompareHashAndPassword(dummyHash, []byte(req.Password))
			s.auditLog.Log(ctx, "", models.ActionLogin, models.ResultFailure, "unknown email", ipAddress, userAgent, nil)
			metrics.LoginAttempts.WithLabelValues("failure").Inc()
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.auditLog.Log(ctx, user.ID, models.ActionLogin, models.ResultFailure, "wrong password", ipAddress, userAgent, nil)
		metrics.LoginAttempts.WithLabelValues("failure").Inc()
		return nil, ErrInvalidCredentials
	}

	pair, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return nil, err
	}

	s.auditLog.Log(ctx, user.ID, models.ActionLogin, models.ResultSuccess, "", ipAddress, userAgent, nil)
	metrics.LoginAttempts.WithLabelValues("success").Inc()

	return pair, nil
}

// dummyHash keeps the unknown-identity login path on the same bcrypt cost
// as a real comparison.
var dummyHash = func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("userhub-timing-equalizer"), bcrypt.DefaultCost)
	return h
}()

// issueTokenPair mints the pair and durably records the refresh token
// before anything is returned. A failed record fails the whole operation:
// no unregistered refresh token ever reaches a caller.
func (s *AuthService) issueTokenPair(ctx context.Context, user *models.User) (*models.TokenPairResponse, error) {
	accessToken, err := s.vault.SignAccess(user.ID, string(user.Role))
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.vault.SignRefresh(user.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := &models.RefreshToken{
		TokenHash: tokens.Digest(refreshToken),
		UserID:    user.ID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.vault.RefreshTTL()),
	}

	if err := s.repo.CreateRefreshToken(ctx, rec); err != nil {
		return nil, fmt.Errorf("record refresh token: %w", err)
	}

	return &models.TokenPairResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(s.vault.AccessTTL().Seconds()),
		TokenType:    "Bearer",
	}, nil
}

// Refresh exchanges a refresh token for a new pair. Validity is the
// conjunction of signature/expiry and store membership: a store purge
// revokes instantly, however much signed lifetime the token has left.
// Rotation claims the record atomically, so concurrent presentations of
// the same token fund at most one exchange; any failure after the claim
// leaves the token consumed rather than duplicated.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*models.TokenPairResponse, error) {
	claims, err := s.vault.ParseRefresh(refreshToken)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		return nil, ErrRefreshInvalid
	}

	rec, err := s.repo.ClaimRefreshToken(ctx, tokens.Digest(refreshToken))
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			metrics.TokenRefreshes.WithLabelValues("failure").Inc()
			return nil, ErrRefreshInvalid
		}
		return nil, err
	}

	if rec.Expired(time.Now()) {
		// Lazy expiry: the claim already removed the record.
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		return nil, ErrRefreshInvalid
	}

	user, err := s.repo.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			metrics.TokenRefreshes.WithLabelValues("failure").Inc()
			return nil, ErrRefreshInvalid
		}
		return nil, err
	}

	pair, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return nil, err
	}

	s.auditLog.Log(ctx, user.ID, models.ActionRefresh, models.ResultSuccess, "", "", "", nil)
	metrics.TokenRefreshes.WithLabelValues("success").Inc()

	return pair, nil
}

// Logout revokes the presented refresh token. Revoking an already-absent
// token is not an error. With everywhere set, every session of the owning
// user is revoked.
func (s *AuthService) Logout(ctx context.Context, refreshToken string, everywhere bool, ipAddress, userAgent string) error {
	userID := ""
	if claims, err := s.vault.ParseRefresh(refreshToken); err == nil {
		userID = claims.UserID
	}

	if everywhere && userID != "" {
		if err := s.repo.DeleteRefreshTokensByUser(ctx, userID); err != nil {
			return err
		}
	} else {
		if err := s.repo.DeleteRefreshToken(ctx, tokens.Digest(refreshToken)); err != nil {
			return err
		}
	}

	s.auditLog.Log(ctx, userID, models.ActionLogout, models.ResultSuccess, "", ipAddress, userAgent, nil)
	return nil
}

// ForgotPassword issues a reset ticket when the email is registered. The
// caller gets the same outcome either way; whether an address exists is
// never revealed here.
func (s *AuthService) ForgotPassword(ctx context.Context, email, ipAddress, userAgent string) error {
	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.auditLog.Log(ctx, "", models.ActionForgotPassword, models.ResultFailure, "unknown email", ipAddress, userAgent, nil)
			return nil
		}
		return err
	}

	plaintext, digest, err := tokens.NewResetTicket()
	if err != nil {
		return err
	}

	expiresAt := time.Now().UTC().Add(s.vault.ResetTTL())
	if err := s.repo.SetResetToken(ctx, user.ID, digest, expiresAt); err != nil {
		return err
	}

	if err := s.mail.SendPasswordReset(ctx, user.Email, mailer.ResetURL(s.resetBaseURL, plaintext)); err != nil {
		return fmt.Errorf("send reset mail: %w", err)
	}

	s.auditLog.Log(ctx, user.ID, models.ActionForgotPassword, models.ResultSuccess, "", ipAddress, userAgent, nil)
	metrics.ResetTicketsIssued.Inc()

	return nil
}

// ResetPassword redeems a reset ticket. The repository performs the match,
// password swap and ticket clear as one atomic step, so a ticket is consumed
// exactly once even under concurrent redemption.
func (s *AuthService) ResetPassword(ctx context.Context, ticket, newPassword, ipAddress, userAgent string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	ok, err := s.repo.RedeemResetToken(ctx, tokens.Digest(ticket), string(hashedPassword))
	if err != nil {
		return err
	}

	if !ok {
		s.auditLog.Log(ctx, "", models.ActionResetPassword, models.ResultFailure, "", ipAddress, userAgent, nil)
		metrics.ResetTicketsRedeemed.WithLabelValues("failure").Inc()
		return ErrResetInvalid
	}

	s.auditLog.Log(ctx, "", models.ActionResetPassword, models.ResultSuccess, "", ipAddress, userAgent, nil)
	metrics.ResetTicketsRedeemed.WithLabelValues("success").Inc()

	return nil
}
