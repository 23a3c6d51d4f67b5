package repository

import (
	"context"
	"crypto/subtle"
	"sort"
	"sync"
	"time"

	"github.com/userhub/userhub/internal/models"
)

// InMemoryRepository backs the service in tests and in database-less dev
// mode. All methods are safe for concurrent use.
type InMemoryRepository struct {
	mu           sync.RWMutex
	users        map[string]*models.User
	usersByEmail map[string]*models.User
	refresh      map[string]*models.RefreshToken
	activity     []*models.ActivityEntry
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		users:        make(map[string]*models.User),
		usersByEmail: make(map[string]*models.User),
		refresh:      make(map[string]*models.RefreshToken),
	}
}

func copyUser(u *models.User) *models.User {
	c := *u
	if u.ResetTokenHash != nil {
		h := *u.ResetTokenHash
		c.ResetTokenHash = &h
	}
	if u.ResetTokenExpires != nil {
		e := *u.ResetTokenExpires
		c.ResetTokenExpires = &e
	}
	return &c
}

func (r *InMemoryRepository) CreateUser(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.usersByEmail[user.Email]; exists {
		return ErrUserExists
	}

	c := copyUser(user)
	r.users[c.ID] = c
	r.usersByEmail[c.Email] = c
	return nil
}

func (r *InMemoryRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, exists := r.usersByEmail[email]
	if !exists {
		return nil, ErrUserNotFound
	}
	return copyUser(user), nil
}

func (r *InMemoryRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, exists := r.users[id]
	if !exists {
		return nil, ErrUserNotFound
	}
	return copyUser(user), nil
}

func (r *InMemoryRepository) UpdateUser(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.users[user.ID]
	if !exists {
		return ErrUserNotFound
	}

	if other, taken := r.usersByEmail[user.Email]; taken && other.ID != user.ID {
		return ErrUserExists
	}

	delete(r.usersByEmail, existing.Email)

	c := copyUser(user)
	c.UpdatedAt = time.Now().UTC()
	r.users[c.ID] = c
	r.usersByEmail[c.Email] = c
	return nil
}

func (r *InMemoryRepository) ListUsers(ctx context.Context) ([]*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]*models.User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, copyUser(u))
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})
	return users, nil
}

func (r *InMemoryRepository) DeleteUser(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, exists := r.users[id]
	if !exists {
		return ErrUserNotFound
	}

	delete(r.usersByEmail, user.Email)
	delete(r.users, id)
	return nil
}

func (r *InMemoryRepository) SetResetToken(ctx context.Context, userID, digest string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, exists := r.users[userID]
	if !exists {
		return ErrUserNotFound
	}

	user.ResetTokenHash = &digest
	user.ResetTokenExpires = &expiresAt
	return nil
}

func (r *InMemoryRepository) RedeemResetToken(ctx context.Context, digest, newPasswordHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, user := range r.users {
		if user.ResetTokenHash == nil || user.ResetTokenExpires == nil {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(*user.ResetTokenHash), []byte(digest)) != 1 {
			continue
		}
		if now.After(*user.ResetTokenExpires) {
			return false, nil
		}

		// Swap and clear under the same lock: the ticket is consumed
		// exactly once.
		user.PasswordHash = newPasswordHash
		user.ResetTokenHash = nil
		user.ResetTokenExpires = nil
		user.UpdatedAt = now.UTC()
		return true, nil
	}

	return false, nil
}

func (r *InMemoryRepository) CreateRefreshToken(ctx context.Context, rec *models.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *rec
	r.refresh[c.TokenHash] = &c
	return nil
}

func (r *InMemoryRepository) GetRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.refresh[tokenHash]
	if !exists {
		return nil, ErrRefreshTokenNotFound
	}
	c := *rec
	return &c, nil
}

func (r *InMemoryRepository) ClaimRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.refresh[tokenHash]
	if !exists {
		return nil, ErrRefreshTokenNotFound
	}

	// Check and remove under the same lock: only one claimant wins.
	delete(r.refresh, tokenHash)
	c := *rec
	return &c, nil
}

func (r *InMemoryRepository) DeleteRefreshToken(ctx context.Context, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.refresh, tokenHash)
	return nil
}

func (r *InMemoryRepository) DeleteRefreshTokensByUser(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for hash, rec := range r.refresh {
		if rec.UserID == userID {
			delete(r.refresh, hash)
		}
	}
	return nil
}

func (r *InMemoryRepository) LogActivity(ctx context.Context, entry *models.ActivityEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *entry
	r.activity = append(r.activity, &c)
	return nil
}

func (r *InMemoryRepository) ListActivity(ctx context.Context, limit, offset int) ([]*models.ActivityEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Newest first, matching the Postgres ordering.
	n := len(r.activity)
	var entries []*models.ActivityEntry
	for i := n - 1 - offset; i >= 0 && len(entries) < limit; i-- {
		c := *r.activity[i]
		entries = append(entries, &c)
	}
	return entries, nil
}
