package identity

import (
	"context"
	"sync"
	"time"
)

type MemoryRepository struct {
	mu        sync.RWMutex
	users     map[string]User
	refreshes map[string]RefreshToken
	Now       func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:     map[string]User{},
		refreshes: map[string]RefreshToken{},
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) EnsureSchema(context.Context) error { return nil }

func (r *MemoryRepository) CreateUser(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == user.Username {
			return ErrUsernameTaken
		}
	}
	r.users[user.ID] = user
	return nil
}

func (r *MemoryRepository) FindUserByUsername(_ context.Context, username string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (r *MemoryRepository) FindUserByID(_ context.Context, userID string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (r *MemoryRepository) CreateRefreshToken(_ context.Context, token RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshes[token.TokenID] = token
	return nil
}

func (r *MemoryRepository) FindRefreshTokenByHash(_ context.Context, tokenHash string) (RefreshToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.Now()
	for _, t := range r.refreshes {
		if t.TokenHash == tokenHash && t.RevokedAt == nil && t.ExpiresAt.After(now) {
			return t, nil
		}
	}
	return RefreshToken{}, ErrNotFound
}

func (r *MemoryRepository) RevokeRefreshToken(_ context.Context, tokenID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.refreshes[tokenID]
	if !ok {
		return nil
	}
	now := r.Now()
	t.RevokedAt = &now
	r.refreshes[tokenID] = t
	return nil
}
