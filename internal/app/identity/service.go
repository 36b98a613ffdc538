package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nuid"
	"github.com/tasktracker/project/internal/platform/auth"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLen    = 8
	defaultRefreshTTL = 30 * 24 * time.Hour
)

var (
	ErrInvalidUsername     = errors.New("username is required")
	ErrInvalidPassword     = errors.New("password must be at least 8 characters")
	ErrUsernameTaken       = errors.New("username is already registered")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrRefreshTokenMissing = errors.New("refresh_token is required")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)

// AuthResponse is returned by every call that opens a session. Token mirrors
// AccessToken for older clients.
type AuthResponse struct {
	Token        string `json:"token"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
}

type Service struct {
	Repo       Repository
	AuthToken  auth.Manager
	NewID      func() string
	RefreshTTL time.Duration
	Now        func() time.Time
}

func NewService(repo Repository, tokenManager auth.Manager, refreshTTL time.Duration) *Service {
	if refreshTTL <= 0 {
		refreshTTL = defaultRefreshTTL
	}
	return &Service{
		Repo:       repo,
		AuthToken:  tokenManager,
		NewID:      nuid.Next,
		RefreshTTL: refreshTTL,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

// credentials holds a username in its stored form alongside the raw password.
type credentials struct {
	username string
	password string
}

func parseCredentials(username, password string) credentials {
	return credentials{
		username: strings.ToLower(strings.TrimSpace(username)),
		password: password,
	}
}

func (c credentials) blankPassword() bool {
	return strings.TrimSpace(c.password) == ""
}

func (c credentials) validate() error {
	switch {
	case c.username == "":
		return ErrInvalidUsername
	case len(strings.TrimSpace(c.password)) < minPasswordLen:
		return ErrInvalidPassword
	}
	return nil
}

func (s *Service) Register(ctx context.Context, username, password string) (AuthResponse, error) {
	creds := parseCredentials(username, password)
	if err := creds.validate(); err != nil {
		return AuthResponse{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.password), bcrypt.DefaultCost)
	if err != nil {
		return AuthResponse{}, err
	}
	user := User{ID: s.NewID(), Username: creds.username, PasswordHash: string(hash)}
	if err := s.Repo.CreateUser(ctx, user); err != nil {
		return AuthResponse{}, err
	}
	return s.openSession(ctx, user)
}

// Login answers ErrInvalidCredentials for an unknown user and for a wrong
// password alike. Store failures pass through unchanged.
func (s *Service) Login(ctx context.Context, username, password string) (AuthResponse, error) {
	creds := parseCredentials(username, password)
	if creds.username == "" || creds.blankPassword() {
		return AuthResponse{}, ErrInvalidCredentials
	}

	user, err := s.Repo.FindUserByUsername(ctx, creds.username)
	switch {
	case errors.Is(err, ErrNotFound):
		return AuthResponse{}, ErrInvalidCredentials
	case err != nil:
		return AuthResponse{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.password)) != nil {
		return AuthResponse{}, ErrInvalidCredentials
	}
	return s.openSession(ctx, user)
}

// Refresh spends the presented refresh token and opens a new session for its
// owner. A spent, expired or orphaned token is ErrInvalidRefreshToken.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (AuthResponse, error) {
	stored, err := s.activeToken(ctx, refreshToken)
	if err != nil {
		return AuthResponse{}, err
	}
	if err := s.Repo.RevokeRefreshToken(ctx, stored.TokenID); err != nil {
		return AuthResponse{}, err
	}

	user, err := s.Repo.FindUserByID(ctx, stored.UserID)
	if errors.Is(err, ErrNotFound) {
		return AuthResponse{}, ErrInvalidRefreshToken
	}
	if err != nil {
		return AuthResponse{}, err
	}
	return s.openSession(ctx, user)
}

// Logout revokes a refresh token. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	stored, err := s.activeToken(ctx, refreshToken)
	if errors.Is(err, ErrInvalidRefreshToken) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.Repo.RevokeRefreshToken(ctx, stored.TokenID)
}

// Verify resolves a bearer access token to its claims. It does not touch the
// store, so a deleted user's token stays valid until it expires.
func (s *Service) Verify(token string) (auth.Claims, error) {
	return s.AuthToken.Parse(token)
}

// activeToken looks up an unrevoked refresh token that is still live by the
// service clock.
func (s *Service) activeToken(ctx context.Context, raw string) (RefreshToken, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return RefreshToken{}, ErrRefreshTokenMissing
	}
	stored, err := s.Repo.FindRefreshTokenByHash(ctx, hashRefreshToken(raw))
	if errors.Is(err, ErrNotFound) {
		return RefreshToken{}, ErrInvalidRefreshToken
	}
	if err != nil {
		return RefreshToken{}, err
	}
	if stored.RevokedAt != nil || !stored.ExpiresAt.After(s.Now()) {
		return RefreshToken{}, ErrInvalidRefreshToken
	}
	return stored, nil
}

func (s *Service) openSession(ctx context.Context, user User) (AuthResponse, error) {
	access, err := s.AuthToken.Sign(user.ID, user.Username)
	if err != nil {
		return AuthResponse{}, err
	}

	raw, stored := s.mintRefreshToken(user.ID)
	if err := s.Repo.CreateRefreshToken(ctx, stored); err != nil {
		return AuthResponse{}, err
	}
	return AuthResponse{
		Token:        access,
		AccessToken:  access,
		RefreshToken: raw,
		UserID:       user.ID,
		Username:     user.Username,
	}, nil
}

// mintRefreshToken returns the raw token handed to the client and the record
// that stores only its hash.
func (s *Service) mintRefreshToken(userID string) (string, RefreshToken) {
	raw := strings.Join([]string{s.NewID(), s.NewID()}, ".")
	return raw, RefreshToken{
		TokenID:   s.NewID(),
		UserID:    userID,
		TokenHash: hashRefreshToken(raw),
		ExpiresAt: s.Now().Add(s.RefreshTTL),
	}
}

func hashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
