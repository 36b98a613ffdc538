package identity

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type userRecord struct {
	ID           string `gorm:"primaryKey"`
	Username     string `gorm:"not null;uniqueIndex"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
}

func (userRecord) TableName() string { return "users" }

type refreshTokenRecord struct {
	TokenID   string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;index"`
	TokenHash string    `gorm:"not null;uniqueIndex"`
	ExpiresAt time.Time `gorm:"not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}

func (refreshTokenRecord) TableName() string { return "refresh_tokens" }

// GormRepository stores users in any gorm dialect. task-api uses it with
// SQLite.
type GormRepository struct {
	DB  *gorm.DB
	Now func() time.Time
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{
		DB:  db,
		Now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *GormRepository) EnsureSchema(ctx context.Context) error {
	return r.DB.WithContext(ctx).AutoMigrate(&userRecord{}, &refreshTokenRecord{})
}

func (r *GormRepository) CreateUser(ctx context.Context, user User) error {
	var count int64
	err := r.DB.WithContext(ctx).Model(&userRecord{}).Where("username = ?", user.Username).Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrUsernameTaken
	}
	err = r.DB.WithContext(ctx).Create(&userRecord{
		ID:           user.ID,
		Username:     user.Username,
		PasswordHash: user.PasswordHash,
	}).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrUsernameTaken
	}
	return err
}

func (r *GormRepository) FindUserByUsername(ctx context.Context, username string) (User, error) {
	return r.findUser(ctx, "username = ?", username)
}

func (r *GormRepository) FindUserByID(ctx context.Context, userID string) (User, error) {
	return r.findUser(ctx, "id = ?", userID)
}

func (r *GormRepository) findUser(ctx context.Context, query string, arg string) (User, error) {
	var rec userRecord
	if err := r.DB.WithContext(ctx).Where(query, arg).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return User{ID: rec.ID, Username: rec.Username, PasswordHash: rec.PasswordHash}, nil
}

func (r *GormRepository) CreateRefreshToken(ctx context.Context, token RefreshToken) error {
	return r.DB.WithContext(ctx).Create(&refreshTokenRecord{
		TokenID:   token.TokenID,
		UserID:    token.UserID,
		TokenHash: token.TokenHash,
		ExpiresAt: token.ExpiresAt,
	}).Error
}

func (r *GormRepository) FindRefreshTokenByHash(ctx context.Context, tokenHash string) (RefreshToken, error) {
	var rec refreshTokenRecord
	err := r.DB.WithContext(ctx).
		Where("token_hash = ? AND revoked_at IS NULL AND expires_at > ?", tokenHash, r.Now()).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RefreshToken{}, ErrNotFound
		}
		return RefreshToken{}, err
	}
	return RefreshToken{
		TokenID:   rec.TokenID,
		UserID:    rec.UserID,
		TokenHash: rec.TokenHash,
		ExpiresAt: rec.ExpiresAt,
		RevokedAt: rec.RevokedAt,
	}, nil
}

func (r *GormRepository) RevokeRefreshToken(ctx context.Context, tokenID string) error {
	return r.DB.WithContext(ctx).
		Model(&refreshTokenRecord{}).
		Where("token_id = ?", tokenID).
		Update("revoked_at", r.Now()).Error
}
