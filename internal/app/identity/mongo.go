package identity

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type userDocument struct {
	ID           string    `bson:"_id"`
	Username     string    `bson:"username"`
	PasswordHash string    `bson:"passwordHash"`
	CreatedAt    time.Time `bson:"createdAt"`
}

type refreshTokenDocument struct {
	TokenID   string     `bson:"_id"`
	UserID    string     `bson:"userId"`
	TokenHash string     `bson:"tokenHash"`
	ExpiresAt time.Time  `bson:"expiresAt"`
	RevokedAt *time.Time `bson:"revokedAt,omitempty"`
}

type MongoRepository struct {
	Users         *mongo.Collection
	RefreshTokens *mongo.Collection
	Now           func() time.Time
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		Users:         db.Collection("users"),
		RefreshTokens: db.Collection("refresh_tokens"),
		Now:           func() time.Time { return time.Now().UTC() },
	}
}

func (r *MongoRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.Users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	_, err := r.RefreshTokens.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "tokenHash", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "expiresAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
	})
	return err
}

func (r *MongoRepository) CreateUser(ctx context.Context, user User) error {
	_, err := r.Users.InsertOne(ctx, userDocument{
		ID:           user.ID,
		Username:     user.Username,
		PasswordHash: user.PasswordHash,
		CreatedAt:    r.Now(),
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrUsernameTaken
	}
	return err
}

func (r *MongoRepository) FindUserByUsername(ctx context.Context, username string) (User, error) {
	return r.findUser(ctx, bson.M{"username": username})
}

func (r *MongoRepository) FindUserByID(ctx context.Context, userID string) (User, error) {
	return r.findUser(ctx, bson.M{"_id": userID})
}

func (r *MongoRepository) findUser(ctx context.Context, filter bson.M) (User, error) {
	var doc userDocument
	if err := r.Users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return User{ID: doc.ID, Username: doc.Username, PasswordHash: doc.PasswordHash}, nil
}

func (r *MongoRepository) CreateRefreshToken(ctx context.Context, token RefreshToken) error {
	_, err := r.RefreshTokens.InsertOne(ctx, refreshTokenDocument{
		TokenID:   token.TokenID,
		UserID:    token.UserID,
		TokenHash: token.TokenHash,
		ExpiresAt: token.ExpiresAt,
	})
	return err
}

func (r *MongoRepository) FindRefreshTokenByHash(ctx context.Context, tokenHash string) (RefreshToken, error) {
	var doc refreshTokenDocument
	err := r.RefreshTokens.FindOne(ctx, bson.M{
		"tokenHash": tokenHash,
		"revokedAt": bson.M{"$exists": false},
		"expiresAt": bson.M{"$gt": r.Now()},
	}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return RefreshToken{}, ErrNotFound
		}
		return RefreshToken{}, err
	}
	return RefreshToken{
		TokenID:   doc.TokenID,
		UserID:    doc.UserID,
		TokenHash: doc.TokenHash,
		ExpiresAt: doc.ExpiresAt,
		RevokedAt: doc.RevokedAt,
	}, nil
}

func (r *MongoRepository) RevokeRefreshToken(ctx context.Context, tokenID string) error {
	_, err := r.RefreshTokens.UpdateOne(ctx,
		bson.M{"_id": tokenID},
		bson.M{"$set": bson.M{"revokedAt": r.Now()}},
	)
	return err
}
