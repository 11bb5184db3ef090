package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"messenger/models"
)

// MongoUserRepository 基于MongoDB的用户存储
type MongoUserRepository struct {
	coll *mongo.Collection
}

// NewMongoUserRepository 创建用户存储
func NewMongoUserRepository(db *mongo.Database) *MongoUserRepository {
	return &MongoUserRepository{coll: db.Collection(usersCollection)}
}

// activeFilter 默认过滤条件，排除已注销用户
func activeFilter(filter bson.M) bson.M {
	filter["active"] = true
	return filter
}

func (r *MongoUserRepository) Create(ctx context.Context, user *models.User) error {
	if _, err := r.coll.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("create user: %w", ErrDuplicate)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *MongoUserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoUserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *MongoUserRepository) FindByNickname(ctx context.Context, nickname string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"nickname": nickname})
}

func (r *MongoUserRepository) NicknameTaken(ctx context.Context, nickname string) (bool, error) {
	count, err := r.coll.CountDocuments(ctx, bson.M{"nickname": nickname})
	if err != nil {
		return false, fmt.Errorf("count nickname: %w", err)
	}
	return count > 0, nil
}

func (r *MongoUserRepository) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var user models.User
	if err := r.coll.FindOne(ctx, activeFilter(filter)).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &user, nil
}

func (r *MongoUserRepository) ListExcept(ctx context.Context, id string) ([]models.User, error) {
	cursor, err := r.coll.Find(ctx, activeFilter(bson.M{"_id": bson.M{"$ne": id}}))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	users := make([]models.User, 0)
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return users, nil
}

func (r *MongoUserRepository) UpdateAvatar(ctx context.Context, id, avatar string) error {
	return r.update(ctx, id, bson.M{"avatar": avatar})
}

func (r *MongoUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error {
	return r.update(ctx, id, bson.M{"password": passwordHash, "passwordChangedAt": changedAt})
}

func (r *MongoUserRepository) Deactivate(ctx context.Context, id string) error {
	return r.update(ctx, id, bson.M{"active": false})
}

func (r *MongoUserRepository) update(ctx context.Context, id string, fields bson.M) error {
	fields["updatedAt"] = time.Now().UTC()
	result, err := r.coll.UpdateOne(ctx, activeFilter(bson.M{"_id": id}), bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoUserRepository) DeleteAll(ctx context.Context) (int64, error) {
	result, err := r.coll.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("delete users: %w", err)
	}
	return result.DeletedCount, nil
}
