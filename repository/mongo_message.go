package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"messenger/models"
)

var newestFirst = bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}

// MongoMessageRepository 基于MongoDB的消息存储
type MongoMessageRepository struct {
	coll *mongo.Collection
}

// NewMongoMessageRepository 创建消息存储
func NewMongoMessageRepository(db *mongo.Database) *MongoMessageRepository {
	return &MongoMessageRepository{coll: db.Collection(messagesCollection)}
}

func (r *MongoMessageRepository) Create(ctx context.Context, msg *models.Message) error {
	if _, err := r.coll.InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (r *MongoMessageRepository) ListConversation(ctx context.Context, userA, userB string, skip, limit int) ([]models.Message, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"senderId": userA, "receiverId": userB},
		bson.M{"senderId": userB, "receiverId": userA},
	}}
	opts := options.Find().SetSort(newestFirst).SetSkip(int64(skip)).SetLimit(int64(limit))

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	messages := make([]models.Message, 0, limit)
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	normalizeImages(messages)
	return messages, nil
}

func (r *MongoMessageRepository) LastPerPartner(ctx context.Context, userID string) ([]models.Message, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$or": bson.A{
			bson.M{"senderId": userID},
			bson.M{"receiverId": userID},
		}}}},
		{{Key: "$addFields", Value: bson.M{"partnerId": bson.M{
			"$cond": bson.A{bson.M{"$eq": bson.A{"$senderId", userID}}, "$receiverId", "$senderId"},
		}}}},
		{{Key: "$sort", Value: newestFirst}},
		{{Key: "$group", Value: bson.M{"_id": "$partnerId", "last": bson.M{"$first": "$$ROOT"}}}},
		{{Key: "$replaceRoot", Value: bson.M{"newRoot": "$last"}}},
		{{Key: "$project", Value: bson.M{"partnerId": 0}}},
		{{Key: "$sort", Value: newestFirst}},
	}

	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("last messages: %w", err)
	}
	messages := make([]models.Message, 0)
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	normalizeImages(messages)
	return messages, nil
}
