package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoDBStore implements UserStore for MongoDB.
// Numeric identities come from a findAndModify counter document, so they are
// assigned exactly once even under concurrent creates.
type MongoDBStore struct {
	users    *mongo.Collection
	counters *mongo.Collection
}

// NewMongoDBStore creates a MongoDB user store with a unique sparse index on
// the key field.
func NewMongoDBStore(ctx context.Context, database *mongo.Database) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}

	users := database.Collection("users")

	_, err := users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true).SetSparse(true),
	})
	if err != nil {
		// The index may already exist
		slog.Warn("failed to create users key index", "error", err)
	}

	return &MongoDBStore{
		users:    users,
		counters: database.Collection("counters"),
	}, nil
}

// FindByKey returns the record for an access key, or ErrNotFound.
func (s *MongoDBStore) FindByKey(ctx context.Context, key string) (*User, error) {
	var u User
	err := s.users.FindOne(ctx, bson.M{"key": key}).Decode(&u)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &u, nil
}

// Create inserts a new record with the next identity from the counter.
func (s *MongoDBStore) Create(ctx context.Context, u *User) (*User, error) {
	id, err := s.nextIdentity(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := *u
	out.Identity = id
	out.CreatedAt = now
	out.UpdatedAt = now

	doc := bson.M{
		"identity":          out.Identity,
		"tokens_used":       out.TokensUsed,
		"tokens_authorized": out.TokensAuthorized,
		"created_at":        out.CreatedAt,
		"updated_at":        out.UpdatedAt,
	}
	if out.Key != "" {
		doc["key"] = out.Key
	}

	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return &out, nil
}

// SetKey persists the derived key onto a record that has none yet.
func (s *MongoDBStore) SetKey(ctx context.Context, identity int64, key string) error {
	res, err := s.users.UpdateOne(ctx,
		bson.M{"identity": identity, "key": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"key": key, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("failed to set user key: %w", err)
	}
	if res.MatchedCount == 0 {
		n, err := s.users.CountDocuments(ctx, bson.M{"identity": identity})
		if err != nil {
			return fmt.Errorf("failed to check user: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
	}
	return nil
}

// AddUsage atomically increments the used-token counter via $inc and returns
// the updated record.
func (s *MongoDBStore) AddUsage(ctx context.Context, key string, tokens int64) (*User, error) {
	var u User
	err := s.users.FindOneAndUpdate(ctx,
		bson.M{"key": key},
		bson.M{
			"$inc": bson.M{"tokens_used": tokens},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&u)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to add usage: %w", err)
	}
	return &u, nil
}

// Close is a no-op; the client is managed by the storage layer.
func (s *MongoDBStore) Close() error {
	return nil
}

// nextIdentity increments and returns the users sequence counter.
func (s *MongoDBStore) nextIdentity(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": "users"},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to advance identity counter: %w", err)
	}
	return counter.Seq, nil
}
