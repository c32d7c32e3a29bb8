package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDBStore implements Store using MongoDB.
type MongoDBStore struct {
	client   *mongo.Client
	attempts *mongo.Collection
}

type mongoAttempt struct {
	IdempotencyKey string    `bson:"_id"`
	Invoice        string    `bson:"invoice"`
	Amount         int64     `bson:"amount"`
	Description    string    `bson:"description"`
	Status         string    `bson:"status"`
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

// NewMongoDBStore creates a MongoDB-backed store.
func NewMongoDBStore(connectionString, database, collection string) (*MongoDBStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		// Disconnect error during init cleanup is not actionable.
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	if collection == "" {
		collection = "payment_attempts"
	}

	store := &MongoDBStore{
		client:   client,
		attempts: client.Database(database).Collection(collection),
	}

	// _id is automatically unique; a status index serves ListPending.
	_, err = store.attempts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("create attempt indexes: %w", err)
	}

	return store, nil
}

func (s *MongoDBStore) Put(ctx context.Context, attempt PaymentAttempt) error {
	doc := mongoAttempt{
		IdempotencyKey: attempt.IdempotencyKey,
		Invoice:        attempt.Invoice,
		Amount:         attempt.Amount,
		Description:    attempt.Description,
		Status:         string(attempt.Status),
		CreatedAt:      attempt.CreatedAt,
		UpdatedAt:      attempt.UpdatedAt,
	}

	filter := bson.M{"_id": attempt.IdempotencyKey}
	update := bson.M{"$set": doc}
	opts := options.Update().SetUpsert(true)

	if _, err := s.attempts.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("upsert attempt: %w", err)
	}
	return nil
}

func (s *MongoDBStore) Get(ctx context.Context, key string) (PaymentAttempt, error) {
	var doc mongoAttempt
	err := s.attempts.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return PaymentAttempt{}, ErrNotFound
	}
	if err != nil {
		return PaymentAttempt{}, fmt.Errorf("find attempt: %w", err)
	}
	return doc.toAttempt(), nil
}

func (s *MongoDBStore) Remove(ctx context.Context, key string) error {
	if _, err := s.attempts.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("delete attempt: %w", err)
	}
	return nil
}

func (s *MongoDBStore) ListPending(ctx context.Context) ([]PaymentAttempt, error) {
	filter := bson.M{"status": bson.M{"$in": []string{string(StatusSubmitted), string(StatusPending)}}}
	cursor, err := s.attempts.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find pending attempts: %w", err)
	}
	defer cursor.Close(ctx)

	var out []PaymentAttempt
	for cursor.Next(ctx) {
		var doc mongoAttempt
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode attempt: %w", err)
		}
		out = append(out, doc.toAttempt())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

func (s *MongoDBStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (d mongoAttempt) toAttempt() PaymentAttempt {
	return PaymentAttempt{
		IdempotencyKey: d.IdempotencyKey,
		Invoice:        d.Invoice,
		Amount:         d.Amount,
		Description:    d.Description,
		Status:         Status(d.Status),
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}
