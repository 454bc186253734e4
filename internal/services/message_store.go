package services

import (
	"context"
	"fmt"
	"time"

	"parley/internal/database"
	"parley/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MessageStore is the persistence boundary for conversation messages and
// synthesized speech payloads.
type MessageStore interface {
	// CreateBatch writes the user message and its replies in one ordered batch.
	CreateBatch(ctx context.Context, messages []models.Message) error
	// ListRecent returns up to limit messages for a conversation, newest first.
	ListRecent(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	// List returns all messages for a conversation in ascending creation order.
	List(ctx context.Context, conversationID string) ([]models.Message, error)
	CreateSpeech(ctx context.Context, speech *models.Speech) error
	GetSpeech(ctx context.Context, id string) (*models.Speech, error)
	// DeleteSpeechesBefore removes speech payloads created before the cutoff.
	DeleteSpeechesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MongoMessageStore implements MessageStore on MongoDB collections.
type MongoMessageStore struct {
	messages *mongo.Collection
	speeches *mongo.Collection
}

// NewMessageStore creates a MongoDB-backed message store
func NewMessageStore(mongoDB *database.MongoDB) *MongoMessageStore {
	return &MongoMessageStore{
		messages: mongoDB.Collection(database.CollectionMessages),
		speeches: mongoDB.Collection(database.CollectionSpeeches),
	}
}

// CreateBatch inserts the messages with a single ordered InsertMany so reply
// messages always follow their triggering user message in creation order.
func (s *MongoMessageStore) CreateBatch(ctx context.Context, messages []models.Message) error {
	if len(messages) == 0 {
		return nil
	}

	docs := make([]interface{}, len(messages))
	for i, m := range messages {
		docs[i] = m
	}

	_, err := s.messages.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	if err != nil {
		return fmt.Errorf("failed to insert message batch: %w", err)
	}
	return nil
}

// ListRecent fetches the newest messages first so the result size stays
// bounded by the limit. Callers that need chronological order reverse it.
func (s *MongoMessageStore) ListRecent(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.messages.Find(ctx, bson.M{"conversationId": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []models.Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return messages, nil
}

// List returns every message of a conversation in ascending creation order
func (s *MongoMessageStore) List(ctx context.Context, conversationID string) ([]models.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})

	cursor, err := s.messages.Find(ctx, bson.M{"conversationId": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []models.Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return messages, nil
}

// CreateSpeech stores a synthesized speech payload
func (s *MongoMessageStore) CreateSpeech(ctx context.Context, speech *models.Speech) error {
	if _, err := s.speeches.InsertOne(ctx, speech); err != nil {
		return fmt.Errorf("failed to insert speech: %w", err)
	}
	return nil
}

// GetSpeech returns a speech record with its audio payload
func (s *MongoMessageStore) GetSpeech(ctx context.Context, id string) (*models.Speech, error) {
	var speech models.Speech
	err := s.speeches.FindOne(ctx, bson.M{"_id": id}).Decode(&speech)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("speech not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query speech: %w", err)
	}
	return &speech, nil
}

// DeleteSpeechesBefore removes speech payloads older than the cutoff
func (s *MongoMessageStore) DeleteSpeechesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.speeches.DeleteMany(ctx, bson.M{"createdAt": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete old speeches: %w", err)
	}
	return result.DeletedCount, nil
}
