package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoDB wraps the MongoDB client and database
type MongoDB struct {
	client   *mongo.Client
	database *mongo.Database
	dbName   string
}

// Collection names
const (
	CollectionMessages = "messages"
	CollectionSpeeches = "speeches"
)

// NewMongoDB creates a new MongoDB connection with connection pooling
func NewMongoDB(uri string) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(30 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping to verify connection
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	dbName := extractDBName(uri)
	if dbName == "" {
		dbName = "parley"
	}

	db := &MongoDB{
		client:   client,
		database: client.Database(dbName),
		dbName:   dbName,
	}

	log.Printf("✅ Connected to MongoDB database: %s", dbName)

	return db, nil
}

// extractDBName extracts the database name from MongoDB URI
// mongodb://localhost:27017/parley?authSource=admin -> parley
func extractDBName(uri string) string {
	lastSlash := -1
	questionMark := -1

	for i, c := range uri {
		if c == '/' {
			lastSlash = i
		}
		if c == '?' && questionMark == -1 {
			questionMark = i
		}
	}

	if lastSlash != -1 {
		start := lastSlash + 1
		end := len(uri)
		if questionMark != -1 && questionMark > lastSlash {
			end = questionMark
		}
		if start < end {
			dbName := uri[start:end]
			if dbName != "" {
				return dbName
			}
		}
	}

	return "parley"
}

// Initialize creates indexes for all collections
func (m *MongoDB) Initialize(ctx context.Context) error {
	log.Println("📦 Initializing MongoDB indexes...")

	if err := m.createIndexes(ctx, CollectionMessages, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversationId", Value: 1}, {Key: "createdAt", Value: -1}}},
	}); err != nil {
		return fmt.Errorf("failed to create messages indexes: %w", err)
	}

	if err := m.createIndexes(ctx, CollectionSpeeches, []mongo.IndexModel{
		{Keys: bson.D{{Key: "sourceId", Value: 1}}},
		{Keys: bson.D{{Key: "createdAt", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("failed to create speeches indexes: %w", err)
	}

	log.Println("✅ MongoDB indexes ready")
	return nil
}

func (m *MongoDB) createIndexes(ctx context.Context, collection string, indexes []mongo.IndexModel) error {
	_, err := m.database.Collection(collection).Indexes().CreateMany(ctx, indexes)
	return err
}

// Database returns the underlying mongo database handle
func (m *MongoDB) Database() *mongo.Database {
	return m.database
}

// Collection returns a handle to the named collection
func (m *MongoDB) Collection(name string) *mongo.Collection {
	return m.database.Collection(name)
}

// Close disconnects the MongoDB client
func (m *MongoDB) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
