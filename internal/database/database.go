// internal/database/database.go
package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoDB struct {
	Client   *mongo.Client
	Chats    *mongo.Collection
	Messages *mongo.Collection
}

func NewMongoDB(uri string, dbName string) (*MongoDB, error) {
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().ApplyURI(uri).SetServerAPIOptions(serverAPI)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %v", err)
	}

	// Ping the database to verify connection
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %v", err)
	}

	log.Println("Successfully connected to MongoDB!")

	db := client.Database(dbName)
	return &MongoDB{
		Client:   client,
		Chats:    db.Collection("chats"),
		Messages: db.Collection("messages"),
	}, nil
}

// EnsureIndexes creates the indexes the chat core relies on. The unique
// partial index on {listingId, pairKey} is what makes concurrent
// GetOrCreateChat upserts converge on a single document.
func (m *MongoDB) EnsureIndexes(ctx context.Context) error {
	_, err := m.Chats.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "listingId", Value: 1}, {Key: "pairKey", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": "active"}),
		},
		{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "updatedAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create chat indexes: %v", err)
	}

	_, err = m.Messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "chatId", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "chatId", Value: 1}, {Key: "readBy.userId", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create message indexes: %v", err)
	}

	return nil
}

func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}
