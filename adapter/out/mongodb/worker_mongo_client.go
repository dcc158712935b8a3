// Package mongodb implements MongoDB adapters for the application.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// NewClient creates a new MongoDB client.
func NewClient(url string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(url).
		SetMaxPoolSize(100).
		SetMinPoolSize(10).
		SetMaxConnIdleTime(30 * time.Second)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client, nil
}

// Stores groups the document stores backed by one database.
type Stores struct {
	Messages   *MessageAdapter
	Categories *CategoryAdapter
	Jobs       *JobAdapter
}

// NewStores creates the adapters and their indexes.
func NewStores(ctx context.Context, client *mongo.Client, database string) (*Stores, error) {
	db := client.Database(database)
	s := &Stores{
		Messages:   NewMessageAdapter(db),
		Categories: NewCategoryAdapter(client, db),
		Jobs:       NewJobAdapter(db),
	}

	for name, ensure := range map[string]func(context.Context) error{
		collectionMessages:   s.Messages.EnsureIndexes,
		collectionCategories: s.Categories.EnsureIndexes,
		collectionJobs:       s.Jobs.EnsureIndexes,
	} {
		if err := ensure(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure %s indexes: %w", name, err)
		}
	}
	return s, nil
}
