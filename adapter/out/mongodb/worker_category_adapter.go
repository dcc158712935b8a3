package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/out"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// =============================================================================
// MongoDB Category Adapter
// =============================================================================

const collectionCategories = "categories"

// CategoryAdapter implements out.CategoryRepository using MongoDB.
// Rename and Delete run in a transaction with the message relabel, which
// needs a replica set deployment.
type CategoryAdapter struct {
	client     *mongo.Client
	collection *mongo.Collection
	messages   *mongo.Collection
}

// NewCategoryAdapter creates a new MongoDB category adapter.
func NewCategoryAdapter(client *mongo.Client, db *mongo.Database) *CategoryAdapter {
	return &CategoryAdapter{
		client:     client,
		collection: db.Collection(collectionCategories),
		messages:   db.Collection(collectionMessages),
	}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *CategoryAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "name", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "active", Value: 1}},
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// =============================================================================
// Reads
// =============================================================================

func (a *CategoryAdapter) List(ctx context.Context, userID string) ([]*domain.Category, error) {
	return a.find(ctx, bson.M{"userId": userID})
}

func (a *CategoryAdapter) ListActive(ctx context.Context, userID string) ([]*domain.Category, error) {
	return a.find(ctx, bson.M{"userId": userID, "active": true})
}

func (a *CategoryAdapter) find(ctx context.Context, filter bson.M) ([]*domain.Category, error) {
	cursor, err := a.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer cursor.Close(ctx)

	var categories []*domain.Category
	if err := cursor.All(ctx, &categories); err != nil {
		return nil, fmt.Errorf("failed to decode categories: %w", err)
	}
	return categories, nil
}

func (a *CategoryAdapter) GetByID(ctx context.Context, userID, id string) (*domain.Category, error) {
	return a.findOne(ctx, bson.M{"_id": id, "userId": userID})
}

func (a *CategoryAdapter) GetByName(ctx context.Context, userID, name string) (*domain.Category, error) {
	return a.findOne(ctx, bson.M{"userId": userID, "name": name})
}

func (a *CategoryAdapter) findOne(ctx context.Context, filter bson.M) (*domain.Category, error) {
	var c domain.Category
	if err := a.collection.FindOne(ctx, filter).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, out.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &c, nil
}

// =============================================================================
// Writes
// =============================================================================

func (a *CategoryAdapter) Create(ctx context.Context, category *domain.Category) error {
	now := time.Now()
	if category.ID == "" {
		category.ID = uuid.NewString()
	}
	category.CreatedAt = now
	category.UpdatedAt = now

	if _, err := a.collection.InsertOne(ctx, category); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return out.ErrDuplicate
		}
		return fmt.Errorf("failed to create category: %w", err)
	}
	return nil
}

func (a *CategoryAdapter) Update(ctx context.Context, category *domain.Category) error {
	category.UpdatedAt = time.Now()
	update := bson.M{"$set": bson.M{
		"priority":       category.Priority,
		"domains":        category.Domains,
		"senderPatterns": category.SenderPatterns,
		"keywords":       category.Keywords,
		"active":         category.Active,
		"trainingStatus": category.TrainingStatus,
		"updatedAt":      category.UpdatedAt,
	}}

	res, err := a.collection.UpdateOne(ctx, bson.M{"_id": category.ID, "userId": category.UserID}, update)
	if err != nil {
		return fmt.Errorf("failed to update category: %w", err)
	}
	if res.MatchedCount == 0 {
		return out.ErrNotFound
	}
	return nil
}

// Rename changes the name and moves every message label in one transaction.
func (a *CategoryAdapter) Rename(ctx context.Context, userID, id, newName string) (int64, error) {
	var relabeled int64
	err := a.withTransaction(ctx, func(sc mongo.SessionContext) error {
		existing, err := a.findOne(sc, bson.M{"_id": id, "userId": userID})
		if err != nil {
			return err
		}
		if existing.Name == newName {
			return nil
		}

		_, err = a.collection.UpdateOne(sc,
			bson.M{"_id": id, "userId": userID},
			bson.M{"$set": bson.M{"name": newName, "updatedAt": time.Now()}})
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return out.ErrDuplicate
			}
			return fmt.Errorf("failed to rename category: %w", err)
		}

		res, err := a.messages.UpdateMany(sc,
			bson.M{"userId": userID, "label": existing.Name},
			bson.M{"$set": bson.M{"label": newName, "classification.label": newName, "updatedAt": time.Now()}})
		if err != nil {
			return fmt.Errorf("failed to relabel messages: %w", err)
		}
		relabeled = res.ModifiedCount

		_, err = a.messages.UpdateMany(sc,
			bson.M{"userId": userID, "previousLabel": existing.Name},
			bson.M{"$set": bson.M{"previousLabel": newName}})
		if err != nil {
			return fmt.Errorf("failed to rename previous labels: %w", err)
		}
		return nil
	})
	return relabeled, err
}

// Delete removes the category and reassigns its messages in one transaction.
func (a *CategoryAdapter) Delete(ctx context.Context, userID, id, reassignTo string) (int64, error) {
	var relabeled int64
	err := a.withTransaction(ctx, func(sc mongo.SessionContext) error {
		existing, err := a.findOne(sc, bson.M{"_id": id, "userId": userID})
		if err != nil {
			return err
		}
		if _, err := a.collection.DeleteOne(sc, bson.M{"_id": id, "userId": userID}); err != nil {
			return fmt.Errorf("failed to delete category: %w", err)
		}
		if reassignTo == "" || reassignTo == existing.Name {
			return nil
		}

		res, err := a.messages.UpdateMany(sc,
			bson.M{"userId": userID, "label": existing.Name},
			bson.M{"$set": bson.M{
				"label":                 reassignTo,
				"previousLabel":         existing.Name,
				"classification.label":  reassignTo,
				"classification.method": domain.MethodFallback,
				"updatedAt":             time.Now(),
			}})
		if err != nil {
			return fmt.Errorf("failed to reassign messages: %w", err)
		}
		relabeled = res.ModifiedCount
		return nil
	})
	return relabeled, err
}

// GuardLabel runs write in a transaction that also bumps a counter on the
// category document. Rename and Delete write the same document, so either
// they commit first and the guard sees the label gone, or they conflict and
// retry after write committed.
func (a *CategoryAdapter) GuardLabel(ctx context.Context, userID, label string, write func(ctx context.Context) error) error {
	return a.withTransaction(ctx, func(sc mongo.SessionContext) error {
		res, err := a.collection.UpdateOne(sc,
			bson.M{"userId": userID, "name": label, "active": true},
			bson.M{"$inc": bson.M{"labelWrites": 1}})
		if err != nil {
			return fmt.Errorf("failed to lock category: %w", err)
		}
		if res.MatchedCount == 0 {
			return out.ErrLabelGone
		}
		return write(sc)
	})
}

func (a *CategoryAdapter) withTransaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := a.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// =============================================================================
// Interface Compliance
// =============================================================================

var _ out.CategoryRepository = (*CategoryAdapter)(nil)
