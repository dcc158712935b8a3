package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/out"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// =============================================================================
// MongoDB Reclassification Job Adapter
// =============================================================================

const collectionJobs = "reclassify_jobs"

// JobAdapter implements out.JobRepository using MongoDB.
type JobAdapter struct {
	collection *mongo.Collection
}

// NewJobAdapter creates a new MongoDB job adapter.
func NewJobAdapter(db *mongo.Database) *JobAdapter {
	return &JobAdapter{collection: db.Collection(collectionJobs)}
}

// EnsureIndexes creates necessary indexes for the collection. The partial
// unique index allows one pending or processing job per (user, scope).
func (a *JobAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "scopeKey", Value: 1}},
			Options: options.Index().
				SetName("one_active_job_per_scope").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{
					"status": bson.M{"$in": bson.A{domain.JobPending, domain.JobProcessing}},
				}),
		},
		{
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}},
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

func (a *JobAdapter) Create(ctx context.Context, job *domain.ReclassifyJob) error {
	job.UpdatedAt = time.Now()
	if _, err := a.collection.InsertOne(ctx, job); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return out.ErrJobRunning
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// notTerminal matches jobs that may still change.
var notTerminal = bson.M{"$nin": bson.A{domain.JobCompleted, domain.JobFailed}}

// Update sets the runner-owned fields only, so a concurrent RequestCancel is
// never overwritten.
func (a *JobAdapter) Update(ctx context.Context, job *domain.ReclassifyJob) (bool, error) {
	job.UpdatedAt = time.Now()
	set := bson.M{
		"status":         job.Status,
		"total":          job.Total,
		"processed":      job.Processed,
		"successful":     job.Successful,
		"failed":         job.Failed,
		"changed":        job.Changed,
		"currentBatch":   job.CurrentBatch,
		"totalBatches":   job.TotalBatches,
		"categoryDeltas": job.CategoryDeltas,
		"startedAt":      job.StartedAt,
		"completedAt":    job.CompletedAt,
		"error":          job.Error,
		"updatedAt":      job.UpdatedAt,
	}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.Before).
		SetProjection(bson.M{"cancelRequested": 1})

	var before struct {
		CancelRequested bool `bson:"cancelRequested"`
	}
	filter := bson.M{"_id": job.ID, "userId": job.UserID, "status": notTerminal}
	err := a.collection.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&before)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, a.missing(ctx, job.UserID, job.ID)
	}
	if err != nil {
		return false, fmt.Errorf("failed to update job: %w", err)
	}
	job.CancelRequested = before.CancelRequested
	return before.CancelRequested, nil
}

func (a *JobAdapter) RequestCancel(ctx context.Context, userID, id string) error {
	res, err := a.collection.UpdateOne(ctx,
		bson.M{"_id": id, "userId": userID, "status": notTerminal},
		bson.M{"$set": bson.M{"cancelRequested": true}})
	if err != nil {
		return fmt.Errorf("failed to request cancellation: %w", err)
	}
	if res.MatchedCount == 0 {
		return a.missing(ctx, userID, id)
	}
	return nil
}

// missing tells a terminal job from an absent one after a conditional write matched nothing.
func (a *JobAdapter) missing(ctx context.Context, userID, id string) error {
	n, err := a.collection.CountDocuments(ctx, bson.M{"_id": id, "userId": userID}, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("failed to check job existence: %w", err)
	}
	if n == 0 {
		return out.ErrNotFound
	}
	return out.ErrJobFinished
}

func (a *JobAdapter) GetByID(ctx context.Context, userID, id string) (*domain.ReclassifyJob, error) {
	var job domain.ReclassifyJob
	if err := a.collection.FindOne(ctx, bson.M{"_id": id, "userId": userID}).Decode(&job); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, out.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (a *JobAdapter) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.ReclassifyJob, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := a.collection.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var jobs []*domain.ReclassifyJob
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("failed to decode jobs: %w", err)
	}
	return jobs, nil
}

var _ out.JobRepository = (*JobAdapter)(nil)
