package out

import (
	"context"
	"errors"

	"mailsort_server/core/domain"
)

// Store sentinel errors shared by all repository implementations.
var (
	ErrNotFound   = errors.New("not found")
	ErrDuplicate  = errors.New("duplicate entry")
	ErrJobRunning = errors.New("a job for this scope is already running")

	// ErrJobFinished: the stored job is already completed or failed.
	ErrJobFinished = errors.New("job already finished")

	// ErrLabelGone: the target label no longer names an active category.
	ErrLabelGone = errors.New("label is no longer an active category")
)

// MessageRepository is the message document store.
type MessageRepository interface {
	// Upsert inserts or updates by identity. Provider-sourced fields are always
	// written; label and classification are written on insert only.
	Upsert(ctx context.Context, msg *domain.Message) (inserted bool, err error)

	// GetByID returns a message or ErrNotFound.
	GetByID(ctx context.Context, userID, id string) (*domain.Message, error)

	// FindSettled returns the subset of providerIDs already stored with loaded
	// content or with comprehensive analysis done.
	FindSettled(ctx context.Context, userID string, provider domain.Provider, providerIDs []string) (map[string]bool, error)

	Count(ctx context.Context, filter *domain.MessageFilter) (int64, error)

	// ListBatch returns up to limit messages with id > afterID, ascending by id.
	ListBatch(ctx context.Context, filter *domain.MessageFilter, afterID string, limit int) ([]*domain.Message, error)

	// ListForRefinement returns basic-depth messages not yet refined.
	ListForRefinement(ctx context.Context, userID string, exclude []string, limit int) ([]*domain.Message, error)

	// UpdateClassification applies upd only if the message still has upd.ExpectedLabel.
	UpdateClassification(ctx context.Context, userID, id string, upd *domain.ClassificationUpdate) (bool, error)

	CountByLabel(ctx context.Context, userID string) (map[string]int64, error)

	DeleteByProvider(ctx context.Context, userID string, provider domain.Provider) (int64, error)
	DeleteByProviderIDs(ctx context.Context, userID string, provider domain.Provider, providerIDs []string) (int64, error)
}
