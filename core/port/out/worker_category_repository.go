package out

import (
	"context"

	"mailsort_server/core/domain"
)

// LabelGuard serializes label writes with category renames and deletes.
type LabelGuard interface {
	// GuardLabel runs write while label names an active category of the user.
	// It returns ErrLabelGone without calling write when it does not. write
	// must use the ctx it is given.
	GuardLabel(ctx context.Context, userID, label string, write func(ctx context.Context) error) error
}

// CategoryRepository is the category document store.
type CategoryRepository interface {
	LabelGuard

	List(ctx context.Context, userID string) ([]*domain.Category, error)
	ListActive(ctx context.Context, userID string) ([]*domain.Category, error)
	GetByID(ctx context.Context, userID, id string) (*domain.Category, error)
	GetByName(ctx context.Context, userID, name string) (*domain.Category, error)

	// Create fails with ErrDuplicate when the name is taken for the user.
	Create(ctx context.Context, category *domain.Category) error

	// Update writes everything except the name.
	Update(ctx context.Context, category *domain.Category) error

	// Rename changes the name and relabels every message holding the old name
	// in one atomic step. Returns the number of relabeled messages.
	Rename(ctx context.Context, userID, id, newName string) (int64, error)

	// Delete removes the category and relabels its messages to reassignTo atomically.
	Delete(ctx context.Context, userID, id, reassignTo string) (int64, error)
}

// JobRepository stores reclassification jobs.
type JobRepository interface {
	// Create fails with ErrJobRunning when a non-terminal job exists for (user, scope).
	Create(ctx context.Context, job *domain.ReclassifyJob) error

	// Update saves a job whose stored copy is not terminal yet, and reports
	// whether cancellation was requested for it. A terminal stored job fails
	// with ErrJobFinished and is left as it is.
	Update(ctx context.Context, job *domain.ReclassifyJob) (cancelRequested bool, err error)

	// RequestCancel flags a non-terminal job; the instance running it stops
	// after the current batch. Fails with ErrJobFinished for terminal jobs.
	RequestCancel(ctx context.Context, userID, id string) error

	GetByID(ctx context.Context, userID, id string) (*domain.ReclassifyJob, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.ReclassifyJob, error)
}
