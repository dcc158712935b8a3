package in

import (
	"context"

	"mailsort_server/core/domain"
)

// CategoryService manages a user's category taxonomy.
type CategoryService interface {
	List(ctx context.Context, userID string) ([]*domain.Category, error)
	Get(ctx context.Context, userID, id string) (*domain.Category, error)
	Create(ctx context.Context, userID string, req *CreateCategoryRequest) (*domain.Category, error)
	Update(ctx context.Context, userID, id string, patch *domain.CategoryPatch) (*CategoryUpdateResult, error)
	Delete(ctx context.Context, userID, id string) (int64, error)
}

// CreateCategoryRequest is the create payload.
type CreateCategoryRequest struct {
	Name           string                  `json:"name"`
	Priority       domain.CategoryPriority `json:"priority,omitempty"`
	Domains        []string                `json:"domains,omitempty"`
	SenderPatterns []string                `json:"sender_patterns,omitempty"`
	Keywords       []string                `json:"keywords,omitempty"`
}

// CategoryUpdateResult reports what an update touched.
type CategoryUpdateResult struct {
	Category  *domain.Category      `json:"category"`
	Relabeled int64                 `json:"relabeled"`
	Job       *domain.ReclassifyJob `json:"job,omitempty"`
}
