package in

import (
	"context"

	"mailsort_server/core/domain"
)

// ReclassifyService runs trackable reclassification jobs.
type ReclassifyService interface {
	// Start creates a pending job and runs it in the background.
	Start(ctx context.Context, userID string, scope domain.ReclassifyScope) (*domain.ReclassifyJob, error)
	Get(ctx context.Context, userID, jobID string) (*domain.ReclassifyJob, error)
	List(ctx context.Context, userID string, limit int) ([]*domain.ReclassifyJob, error)

	// Cancel asks a running job to stop; it ends failed with "cancelled".
	Cancel(ctx context.Context, userID, jobID string) error
}

// RefinementService controls the per-user background refinement workers.
type RefinementService interface {
	Start(userID, reason string) (*RefinementStatus, bool)
	Stop(userID string) bool
	Status(userID string) *RefinementStatus
}

// RefinementStatus is a point-in-time view of a user's worker.
type RefinementStatus struct {
	UserID       string `json:"user_id"`
	Running      bool   `json:"running"`
	Reason       string `json:"reason,omitempty"`
	Processed    int    `json:"processed"`
	Reclassified int    `json:"reclassified"`
	Failed       int    `json:"failed"`
}
