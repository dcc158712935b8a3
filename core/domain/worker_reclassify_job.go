package domain

import (
	"errors"
	"time"
)

// JobStatus is the reclassification job state.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

var ErrInvalidTransition = errors.New("invalid job state transition")

// ReclassifyScope selects which messages a job re-runs over.
type ReclassifyScope struct {
	All   bool   `json:"all" bson:"all"`
	Label string `json:"label,omitempty" bson:"label,omitempty"`
}

// Key identifies the scope for the one-running-job-per-scope rule.
func (s ReclassifyScope) Key() string {
	if s.All || s.Label == "" {
		return "all"
	}
	return "label:" + s.Label
}

// ReclassifyJob is a trackable batch re-run of classification.
type ReclassifyJob struct {
	ID       string          `json:"id" bson:"_id"`
	UserID   string          `json:"user_id" bson:"userId"`
	Scope    ReclassifyScope `json:"scope" bson:"scope"`
	ScopeKey string          `json:"scope_key" bson:"scopeKey"`
	Status   JobStatus       `json:"status" bson:"status"`

	Total        int64 `json:"total" bson:"total"`
	Processed    int64 `json:"processed" bson:"processed"`
	Successful   int64 `json:"successful" bson:"successful"`
	Failed       int64 `json:"failed" bson:"failed"`
	Changed      int64 `json:"changed" bson:"changed"`
	CurrentBatch int   `json:"current_batch" bson:"currentBatch"`
	TotalBatches int   `json:"total_batches" bson:"totalBatches"`
	BatchSize    int   `json:"batch_size" bson:"batchSize"`

	CategoryDeltas map[string]int64 `json:"category_deltas,omitempty" bson:"categoryDeltas,omitempty"`

	// CancelRequested is set by RequestCancel on another instance and read
	// by the runner between batches. Only the store writes it.
	CancelRequested bool `json:"cancel_requested,omitempty" bson:"cancelRequested,omitempty"`

	CreatedAt   time.Time  `json:"created_at" bson:"createdAt"`
	UpdatedAt   time.Time  `json:"updated_at" bson:"updatedAt"` // set by the store on every write
	StartedAt   *time.Time `json:"started_at,omitempty" bson:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty" bson:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty" bson:"error,omitempty"`
}

// NewReclassifyJob creates a pending job.
func NewReclassifyJob(id, userID string, scope ReclassifyScope, batchSize int) *ReclassifyJob {
	return &ReclassifyJob{
		ID:        id,
		UserID:    userID,
		Scope:     scope,
		ScopeKey:  scope.Key(),
		Status:    JobPending,
		BatchSize: batchSize,
		CreatedAt: time.Now(),
	}
}

// Active reports whether the job still holds its scope.
func (j *ReclassifyJob) Active() bool {
	return !j.Status.Terminal()
}

// Start moves pending -> processing.
func (j *ReclassifyJob) Start(now time.Time) error {
	if j.Status != JobPending {
		return ErrInvalidTransition
	}
	j.Status = JobProcessing
	j.StartedAt = &now
	return nil
}

// SetTotal fixes the target count and derived batch count.
func (j *ReclassifyJob) SetTotal(total int64) {
	if total < 0 {
		total = 0
	}
	j.Total = total
	if j.BatchSize <= 0 {
		j.BatchSize = 100
	}
	j.TotalBatches = int((total + int64(j.BatchSize) - 1) / int64(j.BatchSize))
}

// Remaining is how many items may still be processed without exceeding Total.
func (j *ReclassifyJob) Remaining() int64 {
	return j.Total - j.Processed
}

// RecordBatch adds one batch of outcomes. Counts are clamped so that
// processed never exceeds total and the batch index never exceeds the batch count.
func (j *ReclassifyJob) RecordBatch(successful, failed, changed int64) {
	n := successful + failed
	if n > j.Remaining() {
		over := n - j.Remaining()
		if failed >= over {
			failed -= over
		} else {
			successful -= over - failed
			failed = 0
		}
		n = j.Remaining()
	}
	j.Processed += n
	j.Successful += successful
	j.Failed += failed
	j.Changed += changed
	if j.CurrentBatch < j.TotalBatches {
		j.CurrentBatch++
	}
}

// Complete moves processing -> completed.
func (j *ReclassifyJob) Complete(now time.Time, deltas map[string]int64) error {
	if j.Status != JobProcessing {
		return ErrInvalidTransition
	}
	j.Status = JobCompleted
	j.CategoryDeltas = deltas
	j.CompletedAt = &now
	return nil
}

// Fail moves any non-terminal job to failed.
func (j *ReclassifyJob) Fail(now time.Time, reason string) error {
	if j.Status.Terminal() {
		return ErrInvalidTransition
	}
	j.Status = JobFailed
	j.Error = reason
	j.CompletedAt = &now
	return nil
}

// Progress returns completion in percent.
func (j *ReclassifyJob) Progress() float64 {
	if j.Total == 0 {
		if j.Status == JobCompleted {
			return 100
		}
		return 0
	}
	return float64(j.Processed) / float64(j.Total) * 100
}
