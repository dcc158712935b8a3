// Package reclassify runs trackable batch re-classification jobs.
package reclassify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/in"
	"mailsort_server/core/port/out"
	"mailsort_server/core/service/classification"
	"mailsort_server/pkg/apperr"
	"mailsort_server/pkg/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	minBatchSize = 50
	maxBatchSize = 100

	// A job not saved for this long is taken as orphaned by a dead instance.
	orphanAfter = 30 * time.Minute
)

var (
	errCancelled = errors.New("cancelled")
	errShutdown  = errors.New("interrupted by shutdown")
)

// Config holds job settings.
type Config struct {
	BatchSize int // clamped to 50..100
}

// Orchestrator implements in.ReclassifyService.
type Orchestrator struct {
	jobs       out.JobRepository
	categories out.CategoryRepository
	messages   out.MessageRepository
	classifier *classification.Classifier
	labels     *classification.LabelWriter
	events     out.EventPublisher
	batchSize  int
	log        zerolog.Logger
	now        func() time.Time

	mu      sync.Mutex
	running map[string]context.CancelCauseFunc // job id -> cancel
	wg      sync.WaitGroup
}

var _ in.ReclassifyService = (*Orchestrator)(nil)

func NewOrchestrator(
	jobs out.JobRepository,
	categories out.CategoryRepository,
	messages out.MessageRepository,
	classifier *classification.Classifier,
	events out.EventPublisher,
	cfg Config,
	log zerolog.Logger,
) *Orchestrator {
	if events == nil {
		events = out.NopPublisher{}
	}
	return &Orchestrator{
		jobs:       jobs,
		categories: categories,
		messages:   messages,
		classifier: classifier,
		labels:     classification.NewLabelWriter(messages, categories, classifier),
		events:     events,
		batchSize:  min(max(cfg.BatchSize, minBatchSize), maxBatchSize),
		log:        log.With().Str("component", "reclassify").Logger(),
		now:        time.Now,
		running:    make(map[string]context.CancelCauseFunc),
	}
}

// =============================================================================
// Commands
// =============================================================================

// Start creates a pending job and runs it in the background. A second job
// for the same (user, scope) is rejected while the first is not terminal.
func (o *Orchestrator) Start(ctx context.Context, userID string, scope domain.ReclassifyScope) (*domain.ReclassifyJob, error) {
	scope.Label = strings.TrimSpace(scope.Label)
	if scope.Label == "" {
		scope.All = true
	}

	job := domain.NewReclassifyJob(uuid.NewString(), userID, scope, o.batchSize)
	if err := o.jobs.Create(ctx, job); err != nil {
		if errors.Is(err, out.ErrJobRunning) {
			return nil, apperr.Conflict(fmt.Sprintf("a reclassification job for %s is already running", scope.Key()))
		}
		return nil, apperr.DatabaseError("create job", err)
	}

	runCtx, cancel := context.WithCancelCause(context.Background())
	o.mu.Lock()
	o.running[job.ID] = cancel
	o.mu.Unlock()

	created := *job
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.release(job.ID)
		o.run(runCtx, job)
	}()

	o.log.Info().Str("user_id", userID).Str("job_id", job.ID).Str("scope", scope.Key()).Msg("reclassification job created")
	return &created, nil
}

func (o *Orchestrator) release(jobID string) {
	o.mu.Lock()
	cancel, ok := o.running[jobID]
	delete(o.running, jobID)
	o.mu.Unlock()
	if ok {
		cancel(nil)
	}
}

// Cancel stops a running job after its current batch. The job ends failed.
// A job run by another instance is flagged and stopped by its runner; one
// whose runner stopped saving is failed here directly.
func (o *Orchestrator) Cancel(ctx context.Context, userID, jobID string) error {
	job, err := o.Get(ctx, userID, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return apperr.Conflict("job already finished")
	}

	o.mu.Lock()
	cancel, ok := o.running[jobID]
	o.mu.Unlock()
	if ok {
		cancel(errCancelled)
		return nil
	}

	if o.now().Sub(job.UpdatedAt) < orphanAfter {
		err = o.jobs.RequestCancel(ctx, userID, jobID)
	} else {
		// 소유 인스턴스가 사라진 작업
		if err := job.Fail(o.now(), errCancelled.Error()); err != nil {
			return apperr.Conflict("job already finished")
		}
		if _, err = o.jobs.Update(ctx, job); err == nil {
			metrics.ReclassifyJobs.WithLabelValues(string(domain.JobFailed)).Inc()
		}
	}
	switch {
	case errors.Is(err, out.ErrJobFinished):
		return apperr.Conflict("job already finished")
	case err != nil:
		return apperr.DatabaseError("cancel job", err)
	}
	return nil
}

// Shutdown interrupts every running job and waits for them to record it.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	for _, cancel := range o.running {
		cancel(errShutdown)
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// =============================================================================
// Queries
// =============================================================================

func (o *Orchestrator) Get(ctx context.Context, userID, jobID string) (*domain.ReclassifyJob, error) {
	job, err := o.jobs.GetByID(ctx, userID, jobID)
	if err != nil {
		if errors.Is(err, out.ErrNotFound) {
			return nil, apperr.NotFound("reclassification job")
		}
		return nil, apperr.DatabaseError("get job", err)
	}
	return job, nil
}

func (o *Orchestrator) List(ctx context.Context, userID string, limit int) ([]*domain.ReclassifyJob, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	jobs, err := o.jobs.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, apperr.DatabaseError("list jobs", err)
	}
	return jobs, nil
}
