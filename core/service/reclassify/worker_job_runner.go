package reclassify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/out"
	"mailsort_server/core/service/classification"
	"mailsort_server/pkg/metrics"

	"github.com/rs/zerolog"
)

// run drives one job to a terminal state. ctx only signals cancellation;
// store and classifier calls of a batch in flight are never interrupted.
func (o *Orchestrator) run(ctx context.Context, job *domain.ReclassifyJob) {
	bg := context.Background()
	log := o.log.With().Str("user_id", job.UserID).Str("job_id", job.ID).Logger()

	// 새 패턴이 바로 반영되도록 캐시부터 비운다
	o.classifier.Cache().Invalidate(bg, job.UserID)

	if err := job.Start(o.now()); err != nil {
		log.Error().Err(err).Msg("job could not start")
		return
	}
	if !o.save(bg, job, log) {
		return
	}

	snap, filter, err := o.setup(bg, job)
	if err != nil {
		o.fail(bg, job, err.Error(), log)
		return
	}

	before, err := o.messages.CountByLabel(bg, job.UserID)
	if err != nil {
		o.fail(bg, job, fmt.Sprintf("failed to count labels: %v", err), log)
		return
	}

	total, err := o.messages.Count(bg, filter)
	if err != nil {
		o.fail(bg, job, fmt.Sprintf("failed to count messages: %v", err), log)
		return
	}
	job.SetTotal(total)
	if !o.save(bg, job, log) {
		return
	}

	cursor := ""
	for job.Remaining() > 0 {
		if ctx.Err() != nil {
			o.fail(bg, job, context.Cause(ctx).Error(), log)
			return
		}
		if job.CancelRequested {
			break
		}

		// 배치마다 최신 분류 체계로 다시 읽는다 (작업 중 rename/delete 반영)
		if fresh, err := o.classifier.Cache().Get(bg, job.UserID); err == nil {
			snap = fresh
		} else {
			log.Warn().Err(err).Msg("failed to reload categories, keeping previous snapshot")
		}

		limit := int(min(int64(job.BatchSize), job.Remaining()))
		batch, err := o.messages.ListBatch(bg, filter, cursor, limit)
		if err != nil {
			o.fail(bg, job, fmt.Sprintf("failed to read batch: %v", err), log)
			return
		}
		if len(batch) == 0 {
			break
		}
		cursor = batch[len(batch)-1].ID

		var successful, failed, changed int64
		for _, m := range batch {
			moved, err := o.reclassifyOne(bg, &snap, m)
			if err != nil {
				failed++
				metrics.ReclassifyItems.WithLabelValues("failed").Inc()
				log.Warn().Err(err).Str("message_id", m.ID).Msg("reclassification item failed")
				continue
			}
			successful++
			if moved {
				changed++
				metrics.ReclassifyItems.WithLabelValues("changed").Inc()
			} else {
				metrics.ReclassifyItems.WithLabelValues("unchanged").Inc()
			}
		}

		job.RecordBatch(successful, failed, changed)
		if !o.save(bg, job, log) {
			return
		}
		o.events.Publish(bg, domain.NewEvent(job.UserID, domain.EventReclassifyProgress, domain.NewReclassifyProgress(job)))
	}
	if job.CancelRequested {
		o.fail(bg, job, errCancelled.Error(), log)
		return
	}

	after, err := o.messages.CountByLabel(bg, job.UserID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to count labels after job")
		after = before
	}

	if err := job.Complete(o.now(), labelDeltas(before, after)); err != nil {
		log.Error().Err(err).Msg("job could not complete")
		return
	}
	if !o.save(bg, job, log) {
		return
	}
	metrics.ReclassifyJobs.WithLabelValues(string(domain.JobCompleted)).Inc()
	o.events.Publish(bg, domain.NewEvent(job.UserID, domain.EventReclassifyCompleted, summary(job)))

	log.Info().
		Int64("processed", job.Processed).
		Int64("successful", job.Successful).
		Int64("failed", job.Failed).
		Int64("changed", job.Changed).
		Msg("reclassification job completed")
}

// setup loads the taxonomy and resolves the job scope. Errors here fail the job.
func (o *Orchestrator) setup(ctx context.Context, job *domain.ReclassifyJob) (*classification.CategorySnapshot, *domain.MessageFilter, error) {
	snap, err := o.classifier.Cache().Get(ctx, job.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load categories: %w", err)
	}

	filter := &domain.MessageFilter{UserID: job.UserID}
	if job.Scope.All {
		return snap, filter, nil
	}

	label := job.Scope.Label
	if !strings.EqualFold(label, o.classifier.FallbackCategory()) {
		c, err := o.categories.GetByName(ctx, job.UserID, label)
		if errors.Is(err, out.ErrNotFound) {
			return nil, nil, fmt.Errorf("category %q not found", label)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load category %q: %w", label, err)
		}
		label = c.Name
	} else {
		label = o.classifier.FallbackCategory()
	}
	filter.Label = label
	return snap, filter, nil
}

// reclassifyOne writes a new label only when it differs from the stored one.
// When the target category was renamed or deleted after *snap was loaded,
// the snapshot is reloaded and the item classified once more.
func (o *Orchestrator) reclassifyOne(ctx context.Context, snap **classification.CategorySnapshot, m *domain.Message) (bool, error) {
	for attempt := 0; ; attempt++ {
		next := o.classifier.ClassifyWith(ctx, *snap, classification.InputFromMessage(m))
		if next.Label == m.Label {
			return false, nil
		}

		ok, err := o.labels.Write(ctx, m.UserID, m.ID, &domain.ClassificationUpdate{
			ExpectedLabel:  m.Label,
			Label:          next.Label,
			PreviousLabel:  m.Label,
			Classification: next,
		})
		if errors.Is(err, out.ErrLabelGone) && attempt == 0 {
			fresh, rerr := o.labels.Refresh(ctx, m.UserID)
			if rerr != nil {
				return false, fmt.Errorf("failed to reload categories: %w", rerr)
			}
			*snap = fresh
			continue
		}
		if err != nil {
			return false, fmt.Errorf("failed to update message: %w", err)
		}
		return ok, nil
	}
}

// save persists job and reports whether the runner may go on. It returns
// false when the stored job was already finished elsewhere. A cancellation
// request is copied onto job for the loop to act on.
func (o *Orchestrator) save(ctx context.Context, job *domain.ReclassifyJob, log zerolog.Logger) bool {
	requested, err := o.jobs.Update(ctx, job)
	switch {
	case errors.Is(err, out.ErrJobFinished):
		log.Info().Msg("job finished elsewhere, stopping")
		return false
	case err != nil:
		log.Warn().Err(err).Msg("failed to save job progress")
	}
	job.CancelRequested = job.CancelRequested || requested
	return true
}

func (o *Orchestrator) fail(ctx context.Context, job *domain.ReclassifyJob, reason string, log zerolog.Logger) {
	if err := job.Fail(o.now(), reason); err != nil {
		return
	}
	if !o.save(ctx, job, log) {
		return
	}
	metrics.ReclassifyJobs.WithLabelValues(string(domain.JobFailed)).Inc()
	o.events.Publish(ctx, domain.NewEvent(job.UserID, domain.EventReclassifyFailed, summary(job)))

	if reason == errCancelled.Error() {
		log.Info().Int64("processed", job.Processed).Msg("reclassification job cancelled")
		return
	}
	log.Error().Str("reason", reason).Int64("processed", job.Processed).Msg("reclassification job failed")
}

func summary(job *domain.ReclassifyJob) *domain.ReclassifySummaryData {
	return &domain.ReclassifySummaryData{
		JobID:          job.ID,
		Status:         job.Status,
		Processed:      job.Processed,
		Successful:     job.Successful,
		Failed:         job.Failed,
		Changed:        job.Changed,
		CategoryDeltas: job.CategoryDeltas,
		Error:          job.Error,
	}
}

// labelDeltas returns after-before per label, omitting unchanged labels.
func labelDeltas(before, after map[string]int64) map[string]int64 {
	deltas := make(map[string]int64)
	for label, n := range after {
		if d := n - before[label]; d != 0 {
			deltas[label] = d
		}
	}
	for label, n := range before {
		if _, ok := after[label]; !ok && n != 0 {
			deltas[label] = -n
		}
	}
	return deltas
}
