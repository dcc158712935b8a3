package refinement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/out"
	"mailsort_server/core/service/classification"
	"mailsort_server/pkg/metrics"
)

// Exit reasons reported in refinement.completed.
const (
	exitExhausted = "exhausted"
	exitStopped   = "stopped"
	exitError     = "error"
)

var errConflict = errors.New("label changed during refinement")

// tally accumulates counters between two summaries.
type tally struct {
	processed         int
	reclassified      int
	confidenceUpdated int
	unchanged         int
	failed            int
	transitions       map[string]int
	since             time.Time
}

func newTally(now time.Time) *tally {
	return &tally{transitions: make(map[string]int), since: now}
}

func (t *tally) record(d Decision, from, to string) {
	t.processed++
	switch d {
	case DecisionOverwrite:
		t.reclassified++
		t.transitions[from+"->"+to]++
	case DecisionConfidence:
		t.confidenceUpdated++
	default:
		t.unchanged++
	}
}

func (t *tally) empty() bool {
	return t.processed == 0 && t.failed == 0
}

func (t *tally) data(final bool, reason string) *domain.RefinementSummaryData {
	d := &domain.RefinementSummaryData{
		Processed:         t.processed,
		Reclassified:      t.reclassified,
		ConfidenceUpdated: t.confidenceUpdated,
		Unchanged:         t.unchanged,
		Failed:            t.failed,
		Since:             t.since,
		Final:             final,
		Reason:            reason,
	}
	if len(t.transitions) > 0 {
		d.Transitions = t.transitions
	}
	return d
}

// run is the worker loop.
func (r *Registry) run(w *worker) {
	defer r.wg.Done()
	defer metrics.RefinementWorkers.Dec()
	defer close(w.done)

	// Items in flight must finish even after Stop, so the loop does not use a
	// cancellable context.
	ctx := context.Background()
	log := r.log.With().Str("user_id", w.userID).Logger()

	if w.prev != nil {
		select {
		case <-w.prev:
		case <-w.stop:
		}
	}

	var exclude []string
	period := newTally(r.now())
	total := newTally(w.startedAt)
	exit := exitStopped

	for {
		if !w.active.Load() {
			exit = exitStopped
			r.finish(w, false)
			break
		}

		batch, err := r.messages.ListForRefinement(ctx, w.userID, exclude, r.cfg.BatchSize)
		if err != nil {
			log.Error().Err(err).Msg("failed to load refinement batch")
			exit = exitError
			r.finish(w, false)
			break
		}
		if len(batch) == 0 {
			if r.finish(w, true) {
				exit = exitExhausted
				break
			}
			continue
		}

		for _, m := range batch {
			d, next, err := r.refineOne(ctx, m)
			if err != nil {
				exclude = append(exclude, m.ID)
				if errors.Is(err, errConflict) {
					log.Debug().Str("message_id", m.ID).Msg("message relabeled concurrently, skipped")
					continue
				}
				period.failed++
				total.failed++
				w.failed.Add(1)
				log.Warn().Err(err).Str("message_id", m.ID).Msg("refinement failed")
				continue
			}

			period.record(d, m.Label, next.Label)
			total.record(d, m.Label, next.Label)
			w.processed.Add(1)
			if d == DecisionOverwrite {
				w.reclassified.Add(1)
			}
			metrics.RefinementDecisions.WithLabelValues(string(d)).Inc()
		}

		if period.reclassified >= r.cfg.SummaryEvery || r.now().Sub(period.since) >= r.cfg.SummaryInterval {
			r.publishSummary(ctx, w.userID, period)
			period = newTally(r.now())
		}

		w.sleep(r.cfg.BatchDelay)
	}

	if !period.empty() {
		r.publishSummary(ctx, w.userID, period)
	}
	r.events.Publish(ctx, domain.NewEvent(w.userID, domain.EventRefinementCompleted, total.data(true, exit)))

	log.Info().
		Str("exit", exit).
		Int("processed", total.processed).
		Int("reclassified", total.reclassified).
		Int("failed", total.failed).
		Msg("refinement worker finished")
}

// sleep waits out the batch delay or until the worker is stopped.
func (w *worker) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-w.stop:
	}
}

func (r *Registry) publishSummary(ctx context.Context, userID string, t *tally) {
	r.events.Publish(ctx, domain.NewEvent(userID, domain.EventRefinementSummary, t.data(false, "")))
}

// refineOne runs comprehensive classification on m and writes the decision.
// A message that never got a label keeps the fallback record when
// classification fails.
func (r *Registry) refineOne(ctx context.Context, m *domain.Message) (Decision, *domain.Classification, error) {
	for attempt := 0; ; attempt++ {
		next, err := r.classifier.Classify(ctx, m.UserID, classification.InputFromMessage(m))
		if err != nil {
			if m.Label == "" && next != nil {
				_, werr := r.labels.Write(ctx, m.UserID, m.ID, &domain.ClassificationUpdate{
					Label:          next.Label,
					Classification: next,
				})
				err = errors.Join(err, werr)
			}
			return "", nil, err
		}

		d := Decide(m.Label, m.Confidence(), next, r.cfg.MinImprovement)
		ok, err := r.labels.Write(ctx, m.UserID, m.ID, update(m, next, d))
		if errors.Is(err, out.ErrLabelGone) {
			if d != DecisionOverwrite || attempt > 0 {
				return "", nil, errConflict
			}
			if _, err := r.labels.Refresh(ctx, m.UserID); err != nil {
				return "", nil, fmt.Errorf("failed to reload categories: %w", err)
			}
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("failed to update message: %w", err)
		}
		if !ok {
			return "", nil, errConflict
		}
		return d, next, nil
	}
}
