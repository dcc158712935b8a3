// Package refinement re-evaluates basic classifications in the background,
// one worker per user.
package refinement

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"mailsort_server/core/port/in"
	"mailsort_server/core/port/out"
	"mailsort_server/core/service/classification"
	"mailsort_server/pkg/metrics"

	"github.com/rs/zerolog"
)

// Config holds worker pacing and policy.
type Config struct {
	BatchSize       int           // default 10
	BatchDelay      time.Duration // pause between batches (REFINE_BATCH_DELAY)
	MinImprovement  float64       // default 0.15
	SummaryEvery    int           // default 50 reclassifications
	SummaryInterval time.Duration // default 1h
}

func (c *Config) setDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = 0
	}
	if c.MinImprovement <= 0 {
		c.MinImprovement = 0.15
	}
	if c.SummaryEvery <= 0 {
		c.SummaryEvery = 50
	}
	if c.SummaryInterval <= 0 {
		c.SummaryInterval = time.Hour
	}
}

// Registry owns the per-user workers. At most one worker runs per user; a
// worker that runs out of work leaves the registry and the next Start
// launches a fresh one.
type Registry struct {
	messages   out.MessageRepository
	labels     *classification.LabelWriter
	classifier *classification.Classifier
	events     out.EventPublisher
	cfg        Config
	log        zerolog.Logger
	now        func() time.Time

	mu      sync.Mutex
	workers map[string]*worker
	wg      sync.WaitGroup
}

var _ in.RefinementService = (*Registry)(nil)

func NewRegistry(
	messages out.MessageRepository,
	guard out.LabelGuard,
	classifier *classification.Classifier,
	events out.EventPublisher,
	cfg Config,
	log zerolog.Logger,
) *Registry {
	cfg.setDefaults()
	if events == nil {
		events = out.NopPublisher{}
	}
	return &Registry{
		messages:   messages,
		labels:     classification.NewLabelWriter(messages, guard, classifier),
		classifier: classifier,
		events:     events,
		cfg:        cfg,
		log:        log.With().Str("component", "refinement").Logger(),
		now:        time.Now,
		workers:    make(map[string]*worker),
	}
}

// worker is the handle of one user's refinement loop.
type worker struct {
	userID    string
	reason    string
	startedAt time.Time

	active   atomic.Bool
	prev     <-chan struct{} // done of a stopped predecessor, if any
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// rerun is set when a trigger arrives while the worker is running;
	// guarded by Registry.mu.
	rerun bool

	processed    atomic.Int64
	reclassified atomic.Int64
	failed       atomic.Int64
}

func (w *worker) halt() {
	w.active.Store(false)
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *worker) status() *in.RefinementStatus {
	return &in.RefinementStatus{
		UserID:       w.userID,
		Running:      w.active.Load(),
		Reason:       w.reason,
		Processed:    int(w.processed.Load()),
		Reclassified: int(w.reclassified.Load()),
		Failed:       int(w.failed.Load()),
	}
}

// Start launches the user's worker. When one is already running it returns
// that worker's status and false; the running worker takes one more pass
// before it exits so the trigger is not lost. A worker that was stopped but
// has not exited yet is replaced by a fresh one, which begins once the old
// loop is done.
func (r *Registry) Start(userID, reason string) (*in.RefinementStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var prev <-chan struct{}
	if w, ok := r.workers[userID]; ok {
		if w.active.Load() {
			w.rerun = true
			return w.status(), false
		}
		// 정지 중인 워커: 끝나는 대로 새 워커가 이어받는다
		prev = w.done
	}

	w := &worker{
		userID:    userID,
		reason:    reason,
		startedAt: r.now(),
		prev:      prev,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	w.active.Store(true)
	r.workers[userID] = w

	r.wg.Add(1)
	metrics.RefinementWorkers.Inc()
	go r.run(w)

	r.log.Info().Str("user_id", userID).Str("reason", reason).Msg("refinement worker started")
	return w.status(), true
}

// Stop clears the worker's active marker. The batch in flight finishes;
// no new batch starts.
func (r *Registry) Stop(userID string) bool {
	r.mu.Lock()
	w, ok := r.workers[userID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	w.halt()
	return true
}

// Status returns the user's worker state. Running is false when idle.
func (r *Registry) Status(userID string) *in.RefinementStatus {
	r.mu.Lock()
	w, ok := r.workers[userID]
	r.mu.Unlock()
	if !ok {
		return &in.RefinementStatus{UserID: userID}
	}
	return w.status()
}

// StopAll halts every worker and waits for them to drain or ctx to end.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	for _, w := range r.workers {
		w.halt()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running returns the number of live workers.
func (r *Registry) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

// finish removes w unless a trigger arrived since its last empty batch.
func (r *Registry) finish(w *worker, exhausted bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if exhausted && w.rerun && w.active.Load() {
		w.rerun = false
		return false
	}
	if r.workers[w.userID] == w {
		delete(r.workers, w.userID)
	}
	return true
}
