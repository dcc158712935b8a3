package bootstrap

import (
	"context"
	"time"

	"mailsort_server/adapter/in/worker"
	"mailsort_server/adapter/out/messaging"
	"mailsort_server/pkg/logger"

	"github.com/rs/zerolog"
)

// Worker drives background work: the refine:trigger consumer and the
// scheduled incremental sync.
type Worker struct {
	deps      *Dependencies
	consumer  *messaging.Consumer
	scheduler *worker.SyncScheduler
	zlog      zerolog.Logger
}

func NewWorker(deps *Dependencies) (*Worker, error) {
	cfg := deps.Config
	w := &Worker{
		deps: deps,
		zlog: logger.Component("worker"),
	}

	if cfg.SchedulerEnabled {
		scheduler, err := worker.NewSyncScheduler(cfg.SyncCron, deps.Connections, deps.SyncService, logger.Component("sync_scheduler"))
		if err != nil {
			return nil, err
		}
		w.scheduler = scheduler
	}

	// Redis Stream Consumer 설정 (Redis가 있을 때만)
	if deps.Redis != nil {
		w.consumer = messaging.NewConsumer(deps.Redis, &messaging.ConsumerConfig{
			Group:    cfg.ConsumerGroup,
			Consumer: cfg.WorkerID,
			Streams:  []string{messaging.StreamRefineTrigger},
			Handler:  worker.NewRefineTriggerHandler(deps.Refinement, logger.Component("refine_trigger")),
			Logger:   logger.Component("consumer"),
			Block:    time.Duration(cfg.ConsumerBlockMS) * time.Millisecond,
		})
		logger.Info("Redis Stream Consumer configured (group: %s, consumer: %s)", cfg.ConsumerGroup, cfg.WorkerID)
	} else {
		logger.Warn("Redis not available, refinement runs only for in-process triggers")
	}

	return w, nil
}

// Run blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	if w.scheduler != nil {
		w.scheduler.Start()
	}

	if w.consumer != nil {
		w.zlog.Info().Msg("starting refine trigger consumer")
		return w.consumer.Run(ctx)
	}

	<-ctx.Done()
	return nil
}

// Stop waits for an in-flight scheduled pass.
func (w *Worker) Stop(ctx context.Context) error {
	if w.scheduler == nil {
		return nil
	}
	return w.scheduler.Stop(ctx)
}
