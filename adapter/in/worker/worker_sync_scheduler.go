// Package worker holds the background drivers of the worker process:
// the scheduled sync and the refinement trigger consumer.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/in"
	"mailsort_server/core/port/out"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// =============================================================================
// SyncScheduler - 주기적 증분 동기화
// =============================================================================

// SyncScheduler runs IncrementalSync for every stored connection on a cron
// schedule. A tick that fires while the previous run is still going is skipped.
type SyncScheduler struct {
	cron        *cron.Cron
	spec        string
	connections out.ConnectionRepository
	sync        in.SyncService
	perRun      time.Duration
	log         zerolog.Logger

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSyncScheduler validates spec (standard 5-field cron).
func NewSyncScheduler(spec string, connections out.ConnectionRepository, svc in.SyncService, log zerolog.Logger) (*SyncScheduler, error) {
	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))

	ctx, cancel := context.WithCancel(context.Background())
	s := &SyncScheduler{
		cron:        c,
		spec:        spec,
		connections: connections,
		sync:        svc,
		perRun:      30 * time.Minute,
		log:         log.With().Str("component", "sync_scheduler").Logger(),
		ctx:         ctx,
		cancel:      cancel,
	}

	if _, err := c.AddFunc(spec, s.tick); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return s, nil
}

func (s *SyncScheduler) Start() {
	s.cron.Start()
	s.log.Info().Str("schedule", s.spec).Msg("sync scheduler started")
}

// Stop cancels a running pass and waits for it or ctx.
func (s *SyncScheduler) Stop(ctx context.Context) error {
	cronCtx := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Msg("sync scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SyncScheduler) tick() {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Debug().Msg("previous sync pass still running, skipping tick")
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	defer s.running.Store(false)

	ctx, cancel := context.WithTimeout(s.ctx, s.perRun)
	defer cancel()
	s.RunOnce(ctx)
}

// RunOnce syncs every connected account once and returns the number of
// connections whose sync succeeded.
func (s *SyncScheduler) RunOnce(ctx context.Context) int {
	conns, err := s.connections.ListConnected(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list connections")
		return 0
	}

	ok := 0
	for _, conn := range conns {
		if ctx.Err() != nil {
			break
		}
		if !conn.IsConnected {
			continue
		}
		if s.syncOne(ctx, conn) {
			ok++
		}
	}

	s.log.Info().Int("connections", len(conns)).Int("synced", ok).Msg("scheduled sync pass finished")
	return ok
}

func (s *SyncScheduler) syncOne(ctx context.Context, conn *domain.Connection) bool {
	start := time.Now()
	report, err := s.sync.IncrementalSync(ctx, conn.UserID, conn.Provider)
	if err != nil {
		s.log.Warn().Err(err).
			Str("user_id", conn.UserID).
			Str("provider", string(conn.Provider)).
			Msg("scheduled sync failed")
		return false
	}

	s.log.Debug().
		Str("user_id", conn.UserID).
		Str("mode", report.Mode).
		Int("fetched", report.Fetched).
		Int("failed", report.Failed).
		Dur("took", time.Since(start)).
		Msg("scheduled sync done")
	return true
}
