// Package ingest pulls a user's mailbox from a provider into the message store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/in"
	"mailsort_server/core/port/out"
	"mailsort_server/core/service/classification"
	"mailsort_server/pkg/apperr"
	"mailsort_server/pkg/metrics"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// Classify modes.
const (
	ModeInline = "inline"
	ModeQueue  = "queue"
)

// Config holds ingestion settings.
type Config struct {
	PageSize        int    // default 500
	FetchWorkers    int    // default 8
	ClassifyMode    string // inline | queue
	RefineAfterSync bool
}

// Service implements in.SyncService.
type Service struct {
	providers   map[domain.Provider]out.MailProvider
	connections out.ConnectionRepository
	checkpoints out.SyncCheckpointRepository
	messages    out.MessageRepository
	classifier  *classification.Classifier
	labels      *classification.LabelWriter
	queue       out.RefinementQueue // optional
	events      out.EventPublisher
	cfg         Config
	log         zerolog.Logger

	running sync.Map // "user|provider" -> struct{}
}

var _ in.SyncService = (*Service)(nil)

// NewService creates the ingestion service. queue may be nil.
func NewService(
	providers []out.MailProvider,
	connections out.ConnectionRepository,
	checkpoints out.SyncCheckpointRepository,
	messages out.MessageRepository,
	guard out.LabelGuard,
	classifier *classification.Classifier,
	queue out.RefinementQueue,
	events out.EventPublisher,
	cfg Config,
	log zerolog.Logger,
) *Service {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	if cfg.FetchWorkers <= 0 {
		cfg.FetchWorkers = 8
	}
	if cfg.ClassifyMode == "" {
		cfg.ClassifyMode = ModeInline
	}
	if events == nil {
		events = out.NopPublisher{}
	}

	byName := make(map[domain.Provider]out.MailProvider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}

	var labels *classification.LabelWriter
	if classifier != nil {
		labels = classification.NewLabelWriter(messages, guard, classifier)
	}

	return &Service{
		providers:   byName,
		connections: connections,
		checkpoints: checkpoints,
		messages:    messages,
		classifier:  classifier,
		labels:      labels,
		queue:       queue,
		events:      events,
		cfg:         cfg,
		log:         log.With().Str("component", "ingest").Logger(),
	}
}

type session struct {
	userID   string
	provider out.MailProvider
	token    *oauth2.Token
}

func (s *Service) open(ctx context.Context, userID string, provider domain.Provider) (*session, func(), error) {
	p, ok := s.providers[provider]
	if !ok {
		return nil, nil, apperr.BadRequest(fmt.Sprintf("unsupported provider: %s", provider))
	}

	conn, err := s.connections.Get(ctx, userID, provider)
	if err != nil {
		if errors.Is(err, out.ErrNotFound) {
			return nil, nil, apperr.NotFound("connection")
		}
		return nil, nil, apperr.DatabaseError("get connection", err)
	}

	key := userID + "|" + string(provider)
	if _, busy := s.running.LoadOrStore(key, struct{}{}); busy {
		return nil, nil, apperr.Conflict("sync already running for this provider")
	}
	return &session{userID: userID, provider: p, token: conn.Token()}, func() { s.running.Delete(key) }, nil
}

// =============================================================================
// Bulk Sync
// =============================================================================

func (s *Service) BulkSync(ctx context.Context, userID string, provider domain.Provider) (*domain.SyncReport, error) {
	sess, done, err := s.open(ctx, userID, provider)
	if err != nil {
		return nil, err
	}
	defer done()
	return s.bulk(ctx, sess)
}

func (s *Service) bulk(ctx context.Context, sess *session) (*domain.SyncReport, error) {
	start := time.Now()
	provider := sess.provider.Name()
	report := &domain.SyncReport{UserID: sess.userID, Provider: provider, Mode: domain.SyncModeBulk}

	cp, err := s.checkpoints.Get(ctx, sess.userID, provider)
	if err != nil {
		return nil, apperr.DatabaseError("get checkpoint", err)
	}

	var cursor, marker string
	synced := 0
	if cp.HasCursor() {
		cursor, marker, synced = cp.Cursor, cp.Marker, cp.SyncedCount
		s.log.Info().Str("user_id", sess.userID).Int("synced", synced).Msg("resuming bulk sync")
	}
	if marker == "" {
		// 목록 조회 전에 마커를 잡아야 백필 기간의 변경도 증분 동기화에 포함된다
		if marker, err = sess.provider.CurrentMarker(ctx, sess.token); err != nil {
			s.log.Warn().Err(err).Str("user_id", sess.userID).Msg("failed to capture change marker")
			marker = ""
		}
	}

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		res, err := sess.provider.ListMessageIDs(ctx, sess.token, cursor, s.cfg.PageSize)
		if err != nil {
			return report, s.fail(ctx, sess, report, fmt.Errorf("list messages: %w", err))
		}

		report.Total += len(res.IDs)
		if err := s.ingest(ctx, sess, res.IDs, report); err != nil {
			return report, s.fail(ctx, sess, report, err)
		}

		synced += len(res.IDs)
		cursor = res.NextCursor
		if cursor != "" {
			if err := s.checkpoints.SaveCursor(ctx, sess.userID, provider, cursor, marker, synced); err != nil {
				s.log.Warn().Err(err).Str("user_id", sess.userID).Msg("failed to save cursor")
			}
		}

		s.events.Publish(ctx, domain.NewEvent(sess.userID, domain.EventSyncProgress, &domain.SyncProgressData{
			Provider: provider,
			Mode:     report.Mode,
			Page:     page,
			Total:    report.Total,
			Fetched:  report.Fetched,
			Skipped:  report.Skipped,
			Failed:   report.Failed,
		}))

		if cursor == "" {
			break
		}
	}

	if err := s.checkpoints.SaveMarker(ctx, sess.userID, provider, marker, "completed"); err != nil {
		s.log.Warn().Err(err).Str("user_id", sess.userID).Msg("failed to save marker")
	}
	return s.complete(ctx, report, start), nil
}

// =============================================================================
// Incremental Sync
// =============================================================================

func (s *Service) IncrementalSync(ctx context.Context, userID string, provider domain.Provider) (*domain.SyncReport, error) {
	sess, done, err := s.open(ctx, userID, provider)
	if err != nil {
		return nil, err
	}
	defer done()

	cp, err := s.checkpoints.Get(ctx, userID, provider)
	if err != nil {
		return nil, apperr.DatabaseError("get checkpoint", err)
	}
	if !cp.CanIncremental() {
		s.log.Info().Str("user_id", userID).Msg("no change marker, running bulk sync")
		return s.bulk(ctx, sess)
	}

	start := time.Now()
	changes, err := sess.provider.ListChanges(ctx, sess.token, cp.Marker)
	if out.IsSyncRequired(err) {
		s.log.Info().Str("user_id", userID).Msg("change marker expired, running bulk sync")
		return s.bulk(ctx, sess)
	}
	report := &domain.SyncReport{UserID: userID, Provider: provider, Mode: domain.SyncModeIncremental}
	if err != nil {
		return report, s.fail(ctx, sess, report, fmt.Errorf("list changes: %w", err))
	}

	if len(changes.DeletedIDs) > 0 {
		n, err := s.messages.DeleteByProviderIDs(ctx, userID, provider, changes.DeletedIDs)
		if err != nil {
			return report, s.fail(ctx, sess, report, fmt.Errorf("delete removed messages: %w", err))
		}
		report.Deleted = int(n)
	}

	report.Total = len(changes.AddedIDs)
	for i := 0; i < len(changes.AddedIDs); i += s.cfg.PageSize {
		end := min(i+s.cfg.PageSize, len(changes.AddedIDs))
		if err := s.ingest(ctx, sess, changes.AddedIDs[i:end], report); err != nil {
			return report, s.fail(ctx, sess, report, err)
		}
	}

	marker := changes.NextMarker
	if marker == "" {
		marker = cp.Marker
	}
	if err := s.checkpoints.SaveMarker(ctx, userID, provider, marker, "completed"); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("failed to save marker")
	}
	return s.complete(ctx, report, start), nil
}

// =============================================================================
// Disconnect
// =============================================================================

// Disconnect removes exactly one provider's data for a user.
func (s *Service) Disconnect(ctx context.Context, userID string, provider domain.Provider) (int64, error) {
	if !provider.Valid() {
		return 0, apperr.BadRequest(fmt.Sprintf("unsupported provider: %s", provider))
	}

	purged, err := s.messages.DeleteByProvider(ctx, userID, provider)
	if err != nil {
		return 0, apperr.DatabaseError("purge messages", err)
	}
	if err := s.checkpoints.Delete(ctx, userID, provider); err != nil {
		return purged, apperr.DatabaseError("delete checkpoint", err)
	}
	if err := s.connections.Delete(ctx, userID, provider); err != nil {
		return purged, apperr.DatabaseError("delete connection", err)
	}

	s.log.Info().Str("user_id", userID).Str("provider", string(provider)).Int64("purged", purged).Msg("provider disconnected")
	s.events.Publish(ctx, domain.NewEvent(userID, domain.EventConnectionDisconnected, &domain.DisconnectedData{
		Provider: provider,
		Purged:   purged,
	}))
	return purged, nil
}

// =============================================================================
// Fetch
// =============================================================================

// ingest skips settled ids and fetches the rest through a worker group.
// Per-message failures are counted, never returned.
func (s *Service) ingest(ctx context.Context, sess *session, ids []string, report *domain.SyncReport) error {
	if len(ids) == 0 {
		return nil
	}
	provider := sess.provider.Name()

	settled, err := s.messages.FindSettled(ctx, sess.userID, provider, ids)
	if err != nil {
		return fmt.Errorf("check existing messages: %w", err)
	}

	todo := make([]string, 0, len(ids))
	for _, id := range ids {
		if settled[id] {
			report.Skipped++
			continue
		}
		todo = append(todo, id)
	}
	metrics.IngestMessages.WithLabelValues(report.Mode, "skipped").Add(float64(len(ids) - len(todo)))
	if len(todo) == 0 {
		return nil
	}

	var fetched, failed int64
	worker := &fetchWorker{svc: s, sess: sess, fetched: &fetched, failed: &failed}
	workers := min(s.cfg.FetchWorkers, len(todo))
	group := pool.New[string](workers, worker).WithContinueOnError()
	if err := group.Go(ctx); err != nil {
		return fmt.Errorf("start fetch workers: %w", err)
	}
	for _, id := range todo {
		group.Submit(id)
	}
	if err := group.Close(ctx); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	report.Fetched += int(atomic.LoadInt64(&fetched))
	report.Failed += int(atomic.LoadInt64(&failed))
	return nil
}

// fetchWorker implements pool.Worker for one provider message id.
type fetchWorker struct {
	svc     *Service
	sess    *session
	fetched *int64
	failed  *int64
}

func (w *fetchWorker) Do(ctx context.Context, id string) error {
	if err := w.svc.fetchOne(ctx, w.sess, id); err != nil {
		atomic.AddInt64(w.failed, 1)
		metrics.IngestMessages.WithLabelValues("fetch", "failed").Inc()
		w.svc.log.Warn().Err(err).Str("user_id", w.sess.userID).Str("message_id", id).Msg("message ingest failed")
		return nil
	}
	atomic.AddInt64(w.fetched, 1)
	metrics.IngestMessages.WithLabelValues("fetch", "fetched").Inc()
	return nil
}

func (s *Service) fetchOne(ctx context.Context, sess *session, id string) error {
	pm, err := sess.provider.GetMessage(ctx, sess.token, id)
	if err != nil {
		return fmt.Errorf("get message: %w", err)
	}

	msg := Normalize(sess.userID, sess.provider.Name(), pm)
	inline := s.cfg.ClassifyMode == ModeInline && s.classifier != nil
	if inline {
		c, err := s.classifier.Classify(ctx, sess.userID, classification.InputFromMessage(msg))
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", sess.userID).Msg("classified with fallback")
		}
		msg.ApplyClassification(c)
	}

	inserted, err := s.messages.Upsert(ctx, msg)
	if err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	if inline && inserted {
		// the category may have been renamed or deleted since Classify
		if err := s.labels.Settle(ctx, msg); err != nil {
			s.log.Warn().Err(err).Str("user_id", sess.userID).Str("message_id", msg.ID).Msg("failed to settle label")
		}
	}
	return nil
}

// =============================================================================
// Completion
// =============================================================================

func (s *Service) complete(ctx context.Context, report *domain.SyncReport, start time.Time) *domain.SyncReport {
	report.Duration = time.Since(start)

	s.log.Info().
		Str("user_id", report.UserID).
		Str("mode", report.Mode).
		Int("total", report.Total).
		Int("fetched", report.Fetched).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("sync completed")
	s.events.Publish(ctx, domain.NewEvent(report.UserID, domain.EventSyncCompleted, report))

	if s.queue != nil && report.Fetched > 0 && (s.cfg.ClassifyMode == ModeQueue || s.cfg.RefineAfterSync) {
		if err := s.queue.EnqueueRefinement(ctx, report.UserID, "sync"); err != nil {
			s.log.Warn().Err(err).Str("user_id", report.UserID).Msg("failed to enqueue refinement")
		}
	}
	return report
}

func (s *Service) fail(ctx context.Context, sess *session, report *domain.SyncReport, err error) error {
	s.log.Error().Err(err).Str("user_id", sess.userID).Str("mode", report.Mode).Msg("sync failed")
	s.events.Publish(ctx, domain.NewEvent(sess.userID, domain.EventSyncFailed, &domain.SyncFailedData{
		Provider: sess.provider.Name(),
		Mode:     report.Mode,
		Error:    err.Error(),
	}))
	var pe *out.ProviderError
	switch {
	case apperr.IsAppError(err):
		return err
	case errors.As(err, &pe):
		return apperr.ExternalError(string(sess.provider.Name()), err)
	default:
		return apperr.InternalWithError(err)
	}
}
