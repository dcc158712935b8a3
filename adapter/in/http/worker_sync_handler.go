package http

import (
	"context"
	"sync"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/in"
	"mailsort_server/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// SyncHandler triggers ingestion runs and connection removal.
type SyncHandler struct {
	svc  in.SyncService
	base context.Context // outlives requests; cancelled on shutdown
	log  zerolog.Logger
	wg   sync.WaitGroup
}

func NewSyncHandler(base context.Context, svc in.SyncService, log zerolog.Logger) *SyncHandler {
	return &SyncHandler{
		svc:  svc,
		base: base,
		log:  log.With().Str("handler", "sync").Logger(),
	}
}

func (h *SyncHandler) Register(router fiber.Router, limiter fiber.Handler) {
	router.Post("/sync/:provider/bulk", limiter, h.BulkSync)
	router.Post("/sync/:provider/incremental", limiter, h.IncrementalSync)
	router.Delete("/connections/:provider", h.Disconnect)
}

// BulkSync runs in the background unless ?wait=true.
func (h *SyncHandler) BulkSync(c *fiber.Ctx) error {
	return h.trigger(c, domain.SyncModeBulk, h.svc.BulkSync)
}

func (h *SyncHandler) IncrementalSync(c *fiber.Ctx) error {
	return h.trigger(c, domain.SyncModeIncremental, h.svc.IncrementalSync)
}

type syncFunc func(ctx context.Context, userID string, provider domain.Provider) (*domain.SyncReport, error)

func (h *SyncHandler) trigger(c *fiber.Ctx, mode string, run syncFunc) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	provider, err := parseProvider(c)
	if err != nil {
		return err
	}

	if c.QueryBool("wait", false) {
		report, err := run(c.UserContext(), userID, provider)
		if err != nil {
			return err
		}
		return response.OK(c, report)
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if _, err := run(h.base, userID, provider); err != nil {
			h.log.Error().Err(err).
				Str("user_id", userID).
				Str("provider", string(provider)).
				Str("mode", mode).
				Msg("background sync failed")
		}
	}()

	return response.Accepted(c, fiber.Map{
		"provider": provider,
		"mode":     mode,
		"status":   "started",
	})
}

func (h *SyncHandler) Disconnect(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	provider, err := parseProvider(c)
	if err != nil {
		return err
	}

	purged, err := h.svc.Disconnect(c.UserContext(), userID, provider)
	if err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"provider": provider, "purged": purged})
}

// Wait blocks until background syncs return (they observe base cancellation).
func (h *SyncHandler) Wait() {
	h.wg.Wait()
}
