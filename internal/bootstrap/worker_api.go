package bootstrap

import (
	"context"
	"errors"
	"strings"
	"time"

	"mailsort_server/adapter/in/http"
	"mailsort_server/adapter/out/messaging"
	"mailsort_server/infra/middleware"
	"mailsort_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/rs/zerolog"
)

// triggerLimit caps sync and reclassification triggers per user.
const (
	triggerLimit  = 10
	triggerWindow = time.Minute
)

// API is the HTTP surface plus the relay that feeds it worker events.
type API struct {
	App   *fiber.App
	sync  *http.SyncHandler
	relay *messaging.EventRelay
	log   zerolog.Logger
}

// NewAPI builds the fiber app. base bounds background syncs started by requests.
func NewAPI(base context.Context, deps *Dependencies) (*API, error) {
	cfg := deps.Config
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),

		// go-json: 표준 encoding/json 대비 2~3배 빠른 JSON 직렬화
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit:          1 * 1024 * 1024,
		ServerHeader:       "",
		DisableDefaultDate: true,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.RequestLogger())

	// AllowCredentials:true requires explicit origins (not "*")
	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := true
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
			allowCredentials = false
		} else {
			allowOrigins = "http://localhost:3000,http://localhost:5173"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID,Retry-After",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	// Health check (no auth required)
	http.NewHealthHandler(deps.HealthChecks()...).Register(app)

	// Development-only endpoints (token minting, connection seeding)
	if cfg.IsDevelopment() {
		RegisterDevRoutes(app, deps)
		logger.Info("Development routes enabled under /dev")
	}

	api := app.Group("/api/v1", middleware.MaxBodySize(512*1024), middleware.JWTAuth(cfg.JWTSecret))
	limiter := middleware.NewUserRateLimiter(triggerLimit, triggerWindow).Handler()

	syncHandler := http.NewSyncHandler(base, deps.SyncService, logger.Component("sync_handler"))
	syncHandler.Register(api, limiter)
	http.NewCategoryHandler(deps.CategoryService).Register(api)
	http.NewReclassifyHandler(deps.Reclassify).Register(api, limiter)
	http.NewRefinementHandler(deps.Refinement).Register(api)
	http.NewSSEHandler(deps.Realtime, logger.Component("sse_handler")).Register(api)

	a := &API{
		App:  app,
		sync: syncHandler,
		log:  logger.Component("api"),
	}

	// 다른 프로세스(워커)가 발행한 이벤트를 로컬 SSE 구독자에게 전달
	if deps.Redis != nil {
		a.relay = messaging.NewEventRelay(deps.Redis, cfg.WorkerID, deps.Realtime, logger.Component("event_relay"))
	}
	return a, nil
}

// Run serves addr until Shutdown is called. The event relay stops with ctx.
func (a *API) Run(ctx context.Context, addr string) error {
	if a.relay != nil {
		go func() {
			if err := a.relay.Run(ctx); err != nil {
				a.log.Error().Err(err).Msg("event relay stopped")
			}
		}()
	}

	a.log.Info().Str("addr", addr).Msg("starting API server")
	return a.App.Listen(addr)
}

// Shutdown stops accepting requests and waits for background syncs.
func (a *API) Shutdown(ctx context.Context) error {
	if err := a.App.ShutdownWithContext(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		a.sync.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
