package bootstrap

import (
	"context"
	"fmt"

	httpadapter "mailsort_server/adapter/in/http"
	"mailsort_server/adapter/out/memory"
	"mailsort_server/adapter/out/messaging"
	"mailsort_server/adapter/out/mlservice"
	"mailsort_server/adapter/out/mongodb"
	"mailsort_server/adapter/out/persistence"
	"mailsort_server/adapter/out/provider/gmail"
	"mailsort_server/adapter/out/realtime"
	"mailsort_server/config"
	"mailsort_server/core/port/in"
	"mailsort_server/core/port/out"
	"mailsort_server/core/service/category"
	"mailsort_server/core/service/classification"
	"mailsort_server/core/service/ingest"
	"mailsort_server/core/service/reclassify"
	"mailsort_server/core/service/refinement"
	"mailsort_server/infra/database"
	"mailsort_server/pkg/crypto"
	"mailsort_server/pkg/gateway"
	"mailsort_server/pkg/logger"
	"mailsort_server/pkg/metrics"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"
)

// Dependencies is shared by the API and the worker when both run in one process.
type Dependencies struct {
	Config *config.Config
	Log    zerolog.Logger

	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client

	// Repositories
	Messages    out.MessageRepository
	Categories  out.CategoryRepository
	Jobs        out.JobRepository
	Checkpoints out.SyncCheckpointRepository
	Connections out.ConnectionRepository

	// External
	Gateway   *gateway.Gateway
	Providers []out.MailProvider
	MLScorer  out.MLScorer // nil when ML_BACKEND=none

	// Events
	Realtime      *realtime.SSEAdapter
	Events        out.EventPublisher
	EventStream   *messaging.EventStreamPublisher // nil without Redis
	Invalidations *messaging.InvalidationBus      // nil without Redis
	RefineQueue   out.RefinementQueue

	// Services
	CategoryCache   *classification.CategoryCache
	Classifier      *classification.Classifier
	SyncService     *ingest.Service
	CategoryService *category.Service
	Reclassify      *reclassify.Orchestrator
	Refinement      *refinement.Registry
}

// NewDependencies connects the configured stores and builds the services.
// Stores whose URL is empty fall back to in-memory implementations.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{
		Config: cfg,
		Log:    logger.Component("bootstrap"),
	}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	if err := deps.initStores(ctx, &cleanups); err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.initRedis(&cleanups)

	if err := deps.initExternal(); err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.initServices()

	return deps, cleanup, nil
}

// =============================================================================
// Stores
// =============================================================================

func (d *Dependencies) initStores(ctx context.Context, cleanups *[]func()) error {
	cfg := d.Config

	// MongoDB: messages, categories, reclassification jobs
	if cfg.MongoDBURL != "" {
		client, err := mongodb.NewClient(cfg.MongoDBURL)
		if err != nil {
			return err
		}
		d.MongoDB = client
		*cleanups = append(*cleanups, func() { client.Disconnect(context.Background()) })

		stores, err := mongodb.NewStores(ctx, client, cfg.MongoDBName)
		if err != nil {
			return err
		}
		d.Messages = stores.Messages
		d.Categories = stores.Categories
		d.Jobs = stores.Jobs
		logger.Info("MongoDB stores initialized (database: %s)", cfg.MongoDBName)
	} else {
		messages := memory.NewMessageStore()
		d.Messages = messages
		d.Categories = memory.NewCategoryStore(messages)
		d.Jobs = memory.NewJobStore()
		logger.Warn("MONGODB_URL not set, using in-memory message store")
	}

	// PostgreSQL: connections (pgx), checkpoints (sqlx)
	if cfg.DatabaseURL != "" {
		pool, err := database.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		d.DB = pool
		*cleanups = append(*cleanups, pool.Close)

		sqlDB, err := database.NewSQLX(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres via sqlx: %w", err)
		}
		d.SQLDB = sqlDB
		*cleanups = append(*cleanups, func() { sqlDB.Close() })

		if err := database.EnsureSchema(ctx, sqlDB, persistence.CheckpointSchema, persistence.ConnectionSchema); err != nil {
			return err
		}

		var cipher *crypto.TokenCipher
		if cfg.EncryptionKey != "" {
			if cipher, err = crypto.NewTokenCipher([]byte(cfg.EncryptionKey)); err != nil {
				return err
			}
		} else if cfg.IsProduction() {
			return fmt.Errorf("ENCRYPTION_KEY is required in production")
		} else {
			logger.Warn("ENCRYPTION_KEY not set, provider tokens are stored in plain text")
		}

		d.Connections = persistence.NewConnectionAdapter(pool, cipher)
		d.Checkpoints = persistence.NewCheckpointAdapter(sqlDB)

		d.registerPoolMetrics()
		logger.Info("PostgreSQL stores initialized")
	} else {
		d.Connections = memory.NewConnectionStore()
		d.Checkpoints = memory.NewCheckpointStore()
		logger.Warn("DATABASE_URL not set, using in-memory connection store")
	}
	return nil
}

func (d *Dependencies) registerPoolMetrics() {
	pool := d.DB
	err := metrics.RegisterPool(prometheus.DefaultRegisterer, "postgres", func() metrics.PoolSnapshot {
		s := database.GetPoolStats(pool)
		return metrics.PoolSnapshot{
			Total:    s.TotalConns,
			Acquired: s.AcquiredConns,
			Idle:     s.IdleConns,
			Max:      s.MaxConns,
		}
	})
	if err != nil {
		d.Log.Warn().Err(err).Msg("failed to register postgres pool metrics")
	}
	if err := metrics.RegisterSQLPool(prometheus.DefaultRegisterer, "checkpoints", d.SQLDB.DB); err != nil {
		d.Log.Warn().Err(err).Msg("failed to register sqlx pool metrics")
	}
}

// Redis is optional. Without it events stay in-process and refinement
// triggers start workers locally.
func (d *Dependencies) initRedis(cleanups *[]func()) {
	if d.Config.RedisURL == "" {
		logger.Warn("REDIS_URL not set, events and refinement triggers stay in-process")
		return
	}
	client, err := database.NewRedis(d.Config.RedisURL)
	if err != nil {
		logger.Warn("Redis connection failed: %v", err)
		return
	}
	d.Redis = client
	*cleanups = append(*cleanups, func() { client.Close() })
}

// =============================================================================
// External services
// =============================================================================

func (d *Dependencies) initExternal() error {
	cfg := d.Config

	d.Gateway = gateway.New(map[gateway.Target]int{
		gateway.TargetMailProvider: cfg.GatewayMailConcurrency,
		gateway.TargetMLService:    cfg.GatewayMLConcurrency,
	}, logger.Component("gateway"))

	d.Providers = []out.MailProvider{
		gmail.NewProvider(gmail.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			QPS:          cfg.GmailQPS,
		}, d.Gateway, logger.Component("gmail")),
	}

	switch cfg.MLBackend {
	case "http":
		if cfg.MLServiceURL == "" {
			logger.Warn("ML_SERVICE_URL not set, Phase 2 classification disabled")
			break
		}
		d.MLScorer = mlservice.NewClient(cfg.MLServiceURL, cfg.MLTimeout, d.Gateway, logger.Component("ml_client"))
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when ML_BACKEND=openai")
		}
		d.MLScorer = mlservice.NewOpenAIScorer(cfg.OpenAIAPIKey, cfg.LLMModel, d.Gateway, logger.Component("openai_scorer"))
	case "none":
		logger.Info("ML backend disabled, Phase 2 classification off")
	}
	return nil
}

// =============================================================================
// Services
// =============================================================================

func (d *Dependencies) initServices() {
	cfg := d.Config

	// 이벤트 싱크: SSE + (Redis 있으면) events:realtime 스트림
	d.Realtime = realtime.NewSSEAdapter(logger.Component("sse"))
	if d.Redis != nil {
		d.EventStream = messaging.NewEventStreamPublisher(d.Redis, cfg.WorkerID, messaging.DefaultEventBuffer, logger.Component("event_stream"))
		d.Events = realtime.NewFanOut(d.Realtime, d.EventStream)
	} else {
		d.Events = d.Realtime
	}

	d.CategoryCache = classification.NewCategoryCache(d.Categories, cfg.CategoryCacheTTL, logger.Component("category_cache"))
	if d.Redis != nil {
		d.Invalidations = messaging.NewInvalidationBus(d.Redis, logger.Component("invalidation_bus"))
		d.CategoryCache.SetBus(d.Invalidations)
	}

	var ml *classification.MLClassifier
	if d.MLScorer != nil {
		ml = classification.NewMLClassifier(d.MLScorer, cfg.MLTimeout)
	}
	d.Classifier = classification.NewClassifier(d.CategoryCache, ml, classification.Config{
		Floor:             cfg.ClassifyFloor,
		RefineThreshold:   cfg.ClassifyRefineThreshold,
		FailureConfidence: cfg.ClassifyFailureConf,
		FallbackCategory:  cfg.ClassifyFallbackCategory,
	}, logger.Component("classifier"))

	d.Refinement = refinement.NewRegistry(d.Messages, d.Categories, d.Classifier, d.Events, refinement.Config{
		BatchSize:       cfg.RefineBatchSize,
		BatchDelay:      cfg.RefineBatchDelay,
		MinImprovement:  cfg.RefineMinImprovement,
		SummaryEvery:    cfg.RefineSummaryEvery,
		SummaryInterval: cfg.RefineSummaryInterval,
	}, logger.Component("refinement"))

	if d.Redis != nil {
		d.RefineQueue = messaging.NewRefinementProducer(d.Redis)
	} else {
		d.RefineQueue = registryQueue{registry: d.Refinement}
	}

	d.Reclassify = reclassify.NewOrchestrator(d.Jobs, d.Categories, d.Messages, d.Classifier, d.Events, reclassify.Config{
		BatchSize: cfg.ReclassifyBatchSize,
	}, logger.Component("reclassify"))

	d.CategoryService = category.NewService(d.Categories, d.CategoryCache, d.MLScorer, d.Reclassify, d.Events, category.Config{
		FallbackCategory: cfg.ClassifyFallbackCategory,
		AutoReclassify:   cfg.CategoryAutoReclassify,
	}, logger.Component("category"))

	d.SyncService = ingest.NewService(d.Providers, d.Connections, d.Checkpoints, d.Messages, d.Categories, d.Classifier, d.RefineQueue, d.Events, ingest.Config{
		PageSize:        cfg.SyncPageSize,
		FetchWorkers:    cfg.SyncFetchWorkers,
		ClassifyMode:    cfg.IngestClassifyMode,
		RefineAfterSync: cfg.IngestRefineAfterSync,
	}, logger.Component("ingest"))
}

// RunBackground runs the loops every process needs: the event stream writer
// and the cache invalidation listener. It returns when ctx is done.
func (d *Dependencies) RunBackground(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if d.EventStream != nil {
		g.Go(func() error { return d.EventStream.Run(gctx) })
	}
	if d.Invalidations != nil {
		g.Go(func() error { return d.CategoryCache.Listen(gctx) })
	}
	return g.Wait()
}

// Shutdown stops refinement workers and running reclassification jobs.
func (d *Dependencies) Shutdown(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return d.Refinement.StopAll(ctx) })
	g.Go(func() error { return d.Reclassify.Shutdown(ctx) })
	return g.Wait()
}

// HealthChecks lists the connected stores for /ready.
func (d *Dependencies) HealthChecks() []httpadapter.HealthChecker {
	var checks []httpadapter.HealthChecker
	if d.DB != nil {
		checks = append(checks, httpadapter.PingFunc{Label: "postgres", Fn: d.DB.Ping})
	}
	if d.Redis != nil {
		checks = append(checks, httpadapter.PingFunc{Label: "redis", Fn: func(ctx context.Context) error {
			return d.Redis.Ping(ctx).Err()
		}})
	}
	if d.MongoDB != nil {
		checks = append(checks, httpadapter.PingFunc{Label: "mongodb", Fn: func(ctx context.Context) error {
			return d.MongoDB.Ping(ctx, nil)
		}})
	}
	return checks
}

// registryQueue starts refinement in this process when no broker is configured.
type registryQueue struct {
	registry in.RefinementService
}

func (q registryQueue) EnqueueRefinement(ctx context.Context, userID, reason string) error {
	q.registry.Start(userID, reason)
	return nil
}
