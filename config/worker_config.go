package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Database
	DatabaseURL string
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// JWT
	JWTSecret string

	// Token encryption (connection credentials at rest)
	EncryptionKey string

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	GmailQPS           float64

	// Gateway (per-target concurrency)
	GatewayMailConcurrency int
	GatewayMLConcurrency   int

	// ML scoring service
	MLBackend    string // http | openai | none
	MLServiceURL string
	MLTimeout    time.Duration

	// OpenAI (ML_BACKEND=openai)
	OpenAIAPIKey string
	LLMModel     string

	// Ingestion
	SyncPageSize          int
	SyncFetchWorkers      int
	IngestClassifyMode    string // inline | queue
	IngestRefineAfterSync bool
	SyncCron              string

	// Phase-1 / Phase-2 policy
	ClassifyFloor            float64
	ClassifyRefineThreshold  float64
	ClassifyFallbackCategory string
	ClassifyFailureConf      float64
	CategoryCacheTTL         time.Duration

	// Refinement worker
	RefineBatchSize       int
	RefineBatchDelay      time.Duration
	RefineMinImprovement  float64
	RefineSummaryEvery    int
	RefineSummaryInterval time.Duration

	// Reclassification jobs
	ReclassifyBatchSize    int
	CategoryAutoReclassify bool

	// Worker
	WorkerID        string
	ConsumerGroup   string
	ConsumerBlockMS int

	// CORS
	AllowedOrigins []string

	// Scheduler
	SchedulerEnabled bool
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "mailsort"),
		RedisURL:    getEnv("REDIS_URL", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),

		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		// OAuth - Google
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),
		GmailQPS:           getEnvFloat("GMAIL_QPS", 40),

		// Gateway
		GatewayMailConcurrency: getEnvInt("GATEWAY_MAIL_CONCURRENCY", 10),
		GatewayMLConcurrency:   getEnvInt("GATEWAY_ML_CONCURRENCY", 4),

		// ML
		MLBackend:    getEnv("ML_BACKEND", "http"),
		MLServiceURL: getEnv("ML_SERVICE_URL", ""),
		MLTimeout:    getEnvDuration("ML_TIMEOUT", 12*time.Second),

		// OpenAI
		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
		LLMModel:     getEnv("LLM_MODEL", "gpt-4o-mini"),

		// Ingestion
		SyncPageSize:          getEnvInt("SYNC_PAGE_SIZE", 500),
		SyncFetchWorkers:      getEnvInt("SYNC_FETCH_WORKERS", 8),
		IngestClassifyMode:    getEnv("INGEST_CLASSIFY_MODE", "inline"),
		IngestRefineAfterSync: getEnvBool("INGEST_REFINE_AFTER_SYNC", true),
		SyncCron:              getEnv("SYNC_CRON", "*/15 * * * *"),

		// Classification policy
		ClassifyFloor:            getEnvFloat("CLASSIFY_FLOOR", 0.5),
		ClassifyRefineThreshold:  getEnvFloat("CLASSIFY_REFINE_THRESHOLD", 0.75),
		ClassifyFallbackCategory: getEnv("CLASSIFY_FALLBACK_CATEGORY", "Other"),
		ClassifyFailureConf:      getEnvFloat("CLASSIFY_FAILURE_CONFIDENCE", 0.3),
		CategoryCacheTTL:         getEnvDuration("CATEGORY_CACHE_TTL", 10*time.Minute),

		// Refinement
		RefineBatchSize:       getEnvInt("REFINE_BATCH_SIZE", 10),
		RefineBatchDelay:      getEnvDuration("REFINE_BATCH_DELAY", time.Second),
		RefineMinImprovement:  getEnvFloat("REFINE_MIN_IMPROVEMENT", 0.15),
		RefineSummaryEvery:    getEnvInt("REFINE_SUMMARY_EVERY", 50),
		RefineSummaryInterval: getEnvDuration("REFINE_SUMMARY_INTERVAL", time.Hour),

		// Reclassification
		ReclassifyBatchSize:    getEnvInt("RECLASSIFY_BATCH_SIZE", 100),
		CategoryAutoReclassify: getEnvBool("CATEGORY_AUTO_RECLASSIFY", true),

		// Worker
		WorkerID:        getEnv("WORKER_ID", generateWorkerID()),
		ConsumerGroup:   getEnv("CONSUMER_GROUP", "mailsort-workers"),
		ConsumerBlockMS: getEnvInt("CONSUMER_BLOCK_MS", 5000),

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),

		// Scheduler
		SchedulerEnabled: getEnvBool("SCHEDULER_ENABLED", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks policy values for ranges the pipeline relies on.
func (c *Config) Validate() error {
	for name, v := range map[string]float64{
		"CLASSIFY_FLOOR":              c.ClassifyFloor,
		"CLASSIFY_REFINE_THRESHOLD":   c.ClassifyRefineThreshold,
		"CLASSIFY_FAILURE_CONFIDENCE": c.ClassifyFailureConf,
		"REFINE_MIN_IMPROVEMENT":      c.RefineMinImprovement,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, v)
		}
	}
	if c.ClassifyFallbackCategory == "" {
		return fmt.Errorf("CLASSIFY_FALLBACK_CATEGORY must not be empty")
	}
	if c.SyncPageSize <= 0 || c.RefineBatchSize <= 0 || c.ReclassifyBatchSize <= 0 {
		return fmt.Errorf("batch and page sizes must be positive")
	}
	switch c.IngestClassifyMode {
	case "inline", "queue":
	default:
		return fmt.Errorf("INGEST_CLASSIFY_MODE must be inline or queue, got %q", c.IngestClassifyMode)
	}
	switch c.MLBackend {
	case "http", "openai", "none":
	default:
		return fmt.Errorf("ML_BACKEND must be http, openai or none, got %q", c.MLBackend)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
