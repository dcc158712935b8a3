package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mailsort_server/config"
	"mailsort_server/internal/bootstrap"
	"mailsort_server/pkg/logger"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 30 * time.Second // Maximum time to wait for graceful shutdown
)

func main() {
	// Initialize logger early
	logger.Init(logger.Config{
		Level:   logger.LevelInfo,
		Service: "mailsort",
	})

	// Load .env file if exists (for local development)
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	mode := flag.String("mode", "all", "Run mode: api, worker, all")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	logger.Init(logger.Config{
		Level:   logger.ParseLevel(cfg.LogLevel),
		Service: "mailsort-" + *mode,
	})

	runAPI, runWorker := false, false
	switch *mode {
	case "api":
		runAPI = true
	case "worker":
		runWorker = true
	case "all":
		runAPI, runWorker = true, true
	default:
		logger.Fatal("Unknown mode: %s", *mode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := bootstrap.NewDependencies(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize dependencies: %v", err)
	}
	defer cleanup()

	var (
		api    *bootstrap.API
		worker *bootstrap.Worker
	)
	if runAPI {
		if api, err = bootstrap.NewAPI(ctx, deps); err != nil {
			logger.Fatal("Failed to initialize API: %v", err)
		}
	}
	if runWorker {
		if worker, err = bootstrap.NewWorker(deps); err != nil {
			logger.Fatal("Failed to initialize worker: %v", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return deps.RunBackground(gctx) })
	if worker != nil {
		g.Go(func() error { return worker.Run(gctx) })
	}
	if api != nil {
		// Listen returns after Shutdown or on bind failure
		g.Go(func() error { return api.Run(gctx, ":"+cfg.Port) })
	}

	<-gctx.Done()
	logger.Info("Shutting down (timeout: %v)...", shutdownTimeout)
	shutdown(api, worker, deps)

	if err := g.Wait(); err != nil {
		logger.Error("Exited with error: %v", err)
		cleanup()
		os.Exit(1)
	}
	logger.Info("Shut down gracefully")
}

// shutdown drains in order: HTTP, scheduler, refinement and reclassification.
func shutdown(api *bootstrap.API, worker *bootstrap.Worker, deps *bootstrap.Dependencies) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if api != nil {
		if err := api.Shutdown(ctx); err != nil {
			logger.Error("API shutdown: %v", err)
		}
	}
	if worker != nil {
		if err := worker.Stop(ctx); err != nil {
			logger.Error("Worker shutdown: %v", err)
		}
	}
	if err := deps.Shutdown(ctx); err != nil {
		logger.Warn("Background jobs did not stop in time: %v", err)
	}
}
