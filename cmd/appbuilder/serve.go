package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/kiranshivaraju/appbuilder/internal/api"
	"github.com/kiranshivaraju/appbuilder/internal/api/handler"
	mw "github.com/kiranshivaraju/appbuilder/internal/api/middleware"
	"github.com/kiranshivaraju/appbuilder/internal/api/response"
	"github.com/kiranshivaraju/appbuilder/internal/appbuilder"
	"github.com/kiranshivaraju/appbuilder/internal/archive"
	"github.com/kiranshivaraju/appbuilder/internal/cache"
	"github.com/kiranshivaraju/appbuilder/internal/components/objectrecognize"
	"github.com/kiranshivaraju/appbuilder/internal/components/ppt"
	"github.com/kiranshivaraju/appbuilder/internal/config"
	"github.com/kiranshivaraju/appbuilder/internal/job"
	"github.com/kiranshivaraju/appbuilder/internal/logging"
	"github.com/kiranshivaraju/appbuilder/internal/metrics"
	"github.com/kiranshivaraju/appbuilder/internal/service"
	"github.com/kiranshivaraju/appbuilder/internal/store"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var migrationsDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the job gateway",
		Long: `Start the HTTP job gateway.

The server applies pending migrations, then serves the PPT job API, object
recognition, component manifests, health and Prometheus metrics. It runs
until interrupted (Ctrl+C) or it receives SIGTERM. In-flight jobs are marked
failed on shutdown; their remote jobs keep running.

Requires DATABASE_URL and REDIS_URL in addition to APPBUILDER_TOKEN.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), migrationsDir)
		},
	}
	cmd.Flags().StringVar(&migrationsDir, "migrations", "migrations", "directory holding the SQL migrations")
	return cmd
}

func runServe(ctx context.Context, migrationsDir string) error {
	// 1. Load config, failing fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser, err := logging.New(cfg.Log, os.Stdout)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)
	logger.Info("config loaded", "env", cfg.Server.Env, "gateway", cfg.AppBuilder.GatewayURL,
		"archive", cfg.Archive.Enabled())

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	logger.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, migrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("redis connected")

	// 5. AppBuilder components
	registry := metrics.NewRegistry()
	client := appbuilder.NewClient(cfg.AppBuilder.GatewayURL, cfg.AppBuilder.Token, cfg.AppBuilder.Timeout)
	defer client.Close()

	generator := ppt.NewGenerator(client,
		job.WithLogger(logger),
		job.WithObserver(metrics.NewPollObserver(registry)),
	)
	recognizer := objectrecognize.New(client, logger)

	// 6. Job service
	pgStore := store.NewPostgresStore(pool)
	svcOpts := []service.Option{service.WithLogger(logger)}
	if cfg.Archive.Enabled() {
		archiver, err := archive.NewS3Archiver(ctx, cfg.Archive.Bucket, cfg.Archive.Prefix, logger)
		if err != nil {
			return fmt.Errorf("create archiver: %w", err)
		}
		svcOpts = append(svcOpts, service.WithArchiver(archiver))
		logger.Info("artifact archiving enabled", "bucket", cfg.Archive.Bucket, "prefix", cfg.Archive.Prefix)
	}
	policy := job.Policy{MaxAttempts: cfg.Poll.MaxAttempts, Interval: cfg.Poll.Interval}
	jobs := service.NewJobService(generator, pgStore, redisCache, policy, svcOpts...)

	// 7. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMin),

		HealthHandler:     healthHandler(pgStore, redisCache),
		MetricsHandler:    metrics.Handler(registry),
		CreatePPTHandler:  handler.NewCreatePPTHandler(jobs),
		GetJobHandler:     handler.NewGetJobHandler(jobs),
		ListJobsHandler:   handler.NewListJobsHandler(jobs),
		RecognizeHandler:  handler.NewRecognizeHandler(recognizer),
		ComponentsHandler: handler.NewComponentsHandler(ppt.Manifest(), objectrecognize.Manifest()),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := jobs.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("job service shutdown: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		if checks["database"] != "ok" || checks["cache"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"version":  version,
			"services": checks,
		})
	}
}
