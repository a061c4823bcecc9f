package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/clinic-booking/cmd/mainconfig"
	"github.com/wolfman30/clinic-booking/internal/api/router"
	"github.com/wolfman30/clinic-booking/internal/app/bootstrap"
	appconfig "github.com/wolfman30/clinic-booking/internal/config"
	"github.com/wolfman30/clinic-booking/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/clinic-booking/internal/http/middleware"
	"github.com/wolfman30/clinic-booking/internal/notify"
	"github.com/wolfman30/clinic-booking/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-booking API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	defer pool.Close()
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	metricsHandler, lifecycleMetrics := setupMetrics()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}
	emailSender, reason := bootstrap.BuildEmailSender(cfg, buildSES(ctx, cfg, logger), logger)
	if reason != "" {
		logger.Info("email mirror using log sender", "reason", reason)
	}
	dispatch := bootstrap.BuildDispatch(cfg, redisClient, emailSender, logger)
	if dispatch.Relay != nil {
		if err := dispatch.Relay.Start(ctx); err != nil {
			logger.Error("failed to start notification relay", "error", err)
			os.Exit(1)
		}
	}

	gateway := bootstrap.BuildGateway(cfg, logger)
	lifecycle := bootstrap.BuildLifecycle(pool, cfg, gateway, dispatch.Dispatcher, lifecycleMetrics, logger)

	go lifecycle.Sweeper.Start(ctx)

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.StartEviction(ctx)

	r := router.New(&router.Config{
		Logger:             logger,
		JWTSecret:          cfg.JWTSecret,
		Appointments:       handlers.NewAppointmentsHandler(lifecycle.Orchestrator, lifecycle.Appointments, logger),
		Payments:           handlers.NewPaymentsHandler(lifecycle.Payments, logger),
		Notifications:      handlers.NewNotificationsHandler(lifecycle.Notifications, dispatch.Hub, logger),
		AdminOverview:      buildAdminOverview(sqlDB, cfg, logger),
		MetricsHandler:     metricsHandler,
		RateLimiter:        limiter,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	// No WriteTimeout: websocket connections stay open.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// connectPostgresPool returns nil when url is empty or the pool cannot be
// created.
func connectPostgresPool(ctx context.Context, url string, logger *logging.Logger) *pgxpool.Pool {
	if url == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		return nil
	}
	return pool
}

func setupMetrics() (http.Handler, *metrics.LifecycleMetrics) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), metrics.NewLifecycleMetrics(registry)
}

// buildSES returns nil unless SES is the configured email provider.
func buildSES(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) notify.SESAPI {
	if cfg.Provider() != "ses" {
		return nil
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		return nil
	}
	return mainconfig.NewSESClient(awsCfg, cfg)
}

func buildAdminOverview(db *sql.DB, cfg *appconfig.Config, logger *logging.Logger) *handlers.AdminOverviewHandler {
	if db == nil {
		return nil
	}
	return handlers.NewAdminOverviewHandler(db, cfg.PaymentGracePeriod, logger)
}
