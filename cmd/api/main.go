package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/buyer-lead-intake/internal/api/router"
	"github.com/wolfman30/buyer-lead-intake/internal/app/bootstrap"
	appconfig "github.com/wolfman30/buyer-lead-intake/internal/config"
	httpmiddleware "github.com/wolfman30/buyer-lead-intake/internal/http/middleware"
	"github.com/wolfman30/buyer-lead-intake/internal/leads"
	"github.com/wolfman30/buyer-lead-intake/internal/observability/metrics"
	"github.com/wolfman30/buyer-lead-intake/pkg/logging"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting buyer-lead-intake API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := setup(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	for _, l := range app.limiters.All() {
		go l.Run(ctx)
	}
	go app.ingress.Run(ctx)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      app.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

type application struct {
	handler  http.Handler
	limiters bootstrap.Limiters
	ingress  *httpmiddleware.IngressLimiter
}

// setup wires storage, limiters, metrics and routes. The returned cleanup
// releases the database pool and redis client.
func setup(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*application, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	pool, err := bootstrap.BuildPostgresPool(ctx, cfg, logger)
	if err != nil {
		return nil, cleanup, err
	}
	checks := map[string]router.HealthCheck{}
	if pool != nil {
		closers = append(closers, pool.Close)
		checks["postgres"] = pool.Ping
	}

	var rdb *redis.Client
	if cfg.UseRedisRateLimit() {
		rdb = bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	}
	if rdb != nil {
		closers = append(closers, func() { _ = rdb.Close() })
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	metricsHandler, importMetrics, limitMetrics := setupMetrics()

	limiters, err := bootstrap.BuildLimiters(cfg, rdb, limitMetrics, logger)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}

	repo := bootstrap.BuildRepository(pool, logger)
	service := leads.NewService(repo, logger)
	importer := leads.NewImporter(repo, logger,
		leads.WithMaxConcurrent(cfg.ImportMaxConcurrent),
		leads.WithImportMetrics(importMetrics),
	)
	buyersHandler := leads.NewHandler(service, importer, logger, leads.WithImportMaxBytes(cfg.ImportMaxBytes))

	ingress := httpmiddleware.NewIngressLimiter(cfg.IngressRatePerSecond, cfg.IngressBurst)
	handler := router.New(&router.Config{
		Logger:             logger,
		BuyersHandler:      buyersHandler,
		AuthSecret:         cfg.AuthJWTSecret,
		CreateLimiter:      limiters.Create,
		UpdateLimiter:      limiters.Update,
		Ingress:            ingress,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		HealthChecks:       checks,
	})
	if cfg.AuthJWTSecret == "" {
		logger.Warn("AUTH_JWT_SECRET not set; buyer routes will reject every request")
	}

	return &application{handler: handler, limiters: limiters, ingress: ingress}, cleanup, nil
}

func setupMetrics() (http.Handler, *metrics.ImportMetrics, *metrics.RateLimitMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		metrics.NewImportMetrics(reg),
		metrics.NewRateLimitMetrics(reg)
}
