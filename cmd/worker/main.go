// Package main provides the entry point for the background calibration worker.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"examprep/internal/config"
	"examprep/internal/database"
	"examprep/internal/handlers"
	"examprep/internal/observability"
	"examprep/internal/services"
	"examprep/internal/worker"

	"github.com/gin-gonic/gin"
)

// fatalIfErr logs the error with context and panics with a consistent message
func fatalIfErr(ctx context.Context, logger *observability.Logger, msg string, err error) {
	logger.Error(ctx, msg, err, nil)
	panic(msg + ": " + err.Error())
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Setup observability (tracing/metrics/logging)
	tp, mp, logger, err := observability.SetupObservability(&cfg.OpenTelemetry, "examprep-worker")
	if err != nil {
		panic("Failed to initialize observability: " + err.Error())
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if shutdownable, ok := tp.(interface{ Shutdown(context.Context) error }); ok {
			if err := shutdownable.Shutdown(shutdownCtx); err != nil {
				logger.Warn(ctx, "Error shutting down tracer provider", map[string]interface{}{"error": err.Error(), "provider": "tracer"})
			}
		}
		if mp != nil {
			if err := mp.Shutdown(shutdownCtx); err != nil {
				logger.Warn(ctx, "Error shutting down meter provider", map[string]interface{}{"error": err.Error(), "provider": "meter"})
			}
		}
	}()

	logger.Info(ctx, "Starting engine worker service", map[string]interface{}{
		"port":     cfg.Server.WorkerPort,
		"logLevel": cfg.Server.LogLevel,
		"debug":    cfg.Server.Debug,
	})

	// Initialize database connection without running migrations (migrations are
	// managed by the API server)
	dbManager := database.NewManager(logger)
	db, err := dbManager.InitDBWithoutMigrations(cfg.Database)
	if err != nil {
		fatalIfErr(ctx, logger, "Failed to initialize database", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn(ctx, "Warning: failed to close database", map[string]interface{}{"error": err.Error()})
		}
	}()

	// Initialize services
	itemStore := services.NewItemStore(db, cfg, logger)
	responseLedger := services.NewResponseLedger(db, cfg, logger)
	masteryService := services.NewMasteryServiceWithLogger(responseLedger, itemStore, cfg, logger)
	calibrationService := services.NewCalibrationServiceWithLogger(responseLedger, itemStore, cfg, logger)
	hintService := services.NewGenerationHintServiceWithLogger(db, masteryService, cfg, logger)

	// Start the background worker loop
	workerInstance := worker.NewWorker(calibrationService, hintService, responseLedger, "default", cfg, logger)
	go workerInstance.Start(ctx)

	// Setup Gin router for the admin surface
	gin.SetMode(gin.ReleaseMode)
	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	// HTTP request logging through the observability logger
	router.Use(func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		fields := map[string]interface{}{
			"http.method":      c.Request.Method,
			"http.path":        c.Request.URL.Path,
			"http.status_code": statusCode,
			"http.latency_ms":  latency.Milliseconds(),
			"http.client_ip":   c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			fields["http.error"] = c.Errors.String()
		}

		switch {
		case statusCode >= 500:
			logger.Error(c.Request.Context(), "HTTP request failed", nil, fields)
		case statusCode >= 400:
			logger.Warn(c.Request.Context(), "HTTP request warning", fields)
		default:
			logger.Info(c.Request.Context(), "HTTP request", fields)
		}
	})

	// OpenTelemetry middleware for HTTP tracing with automatic error attributes
	router.Use(observability.GinMiddlewareWithErrorHandling("examprep-worker"))

	adminHandler := handlers.NewWorkerAdminHandlerWithLogger(workerInstance, cfg, logger)
	adminHandler.RegisterRoutes(router)

	server := &http.Server{
		Addr:              ":" + cfg.Server.WorkerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal or server error
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-shutdownCh:
		logger.Info(ctx, "Received shutdown signal, shutting down gracefully", nil)
	case err := <-serverErr:
		logger.Error(ctx, "Admin server failed", err, nil)
		os.Exit(1)
	}

	// Stop the worker loop, then drain the admin server
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Error during admin server shutdown", err, nil)
		os.Exit(1)
	}

	logger.Info(ctx, "Shutdown completed successfully", nil)
}
