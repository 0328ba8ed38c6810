package handlers

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"examprep/internal/config"
	"examprep/internal/observability"
	"examprep/internal/services"
	"examprep/internal/version"
)

// NewRouter creates the API router with all middleware and routes
func NewRouter(
	cfg *config.Config,
	masteryService services.MasteryServiceInterface,
	scheduleService services.ScheduleServiceInterface,
	calibrationService services.CalibrationServiceInterface,
	selectionService services.SelectionServiceInterface,
	insightService services.InsightServiceInterface,
	cognitiveService services.CognitiveServiceInterface,
	hintService services.GenerationHintServiceInterface,
	itemStore services.ItemStore,
	responseLedger services.ResponseLedger,
	logger *observability.Logger,
) *gin.Engine {
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

	// Health check endpoint (defined before any middleware)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "engine"})
	})

	// OpenTelemetry middleware for HTTP tracing with automatic error attributes
	router.Use(observability.GinMiddlewareWithErrorHandling(cfg.OpenTelemetry.ServiceName))

	// Disable automatic redirection for trailing slashes, which is better for APIs
	router.RedirectTrailingSlash = false

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Server.CORSOrigins
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Requested-With"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	gin.SetMode(gin.ReleaseMode)
	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	}

	engineHandler := NewEngineHandler(
		masteryService, scheduleService, calibrationService, selectionService,
		insightService, cognitiveService, hintService, itemStore, responseLedger,
		cfg, logger,
	)

	v1 := router.Group("/v1")
	{
		v1.GET("/version", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"service":   "engine",
				"version":   version.Version,
				"commit":    version.Commit,
				"buildTime": version.BuildTime,
			})
		})

		v1.POST("/attempts", engineHandler.RecordAttempt)

		learners := v1.Group("/learners/:id")
		{
			learners.GET("/next-item", engineHandler.GetNextItem)
			learners.GET("/weak-topics", engineHandler.GetWeakTopics)
			learners.GET("/topic-performance", engineHandler.GetTopicPerformance)
			learners.GET("/review-states", engineHandler.GetReviewStates)
			learners.GET("/items/:item_id/review-state", engineHandler.GetReviewState)
			learners.GET("/plateau", engineHandler.GetPlateau)
			learners.GET("/cognitive-profile", engineHandler.GetCognitiveProfile)
			learners.GET("/generation-hints", engineHandler.GetGenerationHints)
			learners.POST("/generation-hints/refresh", engineHandler.RefreshGenerationHints)
		}

		items := v1.Group("/items/:id")
		{
			items.GET("/calibration", engineHandler.GetCalibration)
			items.GET("/distractors", engineHandler.GetDistractorProfile)
			items.POST("/calibration", engineHandler.CalibrateItem)
		}

		v1.POST("/calibration/batch", engineHandler.CalibrateBatch)
	}

	return router
}
