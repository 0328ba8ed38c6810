package handlers

import (
	"net/http"

	"examprep/internal/config"
	"examprep/internal/observability"
	"examprep/internal/version"
	"examprep/internal/worker"

	"github.com/gin-gonic/gin"
)

// WorkerAdminHandler exposes operational control over the background worker
type WorkerAdminHandler struct {
	worker *worker.Worker
	cfg    *config.Config
	logger *observability.Logger
}

// NewWorkerAdminHandlerWithLogger creates a new WorkerAdminHandler with a logger
func NewWorkerAdminHandlerWithLogger(workerInstance *worker.Worker, cfg *config.Config, logger *observability.Logger) *WorkerAdminHandler {
	return &WorkerAdminHandler{
		worker: workerInstance,
		cfg:    cfg,
		logger: logger,
	}
}

// RegisterRoutes attaches the admin endpoints to the router
func (h *WorkerAdminHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)

	v1 := router.Group("/v1")
	{
		v1.GET("/version", h.Version)

		workerGroup := v1.Group("/worker")
		{
			workerGroup.GET("/status", h.GetStatus)
			workerGroup.GET("/history", h.GetHistory)
			workerGroup.POST("/trigger", h.TriggerRun)
			workerGroup.POST("/pause", h.Pause)
			workerGroup.POST("/resume", h.Resume)
		}
	}
}

// Health handles GET /health
func (h *WorkerAdminHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "worker"})
}

// Version handles GET /v1/version
func (h *WorkerAdminHandler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":   "worker",
		"version":   version.Version,
		"commit":    version.Commit,
		"buildTime": version.BuildTime,
	})
}

// GetStatus handles GET /v1/worker/status
func (h *WorkerAdminHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.worker.GetStatus())
}

// GetHistory handles GET /v1/worker/history
func (h *WorkerAdminHandler) GetHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"runs": h.worker.GetHistory()})
}

// TriggerRun handles POST /v1/worker/trigger
func (h *WorkerAdminHandler) TriggerRun(c *gin.Context) {
	if !h.worker.TriggerRun() {
		c.JSON(http.StatusConflict, gin.H{"status": "already_pending", "message": "A manual run is already queued"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "triggered"})
}

// Pause handles POST /v1/worker/pause
func (h *WorkerAdminHandler) Pause(c *gin.Context) {
	h.worker.Pause()
	h.logger.Info(c.Request.Context(), "Worker paused via admin API", nil)
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

// Resume handles POST /v1/worker/resume
func (h *WorkerAdminHandler) Resume(c *gin.Context) {
	h.worker.Resume()
	h.logger.Info(c.Request.Context(), "Worker resumed via admin API", nil)
	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}
