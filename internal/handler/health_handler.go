// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"card-service/internal/config"
	"card-service/internal/database"
	"card-service/internal/service"
	"card-service/internal/utils"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	readerIdle      = "idle"
	readerBusy      = "busy"
)

// HealthHandler reports database and card reader health
type HealthHandler struct {
	db          *database.DB
	config      *config.Config
	cardService *service.CardService
	startedAt   time.Time
	logger      *utils.ServiceLogger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *database.DB, config *config.Config, cardService *service.CardService, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:          db,
		config:      config,
		cardService: cardService,
		startedAt:   time.Now(),
		logger:      utils.NewServiceLogger(logger, "health-handler"),
	}
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// HealthCheck performs general health check. A busy reader is healthy; only
// the database decides the overall status.
// @Summary Health check
// @Description Get overall service health status including database connectivity and the card reader session
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Service is healthy"
// @Failure 503 {object} HealthResponse "Service is unhealthy"
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	database := h.databaseCheck()
	health := &HealthResponse{
		Status:    database.Status,
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    h.uptime(),
		Checks: map[string]CheckResult{
			"database":    database,
			"card_reader": h.cardReaderCheck(),
		},
	}

	statusCode := http.StatusOK
	if health.Status != statusHealthy {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, health)
}

// DatabaseHealthCheck checks database connectivity
// @Summary Database health check
// @Description Ping the history database and report connection pool usage
// @Tags Health
// @Produce json
// @Success 200 {object} utils.APIResponse "Database is healthy"
// @Failure 503 {object} utils.APIResponse "Database is unhealthy"
// @Router /health/db [get]
func (h *HealthHandler) DatabaseHealthCheck(c *gin.Context) {
	started := time.Now()
	if err := h.db.HealthCheck(); err != nil {
		h.logger.Error("Database health check failed", zap.Error(err))
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "Database unhealthy", err)
		return
	}

	stats := h.db.GetStats()
	utils.SuccessResponse(c, http.StatusOK, "Database is healthy", gin.H{
		"status":           statusHealthy,
		"response_time_ms": time.Since(started).Milliseconds(),
		"stats": gin.H{
			"max_open_connections": stats.MaxOpenConnections,
			"open_connections":     stats.OpenConnections,
			"in_use":               stats.InUse,
			"idle":                 stats.Idle,
			"wait_count":           stats.WaitCount,
			"wait_duration":        stats.WaitDuration.String(),
		},
	})
}

// ReadinessCheck for Kubernetes readiness probe. Sessions are recorded in
// the database, so the service is not ready without it.
// @Summary Readiness check
// @Description Check if service is ready to accept card sessions
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,card_reader=string,timestamp=string} "Service is ready"
// @Failure 503 {object} object{status=string,reason=string} "Service is not ready"
// @Router /ready [get]
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if err := h.db.HealthCheck(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "database not available",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "ready",
		"card_reader": h.readerStatus(),
		"timestamp":   time.Now(),
	})
}

// LivenessCheck for Kubernetes liveness probe
// @Summary Liveness check
// @Description Check if service is alive
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,uptime=string,timestamp=string} "Service is alive"
// @Router /live [get]
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"uptime":    h.uptime(),
		"timestamp": time.Now(),
	})
}

func (h *HealthHandler) databaseCheck() CheckResult {
	if err := h.db.HealthCheck(); err != nil {
		return CheckResult{Status: statusUnhealthy, Message: err.Error()}
	}

	stats := h.db.GetStats()
	return CheckResult{
		Status:  statusHealthy,
		Message: "Database connection OK",
		Data: map[string]interface{}{
			"open_connections": stats.OpenConnections,
			"in_use":           stats.InUse,
			"idle":             stats.Idle,
		},
	}
}

// cardReaderCheck reports the running session. The reader is only
// connected while a session runs, so an idle reader is not probed.
func (h *HealthHandler) cardReaderCheck() CheckResult {
	session := h.cardService.CurrentSession()
	if session == nil {
		return CheckResult{
			Status:  readerIdle,
			Message: "No card session running",
			Data: map[string]interface{}{
				"transport": h.config.Device.Transport,
				"endpoint":  h.config.Device.Endpoint,
			},
		}
	}

	return CheckResult{
		Status:  readerBusy,
		Message: "Card session in progress",
		Data: map[string]interface{}{
			"session_id":     session.ID.String(),
			"operation":      session.Operation,
			"scanning_state": session.Snapshot().ScanningState,
			"connection":     session.ConnectionStats(),
		},
	}
}

func (h *HealthHandler) readerStatus() string {
	if h.cardService.CurrentSession() != nil {
		return readerBusy
	}
	return readerIdle
}

func (h *HealthHandler) uptime() string {
	return time.Since(h.startedAt).Round(time.Second).String()
}
