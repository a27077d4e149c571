package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pasthortown/message-sender/internal/dto"
	"github.com/pasthortown/message-sender/internal/scheduler"
	"github.com/pasthortown/message-sender/internal/service"
)

const healthCheckTimeout = 3 * time.Second

// HealthChecker is a dependency probed by /health
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// StatusProvider exposes the scheduler state served by /status
type StatusProvider interface {
	Status() scheduler.Status
}

type Handler struct {
	activityService service.ActivityServicer
	status          StatusProvider
	checks          map[string]HealthChecker
	router          *gin.Engine
	log             *zap.Logger
}

func NewHandler(activityService service.ActivityServicer, status StatusProvider, checks map[string]HealthChecker, log *zap.Logger) *Handler {
	h := &Handler{
		activityService: activityService,
		status:          status,
		checks:          checks,
		router:          gin.Default(),
		log:             log,
	}

	h.registerRoutes()

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/health", h.healthCheck)
	h.router.GET("/status", h.getStatus)
	h.router.POST("/activities", h.publishActivity)
	h.router.POST("/activities/bulk", h.publishActivitiesBulk)
}

// healthCheck handles GET /health. Every registered dependency is pinged;
// any failure turns the response into a 503.
func (h *Handler) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	response := dto.HealthResponse{
		Status: "ok",
		Checks: make(map[string]string, len(h.checks)),
	}
	code := http.StatusOK

	for name, checker := range h.checks {
		if err := checker.Ping(ctx); err != nil {
			h.log.Warn("Health check failed",
				zap.String("dependency", name),
				zap.Error(err))
			response.Checks[name] = err.Error()
			response.Status = "unavailable"
			code = http.StatusServiceUnavailable
			continue
		}
		response.Checks[name] = "ok"
	}

	c.JSON(code, response)
}

// getStatus handles GET /status
func (h *Handler) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.status.Status())
}

// publishActivity handles POST /activities
func (h *Handler) publishActivity(c *gin.Context) {
	var req dto.PublishActivityRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid activity request",
			zap.Error(err),
			zap.String("email", req.Email))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	ts, err := h.activityService.PublishActivity(c.Request.Context(), &req)
	if errors.Is(err, service.ErrInvalidActivity) {
		h.log.Warn("Activity rejected",
			zap.Error(err),
			zap.String("email", req.Email))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}
	if err != nil {
		h.log.Error("Failed to publish activity",
			zap.Error(err),
			zap.String("email", req.Email),
			zap.Int("zona", req.Zone))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "internal_error",
			Message: err.Error(),
		})
		return
	}

	h.log.Info("Activity accepted",
		zap.String("email", req.Email),
		zap.String("estado", req.State),
		zap.String("timestamp", ts))

	c.JSON(http.StatusAccepted, dto.PublishActivityResponse{
		Status:    "accepted",
		Timestamp: ts,
	})
}

// publishActivitiesBulk handles POST /activities/bulk
func (h *Handler) publishActivitiesBulk(c *gin.Context) {
	var bulkRequest dto.PublishActivitiesBulkRequest

	if err := c.ShouldBindJSON(&bulkRequest); err != nil {
		h.log.Warn("Invalid bulk activity request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	accepted, failures, err := h.activityService.PublishActivities(c.Request.Context(), bulkRequest.Activities)
	if err != nil {
		h.log.Error("Failed to publish bulk activities",
			zap.Error(err),
			zap.Int("activity_count", len(bulkRequest.Activities)))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "internal_error",
			Message: err.Error(),
		})
		return
	}

	h.log.Info("Bulk activities processed",
		zap.Int("accepted", accepted),
		zap.Int("rejected", len(failures)),
		zap.Int("total", len(bulkRequest.Activities)))

	c.JSON(http.StatusAccepted, dto.PublishBulkActivitiesResponse{
		Accepted: accepted,
		Rejected: len(failures),
		Errors:   failures,
	})
}
