package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"stock-sync/internal/models"
	"stock-sync/internal/report"
	"stock-sync/internal/service"
	"stock-sync/internal/util"
)

// Pinger reports whether a backing dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orchestrator *service.Orchestrator
	historyLimit int
	readiness    []Pinger
	logger       *zap.Logger
}

// NewHandler creates a new HTTP handler. Every pinger must answer for /ready
// to report ready.
func NewHandler(orchestrator *service.Orchestrator, historyLimit int, readiness ...Pinger) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		historyLimit: historyLimit,
		readiness:    readiness,
		logger:       util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/sync/all", h.syncAll)
		v1.POST("/sync/background", h.syncBackground)
		v1.POST("/sync/:platform", h.syncPlatform)

		v1.GET("/session/:id", h.getSession)
		v1.POST("/session/:id/cancel", h.cancelSession)
		v1.GET("/session/:id/export", h.exportSession)
		v1.DELETE("/session/:id", h.deleteSession)

		v1.GET("/sessions", h.listSessions)
		v1.DELETE("/sessions", h.pruneSessions)

		v1.GET("/platforms/status", h.platformStatus)
		v1.GET("/config/:platform", h.getConfig)
		v1.PUT("/config/:platform", h.putConfig)
		v1.POST("/catalog/:platform/fetch", h.fetchCatalog)
	}
}

// SyncAllRequest is the body of POST /sync/all
type SyncAllRequest struct {
	Barcodes  []string `json:"barcodes"`
	Platforms []string `json:"platforms"`
}

// SyncPlatformRequest is the body of POST /sync/:platform
type SyncPlatformRequest struct {
	Barcodes []string `json:"barcodes"`
}

// SyncBackgroundRequest is the body of POST /sync/background
type SyncBackgroundRequest struct {
	Platform  string   `json:"platform"`
	Barcodes  []string `json:"barcodes"`
	Platforms []string `json:"platforms"`
}

// SyncResponse is returned by the blocking sync endpoints
type SyncResponse struct {
	SessionID string                 `json:"session_id"`
	Summary   *models.SessionSummary `json:"summary"`
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	for _, p := range h.readiness {
		if err := p.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not ready",
				"details": err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) syncAll(c *gin.Context) {
	var req SyncAllRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	platforms, ok := parsePlatforms(c, req.Platforms)
	if !ok {
		return
	}

	summary, err := h.orchestrator.SyncAll(c.Request.Context(), service.SyncRequest{
		Platforms:   platforms,
		Barcodes:    req.Barcodes,
		TriggeredBy: models.TriggeredByManual,
		User:        user(c),
	})
	h.respondSync(c, summary, err)
}

func (h *Handler) syncPlatform(c *gin.Context) {
	p, ok := platformParam(c)
	if !ok {
		return
	}
	var req SyncPlatformRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	summary, err := h.orchestrator.SyncPlatform(c.Request.Context(), p, service.SyncRequest{
		Barcodes:    req.Barcodes,
		TriggeredBy: models.TriggeredByManual,
		User:        user(c),
	})
	h.respondSync(c, summary, err)
}

func (h *Handler) syncBackground(c *gin.Context) {
	var req SyncBackgroundRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	platforms, ok := parsePlatforms(c, req.Platforms)
	if !ok {
		return
	}
	if req.Platform == "" {
		req.Platform = models.PlatformAll
	}

	id, err := h.orchestrator.SyncBackground(c.Request.Context(), req.Platform, service.SyncRequest{
		Platforms:   platforms,
		Barcodes:    req.Barcodes,
		TriggeredBy: models.TriggeredByAPI,
		User:        user(c),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session_id": id})
}

func (h *Handler) respondSync(c *gin.Context, summary *models.SessionSummary, err error) {
	if err != nil && summary == nil {
		h.respondError(c, err)
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":      "store_error",
			"details":    err.Error(),
			"session_id": summary.SessionID,
			"summary":    summary,
		})
		return
	}
	c.JSON(http.StatusOK, SyncResponse{SessionID: summary.SessionID, Summary: summary})
}

func (h *Handler) getSession(c *gin.Context) {
	view, err := h.orchestrator.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) cancelSession(c *gin.Context) {
	cancelled, err := h.orchestrator.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}

func (h *Handler) exportSession(c *gin.Context) {
	view, err := h.orchestrator.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteSession(&buf, view.Session, view.Summary, view.Details); err != nil {
		h.respondError(c, err)
		return
	}

	filename := fmt.Sprintf("sync-session-%s.xlsx", view.Session.ID)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, report.ContentType, buf.Bytes())
}

func (h *Handler) deleteSession(c *gin.Context) {
	if err := h.orchestrator.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listSessions(c *gin.Context) {
	limit := h.historyLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"details": "limit must be between 1 and 500",
			})
			return
		}
		limit = n
	}

	sessions, err := h.orchestrator.ListSessions(c.Request.Context(), c.Query("platform"), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) pruneSessions(c *gin.Context) {
	before, err := time.Parse(time.RFC3339, c.Query("before"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_before",
			"details": "before must be an RFC3339 timestamp",
		})
		return
	}

	deleted, err := h.orchestrator.DeleteSessionsBefore(c.Request.Context(), before)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (h *Handler) platformStatus(c *gin.Context) {
	statuses, err := h.orchestrator.PlatformStatuses(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"platforms": statuses})
}

func (h *Handler) getConfig(c *gin.Context) {
	p, ok := platformParam(c)
	if !ok {
		return
	}
	cfg, err := h.orchestrator.GetConfig(c.Request.Context(), p)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *Handler) putConfig(c *gin.Context) {
	p, ok := platformParam(c)
	if !ok {
		return
	}
	var update service.ConfigUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"details": err.Error(),
		})
		return
	}

	saved, err := h.orchestrator.PutConfig(c.Request.Context(), p, update)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (h *Handler) fetchCatalog(c *gin.Context) {
	p, ok := platformParam(c)
	if !ok {
		return
	}
	catalog, err := h.orchestrator.ReconcileCatalog(c.Request.Context(), p)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, catalog)
}

// respondError maps service errors onto status codes
func (h *Handler) respondError(c *gin.Context, err error) {
	var verr *models.ValidationError
	switch {
	case errors.Is(err, service.ErrUnknownPlatform):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_platform", "details": err.Error()})
	case errors.Is(err, service.ErrPlatformDisabled):
		c.JSON(http.StatusConflict, gin.H{"error": "platform_disabled", "details": err.Error()})
	case errors.Is(err, service.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found", "details": err.Error()})
	case errors.Is(err, service.ErrSessionRunning):
		c.JSON(http.StatusConflict, gin.H{"error": "session_running", "details": err.Error()})
	case errors.Is(err, service.ErrNotConfigured):
		c.JSON(http.StatusConflict, gin.H{"error": "platform_not_configured", "details": err.Error()})
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_config", "field": verr.Field, "details": verr.Error()})
	default:
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "details": err.Error()})
	}
}

func platformParam(c *gin.Context) (models.Platform, bool) {
	p, err := models.ParsePlatform(c.Param("platform"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_platform", "details": err.Error()})
		return "", false
	}
	return p, true
}

func parsePlatforms(c *gin.Context, names []string) ([]models.Platform, bool) {
	platforms := make([]models.Platform, 0, len(names))
	for _, name := range names {
		p, err := models.ParsePlatform(name)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_platform", "details": err.Error()})
			return nil, false
		}
		platforms = append(platforms, p)
	}
	return platforms, true
}

// bindOptionalJSON accepts an empty body as the zero request
func bindOptionalJSON(c *gin.Context, dst interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"details": err.Error(),
		})
		return false
	}
	return true
}

func user(c *gin.Context) string {
	return c.GetHeader("X-User")
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Inc()
	}
}
