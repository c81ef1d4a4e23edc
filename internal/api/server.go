// Package api exposes the orchestrator over HTTP for the platform's own
// services. Authentication happens upstream; the gateway forwards the
// resolved tenant and user in the X-Tenant-ID and X-User-ID headers.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"notification-dispatch/internal/audit"
	"notification-dispatch/internal/common/database"
	"notification-dispatch/internal/common/logger"
	"notification-dispatch/internal/models"
	"notification-dispatch/internal/notification/dispatch"
	"notification-dispatch/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
)

// CacheInvalidator drops cached catalog entries.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) (int64, error)
}

// HistoryReader returns the audit trail of one notification.
type HistoryReader interface {
	History(ctx context.Context, notificationID string, size int) ([]audit.Event, error)
}

type Server struct {
	router  *gin.Engine
	orch    *dispatch.Orchestrator
	health  []database.Pinger
	cache   CacheInvalidator
	history HistoryReader
	logger  logger.Logger
}

type Option func(*Server)

// WithHealthChecks sets the dependencies /ready pings.
func WithHealthChecks(deps ...database.Pinger) Option {
	return func(s *Server) { s.health = append(s.health, deps...) }
}

func WithCatalogCache(c CacheInvalidator) Option {
	return func(s *Server) { s.cache = c }
}

func WithHistory(h HistoryReader) Option {
	return func(s *Server) { s.history = h }
}

func NewServer(orch *dispatch.Orchestrator, log logger.Logger, opts ...Option) *Server {
	router := gin.New()
	s := &Server{
		router: router,
		orch:   orch,
		logger: logger.Component(log, "http-api"),
	}
	for _, opt := range opts {
		opt(s)
	}

	router.Use(gin.Recovery())
	router.Use(s.requestLogger())
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler for use in an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification-dispatch"})
	})
	s.router.GET("/ready", s.handleReady())
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api/v1")
	{
		user := api.Group("", requireIdentity())
		{
			user.GET("/notifications", s.handleList())
			user.GET("/notifications/unread-count", s.handleUnreadCount())
			user.PUT("/notifications/read-all", s.handleMarkAllAsRead())
			user.GET("/notifications/:id", s.handleGet())
			user.PUT("/notifications/:id/read", s.handleSetRead(true))
			user.PUT("/notifications/:id/unread", s.handleSetRead(false))
			user.POST("/notifications/:id/cancel", s.handleCancel())
			user.GET("/preferences/:type", s.handleGetPreference())
			user.PUT("/preferences/:type", s.handleUpdatePreference())
		}

		internal := api.Group("/internal")
		{
			internal.POST("/dispatch", s.handleDispatch())
			internal.POST("/dispatch-due", s.handleDispatchDue())
			internal.POST("/notifications/:id/send", s.handleSend())
			internal.POST("/notifications/:id/delivered", s.handleDelivered())
			internal.GET("/notifications/:id/history", s.handleHistory())
			internal.POST("/catalog/invalidate", s.handleInvalidateCache())
		}
	}
}

// requireIdentity rejects requests without the gateway identity headers.
func requireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(HeaderTenantID) == "" || c.GetHeader(HeaderUserID) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing identity headers"})
			return
		}
		c.Next()
	}
}

func identity(c *gin.Context) (tenantID, userID string) {
	return c.GetHeader(HeaderTenantID), c.GetHeader(HeaderUserID)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request", map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"durationMs": time.Since(start).Milliseconds(),
		})
	}
}

// ==========================
// Health
// ==========================

func (s *Server) handleReady() gin.HandlerFunc {
	return func(c *gin.Context) {
		results := database.CheckAll(c.Request.Context(), 3*time.Second, s.health...)
		status := http.StatusOK
		checks := make(map[string]string, len(results))
		for name, err := range results {
			if err != nil {
				status = http.StatusServiceUnavailable
				checks[name] = err.Error()
				continue
			}
			checks[name] = "ok"
		}
		c.JSON(status, gin.H{"checks": checks})
	}
}

// ==========================
// User inbox
// ==========================

func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, userID := identity(c)
		filter := repository.ListFilter{
			Status:     models.Status(c.Query("status")),
			UnreadOnly: c.Query("unread") == "true",
		}
		filter.Limit, _ = strconv.Atoi(c.Query("limit"))
		filter.Offset, _ = strconv.Atoi(c.Query("offset"))
		if filter.Offset < 0 {
			filter.Offset = 0
		}

		notifications, err := s.orch.List(c.Request.Context(), tenantID, userID, filter)
		if err != nil {
			s.respondError(c, err)
			return
		}
		if notifications == nil {
			notifications = []*models.Notification{}
		}
		c.JSON(http.StatusOK, gin.H{"notifications": notifications})
	}
}

func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, userID := identity(c)
		count, err := s.orch.UnreadCount(c.Request.Context(), tenantID, userID)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"unread": count})
	}
}

func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, userID := identity(c)
		n, err := s.orch.Get(c.Request.Context(), tenantID, userID, c.Param("id"))
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, n)
	}
}

func (s *Server) handleSetRead(read bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, userID := identity(c)
		var (
			changed bool
			err     error
		)
		if read {
			changed, err = s.orch.MarkAsRead(c.Request.Context(), tenantID, userID, c.Param("id"))
		} else {
			changed, err = s.orch.MarkAsUnread(c.Request.Context(), tenantID, userID, c.Param("id"))
		}
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"changed": changed})
	}
}

func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, userID := identity(c)
		count, err := s.orch.MarkAllAsRead(c.Request.Context(), tenantID, userID)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"updated": count})
	}
}

func (s *Server) handleCancel() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, userID := identity(c)
		n, err := s.orch.Cancel(c.Request.Context(), tenantID, userID, c.Param("id"))
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, n)
	}
}

func (s *Server) handleGetPreference() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, userID := identity(c)
		p, err := s.orch.Preference(c.Request.Context(), tenantID, userID, c.Param("type"))
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

func (s *Server) handleUpdatePreference() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, userID := identity(c)
		var update dispatch.PreferenceUpdate
		if err := c.ShouldBindJSON(&update); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_FAILED", "message": err.Error()})
			return
		}
		p, err := s.orch.UpdatePreference(c.Request.Context(), tenantID, userID, c.Param("type"), update)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// ==========================
// Internal
// ==========================

func (s *Server) handleDispatch() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dispatch.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_FAILED", "message": err.Error()})
			return
		}
		result, err := s.orch.CreateAndDispatch(c.Request.Context(), req)
		s.respondResult(c, result, err)
	}
}

func (s *Server) handleSend() gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := s.orch.Send(c.Request.Context(), c.Param("id"))
		s.respondResult(c, result, err)
	}
}

func (s *Server) handleDelivered() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			ExternalID string `json:"externalId"`
		}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_FAILED", "message": err.Error()})
				return
			}
		}
		n, err := s.orch.MarkDelivered(c.Request.Context(), c.Param("id"), body.ExternalID)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, n)
	}
}

func (s *Server) handleDispatchDue() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		report, err := s.orch.DispatchDue(c.Request.Context(), limit)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func (s *Server) handleHistory() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.history == nil {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "audit history is not configured"})
			return
		}
		events, err := s.history.History(c.Request.Context(), c.Param("id"), 0)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	}
}

func (s *Server) handleInvalidateCache() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cache == nil {
			c.JSON(http.StatusOK, gin.H{"removed": 0})
			return
		}
		removed, err := s.cache.Invalidate(c.Request.Context())
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"removed": removed})
	}
}
