// Package api exposes the engine over HTTP: the send API, provider
// callbacks, user queries, template and settings administration, and export.
package api

import (
	"time"

	"notification-engine/internal/analytics"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/eligibility"
	"notification-engine/internal/retry"
	"notification-engine/internal/store"

	"github.com/gin-gonic/gin"
)

type Server struct {
	notifications store.NotificationStore
	templates     store.TemplateStore
	prefs         store.PreferenceStore
	settings      store.SettingsStore
	attempts      store.AttemptStore
	campaigns     store.CampaignStore
	resolver      *eligibility.Resolver
	retries       *retry.Manager
	aggregator    *analytics.Aggregator
	exporter      *analytics.Exporter
	callbacks     CallbackRouter
	logger        logger.Logger
	audit         logger.Logger
	now           func() time.Time
}

type ServerDeps struct {
	Notifications store.NotificationStore
	Templates     store.TemplateStore
	Preferences   store.PreferenceStore
	Settings      store.SettingsStore
	Attempts      store.AttemptStore
	Campaigns     store.CampaignStore
	Resolver      *eligibility.Resolver
	Retries       *retry.Manager
	Aggregator    *analytics.Aggregator
	Exporter      *analytics.Exporter
	Callbacks     CallbackRouter
	Logger        logger.Logger
}

func NewServer(deps ServerDeps) *Server {
	return &Server{
		notifications: deps.Notifications,
		templates:     deps.Templates,
		prefs:         deps.Preferences,
		settings:      deps.Settings,
		attempts:      deps.Attempts,
		campaigns:     deps.Campaigns,
		resolver:      deps.Resolver,
		retries:       deps.Retries,
		aggregator:    deps.Aggregator,
		exporter:      deps.Exporter,
		callbacks:     deps.Callbacks,
		logger:        deps.Logger.WithFields(map[string]interface{}{"component": "api"}),
		audit:         deps.Logger.WithFields(map[string]interface{}{"component": "api", "audit": true}),
		now:           time.Now,
	}
}

// Router builds the gin engine with every route mounted.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", s.health)

	v1 := r.Group("/v1")
	{
		v1.POST("/notifications", s.sendNotification)
		v1.GET("/notifications/:id", s.getNotification)
		v1.POST("/notifications/:id/cancel", s.cancelNotification)
		v1.POST("/notifications/:id/retry", s.retryNotification)
		v1.GET("/notifications/:id/attempts", s.listAttempts)
		v1.GET("/notifications/:id/provider-status", s.getProviderStatus)

		v1.POST("/callbacks/:provider", s.handleCallback)

		v1.GET("/users/:id/notifications", s.listUserNotifications)
		v1.GET("/users/:id/notifications/unread-count", s.unreadCount)
		v1.POST("/users/:id/notifications/:notificationId/read", s.markRead)
		v1.DELETE("/users/:id/notifications/:notificationId", s.deleteUserNotification)
		v1.GET("/users/:id/preferences", s.getPreferences)
		v1.PUT("/users/:id/preferences", s.putPreferences)

		v1.POST("/templates", s.createTemplate)
		v1.GET("/templates/:id", s.getTemplate)
		v1.PUT("/templates/:id", s.updateTemplate)
		v1.DELETE("/templates/:id", s.deleteTemplate)
		v1.GET("/tenants/:tenantId/templates", s.listTemplates)

		v1.GET("/tenants/:tenantId/settings", s.getTenantSettings)
		v1.PUT("/tenants/:tenantId/settings", s.putTenantSettings)
		v1.GET("/admin/kill-switch", s.getKillSwitch)
		v1.PUT("/admin/kill-switch", s.putKillSwitch)

		v1.GET("/tenants/:tenantId/stats", s.tenantStats)
		v1.GET("/campaigns/:id/stats", s.campaignStats)
		v1.GET("/export", s.export)
	}
	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := s.now()
		c.Next()
		s.logger.Info("http request", map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": s.now().Sub(start).String(),
		})
	}
}
