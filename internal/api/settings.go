package api

import (
	"net/http"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/models"

	"github.com/gin-gonic/gin"
)

func (s *Server) getTenantSettings(c *gin.Context) {
	settings, err := s.settings.GetTenant(c.Request.Context(), c.Param("tenantId"))
	if err != nil {
		respondError(c, err)
		return
	}
	if settings == nil {
		settings = &models.TenantSettings{TenantID: c.Param("tenantId")}
	}
	c.JSON(http.StatusOK, settings)
}

// putTenantSettings replaces a tenant's configuration. Every write lands in
// the audit log with the caller identity header.
func (s *Server) putTenantSettings(c *gin.Context) {
	var settings models.TenantSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		respondError(c, errors.NewValidationError(err.Error()))
		return
	}
	settings.TenantID = c.Param("tenantId")
	settings.UpdatedAt = s.now()

	if err := s.settings.UpsertTenant(c.Request.Context(), &settings); err != nil {
		respondError(c, err)
		return
	}

	s.audit.Info("tenant settings updated", map[string]interface{}{
		"tenantId":  settings.TenantID,
		"actor":     actor(c),
		"channels":  settings.ChannelEnabled,
		"types":     settings.TypeEnabled,
		"overrides": settings.AdminDisabled,
	})
	c.JSON(http.StatusOK, settings)
}

func (s *Server) getKillSwitch(c *gin.Context) {
	enabled, err := s.settings.GlobalKillSwitch(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": enabled})
}

// putKillSwitch flips the global kill switch. This halts every tenant's
// sends, so the write is always audit-logged.
func (s *Server) putKillSwitch(c *gin.Context) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.NewValidationError(err.Error()))
		return
	}

	if err := s.settings.SetGlobalKillSwitch(c.Request.Context(), req.Enabled); err != nil {
		respondError(c, err)
		return
	}

	s.audit.Warn("global kill switch changed", map[string]interface{}{
		"enabled": req.Enabled,
		"actor":   actor(c),
	})
	c.JSON(http.StatusOK, gin.H{"enabled": req.Enabled})
}

func actor(c *gin.Context) string {
	if v := c.GetHeader("X-Actor-Id"); v != "" {
		return v
	}
	return "unknown"
}
