package api

import (
	"net/http"
	"strconv"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/models"

	"github.com/gin-gonic/gin"
)

// listUserNotifications pages through a user's in-app inbox, newest first.
func (s *Server) listUserNotifications(c *gin.Context) {
	tenantID := c.Query("tenantId")
	if tenantID == "" {
		respondError(c, errors.NewValidationError("tenantId query parameter required"))
		return
	}
	limit := intQuery(c, "limit", 20, 100)
	offset := intQuery(c, "offset", 0, 1<<30)

	items, err := s.notifications.ListByUser(c.Request.Context(), tenantID, c.Param("id"), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"notifications": items,
		"limit":         limit,
		"offset":        offset,
	})
}

func (s *Server) unreadCount(c *gin.Context) {
	tenantID := c.Query("tenantId")
	if tenantID == "" {
		respondError(c, errors.NewValidationError("tenantId query parameter required"))
		return
	}
	count, err := s.notifications.UnreadCount(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

func (s *Server) markRead(c *gin.Context) {
	id := c.Param("notificationId")
	if err := s.notifications.MarkRead(c.Request.Context(), id, s.now()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notificationId": id, "status": string(models.StatusRead)})
}

func (s *Server) deleteUserNotification(c *gin.Context) {
	if err := s.notifications.Delete(c.Request.Context(), c.Param("notificationId")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getPreferences(c *gin.Context) {
	tenantID := c.Query("tenantId")
	if tenantID == "" {
		respondError(c, errors.NewValidationError("tenantId query parameter required"))
		return
	}
	prefs, err := s.prefs.Get(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if prefs == nil {
		// Untouched preferences mean everything is enabled.
		prefs = &models.UserPreference{UserID: c.Param("id"), TenantID: tenantID}
	}
	c.JSON(http.StatusOK, prefs)
}

func (s *Server) putPreferences(c *gin.Context) {
	var prefs models.UserPreference
	if err := c.ShouldBindJSON(&prefs); err != nil {
		respondError(c, errors.NewValidationError(err.Error()))
		return
	}
	prefs.UserID = c.Param("id")
	if prefs.TenantID == "" {
		respondError(c, errors.NewValidationError("tenantId required"))
		return
	}
	prefs.UpdatedAt = s.now()

	if err := s.prefs.Upsert(c.Request.Context(), &prefs); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, prefs)
}

func intQuery(c *gin.Context, name string, fallback, max int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	if v > max {
		return max
	}
	return v
}
