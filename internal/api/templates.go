package api

import (
	"net/http"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func (s *Server) createTemplate(c *gin.Context) {
	var tmpl models.NotificationTemplate
	if err := c.ShouldBindJSON(&tmpl); err != nil {
		respondError(c, errors.NewValidationError(err.Error()))
		return
	}
	if tmpl.TenantID == "" || tmpl.EventType == "" || tmpl.Channel == "" {
		respondError(c, errors.NewValidationError("tenantId, eventType and channel are required"))
		return
	}
	if tmpl.Body == "" {
		respondError(c, errors.NewValidationError("template body required"))
		return
	}

	tmpl.ID = uuid.NewString()
	// System templates are seeded out of band, never through this API.
	tmpl.IsSystem = false
	tmpl.CreatedAt = s.now()
	tmpl.UpdatedAt = tmpl.CreatedAt

	if err := s.templates.Create(c.Request.Context(), &tmpl); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tmpl)
}

func (s *Server) getTemplate(c *gin.Context) {
	tmpl, err := s.templates.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tmpl)
}

func (s *Server) updateTemplate(c *gin.Context) {
	var tmpl models.NotificationTemplate
	if err := c.ShouldBindJSON(&tmpl); err != nil {
		respondError(c, errors.NewValidationError(err.Error()))
		return
	}
	tmpl.ID = c.Param("id")
	tmpl.UpdatedAt = s.now()

	if err := s.templates.Update(c.Request.Context(), &tmpl); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tmpl)
}

func (s *Server) deleteTemplate(c *gin.Context) {
	if err := s.templates.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listTemplates(c *gin.Context) {
	templates, err := s.templates.ListByTenant(c.Request.Context(), c.Param("tenantId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": templates})
}
