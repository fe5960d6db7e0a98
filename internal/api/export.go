package api

import (
	"net/http"
	"time"

	"notification-engine/internal/analytics"
	"notification-engine/internal/common/errors"
	"notification-engine/internal/models"

	"github.com/gin-gonic/gin"
)

func (s *Server) tenantStats(c *gin.Context) {
	day := s.now()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			respondError(c, errors.NewValidationError("date must be YYYY-MM-DD"))
			return
		}
		day = parsed
	}
	channel := models.Channel(c.Query("channel"))
	if channel == "" {
		respondError(c, errors.NewValidationError("channel query parameter required"))
		return
	}

	stats, err := s.aggregator.TenantStats(c.Request.Context(), c.Param("tenantId"), channel, day)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) campaignStats(c *gin.Context) {
	stats, err := s.aggregator.CampaignStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// export streams notification and attempt history for a date range.
func (s *Server) export(c *gin.Context) {
	tenantID := c.Query("tenantId")
	if tenantID == "" {
		respondError(c, errors.NewValidationError("tenantId query parameter required"))
		return
	}
	from, err := time.Parse("2006-01-02", c.Query("from"))
	if err != nil {
		respondError(c, errors.NewValidationError("from must be YYYY-MM-DD"))
		return
	}
	to, err := time.Parse("2006-01-02", c.Query("to"))
	if err != nil {
		respondError(c, errors.NewValidationError("to must be YYYY-MM-DD"))
		return
	}
	if !to.After(from) {
		respondError(c, errors.NewValidationError("to must be after from"))
		return
	}

	format := analytics.Format(c.DefaultQuery("format", "json"))
	switch format {
	case analytics.FormatCSV:
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", `attachment; filename="export.csv"`)
	case analytics.FormatJSON:
		c.Header("Content-Type", "application/json")
	default:
		respondError(c, errors.NewValidationError("format must be csv or json"))
		return
	}

	c.Status(http.StatusOK)
	if err := s.exporter.Export(c.Request.Context(), c.Writer, format, tenantID, from, to); err != nil {
		s.logger.Error("export failed", map[string]interface{}{
			"tenantId": tenantID, "error": err.Error(),
		})
	}
}
