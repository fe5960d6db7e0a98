package api

import (
	"net/http"
	"time"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/eligibility"
	"notification-engine/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type sendRequest struct {
	TenantID   string                 `json:"tenantId" binding:"required"`
	EventType  string                 `json:"eventType" binding:"required"`
	Type       string                 `json:"type" binding:"required"`
	Channel    string                 `json:"channel" binding:"required"`
	Priority   string                 `json:"priority"`
	TemplateID string                 `json:"templateId"`
	Recipient  models.Recipient       `json:"recipient" binding:"required"`
	Variables  map[string]interface{} `json:"variables"`
	Metadata   map[string]interface{} `json:"metadata"`
	SendAt     *time.Time             `json:"sendAt"`
}

var (
	validChannels = map[models.Channel]bool{
		models.ChannelEmail: true, models.ChannelSMS: true, models.ChannelPush: true,
		models.ChannelWebhook: true, models.ChannelInApp: true,
	}
	validTypes = map[models.NotificationType]bool{
		models.TypeTransactional: true, models.TypeSecurity: true, models.TypeSystem: true,
		models.TypeMarketing: true, models.TypeDigest: true,
	}
	validPriorities = map[models.Priority]bool{
		models.PriorityLow: true, models.PriorityMedium: true,
		models.PriorityHigh: true, models.PriorityUrgent: true,
	}
)

// sendNotification is the accept endpoint. The response reports the intake
// decision, never the delivery outcome; delivery is asynchronous.
func (s *Server) sendNotification(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.NewValidationError(err.Error()))
		return
	}

	channel := models.Channel(req.Channel)
	nType := models.NotificationType(req.Type)
	priority := models.Priority(req.Priority)
	if priority == "" {
		priority = models.PriorityMedium
	}
	switch {
	case !validChannels[channel]:
		respondError(c, errors.NewValidationError("unknown channel: "+req.Channel))
		return
	case !validTypes[nType]:
		respondError(c, errors.NewValidationError("unknown type: "+req.Type))
		return
	case !validPriorities[priority]:
		respondError(c, errors.NewValidationError("unknown priority: "+req.Priority))
		return
	}
	if req.Recipient.AddressFor(channel) == "" {
		respondError(c, errors.NewInvalidRecipientError("no address for channel "+req.Channel))
		return
	}

	metadata, err := models.NewMetadata(req.Metadata)
	if err != nil {
		respondError(c, errors.NewValidationError(err.Error()))
		return
	}
	if len(req.Variables) > 0 {
		if metadata.Extra == nil {
			metadata.Extra = map[string]interface{}{}
		}
		for k, v := range req.Variables {
			metadata.Extra[k] = v
		}
	}

	now := s.now()
	sendAt := now
	if req.SendAt != nil && req.SendAt.After(now) {
		sendAt = *req.SendAt
	}

	decision, err := s.resolver.Resolve(c.Request.Context(), eligibility.Request{
		TenantID: req.TenantID,
		UserID:   req.Recipient.UserID,
		Type:     nType,
		Channel:  channel,
		Priority: priority,
		SendAt:   sendAt,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if !decision.Allowed {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"status": "denied",
			"reason": string(decision.Reason),
		})
		return
	}
	if decision.DeferUntil != nil && decision.DeferUntil.After(sendAt) {
		sendAt = *decision.DeferUntil
	}

	n := &models.Notification{
		ID:         uuid.NewString(),
		TenantID:   req.TenantID,
		CampaignID: metadata.CampaignID,
		TemplateID: req.TemplateID,
		Recipient:  req.Recipient,
		EventType:  req.EventType,
		Type:       nType,
		Channel:    channel,
		Priority:   priority,
		Metadata:   metadata,
		CreatedAt:  now,
	}
	if sendAt.After(now) {
		n.Status = models.StatusPending
		n.ScheduledFor = &sendAt
	} else {
		n.Status = models.StatusQueued
	}

	if err := s.notifications.Create(c.Request.Context(), n); err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{"notificationId": n.ID, "status": string(n.Status)}
	if n.ScheduledFor != nil {
		resp["scheduledFor"] = n.ScheduledFor.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusAccepted, resp)
}

func (s *Server) getNotification(c *gin.Context) {
	n, err := s.notifications.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (s *Server) cancelNotification(c *gin.Context) {
	id := c.Param("id")
	if err := s.notifications.Cancel(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notificationId": id, "status": string(models.StatusCancelled)})
}

func (s *Server) retryNotification(c *gin.Context) {
	id := c.Param("id")
	if err := s.retries.RetryNow(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notificationId": id, "status": string(models.StatusQueued)})
}

// getProviderStatus polls the delivering provider for its view of a
// handed-off notification. The engine's own state stays callback-driven.
func (s *Server) getProviderStatus(c *gin.Context) {
	n, err := s.notifications.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if n.Provider == "" || n.ProviderMessageID == "" {
		respondError(c, errors.NewValidationError("notification has not been handed to a provider"))
		return
	}
	adapter, ok := s.callbacks.ByName(n.Provider)
	if !ok {
		respondError(c, errors.NewNotFoundError("provider", n.Provider))
		return
	}
	status, err := adapter.CheckStatus(c.Request.Context(), n.ProviderMessageID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"notificationId": n.ID,
		"provider":       n.Provider,
		"providerStatus": string(status),
	})
}

func (s *Server) listAttempts(c *gin.Context) {
	attempts, err := s.attempts.ListByNotification(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": attempts})
}
