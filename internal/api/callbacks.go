package api

import (
	"net/http"

	"notification-engine/internal/channels"
	"notification-engine/internal/common/errors"
	"notification-engine/internal/common/metrics"

	"github.com/gin-gonic/gin"
)

// CallbackRouter locates the adapter that understands a provider's receipts.
// The channel registry satisfies it.
type CallbackRouter interface {
	ByName(name string) (channels.Adapter, bool)
}

// handleCallback ingests an asynchronous provider receipt. Receipts for
// notifications already in a terminal engagement state are acknowledged but
// ignored; providers redeliver and the state machine never walks backwards.
func (s *Server) handleCallback(c *gin.Context) {
	provider := c.Param("provider")

	adapter, ok := s.callbacks.ByName(provider)
	if !ok {
		respondError(c, errors.NewNotFoundError("provider", provider))
		return
	}
	parser, ok := adapter.(channels.CallbackParser)
	if !ok {
		respondError(c, errors.NewValidationError("provider "+provider+" has no callback support"))
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		respondError(c, errors.NewValidationError("unreadable callback body"))
		return
	}

	event, err := parser.ParseCallback(body, c.Request.Header)
	if err != nil {
		metrics.CallbacksReceived.WithLabelValues(provider, "rejected").Inc()
		respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	id, err := s.notifications.ApplyCallbackStatus(ctx, event.ProviderMessageID, event.Status, event.OccurredAt)
	if err != nil {
		if errors.CodeOf(err) == errors.ErrCodeConflict {
			metrics.CallbacksReceived.WithLabelValues(provider, "ignored").Inc()
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		metrics.CallbacksReceived.WithLabelValues(provider, "error").Inc()
		respondError(c, err)
		return
	}
	metrics.CallbacksReceived.WithLabelValues(provider, string(event.Status)).Inc()

	if s.aggregator != nil {
		if n, getErr := s.notifications.Get(ctx, id); getErr == nil {
			eventID := event.ProviderMessageID + ":" + string(event.Status)
			if recErr := s.aggregator.RecordStatus(ctx, n, event.Status, eventID, event.OccurredAt); recErr != nil {
				s.logger.Error("callback analytics failed", map[string]interface{}{
					"notificationId": id, "error": recErr.Error(),
				})
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"notificationId": id, "status": string(event.Status)})
}
