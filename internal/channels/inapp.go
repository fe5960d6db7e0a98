package channels

import (
	"context"

	"notification-engine/internal/common/logger"
	"notification-engine/internal/models"
	"notification-engine/internal/template"

	"github.com/google/uuid"
)

const ProviderInApp = "inapp"

// InAppAdapter delivers to the user's in-app inbox. The notification row
// itself is the inbox entry, so a send has no external call; acceptance is
// immediate and the dispatcher promotes it straight to delivered.
type InAppAdapter struct {
	logger logger.Logger
}

var _ Adapter = (*InAppAdapter)(nil)

func NewInAppAdapter(log logger.Logger) *InAppAdapter {
	return &InAppAdapter{logger: log.WithFields(map[string]interface{}{"provider": ProviderInApp})}
}

func (a *InAppAdapter) Name() string            { return ProviderInApp }
func (a *InAppAdapter) Channel() models.Channel { return models.ChannelInApp }

// In-app delivery is synchronous; an accepted message is a delivered one.
func (a *InAppAdapter) CheckStatus(_ context.Context, _ string) (models.Status, error) {
	return models.StatusDelivered, nil
}

func (a *InAppAdapter) Send(_ context.Context, n *models.Notification, _ *template.Payload) (*Result, error) {
	id := uuid.NewString()
	a.logger.Debug("in-app notification stored", map[string]interface{}{
		"notificationId": n.ID,
		"userId":         n.Recipient.UserID,
	})
	return &Result{ProviderMessageID: id, Accepted: true}, nil
}
