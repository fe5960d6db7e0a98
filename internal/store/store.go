// Package store defines the persistence contracts the engine depends on.
// Implementations: postgres (production) and memory (tests, in-app channel).
package store

import (
	"context"
	"time"

	"notification-engine/internal/models"
)

// NotificationStore persists notifications and owns every status transition.
type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	Get(ctx context.Context, id string) (*models.Notification, error)

	// MarkQueued moves pending→queued, clearing or setting the due time.
	MarkQueued(ctx context.Context, id string, at time.Time) error

	// ClaimForSending atomically moves queued→sending for one id. Returns
	// false when another worker already holds the claim or the status moved
	// on; this is the single-flight guarantee.
	ClaimForSending(ctx context.Context, id string) (bool, error)

	// DequeueBatch returns queued, due notifications ordered urgent-first,
	// then by creation time. It does not claim them.
	DequeueBatch(ctx context.Context, now time.Time, limit int) ([]*models.Notification, error)

	// DueScheduled returns pending notifications whose scheduled_for has
	// passed, for promotion by the scheduler.
	DueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.Notification, error)

	// MarkSent records adapter acceptance (sending→sent).
	MarkSent(ctx context.Context, id, provider, providerMessageID string, at time.Time) error

	// MarkFailed records a terminal failure with its reason.
	MarkFailed(ctx context.Context, id, reason string) error

	// RequeueForRetry moves sending→queued with a future due time and bumps
	// the attempt count.
	RequeueForRetry(ctx context.Context, id string, at time.Time, reason string) error

	// Defer moves sending→queued for a later window (quiet hours) without
	// consuming attempt budget.
	Defer(ctx context.Context, id string, at time.Time) error

	// ApplyCallbackStatus applies an asynchronous provider transition
	// (delivered, bounced, read, clicked) located by provider message id.
	ApplyCallbackStatus(ctx context.Context, providerMessageID string, to models.Status, at time.Time) (string, error)

	// Cancel moves a pending or queued notification to cancelled. A sending
	// notification gets suppress_retry set instead and ErrStatusConflict.
	Cancel(ctx context.Context, id string) error
	SuppressRetry(ctx context.Context, id string) error

	// ReopenForRetry re-queues one failed notification for a fresh delivery
	// cycle: attempt count reset, suppress_retry cleared. The only legal exit
	// from a terminal state, and only via the manual retry operation.
	ReopenForRetry(ctx context.Context, id string) error

	ListByUser(ctx context.Context, tenantID, userID string, limit, offset int) ([]*models.Notification, error)
	UnreadCount(ctx context.Context, tenantID, userID string) (int64, error)
	MarkRead(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error

	ListForExport(ctx context.Context, tenantID string, from, to time.Time) ([]*models.Notification, error)
}

// TemplateStore resolves and manages notification templates.
type TemplateStore interface {
	Create(ctx context.Context, t *models.NotificationTemplate) error
	Get(ctx context.Context, id string) (*models.NotificationTemplate, error)

	// Resolve finds the best template for a send: exact language first, then
	// the tenant default language, then the system template for the event.
	Resolve(ctx context.Context, tenantID, eventType string, channel models.Channel, language string) (*models.NotificationTemplate, error)

	Update(ctx context.Context, t *models.NotificationTemplate) error

	// Delete refuses system templates.
	Delete(ctx context.Context, id string) error

	ListByTenant(ctx context.Context, tenantID string) ([]*models.NotificationTemplate, error)
}

// PreferenceStore reads and writes per-user notification preferences.
type PreferenceStore interface {
	Get(ctx context.Context, tenantID, userID string) (*models.UserPreference, error)
	Upsert(ctx context.Context, p *models.UserPreference) error
}

// SettingsStore holds tenant settings and the global kill switch.
type SettingsStore interface {
	GetTenant(ctx context.Context, tenantID string) (*models.TenantSettings, error)
	UpsertTenant(ctx context.Context, s *models.TenantSettings) error
	GlobalKillSwitch(ctx context.Context) (bool, error)
	SetGlobalKillSwitch(ctx context.Context, enabled bool) error
}

// AttemptStore is the append-only delivery attempt log.
type AttemptStore interface {
	Append(ctx context.Context, a *models.DeliveryAttempt) error
	ListByNotification(ctx context.Context, notificationID string) ([]*models.DeliveryAttempt, error)
	ListForExport(ctx context.Context, tenantID string, from, to time.Time) ([]*models.DeliveryAttempt, error)
}

// CampaignStore persists campaigns and their scheduler bookkeeping.
type CampaignStore interface {
	Create(ctx context.Context, c *models.Campaign) error
	Get(ctx context.Context, id string) (*models.Campaign, error)
	Update(ctx context.Context, c *models.Campaign) error

	// DueCampaigns returns active campaigns whose next_fire_at has passed.
	DueCampaigns(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error)
	SetNextFire(ctx context.Context, id string, at *time.Time) error
}
