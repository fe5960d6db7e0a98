package schedule

import (
	"context"
	"time"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/common/metrics"
	"notification-engine/internal/models"
	"notification-engine/internal/store"

	"github.com/google/uuid"
)

// AudienceResolver expands a campaign audience into concrete recipients.
type AudienceResolver interface {
	Resolve(ctx context.Context, tenantID string, audience models.Audience) ([]models.Recipient, error)
}

// ExplicitResolver handles explicit user-id audiences. Segment and filter
// audiences need a user directory and are wired in by the host application.
type ExplicitResolver struct{}

func (ExplicitResolver) Resolve(_ context.Context, _ string, audience models.Audience) ([]models.Recipient, error) {
	if audience.Kind != models.AudienceExplicit {
		return nil, errors.NewValidationError("audience kind " + string(audience.Kind) + " requires a directory-backed resolver")
	}
	recipients := make([]models.Recipient, 0, len(audience.UserIDs))
	for _, id := range audience.UserIDs {
		recipients = append(recipients, models.Recipient{UserID: id})
	}
	return recipients, nil
}

// ExpiryPolicy bounds how stale a deferred or scheduled fire may be before
// the per-type decision between dropping and sending anyway kicks in.
type ExpiryPolicy struct {
	MaxLateness time.Duration
	Drop        bool
}

// Scheduler promotes due scheduled notifications and fires due campaigns.
type Scheduler struct {
	notifications store.NotificationStore
	campaigns     store.CampaignStore
	templates     store.TemplateStore
	audience      AudienceResolver

	tick       time.Duration
	batchLimit int
	expiry     map[models.NotificationType]ExpiryPolicy
	logger     logger.Logger
	now        func() time.Time
}

type Options struct {
	Tick       time.Duration
	BatchLimit int
	// Expiry overrides the default send-anyway behaviour per type.
	Expiry map[models.NotificationType]ExpiryPolicy
}

func NewScheduler(notifications store.NotificationStore, campaigns store.CampaignStore, templates store.TemplateStore, audience AudienceResolver, opts Options, log logger.Logger) *Scheduler {
	if opts.Tick <= 0 {
		opts.Tick = 5 * time.Second
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 256
	}
	if audience == nil {
		audience = ExplicitResolver{}
	}
	return &Scheduler{
		notifications: notifications,
		campaigns:     campaigns,
		templates:     templates,
		audience:      audience,
		tick:          opts.Tick,
		batchLimit:    opts.BatchLimit,
		expiry:        opts.Expiry,
		logger:        log.WithFields(map[string]interface{}{"component": "scheduler"}),
		now:           time.Now,
	}
}

// Run ticks until ctx is cancelled. A fire missed while the process was down
// goes out on the first tick after recovery, flagged late.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		s.Tick(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

// Tick runs one scheduler pass: scheduled notifications first, campaigns
// second, so a campaign's children never wait an extra tick.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	s.promoteDue(ctx, now)
	s.fireCampaigns(ctx, now)
}

func (s *Scheduler) promoteDue(ctx context.Context, now time.Time) {
	due, err := s.notifications.DueScheduled(ctx, now, s.batchLimit)
	if err != nil {
		s.logger.Error("due scan failed", map[string]interface{}{"error": err.Error()})
		return
	}

	for _, n := range due {
		lateness := now.Sub(*n.ScheduledFor)
		late := lateness > s.tick

		if policy, ok := s.expiry[n.Type]; ok && policy.Drop && lateness > policy.MaxLateness {
			if err := s.notifications.Cancel(ctx, n.ID); err != nil {
				s.logger.Error("expired cancel failed", map[string]interface{}{
					"notificationId": n.ID, "error": err.Error(),
				})
			} else {
				s.logger.Warn("scheduled notification expired", map[string]interface{}{
					"notificationId": n.ID,
					"lateness":       lateness.String(),
				})
			}
			continue
		}

		if err := s.notifications.MarkQueued(ctx, n.ID, now); err != nil {
			s.logger.Error("promotion failed", map[string]interface{}{
				"notificationId": n.ID, "error": err.Error(),
			})
			continue
		}
		metrics.SchedulerFires.WithLabelValues("notification", lateLabel(late)).Inc()
		if late {
			s.logger.Warn("late fire", map[string]interface{}{
				"notificationId": n.ID,
				"scheduledFor":   n.ScheduledFor.Format(time.RFC3339),
				"lateness":       lateness.String(),
			})
		}
	}
}

func (s *Scheduler) fireCampaigns(ctx context.Context, now time.Time) {
	due, err := s.campaigns.DueCampaigns(ctx, now, s.batchLimit)
	if err != nil {
		s.logger.Error("campaign scan failed", map[string]interface{}{"error": err.Error()})
		return
	}

	for _, c := range due {
		late := c.NextFireAt != nil && now.Sub(*c.NextFireAt) > s.tick
		if err := s.fireCampaign(ctx, c, now); err != nil {
			s.logger.Error("campaign fire failed", map[string]interface{}{
				"campaignId": c.ID, "error": err.Error(),
			})
			continue
		}
		metrics.SchedulerFires.WithLabelValues("campaign", lateLabel(late)).Inc()
		s.reschedule(ctx, c, now)
	}
}

func (s *Scheduler) fireCampaign(ctx context.Context, c *models.Campaign, now time.Time) error {
	tmpl, err := s.templates.Get(ctx, c.TemplateID)
	if err != nil {
		return err
	}
	recipients, err := s.audience.Resolve(ctx, c.TenantID, c.Audience)
	if err != nil {
		return err
	}

	fireAt := now
	if c.NextFireAt != nil {
		fireAt = *c.NextFireAt
	}

	created := 0
	for _, recipient := range recipients {
		for _, channel := range c.Channels {
			n := &models.Notification{
				ID:         campaignChildID(c.ID, fireAt, recipient.UserID, channel),
				TenantID:   c.TenantID,
				CampaignID: c.ID,
				TemplateID: c.TemplateID,
				Recipient:  recipient,
				EventType:  tmpl.EventType,
				Type:       models.TypeMarketing,
				Channel:    channel,
				Priority:   models.PriorityMedium,
				Status:     models.StatusQueued,
				Metadata:   models.Metadata{CampaignID: c.ID},
				CreatedAt:  now,
			}
			if err := s.notifications.Create(ctx, n); err != nil {
				if errors.CodeOf(err) == errors.ErrCodeConflict {
					// Already created by an earlier, partially completed
					// fire of this slot.
					continue
				}
				return err
			}
			created++
		}
	}

	s.logger.Info("campaign fired", map[string]interface{}{
		"campaignId": c.ID,
		"recipients": len(recipients),
		"created":    created,
	})
	return nil
}

// campaignChildID derives a stable id for one fire slot, recipient and
// channel. A fire interrupted partway through fan-out re-runs on the next
// tick without producing duplicate sends.
func campaignChildID(campaignID string, fireAt time.Time, userID string, ch models.Channel) string {
	seed := campaignID + "|" + fireAt.UTC().Format(time.RFC3339) + "|" + userID + "|" + string(ch)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}

// reschedule computes the next fire or completes the campaign.
func (s *Scheduler) reschedule(ctx context.Context, c *models.Campaign, now time.Time) {
	if c.Schedule.Kind != models.ScheduleRecurring {
		s.complete(ctx, c)
		return
	}

	recurrence, err := ParseRecurrence(c.Schedule.Recurrence)
	if err != nil {
		s.logger.Error("unparseable recurrence", map[string]interface{}{
			"campaignId": c.ID, "error": err.Error(),
		})
		s.complete(ctx, c)
		return
	}

	next := recurrence.Next(now)
	if c.Schedule.EndDate != nil && next.After(*c.Schedule.EndDate) {
		s.complete(ctx, c)
		return
	}
	if err := s.campaigns.SetNextFire(ctx, c.ID, &next); err != nil {
		s.logger.Error("set next fire failed", map[string]interface{}{
			"campaignId": c.ID, "error": err.Error(),
		})
	}
}

func (s *Scheduler) complete(ctx context.Context, c *models.Campaign) {
	c.Status = "completed"
	c.NextFireAt = nil
	if err := s.campaigns.Update(ctx, c); err != nil {
		s.logger.Error("campaign completion failed", map[string]interface{}{
			"campaignId": c.ID, "error": err.Error(),
		})
	}
}

func lateLabel(late bool) string {
	if late {
		return "true"
	}
	return "false"
}
