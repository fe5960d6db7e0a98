// Package dispatch drives a claimed notification through eligibility,
// rendering, provider selection and the resulting state transition.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"notification-engine/internal/channels"
	"notification-engine/internal/common/errors"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/common/metrics"
	"notification-engine/internal/eligibility"
	"notification-engine/internal/models"
	"notification-engine/internal/quota"
	"notification-engine/internal/retry"
	"notification-engine/internal/store"
	"notification-engine/internal/template"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

// Recorder receives every finished attempt for analytics aggregation.
type Recorder interface {
	RecordAttempt(ctx context.Context, n *models.Notification, a *models.DeliveryAttempt) error
}

type Dispatcher struct {
	notifications store.NotificationStore
	templates     store.TemplateStore
	prefs         store.PreferenceStore
	settings      store.SettingsStore
	attempts      store.AttemptStore
	resolver      *eligibility.Resolver
	registry      *channels.Registry
	quotas        quota.Counter
	recorder      Recorder

	breakerMu      sync.Mutex
	breakers       map[string]*gobreaker.CircuitBreaker
	adapterTimeout time.Duration
	logger         logger.Logger
	now            func() time.Time
}

type Deps struct {
	Notifications store.NotificationStore
	Templates     store.TemplateStore
	Preferences   store.PreferenceStore
	Settings      store.SettingsStore
	Attempts      store.AttemptStore
	Resolver      *eligibility.Resolver
	Registry      *channels.Registry
	Quotas        quota.Counter
	Recorder      Recorder
	Logger        logger.Logger
}

func NewDispatcher(deps Deps, adapterTimeout time.Duration) *Dispatcher {
	if adapterTimeout <= 0 {
		adapterTimeout = 10 * time.Second
	}
	return &Dispatcher{
		notifications:  deps.Notifications,
		templates:      deps.Templates,
		prefs:          deps.Preferences,
		settings:       deps.Settings,
		attempts:       deps.Attempts,
		resolver:       deps.Resolver,
		registry:       deps.Registry,
		quotas:         deps.Quotas,
		recorder:       deps.Recorder,
		breakers:       map[string]*gobreaker.CircuitBreaker{},
		adapterTimeout: adapterTimeout,
		logger:         deps.Logger.WithFields(map[string]interface{}{"component": "dispatch"}),
		now:            time.Now,
	}
}

// Dispatch runs one delivery cycle for the given id. It is safe to call from
// any number of workers: the store claim admits exactly one of them, the
// rest return immediately with no side effects.
func (d *Dispatcher) Dispatch(ctx context.Context, id string) error {
	claimed, err := d.notifications.ClaimForSending(ctx, id)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	n, err := d.notifications.Get(ctx, id)
	if err != nil {
		return err
	}

	start := d.now()
	err = d.deliver(ctx, n)
	metrics.DispatchDuration.WithLabelValues(string(n.Channel)).Observe(d.now().Sub(start).Seconds())
	return err
}

func (d *Dispatcher) deliver(ctx context.Context, n *models.Notification) error {
	now := d.now()

	decision, err := d.resolver.Resolve(ctx, eligibility.Request{
		TenantID: n.TenantID,
		UserID:   n.Recipient.UserID,
		Type:     n.Type,
		Channel:  n.Channel,
		Priority: n.Priority,
		SendAt:   now,
	})
	if err != nil {
		return d.retryOrFail(ctx, n, err)
	}
	if !decision.Allowed {
		metrics.NotificationsDenied.WithLabelValues(string(n.Channel), string(decision.Reason)).Inc()
		return d.notifications.MarkFailed(ctx, n.ID, string(decision.Reason))
	}
	if decision.DeferUntil != nil {
		metrics.NotificationsDenied.WithLabelValues(string(n.Channel), "quiet_hours_deferred").Inc()
		return d.notifications.Defer(ctx, n.ID, *decision.DeferUntil)
	}

	settings, err := d.settings.GetTenant(ctx, n.TenantID)
	if err != nil {
		return d.retryOrFail(ctx, n, err)
	}

	payload, err := d.render(ctx, n, settings)
	if err != nil {
		// Template problems never fix themselves on retry.
		return d.notifications.MarkFailed(ctx, n.ID, err.Error())
	}

	// Quota is reserved once per notification, on the first attempt. Retries
	// ride on the original reservation.
	if n.AttemptCount == 0 {
		if err := d.quotas.Consume(ctx, n.TenantID, n.Channel, settings, now); err != nil {
			if errors.CodeOf(err) != errors.ErrCodeQuotaExceeded {
				// Counter store failure, not a quota denial. Retry later.
				return d.retryOrFail(ctx, n, err)
			}
			metrics.NotificationsDenied.WithLabelValues(string(n.Channel), string(eligibility.DenyQuotaExceeded)).Inc()
			return d.notifications.MarkFailed(ctx, n.ID, string(errors.CodeOf(err)))
		}
	}

	chain, err := d.registry.For(n.Channel, settings)
	if err != nil {
		return d.notifications.MarkFailed(ctx, n.ID, err.Error())
	}

	var lastErr error
	for i, adapter := range chain {
		if i > 0 {
			metrics.ProviderFailovers.WithLabelValues(
				string(n.Channel), chain[i-1].Name(), adapter.Name()).Inc()
		}

		callStart := d.now()
		result, sendErr := d.send(ctx, adapter, n, payload)
		latency := d.now().Sub(callStart).Milliseconds()
		d.recordAttempt(ctx, n, adapter.Name(), latency, sendErr)

		if sendErr == nil {
			return d.complete(ctx, n, adapter.Name(), result)
		}
		lastErr = sendErr

		metrics.NotificationsDispatched.WithLabelValues(
			string(n.Channel), adapter.Name(), "failed").Inc()

		if !retry.Retryable(sendErr) {
			// Permanent errors stop the chain; a fallback provider cannot
			// fix a bad recipient or a rejected message.
			return d.notifications.MarkFailed(ctx, n.ID, sendErr.Error())
		}
	}

	return d.retryOrFail(ctx, n, lastErr)
}

// send runs one adapter call under the per-provider breaker and deadline.
func (d *Dispatcher) send(ctx context.Context, adapter channels.Adapter, n *models.Notification, payload *template.Payload) (*channels.Result, error) {
	breaker := d.breakerFor(adapter.Name())

	callCtx, cancel := context.WithTimeout(ctx, d.adapterTimeout)
	defer cancel()

	out, err := breaker.Execute(func() (interface{}, error) {
		return adapter.Send(callCtx, n, payload)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, errors.NewTransientProviderError(adapter.Name(), err)
	}
	if err != nil {
		return nil, err
	}
	return out.(*channels.Result), nil
}

func (d *Dispatcher) complete(ctx context.Context, n *models.Notification, provider string, result *channels.Result) error {
	now := d.now()
	if err := d.notifications.MarkSent(ctx, n.ID, provider, result.ProviderMessageID, now); err != nil {
		return err
	}
	metrics.NotificationsDispatched.WithLabelValues(string(n.Channel), provider, "sent").Inc()

	// In-app delivery is the row itself; there is no asynchronous receipt.
	if n.Channel == models.ChannelInApp {
		if _, err := d.notifications.ApplyCallbackStatus(ctx, result.ProviderMessageID, models.StatusDelivered, now); err != nil {
			return err
		}
	}

	d.logger.Info("notification sent", map[string]interface{}{
		"notificationId": n.ID,
		"channel":        n.Channel,
		"provider":       provider,
		"attempt":        n.AttemptCount + 1,
	})
	return nil
}

// retryOrFail schedules the next backoff slot or records terminal failure
// once the attempt budget is spent.
func (d *Dispatcher) retryOrFail(ctx context.Context, n *models.Notification, cause error) error {
	reason := "dispatch failed"
	if cause != nil {
		reason = cause.Error()
	}

	attemptsMade := n.AttemptCount + 1
	delay, ok := retry.NextDelay(attemptsMade)
	if !ok || (cause != nil && !retry.Retryable(cause)) {
		return d.notifications.MarkFailed(ctx, n.ID, reason)
	}

	due := d.now().Add(delay)
	if err := d.notifications.RequeueForRetry(ctx, n.ID, due, reason); err != nil {
		// Cancellation mid-send flips suppress_retry; the requeue conflict
		// resolves to a terminal failure.
		if errors.CodeOf(err) == errors.ErrCodeConflict {
			return d.notifications.MarkFailed(ctx, n.ID, "retry suppressed: "+reason)
		}
		return err
	}
	metrics.RetriesScheduled.WithLabelValues(string(n.Channel)).Inc()
	d.logger.Warn("retry scheduled", map[string]interface{}{
		"notificationId": n.ID,
		"attempt":        attemptsMade,
		"nextAttemptAt":  due.Format(time.RFC3339),
		"reason":         reason,
	})
	return nil
}

func (d *Dispatcher) render(ctx context.Context, n *models.Notification, settings *models.TenantSettings) (*template.Payload, error) {
	var (
		tmpl *models.NotificationTemplate
		err  error
	)
	if n.TemplateID != "" {
		tmpl, err = d.templates.Get(ctx, n.TemplateID)
	} else {
		tmpl, err = d.templates.Resolve(ctx, n.TenantID, n.EventType, n.Channel, d.language(ctx, n, settings))
	}
	if err != nil {
		return nil, err
	}

	branded := settings != nil && settings.BrandingEnabled
	return template.Render(tmpl, templateVars(n), branded)
}

// language picks the render language: user preference, then tenant default.
func (d *Dispatcher) language(ctx context.Context, n *models.Notification, settings *models.TenantSettings) string {
	if n.Metadata.Locale != "" {
		return n.Metadata.Locale
	}
	if prefs, err := d.prefs.Get(ctx, n.TenantID, n.Recipient.UserID); err == nil && prefs != nil && prefs.Language != "" {
		return prefs.Language
	}
	if settings != nil {
		return settings.DefaultLanguage
	}
	return ""
}

func templateVars(n *models.Notification) map[string]string {
	vars := make(map[string]string, len(n.Metadata.Extra)+2)
	for k, v := range n.Metadata.Extra {
		vars[k] = fmt.Sprint(v)
	}
	vars["user_id"] = n.Recipient.UserID
	vars["event_type"] = n.EventType
	return vars
}

func (d *Dispatcher) recordAttempt(ctx context.Context, n *models.Notification, provider string, latencyMS int64, sendErr error) {
	now := d.now()
	attempt := &models.DeliveryAttempt{
		ID:             uuid.NewString(),
		NotificationID: n.ID,
		TenantID:       n.TenantID,
		Channel:        n.Channel,
		Provider:       provider,
		Outcome:        models.OutcomeSent,
		LatencyMS:      latencyMS,
		AttemptedAt:    now,
	}
	if sendErr != nil {
		attempt.Outcome = models.OutcomeFailed
		attempt.ErrorCode = string(errors.CodeOf(sendErr))
		if errors.CodeOf(sendErr) == errors.ErrCodeProviderTimeout {
			attempt.Outcome = models.OutcomeTimeout
		}
	}

	if err := d.attempts.Append(ctx, attempt); err != nil {
		d.logger.Error("attempt log append failed", map[string]interface{}{
			"notificationId": n.ID,
			"error":          err.Error(),
		})
		return
	}
	if d.recorder != nil {
		if err := d.recorder.RecordAttempt(ctx, n, attempt); err != nil {
			d.logger.Error("analytics record failed", map[string]interface{}{
				"notificationId": n.ID,
				"error":          err.Error(),
			})
		}
	}
}

func (d *Dispatcher) breakerFor(provider string) *gobreaker.CircuitBreaker {
	d.breakerMu.Lock()
	defer d.breakerMu.Unlock()
	if b, ok := d.breakers[provider]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    provider,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	d.breakers[provider] = b
	return b
}
