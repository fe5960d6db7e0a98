// Package eligibility decides, per send, whether a notification may go out
// now, later, or not at all. The resolver is a pure read: it never mutates
// counters or preferences, it only inspects them.
package eligibility

import (
	"context"
	"time"

	"notification-engine/internal/common/logger"
	"notification-engine/internal/models"
	"notification-engine/internal/quota"
	"notification-engine/internal/store"
)

// DenyReason is the machine-readable reason code returned to callers.
type DenyReason string

const (
	DenyGlobalDisabled DenyReason = "global_disabled"
	DenyTenantDisabled DenyReason = "tenant_disabled"
	DenyQuotaExceeded  DenyReason = "quota_exceeded"
	DenyUserOptedOut   DenyReason = "user_opted_out"
)

// Decision is the resolver output. Allowed with a nil DeferUntil means send
// now; a non-nil DeferUntil means allow-at(t) for the scheduler to re-queue.
type Decision struct {
	Allowed    bool
	Reason     DenyReason
	DeferUntil *time.Time
}

func allow() Decision                 { return Decision{Allowed: true} }
func deny(reason DenyReason) Decision { return Decision{Reason: reason} }
func allowAt(t time.Time) Decision    { return Decision{Allowed: true, DeferUntil: &t} }

// Request carries everything one eligibility evaluation needs.
type Request struct {
	TenantID string
	UserID   string
	Type     models.NotificationType
	Channel  models.Channel
	Priority models.Priority
	SendAt   time.Time
}

type Resolver struct {
	settings store.SettingsStore
	prefs    store.PreferenceStore
	quotas   quota.Counter
	logger   logger.Logger
}

func NewResolver(settings store.SettingsStore, prefs store.PreferenceStore, quotas quota.Counter, log logger.Logger) *Resolver {
	return &Resolver{
		settings: settings,
		prefs:    prefs,
		quotas:   quotas,
		logger:   log.WithFields(map[string]interface{}{"component": "eligibility"}),
	}
}

// Resolve evaluates the checks in strict order; the first deny wins.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Decision, error) {
	decision, err := r.resolve(ctx, req)
	if err != nil {
		return decision, err
	}
	r.audit(req, decision)
	return decision, nil
}

func (r *Resolver) resolve(ctx context.Context, req Request) (Decision, error) {
	// 1. Global kill switch sits above every tenant setting.
	killed, err := r.settings.GlobalKillSwitch(ctx)
	if err != nil {
		return Decision{}, err
	}
	if killed {
		return deny(DenyGlobalDisabled), nil
	}

	// 2. Tenant channel/type toggles, including super-admin overrides.
	settings, err := r.settings.GetTenant(ctx, req.TenantID)
	if err != nil {
		return Decision{}, err
	}
	if !settings.ChannelAllowed(req.Channel) || !settings.TypeAllowed(req.Type) {
		return deny(DenyTenantDisabled), nil
	}

	// 3. Quota windows already consumed.
	if full, err := r.quotaFull(ctx, req, settings); err != nil {
		return Decision{}, err
	} else if full {
		return deny(DenyQuotaExceeded), nil
	}

	// 4. Transactional/security/system skip every user-level opt-out.
	if req.Type.IsMandatory() {
		return allow(), nil
	}

	prefs, err := r.prefs.Get(ctx, req.TenantID, req.UserID)
	if err != nil {
		return Decision{}, err
	}

	// 5. User opt-outs.
	if !prefs.ChannelAllowed(req.Channel) || !prefs.TypeAllowed(req.Type) {
		return deny(DenyUserOptedOut), nil
	}

	// 6. Quiet hours defer non-urgent sends to the window exit.
	if prefs != nil && req.Priority != models.PriorityUrgent {
		inside, err := prefs.QuietHours.Contains(req.SendAt)
		if err != nil {
			return Decision{}, err
		}
		if inside {
			exit, err := prefs.QuietHours.NextExit(req.SendAt)
			if err != nil {
				return Decision{}, err
			}
			return allowAt(exit), nil
		}
	}

	return allow(), nil
}

func (r *Resolver) quotaFull(ctx context.Context, req Request, settings *models.TenantSettings) (bool, error) {
	for _, window := range []models.QuotaWindow{models.QuotaDaily, models.QuotaMonthly} {
		limit := settings.QuotaFor(req.Channel, window)
		if limit == 0 {
			continue
		}
		used, err := r.quotas.Usage(ctx, req.TenantID, req.Channel, window, req.SendAt)
		if err != nil {
			return false, err
		}
		if used >= limit {
			return true, nil
		}
	}
	return false, nil
}

func (r *Resolver) audit(req Request, d Decision) {
	fields := map[string]interface{}{
		"tenantId": req.TenantID,
		"userId":   req.UserID,
		"type":     req.Type,
		"channel":  req.Channel,
		"allowed":  d.Allowed,
	}
	if d.Reason != "" {
		fields["reason"] = d.Reason
	}
	if d.DeferUntil != nil {
		fields["deferUntil"] = d.DeferUntil.Format(time.RFC3339)
	}
	r.logger.Info("eligibility decision", fields)
}
