// Package retry owns failure classification and the backoff schedule.
package retry

import (
	"context"
	"time"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/store"
)

// MaxAttempts is the total delivery budget per notification. The fourth
// failure is terminal.
const MaxAttempts = 4

// schedule[k] is the delay before attempt k+1. The first attempt runs
// immediately; subsequent ones back off.
var schedule = []time.Duration{0, 60 * time.Second, 300 * time.Second, 900 * time.Second}

// NextDelay returns the wait before the next attempt given how many attempts
// have already completed. ok is false once the budget is spent.
func NextDelay(attemptsMade int) (delay time.Duration, ok bool) {
	if attemptsMade < 0 || attemptsMade >= MaxAttempts {
		return 0, false
	}
	return schedule[attemptsMade], true
}

// Retryable reports whether a failed attempt should be retried at all.
// Permanent provider errors and validation failures are not; unknown errors
// are treated as transient.
func Retryable(err error) bool {
	return errors.IsRetryable(err)
}

// Manager exposes the manual retry operation.
type Manager struct {
	notifications store.NotificationStore
	logger        logger.Logger
}

func NewManager(notifications store.NotificationStore, log logger.Logger) *Manager {
	return &Manager{
		notifications: notifications,
		logger:        log.WithFields(map[string]interface{}{"component": "retry"}),
	}
}

// RetryNow re-queues one failed notification with a fresh attempt budget.
// Each invocation re-opens at most one delivery cycle; a second call while
// the first is still in flight gets a status conflict.
func (m *Manager) RetryNow(ctx context.Context, id string) error {
	if err := m.notifications.ReopenForRetry(ctx, id); err != nil {
		return err
	}
	m.logger.Info("manual retry requested", map[string]interface{}{"notificationId": id})
	return nil
}
