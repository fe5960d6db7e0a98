// Package quota enforces tenant send caps with atomic counters so concurrent
// dispatches can never overshoot a limit.
package quota

import (
	"context"
	"fmt"
	"time"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/models"
)

// Counter is the injectable quota store. Consume must be atomic: increment
// first, then compare, rolling back on overshoot. Limits of zero are
// unlimited.
type Counter interface {
	// Consume reserves one send against every limited window. It returns a
	// QuotaExceeded error when any window is already full.
	Consume(ctx context.Context, tenantID string, ch models.Channel, settings *models.TenantSettings, now time.Time) error

	// Usage reports the current count for one window.
	Usage(ctx context.Context, tenantID string, ch models.Channel, window models.QuotaWindow, now time.Time) (int64, error)
}

func dayKey(tenantID string, ch models.Channel, now time.Time) string {
	return fmt.Sprintf("quota:%s:%s:d:%s", tenantID, ch, now.UTC().Format("2006-01-02"))
}

func monthKey(tenantID string, ch models.Channel, now time.Time) string {
	return fmt.Sprintf("quota:%s:%s:m:%s", tenantID, ch, now.UTC().Format("2006-01"))
}

func exceeded(tenantID string, ch models.Channel, window models.QuotaWindow) error {
	return errors.NewQuotaExceededError(tenantID, string(ch), string(window))
}
