package models

import "time"

// AttemptOutcome is the terminal result of one dispatch try.
type AttemptOutcome string

const (
	OutcomeSent    AttemptOutcome = "sent"
	OutcomeFailed  AttemptOutcome = "failed"
	OutcomeTimeout AttemptOutcome = "timeout"
)

// DeliveryAttempt is one append-only row per dispatch try. Rows are never
// mutated after write; they feed both retry decisions and analytics.
type DeliveryAttempt struct {
	ID             string         `json:"id"`
	NotificationID string         `json:"notificationId"`
	TenantID       string         `json:"tenantId"`
	Channel        Channel        `json:"channel"`
	Provider       string         `json:"provider"`
	Outcome        AttemptOutcome `json:"outcome"`
	ErrorCode      string         `json:"errorCode,omitempty"`
	LatencyMS      int64          `json:"latencyMs"`
	AttemptedAt    time.Time      `json:"attemptedAt"`
}
