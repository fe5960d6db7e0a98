package models

import "time"

// Channel is a delivery medium.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelPush    Channel = "push"
	ChannelWebhook Channel = "webhook"
	ChannelInApp   Channel = "in_app"
)

// Priority orders queue pops; urgent additionally bypasses quiet hours.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Weight maps a priority onto a sortable rank (higher pops first).
func (p Priority) Weight() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// Status is a notification's position in the delivery state machine.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusBounced   Status = "bounced"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRead      Status = "read"
	StatusClicked   Status = "clicked"
)

// validTransitions encodes the delivery state machine. sending is reachable
// only from queued, which is what makes the CAS claim race-free.
var validTransitions = map[Status][]Status{
	StatusPending:   {StatusQueued, StatusCancelled},
	StatusQueued:    {StatusSending, StatusCancelled},
	StatusSending:   {StatusSent, StatusFailed, StatusQueued},
	StatusSent:      {StatusDelivered, StatusBounced, StatusFailed},
	StatusDelivered: {StatusRead},
	StatusRead:      {StatusClicked},
}

// CanTransition reports whether from→to is a legal state machine edge.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further automatic transition occurs. read and
// clicked are post-delivery engagement markers, still terminal for dispatch.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusBounced, StatusFailed, StatusCancelled, StatusRead, StatusClicked:
		return true
	}
	return false
}

// NotificationType groups events for preference checks. Transactional,
// security and system types are never user-suppressible.
type NotificationType string

const (
	TypeTransactional NotificationType = "transactional"
	TypeSecurity      NotificationType = "security"
	TypeSystem        NotificationType = "system"
	TypeMarketing     NotificationType = "marketing"
	TypeDigest        NotificationType = "digest"
)

// IsMandatory reports whether user opt-outs are skipped for this type.
func (t NotificationType) IsMandatory() bool {
	return t == TypeTransactional || t == TypeSecurity || t == TypeSystem
}

// Recipient carries the user id plus the resolved per-channel address.
type Recipient struct {
	UserID      string `json:"userId"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	PushToken   string `json:"pushToken,omitempty"`
	WebhookURL  string `json:"webhookUrl,omitempty"`
}

// AddressFor returns the channel-specific address, empty when unresolved.
func (r Recipient) AddressFor(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return r.Email
	case ChannelSMS:
		return r.PhoneNumber
	case ChannelPush:
		return r.PushToken
	case ChannelWebhook:
		return r.WebhookURL
	case ChannelInApp:
		return r.UserID
	}
	return ""
}

// Notification is one instance of an attempted message on one channel.
type Notification struct {
	ID                string           `json:"id"`
	TenantID          string           `json:"tenantId"`
	CampaignID        string           `json:"campaignId,omitempty"`
	TemplateID        string           `json:"templateId,omitempty"`
	Recipient         Recipient        `json:"recipient"`
	EventType         string           `json:"eventType"`
	Type              NotificationType `json:"type"`
	Channel           Channel          `json:"channel"`
	Priority          Priority         `json:"priority"`
	Title             string           `json:"title,omitempty"`
	Body              string           `json:"body,omitempty"`
	Status            Status           `json:"status"`
	Provider          string           `json:"provider,omitempty"`
	ProviderMessageID string           `json:"providerMessageId,omitempty"`
	FailureReason     string           `json:"failureReason,omitempty"`
	AttemptCount      int              `json:"attemptCount"`
	SuppressRetry     bool             `json:"suppressRetry,omitempty"`
	Metadata          Metadata         `json:"metadata,omitempty"`
	ScheduledFor      *time.Time       `json:"scheduledFor,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	SentAt            *time.Time       `json:"sentAt,omitempty"`
	DeliveredAt       *time.Time       `json:"deliveredAt,omitempty"`
	ReadAt            *time.Time       `json:"readAt,omitempty"`
}
