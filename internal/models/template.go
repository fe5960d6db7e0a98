package models

import "time"

// Branding overrides applied to rendered payloads for entitled tenants.
type Branding struct {
	LogoURL string `json:"logoUrl,omitempty"`
	Color   string `json:"color,omitempty"`
	Footer  string `json:"footer,omitempty"`
}

// NotificationTemplate identifies a (tenant, event, channel, language) tuple
// holding subject/body fragments with #{name} placeholders. System templates
// are immutable and never physically deleted.
type NotificationTemplate struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"` // empty for system templates
	EventType string    `json:"eventType"`
	Channel   Channel   `json:"channel"`
	Language  string    `json:"language"`
	Subject   string    `json:"subject,omitempty"`
	Body      string    `json:"body"`
	HTMLBody  string    `json:"htmlBody,omitempty"`
	Branding  *Branding `json:"branding,omitempty"`
	IsSystem  bool      `json:"isSystem"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
