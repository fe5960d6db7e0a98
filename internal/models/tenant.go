package models

import "time"

// QuotaWindow names the period a send cap applies to.
type QuotaWindow string

const (
	QuotaDaily   QuotaWindow = "daily"
	QuotaMonthly QuotaWindow = "monthly"
)

// ChannelQuota caps sends per channel per window. Zero means unlimited.
type ChannelQuota struct {
	Daily   int64 `json:"daily"`
	Monthly int64 `json:"monthly"`
}

// TenantSettings is the per-tenant notification configuration. Super-admin
// overrides win over tenant-level toggles; the global kill switch sits above
// everything and lives on the settings store, not here.
type TenantSettings struct {
	TenantID        string                    `json:"tenantId"`
	ChannelEnabled  map[Channel]bool          `json:"channelEnabled"`
	TypeEnabled     map[NotificationType]bool `json:"typeEnabled"`
	Quotas          map[Channel]ChannelQuota  `json:"quotas"`
	DefaultSender   string                    `json:"defaultSender,omitempty"`
	DefaultLanguage string                    `json:"defaultLanguage,omitempty"`
	BrandingEnabled bool                      `json:"brandingEnabled"`
	AdminDisabled   map[Channel]bool          `json:"adminDisabled,omitempty"` // super-admin override
	ProviderConfig  map[Channel]ProviderPair  `json:"providerConfig,omitempty"`
	UpdatedAt       time.Time                 `json:"updatedAt"`
}

// ProviderPair names the primary and fallback provider for one channel.
type ProviderPair struct {
	Primary  string `json:"primary"`
	Fallback string `json:"fallback,omitempty"`
}

// ChannelAllowed applies tenant toggles plus the super-admin override.
func (s *TenantSettings) ChannelAllowed(ch Channel) bool {
	if s == nil {
		return true
	}
	if s.AdminDisabled != nil && s.AdminDisabled[ch] {
		return false
	}
	if s.ChannelEnabled == nil {
		return true
	}
	enabled, ok := s.ChannelEnabled[ch]
	return !ok || enabled
}

// TypeAllowed applies the tenant's per-type toggle.
func (s *TenantSettings) TypeAllowed(t NotificationType) bool {
	if s == nil || s.TypeEnabled == nil {
		return true
	}
	enabled, ok := s.TypeEnabled[t]
	return !ok || enabled
}

// QuotaFor returns the cap for a channel and window, zero when unlimited.
func (s *TenantSettings) QuotaFor(ch Channel, window QuotaWindow) int64 {
	if s == nil || s.Quotas == nil {
		return 0
	}
	q, ok := s.Quotas[ch]
	if !ok {
		return 0
	}
	if window == QuotaMonthly {
		return q.Monthly
	}
	return q.Daily
}

// ProvidersFor returns the configured primary/fallback for a channel.
func (s *TenantSettings) ProvidersFor(ch Channel) (ProviderPair, bool) {
	if s == nil || s.ProviderConfig == nil {
		return ProviderPair{}, false
	}
	p, ok := s.ProviderConfig[ch]
	return p, ok
}
