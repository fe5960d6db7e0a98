package models

import (
	"fmt"
	"time"
)

// QuietHours is a user-configured local time window during which non-urgent
// notifications are deferred rather than dropped.
type QuietHours struct {
	Enabled   bool   `json:"enabled"`
	StartHour int    `json:"startHour"` // 0-23, window start (inclusive)
	StartMin  int    `json:"startMin"`
	EndHour   int    `json:"endHour"` // window end (exclusive)
	EndMin    int    `json:"endMin"`
	Timezone  string `json:"timezone"` // IANA name, e.g. "Asia/Kolkata"
}

// Contains reports whether t (converted to the user's timezone) falls inside
// the window. Windows may wrap midnight (22:00-08:00).
func (q QuietHours) Contains(t time.Time) (bool, error) {
	if !q.Enabled {
		return false, nil
	}
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return false, fmt.Errorf("invalid timezone %q: %w", q.Timezone, err)
	}
	local := t.In(loc)
	minutes := local.Hour()*60 + local.Minute()
	start := q.StartHour*60 + q.StartMin
	end := q.EndHour*60 + q.EndMin

	if start == end {
		return false, nil
	}
	if start < end {
		return minutes >= start && minutes < end, nil
	}
	// wraps midnight
	return minutes >= start || minutes < end, nil
}

// NextExit returns the earliest time at or after t that is outside the window.
func (q QuietHours) NextExit(t time.Time) (time.Time, error) {
	inside, err := q.Contains(t)
	if err != nil {
		return time.Time{}, err
	}
	if !inside {
		return t, nil
	}
	loc, _ := time.LoadLocation(q.Timezone)
	local := t.In(loc)
	exit := time.Date(local.Year(), local.Month(), local.Day(), q.EndHour, q.EndMin, 0, 0, loc)
	if !exit.After(local) {
		exit = exit.Add(24 * time.Hour)
	}
	return exit, nil
}

// UserPreference is the per (user, tenant) record read on every dispatch
// decision. Transactional categories cannot be disabled here.
type UserPreference struct {
	UserID         string                    `json:"userId"`
	TenantID       string                    `json:"tenantId"`
	ChannelEnabled map[Channel]bool          `json:"channelEnabled"`
	TypeEnabled    map[NotificationType]bool `json:"typeEnabled"`
	QuietHours     QuietHours                `json:"quietHours"`
	Language       string                    `json:"language,omitempty"`
	UpdatedAt      time.Time                 `json:"updatedAt"`
}

// ChannelAllowed defaults to enabled when the user never touched the toggle.
func (p *UserPreference) ChannelAllowed(ch Channel) bool {
	if p == nil || p.ChannelEnabled == nil {
		return true
	}
	enabled, ok := p.ChannelEnabled[ch]
	return !ok || enabled
}

// TypeAllowed defaults to enabled; mandatory types are always allowed.
func (p *UserPreference) TypeAllowed(t NotificationType) bool {
	if t.IsMandatory() {
		return true
	}
	if p == nil || p.TypeEnabled == nil {
		return true
	}
	enabled, ok := p.TypeEnabled[t]
	return !ok || enabled
}
