package models

import "time"

// AudienceKind selects how campaign recipients are resolved.
type AudienceKind string

const (
	AudienceAll      AudienceKind = "all"
	AudienceSegment  AudienceKind = "segment"
	AudienceExplicit AudienceKind = "explicit"
	AudienceFilter   AudienceKind = "filter"
)

// Audience is a campaign's target definition.
type Audience struct {
	Kind    AudienceKind `json:"kind"`
	Segment string       `json:"segment,omitempty"`
	UserIDs []string     `json:"userIds,omitempty"`
	Filter  string       `json:"filter,omitempty"`
}

// ScheduleKind selects when a campaign fires.
type ScheduleKind string

const (
	ScheduleImmediate ScheduleKind = "immediate"
	ScheduleOneTime   ScheduleKind = "scheduled"
	ScheduleRecurring ScheduleKind = "recurring"
)

// ScheduleDescriptor drives the scheduler. Recurrence is only read for
// recurring schedules; a recurring schedule with no EndDate runs until
// explicitly cancelled.
type ScheduleDescriptor struct {
	Kind       ScheduleKind `json:"kind"`
	At         *time.Time   `json:"at,omitempty"`
	Recurrence string       `json:"recurrence,omitempty"` // parsed by schedule.ParseRecurrence
	EndDate    *time.Time   `json:"endDate,omitempty"`
}

// Campaign groups notifications produced from one template over an audience.
// It holds template/channel ids by value only; children reference the campaign
// by id, never the other way around. Aggregate delivery counts live in the
// analytics store, keyed by campaign id.
type Campaign struct {
	ID         string             `json:"id"`
	TenantID   string             `json:"tenantId"`
	Name       string             `json:"name"`
	TemplateID string             `json:"templateId"`
	Channels   []Channel          `json:"channels"`
	Audience   Audience           `json:"audience"`
	Schedule   ScheduleDescriptor `json:"schedule"`
	Status     string             `json:"status"` // draft, active, completed, cancelled
	CreatedAt  time.Time          `json:"createdAt"`
	NextFireAt *time.Time         `json:"nextFireAt,omitempty"`
}
