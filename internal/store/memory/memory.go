// Package memory provides in-memory store implementations. They back unit
// tests and any deployment that runs the engine without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/models"
	"notification-engine/internal/store"
)

// NotificationStore is a mutex-guarded notification store with the same
// transition semantics as the postgres implementation.
type NotificationStore struct {
	mu    sync.Mutex
	items map[string]*models.Notification
}

var _ store.NotificationStore = (*NotificationStore)(nil)

func NewNotificationStore() *NotificationStore {
	return &NotificationStore{items: map[string]*models.Notification{}}
}

func (s *NotificationStore) Create(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.items[n.ID]; ok {
		return errors.NewStatusConflictError(string(existing.Status), string(n.Status))
	}
	cp := *n
	s.items[n.ID] = &cp
	return nil
}

func (s *NotificationStore) Get(_ context.Context, id string) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return nil, errors.NewNotFoundError("notification", id)
	}
	cp := *n
	return &cp, nil
}

func (s *NotificationStore) MarkQueued(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return errors.NewNotFoundError("notification", id)
	}
	if n.Status != models.StatusPending {
		return errors.NewStatusConflictError(string(n.Status), string(models.StatusQueued))
	}
	n.Status = models.StatusQueued
	n.ScheduledFor = &at
	return nil
}

func (s *NotificationStore) ClaimForSending(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return false, errors.NewNotFoundError("notification", id)
	}
	if n.Status != models.StatusQueued {
		return false, nil
	}
	n.Status = models.StatusSending
	return true, nil
}

func (s *NotificationStore) DequeueBatch(_ context.Context, now time.Time, limit int) ([]*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*models.Notification
	for _, n := range s.items {
		if n.Status != models.StatusQueued {
			continue
		}
		if n.ScheduledFor != nil && n.ScheduledFor.After(now) {
			continue
		}
		cp := *n
		due = append(due, &cp)
	}
	sort.Slice(due, func(i, j int) bool {
		if wi, wj := due[i].Priority.Weight(), due[j].Priority.Weight(); wi != wj {
			return wi > wj
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *NotificationStore) DueScheduled(_ context.Context, now time.Time, limit int) ([]*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*models.Notification
	for _, n := range s.items {
		if n.Status != models.StatusPending || n.ScheduledFor == nil || n.ScheduledFor.After(now) {
			continue
		}
		cp := *n
		due = append(due, &cp)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledFor.Before(*due[j].ScheduledFor)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *NotificationStore) MarkSent(_ context.Context, id, provider, providerMessageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return errors.NewNotFoundError("notification", id)
	}
	if n.Status != models.StatusSending {
		return errors.NewStatusConflictError(string(n.Status), string(models.StatusSent))
	}
	n.Status = models.StatusSent
	n.Provider = provider
	n.ProviderMessageID = providerMessageID
	n.SentAt = &at
	n.AttemptCount++
	return nil
}

func (s *NotificationStore) MarkFailed(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return errors.NewNotFoundError("notification", id)
	}
	if n.Status != models.StatusSending && n.Status != models.StatusSent {
		return errors.NewStatusConflictError(string(n.Status), string(models.StatusFailed))
	}
	n.Status = models.StatusFailed
	n.FailureReason = reason
	n.AttemptCount++
	return nil
}

func (s *NotificationStore) RequeueForRetry(_ context.Context, id string, at time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return errors.NewNotFoundError("notification", id)
	}
	if n.Status != models.StatusSending || n.SuppressRetry {
		return errors.NewStatusConflictError(string(n.Status), string(models.StatusQueued))
	}
	n.Status = models.StatusQueued
	n.ScheduledFor = &at
	n.FailureReason = reason
	n.AttemptCount++
	return nil
}

func (s *NotificationStore) Defer(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return errors.NewNotFoundError("notification", id)
	}
	if n.Status != models.StatusSending {
		return errors.NewStatusConflictError(string(n.Status), string(models.StatusQueued))
	}
	n.Status = models.StatusQueued
	n.ScheduledFor = &at
	return nil
}

func (s *NotificationStore) ApplyCallbackStatus(_ context.Context, providerMessageID string, to models.Status, at time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.items {
		if n.ProviderMessageID != providerMessageID {
			continue
		}
		if !models.CanTransition(n.Status, to) {
			return "", errors.NewStatusConflictError(string(n.Status), string(to))
		}
		n.Status = to
		switch to {
		case models.StatusDelivered:
			n.DeliveredAt = &at
		case models.StatusRead, models.StatusClicked:
			n.ReadAt = &at
		}
		return n.ID, nil
	}
	return "", errors.NewNotFoundError("notification by provider message id", providerMessageID)
}

func (s *NotificationStore) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return errors.NewNotFoundError("notification", id)
	}
	switch n.Status {
	case models.StatusPending, models.StatusQueued:
		n.Status = models.StatusCancelled
		return nil
	case models.StatusSending:
		n.SuppressRetry = true
		return errors.NewStatusConflictError(string(models.StatusSending), string(models.StatusCancelled))
	default:
		return errors.NewStatusConflictError(string(n.Status), string(models.StatusCancelled))
	}
}

func (s *NotificationStore) ReopenForRetry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return errors.NewNotFoundError("notification", id)
	}
	if n.Status != models.StatusFailed {
		return errors.NewStatusConflictError(string(n.Status), string(models.StatusQueued))
	}
	n.Status = models.StatusQueued
	n.AttemptCount = 0
	n.SuppressRetry = false
	n.FailureReason = ""
	n.ScheduledFor = nil
	return nil
}

func (s *NotificationStore) SuppressRetry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return errors.NewNotFoundError("notification", id)
	}
	n.SuppressRetry = true
	return nil
}

func (s *NotificationStore) ListByUser(_ context.Context, tenantID, userID string, limit, offset int) ([]*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Notification
	for _, n := range s.items {
		if n.TenantID == tenantID && n.Recipient.UserID == userID && n.Channel == models.ChannelInApp {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *NotificationStore) UnreadCount(_ context.Context, tenantID, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, n := range s.items {
		if n.TenantID == tenantID && n.Recipient.UserID == userID &&
			n.Channel == models.ChannelInApp && n.Status == models.StatusDelivered {
			count++
		}
	}
	return count, nil
}

func (s *NotificationStore) MarkRead(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return errors.NewNotFoundError("notification", id)
	}
	if n.Status != models.StatusDelivered {
		return errors.NewStatusConflictError(string(n.Status), string(models.StatusRead))
	}
	n.Status = models.StatusRead
	n.ReadAt = &at
	return nil
}

func (s *NotificationStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return errors.NewNotFoundError("notification", id)
	}
	delete(s.items, id)
	return nil
}

func (s *NotificationStore) ListForExport(_ context.Context, tenantID string, from, to time.Time) ([]*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Notification
	for _, n := range s.items {
		if n.TenantID == tenantID && !n.CreatedAt.Before(from) && n.CreatedAt.Before(to) {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// AttemptStore is an in-memory append-only attempt log.
type AttemptStore struct {
	mu       sync.Mutex
	attempts []*models.DeliveryAttempt
}

var _ store.AttemptStore = (*AttemptStore)(nil)

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{}
}

func (s *AttemptStore) Append(_ context.Context, a *models.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.attempts = append(s.attempts, &cp)
	return nil
}

func (s *AttemptStore) ListByNotification(_ context.Context, notificationID string) ([]*models.DeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.DeliveryAttempt
	for _, a := range s.attempts {
		if a.NotificationID == notificationID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *AttemptStore) ListForExport(_ context.Context, tenantID string, from, to time.Time) ([]*models.DeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.DeliveryAttempt
	for _, a := range s.attempts {
		if a.TenantID == tenantID && !a.AttemptedAt.Before(from) && a.AttemptedAt.Before(to) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}
