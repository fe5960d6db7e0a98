package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/models"

	"github.com/lib/pq"
)

// NotificationStore is the lib/pq-backed notification store. All status
// transitions run as conditional UPDATEs so concurrent workers can never
// produce an illegal state machine edge.
type NotificationStore struct {
	db *sql.DB
}

func NewNotificationStore(db *sql.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

const notificationColumns = `
	id, tenant_id, campaign_id, template_id, recipient, event_type, type,
	channel, priority, title, body, status, provider, provider_message_id,
	failure_reason, attempt_count, suppress_retry, metadata, scheduled_for,
	created_at, sent_at, delivered_at, read_at`

func (s *NotificationStore) Create(ctx context.Context, n *models.Notification) error {
	recipient, err := json.Marshal(n.Recipient)
	if err != nil {
		return fmt.Errorf("encode recipient: %w", err)
	}
	metadata, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (
			id, tenant_id, campaign_id, template_id, recipient, event_type,
			type, channel, priority, title, body, status, attempt_count,
			suppress_retry, metadata, scheduled_for, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		n.ID, n.TenantID, nullStr(n.CampaignID), nullStr(n.TemplateID),
		recipient, n.EventType, string(n.Type), string(n.Channel),
		string(n.Priority), n.Title, n.Body, string(n.Status),
		n.AttemptCount, n.SuppressRetry, metadata, n.ScheduledFor, n.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return errors.NewStatusConflictError("existing", string(n.Status))
		}
		return errors.NewDatabaseError("insert notification", err)
	}
	return nil
}

func (s *NotificationStore) Get(ctx context.Context, id string) (*models.Notification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)
	n, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("notification", id)
	}
	if err != nil {
		return nil, errors.NewDatabaseError("get notification", err)
	}
	return n, nil
}

func (s *NotificationStore) MarkQueued(ctx context.Context, id string, at time.Time) error {
	return s.transition(ctx, id, models.StatusPending, models.StatusQueued,
		`scheduled_for = $3`, at)
}

func (s *NotificationStore) ClaimForSending(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET status = 'sending'
		WHERE id = $1 AND status = 'queued'`, id)
	if err != nil {
		return false, errors.NewDatabaseError("claim notification", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewDatabaseError("claim notification", err)
	}
	return rows == 1, nil
}

func (s *NotificationStore) DequeueBatch(ctx context.Context, now time.Time, limit int) ([]*models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE status = 'queued' AND (scheduled_for IS NULL OR scheduled_for <= $1)
		ORDER BY CASE priority
			WHEN 'urgent' THEN 0
			WHEN 'high' THEN 1
			WHEN 'medium' THEN 2
			ELSE 3
		END, created_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, errors.NewDatabaseError("dequeue batch", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

func (s *NotificationStore) DueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE status = 'pending' AND scheduled_for IS NOT NULL AND scheduled_for <= $1
		ORDER BY scheduled_for
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, errors.NewDatabaseError("due scheduled", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

func (s *NotificationStore) MarkSent(ctx context.Context, id, provider, providerMessageID string, at time.Time) error {
	return s.transition(ctx, id, models.StatusSending, models.StatusSent,
		`provider = $3, provider_message_id = $4, sent_at = $5, attempt_count = attempt_count + 1`,
		provider, providerMessageID, at)
}

func (s *NotificationStore) MarkFailed(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'failed', failure_reason = $2, attempt_count = attempt_count + 1
		WHERE id = $1 AND status IN ('sending', 'sent')`, id, reason)
	if err != nil {
		return errors.NewDatabaseError("mark failed", err)
	}
	return expectOneRow(res, id, models.StatusFailed)
}

func (s *NotificationStore) RequeueForRetry(ctx context.Context, id string, at time.Time, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'queued', scheduled_for = $2, failure_reason = $3,
		    attempt_count = attempt_count + 1
		WHERE id = $1 AND status = 'sending' AND suppress_retry = FALSE`,
		id, at, reason)
	if err != nil {
		return errors.NewDatabaseError("requeue for retry", err)
	}
	return expectOneRow(res, id, models.StatusQueued)
}

func (s *NotificationStore) Defer(ctx context.Context, id string, at time.Time) error {
	return s.transition(ctx, id, models.StatusSending, models.StatusQueued,
		`scheduled_for = $3`, at)
}

func (s *NotificationStore) ApplyCallbackStatus(ctx context.Context, providerMessageID string, to models.Status, at time.Time) (string, error) {
	var column string
	var from []string
	switch to {
	case models.StatusDelivered:
		column, from = "delivered_at", []string{"sent"}
	case models.StatusBounced:
		// A bounce is not a delivery; no delivery timestamp is written.
		from = []string{"sent"}
	case models.StatusRead:
		column, from = "read_at", []string{"delivered"}
	case models.StatusClicked:
		column, from = "read_at", []string{"delivered", "read"}
	default:
		return "", errors.NewStatusConflictError("callback", string(to))
	}

	query := `
		UPDATE notifications
		SET status = $1
		WHERE provider_message_id = $2 AND status = ANY($3)
		RETURNING id`
	args := []interface{}{string(to), providerMessageID, pq.Array(from)}
	if column != "" {
		query = fmt.Sprintf(`
		UPDATE notifications
		SET status = $1, %s = $2
		WHERE provider_message_id = $3 AND status = ANY($4)
		RETURNING id`, column)
		args = []interface{}{string(to), at, providerMessageID, pq.Array(from)}
	}

	var id string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if err == sql.ErrNoRows {
		// Distinguish a replayed receipt on a terminal row from an unknown id.
		var current string
		lookupErr := s.db.QueryRowContext(ctx,
			`SELECT status FROM notifications WHERE provider_message_id = $1`,
			providerMessageID).Scan(&current)
		if lookupErr == sql.ErrNoRows {
			return "", errors.NewNotFoundError("notification by provider message id", providerMessageID)
		}
		if lookupErr != nil {
			return "", errors.NewDatabaseError("apply callback", lookupErr)
		}
		return "", errors.NewStatusConflictError(current, string(to))
	}
	if err != nil {
		return "", errors.NewDatabaseError("apply callback", err)
	}
	return id, nil
}

func (s *NotificationStore) Cancel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET status = 'cancelled'
		WHERE id = $1 AND status IN ('pending', 'queued')`, id)
	if err != nil {
		return errors.NewDatabaseError("cancel notification", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 1 {
		return nil
	}

	// Mid-flight: honor the request as "no further retries".
	n, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if n.Status == models.StatusSending {
		if err := s.SuppressRetry(ctx, id); err != nil {
			return err
		}
		return errors.NewStatusConflictError(string(models.StatusSending), string(models.StatusCancelled))
	}
	return errors.NewStatusConflictError(string(n.Status), string(models.StatusCancelled))
}

func (s *NotificationStore) ReopenForRetry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'queued', attempt_count = 0, suppress_retry = FALSE,
		    failure_reason = NULL, scheduled_for = NULL
		WHERE id = $1 AND status = 'failed'`, id)
	if err != nil {
		return errors.NewDatabaseError("reopen for retry", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 1 {
		return nil
	}
	n, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return errors.NewStatusConflictError(string(n.Status), string(models.StatusQueued))
}

func (s *NotificationStore) SuppressRetry(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET suppress_retry = TRUE WHERE id = $1`, id)
	if err != nil {
		return errors.NewDatabaseError("suppress retry", err)
	}
	return nil
}

func (s *NotificationStore) ListByUser(ctx context.Context, tenantID, userID string, limit, offset int) ([]*models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE tenant_id = $1 AND recipient->>'userId' = $2 AND channel = 'in_app'
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`, tenantID, userID, limit, offset)
	if err != nil {
		return nil, errors.NewDatabaseError("list by user", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

func (s *NotificationStore) UnreadCount(ctx context.Context, tenantID, userID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE tenant_id = $1 AND recipient->>'userId' = $2
		  AND channel = 'in_app' AND status = 'delivered'`,
		tenantID, userID).Scan(&count)
	if err != nil {
		return 0, errors.NewDatabaseError("unread count", err)
	}
	return count, nil
}

func (s *NotificationStore) MarkRead(ctx context.Context, id string, at time.Time) error {
	return s.transition(ctx, id, models.StatusDelivered, models.StatusRead,
		`read_at = $3`, at)
}

func (s *NotificationStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return errors.NewDatabaseError("delete notification", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return errors.NewNotFoundError("notification", id)
	}
	return nil
}

func (s *NotificationStore) ListForExport(ctx context.Context, tenantID string, from, to time.Time) ([]*models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at`, tenantID, from, to)
	if err != nil {
		return nil, errors.NewDatabaseError("list for export", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

// transition runs a single-edge conditional UPDATE with optional extra SET
// columns; extra placeholders start at $3.
func (s *NotificationStore) transition(ctx context.Context, id string, from, to models.Status, extraSet string, args ...interface{}) error {
	set := `status = $2`
	if extraSet != "" {
		set += ", " + extraSet
	}
	query := fmt.Sprintf(
		`UPDATE notifications SET %s WHERE id = $1 AND status = '%s'`, set, from)

	all := append([]interface{}{id, string(to)}, args...)
	res, err := s.db.ExecContext(ctx, query, all...)
	if err != nil {
		return errors.NewDatabaseError("transition "+string(to), err)
	}
	return expectOneRow(res, id, to)
}

func expectOneRow(res sql.Result, id string, to models.Status) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return errors.NewDatabaseError("rows affected", err)
	}
	if rows == 0 {
		return errors.NewStatusConflictError("current", string(to))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row rowScanner) (*models.Notification, error) {
	var (
		n                   models.Notification
		campaignID          sql.NullString
		templateID          sql.NullString
		provider            sql.NullString
		providerMessageID   sql.NullString
		failureReason       sql.NullString
		recipient, metadata []byte
		nType, channel      string
		priority, status    string
	)
	err := row.Scan(
		&n.ID, &n.TenantID, &campaignID, &templateID, &recipient, &n.EventType,
		&nType, &channel, &priority, &n.Title, &n.Body, &status, &provider,
		&providerMessageID, &failureReason, &n.AttemptCount, &n.SuppressRetry,
		&metadata, &n.ScheduledFor, &n.CreatedAt, &n.SentAt, &n.DeliveredAt,
		&n.ReadAt,
	)
	if err != nil {
		return nil, err
	}

	n.CampaignID = campaignID.String
	n.TemplateID = templateID.String
	n.Provider = provider.String
	n.ProviderMessageID = providerMessageID.String
	n.FailureReason = failureReason.String
	n.Type = models.NotificationType(nType)
	n.Channel = models.Channel(channel)
	n.Priority = models.Priority(priority)
	n.Status = models.Status(status)

	if err := json.Unmarshal(recipient, &n.Recipient); err != nil {
		return nil, fmt.Errorf("decode recipient: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &n.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &n, nil
}

func scanNotifications(rows *sql.Rows) ([]*models.Notification, error) {
	var out []*models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, errors.NewDatabaseError("scan notification", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("iterate notifications", err)
	}
	return out, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
