package postgres

import (
	"context"
	"database/sql"
	"time"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/models"
)

// AttemptStore is the append-only delivery attempt log. Rows are inserted
// once and never updated.
type AttemptStore struct {
	db *sql.DB
}

func NewAttemptStore(db *sql.DB) *AttemptStore {
	return &AttemptStore{db: db}
}

func (s *AttemptStore) Append(ctx context.Context, a *models.DeliveryAttempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_attempts (
			id, notification_id, tenant_id, channel, provider, outcome,
			error_code, latency_ms, attempted_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.NotificationID, a.TenantID, string(a.Channel), a.Provider,
		string(a.Outcome), nullStr(a.ErrorCode), a.LatencyMS, a.AttemptedAt)
	if err != nil {
		return errors.NewDatabaseError("append attempt", err)
	}
	return nil
}

func (s *AttemptStore) ListByNotification(ctx context.Context, notificationID string) ([]*models.DeliveryAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, notification_id, tenant_id, channel, provider, outcome,
		       error_code, latency_ms, attempted_at
		FROM delivery_attempts
		WHERE notification_id = $1
		ORDER BY attempted_at`, notificationID)
	if err != nil {
		return nil, errors.NewDatabaseError("list attempts", err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func (s *AttemptStore) ListForExport(ctx context.Context, tenantID string, from, to time.Time) ([]*models.DeliveryAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, notification_id, tenant_id, channel, provider, outcome,
		       error_code, latency_ms, attempted_at
		FROM delivery_attempts
		WHERE tenant_id = $1 AND attempted_at >= $2 AND attempted_at < $3
		ORDER BY attempted_at`, tenantID, from, to)
	if err != nil {
		return nil, errors.NewDatabaseError("list attempts for export", err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func scanAttempts(rows *sql.Rows) ([]*models.DeliveryAttempt, error) {
	var out []*models.DeliveryAttempt
	for rows.Next() {
		var (
			a         models.DeliveryAttempt
			channel   string
			outcome   string
			errorCode sql.NullString
		)
		err := rows.Scan(&a.ID, &a.NotificationID, &a.TenantID, &channel,
			&a.Provider, &outcome, &errorCode, &a.LatencyMS, &a.AttemptedAt)
		if err != nil {
			return nil, errors.NewDatabaseError("scan attempt", err)
		}
		a.Channel = models.Channel(channel)
		a.Outcome = models.AttemptOutcome(outcome)
		a.ErrorCode = errorCode.String
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("iterate attempts", err)
	}
	return out, nil
}
