package postgres

import (
	"context"
	"testing"
	"time"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*NotificationStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewNotificationStore(db), mock
}

var notificationCols = []string{
	"id", "tenant_id", "campaign_id", "template_id", "recipient", "event_type",
	"type", "channel", "priority", "title", "body", "status", "provider",
	"provider_message_id", "failure_reason", "attempt_count", "suppress_retry",
	"metadata", "scheduled_for", "created_at", "sent_at", "delivered_at", "read_at",
}

func notificationRow(id string, status models.Status) *sqlmock.Rows {
	return sqlmock.NewRows(notificationCols).AddRow(
		id, "tenant-1", nil, nil, []byte(`{"userId":"user-1"}`), "order.shipped",
		"transactional", "email", "medium", "", "", string(status), nil,
		nil, nil, 0, false, []byte(`{}`), nil, time.Now(), nil, nil, nil,
	)
}

func TestClaimForSending(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(`UPDATE notifications SET status = 'sending'`).
		WithArgs("n-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	claimed, err := s.ClaimForSending(ctx, "n-1")
	require.NoError(t, err)
	assert.True(t, claimed)

	// A second claim races into the WHERE clause and loses.
	mock.ExpectExec(`UPDATE notifications SET status = 'sending'`).
		WithArgs("n-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	claimed, err = s.ClaimForSending(ctx, "n-1")
	require.NoError(t, err)
	assert.False(t, claimed)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSentTransition(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE notifications SET status = \$2, provider = \$3`).
		WithArgs("n-1", "sent", "ses", "ses-msg-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.MarkSent(ctx, "n-1", "ses", "ses-msg-1", at))

	// Row not in 'sending': the guarded UPDATE touches nothing.
	mock.ExpectExec(`UPDATE notifications SET status = \$2, provider = \$3`).
		WithArgs("n-1", "sent", "ses", "ses-msg-1", at).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := s.MarkSent(ctx, "n-1", "ses", "ses-msg-1", at)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequeueForRetryHonoursSuppression(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	at := time.Now()

	mock.ExpectExec(`suppress_retry = FALSE`).
		WithArgs("n-1", at, "provider down").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.RequeueForRetry(ctx, "n-1", at, "provider down")
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyCallbackStatus(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	at := time.Now()

	mock.ExpectQuery(`SET status = \$1, delivered_at = \$2`).
		WithArgs("delivered", at, "pm-1", pq.Array([]string{"sent"})).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("n-1"))

	id, err := s.ApplyCallbackStatus(ctx, "pm-1", models.StatusDelivered, at)
	require.NoError(t, err)
	assert.Equal(t, "n-1", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyCallbackStatusBounceWritesNoDeliveryTime(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SET status = \$1 WHERE provider_message_id = \$2`).
		WithArgs("bounced", "pm-1", pq.Array([]string{"sent"})).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("n-1"))

	id, err := s.ApplyCallbackStatus(ctx, "pm-1", models.StatusBounced, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "n-1", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyCallbackStatusReplayIsConflict(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	at := time.Now()

	mock.ExpectQuery(`SET status = \$1, delivered_at = \$2`).
		WithArgs("delivered", at, "pm-1", pq.Array([]string{"sent"})).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT status FROM notifications WHERE provider_message_id`).
		WithArgs("pm-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("delivered"))

	_, err := s.ApplyCallbackStatus(ctx, "pm-1", models.StatusDelivered, at)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyCallbackStatusUnknownMessage(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	at := time.Now()

	mock.ExpectQuery(`SET status = \$1, delivered_at = \$2`).
		WithArgs("delivered", at, "pm-unknown", pq.Array([]string{"sent"})).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT status FROM notifications WHERE provider_message_id`).
		WithArgs("pm-unknown").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	_, err := s.ApplyCallbackStatus(ctx, "pm-unknown", models.StatusDelivered, at)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelMidFlightSuppressesRetry(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(`UPDATE notifications SET status = 'cancelled'`).
		WithArgs("n-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT`).
		WithArgs("n-1").
		WillReturnRows(notificationRow("n-1", models.StatusSending))
	mock.ExpectExec(`UPDATE notifications SET suppress_retry = TRUE`).
		WithArgs("n-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Cancel(ctx, "n-1")
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReopenForRetry(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(`SET status = 'queued', attempt_count = 0`).
		WithArgs("n-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.ReopenForRetry(ctx, "n-1"))

	// Only failed rows reopen; everything else reports its current status.
	mock.ExpectExec(`SET status = 'queued', attempt_count = 0`).
		WithArgs("n-2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT`).
		WithArgs("n-2").
		WillReturnRows(notificationRow("n-2", models.StatusDelivered))

	err := s.ReopenForRetry(ctx, "n-2")
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDequeueBatchScan(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now()

	rows := notificationRow("n-1", models.StatusQueued)
	mock.ExpectQuery(`WHERE status = 'queued'`).
		WithArgs(now, 10).
		WillReturnRows(rows)

	batch, err := s.DequeueBatch(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "n-1", batch[0].ID)
	assert.Equal(t, "user-1", batch[0].Recipient.UserID)
	assert.Equal(t, models.ChannelEmail, batch[0].Channel)
	assert.NoError(t, mock.ExpectationsWereMet())
}
