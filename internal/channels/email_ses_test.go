package channels

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/models"
	"notification-engine/internal/template"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSES struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

func (m *mockSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	return m.SendEmailFunc(ctx, params, optFns...)
}

func emailNotification() *models.Notification {
	return &models.Notification{
		ID:       "n-1",
		TenantID: "tenant-1",
		Channel:  models.ChannelEmail,
		Recipient: models.Recipient{
			UserID: "user-1",
			Email:  "user@example.com",
		},
	}
}

func emailPayload() *template.Payload {
	return &template.Payload{
		Channel:  models.ChannelEmail,
		Subject:  "Order shipped",
		TextBody: "Your order is on the way.",
		HTMLBody: "<p>Your order is on the way.</p>",
	}
}

func TestSESAdapterSend(t *testing.T) {
	var captured *ses.SendEmailInput
	api := &mockSES{
		SendEmailFunc: func(_ context.Context, params *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
			captured = params
			return &ses.SendEmailOutput{MessageId: aws.String("ses-msg-1")}, nil
		},
	}
	adapter := NewSESAdapter(api, "noreply@example.com", logger.NewTestLogger(t))

	result, err := adapter.Send(context.Background(), emailNotification(), emailPayload())
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.Equal(t, "ses-msg-1", result.ProviderMessageID)

	require.NotNil(t, captured)
	assert.Equal(t, "noreply@example.com", aws.ToString(captured.Source))
	assert.Equal(t, []string{"user@example.com"}, captured.Destination.ToAddresses)
	assert.Equal(t, "Order shipped", aws.ToString(captured.Message.Subject.Data))
}

func TestSESAdapterMissingAddress(t *testing.T) {
	adapter := NewSESAdapter(&mockSES{}, "noreply@example.com", logger.NewTestLogger(t))

	n := emailNotification()
	n.Recipient.Email = ""
	_, err := adapter.Send(context.Background(), n, emailPayload())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidRecipient, errors.CodeOf(err))
}

func TestSESAdapterErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		apiErr    error
		wantCode  errors.ErrorCode
		retryable bool
	}{
		{
			name:      "rejected message is permanent",
			apiErr:    &types.MessageRejected{},
			wantCode:  errors.ErrCodeProviderPermanent,
			retryable: false,
		},
		{
			name:      "deadline is a timeout",
			apiErr:    context.DeadlineExceeded,
			wantCode:  errors.ErrCodeProviderTimeout,
			retryable: true,
		},
		{
			name:      "anything else is transient",
			apiErr:    assert.AnError,
			wantCode:  errors.ErrCodeProviderTransient,
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockSES{
				SendEmailFunc: func(context.Context, *ses.SendEmailInput, ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
					return nil, tt.apiErr
				},
			}
			adapter := NewSESAdapter(api, "noreply@example.com", logger.NewTestLogger(t))

			_, err := adapter.Send(context.Background(), emailNotification(), emailPayload())
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errors.CodeOf(err))
			assert.Equal(t, tt.retryable, errors.IsRetryable(err))
		})
	}
}

func TestSESAdapterParseCallback(t *testing.T) {
	adapter := NewSESAdapter(&mockSES{}, "noreply@example.com", logger.NewTestLogger(t))
	at := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	body, _ := json.Marshal(map[string]interface{}{
		"notificationType": "Delivery",
		"mail":             map[string]interface{}{"messageId": "ses-msg-1", "timestamp": at},
	})
	event, err := adapter.ParseCallback(body, nil)
	require.NoError(t, err)
	assert.Equal(t, "ses-msg-1", event.ProviderMessageID)
	assert.Equal(t, models.StatusDelivered, event.Status)
	assert.Equal(t, at, event.OccurredAt)

	body, _ = json.Marshal(map[string]interface{}{
		"notificationType": "Bounce",
		"mail":             map[string]interface{}{"messageId": "ses-msg-2"},
	})
	event, err = adapter.ParseCallback(body, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBounced, event.Status)
	assert.False(t, event.OccurredAt.IsZero())

	_, err = adapter.ParseCallback([]byte(`{"notificationType":"Open","mail":{"messageId":"x"}}`), nil)
	assert.Error(t, err, "unsupported receipt types are rejected")

	_, err = adapter.ParseCallback([]byte(`not json`), nil)
	assert.Error(t, err)
}
