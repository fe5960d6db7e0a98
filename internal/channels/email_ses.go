package channels

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/models"
	"notification-engine/internal/template"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

const ProviderSES = "ses"

type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESAdapter delivers email through AWS SES.
type SESAdapter struct {
	api    sesAPI
	from   string
	logger logger.Logger
}

var (
	_ Adapter        = (*SESAdapter)(nil)
	_ CallbackParser = (*SESAdapter)(nil)
)

func NewSESAdapter(api sesAPI, fromEmail string, log logger.Logger) *SESAdapter {
	return &SESAdapter{
		api:    api,
		from:   fromEmail,
		logger: log.WithFields(map[string]interface{}{"provider": ProviderSES}),
	}
}

func (a *SESAdapter) Name() string            { return ProviderSES }
func (a *SESAdapter) Channel() models.Channel { return models.ChannelEmail }

// SES has no per-message query API; delivery fate arrives through callbacks.
func (a *SESAdapter) CheckStatus(_ context.Context, _ string) (models.Status, error) {
	return models.StatusSent, nil
}

func (a *SESAdapter) Send(ctx context.Context, n *models.Notification, payload *template.Payload) (*Result, error) {
	to := n.Recipient.AddressFor(models.ChannelEmail)
	if to == "" {
		return nil, errors.NewInvalidRecipientError("email address missing")
	}

	input := &ses.SendEmailInput{
		Source:      aws.String(a.from),
		Destination: &types.Destination{ToAddresses: []string{to}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(payload.Subject)},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(payload.HTMLBody)},
				Text: &types.Content{Data: aws.String(payload.TextBody)},
			},
		},
	}

	out, err := a.api.SendEmail(ctx, input)
	if err != nil {
		return nil, a.classify(err)
	}

	a.logger.Info("email accepted by ses", map[string]interface{}{
		"notificationId": n.ID,
		"messageId":      aws.ToString(out.MessageId),
	})
	return &Result{ProviderMessageID: aws.ToString(out.MessageId), Accepted: true}, nil
}

func (a *SESAdapter) classify(err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewProviderTimeoutError(ProviderSES)
	}
	var rejected *types.MessageRejected
	var unverified *types.MailFromDomainNotVerifiedException
	if stderrors.As(err, &rejected) || stderrors.As(err, &unverified) {
		return errors.NewPermanentProviderError(ProviderSES, err.Error())
	}
	return errors.NewTransientProviderError(ProviderSES, err)
}

// sesReceipt is the shape of the delivery/bounce notifications SES pushes.
type sesReceipt struct {
	NotificationType string `json:"notificationType"`
	Mail             struct {
		MessageID string    `json:"messageId"`
		Timestamp time.Time `json:"timestamp"`
	} `json:"mail"`
}

// ParseCallback maps an SES delivery notification onto an engine status.
func (a *SESAdapter) ParseCallback(body []byte, _ http.Header) (*CallbackEvent, error) {
	var receipt sesReceipt
	if err := json.Unmarshal(body, &receipt); err != nil {
		return nil, errors.NewValidationError("malformed ses callback: " + err.Error())
	}
	if receipt.Mail.MessageID == "" {
		return nil, errors.NewValidationError("ses callback missing messageId")
	}

	event := &CallbackEvent{
		ProviderMessageID: receipt.Mail.MessageID,
		OccurredAt:        receipt.Mail.Timestamp,
	}
	switch receipt.NotificationType {
	case "Delivery":
		event.Status = models.StatusDelivered
	case "Bounce", "Complaint":
		event.Status = models.StatusBounced
	default:
		return nil, errors.NewValidationError("unsupported ses notification type: " + receipt.NotificationType)
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	return event, nil
}
