package channels

import (
	"context"
	"encoding/json"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/models"
	"notification-engine/internal/template"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

const ProviderSNSPush = "sns_push"

// SNSPushAdapter delivers push notifications through SNS platform endpoints.
// The recipient's push token is the platform endpoint ARN.
type SNSPushAdapter struct {
	api    snsAPI
	logger logger.Logger
}

var _ Adapter = (*SNSPushAdapter)(nil)

func NewSNSPushAdapter(api snsAPI, log logger.Logger) *SNSPushAdapter {
	return &SNSPushAdapter{
		api:    api,
		logger: log.WithFields(map[string]interface{}{"provider": ProviderSNSPush}),
	}
}

func (a *SNSPushAdapter) Name() string            { return ProviderSNSPush }
func (a *SNSPushAdapter) Channel() models.Channel { return models.ChannelPush }

// SNS offers no per-message poll for platform endpoints.
func (a *SNSPushAdapter) CheckStatus(_ context.Context, _ string) (models.Status, error) {
	return models.StatusSent, nil
}

func (a *SNSPushAdapter) Send(ctx context.Context, n *models.Notification, payload *template.Payload) (*Result, error) {
	endpoint := n.Recipient.AddressFor(models.ChannelPush)
	if endpoint == "" {
		return nil, errors.NewInvalidRecipientError("push token missing")
	}

	body, err := pushMessage(payload)
	if err != nil {
		return nil, errors.NewPermanentProviderError(ProviderSNSPush, err.Error())
	}

	out, err := a.api.Publish(ctx, &sns.PublishInput{
		TargetArn:        aws.String(endpoint),
		Message:          aws.String(body),
		MessageStructure: aws.String("json"),
	})
	if err != nil {
		return nil, classifySNSError(ProviderSNSPush, err)
	}

	a.logger.Info("push accepted by sns", map[string]interface{}{
		"notificationId": n.ID,
		"messageId":      aws.ToString(out.MessageId),
	})
	return &Result{ProviderMessageID: aws.ToString(out.MessageId), Accepted: true}, nil
}

// pushMessage builds the per-platform SNS message envelope. GCM and APNS get
// their native shapes; "default" covers everything else.
func pushMessage(payload *template.Payload) (string, error) {
	gcm, err := json.Marshal(map[string]interface{}{
		"notification": map[string]string{"title": payload.Title, "body": payload.Body},
	})
	if err != nil {
		return "", err
	}
	apns, err := json.Marshal(map[string]interface{}{
		"aps": map[string]interface{}{
			"alert": map[string]string{"title": payload.Title, "body": payload.Body},
		},
	})
	if err != nil {
		return "", err
	}
	envelope, err := json.Marshal(map[string]string{
		"default": payload.Body,
		"GCM":     string(gcm),
		"APNS":    string(apns),
	})
	if err != nil {
		return "", err
	}
	return string(envelope), nil
}
