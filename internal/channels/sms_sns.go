package channels

import (
	"context"
	stderrors "errors"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/models"
	"notification-engine/internal/template"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

const ProviderSNSSMS = "sns_sms"

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSMSAdapter delivers SMS through AWS SNS direct publish.
type SNSSMSAdapter struct {
	api      snsAPI
	senderID string
	logger   logger.Logger
}

var _ Adapter = (*SNSSMSAdapter)(nil)

func NewSNSSMSAdapter(api snsAPI, senderID string, log logger.Logger) *SNSSMSAdapter {
	return &SNSSMSAdapter{
		api:      api,
		senderID: senderID,
		logger:   log.WithFields(map[string]interface{}{"provider": ProviderSNSSMS}),
	}
}

func (a *SNSSMSAdapter) Name() string            { return ProviderSNSSMS }
func (a *SNSSMSAdapter) Channel() models.Channel { return models.ChannelSMS }

// SNS offers no per-message poll; SMS delivery status lands in callbacks.
func (a *SNSSMSAdapter) CheckStatus(_ context.Context, _ string) (models.Status, error) {
	return models.StatusSent, nil
}

func (a *SNSSMSAdapter) Send(ctx context.Context, n *models.Notification, payload *template.Payload) (*Result, error) {
	phone := n.Recipient.AddressFor(models.ChannelSMS)
	if phone == "" {
		return nil, errors.NewInvalidRecipientError("phone number missing")
	}

	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String(smsType(n.Type)),
		},
	}
	if a.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(a.senderID),
		}
	}

	out, err := a.api.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(phone),
		Message:           aws.String(payload.Body),
		MessageAttributes: attrs,
	})
	if err != nil {
		return nil, classifySNSError(ProviderSNSSMS, err)
	}

	a.logger.Info("sms accepted by sns", map[string]interface{}{
		"notificationId": n.ID,
		"messageId":      aws.ToString(out.MessageId),
	})
	return &Result{ProviderMessageID: aws.ToString(out.MessageId), Accepted: true}, nil
}

// smsType maps engine types onto the SNS delivery class. Transactional
// classes bypass carrier promotional filtering.
func smsType(t models.NotificationType) string {
	if t.IsMandatory() {
		return "Transactional"
	}
	return "Promotional"
}

func classifySNSError(provider string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewProviderTimeoutError(provider)
	}
	var invalid *types.InvalidParameterException
	var optedOut *types.EndpointDisabledException
	if stderrors.As(err, &invalid) || stderrors.As(err, &optedOut) {
		return errors.NewPermanentProviderError(provider, err.Error())
	}
	return errors.NewTransientProviderError(provider, err)
}
