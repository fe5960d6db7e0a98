package channels

import (
	"context"
	stderrors "errors"
	"fmt"

	"notification-engine/internal/common/config"
	"notification-engine/internal/common/errors"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/models"
	"notification-engine/internal/template"

	mail "github.com/go-mail/mail/v2"
	"github.com/google/uuid"
)

const ProviderSMTP = "smtp"

type smtpSender interface {
	DialAndSend(m ...*mail.Message) error
}

// SMTPAdapter is the email fallback, speaking plain SMTP through go-mail.
type SMTPAdapter struct {
	sender smtpSender
	from   string
	host   string
	logger logger.Logger
}

var _ Adapter = (*SMTPAdapter)(nil)

func NewSMTPAdapter(cfg config.SMTPConfig, log logger.Logger) *SMTPAdapter {
	dialer := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	dialer.StartTLSPolicy = mail.OpportunisticStartTLS
	return &SMTPAdapter{
		sender: dialer,
		from:   cfg.FromEmail,
		host:   cfg.Host,
		logger: log.WithFields(map[string]interface{}{"provider": ProviderSMTP}),
	}
}

func (a *SMTPAdapter) Name() string            { return ProviderSMTP }
func (a *SMTPAdapter) Channel() models.Channel { return models.ChannelEmail }

// SMTP relays emit no receipts after acceptance.
func (a *SMTPAdapter) CheckStatus(_ context.Context, _ string) (models.Status, error) {
	return models.StatusSent, nil
}

func (a *SMTPAdapter) Send(ctx context.Context, n *models.Notification, payload *template.Payload) (*Result, error) {
	to := n.Recipient.AddressFor(models.ChannelEmail)
	if to == "" {
		return nil, errors.NewInvalidRecipientError("email address missing")
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), a.host)

	m := mail.NewMessage()
	m.SetHeader("From", a.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", payload.Subject)
	m.SetHeader("Message-ID", messageID)
	m.SetBody("text/plain", payload.TextBody)
	if payload.HTMLBody != "" {
		m.AddAlternative("text/html", payload.HTMLBody)
	}

	// go-mail dials synchronously; honour the dispatcher deadline up front.
	if err := ctx.Err(); err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return nil, errors.NewProviderTimeoutError(ProviderSMTP)
		}
		return nil, errors.NewTransientProviderError(ProviderSMTP, err)
	}

	if err := a.sender.DialAndSend(m); err != nil {
		return nil, errors.NewTransientProviderError(ProviderSMTP, err)
	}

	a.logger.Info("email accepted by smtp relay", map[string]interface{}{
		"notificationId": n.ID,
		"messageId":      messageID,
	})
	return &Result{ProviderMessageID: messageID, Accepted: true}, nil
}
