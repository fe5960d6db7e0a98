package channels

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"notification-engine/internal/common/config"
	"notification-engine/internal/common/errors"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/models"
	"notification-engine/internal/template"

	"github.com/google/uuid"
)

const ProviderWebhook = "webhook"

const (
	headerSignature = "X-Notification-Signature"
	headerTimestamp = "X-Notification-Timestamp"
	headerEvent     = "X-Notification-Event"
)

// WebhookAdapter POSTs the rendered envelope to the recipient URL. Every
// request carries an HMAC-SHA256 signature over "<timestamp>.<body>" so the
// receiver can authenticate the engine.
type WebhookAdapter struct {
	client *http.Client
	secret []byte
	logger logger.Logger
	now    func() time.Time
}

var (
	_ Adapter        = (*WebhookAdapter)(nil)
	_ CallbackParser = (*WebhookAdapter)(nil)
)

func NewWebhookAdapter(cfg config.WebhookConfig, log logger.Logger) *WebhookAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookAdapter{
		client: &http.Client{Timeout: timeout},
		secret: []byte(cfg.SigningSecret),
		logger: log.WithFields(map[string]interface{}{"provider": ProviderWebhook}),
		now:    time.Now,
	}
}

func (a *WebhookAdapter) Name() string            { return ProviderWebhook }
func (a *WebhookAdapter) Channel() models.Channel { return models.ChannelWebhook }

// Receivers report delivery through signed callbacks, not polling.
func (a *WebhookAdapter) CheckStatus(_ context.Context, _ string) (models.Status, error) {
	return models.StatusSent, nil
}

func (a *WebhookAdapter) Send(ctx context.Context, n *models.Notification, payload *template.Payload) (*Result, error) {
	url := n.Recipient.AddressFor(models.ChannelWebhook)
	if url == "" {
		return nil, errors.NewInvalidRecipientError("webhook url missing")
	}

	messageID := uuid.NewString()
	envelope := map[string]interface{}{
		"messageId":      messageID,
		"notificationId": n.ID,
		"tenantId":       n.TenantID,
		"payload":        payload.Envelope,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, errors.NewPermanentProviderError(ProviderWebhook, err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewPermanentProviderError(ProviderWebhook, err.Error())
	}
	timestamp := strconv.FormatInt(a.now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerEvent, n.EventType)
	req.Header.Set(headerTimestamp, timestamp)
	req.Header.Set(headerSignature, a.sign(timestamp, body))

	resp, err := a.client.Do(req)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return nil, errors.NewProviderTimeoutError(ProviderWebhook)
		}
		return nil, errors.NewTransientProviderError(ProviderWebhook, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		a.logger.Info("webhook delivered", map[string]interface{}{
			"notificationId": n.ID,
			"status":         resp.StatusCode,
		})
		return &Result{ProviderMessageID: messageID, Accepted: true}, nil
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, errors.NewTransientProviderError(ProviderWebhook,
			fmt.Errorf("receiver returned %d", resp.StatusCode))
	default:
		return nil, errors.NewPermanentProviderError(ProviderWebhook,
			fmt.Sprintf("receiver returned %d", resp.StatusCode))
	}
}

func (a *WebhookAdapter) sign(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type webhookReceipt struct {
	MessageID  string    `json:"messageId"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurredAt"`
}

// ParseCallback authenticates and decodes a receiver status report. The
// signature scheme mirrors the outbound one.
func (a *WebhookAdapter) ParseCallback(body []byte, header http.Header) (*CallbackEvent, error) {
	timestamp := header.Get(headerTimestamp)
	signature := header.Get(headerSignature)
	if !hmac.Equal([]byte(a.sign(timestamp, body)), []byte(signature)) {
		return nil, errors.NewSignatureInvalidError(ProviderWebhook)
	}

	var receipt webhookReceipt
	if err := json.Unmarshal(body, &receipt); err != nil {
		return nil, errors.NewValidationError("malformed webhook callback: " + err.Error())
	}
	if receipt.MessageID == "" {
		return nil, errors.NewValidationError("webhook callback missing messageId")
	}

	event := &CallbackEvent{ProviderMessageID: receipt.MessageID, OccurredAt: receipt.OccurredAt}
	switch receipt.Status {
	case "delivered":
		event.Status = models.StatusDelivered
	case "bounced", "failed":
		event.Status = models.StatusBounced
	case "read":
		event.Status = models.StatusRead
	case "clicked":
		event.Status = models.StatusClicked
	default:
		return nil, errors.NewValidationError("unsupported webhook status: " + receipt.Status)
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = a.now().UTC()
	}
	return event, nil
}
