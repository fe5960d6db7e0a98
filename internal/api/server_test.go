package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"notification-engine/internal/analytics"
	"notification-engine/internal/channels"
	"notification-engine/internal/common/config"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/eligibility"
	"notification-engine/internal/models"
	"notification-engine/internal/quota"
	"notification-engine/internal/retry"
	"notification-engine/internal/store/memory"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const callbackSecret = "test-secret"

type apiFixture struct {
	notifications *memory.NotificationStore
	templates     *memory.TemplateStore
	prefs         *memory.PreferenceStore
	settings      *memory.SettingsStore
	attempts      *memory.AttemptStore
	aggregator    *analytics.Aggregator
	router        *gin.Engine
}

func newAPIFixture(t *testing.T) *apiFixture {
	notifications := memory.NewNotificationStore()
	templates := memory.NewTemplateStore()
	prefs := memory.NewPreferenceStore()
	settings := memory.NewSettingsStore()
	attempts := memory.NewAttemptStore()
	campaigns := memory.NewCampaignStore()
	quotas := quota.NewMemoryCounter()
	log := logger.NewTestLogger(t)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	aggregator := analytics.NewAggregator(rdb, log)

	registry := channels.NewRegistry()
	registry.Register(channels.NewWebhookAdapter(config.WebhookConfig{
		SigningSecret: callbackSecret,
	}, log))

	server := NewServer(ServerDeps{
		Notifications: notifications,
		Templates:     templates,
		Preferences:   prefs,
		Settings:      settings,
		Attempts:      attempts,
		Campaigns:     campaigns,
		Resolver:      eligibility.NewResolver(settings, prefs, quotas, log),
		Retries:       retry.NewManager(notifications, log),
		Aggregator:    aggregator,
		Exporter:      analytics.NewExporter(notifications, attempts),
		Callbacks:     registry,
		Logger:        log,
	})

	return &apiFixture{
		notifications: notifications,
		templates:     templates,
		prefs:         prefs,
		settings:      settings,
		attempts:      attempts,
		aggregator:    aggregator,
		router:        server.Router(),
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}, header http.Header) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func sendBody() map[string]interface{} {
	return map[string]interface{}{
		"tenantId":  "tenant-1",
		"eventType": "order.shipped",
		"type":      "transactional",
		"channel":   "email",
		"recipient": map[string]string{"userId": "user-1", "email": "user@example.com"},
		"variables": map[string]string{"order_id": "o-42"},
	}
}

func TestSendNotificationAccepted(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/v1/notifications", sendBody(), nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	resp := decode(t, w)
	assert.Equal(t, "queued", resp["status"])
	id := resp["notificationId"].(string)

	n, err := f.notifications.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, n.Status)
	assert.Equal(t, models.PriorityMedium, n.Priority, "priority defaults to medium")
	assert.Equal(t, "o-42", n.Metadata.Extra["order_id"])
}

func TestSendNotificationScheduled(t *testing.T) {
	f := newAPIFixture(t)

	body := sendBody()
	body["sendAt"] = time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	w := f.do(t, http.MethodPost, "/v1/notifications", body, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	resp := decode(t, w)
	assert.Equal(t, "pending", resp["status"])
	assert.NotEmpty(t, resp["scheduledFor"])
}

func TestSendNotificationValidation(t *testing.T) {
	f := newAPIFixture(t)

	body := sendBody()
	body["channel"] = "carrier_pigeon"
	w := f.do(t, http.MethodPost, "/v1/notifications", body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body = sendBody()
	body["recipient"] = map[string]string{"userId": "user-1"} // no email
	w = f.do(t, http.MethodPost, "/v1/notifications", body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/v1/notifications", map[string]string{"tenantId": "tenant-1"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendNotificationDenied(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.settings.SetGlobalKillSwitch(context.Background(), true))

	w := f.do(t, http.MethodPost, "/v1/notifications", sendBody(), nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	resp := decode(t, w)
	assert.Equal(t, "denied", resp["status"])
	assert.Equal(t, "global_disabled", resp["reason"])
}

func TestCancelNotification(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	require.NoError(t, f.notifications.Create(ctx, &models.Notification{
		ID: "n-1", TenantID: "tenant-1", Status: models.StatusQueued, CreatedAt: time.Now(),
	}))

	w := f.do(t, http.MethodPost, "/v1/notifications/n-1/cancel", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Already cancelled: the second cancel is a conflict.
	w = f.do(t, http.MethodPost, "/v1/notifications/n-1/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRetryNotification(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	require.NoError(t, f.notifications.Create(ctx, &models.Notification{
		ID: "n-1", TenantID: "tenant-1", Status: models.StatusFailed,
		AttemptCount: 4, CreatedAt: time.Now(),
	}))

	w := f.do(t, http.MethodPost, "/v1/notifications/n-1/retry", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	n, err := f.notifications.Get(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, n.Status)
	assert.Zero(t, n.AttemptCount)

	// Only failed notifications are retryable by hand.
	w = f.do(t, http.MethodPost, "/v1/notifications/n-1/retry", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/v1/notifications/missing/retry", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func signCallback(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(callbackSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func callbackHeader(body []byte) http.Header {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	h := http.Header{}
	h.Set("X-Notification-Timestamp", timestamp)
	h.Set("X-Notification-Signature", signCallback(timestamp, body))
	return h
}

func TestCallbackFlow(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	require.NoError(t, f.notifications.Create(ctx, &models.Notification{
		ID: "n-1", TenantID: "tenant-1", Channel: models.ChannelWebhook,
		Status: models.StatusSent, Provider: "webhook", ProviderMessageID: "pm-1",
		CreatedAt: time.Now(),
	}))

	body, _ := json.Marshal(map[string]string{"messageId": "pm-1", "status": "delivered"})
	w := f.do(t, http.MethodPost, "/v1/callbacks/webhook", json.RawMessage(body), callbackHeader(body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "delivered", decode(t, w)["status"])

	n, err := f.notifications.Get(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, n.Status)

	// Providers redeliver; the replay is acknowledged but changes nothing.
	w = f.do(t, http.MethodPost, "/v1/callbacks/webhook", json.RawMessage(body), callbackHeader(body))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ignored", decode(t, w)["status"])

	stats, err := f.aggregator.TenantStats(ctx, "tenant-1", models.ChannelWebhook, time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Delivered)
}

func TestCallbackRejectsBadSignature(t *testing.T) {
	f := newAPIFixture(t)

	body, _ := json.Marshal(map[string]string{"messageId": "pm-1", "status": "delivered"})
	h := http.Header{}
	h.Set("X-Notification-Timestamp", "1")
	h.Set("X-Notification-Signature", "forged")

	w := f.do(t, http.MethodPost, "/v1/callbacks/webhook", json.RawMessage(body), h)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCallbackUnknownProvider(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodPost, "/v1/callbacks/carrier-pigeon", map[string]string{}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTemplateLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/v1/templates", map[string]interface{}{
		"tenantId":  "tenant-1",
		"eventType": "order.shipped",
		"channel":   "email",
		"language":  "en",
		"subject":   "Shipped",
		"body":      "Hi #{user_id}",
		"isSystem":  true, // ignored: the API never mints system templates
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode(t, w)
	assert.Equal(t, false, resp["isSystem"])
	id := resp["id"].(string)

	w = f.do(t, http.MethodGet, "/v1/templates/"+id, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodDelete, "/v1/templates/"+id, nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodGet, "/v1/templates/"+id, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTemplateSystemProtection(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.templates.Create(context.Background(), &models.NotificationTemplate{
		ID: "tpl-sys", EventType: "order.shipped", Channel: models.ChannelEmail,
		Body: "system default", IsSystem: true,
	}))

	w := f.do(t, http.MethodDelete, "/v1/templates/tpl-sys", nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPut, "/v1/templates/tpl-sys", map[string]string{"body": "hijacked"}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestKillSwitchEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/v1/admin/kill-switch", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["enabled"])

	h := http.Header{}
	h.Set("X-Actor-Id", "oncall@example.com")
	w = f.do(t, http.MethodPut, "/v1/admin/kill-switch", map[string]bool{"enabled": true}, h)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/v1/admin/kill-switch", nil, nil)
	assert.Equal(t, true, decode(t, w)["enabled"])
}

func TestPreferencesEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	// Untouched preferences read back as all-enabled defaults.
	w := f.do(t, http.MethodGet, "/v1/users/user-1/preferences?tenantId=tenant-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-1", decode(t, w)["userId"])

	w = f.do(t, http.MethodPut, "/v1/users/user-1/preferences", map[string]interface{}{
		"tenantId":    "tenant-1",
		"typeEnabled": map[string]bool{"marketing": false},
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	prefs, err := f.prefs.Get(context.Background(), "tenant-1", "user-1")
	require.NoError(t, err)
	require.NotNil(t, prefs)
	assert.False(t, prefs.TypeAllowed(models.TypeMarketing))

	w = f.do(t, http.MethodGet, "/v1/users/user-1/preferences", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "tenantId query is mandatory")
}

func TestInAppInboxEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	n := &models.Notification{
		ID: "n-1", TenantID: "tenant-1", Channel: models.ChannelInApp,
		Status: models.StatusQueued, Title: "Welcome",
		Recipient: models.Recipient{UserID: "user-1"}, CreatedAt: time.Now(),
	}
	require.NoError(t, f.notifications.Create(ctx, n))
	claimed, err := f.notifications.ClaimForSending(ctx, "n-1")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, f.notifications.MarkSent(ctx, "n-1", "inapp", "pm-1", time.Now()))
	_, err = f.notifications.ApplyCallbackStatus(ctx, "pm-1", models.StatusDelivered, time.Now())
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/v1/users/user-1/notifications?tenantId=tenant-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Welcome")

	w = f.do(t, http.MethodGet, "/v1/users/user-1/notifications/unread-count?tenantId=tenant-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["unread"])

	w = f.do(t, http.MethodPost, "/v1/users/user-1/notifications/n-1/read", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/v1/users/user-1/notifications/unread-count?tenantId=tenant-1", nil, nil)
	assert.EqualValues(t, 0, decode(t, w)["unread"])

	w = f.do(t, http.MethodDelete, "/v1/users/user-1/notifications/n-1", nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestStatsAndExportEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	day := time.Now().UTC()

	n := &models.Notification{
		ID: "n-1", TenantID: "tenant-1", Channel: models.ChannelEmail,
		Type: models.TypeMarketing, Status: models.StatusSent, CreatedAt: day,
	}
	require.NoError(t, f.notifications.Create(ctx, n))
	require.NoError(t, f.aggregator.RecordAttempt(ctx, n, &models.DeliveryAttempt{
		ID: "a-1", Outcome: models.OutcomeSent, AttemptedAt: day,
	}))

	w := f.do(t, http.MethodGet,
		"/v1/tenants/tenant-1/stats?channel=email&date="+day.Format("2006-01-02"), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["sent"])

	w = f.do(t, http.MethodGet, "/v1/tenants/tenant-1/stats", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "channel is mandatory")

	from := day.AddDate(0, 0, -1).Format("2006-01-02")
	to := day.AddDate(0, 0, 1).Format("2006-01-02")
	w = f.do(t, http.MethodGet, "/v1/export?tenantId=tenant-1&from="+from+"&to="+to+"&format=csv", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "notification,n-1")

	w = f.do(t, http.MethodGet, "/v1/export?tenantId=tenant-1&from="+to+"&to="+from, nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "inverted range is rejected")
}

func TestProviderStatusPoll(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	sentAt := time.Now()
	require.NoError(t, f.notifications.Create(ctx, &models.Notification{
		ID:                "n-1",
		TenantID:          "tenant-1",
		Channel:           models.ChannelWebhook,
		Status:            models.StatusSent,
		Recipient:         models.Recipient{UserID: "user-1", WebhookURL: "https://example.com/hook"},
		Provider:          "webhook",
		ProviderMessageID: "pm-1",
		SentAt:            &sentAt,
	}))

	w := f.do(t, http.MethodGet, "/v1/notifications/n-1/provider-status", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, "webhook", resp["provider"])
	assert.Equal(t, "sent", resp["providerStatus"])
}

func TestProviderStatusBeforeHandoff(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	require.NoError(t, f.notifications.Create(ctx, &models.Notification{
		ID:        "n-1",
		TenantID:  "tenant-1",
		Channel:   models.ChannelWebhook,
		Status:    models.StatusQueued,
		Recipient: models.Recipient{UserID: "user-1"},
	}))

	w := f.do(t, http.MethodGet, "/v1/notifications/n-1/provider-status", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
