package dispatch

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"notification-engine/internal/channels"
	"notification-engine/internal/common/errors"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/eligibility"
	"notification-engine/internal/models"
	"notification-engine/internal/quota"
	"notification-engine/internal/store/memory"
	"notification-engine/internal/template"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAdapter struct {
	name     string
	channel  models.Channel
	SendFunc func(ctx context.Context, n *models.Notification, payload *template.Payload) (*channels.Result, error)
}

func (m *mockAdapter) Name() string            { return m.name }
func (m *mockAdapter) Channel() models.Channel { return m.channel }
func (m *mockAdapter) Send(ctx context.Context, n *models.Notification, payload *template.Payload) (*channels.Result, error) {
	return m.SendFunc(ctx, n, payload)
}
func (m *mockAdapter) CheckStatus(context.Context, string) (models.Status, error) {
	return models.StatusSent, nil
}

type dispatchFixture struct {
	notifications *memory.NotificationStore
	templates     *memory.TemplateStore
	settings      *memory.SettingsStore
	attempts      *memory.AttemptStore
	quotas        *quota.MemoryCounter
	dispatcher    *Dispatcher
	now           time.Time
}

func newDispatchFixture(t *testing.T, adapters ...channels.Adapter) *dispatchFixture {
	notifications := memory.NewNotificationStore()
	templates := memory.NewTemplateStore()
	prefs := memory.NewPreferenceStore()
	settings := memory.NewSettingsStore()
	attempts := memory.NewAttemptStore()
	quotas := quota.NewMemoryCounter()
	log := logger.NewTestLogger(t)

	registry := channels.NewRegistry()
	for _, a := range adapters {
		registry.Register(a)
	}

	d := NewDispatcher(Deps{
		Notifications: notifications,
		Templates:     templates,
		Preferences:   prefs,
		Settings:      settings,
		Attempts:      attempts,
		Resolver:      eligibility.NewResolver(settings, prefs, quotas, log),
		Registry:      registry,
		Quotas:        quotas,
		Logger:        log,
	}, time.Second)

	f := &dispatchFixture{
		notifications: notifications,
		templates:     templates,
		settings:      settings,
		attempts:      attempts,
		quotas:        quotas,
		dispatcher:    d,
		now:           time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC),
	}
	d.now = func() time.Time { return f.now }

	require.NoError(t, templates.Create(context.Background(), &models.NotificationTemplate{
		ID:        "tpl-1",
		EventType: "order.shipped",
		Channel:   models.ChannelEmail,
		Language:  "en",
		Subject:   "Order shipped",
		Body:      "Hi #{user_id}, your order is on the way.",
		IsSystem:  true,
	}))
	return f
}

func queuedNotification(id string) *models.Notification {
	return &models.Notification{
		ID:        id,
		TenantID:  "tenant-1",
		EventType: "order.shipped",
		Type:      models.TypeTransactional,
		Channel:   models.ChannelEmail,
		Priority:  models.PriorityMedium,
		Status:    models.StatusQueued,
		Recipient: models.Recipient{UserID: "user-1", Email: "user@example.com"},
		CreatedAt: time.Now(),
	}
}

func sendOK(name string) *mockAdapter {
	return &mockAdapter{
		name:    name,
		channel: models.ChannelEmail,
		SendFunc: func(context.Context, *models.Notification, *template.Payload) (*channels.Result, error) {
			return &channels.Result{ProviderMessageID: name + "-msg", Accepted: true}, nil
		},
	}
}

func TestDispatchSuccess(t *testing.T) {
	f := newDispatchFixture(t, sendOK("ses"))
	ctx := context.Background()
	require.NoError(t, f.notifications.Create(ctx, queuedNotification("n-1")))

	require.NoError(t, f.dispatcher.Dispatch(ctx, "n-1"))

	got, err := f.notifications.Get(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, got.Status)
	assert.Equal(t, "ses", got.Provider)
	assert.Equal(t, "ses-msg", got.ProviderMessageID)
	assert.Equal(t, 1, got.AttemptCount)
	require.NotNil(t, got.SentAt)

	attempts, err := f.attempts.ListByNotification(ctx, "n-1")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, models.OutcomeSent, attempts[0].Outcome)
	assert.Equal(t, "ses", attempts[0].Provider)
}

func TestDispatchSingleFlight(t *testing.T) {
	var sends int64
	adapter := &mockAdapter{
		name:    "ses",
		channel: models.ChannelEmail,
		SendFunc: func(context.Context, *models.Notification, *template.Payload) (*channels.Result, error) {
			atomic.AddInt64(&sends, 1)
			time.Sleep(5 * time.Millisecond)
			return &channels.Result{ProviderMessageID: "msg", Accepted: true}, nil
		},
	}
	f := newDispatchFixture(t, adapter)
	ctx := context.Background()
	require.NoError(t, f.notifications.Create(ctx, queuedNotification("n-1")))

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.dispatcher.Dispatch(ctx, "n-1"))
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt64(&sends), "the claim admits exactly one worker")
}

func TestDispatchInAppDeliversImmediately(t *testing.T) {
	inapp := &mockAdapter{
		name:    "inapp",
		channel: models.ChannelInApp,
		SendFunc: func(context.Context, *models.Notification, *template.Payload) (*channels.Result, error) {
			return &channels.Result{ProviderMessageID: "inapp-msg", Accepted: true}, nil
		},
	}
	f := newDispatchFixture(t, inapp)
	ctx := context.Background()

	require.NoError(t, f.templates.Create(ctx, &models.NotificationTemplate{
		ID: "tpl-inapp", EventType: "order.shipped", Channel: models.ChannelInApp,
		Body: "Order update for #{user_id}", IsSystem: true,
	}))
	n := queuedNotification("n-1")
	n.Channel = models.ChannelInApp
	require.NoError(t, f.notifications.Create(ctx, n))

	require.NoError(t, f.dispatcher.Dispatch(ctx, "n-1"))

	got, err := f.notifications.Get(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, got.Status, "in-app needs no provider receipt")
	require.NotNil(t, got.DeliveredAt)
}

func TestDispatchFailoverToFallback(t *testing.T) {
	primary := &mockAdapter{
		name:    "ses",
		channel: models.ChannelEmail,
		SendFunc: func(context.Context, *models.Notification, *template.Payload) (*channels.Result, error) {
			return nil, errors.NewTransientProviderError("ses", assert.AnError)
		},
	}
	f := newDispatchFixture(t, primary, sendOK("smtp"))
	ctx := context.Background()
	require.NoError(t, f.notifications.Create(ctx, queuedNotification("n-1")))

	require.NoError(t, f.dispatcher.Dispatch(ctx, "n-1"))

	got, err := f.notifications.Get(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, got.Status)
	assert.Equal(t, "smtp", got.Provider)

	attempts, err := f.attempts.ListByNotification(ctx, "n-1")
	require.NoError(t, err)
	require.Len(t, attempts, 2, "both providers leave an attempt row")
	assert.Equal(t, models.OutcomeFailed, attempts[0].Outcome)
	assert.Equal(t, models.OutcomeSent, attempts[1].Outcome)
}

func TestDispatchPermanentErrorStopsChain(t *testing.T) {
	var fallbackCalled bool
	primary := &mockAdapter{
		name:    "ses",
		channel: models.ChannelEmail,
		SendFunc: func(context.Context, *models.Notification, *template.Payload) (*channels.Result, error) {
			return nil, errors.NewPermanentProviderError("ses", "address rejected")
		},
	}
	fallback := &mockAdapter{
		name:    "smtp",
		channel: models.ChannelEmail,
		SendFunc: func(context.Context, *models.Notification, *template.Payload) (*channels.Result, error) {
			fallbackCalled = true
			return &channels.Result{ProviderMessageID: "msg", Accepted: true}, nil
		},
	}
	f := newDispatchFixture(t, primary, fallback)
	ctx := context.Background()
	require.NoError(t, f.notifications.Create(ctx, queuedNotification("n-1")))

	require.NoError(t, f.dispatcher.Dispatch(ctx, "n-1"))

	got, err := f.notifications.Get(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Nil(t, got.ScheduledFor, "permanent failures never retry")
	assert.False(t, fallbackCalled, "a fallback cannot fix a rejected recipient")
}

func TestDispatchTransientErrorRequeues(t *testing.T) {
	primary := &mockAdapter{
		name:    "ses",
		channel: models.ChannelEmail,
		SendFunc: func(context.Context, *models.Notification, *template.Payload) (*channels.Result, error) {
			return nil, errors.NewTransientProviderError("ses", assert.AnError)
		},
	}
	f := newDispatchFixture(t, primary)
	ctx := context.Background()
	require.NoError(t, f.notifications.Create(ctx, queuedNotification("n-1")))

	require.NoError(t, f.dispatcher.Dispatch(ctx, "n-1"))

	got, err := f.notifications.Get(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	require.NotNil(t, got.ScheduledFor)
	assert.Equal(t, f.now.Add(60*time.Second), got.ScheduledFor.UTC(),
		"second attempt waits 60s")
}

func TestDispatchBudgetExhausted(t *testing.T) {
	primary := &mockAdapter{
		name:    "ses",
		channel: models.ChannelEmail,
		SendFunc: func(context.Context, *models.Notification, *template.Payload) (*channels.Result, error) {
			return nil, errors.NewTransientProviderError("ses", assert.AnError)
		},
	}
	f := newDispatchFixture(t, primary)
	ctx := context.Background()

	n := queuedNotification("n-1")
	n.AttemptCount = 3
	require.NoError(t, f.notifications.Create(ctx, n))

	require.NoError(t, f.dispatcher.Dispatch(ctx, "n-1"))

	got, err := f.notifications.Get(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status, "the fourth attempt is the last")
	assert.Equal(t, 4, got.AttemptCount)
}

func TestDispatchTemplateMissingFailsWithoutRetry(t *testing.T) {
	f := newDispatchFixture(t, sendOK("ses"))
	ctx := context.Background()

	n := queuedNotification("n-1")
	n.EventType = "no.such.event"
	require.NoError(t, f.notifications.Create(ctx, n))

	require.NoError(t, f.dispatcher.Dispatch(ctx, "n-1"))

	got, err := f.notifications.Get(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Nil(t, got.ScheduledFor)

	attempts, err := f.attempts.ListByNotification(ctx, "n-1")
	require.NoError(t, err)
	assert.Empty(t, attempts, "nothing reached a provider")
}

func TestDispatchQuotaAdmitsExactlyLimit(t *testing.T) {
	f := newDispatchFixture(t, sendOK("ses"))
	ctx := context.Background()
	require.NoError(t, f.settings.UpsertTenant(ctx, &models.TenantSettings{
		TenantID: "tenant-1",
		Quotas:   map[models.Channel]models.ChannelQuota{models.ChannelEmail: {Daily: 2}},
	}))

	ids := []string{"n-1", "n-2", "n-3"}
	for _, id := range ids {
		require.NoError(t, f.notifications.Create(ctx, queuedNotification(id)))
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, f.dispatcher.Dispatch(ctx, id))
		}(id)
	}
	wg.Wait()

	sent, failed := 0, 0
	for _, id := range ids {
		got, err := f.notifications.Get(ctx, id)
		require.NoError(t, err)
		switch got.Status {
		case models.StatusSent:
			sent++
		case models.StatusFailed:
			failed++
			assert.Contains(t, strings.ToLower(got.FailureReason), "quota")
		}
	}
	assert.Equal(t, 2, sent, "a daily limit of 2 admits exactly 2 of 3")
	assert.Equal(t, 1, failed)
}

func TestDispatchCancelDuringSendSuppressesRetry(t *testing.T) {
	var f *dispatchFixture
	adapter := &mockAdapter{
		name:    "ses",
		channel: models.ChannelEmail,
		SendFunc: func(ctx context.Context, n *models.Notification, _ *template.Payload) (*channels.Result, error) {
			// Cancellation lands while the provider call is in flight.
			err := f.notifications.Cancel(ctx, n.ID)
			assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
			return nil, errors.NewTransientProviderError("ses", assert.AnError)
		},
	}
	f = newDispatchFixture(t, adapter)
	ctx := context.Background()
	require.NoError(t, f.notifications.Create(ctx, queuedNotification("n-1")))

	require.NoError(t, f.dispatcher.Dispatch(ctx, "n-1"))

	got, err := f.notifications.Get(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.True(t, strings.HasPrefix(got.FailureReason, "retry suppressed"), got.FailureReason)
}

func TestDispatchBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int64
	adapter := &mockAdapter{
		name:    "ses",
		channel: models.ChannelEmail,
		SendFunc: func(context.Context, *models.Notification, *template.Payload) (*channels.Result, error) {
			atomic.AddInt64(&calls, 1)
			return nil, errors.NewTransientProviderError("ses", assert.AnError)
		},
	}
	f := newDispatchFixture(t, adapter)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		id := "n-" + string(rune('a'+i))
		require.NoError(t, f.notifications.Create(ctx, queuedNotification(id)))
		require.NoError(t, f.dispatcher.Dispatch(ctx, id))
	}

	assert.EqualValues(t, 5, atomic.LoadInt64(&calls),
		"the open breaker short-circuits the sixth call")

	got, err := f.notifications.Get(ctx, "n-f")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, got.Status, "a breaker rejection is still retryable")
}

func TestPoolDrainsQueue(t *testing.T) {
	f := newDispatchFixture(t, sendOK("ses"))
	ctx := context.Background()
	for _, id := range []string{"n-1", "n-2", "n-3"} {
		require.NoError(t, f.notifications.Create(ctx, queuedNotification(id)))
	}

	pool := NewPool(f.dispatcher, f.notifications, 2, 10, 10*time.Millisecond, logger.NewTestLogger(t))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- pool.Run(runCtx) }()

	require.Eventually(t, func() bool {
		for _, id := range []string{"n-1", "n-2", "n-3"} {
			n, err := f.notifications.Get(ctx, id)
			if err != nil || n.Status != models.StatusSent {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done, "cancellation is a clean shutdown")
}
