package eligibility

import (
	"context"
	"testing"
	"time"

	"notification-engine/internal/common/logger"
	"notification-engine/internal/models"
	"notification-engine/internal/quota"
	"notification-engine/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	settings *memory.SettingsStore
	prefs    *memory.PreferenceStore
	quotas   *quota.MemoryCounter
	resolver *Resolver
}

func newFixture(t *testing.T) *fixture {
	settings := memory.NewSettingsStore()
	prefs := memory.NewPreferenceStore()
	quotas := quota.NewMemoryCounter()
	return &fixture{
		settings: settings,
		prefs:    prefs,
		quotas:   quotas,
		resolver: NewResolver(settings, prefs, quotas, logger.NewTestLogger(t)),
	}
}

func baseRequest() Request {
	return Request{
		TenantID: "tenant-1",
		UserID:   "user-1",
		Type:     models.TypeMarketing,
		Channel:  models.ChannelEmail,
		Priority: models.PriorityMedium,
		SendAt:   time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC),
	}
}

func TestResolveAllowsByDefault(t *testing.T) {
	f := newFixture(t)
	d, err := f.resolver.Resolve(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Nil(t, d.DeferUntil)
}

func TestResolveGlobalKillSwitch(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.settings.SetGlobalKillSwitch(context.Background(), true))

	d, err := f.resolver.Resolve(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyGlobalDisabled, d.Reason)
}

func TestResolveTenantChannelDisabled(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.settings.UpsertTenant(context.Background(), &models.TenantSettings{
		TenantID:       "tenant-1",
		ChannelEnabled: map[models.Channel]bool{models.ChannelEmail: false},
	}))

	d, err := f.resolver.Resolve(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyTenantDisabled, d.Reason)
}

func TestResolveSuperAdminOverride(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.settings.UpsertTenant(context.Background(), &models.TenantSettings{
		TenantID:       "tenant-1",
		ChannelEnabled: map[models.Channel]bool{models.ChannelEmail: true},
		AdminDisabled:  map[models.Channel]bool{models.ChannelEmail: true},
	}))

	d, err := f.resolver.Resolve(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyTenantDisabled, d.Reason)
}

func TestResolveQuotaExhausted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	settings := &models.TenantSettings{
		TenantID: "tenant-1",
		Quotas:   map[models.Channel]models.ChannelQuota{models.ChannelEmail: {Daily: 1}},
	}
	require.NoError(t, f.settings.UpsertTenant(ctx, settings))
	require.NoError(t, f.quotas.Consume(ctx, "tenant-1", models.ChannelEmail, settings, baseRequest().SendAt))

	d, err := f.resolver.Resolve(ctx, baseRequest())
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyQuotaExceeded, d.Reason)
}

func TestResolveUserOptOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.prefs.Upsert(ctx, &models.UserPreference{
		UserID:      "user-1",
		TenantID:    "tenant-1",
		TypeEnabled: map[models.NotificationType]bool{models.TypeMarketing: false},
	}))

	d, err := f.resolver.Resolve(ctx, baseRequest())
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyUserOptedOut, d.Reason)
}

func TestResolveMandatoryTypeSkipsUserChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.prefs.Upsert(ctx, &models.UserPreference{
		UserID:         "user-1",
		TenantID:       "tenant-1",
		ChannelEnabled: map[models.Channel]bool{models.ChannelEmail: false},
		QuietHours: models.QuietHours{
			Enabled: true, StartHour: 0, EndHour: 23, EndMin: 59, Timezone: "UTC",
		},
	}))

	req := baseRequest()
	req.Type = models.TypeSecurity
	d, err := f.resolver.Resolve(ctx, req)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Nil(t, d.DeferUntil, "security sends ignore quiet hours")
}

func TestResolveQuietHoursDefersNonUrgent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.prefs.Upsert(ctx, &models.UserPreference{
		UserID:   "user-1",
		TenantID: "tenant-1",
		QuietHours: models.QuietHours{
			Enabled: true, StartHour: 22, EndHour: 8, Timezone: "UTC",
		},
	}))

	req := baseRequest()
	req.SendAt = time.Date(2025, 6, 2, 23, 30, 0, 0, time.UTC)

	d, err := f.resolver.Resolve(ctx, req)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	require.NotNil(t, d.DeferUntil)
	assert.Equal(t, time.Date(2025, 6, 3, 8, 0, 0, 0, time.UTC), d.DeferUntil.UTC())

	// Urgent cuts straight through the window.
	req.Priority = models.PriorityUrgent
	d, err = f.resolver.Resolve(ctx, req)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Nil(t, d.DeferUntil)
}

func TestResolveDenyOrderTenantBeforeUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.settings.UpsertTenant(ctx, &models.TenantSettings{
		TenantID:       "tenant-1",
		ChannelEnabled: map[models.Channel]bool{models.ChannelEmail: false},
	}))
	require.NoError(t, f.prefs.Upsert(ctx, &models.UserPreference{
		UserID:         "user-1",
		TenantID:       "tenant-1",
		ChannelEnabled: map[models.Channel]bool{models.ChannelEmail: false},
	}))

	d, err := f.resolver.Resolve(ctx, baseRequest())
	require.NoError(t, err)
	assert.Equal(t, DenyTenantDisabled, d.Reason, "first deny in the ladder wins")
}
