package memory

import (
	"context"
	"sync"
	"time"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/models"
	"notification-engine/internal/store"
)

// TemplateStore is an in-memory template store.
type TemplateStore struct {
	mu    sync.Mutex
	items map[string]*models.NotificationTemplate
}

var _ store.TemplateStore = (*TemplateStore)(nil)

func NewTemplateStore() *TemplateStore {
	return &TemplateStore{items: map[string]*models.NotificationTemplate{}}
}

func (s *TemplateStore) Create(_ context.Context, t *models.NotificationTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.items[t.ID] = &cp
	return nil
}

func (s *TemplateStore) Get(_ context.Context, id string) (*models.NotificationTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.items[id]
	if !ok {
		return nil, errors.NewNotFoundError("template", id)
	}
	cp := *t
	return &cp, nil
}

func (s *TemplateStore) Resolve(_ context.Context, tenantID, eventType string, channel models.Channel, language string) (*models.NotificationTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var languageMiss, system *models.NotificationTemplate
	for _, t := range s.items {
		if t.EventType != eventType || t.Channel != channel {
			continue
		}
		if t.TenantID == tenantID {
			if t.Language == language {
				cp := *t
				return &cp, nil
			}
			languageMiss = t
		}
		if t.IsSystem {
			system = t
		}
	}
	if languageMiss != nil {
		cp := *languageMiss
		return &cp, nil
	}
	if system != nil {
		cp := *system
		return &cp, nil
	}
	return nil, errors.NewTemplateNotFoundError(tenantID, eventType, string(channel))
}

func (s *TemplateStore) Update(_ context.Context, t *models.NotificationTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.items[t.ID]
	if !ok {
		return errors.NewNotFoundError("template", t.ID)
	}
	if existing.IsSystem {
		return errors.NewSystemTemplateError(t.ID)
	}
	cp := *t
	s.items[t.ID] = &cp
	return nil
}

func (s *TemplateStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.items[id]
	if !ok {
		return errors.NewNotFoundError("template", id)
	}
	if existing.IsSystem {
		return errors.NewSystemTemplateError(id)
	}
	delete(s.items, id)
	return nil
}

func (s *TemplateStore) ListByTenant(_ context.Context, tenantID string) ([]*models.NotificationTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.NotificationTemplate
	for _, t := range s.items {
		if t.TenantID == tenantID || t.IsSystem {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// PreferenceStore is an in-memory preference store.
type PreferenceStore struct {
	mu    sync.Mutex
	items map[string]*models.UserPreference
}

var _ store.PreferenceStore = (*PreferenceStore)(nil)

func NewPreferenceStore() *PreferenceStore {
	return &PreferenceStore{items: map[string]*models.UserPreference{}}
}

func prefKey(tenantID, userID string) string {
	return tenantID + "/" + userID
}

func (s *PreferenceStore) Get(_ context.Context, tenantID, userID string) (*models.UserPreference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[prefKey(tenantID, userID)]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *PreferenceStore) Upsert(_ context.Context, p *models.UserPreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.items[prefKey(p.TenantID, p.UserID)] = &cp
	return nil
}

// SettingsStore is an in-memory settings store.
type SettingsStore struct {
	mu         sync.Mutex
	tenants    map[string]*models.TenantSettings
	killSwitch bool
}

var _ store.SettingsStore = (*SettingsStore)(nil)

func NewSettingsStore() *SettingsStore {
	return &SettingsStore{tenants: map[string]*models.TenantSettings{}}
}

func (s *SettingsStore) GetTenant(_ context.Context, tenantID string) (*models.TenantSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.tenants[tenantID]
	if !ok {
		return nil, nil
	}
	cp := *ts
	return &cp, nil
}

func (s *SettingsStore) UpsertTenant(_ context.Context, ts *models.TenantSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ts
	s.tenants[ts.TenantID] = &cp
	return nil
}

func (s *SettingsStore) GlobalKillSwitch(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killSwitch, nil
}

func (s *SettingsStore) SetGlobalKillSwitch(_ context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killSwitch = enabled
	return nil
}

// CampaignStore is an in-memory campaign store.
type CampaignStore struct {
	mu    sync.Mutex
	items map[string]*models.Campaign
}

var _ store.CampaignStore = (*CampaignStore)(nil)

func NewCampaignStore() *CampaignStore {
	return &CampaignStore{items: map[string]*models.Campaign{}}
}

func (s *CampaignStore) Create(_ context.Context, c *models.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.items[c.ID] = &cp
	return nil
}

func (s *CampaignStore) Get(_ context.Context, id string) (*models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok {
		return nil, errors.NewNotFoundError("campaign", id)
	}
	cp := *c
	return &cp, nil
}

func (s *CampaignStore) Update(_ context.Context, c *models.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[c.ID]; !ok {
		return errors.NewNotFoundError("campaign", c.ID)
	}
	cp := *c
	s.items[c.ID] = &cp
	return nil
}

func (s *CampaignStore) DueCampaigns(_ context.Context, now time.Time, limit int) ([]*models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Campaign
	for _, c := range s.items {
		if c.Status != "active" || c.NextFireAt == nil || c.NextFireAt.After(now) {
			continue
		}
		cp := *c
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *CampaignStore) SetNextFire(_ context.Context, id string, at *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok {
		return errors.NewNotFoundError("campaign", id)
	}
	c.NextFireAt = at
	return nil
}
