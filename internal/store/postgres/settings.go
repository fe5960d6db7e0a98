package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/models"
)

type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// GetTenant returns nil when the tenant has no saved settings; callers treat
// that as everything-enabled defaults.
func (s *SettingsStore) GetTenant(ctx context.Context, tenantID string) (*models.TenantSettings, error) {
	var settings []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT settings FROM tenant_notification_settings WHERE tenant_id = $1`,
		tenantID).Scan(&settings)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewDatabaseError("get tenant settings", err)
	}

	var ts models.TenantSettings
	if err := json.Unmarshal(settings, &ts); err != nil {
		return nil, fmt.Errorf("decode tenant settings: %w", err)
	}
	ts.TenantID = tenantID
	return &ts, nil
}

func (s *SettingsStore) UpsertTenant(ctx context.Context, ts *models.TenantSettings) error {
	settings, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("encode tenant settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tenant_notification_settings (tenant_id, settings, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id) DO UPDATE SET
			settings = EXCLUDED.settings,
			updated_at = EXCLUDED.updated_at`,
		ts.TenantID, settings, ts.UpdatedAt)
	if err != nil {
		return errors.NewDatabaseError("upsert tenant settings", err)
	}
	return nil
}

// GlobalKillSwitch reads the engine-wide disable flag. Missing row means the
// engine is enabled.
func (s *SettingsStore) GlobalKillSwitch(ctx context.Context) (bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM engine_settings WHERE key = 'global_kill_switch'`).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewDatabaseError("read kill switch", err)
	}
	return value == "true", nil
}

func (s *SettingsStore) SetGlobalKillSwitch(ctx context.Context, enabled bool) error {
	value := "false"
	if enabled {
		value = "true"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engine_settings (key, value) VALUES ('global_kill_switch', $1)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, value)
	if err != nil {
		return errors.NewDatabaseError("set kill switch", err)
	}
	return nil
}
