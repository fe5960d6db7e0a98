package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/models"
)

type PreferenceStore struct {
	db *sql.DB
}

func NewPreferenceStore(db *sql.DB) *PreferenceStore {
	return &PreferenceStore{db: db}
}

// Get returns nil (not an error) when the user never saved preferences;
// the resolver treats a missing record as all-enabled defaults.
func (s *PreferenceStore) Get(ctx context.Context, tenantID, userID string) (*models.UserPreference, error) {
	var (
		p                      models.UserPreference
		channels, types, quiet []byte
		language               sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, tenant_id, channel_enabled, type_enabled, quiet_hours,
		       language, updated_at
		FROM user_preferences
		WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID).
		Scan(&p.UserID, &p.TenantID, &channels, &types, &quiet, &language, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewDatabaseError("get preference", err)
	}

	p.Language = language.String
	if err := json.Unmarshal(channels, &p.ChannelEnabled); err != nil {
		return nil, fmt.Errorf("decode channel prefs: %w", err)
	}
	if err := json.Unmarshal(types, &p.TypeEnabled); err != nil {
		return nil, fmt.Errorf("decode type prefs: %w", err)
	}
	if err := json.Unmarshal(quiet, &p.QuietHours); err != nil {
		return nil, fmt.Errorf("decode quiet hours: %w", err)
	}
	return &p, nil
}

func (s *PreferenceStore) Upsert(ctx context.Context, p *models.UserPreference) error {
	channels, err := json.Marshal(p.ChannelEnabled)
	if err != nil {
		return fmt.Errorf("encode channel prefs: %w", err)
	}
	types, err := json.Marshal(p.TypeEnabled)
	if err != nil {
		return fmt.Errorf("encode type prefs: %w", err)
	}
	quiet, err := json.Marshal(p.QuietHours)
	if err != nil {
		return fmt.Errorf("encode quiet hours: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_preferences (
			user_id, tenant_id, channel_enabled, type_enabled, quiet_hours,
			language, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (tenant_id, user_id) DO UPDATE SET
			channel_enabled = EXCLUDED.channel_enabled,
			type_enabled = EXCLUDED.type_enabled,
			quiet_hours = EXCLUDED.quiet_hours,
			language = EXCLUDED.language,
			updated_at = EXCLUDED.updated_at`,
		p.UserID, p.TenantID, channels, types, quiet, nullStr(p.Language), p.UpdatedAt)
	if err != nil {
		return errors.NewDatabaseError("upsert preference", err)
	}
	return nil
}
