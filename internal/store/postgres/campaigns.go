package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/models"
)

type CampaignStore struct {
	db *sql.DB
}

func NewCampaignStore(db *sql.DB) *CampaignStore {
	return &CampaignStore{db: db}
}

const campaignColumns = `
	id, tenant_id, name, template_id, channels, audience, schedule, status,
	created_at, next_fire_at`

func (s *CampaignStore) Create(ctx context.Context, c *models.Campaign) error {
	channels, audience, schedule, err := encodeCampaign(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO campaigns (
			id, tenant_id, name, template_id, channels, audience, schedule,
			status, created_at, next_fire_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		c.ID, c.TenantID, c.Name, c.TemplateID, channels, audience, schedule,
		c.Status, c.CreatedAt, c.NextFireAt)
	if err != nil {
		return errors.NewDatabaseError("insert campaign", err)
	}
	return nil
}

func (s *CampaignStore) Get(ctx context.Context, id string) (*models.Campaign, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("campaign", id)
	}
	if err != nil {
		return nil, errors.NewDatabaseError("get campaign", err)
	}
	return c, nil
}

func (s *CampaignStore) Update(ctx context.Context, c *models.Campaign) error {
	channels, audience, schedule, err := encodeCampaign(c)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET name = $2, template_id = $3, channels = $4, audience = $5,
		    schedule = $6, status = $7, next_fire_at = $8
		WHERE id = $1`,
		c.ID, c.Name, c.TemplateID, channels, audience, schedule, c.Status,
		c.NextFireAt)
	if err != nil {
		return errors.NewDatabaseError("update campaign", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return errors.NewNotFoundError("campaign", c.ID)
	}
	return nil
}

func (s *CampaignStore) DueCampaigns(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+campaignColumns+` FROM campaigns
		WHERE status = 'active' AND next_fire_at IS NOT NULL AND next_fire_at <= $1
		ORDER BY next_fire_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, errors.NewDatabaseError("due campaigns", err)
	}
	defer rows.Close()

	var out []*models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, errors.NewDatabaseError("scan campaign", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("iterate campaigns", err)
	}
	return out, nil
}

func (s *CampaignStore) SetNextFire(ctx context.Context, id string, at *time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET next_fire_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return errors.NewDatabaseError("set next fire", err)
	}
	return nil
}

func encodeCampaign(c *models.Campaign) (channels, audience, schedule []byte, err error) {
	if channels, err = json.Marshal(c.Channels); err != nil {
		return nil, nil, nil, fmt.Errorf("encode channels: %w", err)
	}
	if audience, err = json.Marshal(c.Audience); err != nil {
		return nil, nil, nil, fmt.Errorf("encode audience: %w", err)
	}
	if schedule, err = json.Marshal(c.Schedule); err != nil {
		return nil, nil, nil, fmt.Errorf("encode schedule: %w", err)
	}
	return channels, audience, schedule, nil
}

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	var (
		c                            models.Campaign
		channels, audience, schedule []byte
	)
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.TemplateID, &channels,
		&audience, &schedule, &c.Status, &c.CreatedAt, &c.NextFireAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(channels, &c.Channels); err != nil {
		return nil, fmt.Errorf("decode channels: %w", err)
	}
	if err := json.Unmarshal(audience, &c.Audience); err != nil {
		return nil, fmt.Errorf("decode audience: %w", err)
	}
	if err := json.Unmarshal(schedule, &c.Schedule); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	return &c, nil
}
