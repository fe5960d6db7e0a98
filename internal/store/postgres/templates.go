package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/models"
)

type TemplateStore struct {
	db *sql.DB
}

func NewTemplateStore(db *sql.DB) *TemplateStore {
	return &TemplateStore{db: db}
}

const templateColumns = `
	id, tenant_id, event_type, channel, language, subject, body, html_body,
	branding, is_system, created_at, updated_at`

func (s *TemplateStore) Create(ctx context.Context, t *models.NotificationTemplate) error {
	branding, err := encodeBranding(t.Branding)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notification_templates (
			id, tenant_id, event_type, channel, language, subject, body,
			html_body, branding, is_system, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		t.ID, nullStr(t.TenantID), t.EventType, string(t.Channel), t.Language,
		t.Subject, t.Body, t.HTMLBody, branding, t.IsSystem, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return errors.NewDatabaseError("insert template", err)
	}
	return nil
}

func (s *TemplateStore) Get(ctx context.Context, id string) (*models.NotificationTemplate, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM notification_templates WHERE id = $1`, id)
	t, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("template", id)
	}
	if err != nil {
		return nil, errors.NewDatabaseError("get template", err)
	}
	return t, nil
}

// Resolve picks the best template for a send: the tenant's template in the
// requested language, else any tenant template for the event/channel, else
// the system default. System templates sort last via is_system.
func (s *TemplateStore) Resolve(ctx context.Context, tenantID, eventType string, channel models.Channel, language string) (*models.NotificationTemplate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+templateColumns+` FROM notification_templates
		WHERE event_type = $1 AND channel = $2
		  AND (tenant_id = $3 OR is_system = TRUE)
		ORDER BY is_system,
			CASE WHEN language = $4 THEN 0 ELSE 1 END
		LIMIT 1`,
		eventType, string(channel), tenantID, language)
	t, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewTemplateNotFoundError(tenantID, eventType, string(channel))
	}
	if err != nil {
		return nil, errors.NewDatabaseError("resolve template", err)
	}
	return t, nil
}

func (s *TemplateStore) Update(ctx context.Context, t *models.NotificationTemplate) error {
	branding, err := encodeBranding(t.Branding)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE notification_templates
		SET subject = $2, body = $3, html_body = $4, branding = $5, updated_at = $6
		WHERE id = $1 AND is_system = FALSE`,
		t.ID, t.Subject, t.Body, t.HTMLBody, branding, t.UpdatedAt)
	if err != nil {
		return errors.NewDatabaseError("update template", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		if existing, gerr := s.Get(ctx, t.ID); gerr == nil && existing.IsSystem {
			return errors.NewSystemTemplateError(t.ID)
		}
		return errors.NewNotFoundError("template", t.ID)
	}
	return nil
}

func (s *TemplateStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notification_templates WHERE id = $1 AND is_system = FALSE`, id)
	if err != nil {
		return errors.NewDatabaseError("delete template", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		if existing, gerr := s.Get(ctx, id); gerr == nil && existing.IsSystem {
			return errors.NewSystemTemplateError(id)
		}
		return errors.NewNotFoundError("template", id)
	}
	return nil
}

func (s *TemplateStore) ListByTenant(ctx context.Context, tenantID string) ([]*models.NotificationTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+templateColumns+` FROM notification_templates
		WHERE tenant_id = $1 OR is_system = TRUE
		ORDER BY event_type, channel, language`, tenantID)
	if err != nil {
		return nil, errors.NewDatabaseError("list templates", err)
	}
	defer rows.Close()

	var out []*models.NotificationTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, errors.NewDatabaseError("scan template", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("iterate templates", err)
	}
	return out, nil
}

func scanTemplate(row rowScanner) (*models.NotificationTemplate, error) {
	var (
		t        models.NotificationTemplate
		tenantID sql.NullString
		channel  string
		branding []byte
	)
	err := row.Scan(&t.ID, &tenantID, &t.EventType, &channel, &t.Language,
		&t.Subject, &t.Body, &t.HTMLBody, &branding, &t.IsSystem,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.TenantID = tenantID.String
	t.Channel = models.Channel(channel)
	if len(branding) > 0 && string(branding) != "null" {
		var b models.Branding
		if err := json.Unmarshal(branding, &b); err != nil {
			return nil, fmt.Errorf("decode branding: %w", err)
		}
		t.Branding = &b
	}
	return &t, nil
}

func encodeBranding(b *models.Branding) ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode branding: %w", err)
	}
	return data, nil
}
