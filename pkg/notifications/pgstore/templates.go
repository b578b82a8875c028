package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/schoolkit/pkg/notifications"
	"github.com/dmitrymomot/schoolkit/pkg/pg"
)

// TemplateStore keeps notification templates in Postgres.
type TemplateStore struct {
	db DB
}

var _ notifications.TemplateStore = (*TemplateStore)(nil)

func NewTemplateStore(db DB) *TemplateStore {
	return &TemplateStore{db: db}
}

func (s *TemplateStore) Get(ctx context.Context, id string) (notifications.Template, error) {
	var body []byte
	err := s.db.QueryRow(ctx, `SELECT body FROM notification_templates WHERE id = $1`, id).Scan(&body)
	if pg.IsNotFoundError(err) {
		return notifications.Template{}, notifications.ErrTemplateNotFound
	}
	if err != nil {
		return notifications.Template{}, fmt.Errorf("failed to load template: %w", err)
	}
	return decodeTemplate(body)
}

func (s *TemplateStore) Save(ctx context.Context, tpl notifications.Template) error {
	if tpl.ID == "" {
		return errors.New("template ID is required")
	}
	body, err := json.Marshal(tpl)
	if err != nil {
		return fmt.Errorf("failed to encode template: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO notification_templates (id, tenant_id, name, body, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET tenant_id = EXCLUDED.tenant_id, name = EXCLUDED.name, body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`,
		tpl.ID, tpl.TenantID, tpl.Name, body, tpl.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	return nil
}

// List returns templates visible to tenantID: its own and the global ones.
// An empty tenantID lists every template.
func (s *TemplateStore) List(ctx context.Context, tenantID string) ([]notifications.Template, error) {
	rows, err := s.db.Query(ctx, `
		SELECT body FROM notification_templates
		WHERE $1 = '' OR tenant_id = '' OR tenant_id = $1
		ORDER BY name`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	bodies, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	out := make([]notifications.Template, 0, len(bodies))
	for _, b := range bodies {
		t, err := decodeTemplate(b)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func decodeTemplate(body []byte) (notifications.Template, error) {
	var t notifications.Template
	if err := json.Unmarshal(body, &t); err != nil {
		return notifications.Template{}, fmt.Errorf("failed to decode template: %w", err)
	}
	return t, nil
}
