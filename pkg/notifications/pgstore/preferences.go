package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrymomot/schoolkit/pkg/notifications"
	"github.com/dmitrymomot/schoolkit/pkg/pg"
)

// PreferencesStore keeps user preferences in Postgres.
type PreferencesStore struct {
	db DB
}

var _ notifications.PreferencesStore = (*PreferencesStore)(nil)

func NewPreferencesStore(db DB) *PreferencesStore {
	return &PreferencesStore{db: db}
}

func (s *PreferencesStore) Get(ctx context.Context, userID string) (notifications.Preferences, error) {
	var body []byte
	err := s.db.QueryRow(ctx, `SELECT body FROM notification_preferences WHERE user_id = $1`, userID).Scan(&body)
	if pg.IsNotFoundError(err) {
		return notifications.Preferences{}, notifications.ErrPreferencesNotFound
	}
	if err != nil {
		return notifications.Preferences{}, fmt.Errorf("failed to load preferences: %w", err)
	}
	var p notifications.Preferences
	if err := json.Unmarshal(body, &p); err != nil {
		return notifications.Preferences{}, fmt.Errorf("failed to decode preferences: %w", err)
	}
	return p, nil
}

func (s *PreferencesStore) Save(ctx context.Context, prefs notifications.Preferences) error {
	if prefs.UserID == "" {
		return errors.New("user ID is required")
	}
	body, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO notification_preferences (user_id, tenant_id, body, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET tenant_id = EXCLUDED.tenant_id, body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`,
		prefs.UserID, prefs.TenantID, body, prefs.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}
	return nil
}
