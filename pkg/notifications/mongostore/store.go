package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/schoolkit/pkg/notifications"
)

const (
	PreferencesCollection = "notification_preferences"
	TemplatesCollection   = "notification_templates"
)

// PreferencesStore keeps one document per user, keyed by user_id.
type PreferencesStore struct {
	coll *mongo.Collection
}

var _ notifications.PreferencesStore = (*PreferencesStore)(nil)

func NewPreferencesStore(db *mongo.Database) *PreferencesStore {
	return &PreferencesStore{coll: db.Collection(PreferencesCollection)}
}

// EnsureIndexes creates the unique user_id index.
func (s *PreferencesStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create preferences index: %w", err)
	}
	return nil
}

func (s *PreferencesStore) Get(ctx context.Context, userID string) (notifications.Preferences, error) {
	var p notifications.Preferences
	err := s.coll.FindOne(ctx, bson.M{"user_id": userID}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return notifications.Preferences{}, notifications.ErrPreferencesNotFound
	}
	if err != nil {
		return notifications.Preferences{}, fmt.Errorf("failed to load preferences: %w", err)
	}
	return p, nil
}

func (s *PreferencesStore) Save(ctx context.Context, prefs notifications.Preferences) error {
	if prefs.UserID == "" {
		return errors.New("user ID is required")
	}
	_, err := s.coll.ReplaceOne(ctx, bson.M{"user_id": prefs.UserID}, prefs, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}
	return nil
}

// TemplateStore keeps templates keyed by their id.
type TemplateStore struct {
	coll *mongo.Collection
}

var _ notifications.TemplateStore = (*TemplateStore)(nil)

func NewTemplateStore(db *mongo.Database) *TemplateStore {
	return &TemplateStore{coll: db.Collection(TemplatesCollection)}
}

// EnsureIndexes creates the tenant/name listing index.
func (s *TemplateStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "name", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create templates index: %w", err)
	}
	return nil
}

func (s *TemplateStore) Get(ctx context.Context, id string) (notifications.Template, error) {
	var t notifications.Template
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return notifications.Template{}, notifications.ErrTemplateNotFound
	}
	if err != nil {
		return notifications.Template{}, fmt.Errorf("failed to load template: %w", err)
	}
	return t, nil
}

func (s *TemplateStore) Save(ctx context.Context, tpl notifications.Template) error {
	if tpl.ID == "" {
		return errors.New("template ID is required")
	}
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": tpl.ID}, tpl, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	return nil
}

func (s *TemplateStore) List(ctx context.Context, tenantID string) ([]notifications.Template, error) {
	cur, err := s.coll.Find(ctx, tenantFilter(tenantID), options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	out := []notifications.Template{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode templates: %w", err)
	}
	return out, nil
}

// tenantFilter matches a tenant's own templates plus global ones (no tenant).
func tenantFilter(tenantID string) bson.M {
	if tenantID == "" {
		return bson.M{}
	}
	return bson.M{"$or": bson.A{
		bson.M{"tenant_id": tenantID},
		bson.M{"tenant_id": bson.M{"$exists": false}},
		bson.M{"tenant_id": ""},
	}}
}
