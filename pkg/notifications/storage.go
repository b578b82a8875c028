package notifications

import (
	"context"
	"time"
)

// Storage is the durable record store for notifications.
// The engine is the only writer of delivery state; all writes after creation
// go through Update so concurrent channel outcomes never overwrite each other.
type Storage interface {
	// Create stores a new notification.
	Create(ctx context.Context, n *Notification) error

	// Get retrieves a notification by id or returns ErrNotificationNotFound.
	Get(ctx context.Context, id string) (*Notification, error)

	// Update loads the notification, applies fn and persists the result atomically.
	// If fn returns an error nothing is written and the error is returned.
	Update(ctx context.Context, id string, fn func(n *Notification) error) (*Notification, error)

	// Delete removes a notification. Deleting a missing id returns ErrNotificationNotFound.
	Delete(ctx context.Context, id string) error

	// List returns a user's notifications, newest first.
	List(ctx context.Context, userID string, opts ListOptions) ([]*Notification, error)

	// CountUnread returns the number of unread, unexpired notifications for a user.
	CountUnread(ctx context.Context, userID string, now time.Time) (int, error)

	// ListExpired returns ids of notifications past their expiry that are not yet marked expired.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// ListOptions provides filtering and pagination options for listing notifications.
type ListOptions struct {
	Limit      int        // Maximum number of notifications to return (0 = no limit)
	Offset     int        // Number of notifications to skip for pagination
	OnlyUnread bool       // When true, only return unread notifications
	Types      []Type     // If specified, only return notifications of these types
	Categories []Category // If specified, only return notifications in these categories
	Since      *time.Time // If specified, only return notifications created after this time
}

// PreferencesStore persists user preferences.
type PreferencesStore interface {
	// Get returns ErrPreferencesNotFound when the user has no stored preferences.
	Get(ctx context.Context, userID string) (Preferences, error)
	Save(ctx context.Context, prefs Preferences) error
}

// TemplateStore persists notification templates.
type TemplateStore interface {
	// Get returns ErrTemplateNotFound for unknown ids.
	Get(ctx context.Context, id string) (Template, error)
	Save(ctx context.Context, tpl Template) error
	List(ctx context.Context, tenantID string) ([]Template, error)
}
