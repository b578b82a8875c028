package notifications

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

// MemoryStorage is an in-memory implementation of the Storage interface.
// Suitable for development and testing.
type MemoryStorage struct {
	notifications map[string]*Notification
	byUser        map[string][]string
	mu            sync.RWMutex
}

// NewMemoryStorage creates a new in-memory notification storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		notifications: make(map[string]*Notification),
		byUser:        make(map[string][]string),
	}
}

func (s *MemoryStorage) Create(_ context.Context, n *Notification) error {
	if n == nil || n.ID == "" {
		return errors.New("notification ID is required")
	}
	if n.UserID == "" {
		return errors.New("user ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.notifications[n.ID]; exists {
		return errors.New("notification already exists")
	}
	s.notifications[n.ID] = n.Clone()
	s.byUser[n.UserID] = append(s.byUser[n.UserID], n.ID)
	return nil
}

func (s *MemoryStorage) Get(_ context.Context, id string) (*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.notifications[id]
	if !ok {
		return nil, ErrNotificationNotFound
	}
	return n.Clone(), nil
}

func (s *MemoryStorage) Update(_ context.Context, id string, fn func(*Notification) error) (*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.notifications[id]
	if !ok {
		return nil, ErrNotificationNotFound
	}
	working := stored.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	s.notifications[id] = working
	return working.Clone(), nil
}

func (s *MemoryStorage) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return ErrNotificationNotFound
	}
	delete(s.notifications, id)
	s.byUser[n.UserID] = slices.DeleteFunc(s.byUser[n.UserID], func(v string) bool { return v == id })
	return nil
}

func (s *MemoryStorage) List(_ context.Context, userID string, opts ListOptions) ([]*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []*Notification
	for _, id := range s.byUser[userID] {
		n := s.notifications[id]
		if opts.OnlyUnread && n.IsRead {
			continue
		}
		if len(opts.Types) > 0 && !slices.Contains(opts.Types, n.Type) {
			continue
		}
		if len(opts.Categories) > 0 && !slices.Contains(opts.Categories, n.Category) {
			continue
		}
		if opts.Since != nil && n.CreatedAt.Before(*opts.Since) {
			continue
		}
		filtered = append(filtered, n.Clone())
	}

	slices.SortStableFunc(filtered, func(a, b *Notification) int {
		return cmp.Compare(b.CreatedAt.UnixNano(), a.CreatedAt.UnixNano())
	})

	start := min(opts.Offset, len(filtered))
	end := len(filtered)
	if opts.Limit > 0 {
		end = min(start+opts.Limit, end)
	}
	return filtered[start:end], nil
}

func (s *MemoryStorage) CountUnread(_ context.Context, userID string, now time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, id := range s.byUser[userID] {
		n := s.notifications[id]
		if !n.IsRead && !n.IsExpired(now) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStorage) ListExpired(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, n := range s.notifications {
		if n.Status == StatusExpired || n.IsRead || !n.IsExpired(now) {
			continue
		}
		ids = append(ids, id)
		if limit > 0 && len(ids) == limit {
			break
		}
	}
	return ids, nil
}

// MemoryPreferencesStore keeps preferences in memory.
type MemoryPreferencesStore struct {
	prefs map[string]Preferences
	mu    sync.RWMutex
}

func NewMemoryPreferencesStore() *MemoryPreferencesStore {
	return &MemoryPreferencesStore{prefs: make(map[string]Preferences)}
}

func (s *MemoryPreferencesStore) Get(_ context.Context, userID string) (Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prefs[userID]
	if !ok {
		return Preferences{}, ErrPreferencesNotFound
	}
	return p, nil
}

func (s *MemoryPreferencesStore) Save(_ context.Context, prefs Preferences) error {
	if prefs.UserID == "" {
		return errors.New("user ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[prefs.UserID] = prefs
	return nil
}

// MemoryTemplateStore keeps templates in memory.
type MemoryTemplateStore struct {
	templates map[string]Template
	mu        sync.RWMutex
}

func NewMemoryTemplateStore(templates ...Template) *MemoryTemplateStore {
	s := &MemoryTemplateStore{templates: make(map[string]Template, len(templates))}
	for _, t := range templates {
		s.templates[t.ID] = t
	}
	return s
}

func (s *MemoryTemplateStore) Get(_ context.Context, id string) (Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[id]
	if !ok {
		return Template{}, ErrTemplateNotFound
	}
	return t, nil
}

func (s *MemoryTemplateStore) Save(_ context.Context, tpl Template) error {
	if tpl.ID == "" {
		return errors.New("template ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[tpl.ID] = tpl
	return nil
}

func (s *MemoryTemplateStore) List(_ context.Context, tenantID string) ([]Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Template, 0, len(s.templates))
	for _, t := range s.templates {
		if tenantID == "" || t.TenantID == "" || t.TenantID == tenantID {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b Template) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}
