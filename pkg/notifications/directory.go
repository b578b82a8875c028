package notifications

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

// Contact holds a user's addresses for the external channels.
type Contact struct {
	UserID          string `json:"user_id" yaml:"user_id"`
	TenantID        string `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	Email           string `json:"email,omitempty" yaml:"email,omitempty"`
	Phone           string `json:"phone,omitempty" yaml:"phone,omitempty"`
	PushToken       string `json:"push_token,omitempty" yaml:"push_token,omitempty"`
	WebhookURL      string `json:"webhook_url,omitempty" yaml:"webhook_url,omitempty"`
	SlackWebhookURL string `json:"slack_webhook_url,omitempty" yaml:"slack_webhook_url,omitempty"`
}

// Directory resolves recipients. It is backed by the user records of the host application.
type Directory interface {
	// Contact returns the user's channel addresses. Unknown users yield an empty Contact.
	Contact(ctx context.Context, userID string) (Contact, error)

	// ListUserIDs returns every user of a tenant; an empty tenantID means all users.
	ListUserIDs(ctx context.Context, tenantID string) ([]string, error)
}

// MemoryDirectory is a Directory over a fixed set of contacts.
type MemoryDirectory struct {
	contacts map[string]Contact
	mu       sync.RWMutex
}

func NewMemoryDirectory(contacts ...Contact) *MemoryDirectory {
	d := &MemoryDirectory{contacts: make(map[string]Contact, len(contacts))}
	for _, c := range contacts {
		d.contacts[c.UserID] = c
	}
	return d
}

// Put adds or replaces a contact.
func (d *MemoryDirectory) Put(c Contact) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contacts[c.UserID] = c
}

func (d *MemoryDirectory) Contact(_ context.Context, userID string) (Contact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.contacts[userID]
	if !ok {
		return Contact{UserID: userID}, nil
	}
	return c, nil
}

func (d *MemoryDirectory) ListUserIDs(_ context.Context, tenantID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]string, 0, len(d.contacts))
	for id, c := range d.contacts {
		if tenantID == "" || c.TenantID == tenantID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// LoadDirectoryYAML builds a MemoryDirectory from a document of the form
//
//	contacts:
//	  - user_id: student-1
//	    tenant_id: school-a
//	    email: ada@school.test
func LoadDirectoryYAML(r io.Reader) (*MemoryDirectory, error) {
	var f struct {
		Contacts []Contact `yaml:"contacts"`
	}
	if err := yaml.NewDecoder(r).Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse directory: %w", err)
	}
	for i, c := range f.Contacts {
		if c.UserID == "" {
			return nil, fmt.Errorf("contact #%d: %w", i, &ValidationError{Field: "user_id", Message: "is required"})
		}
	}
	return NewMemoryDirectory(f.Contacts...), nil
}
