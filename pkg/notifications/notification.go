package notifications

import (
	"maps"
	"slices"
	"time"
)

// Channel is a delivery medium.
type Channel string

const (
	ChannelInApp   Channel = "in_app"
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelPush    Channel = "push"
	ChannelWebhook Channel = "webhook"
	ChannelSlack   Channel = "slack"
)

// AllChannels lists every supported channel in dispatch order.
var AllChannels = []Channel{
	ChannelInApp,
	ChannelEmail,
	ChannelSMS,
	ChannelPush,
	ChannelWebhook,
	ChannelSlack,
}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return slices.Contains(AllChannels, c)
}

// Category groups notifications for preference filtering.
type Category string

const (
	CategoryAcademic     Category = "academic"
	CategorySystem       Category = "system"
	CategorySocial       Category = "social"
	CategoryFinance      Category = "finance"
	CategoryAnnouncement Category = "announcement"
	CategoryAlert        Category = "alert"
	CategoryReminder     Category = "reminder"
)

// AllCategories lists every supported category.
var AllCategories = []Category{
	CategoryAcademic,
	CategorySystem,
	CategorySocial,
	CategoryFinance,
	CategoryAnnouncement,
	CategoryAlert,
	CategoryReminder,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return slices.Contains(AllCategories, c)
}

// Priority represents the notification priority level.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
	PriorityUrgent   Priority = "urgent"
)

var priorityOrder = []Priority{
	PriorityLow,
	PriorityMedium,
	PriorityHigh,
	PriorityCritical,
	PriorityUrgent,
}

// Rank orders priorities from low (0) to urgent (4). Unknown values rank -1.
func (p Priority) Rank() int {
	return slices.Index(priorityOrder, p)
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p.Rank() >= 0
}

// BypassesQuietHours reports whether p is delivered even inside a quiet-hours window.
func (p Priority) BypassesQuietHours() bool {
	return p.Rank() >= PriorityCritical.Rank()
}

// Type is the domain event that produced the notification.
type Type string

const (
	TypeMessage      Type = "message"
	TypeAnnouncement Type = "announcement"
	TypeAssignment   Type = "assignment"
	TypeGrade        Type = "grade"
	TypeAttendance   Type = "attendance"
	TypeExam         Type = "exam"
	TypeFee          Type = "fee"
	TypePayment      Type = "payment"
	TypeEvent        Type = "event"
	TypeReminder     Type = "reminder"
	TypeAlert        Type = "alert"
	TypeSystem       Type = "system"
	TypeEnrollment   Type = "enrollment"
	TypeTimetable    Type = "timetable"
	TypeLibrary      Type = "library"
)

// AllTypes lists every supported notification type.
var AllTypes = []Type{
	TypeMessage, TypeAnnouncement, TypeAssignment, TypeGrade, TypeAttendance,
	TypeExam, TypeFee, TypePayment, TypeEvent, TypeReminder,
	TypeAlert, TypeSystem, TypeEnrollment, TypeTimetable, TypeLibrary,
}

// Valid reports whether t is a known notification type.
func (t Type) Valid() bool {
	return slices.Contains(AllTypes, t)
}

// Status is the overall state of a notification.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// DeliveryStatus is the state of a single channel.
// A channel is "sent" while an attempt is in flight.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Attachment is a file linked from a notification.
type Attachment struct {
	Name     string `json:"name" bson:"name" validate:"required"`
	URL      string `json:"url" bson:"url" validate:"required,url"`
	MimeType string `json:"mime_type,omitempty" bson:"mime_type,omitempty"`
}

// Action represents a call-to-action button in a notification.
type Action struct {
	Label string `json:"label" bson:"label" validate:"required"`
	URL   string `json:"url" bson:"url" validate:"required,url"`
	Style string `json:"style,omitempty" bson:"style,omitempty"` // primary, secondary, danger
}

// ChannelState tracks delivery of a notification over one channel.
type ChannelState struct {
	Status      DeliveryStatus `json:"status"`
	Attempts    int            `json:"attempts"`
	LastAttempt *time.Time     `json:"last_attempt,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Notification is the unit of delivery.
// Channels is the effective channel set and never changes after creation.
type Notification struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id,omitempty"`

	Title       string         `json:"title"`
	Message     string         `json:"message"`
	ActionURL   string         `json:"action_url,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Actions     []Action       `json:"actions,omitempty"`
	Data        map[string]any `json:"data,omitempty"`

	Type     Type     `json:"type"`
	Category Category `json:"category"`
	Priority Priority `json:"priority"`

	RequestedChannels []Channel                  `json:"requested_channels"`
	Channels          []Channel                  `json:"channels"`
	Delivery          map[Channel]*ChannelState `json:"delivery"`

	Status Status     `json:"status"`
	IsRead bool       `json:"is_read"`
	ReadAt *time.Time `json:"read_at,omitempty"`

	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`

	TemplateID string    `json:"template_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IsExpired returns true if the notification expired at or before now.
func (n *Notification) IsExpired(now time.Time) bool {
	if n.ExpiresAt == nil {
		return false
	}
	return !now.Before(*n.ExpiresAt)
}

// MarkAsRead marks the notification as read. It reports whether anything changed;
// marking an already-read notification keeps the original ReadAt.
func (n *Notification) MarkAsRead(now time.Time) bool {
	if n.IsRead {
		return false
	}
	n.IsRead = true
	n.ReadAt = &now
	n.Status = StatusRead
	n.UpdatedAt = now
	return true
}

// State returns the delivery state of channel c, or nil if c is not effective.
func (n *Notification) State(c Channel) *ChannelState {
	if n.Delivery == nil {
		return nil
	}
	return n.Delivery[c]
}

// HasChannel reports whether c belongs to the effective channel set.
func (n *Notification) HasChannel(c Channel) bool {
	return slices.Contains(n.Channels, c)
}

// Clone returns a deep copy so stores and callers never share mutable state.
func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	c := *n
	c.Attachments = slices.Clone(n.Attachments)
	c.Actions = slices.Clone(n.Actions)
	c.Data = maps.Clone(n.Data)
	c.RequestedChannels = slices.Clone(n.RequestedChannels)
	c.Channels = slices.Clone(n.Channels)
	c.ReadAt = cloneTime(n.ReadAt)
	c.ScheduledFor = cloneTime(n.ScheduledFor)
	c.ExpiresAt = cloneTime(n.ExpiresAt)
	c.SentAt = cloneTime(n.SentAt)
	c.DeliveredAt = cloneTime(n.DeliveredAt)
	c.DispatchedAt = cloneTime(n.DispatchedAt)
	if n.Delivery != nil {
		c.Delivery = make(map[Channel]*ChannelState, len(n.Delivery))
		for ch, st := range n.Delivery {
			s := *st
			s.LastAttempt = cloneTime(st.LastAttempt)
			c.Delivery[ch] = &s
		}
	}
	return &c
}

// recomputeStatus derives the overall status from the channel states.
// Read and expired are terminal and never overwritten.
func (n *Notification) recomputeStatus(now time.Time) {
	if n.IsRead {
		n.Status = StatusRead
		return
	}
	if n.Status == StatusExpired {
		return
	}

	var sent, delivered, failed int
	for _, st := range n.Delivery {
		switch st.Status {
		case DeliveryDelivered:
			delivered++
		case DeliverySent:
			sent++
		case DeliveryFailed:
			failed++
		}
	}

	switch {
	case delivered > 0:
		n.Status = StatusDelivered
		if n.DeliveredAt == nil {
			n.DeliveredAt = &now
		}
	case sent > 0:
		n.Status = StatusSent
	case len(n.Delivery) > 0 && failed == len(n.Delivery):
		n.Status = StatusFailed
	default:
		n.Status = StatusPending
	}

	if (sent > 0 || delivered > 0) && n.SentAt == nil {
		n.SentAt = &now
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
