package notifications

import (
	"fmt"
	"maps"
	"time"
)

// ChannelPrefs holds per-channel opt-in flags. In-app delivery is always on
// and therefore has no flag.
type ChannelPrefs struct {
	Email   bool `json:"email" bson:"email"`
	SMS     bool `json:"sms" bson:"sms"`
	Push    bool `json:"push" bson:"push"`
	Webhook bool `json:"webhook" bson:"webhook"`
	Slack   bool `json:"slack" bson:"slack"`
}

// Enabled reports whether the user opted into channel c.
func (p ChannelPrefs) Enabled(c Channel) bool {
	switch c {
	case ChannelInApp:
		return true
	case ChannelEmail:
		return p.Email
	case ChannelSMS:
		return p.SMS
	case ChannelPush:
		return p.Push
	case ChannelWebhook:
		return p.Webhook
	case ChannelSlack:
		return p.Slack
	}
	return false
}

// QuietHours is a local time-of-day window suppressing non-critical delivery.
// Start and End use "HH:MM"; a window with Start after End wraps midnight.
type QuietHours struct {
	Enabled  bool   `json:"enabled" bson:"enabled"`
	Start    string `json:"start" bson:"start" validate:"required,clock"`
	End      string `json:"end" bson:"end" validate:"required,clock"`
	Timezone string `json:"timezone,omitempty" bson:"timezone,omitempty" validate:"omitempty,timezone"`
}

// DigestFrequency controls how often digest summaries would be produced.
type DigestFrequency string

const (
	DigestDaily  DigestFrequency = "daily"
	DigestWeekly DigestFrequency = "weekly"
)

// Digest settings are stored and validated; real-time delivery ignores them.
type Digest struct {
	Enabled   bool            `json:"enabled" bson:"enabled"`
	Frequency DigestFrequency `json:"frequency" bson:"frequency" validate:"required,oneof=daily weekly"`
	Time      string          `json:"time" bson:"time" validate:"required,clock"`
}

// Preferences are one user's delivery settings.
type Preferences struct {
	UserID            string            `json:"user_id" bson:"user_id"`
	TenantID          string            `json:"tenant_id,omitempty" bson:"tenant_id,omitempty"`
	Channels          ChannelPrefs      `json:"channels" bson:"channels"`
	Categories        map[Category]bool `json:"categories" bson:"categories"`
	QuietHours        *QuietHours       `json:"quiet_hours,omitempty" bson:"quiet_hours,omitempty"`
	Digest            *Digest           `json:"digest,omitempty" bson:"digest,omitempty"`
	PriorityThreshold Priority          `json:"priority_threshold" bson:"priority_threshold"`
	UpdatedAt         time.Time         `json:"updated_at" bson:"updated_at"`
}

// DefaultPreferences returns the settings a user gets before changing anything:
// email and push on, everything else off, all categories enabled.
func DefaultPreferences(userID string) Preferences {
	categories := make(map[Category]bool, len(AllCategories))
	for _, c := range AllCategories {
		categories[c] = true
	}
	return Preferences{
		UserID:            userID,
		Channels:          ChannelPrefs{Email: true, Push: true},
		Categories:        categories,
		PriorityThreshold: PriorityLow,
	}
}

// CategoryEnabled reports whether c is enabled. Categories missing from the map count as enabled.
func (p Preferences) CategoryEnabled(c Category) bool {
	enabled, ok := p.Categories[c]
	return !ok || enabled
}

// Allows reports whether a non-in-app channel may be used for the given category and priority.
func (p Preferences) Allows(c Channel, category Category, priority Priority) bool {
	if c == ChannelInApp {
		return true
	}
	threshold := p.PriorityThreshold
	if !threshold.Valid() {
		threshold = PriorityLow
	}
	return p.Channels.Enabled(c) &&
		p.CategoryEnabled(category) &&
		priority.Rank() >= threshold.Rank()
}

// PreferencesPatch is a partial update; nil fields are left unchanged.
type PreferencesPatch struct {
	Email             *bool             `json:"email,omitempty"`
	SMS               *bool             `json:"sms,omitempty"`
	Push              *bool             `json:"push,omitempty"`
	Webhook           *bool             `json:"webhook,omitempty"`
	Slack             *bool             `json:"slack,omitempty"`
	Categories        map[Category]bool `json:"categories,omitempty" validate:"omitempty,dive,keys,category,endkeys"`
	QuietHours        *QuietHours       `json:"quiet_hours,omitempty" validate:"omitempty"`
	ClearQuietHours   bool              `json:"clear_quiet_hours,omitempty"`
	Digest            *Digest           `json:"digest,omitempty" validate:"omitempty"`
	PriorityThreshold *Priority         `json:"priority_threshold,omitempty" validate:"omitempty,priority"`
}

// Validate checks the patch and returns a *ValidationError for the first bad field.
func (p PreferencesPatch) Validate() error {
	if err := validate.Struct(p); err != nil {
		return toValidationError(err)
	}
	return nil
}

// Apply returns prefs with the patch applied.
func (p PreferencesPatch) Apply(prefs Preferences, now time.Time) Preferences {
	set := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	set(&prefs.Channels.Email, p.Email)
	set(&prefs.Channels.SMS, p.SMS)
	set(&prefs.Channels.Push, p.Push)
	set(&prefs.Channels.Webhook, p.Webhook)
	set(&prefs.Channels.Slack, p.Slack)

	if len(p.Categories) > 0 {
		merged := maps.Clone(prefs.Categories)
		if merged == nil {
			merged = make(map[Category]bool, len(p.Categories))
		}
		maps.Copy(merged, p.Categories)
		prefs.Categories = merged
	}
	if p.ClearQuietHours {
		prefs.QuietHours = nil
	}
	if p.QuietHours != nil {
		qh := *p.QuietHours
		prefs.QuietHours = &qh
	}
	if p.Digest != nil {
		d := *p.Digest
		prefs.Digest = &d
	}
	if p.PriorityThreshold != nil {
		prefs.PriorityThreshold = *p.PriorityThreshold
	}
	prefs.UpdatedAt = now
	return prefs
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
