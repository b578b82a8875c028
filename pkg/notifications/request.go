package notifications

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"
)

const (
	MaxTitleLength   = 200
	MaxMessageLength = 2000
)

// Request is an inbound "notify user X of event Y" request.
// Timestamps are RFC 3339 strings as received from API clients.
type Request struct {
	UserID       string         `json:"user_id" validate:"required"`
	TenantID     string         `json:"tenant_id,omitempty"`
	Title        string         `json:"title" validate:"required,max=200"`
	Message      string         `json:"message" validate:"required,max=2000"`
	Type         Type           `json:"type" validate:"required,notification_type"`
	Category     Category       `json:"category,omitempty" validate:"required,category"`
	Priority     Priority       `json:"priority,omitempty" validate:"required,priority"`
	Channels     []Channel      `json:"channels,omitempty" validate:"required,min=1,dive,channel"`
	ActionURL    string         `json:"action_url,omitempty" validate:"omitempty,url"`
	Attachments  []Attachment   `json:"attachments,omitempty" validate:"omitempty,dive"`
	Actions      []Action       `json:"actions,omitempty" validate:"omitempty,dive"`
	Data         map[string]any `json:"data,omitempty"`
	ScheduledFor string         `json:"scheduled_for,omitempty" validate:"omitempty,rfc3339"`
	ExpiresAt    string         `json:"expires_at,omitempty" validate:"omitempty,rfc3339"`
	TemplateID   string         `json:"template_id,omitempty"`
}

// Normalize applies defaults and canonicalizes text in place.
func (r *Request) Normalize() {
	r.UserID = strings.TrimSpace(r.UserID)
	r.Title = strings.TrimSpace(norm.NFC.String(r.Title))
	r.Message = strings.TrimSpace(norm.NFC.String(r.Message))
	r.ActionURL = strings.TrimSpace(r.ActionURL)
	r.ScheduledFor = strings.TrimSpace(r.ScheduledFor)
	r.ExpiresAt = strings.TrimSpace(r.ExpiresAt)

	if r.Category == "" {
		r.Category = CategorySystem
	}
	if r.Priority == "" {
		r.Priority = PriorityMedium
	}
	if len(r.Channels) == 0 {
		r.Channels = []Channel{ChannelInApp}
	}
	r.Channels = dedupeChannels(r.Channels)
}

// Validate normalizes the request and checks it. The returned error is a
// *ValidationError for the first failing field.
func (r *Request) Validate() error {
	r.Normalize()
	if err := validate.Struct(r); err != nil {
		return toValidationError(err)
	}
	sched, exp, err := r.Times()
	if err != nil {
		return err
	}
	if sched != nil && exp != nil && !exp.After(*sched) {
		return &ValidationError{Field: "expires_at", Message: "must be after scheduled_for"}
	}
	return nil
}

// Times parses ScheduledFor and ExpiresAt.
func (r *Request) Times() (scheduledFor, expiresAt *time.Time, err error) {
	parse := func(field, v string) (*time.Time, error) {
		if v == "" {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, &ValidationError{Field: field, Message: "must be an RFC 3339 timestamp"}
		}
		t = t.UTC()
		return &t, nil
	}
	if scheduledFor, err = parse("scheduled_for", r.ScheduledFor); err != nil {
		return nil, nil, err
	}
	if expiresAt, err = parse("expires_at", r.ExpiresAt); err != nil {
		return nil, nil, err
	}
	return scheduledFor, expiresAt, nil
}

func dedupeChannels(in []Channel) []Channel {
	out := make([]Channel, 0, len(in))
	for _, c := range in {
		c = Channel(strings.ToLower(strings.TrimSpace(string(c))))
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	stringRule := func(ok func(string) bool) validator.Func {
		return func(fl validator.FieldLevel) bool {
			return ok(fl.Field().String())
		}
	}
	rules := map[string]validator.Func{
		"channel":           stringRule(func(s string) bool { return Channel(s).Valid() }),
		"category":          stringRule(func(s string) bool { return Category(s).Valid() }),
		"priority":          stringRule(func(s string) bool { return Priority(s).Valid() }),
		"notification_type": stringRule(func(s string) bool { return Type(s).Valid() }),
		"rfc3339": stringRule(func(s string) bool {
			_, err := time.Parse(time.RFC3339, s)
			return err == nil
		}),
		"clock": stringRule(func(s string) bool {
			_, err := parseClock(s)
			return err == nil
		}),
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("notifications: register validation %q: %v", tag, err))
		}
	}
	return v
}

var validationMessages = map[string]string{
	"required":          "is required",
	"min":               "must not be empty",
	"channel":           "must be one of in_app, email, sms, push, webhook, slack",
	"category":          "must be a known category",
	"priority":          "must be one of low, medium, high, critical, urgent",
	"notification_type": "must be a known notification type",
	"rfc3339":           "must be an RFC 3339 timestamp",
	"clock":             "must be a time of day in HH:MM format",
	"url":               "must be a valid URL",
	"timezone":          "must be an IANA time zone",
	"oneof":             "has an unsupported value",
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	fe := verrs[0]
	msg, ok := validationMessages[fe.Tag()]
	if fe.Tag() == "max" {
		msg, ok = fmt.Sprintf("must be at most %s characters", fe.Param()), true
	}
	if !ok {
		msg = fmt.Sprintf("failed on '%s' validation", fe.Tag())
	}
	return &ValidationError{Field: fieldPath(fe), Message: msg}
}

// fieldPath strips the struct name prefix: "Request.channels[1]" -> "channels[1]".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}
