package email

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// EmailSender delivers a rendered email.
type EmailSender interface {
	SendEmail(ctx context.Context, params SendEmailParams) error
}

type SendEmailParams struct {
	SendTo   string `json:"send_to"`       // Email address of the recipient
	Subject  string `json:"subject"`       // Subject of the email
	BodyHTML string `json:"body_html"`     // HTML body of the email
	Tag      string `json:"tag,omitempty"` // Optional
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Validate checks that recipient, subject and body are present.
func (p SendEmailParams) Validate() error {
	switch {
	case strings.TrimSpace(p.SendTo) == "":
		return fmt.Errorf("%w: SendTo is required", ErrInvalidParams)
	case !emailRegex.MatchString(p.SendTo):
		return fmt.Errorf("%w: SendTo must be a valid email address", ErrInvalidParams)
	case strings.TrimSpace(p.Subject) == "":
		return fmt.Errorf("%w: Subject is required", ErrInvalidParams)
	case strings.TrimSpace(p.BodyHTML) == "":
		return fmt.Errorf("%w: BodyHTML is required", ErrInvalidParams)
	}
	return nil
}

// New returns a Postmark sender when a server token is configured and a
// development sender otherwise.
func New(cfg Config) (EmailSender, error) {
	if cfg.PostmarkServerToken == "" {
		return NewDevSender(cfg.DevOutputDir), nil
	}
	return NewPostmarkClient(cfg)
}
