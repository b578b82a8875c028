package transport

import (
	"context"

	"github.com/dmitrymomot/schoolkit/pkg/email"
	"github.com/dmitrymomot/schoolkit/pkg/notifications"
)

// Email adapts an email.EmailSender (Postmark or the dev sender) to the email channel.
type Email struct {
	sender email.EmailSender
	tag    string
}

var _ notifications.EmailSender = (*Email)(nil)

func NewEmail(sender email.EmailSender, tag string) *Email {
	return &Email{sender: sender, tag: tag}
}

func (e *Email) SendEmail(ctx context.Context, to, subject, html string) error {
	return e.sender.SendEmail(ctx, email.SendEmailParams{
		SendTo:   to,
		Subject:  subject,
		BodyHTML: html,
		Tag:      e.tag,
	})
}
