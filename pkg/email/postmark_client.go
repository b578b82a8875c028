package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"
)

type postmarkClient struct {
	client *postmark.Client
	from   string
	reply  string
}

// NewPostmarkClient creates a Postmark-backed email sender. Both tokens are required.
func NewPostmarkClient(cfg Config) (EmailSender, error) {
	required := []struct{ name, value string }{
		{"PostmarkServerToken", cfg.PostmarkServerToken},
		{"PostmarkAccountToken", cfg.PostmarkAccountToken},
		{"SenderEmail", cfg.SenderEmail},
		{"SupportEmail", cfg.SupportEmail},
	}
	for _, f := range required {
		if f.value == "" {
			return nil, fmt.Errorf("%w: %s is required", ErrInvalidConfig, f.name)
		}
	}
	for _, addr := range []struct{ name, value string }{{"SenderEmail", cfg.SenderEmail}, {"SupportEmail", cfg.SupportEmail}} {
		if !emailRegex.MatchString(addr.value) {
			return nil, fmt.Errorf("%w: %s must be a valid email address", ErrInvalidConfig, addr.name)
		}
	}

	return &postmarkClient{
		client: postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		from:   cfg.SenderEmail,
		reply:  cfg.SupportEmail,
	}, nil
}

// SendEmail sends through Postmark's transactional API. Replies go to the support address.
func (c *postmarkClient) SendEmail(ctx context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	resp, err := c.client.SendEmail(ctx, postmark.Email{
		From:     c.from,
		ReplyTo:  c.reply,
		To:       params.SendTo,
		Subject:  params.Subject,
		Tag:      params.Tag,
		HTMLBody: params.BodyHTML,
	})
	if err != nil {
		return errors.Join(ErrFailedToSendEmail, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(
			ErrFailedToSendEmail,
			fmt.Errorf("postmark error %d: %s", resp.ErrorCode, resp.Message),
		)
	}
	return nil
}
