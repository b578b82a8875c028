package transport

import (
	"context"

	"github.com/dmitrymomot/schoolkit/pkg/notifications"
	"github.com/dmitrymomot/schoolkit/pkg/webhook"
)

// Slack posts to Slack incoming webhooks. Slack rejects unknown signatures,
// so requests go out unsigned.
type Slack struct {
	hooks *webhook.Sender
}

var _ notifications.ChatSender = (*Slack)(nil)

func NewSlack(hooks *webhook.Sender) *Slack {
	return &Slack{hooks: hooks}
}

type slackMessage struct {
	Text string `json:"text"`
}

func (s *Slack) DeliverChat(ctx context.Context, webhookURL, text string) error {
	_, err := s.hooks.Send(ctx, webhookURL, slackMessage{Text: text}, webhook.WithoutSignature())
	return err
}
