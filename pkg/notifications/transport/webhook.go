package transport

import (
	"context"

	"github.com/dmitrymomot/schoolkit/pkg/notifications"
	"github.com/dmitrymomot/schoolkit/pkg/webhook"
)

// Webhook delivers notifications to user-registered endpoints, signed with
// the sender's secret.
type Webhook struct {
	hooks *webhook.Sender
}

var _ notifications.WebhookSender = (*Webhook)(nil)

func NewWebhook(hooks *webhook.Sender) *Webhook {
	return &Webhook{hooks: hooks}
}

func (w *Webhook) DeliverWebhook(ctx context.Context, url string, payload notifications.WebhookPayload) error {
	_, err := w.hooks.Send(ctx, url, payload, webhook.WithEvent(payload.Event))
	return err
}
