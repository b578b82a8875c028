package transport

import (
	"context"

	"github.com/dmitrymomot/schoolkit/pkg/notifications"
	"github.com/dmitrymomot/schoolkit/pkg/webhook"
)

// Push hands push messages to a push gateway (FCM/APNs relay) over a signed webhook.
type Push struct {
	hooks   *webhook.Sender
	url     string
	options []webhook.SendOption
}

var _ notifications.PushSender = (*Push)(nil)

// NewPush posts to url, signing with secret when it is not empty.
func NewPush(hooks *webhook.Sender, url, secret string) *Push {
	opts := []webhook.SendOption{webhook.WithEvent("push.send")}
	if secret != "" {
		opts = append(opts, webhook.WithSignature(secret))
	}
	return &Push{hooks: hooks, url: url, options: opts}
}

func (p *Push) SendPush(ctx context.Context, msg notifications.PushMessage) error {
	_, err := p.hooks.Send(ctx, p.url, msg, p.options...)
	return err
}
