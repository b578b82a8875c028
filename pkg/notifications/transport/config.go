package transport

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/schoolkit/pkg/email"
	"github.com/dmitrymomot/schoolkit/pkg/notifications"
	"github.com/dmitrymomot/schoolkit/pkg/webhook"
)

// Config configures the external channel gateways. A channel whose gateway is
// not configured is left nil in the resulting Senders, so attempts on it fail.
type Config struct {
	SMSGatewayURL string        `env:"SMS_GATEWAY_URL"`
	SMSAccountID  string        `env:"SMS_ACCOUNT_ID"`
	SMSAuthToken  string        `env:"SMS_AUTH_TOKEN"`
	SMSFrom       string        `env:"SMS_FROM"`
	SMSTimeout    time.Duration `env:"SMS_TIMEOUT" envDefault:"10s"`

	PushGatewayURL    string `env:"PUSH_GATEWAY_URL"`
	PushGatewaySecret string `env:"PUSH_GATEWAY_SECRET"`

	WebhookSigningSecret string        `env:"WEBHOOK_SIGNING_SECRET"`
	WebhookTimeout       time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"10s"`
	Breaker              webhook.BreakerSettings

	EmailTag string `env:"EMAIL_TAG" envDefault:"notification"`
	Slack    bool   `env:"SLACK_ENABLED" envDefault:"true"`
}

// New builds the channel senders described by cfg. mailer may be nil when
// email delivery is not configured.
func New(cfg Config, mailer email.EmailSender, log *slog.Logger) notifications.Senders {
	if log == nil {
		log = slog.Default()
	}
	hooks := webhook.NewSender(
		webhook.WithTimeout(cfg.WebhookTimeout),
		webhook.WithSigningSecret(cfg.WebhookSigningSecret),
		webhook.WithBreakers(webhook.NewBreakers(cfg.Breaker)),
		webhook.WithLogger(log),
	)

	var s notifications.Senders
	if mailer != nil {
		s.Email = NewEmail(mailer, cfg.EmailTag)
	}
	if cfg.SMSGatewayURL != "" {
		s.SMS = NewSMS(SMSConfig{
			URL:       cfg.SMSGatewayURL,
			AccountID: cfg.SMSAccountID,
			AuthToken: cfg.SMSAuthToken,
			From:      cfg.SMSFrom,
			Timeout:   cfg.SMSTimeout,
		})
	}
	if cfg.PushGatewayURL != "" {
		s.Push = NewPush(hooks, cfg.PushGatewayURL, cfg.PushGatewaySecret)
	}
	if cfg.WebhookSigningSecret != "" {
		s.Webhook = NewWebhook(hooks)
	}
	if cfg.Slack {
		s.Slack = NewSlack(hooks)
	}
	return s
}
