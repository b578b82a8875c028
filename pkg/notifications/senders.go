package notifications

import (
	"context"
	"time"
)

// EmailSender delivers an HTML email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, html string) error
}

// SMSSender delivers a text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, text string) error
}

// PushSender delivers a mobile/web push message.
type PushSender interface {
	SendPush(ctx context.Context, msg PushMessage) error
}

// WebhookSender posts a JSON payload to a user-registered endpoint.
type WebhookSender interface {
	DeliverWebhook(ctx context.Context, url string, payload WebhookPayload) error
}

// ChatSender posts text to a chat-ops incoming webhook (Slack).
type ChatSender interface {
	DeliverChat(ctx context.Context, webhookURL, text string) error
}

// PushMessage is the push-channel rendition of a notification.
type PushMessage struct {
	UserID string         `json:"user_id"`
	Token  string         `json:"token,omitempty"`
	Title  string         `json:"title"`
	Body   string         `json:"body"`
	URL    string         `json:"url,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// WebhookPayload is the body posted to user webhooks.
type WebhookPayload struct {
	Event          string         `json:"event"`
	NotificationID string         `json:"notification_id"`
	UserID         string         `json:"user_id"`
	TenantID       string         `json:"tenant_id,omitempty"`
	Type           Type           `json:"type"`
	Category       Category       `json:"category"`
	Priority       Priority       `json:"priority"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	ActionURL      string         `json:"action_url,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Senders carries one capability per external channel. A nil field means the
// channel is not configured and every attempt on it fails.
type Senders struct {
	Email   EmailSender
	SMS     SMSSender
	Push    PushSender
	Webhook WebhookSender
	Slack   ChatSender
}

// EmailSenderFunc adapts a function to EmailSender.
type EmailSenderFunc func(ctx context.Context, to, subject, html string) error

func (f EmailSenderFunc) SendEmail(ctx context.Context, to, subject, html string) error {
	return f(ctx, to, subject, html)
}

// SMSSenderFunc adapts a function to SMSSender.
type SMSSenderFunc func(ctx context.Context, to, text string) error

func (f SMSSenderFunc) SendSMS(ctx context.Context, to, text string) error {
	return f(ctx, to, text)
}

// PushSenderFunc adapts a function to PushSender.
type PushSenderFunc func(ctx context.Context, msg PushMessage) error

func (f PushSenderFunc) SendPush(ctx context.Context, msg PushMessage) error {
	return f(ctx, msg)
}

// WebhookSenderFunc adapts a function to WebhookSender.
type WebhookSenderFunc func(ctx context.Context, url string, payload WebhookPayload) error

func (f WebhookSenderFunc) DeliverWebhook(ctx context.Context, url string, payload WebhookPayload) error {
	return f(ctx, url, payload)
}

// ChatSenderFunc adapts a function to ChatSender.
type ChatSenderFunc func(ctx context.Context, webhookURL, text string) error

func (f ChatSenderFunc) DeliverChat(ctx context.Context, webhookURL, text string) error {
	return f(ctx, webhookURL, text)
}
