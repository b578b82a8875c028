// Package transport implements the external notification channels.
//
// Email goes through pkg/email (Postmark or the dev sender). SMS is a form
// post to a Twilio-compatible gateway. Push, user webhooks and Slack all ride
// on pkg/webhook, sharing its per-host circuit breakers. New assembles the
// notifications.Senders set from a Config.
package transport
