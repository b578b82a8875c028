// Package webhook posts signed JSON payloads to HTTP endpoints.
//
// A Sender makes exactly one attempt per Send; retry scheduling belongs to
// the caller (the notification engine's retry policy). Requests carry a
// delivery id header and, when a secret is configured, an HMAC-SHA256
// signature header of the form "t=<unix>,v1=<hex>" computed over
// "<unix>.<body>". Receivers check it with Verify or VerifyRequest.
//
// Breakers keeps a circuit breaker per endpoint host. After repeated
// failures the host's circuit opens and Send fails fast with ErrCircuitOpen
// until the recovery timeout lets a probe through.
//
//	sender := webhook.NewSender(
//		webhook.WithSigningSecret(secret),
//		webhook.WithBreakers(webhook.NewBreakers(webhook.BreakerSettings{})),
//	)
//	_, err := sender.Send(ctx, url, payload, webhook.WithEvent("notification.grade"))
//
// Response classification: 2xx is success; 4xx other than 408, 425 and 429
// wraps ErrPermanentFailure; everything else wraps ErrTemporaryFailure or
// ErrTimeout.
package webhook
