package webhook

import (
	"log/slog"
	"net/http"
	"time"
)

// DeliveryResult describes one delivery attempt.
type DeliveryResult struct {
	DeliveryID string
	StatusCode int
	Duration   time.Duration
}

// Option configures a Sender.
type Option func(*Sender)

// WithHTTPClient sets the HTTP client. Useful for custom transports, proxies, or testing.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Sender) {
		if client != nil {
			s.client = client
		}
	}
}

// WithTimeout bounds each request. Default is 10 seconds.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Sender) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithSigningSecret signs every request with secret.
func WithSigningSecret(secret string) Option {
	return func(s *Sender) {
		s.secret = secret
	}
}

// WithBreakers guards every endpoint host with a circuit breaker from b.
func WithBreakers(b *Breakers) Option {
	return func(s *Sender) {
		s.breakers = b
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(s *Sender) {
		if ua != "" {
			s.userAgent = ua
		}
	}
}

// WithLogger sets the logger for the Sender.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sender) {
		if l != nil {
			s.logger = l
		}
	}
}

type sendOptions struct {
	headers  map[string]string
	secret   *string
	event    string
	unsigned bool
}

// SendOption adjusts a single Send call.
type SendOption func(*sendOptions)

// WithHeader adds a custom header to the request.
func WithHeader(key, value string) SendOption {
	return func(o *sendOptions) {
		if key != "" && value != "" {
			o.headers[key] = value
		}
	}
}

// WithHeaders adds multiple custom headers to the request.
func WithHeaders(headers map[string]string) SendOption {
	return func(o *sendOptions) {
		for k, v := range headers {
			if k != "" && v != "" {
				o.headers[k] = v
			}
		}
	}
}

// WithEvent sets the event name header.
func WithEvent(name string) SendOption {
	return func(o *sendOptions) {
		o.event = name
	}
}

// WithSignature signs this request with secret instead of the sender's secret.
func WithSignature(secret string) SendOption {
	return func(o *sendOptions) {
		o.secret = &secret
	}
}

// WithoutSignature sends this request unsigned, e.g. to a chat incoming webhook.
func WithoutSignature() SendOption {
	return func(o *sendOptions) {
		o.unsigned = true
	}
}
