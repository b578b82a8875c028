package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrymomot/schoolkit/pkg/notifications"
)

// SMSConfig describes a form-encoded SMS gateway (Twilio-compatible Messages API).
type SMSConfig struct {
	URL       string
	AccountID string
	AuthToken string
	From      string
	Timeout   time.Duration
}

// SMS posts text messages to an HTTP SMS gateway.
type SMS struct {
	cfg    SMSConfig
	client *http.Client
}

var _ notifications.SMSSender = (*SMS)(nil)

func NewSMS(cfg SMSConfig) *SMS {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMS{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// maxSMSLength is the longest body sent; longer texts are cut with an ellipsis.
const maxSMSLength = 480

func (s *SMS) SendSMS(ctx context.Context, to, text string) error {
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("%w: phone number", notifications.ErrRecipientMissing)
	}
	if r := []rune(text); len(r) > maxSMSLength {
		text = string(r[:maxSMSLength-1]) + "…"
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", s.cfg.From)
	form.Set("Body", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if s.cfg.AccountID != "" {
		req.SetBasicAuth(s.cfg.AccountID, s.cfg.AuthToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
