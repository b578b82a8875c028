package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/schoolkit/pkg/logger"
)

// maxBodyBytes caps how much of a response or request body is read.
const maxBodyBytes = 64 << 10

// Sender posts JSON payloads to HTTP endpoints. Each Send is exactly one
// attempt; the caller owns retries. Zero value is not usable; use NewSender.
type Sender struct {
	client    *http.Client
	timeout   time.Duration
	secret    string
	breakers  *Breakers
	userAgent string
	logger    *slog.Logger
}

// NewSender creates a webhook sender with a pooled HTTP client.
func NewSender(opts ...Option) *Sender {
	s := &Sender{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		timeout:   10 * time.Second,
		userAgent: "schoolkit-webhook/1.0",
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send marshals data to JSON and POSTs it to endpoint.
//
// Non-2xx responses return a *StatusError; network failures wrap
// ErrTemporaryFailure or ErrTimeout. When breakers are configured, an open
// circuit for the endpoint's host fails fast with ErrCircuitOpen.
func (s *Sender) Send(ctx context.Context, endpoint string, data any, opts ...SendOption) (DeliveryResult, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if err := validate(endpoint, payload); err != nil {
		return DeliveryResult{}, err
	}

	o := sendOptions{headers: make(map[string]string)}
	for _, opt := range opts {
		opt(&o)
	}

	var cb *CircuitBreaker
	if s.breakers != nil {
		cb = s.breakers.For(endpoint)
		if !cb.Allow() {
			return DeliveryResult{}, ErrCircuitOpen
		}
	}

	res, err := s.post(ctx, endpoint, payload, o)
	if cb != nil {
		// A permanent client error says nothing about endpoint health.
		cb.Record(err == nil || IsPermanent(err))
	}

	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelWarn
	}
	s.logger.LogAttrs(ctx, level, "Webhook delivery attempt",
		logger.Component("webhook"),
		slog.String("delivery_id", res.DeliveryID),
		slog.String("host", hostOf(endpoint)),
		slog.Int("status", res.StatusCode),
		logger.Duration(res.Duration),
		logger.Error(err),
	)
	return res, err
}

func (s *Sender) post(ctx context.Context, endpoint string, payload []byte, o sendOptions) (DeliveryResult, error) {
	res := DeliveryResult{DeliveryID: uuid.NewString()}
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return res, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set(DeliveryHeader, res.DeliveryID)
	if o.event != "" {
		req.Header.Set(EventHeader, o.event)
	}
	for k, v := range o.headers {
		req.Header.Set(k, v)
	}

	secret := s.secret
	if o.secret != nil {
		secret = *o.secret
	}
	if secret != "" && !o.unsigned {
		sig, err := Sign(secret, payload, time.Now())
		if err != nil {
			return res, fmt.Errorf("failed to sign payload: %w", err)
		}
		req.Header.Set(SignatureHeader, sig.String())
	}

	resp, err := s.client.Do(req)
	res.Duration = time.Since(start)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return res, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return res, fmt.Errorf("%w: %w", ErrTemporaryFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	res.StatusCode = resp.StatusCode
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return res, nil
	}
	return res, &StatusError{StatusCode: resp.StatusCode, Body: sanitizeBody(body)}
}

// validate rejects obviously bad input before any network call.
func validate(endpoint string, payload []byte) error {
	if endpoint == "" {
		return fmt.Errorf("%w: URL is required", ErrInvalidURL)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: only http and https schemes are supported", ErrInvalidURL)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidURL)
	}
	if len(payload) == 0 || string(payload) == "null" {
		return fmt.Errorf("%w: payload cannot be empty", ErrInvalidPayload)
	}
	return nil
}

// sanitizeBody flattens and truncates a response body for error messages.
func sanitizeBody(body []byte) string {
	s := strings.TrimSpace(strings.ReplaceAll(string(body), "\n", " "))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func hostOf(endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil {
		return u.Host
	}
	return ""
}
