package webhook_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/schoolkit/pkg/webhook"
)

type event struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func TestSender_Send(t *testing.T) {
	t.Parallel()

	secret := "whsec_test"
	var gotBody []byte
	var gotHeader http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		body, err := webhook.VerifyRequest(r, secret, 5*time.Minute)
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		gotBody = body
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sender := webhook.NewSender(webhook.WithSigningSecret(secret))
	res, err := sender.Send(context.Background(), server.URL, event{Type: "grade", ID: "n1"},
		webhook.WithEvent("notification.grade"),
		webhook.WithHeader("X-School", "north"),
	)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, res.StatusCode)
	assert.NotEmpty(t, res.DeliveryID)

	var got event
	require.NoError(t, json.Unmarshal(gotBody, &got))
	assert.Equal(t, event{Type: "grade", ID: "n1"}, got)
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	assert.Equal(t, "schoolkit-webhook/1.0", gotHeader.Get("User-Agent"))
	assert.Equal(t, "notification.grade", gotHeader.Get(webhook.EventHeader))
	assert.Equal(t, res.DeliveryID, gotHeader.Get(webhook.DeliveryHeader))
	assert.Equal(t, "north", gotHeader.Get("X-School"))
}

func TestSender_Send_Unsigned(t *testing.T) {
	t.Parallel()

	var signature atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature.Store(r.Header.Get(webhook.SignatureHeader))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := webhook.NewSender(webhook.WithSigningSecret("secret"))
	_, err := sender.Send(context.Background(), server.URL, map[string]string{"text": "hi"}, webhook.WithoutSignature())
	require.NoError(t, err)
	assert.Equal(t, "", signature.Load())

	plain := webhook.NewSender()
	_, err = plain.Send(context.Background(), server.URL, map[string]string{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "", signature.Load(), "no secret means no signature")
}

func TestSender_Send_StatusClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusNotFound, true},
		{http.StatusGone, true},
		{http.StatusRequestTimeout, false},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusBadGateway, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, "nope\nnope")
			}))
			defer server.Close()

			res, err := webhook.NewSender().Send(context.Background(), server.URL, event{Type: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.status, res.StatusCode)

			var statusErr *webhook.StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, "nope nope", statusErr.Body)
			assert.Equal(t, tt.permanent, webhook.IsPermanent(err))
			assert.Equal(t, !tt.permanent, errors.Is(err, webhook.ErrTemporaryFailure))
		})
	}
}

func TestSender_Send_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	sender := webhook.NewSender(webhook.WithTimeout(20 * time.Millisecond))
	_, err := sender.Send(context.Background(), server.URL, event{Type: "x"})
	require.ErrorIs(t, err, webhook.ErrTimeout)
	assert.False(t, webhook.IsPermanent(err))
}

func TestSender_Send_InvalidInput(t *testing.T) {
	t.Parallel()

	sender := webhook.NewSender()
	ctx := context.Background()

	tests := []struct {
		name    string
		url     string
		data    any
		wantErr error
	}{
		{"empty url", "", event{}, webhook.ErrInvalidURL},
		{"ftp scheme", "ftp://example.com/hook", event{}, webhook.ErrInvalidURL},
		{"no host", "http:///hook", event{}, webhook.ErrInvalidURL},
		{"nil payload", "https://example.com/hook", nil, webhook.ErrInvalidPayload},
		{"unmarshalable payload", "https://example.com/hook", make(chan int), webhook.ErrInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := sender.Send(ctx, tt.url, tt.data)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSender_Send_CircuitBreaker(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	breakers := webhook.NewBreakers(webhook.BreakerSettings{FailureThreshold: 2, SuccessThreshold: 1, RecoveryTimeout: 50 * time.Millisecond})
	sender := webhook.NewSender(webhook.WithBreakers(breakers))
	ctx := context.Background()

	for range 2 {
		_, err := sender.Send(ctx, server.URL, event{Type: "x"})
		require.Error(t, err)
	}
	_, err := sender.Send(ctx, server.URL, event{Type: "x"})
	require.ErrorIs(t, err, webhook.ErrCircuitOpen)
	assert.True(t, webhook.IsCircuitOpen(err))
	assert.EqualValues(t, 2, hits.Load(), "open circuit makes no request")

	status.Store(http.StatusOK)
	time.Sleep(60 * time.Millisecond)
	_, err = sender.Send(ctx, server.URL, event{Type: "x"})
	require.NoError(t, err)

	for _, state := range breakers.States() {
		assert.Equal(t, webhook.CircuitClosed, state)
	}
}

func TestSender_Send_PermanentErrorsKeepCircuitClosed(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	breakers := webhook.NewBreakers(webhook.BreakerSettings{FailureThreshold: 1})
	sender := webhook.NewSender(webhook.WithBreakers(breakers))
	for range 3 {
		_, err := sender.Send(context.Background(), server.URL, event{Type: "x"})
		require.True(t, webhook.IsPermanent(err))
	}
	assert.Equal(t, webhook.CircuitClosed, breakers.For(server.URL).State())
}
