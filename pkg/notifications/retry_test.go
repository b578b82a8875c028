package notifications_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/schoolkit/pkg/notifications"
)

func TestRetryPolicy_Delay(t *testing.T) {
	t.Parallel()

	p := notifications.DefaultRetryPolicy()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{60, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryPolicy_ZeroValueUsesDefaults(t *testing.T) {
	t.Parallel()

	var p notifications.RetryPolicy
	assert.Equal(t, time.Second, p.Delay(1))
	assert.True(t, p.ShouldRetry(2))
	assert.False(t, p.ShouldRetry(3))
}

func TestRetryPolicy_Jitter(t *testing.T) {
	t.Parallel()

	p := notifications.RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, Multiplier: 2, MaxDelay: time.Minute, JitterFactor: 0.25}
	for range 50 {
		d := p.Delay(2)
		assert.GreaterOrEqual(t, d, 1500*time.Millisecond)
		assert.LessOrEqual(t, d, 2500*time.Millisecond)
	}
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	t.Parallel()

	p := notifications.RetryPolicy{MaxAttempts: 3}
	assert.True(t, p.ShouldRetry(1))
	assert.True(t, p.ShouldRetry(2))
	assert.False(t, p.ShouldRetry(3))
	assert.False(t, p.ShouldRetry(4))
}
