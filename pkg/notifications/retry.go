package notifications

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/dmitrymomot/schoolkit/pkg/logger"
)

// RetryPolicy bounds per-channel delivery attempts.
// MaxAttempts includes the first attempt.
type RetryPolicy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	JitterFactor float64
}

// DefaultRetryPolicy allows three attempts with 1s, 2s waits, capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	return p
}

// Delay returns the wait after failed attempt number attempt (1-based):
// min(BaseDelay * Multiplier^(attempt-1), MaxDelay), so 1s, 2s, 4s with defaults.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	p = p.withDefaults()

	interval := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.JitterFactor > 0 {
		interval *= 1 + (rand.Float64()*2-1)*p.JitterFactor
	}
	if interval > float64(p.MaxDelay) || math.IsInf(interval, 0) {
		interval = float64(p.MaxDelay)
	}
	return time.Duration(interval)
}

// ShouldRetry reports whether another attempt follows failed attempt number attempt.
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt < p.withDefaults().MaxAttempts
}

// onFailure records a failed attempt. Below the attempt limit the channel goes
// back to pending and a retry job is scheduled; at the limit it fails for good.
// Other channels are never touched.
func (d *Dispatcher) onFailure(ctx context.Context, log *slog.Logger, n *Notification, cerr *ChannelDeliveryError) error {
	if d.policy.ShouldRetry(cerr.Attempt) {
		if _, err := d.transition(ctx, n.ID, cerr.Channel, cerr.Attempt, DeliveryPending, cerr); err != nil {
			return d.settleErr(ctx, log, err)
		}
		delay := d.policy.Delay(cerr.Attempt)
		job := RetryJob(n.ID, cerr.Channel, cerr.Attempt+1)
		if err := d.scheduler.Schedule(ctx, job, d.now().Add(delay)); err != nil {
			// Without a retry job the channel would stay pending forever.
			log.LogAttrs(ctx, slog.LevelError, "Failed to schedule retry", logger.Error(err))
			return d.fail(ctx, log, n.ID, cerr, errors.Join(cerr, err))
		}
		log.LogAttrs(ctx, slog.LevelWarn, "Channel delivery failed, retry scheduled",
			logger.Duration(delay),
			logger.Error(cerr.Err),
		)
		return nil
	}
	return d.fail(ctx, log, n.ID, cerr, cerr)
}

func (d *Dispatcher) fail(ctx context.Context, log *slog.Logger, id string, cerr *ChannelDeliveryError, cause error) error {
	updated, err := d.transition(ctx, id, cerr.Channel, cerr.Attempt, DeliveryFailed, cause)
	if err != nil {
		return d.settleErr(ctx, log, err)
	}
	terminal := &TerminalChannelFailure{
		NotificationID: id,
		Channel:        cerr.Channel,
		Attempts:       cerr.Attempt,
		Err:            cause,
	}
	log.LogAttrs(ctx, slog.LevelError, "Channel delivery failed permanently", logger.Error(terminal))
	d.events.Publish(ctx, Event{Kind: EventFailed, Notification: updated, Channel: cerr.Channel, Attempts: cerr.Attempt, Err: terminal, At: d.now()})
	return nil
}
