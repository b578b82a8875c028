package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dmitrymomot/schoolkit/pkg/logger"
)

// Resolver turns a requested channel set into the effective one using the
// recipient's preferences, and decides whether quiet hours defer delivery.
type Resolver struct {
	store  PreferencesStore
	now    func() time.Time
	logger *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverLogger sets the logger for the Resolver.
func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = l
	}
}

// WithResolverClock overrides the time source.
func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		r.now = now
	}
}

// NewResolver creates a resolver backed by store.
func NewResolver(store PreferencesStore, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Preferences loads the user's preferences, creating and saving the defaults
// on first lookup.
func (r *Resolver) Preferences(ctx context.Context, userID string) (Preferences, error) {
	prefs, err := r.store.Get(ctx, userID)
	if err == nil {
		return prefs, nil
	}
	if !errors.Is(err, ErrPreferencesNotFound) {
		return Preferences{}, fmt.Errorf("failed to load preferences: %w", err)
	}

	prefs = DefaultPreferences(userID)
	prefs.UpdatedAt = r.now()
	if err := r.store.Save(ctx, prefs); err != nil {
		// Defaults are still correct for this request; the next lookup retries the save.
		r.logger.LogAttrs(ctx, slog.LevelWarn, "Failed to persist default preferences",
			logger.UserID(userID),
			logger.Error(err),
		)
	}
	return prefs, nil
}

// ResolveChannels returns the effective channel set for a notification.
// The result always starts with in_app and is never empty.
func (r *Resolver) ResolveChannels(ctx context.Context, userID string, requested []Channel, category Category, priority Priority) ([]Channel, error) {
	prefs, err := r.Preferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	channels := EffectiveChannels(prefs, requested, category, priority)
	if len(channels) == 0 {
		return nil, &NoChannelsAllowedError{UserID: userID, Requested: requested}
	}
	return channels, nil
}

// Plan is the outcome of preference resolution for one notification.
type Plan struct {
	Channels    []Channel
	Priority    Priority
	Preferences Preferences
}

// FireTime returns when a notification planned for at may be dispatched.
func (p Plan) FireTime(at time.Time) time.Time {
	return FireTime(p.Preferences, p.Priority, at)
}

// Plan resolves channels and keeps the preferences for quiet-hours checks.
func (r *Resolver) Plan(ctx context.Context, userID string, requested []Channel, category Category, priority Priority) (Plan, error) {
	prefs, err := r.Preferences(ctx, userID)
	if err != nil {
		return Plan{}, err
	}
	channels := EffectiveChannels(prefs, requested, category, priority)
	if len(channels) == 0 {
		return Plan{}, &NoChannelsAllowedError{UserID: userID, Requested: requested}
	}
	return Plan{Channels: channels, Priority: priority, Preferences: prefs}, nil
}

// EffectiveChannels filters requested by prefs. in_app is always present and
// first; any other channel needs its opt-in, an enabled category and a
// priority at or above the user's threshold.
func EffectiveChannels(prefs Preferences, requested []Channel, category Category, priority Priority) []Channel {
	out := []Channel{ChannelInApp}
	for _, c := range requested {
		if c == ChannelInApp || slices.Contains(out, c) {
			continue
		}
		if prefs.Allows(c, category, priority) {
			out = append(out, c)
		}
	}
	return out
}

// IsInQuietHours reports whether now falls inside the user's quiet-hours window,
// evaluated in the window's time zone (UTC when unset or unknown).
// A window whose start equals its end is empty.
func IsInQuietHours(prefs Preferences, now time.Time) bool {
	w, ok := quietWindow(prefs.QuietHours)
	if !ok {
		return false
	}
	local := now.In(w.loc)
	m := local.Hour()*60 + local.Minute()
	if w.start < w.end {
		return m >= w.start && m < w.end
	}
	return m >= w.start || m < w.end
}

// DeferUntil returns the next end of the quiet-hours window, strictly after now,
// when now is inside quiet hours and priority does not bypass them.
func DeferUntil(prefs Preferences, priority Priority, now time.Time) (time.Time, bool) {
	if priority.BypassesQuietHours() || !IsInQuietHours(prefs, now) {
		return time.Time{}, false
	}
	w, _ := quietWindow(prefs.QuietHours)
	local := now.In(w.loc)
	end := time.Date(local.Year(), local.Month(), local.Day(), w.end/60, w.end%60, 0, 0, w.loc)
	if !end.After(local) {
		end = end.AddDate(0, 0, 1)
	}
	return end, true
}

// FireTime returns at, or the end of the quiet-hours window when at falls
// inside it and priority does not bypass quiet hours.
func FireTime(prefs Preferences, priority Priority, at time.Time) time.Time {
	if until, ok := DeferUntil(prefs, priority, at); ok {
		return until
	}
	return at
}

type window struct {
	start, end int
	loc        *time.Location
}

func quietWindow(q *QuietHours) (window, bool) {
	if q == nil || !q.Enabled {
		return window{}, false
	}
	start, err := parseClock(q.Start)
	if err != nil {
		return window{}, false
	}
	end, err := parseClock(q.End)
	if err != nil || start == end {
		return window{}, false
	}
	loc := time.UTC
	if q.Timezone != "" {
		if l, err := time.LoadLocation(q.Timezone); err == nil {
			loc = l
		}
	}
	return window{start: start, end: end, loc: loc}, true
}
