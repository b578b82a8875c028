package notifications_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/schoolkit/pkg/notifications"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func nightQuietHours() *notifications.QuietHours {
	return &notifications.QuietHours{Enabled: true, Start: "22:00", End: "07:00"}
}

func TestEffectiveChannels(t *testing.T) {
	t.Parallel()

	defaults := notifications.DefaultPreferences("u1")

	emailOff := notifications.DefaultPreferences("u1")
	emailOff.Channels.Email = false

	academicOff := notifications.DefaultPreferences("u1")
	academicOff.Categories[notifications.CategoryAcademic] = false

	highOnly := notifications.DefaultPreferences("u1")
	highOnly.PriorityThreshold = notifications.PriorityHigh

	tests := []struct {
		name      string
		prefs     notifications.Preferences
		requested []notifications.Channel
		priority  notifications.Priority
		want      []notifications.Channel
	}{
		{
			name:      "defaults allow email and push",
			prefs:     defaults,
			requested: []notifications.Channel{notifications.ChannelEmail, notifications.ChannelSMS, notifications.ChannelPush},
			priority:  notifications.PriorityMedium,
			want:      []notifications.Channel{notifications.ChannelInApp, notifications.ChannelEmail, notifications.ChannelPush},
		},
		{
			name:      "email disabled keeps only in_app",
			prefs:     emailOff,
			requested: []notifications.Channel{notifications.ChannelInApp, notifications.ChannelEmail},
			priority:  notifications.PriorityMedium,
			want:      []notifications.Channel{notifications.ChannelInApp},
		},
		{
			name:      "disabled category blocks external channels",
			prefs:     academicOff,
			requested: []notifications.Channel{notifications.ChannelEmail},
			priority:  notifications.PriorityUrgent,
			want:      []notifications.Channel{notifications.ChannelInApp},
		},
		{
			name:      "priority below threshold",
			prefs:     highOnly,
			requested: []notifications.Channel{notifications.ChannelEmail},
			priority:  notifications.PriorityMedium,
			want:      []notifications.Channel{notifications.ChannelInApp},
		},
		{
			name:      "priority at threshold",
			prefs:     highOnly,
			requested: []notifications.Channel{notifications.ChannelEmail},
			priority:  notifications.PriorityHigh,
			want:      []notifications.Channel{notifications.ChannelInApp, notifications.ChannelEmail},
		},
		{
			name:      "in_app is always first",
			prefs:     defaults,
			requested: []notifications.Channel{notifications.ChannelEmail, notifications.ChannelInApp},
			priority:  notifications.PriorityLow,
			want:      []notifications.Channel{notifications.ChannelInApp, notifications.ChannelEmail},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := notifications.EffectiveChannels(tt.prefs, tt.requested, notifications.CategoryAcademic, tt.priority)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsInQuietHours(t *testing.T) {
	t.Parallel()

	prefs := notifications.DefaultPreferences("u1")
	prefs.QuietHours = nightQuietHours()

	at := func(h, m int) time.Time { return time.Date(2026, 3, 10, h, m, 0, 0, time.UTC) }

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"late evening", at(23, 30), true},
		{"window start", at(22, 0), true},
		{"just after midnight", at(0, 15), true},
		{"last minute", at(6, 59), true},
		{"window end", at(7, 0), false},
		{"midday", at(12, 0), false},
		{"just before start", at(21, 59), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, notifications.IsInQuietHours(prefs, tt.now))
		})
	}

	t.Run("same-day window", func(t *testing.T) {
		t.Parallel()
		p := notifications.DefaultPreferences("u1")
		p.QuietHours = &notifications.QuietHours{Enabled: true, Start: "12:00", End: "13:00"}
		assert.True(t, notifications.IsInQuietHours(p, at(12, 30)))
		assert.False(t, notifications.IsInQuietHours(p, at(13, 0)))
		assert.False(t, notifications.IsInQuietHours(p, at(23, 0)))
	})

	t.Run("empty and disabled windows", func(t *testing.T) {
		t.Parallel()
		p := notifications.DefaultPreferences("u1")
		p.QuietHours = &notifications.QuietHours{Enabled: true, Start: "08:00", End: "08:00"}
		assert.False(t, notifications.IsInQuietHours(p, at(8, 0)))

		p.QuietHours = &notifications.QuietHours{Enabled: false, Start: "00:00", End: "23:59"}
		assert.False(t, notifications.IsInQuietHours(p, at(12, 0)))

		p.QuietHours = nil
		assert.False(t, notifications.IsInQuietHours(p, at(12, 0)))
	})

	t.Run("fixed offset zone", func(t *testing.T) {
		t.Parallel()
		p := notifications.DefaultPreferences("u1")
		p.QuietHours = nightQuietHours()
		// 20:30 UTC is 23:30 at UTC+3.
		local := at(20, 30).In(time.FixedZone("UTC+3", 3*3600))
		assert.False(t, notifications.IsInQuietHours(p, local), "window is evaluated in UTC when no zone is set")
	})
}

func TestDeferUntil(t *testing.T) {
	t.Parallel()

	prefs := notifications.DefaultPreferences("u1")
	prefs.QuietHours = nightQuietHours()

	t.Run("evening defers to next morning", func(t *testing.T) {
		t.Parallel()
		now := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
		until, ok := notifications.DeferUntil(prefs, notifications.PriorityMedium, now)
		require.True(t, ok)
		assert.True(t, until.Equal(time.Date(2026, 3, 11, 7, 0, 0, 0, time.UTC)), "got %s", until)
	})

	t.Run("after midnight defers to same morning", func(t *testing.T) {
		t.Parallel()
		now := time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC)
		until, ok := notifications.DeferUntil(prefs, notifications.PriorityHigh, now)
		require.True(t, ok)
		assert.True(t, until.Equal(time.Date(2026, 3, 11, 7, 0, 0, 0, time.UTC)), "got %s", until)
	})

	t.Run("critical and urgent bypass", func(t *testing.T) {
		t.Parallel()
		now := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
		for _, p := range []notifications.Priority{notifications.PriorityCritical, notifications.PriorityUrgent} {
			_, ok := notifications.DeferUntil(prefs, p, now)
			assert.False(t, ok, p)
		}
	})

	t.Run("outside window", func(t *testing.T) {
		t.Parallel()
		now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
		_, ok := notifications.DeferUntil(prefs, notifications.PriorityLow, now)
		assert.False(t, ok)
	})
}

func TestResolver_Preferences(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := notifications.NewMemoryPreferencesStore()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	r := notifications.NewResolver(store,
		notifications.WithResolverLogger(discardLogger()),
		notifications.WithResolverClock(func() time.Time { return now }),
	)

	_, err := store.Get(ctx, "u1")
	require.ErrorIs(t, err, notifications.ErrPreferencesNotFound)

	prefs, err := r.Preferences(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", prefs.UserID)
	assert.True(t, prefs.Channels.Email)
	assert.True(t, prefs.Channels.Push)
	assert.False(t, prefs.Channels.SMS)
	assert.Equal(t, now, prefs.UpdatedAt)

	saved, err := store.Get(ctx, "u1")
	require.NoError(t, err, "defaults are persisted on first lookup")
	assert.Equal(t, prefs, saved)
}

func TestResolver_Plan(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := notifications.NewMemoryPreferencesStore()
	prefs := notifications.DefaultPreferences("u1")
	prefs.QuietHours = nightQuietHours()
	require.NoError(t, store.Save(ctx, prefs))

	now := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	r := notifications.NewResolver(store, notifications.WithResolverClock(func() time.Time { return now }))

	plan, err := r.Plan(ctx, "u1", []notifications.Channel{notifications.ChannelEmail}, notifications.CategoryAcademic, notifications.PriorityMedium)
	require.NoError(t, err)
	assert.Equal(t, []notifications.Channel{notifications.ChannelInApp, notifications.ChannelEmail}, plan.Channels)
	assert.True(t, plan.FireTime(now).Equal(time.Date(2026, 3, 11, 7, 0, 0, 0, time.UTC)))
	later := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	assert.True(t, plan.FireTime(later).Equal(later))

	plan, err = r.Plan(ctx, "u1", []notifications.Channel{notifications.ChannelEmail}, notifications.CategoryAlert, notifications.PriorityCritical)
	require.NoError(t, err)
	assert.True(t, plan.FireTime(now).Equal(now), "critical is not deferred")

	channels, err := r.ResolveChannels(ctx, "u1", []notifications.Channel{notifications.ChannelSMS}, notifications.CategoryAcademic, notifications.PriorityMedium)
	require.NoError(t, err)
	assert.Equal(t, []notifications.Channel{notifications.ChannelInApp}, channels)
}

func TestPreferencesPatch(t *testing.T) {
	t.Parallel()

	off := false
	on := true
	high := notifications.PriorityHigh
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	patch := notifications.PreferencesPatch{
		Email:             &off,
		SMS:               &on,
		Categories:        map[notifications.Category]bool{notifications.CategorySocial: false},
		QuietHours:        nightQuietHours(),
		PriorityThreshold: &high,
	}
	require.NoError(t, patch.Validate())

	got := patch.Apply(notifications.DefaultPreferences("u1"), now)
	assert.False(t, got.Channels.Email)
	assert.True(t, got.Channels.SMS)
	assert.True(t, got.Channels.Push, "unset fields are unchanged")
	assert.False(t, got.CategoryEnabled(notifications.CategorySocial))
	assert.True(t, got.CategoryEnabled(notifications.CategoryAcademic))
	require.NotNil(t, got.QuietHours)
	assert.Equal(t, "22:00", got.QuietHours.Start)
	assert.Equal(t, notifications.PriorityHigh, got.PriorityThreshold)
	assert.Equal(t, now, got.UpdatedAt)

	cleared := notifications.PreferencesPatch{ClearQuietHours: true}.Apply(got, now)
	assert.Nil(t, cleared.QuietHours)

	invalid := []notifications.PreferencesPatch{
		{QuietHours: &notifications.QuietHours{Enabled: true, Start: "25:00", End: "07:00"}},
		{Categories: map[notifications.Category]bool{"gossip": true}},
		{PriorityThreshold: func() *notifications.Priority { p := notifications.Priority("meh"); return &p }()},
		{Digest: &notifications.Digest{Enabled: true, Frequency: "hourly", Time: "08:00"}},
	}
	for i, p := range invalid {
		err := p.Validate()
		assert.True(t, notifications.IsValidationError(err), "patch #%d: %v", i, err)
	}
}
