package notifications_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/schoolkit/pkg/notifications"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{now: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentEmail struct {
	To, Subject, HTML string
}

type emailOutbox struct {
	mu    sync.Mutex
	sent  []sentEmail
	calls atomic.Int32
	err   error
}

func (o *emailOutbox) SendEmail(_ context.Context, to, subject, html string) error {
	o.calls.Add(1)
	if o.err != nil {
		return o.err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, sentEmail{To: to, Subject: subject, HTML: html})
	return nil
}

func (o *emailOutbox) messages() []sentEmail {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]sentEmail(nil), o.sent...)
}

func fastRetries() notifications.RetryPolicy {
	return notifications.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Millisecond}
}

func newTestManager(t *testing.T, start bool, opts ...notifications.ManagerOption) (*notifications.Manager, *notifications.MemoryStorage) {
	t.Helper()

	storage := notifications.NewMemoryStorage()
	opts = append([]notifications.ManagerOption{
		notifications.WithManagerLogger(discardLogger()),
		notifications.WithRetryPolicy(fastRetries()),
		notifications.WithDirectory(notifications.NewMemoryDirectory(
			notifications.Contact{UserID: "student-1", TenantID: "school-a", Email: "s1@school.test", Phone: "+15550001"},
			notifications.Contact{UserID: "student-2", TenantID: "school-a", Email: "s2@school.test"},
			notifications.Contact{UserID: "teacher-1", TenantID: "school-b", Email: "t1@school.test"},
		)),
	}, opts...)

	m := notifications.NewManager(storage, opts...)
	if start {
		require.NoError(t, m.Start(context.Background()))
	}
	t.Cleanup(func() { _ = m.Stop() })
	return m, storage
}

func waitFor(t *testing.T, m *notifications.Manager, id string, cond func(n *notifications.Notification) bool) *notifications.Notification {
	t.Helper()
	var last *notifications.Notification
	require.Eventually(t, func() bool {
		n, err := m.Get(context.Background(), id)
		if err != nil {
			return false
		}
		last = n
		return cond(n)
	}, 2*time.Second, 5*time.Millisecond)
	return last
}

func channelStatus(c notifications.Channel, s notifications.DeliveryStatus) func(*notifications.Notification) bool {
	return func(n *notifications.Notification) bool {
		st := n.State(c)
		return st != nil && st.Status == s
	}
}

func TestManager_Send(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	outbox := &emailOutbox{}
	m, _ := newTestManager(t, true, notifications.WithSenders(notifications.Senders{Email: outbox}))

	req := validRequest()
	req.Channels = []notifications.Channel{notifications.ChannelInApp, notifications.ChannelEmail}
	req.ActionURL = "https://school.test/grades/42"

	n, err := m.Send(ctx, req)
	require.NoError(t, err)
	assert.NotEmpty(t, n.ID)
	assert.Equal(t, []notifications.Channel{notifications.ChannelInApp, notifications.ChannelEmail}, n.Channels)
	assert.False(t, n.IsRead)
	assert.Nil(t, n.ScheduledFor)

	n = waitFor(t, m, n.ID, channelStatus(notifications.ChannelEmail, notifications.DeliveryDelivered))
	assert.Equal(t, notifications.StatusDelivered, n.Status)
	assert.Equal(t, notifications.DeliveryDelivered, n.State(notifications.ChannelInApp).Status)
	assert.Equal(t, 1, n.State(notifications.ChannelEmail).Attempts)
	assert.NotNil(t, n.SentAt)
	assert.NotNil(t, n.DeliveredAt)
	assert.NotNil(t, n.DispatchedAt)

	msgs := outbox.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "s1@school.test", msgs[0].To)
	assert.Equal(t, "Grade posted", msgs[0].Subject)
	assert.Contains(t, msgs[0].HTML, "Your algebra test has been graded.")
	assert.Contains(t, msgs[0].HTML, "https://school.test/grades/42")
}

func TestManager_Send_EmailDisabled(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	outbox := &emailOutbox{}
	m, _ := newTestManager(t, true, notifications.WithSenders(notifications.Senders{Email: outbox}))

	off := false
	_, err := m.UpdatePreferences(ctx, "student-1", notifications.PreferencesPatch{Email: &off})
	require.NoError(t, err)

	req := validRequest()
	req.Channels = []notifications.Channel{notifications.ChannelInApp, notifications.ChannelEmail}
	n, err := m.Send(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []notifications.Channel{notifications.ChannelInApp}, n.Channels)
	assert.Equal(t, req.Channels, n.RequestedChannels)

	waitFor(t, m, n.ID, channelStatus(notifications.ChannelInApp, notifications.DeliveryDelivered))
	assert.Zero(t, outbox.calls.Load())
}

func TestManager_Send_ValidationError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, storage := newTestManager(t, false)

	req := validRequest()
	req.Title = ""
	_, err := m.Send(ctx, req)
	require.Error(t, err)
	assert.True(t, notifications.IsValidationError(err))

	list, err := storage.List(ctx, req.UserID, notifications.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestManager_RetryBound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	outbox := &emailOutbox{err: errors.New("smtp unavailable")}
	m, _ := newTestManager(t, true, notifications.WithSenders(notifications.Senders{Email: outbox}))

	var failed atomic.Pointer[notifications.Event]
	unsubscribe := m.SubscribeEvents(ctx, "student-1", func(ev notifications.Event) {
		if ev.Kind == notifications.EventFailed {
			failed.Store(&ev)
		}
	})
	defer unsubscribe()

	req := validRequest()
	req.Channels = []notifications.Channel{notifications.ChannelInApp, notifications.ChannelEmail}
	n, err := m.Send(ctx, req)
	require.NoError(t, err)

	n = waitFor(t, m, n.ID, channelStatus(notifications.ChannelEmail, notifications.DeliveryFailed))
	email := n.State(notifications.ChannelEmail)
	assert.Equal(t, 3, email.Attempts)
	assert.Contains(t, email.Error, "smtp unavailable")
	assert.Equal(t, notifications.DeliveryDelivered, n.State(notifications.ChannelInApp).Status, "other channels are unaffected")
	assert.Equal(t, notifications.StatusDelivered, n.Status)

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 3, outbox.calls.Load(), "no attempts after the limit")

	require.Eventually(t, func() bool { return failed.Load() != nil }, time.Second, 5*time.Millisecond)
	ev := failed.Load()
	assert.Equal(t, notifications.ChannelEmail, ev.Channel)
	assert.Equal(t, 3, ev.Attempts)
	var terminal *notifications.TerminalChannelFailure
	require.ErrorAs(t, ev.Err, &terminal)
	assert.Equal(t, 3, terminal.Attempts)
	assert.Equal(t, n.ID, terminal.NotificationID)
}

func TestManager_RetryRecovers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var calls atomic.Int32
	flaky := notifications.SMSSenderFunc(func(context.Context, string, string) error {
		if calls.Add(1) < 2 {
			return errors.New("gateway timeout")
		}
		return nil
	})
	m, _ := newTestManager(t, true, notifications.WithSenders(notifications.Senders{SMS: flaky}))

	sms := true
	_, err := m.UpdatePreferences(ctx, "student-1", notifications.PreferencesPatch{SMS: &sms})
	require.NoError(t, err)

	req := validRequest()
	req.Channels = []notifications.Channel{notifications.ChannelSMS}
	n, err := m.Send(ctx, req)
	require.NoError(t, err)

	n = waitFor(t, m, n.ID, channelStatus(notifications.ChannelSMS, notifications.DeliveryDelivered))
	st := n.State(notifications.ChannelSMS)
	assert.Equal(t, 2, st.Attempts)
	assert.Empty(t, st.Error)
}

func TestManager_UnconfiguredChannelFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, _ := newTestManager(t, true)

	req := validRequest()
	req.Channels = []notifications.Channel{notifications.ChannelPush}
	n, err := m.Send(ctx, req)
	require.NoError(t, err)

	n = waitFor(t, m, n.ID, channelStatus(notifications.ChannelPush, notifications.DeliveryFailed))
	assert.Contains(t, n.State(notifications.ChannelPush).Error, notifications.ErrSenderNotConfigured.Error())
}

func TestManager_QuietHours(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newTestClock(time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC))
	scheduler := notifications.NewMemoryScheduler(notifications.WithMemorySchedulerLogger(discardLogger()))
	m, _ := newTestManager(t, false,
		notifications.WithClock(clock.Now),
		notifications.WithScheduler(scheduler),
	)

	_, err := m.UpdatePreferences(ctx, "student-1", notifications.PreferencesPatch{QuietHours: nightQuietHours()})
	require.NoError(t, err)

	n, err := m.Send(ctx, validRequest())
	require.NoError(t, err)

	morning := time.Date(2026, 3, 11, 7, 0, 0, 0, time.UTC)
	require.NotNil(t, n.ScheduledFor)
	assert.True(t, n.ScheduledFor.Equal(morning), "got %s", n.ScheduledFor)
	assert.Equal(t, notifications.StatusPending, n.Status)

	at, ok := scheduler.Pending(notifications.DispatchJob(n.ID).Key())
	require.True(t, ok)
	assert.True(t, at.Equal(morning))

	t.Run("critical bypasses quiet hours", func(t *testing.T) {
		req := validRequest()
		req.Priority = notifications.PriorityCritical
		n, err := m.Send(ctx, req)
		require.NoError(t, err)
		assert.Nil(t, n.ScheduledFor)
		_, ok := scheduler.Pending(notifications.DispatchJob(n.ID).Key())
		assert.False(t, ok)
		waitFor(t, m, n.ID, channelStatus(notifications.ChannelInApp, notifications.DeliveryDelivered))
	})

	t.Run("scheduled time inside quiet hours is pushed to window end", func(t *testing.T) {
		req := validRequest()
		req.ScheduledFor = "2026-03-11T05:00:00Z"
		n, err := m.Send(ctx, req)
		require.NoError(t, err)
		require.NotNil(t, n.ScheduledFor)
		assert.True(t, n.ScheduledFor.Equal(morning))
	})

	t.Run("scheduled time after quiet hours is kept", func(t *testing.T) {
		req := validRequest()
		req.ScheduledFor = "2026-03-11T09:15:00Z"
		n, err := m.Send(ctx, req)
		require.NoError(t, err)
		require.NotNil(t, n.ScheduledFor)
		assert.True(t, n.ScheduledFor.Equal(time.Date(2026, 3, 11, 9, 15, 0, 0, time.UTC)))
	})
}

func TestManager_ScheduledDispatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, _ := newTestManager(t, true)

	req := validRequest()
	req.ScheduledFor = time.Now().Add(50 * time.Millisecond).UTC().Format(time.RFC3339Nano)
	n, err := m.Send(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, n.ScheduledFor)

	got, err := m.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Nil(t, got.DispatchedAt)

	waitFor(t, m, n.ID, channelStatus(notifications.ChannelInApp, notifications.DeliveryDelivered))
}

func TestManager_MarkAsRead(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, _ := newTestManager(t, true)

	var reads atomic.Int32
	unsubscribe := m.SubscribeEvents(ctx, "student-1", func(ev notifications.Event) {
		if ev.Kind == notifications.EventRead {
			reads.Add(1)
		}
	})
	defer unsubscribe()

	n, err := m.Send(ctx, validRequest())
	require.NoError(t, err)

	count, err := m.GetUnreadCount(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	first, err := m.MarkAsRead(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, first.IsRead)
	require.NotNil(t, first.ReadAt)
	assert.Equal(t, notifications.StatusRead, first.Status)

	second, err := m.MarkAsRead(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, second.IsRead)
	assert.Equal(t, *first.ReadAt, *second.ReadAt, "read time is kept")

	count, err = m.GetUnreadCount(ctx, "student-1")
	require.NoError(t, err)
	assert.Zero(t, count)

	require.Eventually(t, func() bool { return reads.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, reads.Load())

	final := waitFor(t, m, n.ID, channelStatus(notifications.ChannelInApp, notifications.DeliveryDelivered))
	assert.Equal(t, notifications.StatusRead, final.Status, "delivery never overwrites read")

	_, err = m.MarkAsRead(ctx, "missing")
	require.ErrorIs(t, err, notifications.ErrNotificationNotFound)
}

func TestManager_MarkAllAsRead(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, _ := newTestManager(t, false)

	for range 3 {
		_, err := m.Send(ctx, validRequest())
		require.NoError(t, err)
	}
	other := validRequest()
	other.UserID = "student-2"
	_, err := m.Send(ctx, other)
	require.NoError(t, err)

	changed, err := m.MarkAllAsRead(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, 3, changed)

	count, err := m.GetUnreadCount(ctx, "student-1")
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = m.GetUnreadCount(ctx, "student-2")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestManager_SendFromTemplate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	templates := notifications.NewMemoryTemplateStore(
		notifications.Template{
			ID: "welcome", Name: "Welcome", Title: "Hi {{name}}", Message: "Welcome to {{ school }}, {{name}}.",
			Type: notifications.TypeMessage, Category: notifications.CategorySocial, Priority: notifications.PriorityLow,
			Channels: []notifications.Channel{notifications.ChannelInApp}, Active: true,
		},
		notifications.Template{
			ID: "retired", Name: "Retired", Title: "Old", Message: "Old",
			Type: notifications.TypeMessage, Category: notifications.CategorySocial, Priority: notifications.PriorityLow,
			Channels: []notifications.Channel{notifications.ChannelInApp},
		},
	)
	m, _ := newTestManager(t, false, notifications.WithTemplateStore(templates))

	n, err := m.SendFromTemplate(ctx, "welcome", "student-1", map[string]any{"name": "Ana"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ana", n.Title)
	assert.Equal(t, "Welcome to {{ school }}, Ana.", n.Message, "unknown variables are left as written")
	assert.Equal(t, "welcome", n.TemplateID)
	assert.Equal(t, notifications.CategorySocial, n.Category)

	_, err = m.SendFromTemplate(ctx, "retired", "student-1", nil)
	require.ErrorIs(t, err, notifications.ErrTemplateInactive)

	_, err = m.SendFromTemplate(ctx, "nope", "student-1", nil)
	require.ErrorIs(t, err, notifications.ErrTemplateNotFound)
	assert.True(t, notifications.IsNotFound(err))
}

func TestManager_SaveTemplate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, _ := newTestManager(t, false)

	tpl, err := m.SaveTemplate(ctx, notifications.Template{
		Name: "Fee due", TenantID: "school-a", Title: "Fee due {{date}}", Message: "Please pay {{amount}}.",
		Type: notifications.TypeFee, Category: notifications.CategoryFinance, Priority: notifications.PriorityHigh,
		Channels: []notifications.Channel{notifications.ChannelInApp, notifications.ChannelEmail}, Active: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, tpl.ID)
	assert.False(t, tpl.CreatedAt.IsZero())

	list, err := m.ListTemplates(ctx, "school-a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, tpl.ID, list[0].ID)

	list, err = m.ListTemplates(ctx, "school-b")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = m.SaveTemplate(ctx, notifications.Template{Name: "broken"})
	assert.True(t, notifications.IsValidationError(err))
}

func TestManager_SendBulk(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("three users in batches of two", func(t *testing.T) {
		t.Parallel()
		m, _ := newTestManager(t, false)
		res, err := m.SendBulk(ctx, []string{"student-1", "student-2", "teacher-1"}, validRequest(), notifications.BulkOptions{BatchSize: 2})
		require.NoError(t, err)
		assert.Equal(t, notifications.BulkResult{Total: 3, Success: 3}, res)

		for _, u := range []string{"student-1", "student-2", "teacher-1"} {
			count, err := m.GetUnreadCount(ctx, u)
			require.NoError(t, err)
			assert.Equal(t, 1, count, u)
		}
	})

	t.Run("per-user failures are collected", func(t *testing.T) {
		t.Parallel()
		m, _ := newTestManager(t, false)
		res, err := m.SendBulk(ctx, []string{"student-1", " ", "student-2"}, validRequest(), notifications.BulkOptions{BatchSize: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, res.Total)
		assert.Equal(t, 2, res.Success)
		assert.Equal(t, 1, res.Failed)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, " ", res.Errors[0].UserID)
	})

	t.Run("empty recipient list", func(t *testing.T) {
		t.Parallel()
		m, _ := newTestManager(t, false)
		_, err := m.SendBulk(ctx, nil, validRequest(), notifications.BulkOptions{})
		require.ErrorIs(t, err, notifications.ErrNoRecipients)
	})

	t.Run("invalid base request", func(t *testing.T) {
		t.Parallel()
		m, _ := newTestManager(t, false)
		req := validRequest()
		req.Type = ""
		_, err := m.SendBulk(ctx, []string{"student-1"}, req, notifications.BulkOptions{})
		assert.True(t, notifications.IsValidationError(err))
	})

	t.Run("negative options", func(t *testing.T) {
		t.Parallel()
		m, _ := newTestManager(t, false)
		_, err := m.SendBulk(ctx, []string{"student-1"}, validRequest(), notifications.BulkOptions{BatchSize: -1})
		assert.True(t, notifications.IsValidationError(err))
	})

	t.Run("cancellation leaves remaining users pending", func(t *testing.T) {
		t.Parallel()
		m, _ := newTestManager(t, false)
		cctx, cancel := context.WithCancel(ctx)
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		res, err := m.SendBulk(cctx, []string{"student-1", "student-2", "teacher-1"}, validRequest(),
			notifications.BulkOptions{BatchSize: 1, Delay: time.Hour})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Success)
		assert.Equal(t, 2, res.Pending)
	})
}

func TestManager_Broadcast(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, _ := newTestManager(t, false)

	req := validRequest()
	req.UserID = ""
	req.TenantID = "school-a"
	res, err := m.Broadcast(ctx, req, notifications.BulkOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 2, res.Success)

	list, err := m.List(ctx, "teacher-1", notifications.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, list, "other tenants are not notified")
}

func TestManager_Subscribe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, _ := newTestManager(t, false)

	var mu sync.Mutex
	var got []*notifications.Notification
	unsubscribe := m.Subscribe(ctx, "student-1", func(n *notifications.Notification) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, n)
	})

	n, err := m.Send(ctx, validRequest())
	require.NoError(t, err)
	other := validRequest()
	other.UserID = "student-2"
	_, err = m.Send(ctx, other)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, n.ID, got[0].ID)
	mu.Unlock()

	unsubscribe()
	unsubscribe()
	_, err = m.Send(ctx, validRequest())
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, got, 1, "no callbacks after unsubscribe")
}

func TestManager_Delete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	scheduler := notifications.NewMemoryScheduler(notifications.WithMemorySchedulerLogger(discardLogger()))
	m, _ := newTestManager(t, false, notifications.WithScheduler(scheduler))

	req := validRequest()
	req.ScheduledFor = time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	n, err := m.Send(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, scheduler.Len())

	require.NoError(t, m.Delete(ctx, n.ID))
	assert.Zero(t, scheduler.Len(), "pending dispatch is cancelled")

	_, err = m.Get(ctx, n.ID)
	require.ErrorIs(t, err, notifications.ErrNotificationNotFound)
	require.ErrorIs(t, m.Delete(ctx, n.ID), notifications.ErrNotificationNotFound)
}

func TestManager_Reschedule(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	scheduler := notifications.NewMemoryScheduler(notifications.WithMemorySchedulerLogger(discardLogger()))
	m, _ := newTestManager(t, true, notifications.WithScheduler(scheduler))

	req := validRequest()
	req.ScheduledFor = time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	n, err := m.Send(ctx, req)
	require.NoError(t, err)

	later := time.Now().Add(2 * time.Hour).UTC()
	moved, err := m.Reschedule(ctx, n.ID, later)
	require.NoError(t, err)
	require.NotNil(t, moved.ScheduledFor)
	assert.True(t, moved.ScheduledFor.Equal(later))
	at, ok := scheduler.Pending(notifications.DispatchJob(n.ID).Key())
	require.True(t, ok)
	assert.True(t, at.Equal(later))

	_, err = m.Reschedule(ctx, n.ID, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	waitFor(t, m, n.ID, channelStatus(notifications.ChannelInApp, notifications.DeliveryDelivered))
	assert.Zero(t, scheduler.Len())

	_, err = m.Reschedule(ctx, n.ID, later)
	require.ErrorIs(t, err, notifications.ErrAlreadyDispatched)
}

func TestManager_Reschedule_QuietHours(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newTestClock(time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC))
	scheduler := notifications.NewMemoryScheduler(notifications.WithMemorySchedulerLogger(discardLogger()))
	m, _ := newTestManager(t, false,
		notifications.WithClock(clock.Now),
		notifications.WithScheduler(scheduler),
	)

	_, err := m.UpdatePreferences(ctx, "student-1", notifications.PreferencesPatch{QuietHours: nightQuietHours()})
	require.NoError(t, err)

	morning := time.Date(2026, 3, 11, 7, 0, 0, 0, time.UTC)
	scheduled := func(t *testing.T, p notifications.Priority) *notifications.Notification {
		t.Helper()
		req := validRequest()
		req.Priority = p
		req.ScheduledFor = "2026-03-11T09:15:00Z"
		n, err := m.Send(ctx, req)
		require.NoError(t, err)
		return n
	}

	t.Run("time inside quiet hours is pushed to window end", func(t *testing.T) {
		n := scheduled(t, notifications.PriorityMedium)
		moved, err := m.Reschedule(ctx, n.ID, time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		require.NotNil(t, moved.ScheduledFor)
		assert.True(t, moved.ScheduledFor.Equal(morning), "got %s", moved.ScheduledFor)
		at, ok := scheduler.Pending(notifications.DispatchJob(n.ID).Key())
		require.True(t, ok)
		assert.True(t, at.Equal(morning))
	})

	t.Run("past time during quiet hours waits for window end", func(t *testing.T) {
		n := scheduled(t, notifications.PriorityMedium)
		moved, err := m.Reschedule(ctx, n.ID, clock.Now().Add(-time.Hour))
		require.NoError(t, err)
		require.NotNil(t, moved.ScheduledFor)
		assert.True(t, moved.ScheduledFor.Equal(morning))
		assert.Nil(t, moved.DispatchedAt)
	})

	t.Run("critical keeps the requested time", func(t *testing.T) {
		n := scheduled(t, notifications.PriorityCritical)
		night := time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC)
		moved, err := m.Reschedule(ctx, n.ID, night)
		require.NoError(t, err)
		require.NotNil(t, moved.ScheduledFor)
		assert.True(t, moved.ScheduledFor.Equal(night))
	})

	t.Run("expired notification is not rescheduled", func(t *testing.T) {
		req := validRequest()
		req.ScheduledFor = "2026-03-11T09:15:00Z"
		req.ExpiresAt = "2026-03-11T10:00:00Z"
		n, err := m.Send(ctx, req)
		require.NoError(t, err)

		clock.Advance(12 * time.Hour)
		_, err = m.Reschedule(ctx, n.ID, clock.Now().Add(time.Hour))
		require.ErrorIs(t, err, notifications.ErrNotificationExpired)
	})
}

func TestManager_RedeliveredDispatchResumes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	outbox := &emailOutbox{}
	scheduler := notifications.NewMemoryScheduler(notifications.WithMemorySchedulerLogger(discardLogger()))
	m, storage := newTestManager(t, true,
		notifications.WithScheduler(scheduler),
		notifications.WithSenders(notifications.Senders{Email: outbox}),
	)

	req := validRequest()
	req.Channels = []notifications.Channel{notifications.ChannelInApp, notifications.ChannelEmail}
	req.ScheduledFor = time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	n, err := m.Send(ctx, req)
	require.NoError(t, err)

	// The instance that claimed the dispatch job marked it and died before delivering.
	_, err = storage.Update(ctx, n.ID, func(n *notifications.Notification) error {
		now := time.Now()
		n.DispatchedAt = &now
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, scheduler.Schedule(ctx, notifications.DispatchJob(n.ID), time.Now()))

	n = waitFor(t, m, n.ID, func(n *notifications.Notification) bool {
		return channelStatus(notifications.ChannelInApp, notifications.DeliveryDelivered)(n) &&
			channelStatus(notifications.ChannelEmail, notifications.DeliveryDelivered)(n)
	})
	assert.Equal(t, notifications.StatusDelivered, n.Status)
	assert.Len(t, outbox.messages(), 1)

	// Once every channel settled, another redelivery sends nothing.
	require.NoError(t, scheduler.Schedule(ctx, notifications.DispatchJob(n.ID), time.Now()))
	require.Eventually(t, func() bool { return scheduler.Len() == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, outbox.calls.Load())
}

func TestManager_Send_ScheduleFailureReturnsStoredNotification(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	scheduler := notifications.NewMemoryScheduler(notifications.WithMemorySchedulerLogger(discardLogger()))
	require.NoError(t, scheduler.Stop())
	m, _ := newTestManager(t, false, notifications.WithScheduler(scheduler))

	req := validRequest()
	req.ScheduledFor = time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	n, err := m.Send(ctx, req)
	require.ErrorIs(t, err, notifications.ErrSchedulerStopped)
	require.NotNil(t, n)

	stored, err := m.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.ID, stored.ID)
	assert.Nil(t, stored.DispatchedAt)
}

func TestManager_ExpireStale(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	clock := newTestClock(start)
	scheduler := notifications.NewMemoryScheduler(notifications.WithMemorySchedulerLogger(discardLogger()))
	m, _ := newTestManager(t, false, notifications.WithClock(clock.Now), notifications.WithScheduler(scheduler))

	req := validRequest()
	req.ScheduledFor = start.Add(30 * time.Minute).Format(time.RFC3339)
	req.ExpiresAt = start.Add(time.Hour).Format(time.RFC3339)
	n, err := m.Send(ctx, req)
	require.NoError(t, err)

	count, err := m.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	clock.Advance(2 * time.Hour)

	unread, err := m.GetUnreadCount(ctx, "student-1")
	require.NoError(t, err)
	assert.Zero(t, unread, "expired notifications are not counted")

	count, err = m.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := m.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, notifications.StatusExpired, got.Status)
	assert.Zero(t, scheduler.Len(), "jobs of expired notifications are cancelled")

	count, err = m.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "already expired notifications are skipped")
}

func TestManager_UpdatePreferences(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, _ := newTestManager(t, false)

	prefs, err := m.GetPreferences(ctx, "student-1")
	require.NoError(t, err)
	assert.True(t, prefs.Channels.Email)

	webhook := true
	prefs, err = m.UpdatePreferences(ctx, "student-1", notifications.PreferencesPatch{Webhook: &webhook})
	require.NoError(t, err)
	assert.True(t, prefs.Channels.Webhook)
	assert.True(t, prefs.Channels.Email)

	reloaded, err := m.GetPreferences(ctx, "student-1")
	require.NoError(t, err)
	assert.True(t, reloaded.Channels.Webhook)

	_, err = m.UpdatePreferences(ctx, "", notifications.PreferencesPatch{})
	assert.True(t, notifications.IsValidationError(err))

	bad := notifications.Priority("meh")
	_, err = m.UpdatePreferences(ctx, "student-1", notifications.PreferencesPatch{PriorityThreshold: &bad})
	assert.True(t, notifications.IsValidationError(err))
}

func TestManager_ChannelRouting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	var (
		mu       sync.Mutex
		smsText  string
		push     notifications.PushMessage
		hookURL  string
		payload  notifications.WebhookPayload
		chatURL  string
		chatText string
	)
	senders := notifications.Senders{
		SMS: notifications.SMSSenderFunc(func(_ context.Context, to, text string) error {
			mu.Lock()
			defer mu.Unlock()
			smsText = to + "|" + text
			return nil
		}),
		Push: notifications.PushSenderFunc(func(_ context.Context, msg notifications.PushMessage) error {
			mu.Lock()
			defer mu.Unlock()
			push = msg
			return nil
		}),
		Webhook: notifications.WebhookSenderFunc(func(_ context.Context, url string, p notifications.WebhookPayload) error {
			mu.Lock()
			defer mu.Unlock()
			hookURL, payload = url, p
			return nil
		}),
		Slack: notifications.ChatSenderFunc(func(_ context.Context, url, text string) error {
			mu.Lock()
			defer mu.Unlock()
			chatURL, chatText = url, text
			return nil
		}),
	}
	directory := notifications.NewMemoryDirectory(notifications.Contact{
		UserID:          "student-1",
		Phone:           "+15550001",
		PushToken:       "tok-1",
		WebhookURL:      "https://hooks.school.test/u1",
		SlackWebhookURL: "https://hooks.slack.test/T1",
	})
	m, _ := newTestManager(t, true, notifications.WithSenders(senders), notifications.WithDirectory(directory))

	all := true
	_, err := m.UpdatePreferences(ctx, "student-1", notifications.PreferencesPatch{SMS: &all, Webhook: &all, Slack: &all})
	require.NoError(t, err)

	req := validRequest()
	req.ActionURL = "https://school.test/g/1"
	req.Channels = []notifications.Channel{
		notifications.ChannelSMS, notifications.ChannelPush, notifications.ChannelWebhook, notifications.ChannelSlack,
	}
	n, err := m.Send(ctx, req)
	require.NoError(t, err)
	assert.Len(t, n.Channels, 5)

	waitFor(t, m, n.ID, func(n *notifications.Notification) bool {
		for _, c := range n.Channels {
			if n.State(c).Status != notifications.DeliveryDelivered {
				return false
			}
		}
		return true
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "+15550001|Grade posted: Your algebra test has been graded. https://school.test/g/1", smsText)
	assert.Equal(t, "tok-1", push.Token)
	assert.Equal(t, "Grade posted", push.Title)
	assert.Equal(t, "https://hooks.school.test/u1", hookURL)
	assert.Equal(t, n.ID, payload.NotificationID)
	assert.Equal(t, "notification.grade", payload.Event)
	assert.Equal(t, "https://hooks.slack.test/T1", chatURL)
	assert.Equal(t, "*Grade posted*\nYour algebra test has been graded.\n<https://school.test/g/1|Open>", chatText)
}

func TestManager_MissingRecipientAddress(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	outbox := &emailOutbox{}
	m, _ := newTestManager(t, true,
		notifications.WithSenders(notifications.Senders{Email: outbox}),
		notifications.WithDirectory(notifications.NewMemoryDirectory()),
	)

	req := validRequest()
	req.Channels = []notifications.Channel{notifications.ChannelEmail}
	n, err := m.Send(ctx, req)
	require.NoError(t, err)

	n = waitFor(t, m, n.ID, channelStatus(notifications.ChannelEmail, notifications.DeliveryFailed))
	assert.Contains(t, n.State(notifications.ChannelEmail).Error, notifications.ErrRecipientMissing.Error())
	assert.Zero(t, outbox.calls.Load())
}

func TestManager_List(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newTestClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	m, _ := newTestManager(t, false, notifications.WithClock(clock.Now))

	var ids []string
	for _, typ := range []notifications.Type{notifications.TypeGrade, notifications.TypeFee, notifications.TypeGrade} {
		req := validRequest()
		req.Type = typ
		n, err := m.Send(ctx, req)
		require.NoError(t, err)
		ids = append(ids, n.ID)
		clock.Advance(time.Minute)
	}

	list, err := m.List(ctx, "student-1", notifications.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, ids[2], list[0].ID, "newest first")

	list, err = m.List(ctx, "student-1", notifications.ListOptions{Types: []notifications.Type{notifications.TypeFee}})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ids[1], list[0].ID)

	list, err = m.List(ctx, "student-1", notifications.ListOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ids[1], list[0].ID)
}

func TestManager_StartStop(t *testing.T) {
	t.Parallel()

	m := notifications.NewManager(notifications.NewMemoryStorage(), notifications.WithManagerLogger(discardLogger()))
	require.NoError(t, m.Start(context.Background()))
	require.Error(t, m.Start(context.Background()), "second start fails while running")
	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop(), "stop is idempotent")
}

func TestManager_Run(t *testing.T) {
	t.Parallel()

	m := notifications.NewManager(notifications.NewMemoryStorage(), notifications.WithManagerLogger(discardLogger()))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx)() }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("manager did not stop")
	}
}
