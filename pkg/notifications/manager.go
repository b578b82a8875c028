package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/schoolkit/pkg/broadcast"
	"github.com/dmitrymomot/schoolkit/pkg/logger"
)

// Manager is the notification engine: it validates requests, resolves
// channels against preferences, schedules and dispatches deliveries and
// exposes read state.
type Manager struct {
	storage   Storage
	prefs     PreferencesStore
	templates TemplateStore
	directory Directory
	scheduler Scheduler
	senders   Senders

	resolver   *Resolver
	dispatcher *Dispatcher
	events     *EventNotifier

	policy        RetryPolicy
	bulk          BulkOptions
	broadcaster   broadcast.Broadcaster[Event]
	eventBuffer   int
	sweepInterval time.Duration
	renderer      EmailRenderer

	now    func() time.Time
	logger *slog.Logger

	wg      sync.WaitGroup
	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger for the Manager and its components.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithPreferencesStore sets where user preferences live. Defaults to memory.
func WithPreferencesStore(s PreferencesStore) ManagerOption {
	return func(m *Manager) {
		m.prefs = s
	}
}

// WithTemplateStore sets where templates live. Defaults to memory.
func WithTemplateStore(s TemplateStore) ManagerOption {
	return func(m *Manager) {
		m.templates = s
	}
}

// WithDirectory sets the recipient directory used for addresses and broadcasts.
func WithDirectory(d Directory) ManagerOption {
	return func(m *Manager) {
		m.directory = d
	}
}

// WithScheduler sets the deferred-job scheduler. Defaults to a MemoryScheduler.
func WithScheduler(s Scheduler) ManagerOption {
	return func(m *Manager) {
		m.scheduler = s
	}
}

// WithSenders sets the external channel capabilities.
func WithSenders(s Senders) ManagerOption {
	return func(m *Manager) {
		m.senders = s
	}
}

// WithRetryPolicy overrides the per-channel retry policy.
func WithRetryPolicy(p RetryPolicy) ManagerOption {
	return func(m *Manager) {
		m.policy = p
	}
}

// WithBulkDefaults sets the batch size and delay used when a bulk call leaves them unset.
func WithBulkDefaults(o BulkOptions) ManagerOption {
	return func(m *Manager) {
		m.bulk = o
	}
}

// WithEventBroadcaster publishes lifecycle events through b instead of an in-memory broadcaster.
func WithEventBroadcaster(b broadcast.Broadcaster[Event]) ManagerOption {
	return func(m *Manager) {
		m.broadcaster = b
	}
}

// WithExpirySweep runs ExpireStale every interval while the manager is started. Zero disables it.
func WithExpirySweep(interval time.Duration) ManagerOption {
	return func(m *Manager) {
		m.sweepInterval = interval
	}
}

// WithManagerEmailRenderer replaces the email HTML layout.
func WithManagerEmailRenderer(r EmailRenderer) ManagerOption {
	return func(m *Manager) {
		m.renderer = r
	}
}

// WithClock overrides the time source of the manager and its components.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// WithConfig applies retry, bulk, event and sweep settings from cfg.
func WithConfig(cfg Config) ManagerOption {
	return func(m *Manager) {
		m.policy = cfg.RetryPolicy()
		m.bulk = cfg.BulkOptions()
		m.eventBuffer = cfg.EventBufferSize
		m.sweepInterval = cfg.ExpirySweepInterval
	}
}

// NewManager creates a new notification engine over storage.
func NewManager(storage Storage, opts ...ManagerOption) *Manager {
	m := &Manager{
		storage:     storage,
		policy:      DefaultRetryPolicy(),
		bulk:        BulkOptions{BatchSize: DefaultBatchSize},
		eventBuffer: 100,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.prefs == nil {
		m.prefs = NewMemoryPreferencesStore()
	}
	if m.templates == nil {
		m.templates = NewMemoryTemplateStore()
	}
	if m.scheduler == nil {
		m.scheduler = NewMemoryScheduler(WithMemorySchedulerLogger(m.logger))
	}

	m.events = NewEventNotifier(m.broadcaster, m.eventBuffer, m.logger)
	m.resolver = NewResolver(m.prefs,
		WithResolverLogger(m.logger),
		WithResolverClock(m.now),
	)
	m.dispatcher = NewDispatcher(m.storage, m.scheduler, m.events, m.senders, m.directory, m.policy,
		WithDispatcherLogger(m.logger),
		WithDispatcherClock(m.now),
		WithEmailRenderer(m.renderer),
	)
	return m
}

// Start begins firing scheduled dispatches and retries.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return errors.New("notification manager already started")
	}
	if err := m.scheduler.Start(ctx, m.handleJob); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	m.started = true

	if m.sweepInterval > 0 {
		m.wg.Add(1)
		go m.sweep(ctx)
	}

	m.logger.LogAttrs(ctx, slog.LevelInfo, "Notification manager started",
		slog.Int("max_attempts", m.policy.MaxAttempts),
		slog.Duration("expiry_sweep", m.sweepInterval),
	)
	return nil
}

// Stop halts the scheduler and waits for in-flight dispatches.
func (m *Manager) Stop() error {
	m.mu.Lock()
	started, cancel := m.started, m.cancel
	m.started = false
	m.cancel = nil
	m.mu.Unlock()

	var err error
	if started {
		cancel()
		err = m.scheduler.Stop()
	}
	m.wg.Wait()
	return errors.Join(err, m.events.Close())
}

// Run starts the manager and stops it when ctx ends. Suitable for errgroup.
func (m *Manager) Run(ctx context.Context) func() error {
	return func() error {
		if err := m.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return m.Stop()
	}
}

// Send validates req, resolves the effective channels and stores the
// notification. Delivery happens asynchronously: immediately, or at
// ScheduledFor, pushed past the recipient's quiet hours unless the priority
// is critical or urgent. Validation and storage errors return no
// notification. When the deferred dispatch cannot be scheduled, the stored
// notification is returned with the error so the caller can Reschedule it
// instead of sending again. Deferred dispatches and channel retries are held
// by the scheduler and only run once the manager is started.
func (m *Manager) Send(ctx context.Context, req Request) (*Notification, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	scheduledFor, expiresAt, err := req.Times()
	if err != nil {
		return nil, err
	}

	plan, err := m.resolver.Plan(ctx, req.UserID, req.Channels, req.Category, req.Priority)
	if err != nil {
		return nil, err
	}

	now := m.now()
	fireAt := now
	if scheduledFor != nil && scheduledFor.After(now) {
		fireAt = *scheduledFor
	}
	fireAt = plan.FireTime(fireAt)

	n := &Notification{
		ID:                uuid.NewString(),
		UserID:            req.UserID,
		TenantID:          req.TenantID,
		Title:             req.Title,
		Message:           req.Message,
		ActionURL:         req.ActionURL,
		Attachments:       slices.Clone(req.Attachments),
		Actions:           slices.Clone(req.Actions),
		Data:              maps.Clone(req.Data),
		Type:              req.Type,
		Category:          req.Category,
		Priority:          req.Priority,
		RequestedChannels: slices.Clone(req.Channels),
		Channels:          plan.Channels,
		Delivery:          make(map[Channel]*ChannelState, len(plan.Channels)),
		Status:            StatusPending,
		ExpiresAt:         expiresAt,
		TemplateID:        req.TemplateID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	for _, c := range plan.Channels {
		n.Delivery[c] = &ChannelState{Status: DeliveryPending}
	}
	deferred := fireAt.After(now)
	if deferred {
		n.ScheduledFor = &fireAt
	}

	if err := m.storage.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to store notification: %w", err)
	}
	m.events.Publish(ctx, Event{Kind: EventCreated, Notification: n, At: now})

	if deferred {
		if err := m.scheduler.Schedule(ctx, DispatchJob(n.ID), fireAt); err != nil {
			return n.Clone(), fmt.Errorf("failed to schedule notification %s: %w", n.ID, err)
		}
		m.logger.LogAttrs(ctx, slog.LevelDebug, "Notification scheduled",
			logger.NotificationID(n.ID),
			logger.UserID(n.UserID),
			slog.Time("scheduled_for", fireAt),
		)
	} else {
		m.dispatchAsync(ctx, n.ID)
	}

	return n.Clone(), nil
}

// SendFromTemplate renders an active template with data and sends it to userID.
func (m *Manager) SendFromTemplate(ctx context.Context, templateID, userID string, data map[string]any) (*Notification, error) {
	tpl, err := m.templates.Get(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load template %s: %w", templateID, err)
	}
	if !tpl.Active {
		return nil, ErrTemplateInactive
	}
	return m.Send(ctx, tpl.Request(userID, data))
}

// Get returns a notification by id.
func (m *Manager) Get(ctx context.Context, id string) (*Notification, error) {
	return m.storage.Get(ctx, id)
}

// List returns a user's notifications, newest first.
func (m *Manager) List(ctx context.Context, userID string, opts ListOptions) ([]*Notification, error) {
	return m.storage.List(ctx, userID, opts)
}

// MarkAsRead marks a notification as read. Repeated calls return the same
// read notification without error and publish a single read event.
func (m *Manager) MarkAsRead(ctx context.Context, id string) (*Notification, error) {
	changed := false
	n, err := m.storage.Update(ctx, id, func(n *Notification) error {
		changed = n.MarkAsRead(m.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		m.events.Publish(ctx, Event{Kind: EventRead, Notification: n, At: *n.ReadAt})
	}
	return n, nil
}

// MarkAllAsRead marks every unread notification of userID as read and returns how many changed.
func (m *Manager) MarkAllAsRead(ctx context.Context, userID string) (int, error) {
	unread, err := m.storage.List(ctx, userID, ListOptions{OnlyUnread: true})
	if err != nil {
		return 0, err
	}
	var errs []error
	count := 0
	for _, n := range unread {
		if _, err := m.MarkAsRead(ctx, n.ID); err != nil {
			if !errors.Is(err, ErrNotificationNotFound) {
				errs = append(errs, err)
			}
			continue
		}
		count++
	}
	return count, errors.Join(errs...)
}

// GetUnreadCount returns the number of unread, unexpired notifications of userID.
func (m *Manager) GetUnreadCount(ctx context.Context, userID string) (int, error) {
	return m.storage.CountUnread(ctx, userID, m.now())
}

// Delete removes a notification and cancels its pending dispatch and retries.
func (m *Manager) Delete(ctx context.Context, id string) error {
	n, err := m.storage.Get(ctx, id)
	if err != nil {
		return err
	}
	m.cancelJobs(ctx, n)
	return m.storage.Delete(ctx, id)
}

// Reschedule moves a not yet dispatched notification to at. A time in the
// past means now. Quiet hours apply as they do in Send, so the result may
// be later than at.
func (m *Manager) Reschedule(ctx context.Context, id string, at time.Time) (*Notification, error) {
	cur, err := m.storage.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	prefs, err := m.resolver.Preferences(ctx, cur.UserID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	fireAt := FireTime(prefs, cur.Priority, maxTime(at, now))
	n, err := m.storage.Update(ctx, id, func(n *Notification) error {
		if n.DispatchedAt != nil {
			return ErrAlreadyDispatched
		}
		if n.Status == StatusExpired || n.IsExpired(now) {
			return ErrNotificationExpired
		}
		if fireAt.After(now) {
			n.ScheduledFor = &fireAt
		} else {
			n.ScheduledFor = nil
		}
		n.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if n.ScheduledFor == nil {
		_ = m.scheduler.Cancel(ctx, DispatchJob(id).Key())
		m.dispatchAsync(ctx, id)
		return n, nil
	}
	if err := m.scheduler.Schedule(ctx, DispatchJob(id), fireAt); err != nil {
		return n, fmt.Errorf("failed to reschedule notification %s: %w", id, err)
	}
	return n, nil
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// ExpireStale marks notifications past their expiry as expired and cancels
// their jobs. It returns how many were expired.
func (m *Manager) ExpireStale(ctx context.Context) (int, error) {
	now := m.now()
	ids, err := m.storage.ListExpired(ctx, now, 500)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired notifications: %w", err)
	}

	count := 0
	for _, id := range ids {
		n, err := m.storage.Update(ctx, id, func(n *Notification) error {
			if n.IsRead || n.Status == StatusExpired {
				return errStaleAttempt
			}
			n.Status = StatusExpired
			n.UpdatedAt = now
			return nil
		})
		if err != nil {
			if !errors.Is(err, errStaleAttempt) && !errors.Is(err, ErrNotificationNotFound) {
				m.logger.LogAttrs(ctx, slog.LevelError, "Failed to expire notification",
					logger.NotificationID(id),
					logger.Error(err),
				)
			}
			continue
		}
		m.cancelJobs(ctx, n)
		count++
	}
	return count, nil
}

// GetPreferences returns the user's preferences, creating defaults on first use.
func (m *Manager) GetPreferences(ctx context.Context, userID string) (Preferences, error) {
	return m.resolver.Preferences(ctx, userID)
}

// UpdatePreferences applies patch to the user's preferences. Notifications
// already created keep their effective channels.
func (m *Manager) UpdatePreferences(ctx context.Context, userID string, patch PreferencesPatch) (Preferences, error) {
	if userID == "" {
		return Preferences{}, &ValidationError{Field: "user_id", Message: "is required"}
	}
	if err := patch.Validate(); err != nil {
		return Preferences{}, err
	}
	prefs, err := m.resolver.Preferences(ctx, userID)
	if err != nil {
		return Preferences{}, err
	}
	prefs = patch.Apply(prefs, m.now())
	prefs.UserID = userID
	if err := m.prefs.Save(ctx, prefs); err != nil {
		return Preferences{}, fmt.Errorf("failed to save preferences: %w", err)
	}
	return prefs, nil
}

// Subscribe calls fn for every newly created notification of userID, or of
// all users when userID is empty. Call the returned function to stop.
func (m *Manager) Subscribe(ctx context.Context, userID string, fn func(*Notification)) (unsubscribe func()) {
	return m.events.Subscribe(ctx,
		func(ev Event) bool {
			return ev.Kind == EventCreated && (userID == "" || ev.UserID() == userID)
		},
		func(ev Event) { fn(ev.Notification) },
	)
}

// SubscribeEvents calls fn for every lifecycle event of userID (all users when empty).
func (m *Manager) SubscribeEvents(ctx context.Context, userID string, fn func(Event)) (unsubscribe func()) {
	return m.events.Subscribe(ctx,
		func(ev Event) bool { return userID == "" || ev.UserID() == userID },
		fn,
	)
}

// SaveTemplate validates and stores a template.
func (m *Manager) SaveTemplate(ctx context.Context, tpl Template) (Template, error) {
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	if err := tpl.Validate(); err != nil {
		return Template{}, err
	}
	now := m.now()
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = now
	}
	tpl.UpdatedAt = now
	if err := m.templates.Save(ctx, tpl); err != nil {
		return Template{}, fmt.Errorf("failed to save template: %w", err)
	}
	return tpl, nil
}

// ListTemplates returns templates visible to tenantID.
func (m *Manager) ListTemplates(ctx context.Context, tenantID string) ([]Template, error) {
	return m.templates.List(ctx, tenantID)
}

func (m *Manager) handleJob(ctx context.Context, job Job) error {
	switch job.Kind {
	case JobDispatch:
		return m.dispatch(ctx, job.NotificationID)
	case JobRetry:
		return m.dispatcher.Retry(ctx, job)
	}
	return fmt.Errorf("unknown job kind %q", job.Kind)
}

func (m *Manager) dispatchAsync(ctx context.Context, id string) {
	ctx = context.WithoutCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.dispatch(ctx, id); err != nil {
			m.logger.LogAttrs(ctx, slog.LevelError, "Failed to dispatch notification",
				logger.NotificationID(id),
				logger.Error(err),
			)
		}
	}()
}

// dispatch marks the notification dispatched and fans it out. Deleted and
// expired notifications are skipped. A dispatch job seen again after the
// mark resumes delivery: channels that already settled are left alone by
// the dispatcher, the rest are attempted.
func (m *Manager) dispatch(ctx context.Context, id string) error {
	now := m.now()
	resumed := false
	n, err := m.storage.Update(ctx, id, func(n *Notification) error {
		resumed = false
		if n.Status == StatusExpired || n.IsExpired(now) {
			return errStaleAttempt
		}
		if n.DispatchedAt != nil {
			resumed = true
			return nil
		}
		n.DispatchedAt = &now
		return nil
	})
	switch {
	case errors.Is(err, ErrNotificationNotFound),
		errors.Is(err, errStaleAttempt):
		m.logger.LogAttrs(ctx, slog.LevelDebug, "Skipping dispatch",
			logger.NotificationID(id),
			logger.Error(err),
		)
		return nil
	case err != nil:
		return fmt.Errorf("failed to claim notification for dispatch: %w", err)
	}
	if resumed {
		m.logger.LogAttrs(ctx, slog.LevelInfo, "Resuming interrupted dispatch", logger.NotificationID(id))
	}

	return m.dispatcher.Deliver(ctx, n, n.Channels)
}

func (m *Manager) cancelJobs(ctx context.Context, n *Notification) {
	for _, key := range JobKeys(n.ID, n.Channels) {
		if err := m.scheduler.Cancel(ctx, key); err != nil {
			m.logger.LogAttrs(ctx, slog.LevelWarn, "Failed to cancel job",
				logger.JobKey(key),
				logger.Error(err),
			)
		}
	}
}

func (m *Manager) sweep(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := m.ExpireStale(ctx)
			if err != nil {
				m.logger.LogAttrs(ctx, slog.LevelError, "Expiry sweep failed", logger.Error(err))
				continue
			}
			if count > 0 {
				m.logger.LogAttrs(ctx, slog.LevelInfo, "Expired stale notifications", slog.Int("count", count))
			}
		}
	}
}
