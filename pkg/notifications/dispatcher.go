package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/schoolkit/pkg/email"
	"github.com/dmitrymomot/schoolkit/pkg/logger"
)

// errStaleAttempt aborts a storage update whose attempt is no longer current:
// the notification expired, the channel already settled, or the attempt ran before.
var errStaleAttempt = errors.New("stale delivery attempt")

// EmailRenderer produces the HTML body for the email channel.
type EmailRenderer func(ctx context.Context, n *Notification) (string, error)

// Dispatcher fans a notification out to its channels and owns the
// per-channel retry state machine.
type Dispatcher struct {
	senders   Senders
	directory Directory
	storage   Storage
	scheduler Scheduler
	events    *EventNotifier
	policy    RetryPolicy
	render    EmailRenderer
	now       func() time.Time
	logger    *slog.Logger

	mu       sync.Mutex
	inflight map[attemptKey]struct{}
}

// attemptKey identifies one delivery attempt on one channel.
type attemptKey struct {
	id      string
	channel Channel
	attempt int
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger for the Dispatcher.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// WithDispatcherClock overrides the time source.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// WithEmailRenderer replaces the default HTML layout for the email channel.
func WithEmailRenderer(r EmailRenderer) DispatcherOption {
	return func(d *Dispatcher) {
		if r != nil {
			d.render = r
		}
	}
}

// NewDispatcher wires a dispatcher. Retries are scheduled on scheduler.
func NewDispatcher(storage Storage, scheduler Scheduler, events *EventNotifier, senders Senders, directory Directory, policy RetryPolicy, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		senders:   senders,
		directory: directory,
		storage:   storage,
		scheduler: scheduler,
		events:    events,
		policy:    policy.withDefaults(),
		render:    renderEmailHTML,
		now:       time.Now,
		logger:    slog.Default(),
		inflight:  make(map[attemptKey]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver runs the first attempt on every channel concurrently and returns
// once each has an outcome. Channel failures are recorded, not returned;
// only storage errors surface.
func (d *Dispatcher) Deliver(ctx context.Context, n *Notification, channels []Channel) error {
	var g errgroup.Group
	for _, c := range channels {
		g.Go(func() error {
			return d.attempt(ctx, n, c, 1)
		})
	}
	return g.Wait()
}

// Retry runs a scheduled retry job.
func (d *Dispatcher) Retry(ctx context.Context, job Job) error {
	n, err := d.storage.Get(ctx, job.NotificationID)
	if errors.Is(err, ErrNotificationNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load notification for retry: %w", err)
	}
	return d.attempt(ctx, n, job.Channel, job.Attempt)
}

// attempt performs delivery attempt number attempt on channel c.
func (d *Dispatcher) attempt(ctx context.Context, n *Notification, c Channel, attempt int) error {
	log := d.logger.With(logger.NotificationID(n.ID), logger.Channel(c), logger.Attempt(attempt))

	release, ok := d.claim(attemptKey{id: n.ID, channel: c, attempt: attempt})
	if !ok {
		log.LogAttrs(ctx, slog.LevelDebug, "Delivery attempt already running")
		return nil
	}
	defer release()

	if c == ChannelInApp {
		updated, err := d.transition(ctx, n.ID, c, attempt, DeliveryDelivered, nil)
		if err != nil {
			return d.settleErr(ctx, log, err)
		}
		d.events.Publish(ctx, Event{Kind: EventDelivered, Notification: updated, Channel: c, At: d.now()})
		return nil
	}

	sending, err := d.transition(ctx, n.ID, c, attempt, DeliverySent, nil)
	if err != nil {
		return d.settleErr(ctx, log, err)
	}
	d.events.Publish(ctx, Event{Kind: EventSent, Notification: sending, Channel: c, At: d.now()})

	start := time.Now()
	sendErr := d.send(ctx, sending, c)
	if sendErr == nil {
		updated, err := d.transition(ctx, n.ID, c, attempt, DeliveryDelivered, nil)
		if err != nil {
			return d.settleErr(ctx, log, err)
		}
		log.LogAttrs(ctx, slog.LevelDebug, "Channel delivered", logger.Duration(time.Since(start)))
		d.events.Publish(ctx, Event{Kind: EventDelivered, Notification: updated, Channel: c, At: d.now()})
		return nil
	}

	return d.onFailure(ctx, log, sending, &ChannelDeliveryError{Channel: c, Attempt: attempt, Err: sendErr})
}

// claim reserves an attempt for this process. A second caller for the same
// attempt is turned away until the first releases it.
func (d *Dispatcher) claim(key attemptKey) (release func(), ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inflight[key]; busy {
		return nil, false
	}
	d.inflight[key] = struct{}{}
	return func() {
		d.mu.Lock()
		delete(d.inflight, key)
		d.mu.Unlock()
	}, true
}

// transition moves channel c to status for attempt and recomputes the overall status.
func (d *Dispatcher) transition(ctx context.Context, id string, c Channel, attempt int, status DeliveryStatus, cause error) (*Notification, error) {
	now := d.now()
	return d.storage.Update(ctx, id, func(n *Notification) error {
		st := n.State(c)
		if st == nil {
			return fmt.Errorf("channel %s is not effective for notification %s: %w", c, id, errStaleAttempt)
		}
		if n.Status == StatusExpired || st.Status == DeliveryDelivered || st.Status == DeliveryFailed {
			return errStaleAttempt
		}

		switch status {
		case DeliverySent:
			// A channel left sent by this attempt was abandoned mid-send: the
			// queue only redelivers a job once its holder's lease ran out.
			// Anything older or already settled for this attempt is a duplicate.
			if st.Attempts > attempt || (st.Attempts == attempt && st.Status != DeliverySent) {
				return errStaleAttempt
			}
			if n.IsExpired(now) {
				return errStaleAttempt
			}
			st.Attempts = attempt
			st.LastAttempt = &now
		case DeliveryDelivered:
			st.Attempts = max(st.Attempts, attempt)
			st.LastAttempt = &now
			st.Error = ""
		case DeliveryPending, DeliveryFailed:
			if cause != nil {
				st.Error = cause.Error()
			}
		}
		st.Status = status
		n.UpdatedAt = now
		n.recomputeStatus(now)
		return nil
	})
}

func (d *Dispatcher) settleErr(ctx context.Context, log *slog.Logger, err error) error {
	if errors.Is(err, errStaleAttempt) || errors.Is(err, ErrNotificationNotFound) {
		log.LogAttrs(ctx, slog.LevelDebug, "Skipping delivery attempt", logger.Error(err))
		return nil
	}
	return fmt.Errorf("failed to update delivery state: %w", err)
}

// send invokes the external capability for c. Every channel kind must be handled here.
func (d *Dispatcher) send(ctx context.Context, n *Notification, c Channel) error {
	var contact Contact
	if d.directory != nil && c != ChannelInApp {
		var err error
		if contact, err = d.directory.Contact(ctx, n.UserID); err != nil {
			return fmt.Errorf("failed to look up recipient: %w", err)
		}
	}

	switch c {
	case ChannelInApp:
		return nil

	case ChannelEmail:
		if d.senders.Email == nil {
			return ErrSenderNotConfigured
		}
		if contact.Email == "" {
			return ErrRecipientMissing
		}
		html, err := d.render(ctx, n)
		if err != nil {
			return fmt.Errorf("failed to render email: %w", err)
		}
		return d.senders.Email.SendEmail(ctx, contact.Email, n.Title, html)

	case ChannelSMS:
		if d.senders.SMS == nil {
			return ErrSenderNotConfigured
		}
		if contact.Phone == "" {
			return ErrRecipientMissing
		}
		return d.senders.SMS.SendSMS(ctx, contact.Phone, plainText(n))

	case ChannelPush:
		if d.senders.Push == nil {
			return ErrSenderNotConfigured
		}
		return d.senders.Push.SendPush(ctx, PushMessage{
			UserID: n.UserID,
			Token:  contact.PushToken,
			Title:  n.Title,
			Body:   n.Message,
			URL:    n.ActionURL,
			Data:   n.Data,
		})

	case ChannelWebhook:
		if d.senders.Webhook == nil {
			return ErrSenderNotConfigured
		}
		if contact.WebhookURL == "" {
			return ErrRecipientMissing
		}
		return d.senders.Webhook.DeliverWebhook(ctx, contact.WebhookURL, webhookPayload(n))

	case ChannelSlack:
		if d.senders.Slack == nil {
			return ErrSenderNotConfigured
		}
		if contact.SlackWebhookURL == "" {
			return ErrRecipientMissing
		}
		return d.senders.Slack.DeliverChat(ctx, contact.SlackWebhookURL, chatText(n))
	}

	return fmt.Errorf("unsupported channel %q", c)
}

func plainText(n *Notification) string {
	text := n.Title + ": " + n.Message
	if n.ActionURL != "" {
		text += " " + n.ActionURL
	}
	return text
}

func chatText(n *Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n%s", n.Title, n.Message)
	if n.ActionURL != "" {
		fmt.Fprintf(&b, "\n<%s|Open>", n.ActionURL)
	}
	return b.String()
}

func webhookPayload(n *Notification) WebhookPayload {
	return WebhookPayload{
		Event:          "notification." + string(n.Type),
		NotificationID: n.ID,
		UserID:         n.UserID,
		TenantID:       n.TenantID,
		Type:           n.Type,
		Category:       n.Category,
		Priority:       n.Priority,
		Title:          n.Title,
		Message:        n.Message,
		ActionURL:      n.ActionURL,
		Data:           n.Data,
		CreatedAt:      n.CreatedAt,
	}
}

func renderEmailHTML(ctx context.Context, n *Notification) (string, error) {
	content := email.NotificationContent{
		Title:     n.Title,
		Message:   n.Message,
		ActionURL: n.ActionURL,
		Category:  string(n.Category),
	}
	for _, a := range n.Actions {
		content.Links = append(content.Links, email.Link{Label: a.Label, URL: a.URL})
	}
	return email.Render(ctx, email.NotificationLayout(content))
}
