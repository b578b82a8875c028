package notifications

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/schoolkit/pkg/broadcast"
	"github.com/dmitrymomot/schoolkit/pkg/logger"
)

// EventKind is a notification lifecycle stage.
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventSent      EventKind = "sent"
	EventDelivered EventKind = "delivered"
	EventRead      EventKind = "read"
	EventFailed    EventKind = "failed"
)

// Event is published on every lifecycle transition. Channel is set for
// per-channel events (sent, delivered, failed).
//
// Err does not survive serialisation: subscribers behind a networked
// broadcaster only see Error and Attempts. Use Failure to read a failed
// event the same way on either side.
type Event struct {
	Kind         EventKind     `json:"kind"`
	Notification *Notification `json:"notification"`
	Channel      Channel       `json:"channel,omitempty"`
	Attempts     int           `json:"attempts,omitempty"`
	Err          error         `json:"-"`
	Error        string        `json:"error,omitempty"`
	At           time.Time     `json:"at"`
}

// Failure returns the terminal failure carried by a failed event, rebuilt
// from the serialised fields when Err was lost in transit.
func (e Event) Failure() (*TerminalChannelFailure, bool) {
	if e.Kind != EventFailed {
		return nil, false
	}
	var terminal *TerminalChannelFailure
	if errors.As(e.Err, &terminal) {
		return terminal, true
	}
	id := ""
	if e.Notification != nil {
		id = e.Notification.ID
	}
	return &TerminalChannelFailure{
		NotificationID: id,
		Channel:        e.Channel,
		Attempts:       e.Attempts,
		Err:            errors.New(e.Error),
	}, true
}

// UserID returns the recipient of the event's notification.
func (e Event) UserID() string {
	if e.Notification == nil {
		return ""
	}
	return e.Notification.UserID
}

// EventNotifier publishes typed lifecycle events. Publishing never waits on
// subscribers; slow subscribers lose events.
type EventNotifier struct {
	broadcaster broadcast.Broadcaster[Event]
	logger      *slog.Logger
}

// NewEventNotifier wraps b. A nil b gets an in-memory broadcaster with bufferSize slots per subscriber.
func NewEventNotifier(b broadcast.Broadcaster[Event], bufferSize int, l *slog.Logger) *EventNotifier {
	if b == nil {
		b = broadcast.NewMemoryBroadcaster[Event](bufferSize)
	}
	if l == nil {
		l = slog.Default()
	}
	return &EventNotifier{broadcaster: b, logger: l}
}

// Publish sends ev to all subscribers. Errors are logged, never returned.
func (e *EventNotifier) Publish(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if ev.Err != nil && ev.Error == "" {
		ev.Error = ev.Err.Error()
	}
	ev.Notification = ev.Notification.Clone()

	if err := e.broadcaster.Broadcast(ctx, broadcast.Message[Event]{Data: ev}); err != nil {
		e.logger.LogAttrs(ctx, slog.LevelWarn, "Failed to publish notification event",
			slog.String("event", string(ev.Kind)),
			logger.UserID(ev.UserID()),
			logger.Error(err),
		)
	}
}

// Subscribe calls fn for every event accepted by filter (nil accepts all)
// until the returned function is called or ctx ends. fn runs on a dedicated
// goroutine, one event at a time.
func (e *EventNotifier) Subscribe(ctx context.Context, filter func(Event) bool, fn func(Event)) (unsubscribe func()) {
	ctx, cancel := context.WithCancel(ctx)
	sub := e.broadcaster.Subscribe(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Receive(ctx):
				if !ok {
					return
				}
				if filter == nil || filter(msg.Data) {
					fn(msg.Data)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			_ = sub.Close()
		})
	}
}

// Close shuts down the underlying broadcaster.
func (e *EventNotifier) Close() error {
	return e.broadcaster.Close()
}
