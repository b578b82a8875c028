package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
)

// Message wraps data of type T for type-safe broadcasting.
type Message[T any] struct {
	Data T `json:"data"`
}

// Subscriber receives messages from a Broadcaster.
// Implementations must be safe for concurrent use.
type Subscriber[T any] interface {
	// Receive returns the channel messages arrive on. It is closed when the
	// subscriber is closed.
	Receive(ctx context.Context) <-chan Message[T]

	// Close releases the subscription. It is idempotent.
	Close() error
}

// Broadcaster sends messages to multiple subscribers without blocking on
// slow ones: a subscriber whose buffer is full misses the message.
type Broadcaster[T any] interface {
	// Subscribe registers a subscriber that lives until it is closed or ctx ends.
	Subscribe(ctx context.Context) Subscriber[T]

	// Broadcast delivers msg to every active subscriber.
	Broadcast(ctx context.Context, msg Message[T]) error

	// Close shuts down the broadcaster and closes all subscribers.
	Close() error
}

type subscriber[T any] struct {
	ch      chan Message[T]
	done    chan struct{}
	closed  bool
	dropped atomic.Int64
	onClose func()
	mu      sync.RWMutex
}

func newSubscriber[T any](bufferSize int) *subscriber[T] {
	return &subscriber[T]{
		ch:   make(chan Message[T], bufferSize),
		done: make(chan struct{}),
	}
}

func (s *subscriber[T]) Receive(context.Context) <-chan Message[T] {
	return s.ch
}

func (s *subscriber[T]) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	close(s.done)
	onClose := s.onClose
	s.mu.Unlock()

	if onClose != nil {
		onClose()
	}
	return nil
}

// Dropped returns how many messages this subscriber missed because its buffer was full.
func (s *subscriber[T]) Dropped() int64 {
	return s.dropped.Load()
}

// send delivers msg without blocking. It reports false when the subscriber is
// closed; a full buffer drops the message but keeps the subscriber.
func (s *subscriber[T]) send(msg Message[T]) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}

	select {
	case s.ch <- msg:
	default:
		s.dropped.Add(1)
	}
	return true
}
