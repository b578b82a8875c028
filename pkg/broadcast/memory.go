package broadcast

import (
	"context"
	"sync"
)

// MemoryBroadcaster fans messages out inside one process.
// All methods are safe for concurrent use.
type MemoryBroadcaster[T any] struct {
	subscribers map[*subscriber[T]]struct{}
	bufferSize  int
	closed      bool
	mu          sync.RWMutex
}

// NewMemoryBroadcaster creates a new in-memory broadcaster with bufferSize
// slots per subscriber (minimum 1).
func NewMemoryBroadcaster[T any](bufferSize int) *MemoryBroadcaster[T] {
	return &MemoryBroadcaster[T]{
		subscribers: make(map[*subscriber[T]]struct{}),
		bufferSize:  max(bufferSize, 1),
	}
}

// Subscribe creates a new subscriber. If the broadcaster is already closed,
// the returned subscriber is closed too.
func (b *MemoryBroadcaster[T]) Subscribe(ctx context.Context) Subscriber[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newSubscriber[T](b.bufferSize)
	if b.closed {
		_ = sub.Close()
		return sub
	}

	b.subscribers[sub] = struct{}{}
	sub.onClose = func() { b.remove(sub) }

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				_ = sub.Close()
			case <-sub.done:
			}
		}()
	}

	return sub
}

// Broadcast sends msg to all active subscribers and never blocks.
func (b *MemoryBroadcaster[T]) Broadcast(_ context.Context, msg Message[T]) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	for sub := range b.subscribers {
		sub.send(msg)
	}
	return nil
}

// Len returns the number of active subscribers.
func (b *MemoryBroadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close shuts down the broadcaster and closes all subscribers.
// It is safe to call Close multiple times.
func (b *MemoryBroadcaster[T]) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*subscriber[T], 0, len(b.subscribers))
	for sub := range b.subscribers {
		subs = append(subs, sub)
	}
	clear(b.subscribers)
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

func (b *MemoryBroadcaster[T]) remove(sub *subscriber[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, sub)
}
