package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBroadcaster delivers messages to subscribers in every process that
// subscribes to the same Redis pub/sub channel. Messages are JSON encoded.
// Delivery is at-most-once; subscribers that are offline miss messages.
type RedisBroadcaster[T any] struct {
	client     redis.UniversalClient
	channel    string
	bufferSize int
	logger     *slog.Logger

	subs   map[*subscriber[T]]*redis.PubSub
	closed bool
	mu     sync.Mutex
}

// RedisOption configures a RedisBroadcaster.
type RedisOption func(*redisOptions)

type redisOptions struct {
	bufferSize int
	logger     *slog.Logger
}

// WithRedisBufferSize sets the per-subscriber buffer. Default 100.
func WithRedisBufferSize(n int) RedisOption {
	return func(o *redisOptions) {
		o.bufferSize = n
	}
}

// WithRedisLogger sets the logger used for decode failures.
func WithRedisLogger(l *slog.Logger) RedisOption {
	return func(o *redisOptions) {
		o.logger = l
	}
}

// NewRedisBroadcaster creates a broadcaster publishing on channel.
func NewRedisBroadcaster[T any](client redis.UniversalClient, channel string, opts ...RedisOption) *RedisBroadcaster[T] {
	o := redisOptions{bufferSize: 100, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisBroadcaster[T]{
		client:     client,
		channel:    channel,
		bufferSize: max(o.bufferSize, 1),
		logger:     o.logger,
		subs:       make(map[*subscriber[T]]*redis.PubSub),
	}
}

// Subscribe opens a Redis subscription feeding a local buffered subscriber.
func (b *RedisBroadcaster[T]) Subscribe(ctx context.Context) Subscriber[T] {
	sub := newSubscriber[T](b.bufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = sub.Close()
		return sub
	}
	ps := b.client.Subscribe(ctx, b.channel)
	b.subs[sub] = ps
	sub.onClose = func() { b.remove(sub) }
	b.mu.Unlock()

	go b.pump(ctx, sub, ps)
	return sub
}

func (b *RedisBroadcaster[T]) pump(ctx context.Context, sub *subscriber[T], ps *redis.PubSub) {
	defer func() { _ = sub.Close() }()

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			var msg Message[T]
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				b.logger.LogAttrs(ctx, slog.LevelWarn, "Dropping undecodable broadcast message",
					slog.String("channel", b.channel),
					slog.Any("error", err),
				)
				continue
			}
			if !sub.send(msg) {
				return
			}
		}
	}
}

// Broadcast publishes msg to the Redis channel.
func (b *RedisBroadcaster[T]) Broadcast(ctx context.Context, msg Message[T]) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.Join(ErrEncode, err)
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Close closes every subscription opened by this broadcaster. The Redis
// client itself is owned by the caller and stays open.
func (b *RedisBroadcaster[T]) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*subscriber[T], 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

func (b *RedisBroadcaster[T]) remove(sub *subscriber[T]) {
	b.mu.Lock()
	ps, ok := b.subs[sub]
	delete(b.subs, sub)
	b.mu.Unlock()

	if ok {
		_ = ps.Close()
	}
}
