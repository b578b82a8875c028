// Package broadcast provides type-safe one-to-many messaging.
//
// Two implementations share the Broadcaster interface: MemoryBroadcaster for a
// single process and RedisBroadcaster, which relays messages through Redis
// pub/sub so that subscribers in every instance receive them.
//
//	b := broadcast.NewMemoryBroadcaster[Event](64)
//	defer b.Close()
//
//	sub := b.Subscribe(ctx)
//	defer sub.Close()
//
//	_ = b.Broadcast(ctx, broadcast.Message[Event]{Data: ev})
//
//	for msg := range sub.Receive(ctx) {
//		handle(msg.Data)
//	}
//
// Broadcast never waits for subscribers. When a subscriber's buffer is full
// the message is dropped for that subscriber only. Subscribers are removed
// when closed or when the context passed to Subscribe ends.
package broadcast
