// Package redisqueue is a durable notifications.Scheduler on Redis.
//
// Deferred dispatches and channel retries survive restarts and are shared by
// every instance of the service:
//
//	client, _ := redis.Connect(ctx, redisCfg)
//	sched := redisqueue.New(client, redisqueue.WithKeyPrefix(redisCfg.Key("notify")))
//	mgr := notifications.NewManager(store, notifications.WithScheduler(sched))
//
// Keys: <prefix>:jobs:payload (hash of job JSON), <prefix>:jobs:due (sorted
// set by fire time) and <prefix>:jobs:inflight (sorted set by lease deadline).
//
// Tests run against a real server when REDIS_TEST_URL is set.
package redisqueue
