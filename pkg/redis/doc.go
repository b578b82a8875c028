// Package redis connects the service to Redis.
//
// The same client backs the durable job scheduler
// (pkg/notifications/redisqueue) and the cross-instance event bus
// (broadcast.RedisBroadcaster).
//
//	cfg, err := config.Load[redis.Config]()
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
// Connect retries the initial ping. Healthcheck turns the client into a
// readiness probe for the HTTP /healthz endpoint. Config.Key builds keys under
// the configured namespace so several deployments can share one server.
package redis
