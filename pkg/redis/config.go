package redis

import "time"

// Config describes the Redis connection shared by the job scheduler and the event bus.
type Config struct {
	ConnectionURL  string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"` // e.g. "redis://:password@localhost:6379/0"
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
	KeyPrefix      string        `env:"REDIS_KEY_PREFIX" envDefault:"schoolkit"` // Namespace for every key the service writes.
}

// Key joins parts under the configured prefix: Key("jobs", "due") -> "schoolkit:jobs:due".
func (c Config) Key(parts ...string) string {
	key := c.KeyPrefix
	for _, p := range parts {
		if key == "" {
			key = p
			continue
		}
		key += ":" + p
	}
	return key
}
