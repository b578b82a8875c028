package redisqueue

import "time"

// Config holds the scheduler settings loaded from the environment.
type Config struct {
	PollInterval       time.Duration `env:"NOTIFY_QUEUE_POLL_INTERVAL" envDefault:"500ms"`
	BatchSize          int           `env:"NOTIFY_QUEUE_BATCH_SIZE" envDefault:"100"`
	LeaseTimeout       time.Duration `env:"NOTIFY_QUEUE_LEASE_TIMEOUT" envDefault:"5m"`
	MaxConcurrentTasks int           `env:"NOTIFY_QUEUE_MAX_CONCURRENT" envDefault:"10"`
}

// Options converts the config to scheduler options.
func (c Config) Options() []Option {
	return []Option{
		WithPollInterval(c.PollInterval),
		WithBatchSize(c.BatchSize),
		WithLeaseTimeout(c.LeaseTimeout),
		WithMaxConcurrent(c.MaxConcurrentTasks),
	}
}
