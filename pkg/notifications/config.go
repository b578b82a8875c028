package notifications

import "time"

// Config holds engine tuning loaded from the environment.
type Config struct {
	RetryMaxAttempts int           `env:"NOTIFY_RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay   time.Duration `env:"NOTIFY_RETRY_BASE_DELAY" envDefault:"1s"`
	RetryMultiplier  float64       `env:"NOTIFY_RETRY_MULTIPLIER" envDefault:"2"`
	RetryMaxDelay    time.Duration `env:"NOTIFY_RETRY_MAX_DELAY" envDefault:"30s"`
	RetryJitter      float64       `env:"NOTIFY_RETRY_JITTER" envDefault:"0"`

	BulkBatchSize int           `env:"NOTIFY_BULK_BATCH_SIZE" envDefault:"50"`
	BulkDelay     time.Duration `env:"NOTIFY_BULK_DELAY" envDefault:"0s"`

	EventBufferSize     int           `env:"NOTIFY_EVENT_BUFFER" envDefault:"100"`
	ExpirySweepInterval time.Duration `env:"NOTIFY_EXPIRY_SWEEP_INTERVAL" envDefault:"1m"`
	TemplatesFile       string        `env:"NOTIFY_TEMPLATES_FILE"`
}

// RetryPolicy returns the retry settings as a policy.
func (c Config) RetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  c.RetryMaxAttempts,
		BaseDelay:    c.RetryBaseDelay,
		Multiplier:   c.RetryMultiplier,
		MaxDelay:     c.RetryMaxDelay,
		JitterFactor: c.RetryJitter,
	}.withDefaults()
}

// BulkOptions returns the default bulk settings.
func (c Config) BulkOptions() BulkOptions {
	return BulkOptions{BatchSize: c.BulkBatchSize, Delay: c.BulkDelay}
}
