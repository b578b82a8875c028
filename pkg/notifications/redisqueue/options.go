package redisqueue

import (
	"log/slog"
	"time"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPollInterval sets how often due jobs are claimed. Default is 500ms.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithBatchSize caps how many due jobs one poll claims. Default is 100.
func WithBatchSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithLeaseTimeout sets how long a claimed job may run before another
// instance reclaims it. Default is 5 minutes.
func WithLeaseTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.lease = d
		}
	}
}

// WithMaxConcurrent bounds the number of jobs handled at once. Default is 10.
func WithMaxConcurrent(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.sem = make(chan struct{}, n)
		}
	}
}

// WithKeyPrefix namespaces the Redis keys. Default is "schoolkit:notify".
func WithKeyPrefix(prefix string) Option {
	return func(s *Scheduler) {
		if prefix != "" {
			s.keys = newKeySet(prefix)
		}
	}
}

// WithLogger sets the logger for the Scheduler.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}
