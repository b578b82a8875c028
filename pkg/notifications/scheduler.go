package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/schoolkit/pkg/logger"
)

// JobKind distinguishes deferred dispatch from channel retries.
type JobKind string

const (
	JobDispatch JobKind = "dispatch"
	JobRetry    JobKind = "retry"
)

// Job is a unit of deferred work held by a Scheduler.
type Job struct {
	Kind           JobKind `json:"kind"`
	NotificationID string  `json:"notification_id"`
	Channel        Channel `json:"channel,omitempty"`
	Attempt        int     `json:"attempt,omitempty"`
}

// Key identifies the job. Scheduling a job whose key is already held replaces it.
func (j Job) Key() string {
	if j.Kind == JobRetry {
		return fmt.Sprintf("%s:%s:%s", JobRetry, j.NotificationID, j.Channel)
	}
	return fmt.Sprintf("%s:%s", JobDispatch, j.NotificationID)
}

// DispatchJob returns the deferred-dispatch job for a notification.
func DispatchJob(notificationID string) Job {
	return Job{Kind: JobDispatch, NotificationID: notificationID}
}

// RetryJob returns the job that runs attempt number attempt on channel c.
func RetryJob(notificationID string, c Channel, attempt int) Job {
	return Job{Kind: JobRetry, NotificationID: notificationID, Channel: c, Attempt: attempt}
}

// JobKeys returns every key that may be held for a notification with the given channels.
func JobKeys(notificationID string, channels []Channel) []string {
	keys := make([]string, 0, len(channels)+1)
	keys = append(keys, DispatchJob(notificationID).Key())
	for _, c := range channels {
		keys = append(keys, RetryJob(notificationID, c, 0).Key())
	}
	return keys
}

// JobHandler runs a job when it becomes due.
type JobHandler func(ctx context.Context, job Job) error

// Scheduler holds jobs until their fire time and hands them to a JobHandler.
type Scheduler interface {
	// Schedule registers job to run at at. Past times run as soon as possible.
	Schedule(ctx context.Context, job Job, at time.Time) error

	// Cancel drops a pending job. Cancelling an unknown key is not an error.
	Cancel(ctx context.Context, key string) error

	// Start begins handing due jobs to h. It does not block.
	Start(ctx context.Context, h JobHandler) error

	// Stop halts the scheduler and waits for running handlers.
	Stop() error
}

// MemoryScheduler keeps pending jobs in process memory as timers.
// Jobs are lost on restart; use it for single-instance deployments and tests.
type MemoryScheduler struct {
	entries map[string]*timerEntry
	handler JobHandler
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
	mu      sync.Mutex
	logger  *slog.Logger
}

type timerEntry struct {
	job   Job
	at    time.Time
	timer *time.Timer
}

// MemorySchedulerOption configures a MemoryScheduler.
type MemorySchedulerOption func(*MemoryScheduler)

// WithMemorySchedulerLogger sets the logger for the MemoryScheduler.
func WithMemorySchedulerLogger(l *slog.Logger) MemorySchedulerOption {
	return func(s *MemoryScheduler) {
		s.logger = l
	}
}

// NewMemoryScheduler creates an in-process scheduler.
func NewMemoryScheduler(opts ...MemorySchedulerOption) *MemoryScheduler {
	s := &MemoryScheduler{
		entries: make(map[string]*timerEntry),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryScheduler) Schedule(ctx context.Context, job Job, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}

	key := job.Key()
	if prev, ok := s.entries[key]; ok && prev.timer != nil {
		prev.timer.Stop()
	}
	e := &timerEntry{job: job, at: at}
	s.entries[key] = e
	if s.handler == nil {
		s.logger.LogAttrs(ctx, slog.LevelDebug, "Job held until the scheduler starts",
			logger.JobKey(key),
			slog.Time("run_at", at),
		)
		return nil
	}
	s.arm(key, e)
	return nil
}

func (s *MemoryScheduler) Cancel(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, key)
	}
	return nil
}

func (s *MemoryScheduler) Start(ctx context.Context, h JobHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}
	if s.handler != nil {
		return fmt.Errorf("scheduler already started")
	}

	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.handler = h
	for key, e := range s.entries {
		s.arm(key, e)
	}
	return nil
}

func (s *MemoryScheduler) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	for _, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// Pending returns the fire time of the job held under key.
func (s *MemoryScheduler) Pending(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return time.Time{}, false
	}
	return e.at, true
}

// Len returns the number of pending jobs.
func (s *MemoryScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// arm must be called with s.mu held.
func (s *MemoryScheduler) arm(key string, e *timerEntry) {
	e.timer = time.AfterFunc(time.Until(e.at), func() {
		s.fire(key, e)
	})
}

func (s *MemoryScheduler) fire(key string, e *timerEntry) {
	s.mu.Lock()
	if s.stopped || s.entries[key] != e {
		s.mu.Unlock()
		return
	}
	delete(s.entries, key)
	ctx, h := s.ctx, s.handler
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	if err := h(ctx, e.job); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "Scheduled job failed",
			logger.JobKey(key),
			logger.NotificationID(e.job.NotificationID),
			logger.Error(err),
		)
	}
}
