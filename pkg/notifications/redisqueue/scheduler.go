package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/schoolkit/pkg/logger"
	"github.com/dmitrymomot/schoolkit/pkg/notifications"
)

var _ notifications.Scheduler = (*Scheduler)(nil)

type keySet struct {
	due      string
	inflight string
	payloads string
}

func newKeySet(prefix string) keySet {
	return keySet{
		due:      prefix + ":jobs:due",
		inflight: prefix + ":jobs:inflight",
		payloads: prefix + ":jobs:payload",
	}
}

func (k keySet) all() []string { return []string{k.due, k.inflight, k.payloads} }

// Scheduler is a durable notifications.Scheduler backed by Redis.
//
// Job payloads live in a hash and fire times in a sorted set. Every instance
// polls the sorted set; a Lua script claims due jobs atomically, so each job
// is handed to exactly one instance. A claimed job holds a lease; if the
// instance dies before acknowledging it, the job becomes due again once the
// lease expires. Delivery is at-least-once.
type Scheduler struct {
	client redis.UniversalClient
	keys   keySet
	now    func() time.Time
	logger *slog.Logger

	pollInterval time.Duration
	batchSize    int
	lease        time.Duration
	sem          chan struct{}

	mu       sync.Mutex
	stopMu   sync.Mutex
	stopping atomic.Bool
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a scheduler on client. Call Start to begin handing out jobs;
// Schedule and Cancel work before Start and after Stop.
func New(client redis.UniversalClient, opts ...Option) *Scheduler {
	s := &Scheduler{
		client:       client,
		keys:         newKeySet("schoolkit:notify"),
		now:          time.Now,
		logger:       slog.Default(),
		pollInterval: 500 * time.Millisecond,
		batchSize:    100,
		lease:        5 * time.Minute,
		sem:          make(chan struct{}, 10),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Schedule(ctx context.Context, job notifications.Job, at time.Time) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	key := job.Key()
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.keys.payloads, key, payload)
		p.ZAdd(ctx, s.keys.due, redis.Z{Score: score(at), Member: key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", key, err)
	}
	return nil
}

func (s *Scheduler) Cancel(ctx context.Context, key string) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, s.keys.due, key)
		p.ZRem(ctx, s.keys.inflight, key)
		p.HDel(ctx, s.keys.payloads, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", key, err)
	}
	return nil
}

// Pending returns the fire time of the job held under key.
func (s *Scheduler) Pending(ctx context.Context, key string) (time.Time, bool, error) {
	ms, err := s.client.ZScore(ctx, s.keys.due, key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(int64(ms)), true, nil
}

// Len returns the number of jobs waiting to become due.
func (s *Scheduler) Len(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, s.keys.due).Result()
}

func (s *Scheduler) Start(ctx context.Context, h notifications.JobHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return fmt.Errorf("scheduler already started")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	s.stopping.Store(false)

	go s.run(runCtx, h)

	s.logger.LogAttrs(ctx, slog.LevelInfo, "Job scheduler started",
		logger.Component("redisqueue"),
		slog.Duration("poll_interval", s.pollInterval),
		slog.Int("max_concurrent", cap(s.sem)),
	)
	return nil
}

func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return nil
	}
	s.stopMu.Lock()
	s.stopping.Store(true)
	s.stopMu.Unlock()

	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	<-done
	s.wg.Wait()
	return nil
}

func (s *Scheduler) run(ctx context.Context, h notifications.JobHandler) {
	defer close(s.done)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if err := s.poll(ctx, h); err != nil && ctx.Err() == nil {
			s.logger.LogAttrs(ctx, slog.LevelError, "Failed to poll due jobs",
				logger.Component("redisqueue"),
				logger.Error(err),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll returns expired leases to the due set, then claims and runs due jobs.
func (s *Scheduler) poll(ctx context.Context, h notifications.JobHandler) error {
	now := s.now()
	if n, err := reclaimScript.Run(ctx, s.client, s.keys.all(), now.UnixMilli()).Int(); err != nil {
		return fmt.Errorf("failed to reclaim expired leases: %w", err)
	} else if n > 0 {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "Reclaimed jobs with expired lease",
			logger.Component("redisqueue"),
			slog.Int("count", n),
		)
	}

	free := cap(s.sem) - len(s.sem)
	if free <= 0 {
		return nil
	}
	limit := min(free, s.batchSize)

	res, err := claimScript.Run(ctx, s.client, s.keys.all(),
		now.UnixMilli(), limit, now.Add(s.lease).UnixMilli()).StringSlice()
	if err != nil {
		return fmt.Errorf("failed to claim due jobs: %w", err)
	}

	for i := 0; i+1 < len(res); i += 2 {
		key, payload := res[i], res[i+1]
		var job notifications.Job
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			s.logger.LogAttrs(ctx, slog.LevelError, "Dropping undecodable job",
				logger.Component("redisqueue"),
				logger.JobKey(key),
				logger.Error(err),
			)
			s.ack(ctx, key)
			continue
		}
		if !s.dispatch(ctx, key, job, h) {
			return nil
		}
	}
	return nil
}

// dispatch runs the job in its own goroutine. It reports false once the
// scheduler is stopping; the claimed job then waits out its lease.
func (s *Scheduler) dispatch(ctx context.Context, key string, job notifications.Job, h notifications.JobHandler) bool {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return false
	}

	s.stopMu.Lock()
	if s.stopping.Load() {
		s.stopMu.Unlock()
		<-s.sem
		return false
	}
	s.wg.Add(1)
	s.stopMu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() { <-s.sem }()
		s.handle(key, job, h)
	}()
	return true
}

func (s *Scheduler) handle(key string, job notifications.Job, h notifications.JobHandler) {
	// Handlers outlive Stop so in-flight deliveries finish; the lease bounds them.
	ctx, cancel := context.WithTimeout(context.Background(), s.lease)
	defer cancel()

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in job handler: %v", r)
			}
		}()
		return h(ctx, job)
	}()

	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	s.logger.LogAttrs(ctx, level, "Scheduled job handled",
		logger.Component("redisqueue"),
		logger.JobKey(key),
		logger.NotificationID(job.NotificationID),
		logger.Duration(time.Since(start)),
		logger.Error(err),
	)
	s.ack(ctx, key)
}

func (s *Scheduler) ack(ctx context.Context, key string) {
	if err := ackScript.Run(ctx, s.client, s.keys.all(), key).Err(); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "Failed to acknowledge job",
			logger.Component("redisqueue"),
			logger.JobKey(key),
			logger.Error(err),
		)
	}
}

// score encodes a fire time as sorted-set score (unix milliseconds).
func score(at time.Time) float64 {
	return float64(at.UnixMilli())
}
