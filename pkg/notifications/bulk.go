package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/schoolkit/pkg/logger"
)

// DefaultBatchSize is used when BulkOptions.BatchSize is not set.
const DefaultBatchSize = 50

// BulkOptions controls fan-out to many recipients.
// Delay is the pause between batches.
type BulkOptions struct {
	BatchSize int           `json:"batch_size,omitempty"`
	Delay     time.Duration `json:"delay,omitempty"`
}

// BulkError is one recipient's failure.
type BulkError struct {
	UserID string `json:"user_id"`
	Error  string `json:"error"`
}

// BulkResult aggregates a bulk send. Pending counts recipients never attempted
// because the context ended first.
type BulkResult struct {
	Total   int         `json:"total"`
	Success int         `json:"success"`
	Failed  int         `json:"failed"`
	Pending int         `json:"pending"`
	Errors  []BulkError `json:"errors,omitempty"`
}

// SendBulk sends req to every user in userIDs, BatchSize users at a time.
// Sends inside a batch run concurrently; per-user failures are collected in
// the result. An error is returned only when the operation cannot start.
func (m *Manager) SendBulk(ctx context.Context, userIDs []string, req Request, opts BulkOptions) (BulkResult, error) {
	if len(userIDs) == 0 {
		return BulkResult{}, ErrNoRecipients
	}
	if opts.BatchSize < 0 || opts.Delay < 0 {
		return BulkResult{}, &ValidationError{Field: "options", Message: "batch size and delay must not be negative"}
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = m.bulk.BatchSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	probe := req
	probe.UserID = userIDs[0]
	if err := probe.Validate(); err != nil {
		return BulkResult{}, err
	}

	res := BulkResult{Total: len(userIDs)}
	var mu sync.Mutex

	for start := 0; start < len(userIDs); start += opts.BatchSize {
		if ctx.Err() != nil {
			res.Pending = len(userIDs) - start
			break
		}
		end := min(start+opts.BatchSize, len(userIDs))

		var g errgroup.Group
		for _, userID := range userIDs[start:end] {
			g.Go(func() error {
				r := req
				r.UserID = userID
				_, err := m.Send(ctx, r)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					res.Failed++
					res.Errors = append(res.Errors, BulkError{UserID: userID, Error: err.Error()})
					return nil
				}
				res.Success++
				return nil
			})
		}
		_ = g.Wait()

		if end < len(userIDs) && opts.Delay > 0 {
			t := time.NewTimer(opts.Delay)
			select {
			case <-ctx.Done():
				t.Stop()
				res.Pending = len(userIDs) - end
				m.logBulk(ctx, res)
				return res, nil
			case <-t.C:
			}
		}
	}

	m.logBulk(ctx, res)
	return res, nil
}

// Broadcast sends req to every user of req.TenantID known to the directory.
func (m *Manager) Broadcast(ctx context.Context, req Request, opts BulkOptions) (BulkResult, error) {
	if m.directory == nil {
		return BulkResult{}, fmt.Errorf("broadcast requires a directory: %w", ErrNoRecipients)
	}
	userIDs, err := m.directory.ListUserIDs(ctx, req.TenantID)
	if err != nil {
		return BulkResult{}, fmt.Errorf("failed to list recipients: %w", err)
	}
	return m.SendBulk(ctx, userIDs, req, opts)
}

func (m *Manager) logBulk(ctx context.Context, res BulkResult) {
	level := slog.LevelInfo
	if res.Failed > 0 || res.Pending > 0 {
		level = slog.LevelWarn
	}
	m.logger.LogAttrs(ctx, level, "Bulk send finished",
		logger.Component("bulk"),
		slog.Int("total", res.Total),
		slog.Int("success", res.Success),
		slog.Int("failed", res.Failed),
		slog.Int("pending", res.Pending),
	)
}
