package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/schoolkit/pkg/notifications"
	"github.com/dmitrymomot/schoolkit/pkg/pg"
)

// DB is the subset of *pgxpool.Pool used by the stores.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Storage keeps notifications in Postgres. Filterable fields are columns; the
// full record is a JSONB document.
type Storage struct {
	db DB
}

var _ notifications.Storage = (*Storage)(nil)

func NewStorage(db DB) *Storage {
	return &Storage{db: db}
}

func (s *Storage) Create(ctx context.Context, n *notifications.Notification) error {
	if n == nil || n.ID == "" || n.UserID == "" {
		return errors.New("notification ID and user ID are required")
	}
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO notifications (id, user_id, tenant_id, type, category, status, is_read, expires_at, created_at, updated_at, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		n.ID, n.UserID, n.TenantID, n.Type, n.Category, n.Status, n.IsRead, n.ExpiresAt, n.CreatedAt, n.UpdatedAt, body,
	)
	if pg.IsDuplicateKeyError(err) {
		return fmt.Errorf("notification %s already exists", n.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

func (s *Storage) Get(ctx context.Context, id string) (*notifications.Notification, error) {
	return scanNotification(s.db.QueryRow(ctx, `SELECT body FROM notifications WHERE id = $1`, id))
}

// Update locks the row for the duration of fn.
func (s *Storage) Update(ctx context.Context, id string, fn func(*notifications.Notification) error) (*notifications.Notification, error) {
	var out *notifications.Notification
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		n, err := scanNotification(tx.QueryRow(ctx, `SELECT body FROM notifications WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if err := fn(n); err != nil {
			return err
		}
		body, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("failed to encode notification: %w", err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE notifications
			SET status = $2, is_read = $3, expires_at = $4, updated_at = $5, body = $6
			WHERE id = $1`,
			id, n.Status, n.IsRead, n.ExpiresAt, n.UpdatedAt, body,
		)
		if err != nil {
			return fmt.Errorf("failed to update notification: %w", err)
		}
		out = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Storage) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notifications.ErrNotificationNotFound
	}
	return nil
}

func (s *Storage) List(ctx context.Context, userID string, opts notifications.ListOptions) ([]*notifications.Notification, error) {
	query, args := listQuery(userID, opts)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []*notifications.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return out, nil
}

func (s *Storage) CountUnread(ctx context.Context, userID string, now time.Time) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM notifications
		WHERE user_id = $1 AND NOT is_read AND (expires_at IS NULL OR expires_at > $2)`,
		userID, now,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

func (s *Storage) ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM notifications
		WHERE expires_at IS NOT NULL AND expires_at <= $1 AND status <> 'expired' AND NOT is_read
		ORDER BY expires_at
		LIMIT NULLIF($2::int, 0)`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired notifications: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to list expired notifications: %w", err)
	}
	return ids, nil
}

// listQuery builds the filtered, paginated listing query.
func listQuery(userID string, opts notifications.ListOptions) (string, []any) {
	var b strings.Builder
	args := []any{userID}
	b.WriteString(`SELECT body FROM notifications WHERE user_id = $1`)

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if opts.OnlyUnread {
		b.WriteString(` AND NOT is_read`)
	}
	if len(opts.Types) > 0 {
		b.WriteString(` AND type = ANY(` + arg(toStrings(opts.Types)) + `)`)
	}
	if len(opts.Categories) > 0 {
		b.WriteString(` AND category = ANY(` + arg(toStrings(opts.Categories)) + `)`)
	}
	if opts.Since != nil {
		b.WriteString(` AND created_at >= ` + arg(*opts.Since))
	}
	b.WriteString(` ORDER BY created_at DESC, id`)
	if opts.Limit > 0 {
		b.WriteString(` LIMIT ` + arg(opts.Limit))
	}
	if opts.Offset > 0 {
		b.WriteString(` OFFSET ` + arg(opts.Offset))
	}
	return b.String(), args
}

func toStrings[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

func scanNotification(row pgx.Row) (*notifications.Notification, error) {
	var body []byte
	if err := row.Scan(&body); err != nil {
		if pg.IsNotFoundError(err) {
			return nil, notifications.ErrNotificationNotFound
		}
		return nil, fmt.Errorf("failed to load notification: %w", err)
	}
	var n notifications.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("failed to decode notification: %w", err)
	}
	return &n, nil
}
