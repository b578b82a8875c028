package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pool and pings it, retrying with a linearly growing pause
// (RetryInterval, 2×RetryInterval, ...) so restarting replicas do not stampede.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.ConnectionString == "" {
		return nil, ErrEmptyConnectionString
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseDBConfig, err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = cfg.MaxOpenConns
	}
	poolCfg.MinConns = cfg.MaxIdleConns
	if cfg.HealthCheckPeriod > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	attempts := max(cfg.RetryAttempts, 1)
	var lastErr error
	for i := range attempts {
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return pool, nil
			}
			pool.Close()
		}
		lastErr = err

		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrFailedToOpenDBConnection, ctx.Err())
		case <-time.After(time.Duration(i+1) * cfg.RetryInterval):
		}
	}

	return nil, errors.Join(ErrFailedToOpenDBConnection, lastErr)
}
