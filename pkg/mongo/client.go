package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// New connects and pings the server, retrying up to cfg.RetryAttempts times.
func New(ctx context.Context, cfg Config) (*mongo.Client, error) {
	if cfg.ConnectionURL == "" {
		return nil, ErrEmptyConnectionURL
	}
	opts := options.Client().
		ApplyURI(cfg.ConnectionURL).
		SetRetryWrites(cfg.RetryWrites).
		SetRetryReads(cfg.RetryReads)
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	opts.SetMinPoolSize(cfg.MinPoolSize)
	if cfg.MaxConnIdleTime > 0 {
		opts.SetMaxConnIdleTime(cfg.MaxConnIdleTime)
	}

	attempts := max(cfg.RetryAttempts, 1)
	var lastErr error
	for i := range attempts {
		client, err := mongo.Connect(opts)
		if err == nil {
			if err = client.Ping(ctx, nil); err == nil {
				return client, nil
			}
			_ = client.Disconnect(context.WithoutCancel(ctx))
		}
		lastErr = err

		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrFailedToConnectToMongo, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}

	return nil, errors.Join(ErrFailedToConnectToMongo, lastErr)
}

// Connect returns the client together with the configured database.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, *mongo.Database, error) {
	client, err := New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Database(cfg.Database), nil
}
