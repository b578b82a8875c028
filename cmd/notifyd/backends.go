package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/dmitrymomot/schoolkit/pkg/broadcast"
	"github.com/dmitrymomot/schoolkit/pkg/config"
	"github.com/dmitrymomot/schoolkit/pkg/httpserver"
	"github.com/dmitrymomot/schoolkit/pkg/logger"
	"github.com/dmitrymomot/schoolkit/pkg/mongo"
	"github.com/dmitrymomot/schoolkit/pkg/notifications"
	"github.com/dmitrymomot/schoolkit/pkg/notifications/mongostore"
	"github.com/dmitrymomot/schoolkit/pkg/notifications/pgstore"
	"github.com/dmitrymomot/schoolkit/pkg/notifications/redisqueue"
	"github.com/dmitrymomot/schoolkit/pkg/pg"
	"github.com/dmitrymomot/schoolkit/pkg/redis"
)

// backends holds the stores and infrastructure selected by appConfig.
// Nil scheduler or events leave the engine's in-memory defaults in place.
type backends struct {
	storage   notifications.Storage
	prefs     notifications.PreferencesStore
	templates notifications.TemplateStore
	scheduler notifications.Scheduler
	events    broadcast.Broadcaster[notifications.Event]
	checks    []httpserver.Check

	pool  *pgxpool.Pool
	rdb   *goredis.Client
	mongo *mongodriver.Client
}

func newBackends(ctx context.Context, cfg appConfig, log *slog.Logger) (*backends, error) {
	b := &backends{}
	if err := b.open(ctx, cfg, log); err != nil {
		b.close(log)
		return nil, err
	}
	return b, nil
}

func (b *backends) open(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	switch cfg.Store {
	case "memory":
		b.storage = notifications.NewMemoryStorage()
	case "postgres":
		if err := b.connectPostgres(ctx, log); err != nil {
			return err
		}
		b.storage = pgstore.NewStorage(b.pool)
	default:
		return fmt.Errorf("unknown NOTIFY_STORE %q", cfg.Store)
	}

	switch cfg.documentStore() {
	case "memory":
		b.prefs = notifications.NewMemoryPreferencesStore()
		b.templates = notifications.NewMemoryTemplateStore()
	case "postgres":
		if b.pool == nil {
			if err := b.connectPostgres(ctx, log); err != nil {
				return err
			}
		}
		b.prefs = pgstore.NewPreferencesStore(b.pool)
		b.templates = pgstore.NewTemplateStore(b.pool)
	case "mongo":
		if err := b.connectMongo(ctx); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown NOTIFY_DOCUMENT_STORE %q", cfg.documentStore())
	}

	if cfg.needsRedis() {
		if err := b.connectRedis(ctx, cfg, log); err != nil {
			return err
		}
	}
	return nil
}

func (b *backends) connectPostgres(ctx context.Context, log *slog.Logger) error {
	var cfg pg.Config
	if err := config.Load(&cfg); err != nil {
		return fmt.Errorf("failed to load postgres config: %w", err)
	}
	pool, err := pg.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	b.pool = pool
	if err := pg.Migrate(ctx, pool, pgstore.Migrations, pgstore.MigrationsDir, cfg, log); err != nil {
		return err
	}
	b.checks = append(b.checks, httpserver.Check{Name: "postgres", Probe: pg.Healthcheck(pool)})
	return nil
}

func (b *backends) connectMongo(ctx context.Context) error {
	var cfg mongo.Config
	if err := config.Load(&cfg); err != nil {
		return fmt.Errorf("failed to load mongo config: %w", err)
	}
	client, db, err := mongo.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	b.mongo = client

	prefs := mongostore.NewPreferencesStore(db)
	templates := mongostore.NewTemplateStore(db)
	if err := errors.Join(prefs.EnsureIndexes(ctx), templates.EnsureIndexes(ctx)); err != nil {
		return fmt.Errorf("failed to create mongo indexes: %w", err)
	}
	b.prefs, b.templates = prefs, templates
	b.checks = append(b.checks, httpserver.Check{Name: "mongo", Probe: mongo.Healthcheck(client)})
	return nil
}

func (b *backends) connectRedis(ctx context.Context, app appConfig, log *slog.Logger) error {
	var (
		cfg      redis.Config
		queueCfg redisqueue.Config
	)
	if err := errors.Join(config.Load(&cfg), config.Load(&queueCfg)); err != nil {
		return fmt.Errorf("failed to load redis config: %w", err)
	}
	client, err := redis.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	b.rdb = client
	b.checks = append(b.checks, httpserver.Check{Name: "redis", Probe: redis.Healthcheck(client)})

	if app.Scheduler == "redis" {
		opts := append(queueCfg.Options(),
			redisqueue.WithKeyPrefix(cfg.Key("notify")),
			redisqueue.WithLogger(log),
		)
		b.scheduler = redisqueue.New(client, opts...)
	}
	if app.Events == "redis" {
		b.events = broadcast.NewRedisBroadcaster[notifications.Event](client, cfg.Key(app.EventsChannel),
			broadcast.WithRedisLogger(log),
		)
	}
	return nil
}

// close releases connections. The manager closes the event broadcaster.
func (b *backends) close(log *slog.Logger) {
	ctx := context.Background()
	if b.rdb != nil {
		if err := b.rdb.Close(); err != nil {
			log.LogAttrs(ctx, slog.LevelWarn, "Failed to close redis client", logger.Error(err))
		}
	}
	if b.mongo != nil {
		if err := b.mongo.Disconnect(ctx); err != nil {
			log.LogAttrs(ctx, slog.LevelWarn, "Failed to disconnect mongo", logger.Error(err))
		}
	}
	if b.pool != nil {
		b.pool.Close()
	}
}
