package pg

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Migrate applies the goose migrations found in dir of fsys. Packages ship
// their schema as an embed.FS and pass it here at startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS, dir string, cfg Config, log *slog.Logger) error {
	if fsys == nil {
		return errors.Join(ErrFailedToApplyMigrations, ErrMigrationsNotProvided)
	}
	if log == nil {
		log = slog.Default()
	}

	// goose speaks database/sql; share the pool's connections.
	db := stdlib.OpenDBFromPool(pool)
	defer func() {
		if err := db.Close(); err != nil {
			log.ErrorContext(ctx, "Failed to close migration connection", "error", err)
		}
	}()

	goose.SetBaseFS(fsys)
	goose.SetLogger(gooseLogger{log: log})
	if cfg.MigrationsTable != "" {
		goose.SetTableName(cfg.MigrationsTable)
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}
	return nil
}

type gooseLogger struct {
	log *slog.Logger
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	g.log.Error(fmt.Sprintf(format, v...), "component", "goose")
}

func (g gooseLogger) Printf(format string, v ...any) {
	g.log.Info(fmt.Sprintf(format, v...), "component", "goose")
}
