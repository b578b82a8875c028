// Package pg connects to Postgres with pgx and applies goose migrations.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//	if err := pg.Migrate(ctx, pool, pgstore.Migrations, pgstore.MigrationsDir, cfg, log); err != nil {
//		return err
//	}
//
// Error helpers classify driver errors without importing pgconn at call sites.
package pg
