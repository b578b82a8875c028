package pg_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/schoolkit/pkg/pg"
)

func TestConnect_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := pg.Connect(context.Background(), pg.Config{})
	require.ErrorIs(t, err, pg.ErrEmptyConnectionString)

	_, err = pg.Connect(context.Background(), pg.Config{ConnectionString: "::not a dsn::"})
	require.ErrorIs(t, err, pg.ErrFailedToParseDBConfig)
}

func TestMigrate_NoFilesystem(t *testing.T) {
	t.Parallel()

	err := pg.Migrate(context.Background(), nil, nil, "migrations", pg.Config{}, nil)
	require.ErrorIs(t, err, pg.ErrMigrationsNotProvided)
}

func TestErrorHelpers(t *testing.T) {
	t.Parallel()

	assert.True(t, pg.IsNotFoundError(fmt.Errorf("load: %w", pgx.ErrNoRows)))
	assert.False(t, pg.IsNotFoundError(nil))

	assert.True(t, pg.IsDuplicateKeyError(&pgconn.PgError{Code: "23505"}))
	assert.False(t, pg.IsDuplicateKeyError(&pgconn.PgError{Code: "23503"}))
	assert.False(t, pg.IsDuplicateKeyError(errors.New("boom")))
}
