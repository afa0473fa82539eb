package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/tendant/mangashelf/pkg/mangashelf/repo/postgres"
)

// newTestPool connects to TEST_DATABASE_URL and applies migrations. Tests
// are skipped when the variable is unset or in short mode.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping database test in short mode")
	}
	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, connString)
	require.NoError(t, err, "Failed to connect to test database")
	t.Cleanup(pool.Close)

	require.NoError(t, pool.Ping(ctx), "Failed to ping test database")
	require.NoError(t, postgres.MigratePool(ctx, pool))
	return pool
}

func truncate(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), "TRUNCATE records")
	require.NoError(t, err, "Failed to truncate records table")
}
