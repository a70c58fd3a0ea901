// Package testdb spins up a shared Postgres testcontainer for integration
// tests that need real row locking, not a fake. Grounded on
// codeready-toolchain-tarsy's test/util/database.go: one container per
// test binary, schema applied once, reused across packages via
// sync.Once.
package testdb

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pixell07/ragserve/internal/migrate"
)

var (
	sharedConnStr string
	containerOnce sync.Once
	containerErr  error
)

// Pool returns a pgxpool.Pool against a migrated, shared test database.
// Each call truncates every table first so tests don't see each other's
// rows; call in TestMain or at the top of each test.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	connStr := sharedDatabase(t)

	cfg, err := pgxpool.ParseConfig(connStr)
	require.NoError(t, err)
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	truncateAll(t, pool)
	return pool
}

func sharedDatabase(t *testing.T) string {
	t.Helper()
	containerOnce.Do(func() {
		ctx := context.Background()

		pgContainer, err := postgres.Run(ctx,
			"pgvector/pgvector:pg16",
			postgres.WithDatabase("ragserve_test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("starting postgres testcontainer: %w", err)
			return
		}

		connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			containerErr = fmt.Errorf("reading connection string: %w", err)
			return
		}

		if err := migrate.Up(connStr); err != nil {
			containerErr = fmt.Errorf("applying migrations: %w", err)
			return
		}

		sharedConnStr = connStr
	})

	require.NoError(t, containerErr, "failed to set up shared test container")
	return sharedConnStr
}

var truncateTables = []string{
	"chat_sessions",
	"query_logs",
	"workspace_daily_usage",
	"chunk_embeddings",
	"chunks",
	"document_pages",
	"documents",
	"workspaces",
}

func truncateAll(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	for _, table := range truncateTables {
		_, err := pool.Exec(context.Background(), "TRUNCATE TABLE "+table+" CASCADE")
		require.NoError(t, err)
	}
}
