package budget_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixell07/ragserve/internal/apperr"
	"github.com/pixell07/ragserve/internal/budget"
	"github.com/pixell07/ragserve/internal/testdb"
)

func TestReserveWithinLimitSucceeds(t *testing.T) {
	pool := testdb.Pool(t)
	ctx := context.Background()

	wsID := uuid.New()
	_, err := pool.Exec(ctx, `INSERT INTO workspaces (id, owner_id, name) VALUES ($1, $2, $3)`,
		wsID, uuid.New(), "acme")
	require.NoError(t, err)

	ledger := budget.NewLedger(pool, 1000)

	res, err := ledger.Reserve(ctx, wsID, 400)
	require.NoError(t, err)
	assert.Equal(t, int64(400), res.Reserved)
	assert.Equal(t, int64(600), res.Remaining)
	assert.Equal(t, int64(1000), res.Limit)
}

func TestReserveOverLimitFailsWithBudgetExceeded(t *testing.T) {
	pool := testdb.Pool(t)
	ctx := context.Background()

	wsID := uuid.New()
	_, err := pool.Exec(ctx, `INSERT INTO workspaces (id, owner_id, name) VALUES ($1, $2, $3)`,
		wsID, uuid.New(), "acme")
	require.NoError(t, err)

	ledger := budget.NewLedger(pool, 1000)

	_, err = ledger.Reserve(ctx, wsID, 900)
	require.NoError(t, err)

	_, err = ledger.Reserve(ctx, wsID, 200)
	require.Error(t, err)

	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeBudgetExceeded, ae.Code)
	assert.Equal(t, int64(900), ae.Details["reserved"])
	assert.Equal(t, int64(100), ae.Details["remaining"])
}

func TestCommitMovesReservedToUsed(t *testing.T) {
	pool := testdb.Pool(t)
	ctx := context.Background()

	wsID := uuid.New()
	_, err := pool.Exec(ctx, `INSERT INTO workspaces (id, owner_id, name) VALUES ($1, $2, $3)`,
		wsID, uuid.New(), "acme")
	require.NoError(t, err)

	ledger := budget.NewLedger(pool, 1000)

	_, err = ledger.Reserve(ctx, wsID, 500)
	require.NoError(t, err)

	require.NoError(t, ledger.Commit(ctx, wsID, 300))
	require.NoError(t, ledger.Release(ctx, wsID, 200))

	status, err := ledger.Status(ctx, wsID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), status.Used)
	assert.Equal(t, int64(0), status.Reserved)
	assert.Equal(t, int64(700), status.Remaining)
}

// TestConcurrentReservationsNeverOverspend fires many concurrent reservations
// that individually fit but collectively exceed the daily limit, and asserts
// row locking serializes them so the total ever granted never exceeds it.
func TestConcurrentReservationsNeverOverspend(t *testing.T) {
	pool := testdb.Pool(t)
	ctx := context.Background()

	wsID := uuid.New()
	_, err := pool.Exec(ctx, `INSERT INTO workspaces (id, owner_id, name) VALUES ($1, $2, $3)`,
		wsID, uuid.New(), "acme")
	require.NoError(t, err)

	const limit = 1000
	const perCall = 100
	const attempts = 20 // 20 * 100 = 2000, double the limit

	ledger := budget.NewLedger(pool, limit)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var granted int64

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Reserve(ctx, wsID, perCall); err == nil {
				mu.Lock()
				granted += perCall
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, granted, int64(limit))

	status, err := ledger.Status(ctx, wsID)
	require.NoError(t, err)
	assert.Equal(t, granted, status.Reserved)
}

func TestStatusReportsZeroWhenRowMissing(t *testing.T) {
	pool := testdb.Pool(t)
	ctx := context.Background()

	wsID := uuid.New()
	_, err := pool.Exec(ctx, `INSERT INTO workspaces (id, owner_id, name) VALUES ($1, $2, $3)`,
		wsID, uuid.New(), "acme")
	require.NoError(t, err)

	ledger := budget.NewLedger(pool, 1000)

	status, err := ledger.Status(ctx, wsID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.Used)
	assert.Equal(t, int64(0), status.Reserved)
	assert.Equal(t, int64(1000), status.Remaining)
}
