package workspace_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixell07/ragserve/internal/apperr"
	"github.com/pixell07/ragserve/internal/budget"
	"github.com/pixell07/ragserve/internal/testdb"
	"github.com/pixell07/ragserve/internal/workspace"
)

func TestCreateThenCreateAgainConflicts(t *testing.T) {
	pool := testdb.Pool(t)
	ctx := context.Background()
	svc := workspace.NewService(pool, budget.NewLedger(pool, 1000))

	owner := uuid.New()
	ws, err := svc.Create(ctx, owner, "acme")
	require.NoError(t, err)
	assert.Equal(t, owner, ws.OwnerID)
	assert.NotEqual(t, uuid.Nil, ws.ID)

	_, err = svc.Create(ctx, owner, "acme again")
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeConflict, ae.Code)
}

func TestGetByOwnerNotFound(t *testing.T) {
	pool := testdb.Pool(t)
	ctx := context.Background()
	svc := workspace.NewService(pool, budget.NewLedger(pool, 1000))

	_, err := svc.GetByOwner(ctx, uuid.New())
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeNotFound, ae.Code)
}

func TestResolveOwnerWorkspaceID(t *testing.T) {
	pool := testdb.Pool(t)
	ctx := context.Background()
	svc := workspace.NewService(pool, budget.NewLedger(pool, 1000))

	owner := uuid.New()
	ws, err := svc.Create(ctx, owner, "acme")
	require.NoError(t, err)

	id, err := svc.ResolveOwnerWorkspaceID(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, ws.ID, id)

	_, err = svc.ResolveOwnerWorkspaceID(ctx, uuid.New())
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeNotFound, ae.Code)
}

func TestGetByOwnerCountsDocumentsByStatus(t *testing.T) {
	pool := testdb.Pool(t)
	ctx := context.Background()
	svc := workspace.NewService(pool, budget.NewLedger(pool, 1000))

	owner := uuid.New()
	ws, err := svc.Create(ctx, owner, "acme")
	require.NoError(t, err)

	for _, status := range []string{"ready", "ready", "indexing"} {
		_, err := pool.Exec(ctx, `
			INSERT INTO documents (id, workspace_id, filename, size_bytes, content_type, storage_path, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.New(), ws.ID, "file.pdf", 1024, "application/pdf", "path/to/file", status)
		require.NoError(t, err)
	}

	summary, err := svc.GetByOwner(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.DocumentCount)
	assert.Equal(t, 2, summary.DocumentsByStatus["ready"])
	assert.Equal(t, 1, summary.DocumentsByStatus["indexing"])
	assert.Equal(t, int64(1000), summary.UsageToday.Limit)
	assert.Equal(t, int64(0), summary.UsageToday.Used)
}
