// Package workspace implements the single-workspace-per-owner creation
// and summary lookup the API exposes at /workspaces and /workspaces/me.
// Grounded on the original's server/app/api/workspaces.py: same
// one-workspace-per-owner conflict check, same status-count aggregation.
// Neither Create nor GetByOwner writes a usage row; the budget ledger
// creates it on the first reservation of the day.
package workspace

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixell07/ragserve/internal/apperr"
	"github.com/pixell07/ragserve/internal/budget"
)

type Workspace struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Name      string
	CreatedAt time.Time
}

// Summary is the /workspaces/me payload: workspace plus document counts
// by status plus today's budget snapshot.
type Summary struct {
	Workspace         Workspace
	DocumentCount     int
	DocumentsByStatus map[string]int
	UsageToday        apperr.BudgetSnapshot
}

type Service struct {
	db     *pgxpool.Pool
	ledger *budget.Ledger
}

func NewService(db *pgxpool.Pool, ledger *budget.Ledger) *Service {
	return &Service{db: db, ledger: ledger}
}

// Create inserts a new workspace for ownerID, rejecting a second one per
// owner (409), matching create_workspace's existing_workspace check.
func (s *Service) Create(ctx context.Context, ownerID uuid.UUID, name string) (Workspace, error) {
	var existing uuid.UUID
	err := s.db.QueryRow(ctx, `SELECT id FROM workspaces WHERE owner_id = $1 LIMIT 1`, ownerID).Scan(&existing)
	if err == nil {
		return Workspace{}, apperr.Conflict("user already has a workspace").WithDetails(map[string]any{
			"workspace_id": existing.String(),
		})
	}
	if err != pgx.ErrNoRows {
		return Workspace{}, apperr.Internal("checking for existing workspace", err)
	}

	ws := Workspace{ID: uuid.New(), OwnerID: ownerID, Name: name, CreatedAt: time.Now().UTC()}
	_, err = s.db.Exec(ctx, `
		INSERT INTO workspaces (id, owner_id, name, created_at) VALUES ($1, $2, $3, $4)`,
		ws.ID, ws.OwnerID, ws.Name, ws.CreatedAt)
	if err != nil {
		return Workspace{}, apperr.Internal("creating workspace", err)
	}
	return ws, nil
}

// ResolveOwnerWorkspaceID returns just the workspace id for ownerID, the
// lightweight lookup every workspace-scoped route needs before touching
// its own resource tables — cheaper than GetByOwner's full summary.
func (s *Service) ResolveOwnerWorkspaceID(ctx context.Context, ownerID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.db.QueryRow(ctx, `SELECT id FROM workspaces WHERE owner_id = $1 LIMIT 1`, ownerID).Scan(&id)
	if err == pgx.ErrNoRows {
		return uuid.UUID{}, apperr.NotFound("workspace not found")
	}
	if err != nil {
		return uuid.UUID{}, apperr.Internal("resolving workspace by owner", err)
	}
	return id, nil
}

// GetByOwner returns the owner's workspace summary and delegates the
// remaining/resets_at math to the ledger's lock-free Status read. It does
// not create today's usage row; Status reports zero usage while that row
// does not exist yet.
func (s *Service) GetByOwner(ctx context.Context, ownerID uuid.UUID) (Summary, error) {
	var ws Workspace
	err := s.db.QueryRow(ctx, `
		SELECT id, owner_id, name, created_at FROM workspaces WHERE owner_id = $1 LIMIT 1`,
		ownerID).Scan(&ws.ID, &ws.OwnerID, &ws.Name, &ws.CreatedAt)
	if err == pgx.ErrNoRows {
		return Summary{}, apperr.NotFound("workspace not found")
	}
	if err != nil {
		return Summary{}, apperr.Internal("loading workspace", err)
	}

	var docCount int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM documents WHERE workspace_id = $1`, ws.ID).Scan(&docCount); err != nil {
		return Summary{}, apperr.Internal("counting documents", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT status, count(*) FROM documents WHERE workspace_id = $1 GROUP BY status`, ws.ID)
	if err != nil {
		return Summary{}, apperr.Internal("counting documents by status", err)
	}
	byStatus := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return Summary{}, apperr.Internal("scanning status counts", err)
		}
		byStatus[status] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Summary{}, apperr.Internal("iterating status counts", err)
	}

	usage, err := s.ledger.Status(ctx, ws.ID)
	if err != nil {
		return Summary{}, err
	}

	return Summary{
		Workspace:         ws,
		DocumentCount:     docCount,
		DocumentsByStatus: byStatus,
		UsageToday:        usage,
	}, nil
}
