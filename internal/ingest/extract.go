// Extraction and indexing are grounded on worker/jobs/ingest_extract.py and
// worker/jobs/ingest_index.py: a two-stage pipeline chained through
// internal/queue rather than RQ, reading/writing the same document lifecycle
// columns (status, page_count, error_message) the original jobs maintain.
package ingest

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixell07/ragserve/internal/apperr"
	"github.com/pixell07/ragserve/internal/budget"
	"github.com/pixell07/ragserve/internal/queue"
	"github.com/pixell07/ragserve/internal/schemacaps"
)

const maxErrorMessageLen = 2000

type downloader interface {
	Download(ctx context.Context, objectPath string) ([]byte, error)
}

// Pipeline runs the extract and index ingestion stages a worker process
// dequeues jobs for. Schema capability checks run once at construction,
// not per job, since the schema doesn't change mid-process.
type Pipeline struct {
	repo          *repository
	store         downloader
	embedder      embedder
	ledger        ledger
	queue         *queue.Queue
	chunker       *chunker
	allowedStatus map[string]struct{}
	hasPagesTotal bool
}

type embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

type ledger interface {
	Reserve(ctx context.Context, workspaceID uuid.UUID, amount int64) (budget.Reservation, error)
	Commit(ctx context.Context, workspaceID uuid.UUID, amount int64) error
	Release(ctx context.Context, workspaceID uuid.UUID, amount int64) error
}

func NewPipeline(ctx context.Context, db *pgxpool.Pool, store downloader, emb embedder, l ledger, q *queue.Queue) (*Pipeline, error) {
	allowed, err := schemacaps.AllowedStatuses(ctx, db, "documents")
	if err != nil {
		return nil, err
	}
	hasPagesTotal, err := schemacaps.HasColumn(ctx, db, "documents", "pages_total")
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		repo:          newRepository(db),
		store:         store,
		embedder:      emb,
		ledger:        l,
		queue:         q,
		chunker:       newChunker(),
		allowedStatus: allowed,
		hasPagesTotal: hasPagesTotal,
	}, nil
}

func (p *Pipeline) targetStatus(indexed, ready string) string {
	if schemacaps.Allows(p.allowedStatus, indexed) {
		return indexed
	}
	return ready
}

func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > maxErrorMessageLen {
		return msg[:maxErrorMessageLen]
	}
	return msg
}

// Extract moves the document to extracting before downloading the
// uploaded object, parses it into per-page text, replaces any existing
// document_pages rows, and moves the document to indexing before
// enqueuing the index stage. Any failure sets the document to failed
// with a truncated error message, matching ingest_extract.py's except
// blocks.
func (p *Pipeline) Extract(ctx context.Context, job queue.Job) error {
	workspaceID, documentID := job.WorkspaceID, job.DocumentID

	storagePath, err := p.documentStoragePath(ctx, workspaceID, documentID)
	if err != nil {
		return err
	}

	extractingStatus := p.targetStatus("extracting", "indexing")
	if err := p.repo.setStatus(ctx, workspaceID, documentID, extractingStatus, nil); err != nil {
		return err
	}

	data, err := p.store.Download(ctx, storagePath)
	if err != nil {
		_ = p.repo.setStatus(ctx, workspaceID, documentID, "failed", strPtr(truncateError(err)))
		return err
	}

	pages, err := extractPages(data)
	if err != nil {
		_ = p.repo.setStatus(ctx, workspaceID, documentID, "failed", strPtr(truncateError(err)))
		return err
	}

	if err := p.repo.replacePages(ctx, workspaceID, documentID, pages); err != nil {
		_ = p.repo.setStatus(ctx, workspaceID, documentID, "failed", strPtr(truncateError(err)))
		return err
	}

	if err := p.repo.setPageCount(ctx, workspaceID, documentID, len(pages), p.hasPagesTotal); err != nil {
		_ = p.repo.setStatus(ctx, workspaceID, documentID, "failed", strPtr(truncateError(err)))
		return err
	}

	if err := p.queue.Enqueue(ctx, queue.Job{Type: queue.JobIndex, WorkspaceID: workspaceID, DocumentID: documentID}); err != nil {
		_ = p.repo.setStatus(ctx, workspaceID, documentID, "failed", strPtr(truncateError(err)))
		return err
	}
	return nil
}

func (p *Pipeline) documentStoragePath(ctx context.Context, workspaceID, documentID uuid.UUID) (string, error) {
	var path string
	err := p.repo.db.QueryRow(ctx, `SELECT storage_path FROM documents WHERE id = $1 AND workspace_id = $2`,
		documentID, workspaceID).Scan(&path)
	if err != nil {
		return "", apperr.NotFound("document not found")
	}
	return path, nil
}

func strPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
