package ingest

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/pixell07/ragserve/internal/apperr"
)

type repository struct {
	db *pgxpool.Pool
}

func newRepository(db *pgxpool.Pool) *repository {
	return &repository{db: db}
}

func (r *repository) setStatus(ctx context.Context, workspaceID, documentID uuid.UUID, status string, errorMessage *string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE documents
		SET status = $1, error_message = $2, updated_at = now()
		WHERE id = $3 AND workspace_id = $4`,
		status, errorMessage, documentID, workspaceID)
	if err != nil {
		return apperr.Internal("updating document status", err)
	}
	return nil
}

func (r *repository) getStatus(ctx context.Context, workspaceID, documentID uuid.UUID) (string, error) {
	var status string
	err := r.db.QueryRow(ctx, `SELECT status FROM documents WHERE id = $1 AND workspace_id = $2`,
		documentID, workspaceID).Scan(&status)
	if err == pgx.ErrNoRows {
		return "", apperr.NotFound("document not found")
	}
	if err != nil {
		return "", apperr.Internal("loading document status", err)
	}
	return status, nil
}

// replacePages deletes any existing pages for documentID then inserts
// one row per entry in pages (index 0 = page_number 1), matching
// ingest_extract's delete-then-insert idempotency.
func (r *repository) replacePages(ctx context.Context, workspaceID, documentID uuid.UUID, pages []string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return apperr.Internal("beginning page replace transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM document_pages WHERE workspace_id = $1 AND document_id = $2`,
		workspaceID, documentID); err != nil {
		return apperr.Internal("deleting existing pages", err)
	}

	for i, content := range pages {
		if _, err := tx.Exec(ctx, `
			INSERT INTO document_pages (workspace_id, document_id, page_number, content)
			VALUES ($1, $2, $3, $4)`,
			workspaceID, documentID, i+1, content); err != nil {
			return apperr.Internal("inserting page", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Internal("committing page replace", err)
	}
	return nil
}

func (r *repository) setPageCount(ctx context.Context, workspaceID, documentID uuid.UUID, pageCount int, hasPagesTotal bool) error {
	if hasPagesTotal {
		_, err := r.db.Exec(ctx, `
			UPDATE documents
			SET page_count = $1, pages_total = $1, status = 'indexing', error_message = NULL, updated_at = now()
			WHERE id = $2 AND workspace_id = $3`,
			pageCount, documentID, workspaceID)
		if err != nil {
			return apperr.Internal("updating page count", err)
		}
		return nil
	}
	_, err := r.db.Exec(ctx, `
		UPDATE documents
		SET page_count = $1, status = 'indexing', error_message = NULL, updated_at = now()
		WHERE id = $2 AND workspace_id = $3`,
		pageCount, documentID, workspaceID)
	if err != nil {
		return apperr.Internal("updating page count", err)
	}
	return nil
}

type pageRow struct {
	PageNumber int
	Content    string
}

func (r *repository) listPages(ctx context.Context, workspaceID, documentID uuid.UUID) ([]pageRow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT page_number, content FROM document_pages
		WHERE workspace_id = $1 AND document_id = $2
		ORDER BY page_number ASC`, workspaceID, documentID)
	if err != nil {
		return nil, apperr.Internal("listing pages", err)
	}
	defer rows.Close()

	var out []pageRow
	for rows.Next() {
		var p pageRow
		if err := rows.Scan(&p.PageNumber, &p.Content); err != nil {
			return nil, apperr.Internal("scanning page", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repository) wipeChunksAndEmbeddings(ctx context.Context, workspaceID, documentID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM chunk_embeddings WHERE workspace_id = $1 AND document_id = $2`,
		workspaceID, documentID); err != nil {
		return apperr.Internal("wiping chunk embeddings", err)
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM chunks WHERE workspace_id = $1 AND document_id = $2`,
		workspaceID, documentID); err != nil {
		return apperr.Internal("wiping chunks", err)
	}
	return nil
}

type chunkRow struct {
	ID          uuid.UUID
	PageStart   int
	PageEnd     int
	ChunkIndex  int
	Content     string
	ContentHash string
	TokenCount  int
}

func (r *repository) insertChunks(ctx context.Context, workspaceID, documentID uuid.UUID, chunks []chunkRow) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return apperr.Internal("beginning chunk insert transaction", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range chunks {
		if _, err := tx.Exec(ctx, `
			INSERT INTO chunks (id, workspace_id, document_id, page_start, page_end, chunk_index, content, content_hash, token_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			c.ID, workspaceID, documentID, c.PageStart, c.PageEnd, c.ChunkIndex, c.Content, c.ContentHash, c.TokenCount); err != nil {
			return apperr.Internal("inserting chunk", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Internal("committing chunk insert", err)
	}
	return nil
}

func (r *repository) insertEmbedding(ctx context.Context, workspaceID, documentID, chunkID uuid.UUID, embedding []float32, model string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO chunk_embeddings (chunk_id, workspace_id, document_id, embedding, embedding_model)
		VALUES ($1, $2, $3, $4, $5)`,
		chunkID, workspaceID, documentID, pgvector.NewVector(embedding), model)
	if err != nil {
		return apperr.Internal("inserting chunk embedding", err)
	}
	return nil
}
