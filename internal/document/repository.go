package document

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixell07/ragserve/internal/apperr"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func scanDocument(row pgx.Row) (Document, error) {
	var d Document
	err := row.Scan(
		&d.ID, &d.WorkspaceID, &d.Filename, &d.SizeBytes, &d.ContentType, &d.StoragePath,
		&d.Status, &d.PageCount, &d.ErrorMessage, &d.IdempotencyKey, &d.FileHashSHA256,
		&d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

const documentColumns = `
	id, workspace_id, filename, size_bytes, content_type, storage_path,
	status, page_count, error_message, idempotency_key, file_hash_sha256,
	created_at, updated_at`

// Insert creates a new document row in pending_upload. Returns
// inserted=false when a concurrent request already won the
// (workspace_id, idempotency_key) unique index; callers resolve the race
// by re-fetching via GetByIdempotencyKey.
func (r *Repository) Insert(ctx context.Context, d Document) (inserted bool, err error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO documents (id, workspace_id, filename, size_bytes, content_type, storage_path, status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (workspace_id, idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING`,
		d.ID, d.WorkspaceID, d.Filename, d.SizeBytes, d.ContentType, d.StoragePath, d.Status, d.IdempotencyKey)
	if err != nil {
		return false, fmt.Errorf("document: inserting: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) GetByID(ctx context.Context, workspaceID, id uuid.UUID) (Document, error) {
	row := r.db.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE workspace_id = $1 AND id = $2`,
		workspaceID, id)
	d, err := scanDocument(row)
	if err == pgx.ErrNoRows {
		return Document{}, apperr.NotFound("document not found")
	}
	if err != nil {
		return Document{}, apperr.Internal("loading document", err)
	}
	return d, nil
}

func (r *Repository) GetByIdempotencyKey(ctx context.Context, workspaceID uuid.UUID, key string) (Document, bool, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+documentColumns+` FROM documents WHERE workspace_id = $1 AND idempotency_key = $2`,
		workspaceID, key)
	d, err := scanDocument(row)
	if err == pgx.ErrNoRows {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, apperr.Internal("loading document by idempotency key", err)
	}
	return d, true, nil
}

type ListFilter struct {
	Status *string
	Limit  int
	Offset int
}

func (r *Repository) List(ctx context.Context, workspaceID uuid.UUID, f ListFilter) ([]Document, int, error) {
	var total int
	if f.Status != nil {
		if err := r.db.QueryRow(ctx, `SELECT count(*) FROM documents WHERE workspace_id = $1 AND status = $2`,
			workspaceID, *f.Status).Scan(&total); err != nil {
			return nil, 0, apperr.Internal("counting documents", err)
		}
	} else {
		if err := r.db.QueryRow(ctx, `SELECT count(*) FROM documents WHERE workspace_id = $1`,
			workspaceID).Scan(&total); err != nil {
			return nil, 0, apperr.Internal("counting documents", err)
		}
	}

	var rows pgx.Rows
	var err error
	if f.Status != nil {
		rows, err = r.db.Query(ctx, `
			SELECT `+documentColumns+` FROM documents
			WHERE workspace_id = $1 AND status = $2
			ORDER BY created_at DESC
			LIMIT $3 OFFSET $4`, workspaceID, *f.Status, f.Limit, f.Offset)
	} else {
		rows, err = r.db.Query(ctx, `
			SELECT `+documentColumns+` FROM documents
			WHERE workspace_id = $1
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3`, workspaceID, f.Limit, f.Offset)
	}
	if err != nil {
		return nil, 0, apperr.Internal("listing documents", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, apperr.Internal("scanning document", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Internal("iterating documents", err)
	}
	return docs, total, nil
}

// CountForWorkspace backs the per-workspace document count cap check in
// upload-prepare.
func (r *Repository) CountForWorkspace(ctx context.Context, workspaceID uuid.UUID) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM documents WHERE workspace_id = $1`, workspaceID).Scan(&n); err != nil {
		return 0, apperr.Internal("counting workspace documents", err)
	}
	return n, nil
}

// CompareAndSwapStatus updates status (and optional fields) only if the
// row's current status is one of from. Returns false, nil if no row
// matched (caller treats as a 409 state-transition conflict).
func (r *Repository) CompareAndSwapStatus(ctx context.Context, id uuid.UUID, from []Status, to Status, pageCount *int, errorMessage *string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE documents
		SET status = $1, page_count = COALESCE($2, page_count), error_message = $3, updated_at = now()
		WHERE id = $4 AND status = ANY($5)`,
		to, pageCount, errorMessage, id, statusStrings(from))
	if err != nil {
		return false, apperr.Internal("updating document status", err)
	}
	return tag.RowsAffected() > 0, nil
}

func statusStrings(ss []Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func (r *Repository) Delete(ctx context.Context, workspaceID, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM documents WHERE workspace_id = $1 AND id = $2`, workspaceID, id)
	if err != nil {
		return apperr.Internal("deleting document", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("document not found")
	}
	return nil
}

func (r *Repository) HasPages(ctx context.Context, documentID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM document_pages WHERE document_id = $1)`, documentID).Scan(&exists)
	if err != nil {
		return false, apperr.Internal("checking for pages", err)
	}
	return exists, nil
}

func (r *Repository) WipeChunksAndEmbeddings(ctx context.Context, documentID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM chunk_embeddings WHERE document_id = $1`, documentID); err != nil {
		return apperr.Internal("wiping chunk embeddings", err)
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return apperr.Internal("wiping chunks", err)
	}
	return nil
}

func (r *Repository) Progress(ctx context.Context, documentID uuid.UUID) (Progress, error) {
	var p Progress
	err := r.db.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM document_pages WHERE document_id = $1),
			(SELECT count(*) FROM document_pages WHERE document_id = $1 AND content <> ''),
			(SELECT count(*) FROM chunks WHERE document_id = $1),
			(SELECT count(*) FROM chunk_embeddings WHERE document_id = $1)`,
		documentID).Scan(&p.PagesTotal, &p.PagesExtractedCount, &p.ChunksCount, &p.EmbeddingsCount)
	if err != nil {
		return Progress{}, apperr.Internal("computing document progress", err)
	}
	return p, nil
}

func (r *Repository) GetPage(ctx context.Context, workspaceID, documentID uuid.UUID, pageNumber int) (string, error) {
	var content string
	err := r.db.QueryRow(ctx, `
		SELECT content FROM document_pages
		WHERE workspace_id = $1 AND document_id = $2 AND page_number = $3`,
		workspaceID, documentID, pageNumber).Scan(&content)
	if err == pgx.ErrNoRows {
		return "", apperr.NotFound("page not found")
	}
	if err != nil {
		return "", apperr.Internal("loading page", err)
	}
	return content, nil
}
