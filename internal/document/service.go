package document

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pixell07/ragserve/internal/apperr"
	"github.com/pixell07/ragserve/internal/queue"
	"github.com/pixell07/ragserve/internal/ratelimit"
	"github.com/pixell07/ragserve/internal/textutil"
)

const rateLimitOpUploadPrepare = "documents_upload_prepare"
const uploadPrepareLimit = int64(10)

// objectStore is the subset of internal/storage.Store the lifecycle
// controller needs, kept as an interface so tests can substitute a fake
// without standing up real MinIO — the same seam internal/embedding
// already uses for its OpenAI client.
type objectStore interface {
	Bucket() string
	PresignedUploadURL(ctx context.Context, objectPath string, expires time.Duration) (string, error)
	Exists(ctx context.Context, objectPath string) (bool, error)
	Delete(ctx context.Context, objectPath string) error
}

type Service struct {
	repo         *Repository
	store        objectStore
	queue        *queue.Queue
	limiter      *ratelimit.Limiter
	maxFileSize  int64
	maxDocsPerWS int
	allowedTypes map[string]struct{}
	urlExpires   time.Duration
}

func NewService(repo *Repository, store objectStore, q *queue.Queue, limiter *ratelimit.Limiter,
	maxFileSizeBytes int64, maxDocumentsPerWorkspace int, allowedContentTypes []string, uploadURLExpires time.Duration) *Service {

	allowed := make(map[string]struct{}, len(allowedContentTypes))
	for _, t := range allowedContentTypes {
		allowed[t] = struct{}{}
	}
	return &Service{
		repo:         repo,
		store:        store,
		queue:        q,
		limiter:      limiter,
		maxFileSize:  maxFileSizeBytes,
		maxDocsPerWS: maxDocumentsPerWorkspace,
		allowedTypes: allowed,
		urlExpires:   uploadURLExpires,
	}
}

type UploadPrepareRequest struct {
	Filename       string
	ContentType    string
	FileSizeBytes  int64
	IdempotencyKey *string
}

type UploadPrepareResult struct {
	Document  Document
	UploadURL string
	ExpiresIn int
}

// UploadPrepare implements spec.md §4.6's upload-prepare contract:
// rate limit, validation, idempotency resolution, filename sanitization,
// storage-path computation, row creation, and presigned-URL issuance.
func (s *Service) UploadPrepare(ctx context.Context, workspaceID uuid.UUID, req UploadPrepareRequest) (UploadPrepareResult, error) {
	if err := s.limiter.Allow(ctx, rateLimitOpUploadPrepare, workspaceID, uploadPrepareLimit); err != nil {
		return UploadPrepareResult{}, err
	}

	if _, ok := s.allowedTypes[req.ContentType]; !ok {
		return UploadPrepareResult{}, apperr.Validation("content_type not allowed")
	}
	if req.FileSizeBytes <= 0 || req.FileSizeBytes > s.maxFileSize {
		return UploadPrepareResult{}, apperr.Validation("file_size_bytes out of range")
	}

	if req.IdempotencyKey != nil {
		existing, ok, err := s.repo.GetByIdempotencyKey(ctx, workspaceID, *req.IdempotencyKey)
		if err != nil {
			return UploadPrepareResult{}, err
		}
		if ok {
			return s.reissueOrConflict(ctx, existing)
		}
	}

	count, err := s.repo.CountForWorkspace(ctx, workspaceID)
	if err != nil {
		return UploadPrepareResult{}, err
	}
	if count >= s.maxDocsPerWS {
		return UploadPrepareResult{}, apperr.Validation("workspace document count limit reached")
	}

	sanitized, err := sanitizeFilename(req.Filename)
	if err != nil {
		return UploadPrepareResult{}, apperr.Validation("filename sanitizes to empty string")
	}

	docID := uuid.New()
	path := storagePath(workspaceID.String(), docID.String(), sanitized)

	d := Document{
		ID:             docID,
		WorkspaceID:    workspaceID,
		Filename:       sanitized,
		SizeBytes:      req.FileSizeBytes,
		ContentType:    req.ContentType,
		StoragePath:    path,
		Status:         StatusPendingUpload,
		IdempotencyKey: req.IdempotencyKey,
	}

	inserted, err := s.repo.Insert(ctx, d)
	if err != nil {
		return UploadPrepareResult{}, err
	}
	if !inserted {
		// Race loser: a concurrent prepare call with the same
		// idempotency key committed first.
		winner, ok, err := s.repo.GetByIdempotencyKey(ctx, workspaceID, *req.IdempotencyKey)
		if err != nil {
			return UploadPrepareResult{}, err
		}
		if !ok {
			return UploadPrepareResult{}, apperr.Internal("lost insert race but winner row not found", nil)
		}
		return s.reissueOrConflict(ctx, winner)
	}

	url, err := s.store.PresignedUploadURL(ctx, path, s.urlExpires)
	if err != nil {
		return UploadPrepareResult{}, err
	}
	return UploadPrepareResult{Document: d, UploadURL: url, ExpiresIn: int(s.urlExpires.Seconds())}, nil
}

func (s *Service) reissueOrConflict(ctx context.Context, existing Document) (UploadPrepareResult, error) {
	if !readyForUpload(existing.Status) {
		return UploadPrepareResult{}, apperr.Conflict("document has already advanced past upload")
	}
	url, err := s.store.PresignedUploadURL(ctx, existing.StoragePath, s.urlExpires)
	if err != nil {
		return UploadPrepareResult{}, err
	}
	return UploadPrepareResult{Document: existing, UploadURL: url, ExpiresIn: int(s.urlExpires.Seconds())}, nil
}

type UploadCompleteRequest struct {
	DocumentID  uuid.UUID
	Bucket      string
	StoragePath string
}

type UploadCompleteResult struct {
	Document Document
	JobID    uuid.UUID
}

// UploadComplete implements the upload-complete contract: bucket and
// storage_path must match the stored row, the row must still be pending
// upload, and the object must actually exist before the status advances
// and extract is enqueued.
func (s *Service) UploadComplete(ctx context.Context, workspaceID uuid.UUID, req UploadCompleteRequest) (UploadCompleteResult, error) {
	d, err := s.repo.GetByID(ctx, workspaceID, req.DocumentID)
	if err != nil {
		return UploadCompleteResult{}, err
	}
	if req.Bucket != s.store.Bucket() || req.StoragePath != d.StoragePath {
		return UploadCompleteResult{}, apperr.Validation("bucket/storage_path does not match the prepared document")
	}
	if !readyForUpload(d.Status) {
		return UploadCompleteResult{}, apperr.Conflict("document is not awaiting upload")
	}

	exists, err := s.store.Exists(ctx, d.StoragePath)
	if err != nil {
		return UploadCompleteResult{}, err
	}
	if !exists {
		return UploadCompleteResult{}, apperr.Validation("uploaded object not found in storage")
	}

	ok, err := s.repo.CompareAndSwapStatus(ctx, d.ID, []Status{StatusPendingUpload, StatusUploading}, StatusUploaded, nil, nil)
	if err != nil {
		return UploadCompleteResult{}, err
	}
	if !ok {
		return UploadCompleteResult{}, apperr.Conflict("document status changed concurrently")
	}
	d.Status = StatusUploaded

	jobID := uuid.New()
	if err := s.queue.Enqueue(ctx, queue.Job{Type: queue.JobExtract, WorkspaceID: workspaceID, DocumentID: d.ID}); err != nil {
		return UploadCompleteResult{}, err
	}
	return UploadCompleteResult{Document: d, JobID: jobID}, nil
}

// Retry resurrects a failed document back to uploaded and re-enqueues
// extraction.
func (s *Service) Retry(ctx context.Context, workspaceID, documentID uuid.UUID) (Document, error) {
	d, err := s.repo.GetByID(ctx, workspaceID, documentID)
	if err != nil {
		return Document{}, err
	}
	if !readyForRetry(d.Status) {
		return Document{}, apperr.Conflict("only a failed document can be retried")
	}
	ok, err := s.repo.CompareAndSwapStatus(ctx, d.ID, []Status{StatusFailed}, StatusUploaded, nil, nil)
	if err != nil {
		return Document{}, err
	}
	if !ok {
		return Document{}, apperr.Conflict("document status changed concurrently")
	}
	d.Status = StatusUploaded
	d.ErrorMessage = nil

	if err := s.queue.Enqueue(ctx, queue.Job{Type: queue.JobExtract, WorkspaceID: workspaceID, DocumentID: d.ID}); err != nil {
		return Document{}, err
	}
	return d, nil
}

// Reindex wipes existing chunks/embeddings and re-enters the pipeline at
// indexing (if pages already exist) or uploaded (if re-extraction is
// needed first), matching spec.md §4.6's two reindex branches.
func (s *Service) Reindex(ctx context.Context, workspaceID, documentID uuid.UUID) (Document, error) {
	d, err := s.repo.GetByID(ctx, workspaceID, documentID)
	if err != nil {
		return Document{}, err
	}
	if !readyForReindex(d.Status) {
		return Document{}, apperr.Conflict("document is not in a reindexable state")
	}

	if err := s.repo.WipeChunksAndEmbeddings(ctx, d.ID); err != nil {
		return Document{}, err
	}

	hasPages, err := s.repo.HasPages(ctx, d.ID)
	if err != nil {
		return Document{}, err
	}

	allStates := []Status{StatusReady, StatusIndexed, StatusFailed}
	if hasPages {
		ok, err := s.repo.CompareAndSwapStatus(ctx, d.ID, allStates, StatusIndexing, nil, nil)
		if err != nil {
			return Document{}, err
		}
		if !ok {
			return Document{}, apperr.Conflict("document status changed concurrently")
		}
		d.Status = StatusIndexing
		if err := s.queue.Enqueue(ctx, queue.Job{Type: queue.JobIndex, WorkspaceID: workspaceID, DocumentID: d.ID}); err != nil {
			return Document{}, err
		}
		return d, nil
	}

	ok, err := s.repo.CompareAndSwapStatus(ctx, d.ID, allStates, StatusUploaded, nil, nil)
	if err != nil {
		return Document{}, err
	}
	if !ok {
		return Document{}, apperr.Conflict("document status changed concurrently")
	}
	d.Status = StatusUploaded
	if err := s.queue.Enqueue(ctx, queue.Job{Type: queue.JobExtract, WorkspaceID: workspaceID, DocumentID: d.ID}); err != nil {
		return Document{}, err
	}
	return d, nil
}

// Delete removes the row transactionally and best-effort cleans up the
// storage object; storage failures are logged, never surfaced, matching
// the lifecycle controller's delete contract.
func (s *Service) Delete(ctx context.Context, workspaceID, documentID uuid.UUID) error {
	d, err := s.repo.GetByID(ctx, workspaceID, documentID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, workspaceID, documentID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, d.StoragePath); err != nil {
		slog.Warn("best-effort storage delete failed", "document_id", documentID, "error", err)
	}
	return nil
}

func (s *Service) List(ctx context.Context, workspaceID uuid.UUID, f ListFilter) ([]Document, int, error) {
	if f.Limit < 1 || f.Limit > 100 {
		return nil, 0, apperr.Validation("limit must be in [1,100]")
	}
	if f.Offset < 0 {
		return nil, 0, apperr.Validation("offset must be >= 0")
	}
	return s.repo.List(ctx, workspaceID, f)
}

type Detail struct {
	Document Document
	Progress Progress
}

func (s *Service) GetDetail(ctx context.Context, workspaceID, documentID uuid.UUID) (Detail, error) {
	d, err := s.repo.GetByID(ctx, workspaceID, documentID)
	if err != nil {
		return Detail{}, err
	}
	p, err := s.repo.Progress(ctx, d.ID)
	if err != nil {
		return Detail{}, err
	}
	return Detail{Document: d, Progress: p}, nil
}

// GetPage returns page content trimmed to maxChars, matching
// /documents/{id}/pages/{n}'s max_chars∈[1,20000] contract.
func (s *Service) GetPage(ctx context.Context, workspaceID, documentID uuid.UUID, pageNumber, maxChars int) (string, error) {
	if maxChars < 1 || maxChars > 20000 {
		return "", apperr.Validation("max_chars must be in [1,20000]")
	}
	// GetByID enforces workspace isolation before touching document_pages.
	if _, err := s.repo.GetByID(ctx, workspaceID, documentID); err != nil {
		return "", err
	}
	content, err := s.repo.GetPage(ctx, workspaceID, documentID, pageNumber)
	if err != nil {
		return "", err
	}
	return textutil.Trim(content, maxChars), nil
}
