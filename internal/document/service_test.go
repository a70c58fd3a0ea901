package document_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixell07/ragserve/internal/apperr"
	"github.com/pixell07/ragserve/internal/document"
	"github.com/pixell07/ragserve/internal/queue"
	"github.com/pixell07/ragserve/internal/ratelimit"
	"github.com/pixell07/ragserve/internal/testdb"
)

type fakeStore struct {
	bucket  string
	exists  bool
	deleted []string
}

func (f *fakeStore) Bucket() string { return f.bucket }
func (f *fakeStore) PresignedUploadURL(_ context.Context, objectPath string, _ time.Duration) (string, error) {
	return "https://storage.example/" + objectPath, nil
}
func (f *fakeStore) Exists(_ context.Context, _ string) (bool, error) { return f.exists, nil }
func (f *fakeStore) Delete(_ context.Context, objectPath string) error {
	f.deleted = append(f.deleted, objectPath)
	return nil
}

func newTestService(t *testing.T, store *fakeStore) (*document.Service, *document.Repository, uuid.UUID) {
	t.Helper()
	pool := testdb.Pool(t)
	repo := document.NewRepository(pool)

	wsID := uuid.New()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO workspaces (id, owner_id, name) VALUES ($1, $2, $3)`, wsID, uuid.New(), "acme")
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := queue.New(client, "ingest:jobs")
	limiter := ratelimit.NewLimiter(client, time.Minute)

	svc := document.NewService(repo, store, q, limiter, 20*1024*1024, 100, []string{"application/pdf"}, 10*time.Minute)
	return svc, repo, wsID
}

func TestUploadPrepareCreatesDocumentAndURL(t *testing.T) {
	store := &fakeStore{bucket: "documents"}
	svc, _, wsID := newTestService(t, store)
	ctx := context.Background()

	result, err := svc.UploadPrepare(ctx, wsID, document.UploadPrepareRequest{
		Filename:      "report.pdf",
		ContentType:   "application/pdf",
		FileSizeBytes: 1024,
	})
	require.NoError(t, err)
	assert.Equal(t, document.StatusPendingUpload, result.Document.Status)
	assert.Contains(t, result.UploadURL, result.Document.StoragePath)
	assert.Equal(t, 600, result.ExpiresIn)
}

func TestUploadPrepareRejectsDisallowedContentType(t *testing.T) {
	store := &fakeStore{bucket: "documents"}
	svc, _, wsID := newTestService(t, store)
	ctx := context.Background()

	_, err := svc.UploadPrepare(ctx, wsID, document.UploadPrepareRequest{
		Filename:      "report.docx",
		ContentType:   "application/msword",
		FileSizeBytes: 1024,
	})
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeValidation, ae.Code)
}

func TestUploadPrepareIsIdempotentWhileStillPending(t *testing.T) {
	store := &fakeStore{bucket: "documents"}
	svc, _, wsID := newTestService(t, store)
	ctx := context.Background()
	key := "client-key-1"

	first, err := svc.UploadPrepare(ctx, wsID, document.UploadPrepareRequest{
		Filename:       "report.pdf",
		ContentType:    "application/pdf",
		FileSizeBytes:  1024,
		IdempotencyKey: &key,
	})
	require.NoError(t, err)

	second, err := svc.UploadPrepare(ctx, wsID, document.UploadPrepareRequest{
		Filename:       "report.pdf",
		ContentType:    "application/pdf",
		FileSizeBytes:  1024,
		IdempotencyKey: &key,
	})
	require.NoError(t, err)
	assert.Equal(t, first.Document.ID, second.Document.ID)
}

func TestUploadCompleteTransitionsToUploadedAndEnqueues(t *testing.T) {
	store := &fakeStore{bucket: "documents", exists: true}
	svc, _, wsID := newTestService(t, store)
	ctx := context.Background()

	prepared, err := svc.UploadPrepare(ctx, wsID, document.UploadPrepareRequest{
		Filename:      "report.pdf",
		ContentType:   "application/pdf",
		FileSizeBytes: 1024,
	})
	require.NoError(t, err)

	completed, err := svc.UploadComplete(ctx, wsID, document.UploadCompleteRequest{
		DocumentID:  prepared.Document.ID,
		Bucket:      "documents",
		StoragePath: prepared.Document.StoragePath,
	})
	require.NoError(t, err)
	assert.Equal(t, document.StatusUploaded, completed.Document.Status)
}

func TestUploadCompleteFailsWhenObjectMissing(t *testing.T) {
	store := &fakeStore{bucket: "documents", exists: false}
	svc, _, wsID := newTestService(t, store)
	ctx := context.Background()

	prepared, err := svc.UploadPrepare(ctx, wsID, document.UploadPrepareRequest{
		Filename:      "report.pdf",
		ContentType:   "application/pdf",
		FileSizeBytes: 1024,
	})
	require.NoError(t, err)

	_, err = svc.UploadComplete(ctx, wsID, document.UploadCompleteRequest{
		DocumentID:  prepared.Document.ID,
		Bucket:      "documents",
		StoragePath: prepared.Document.StoragePath,
	})
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeValidation, ae.Code)
}

func TestRetryOnlyAcceptsFailedDocuments(t *testing.T) {
	store := &fakeStore{bucket: "documents"}
	svc, _, wsID := newTestService(t, store)
	ctx := context.Background()

	prepared, err := svc.UploadPrepare(ctx, wsID, document.UploadPrepareRequest{
		Filename:      "report.pdf",
		ContentType:   "application/pdf",
		FileSizeBytes: 1024,
	})
	require.NoError(t, err)

	_, err = svc.Retry(ctx, wsID, prepared.Document.ID)
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeConflict, ae.Code)
}

func TestDeleteRemovesRowAndBestEffortStorage(t *testing.T) {
	store := &fakeStore{bucket: "documents"}
	svc, _, wsID := newTestService(t, store)
	ctx := context.Background()

	prepared, err := svc.UploadPrepare(ctx, wsID, document.UploadPrepareRequest{
		Filename:      "report.pdf",
		ContentType:   "application/pdf",
		FileSizeBytes: 1024,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, wsID, prepared.Document.ID))
	assert.Contains(t, store.deleted, prepared.Document.StoragePath)

	_, err = svc.GetDetail(ctx, wsID, prepared.Document.ID)
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeNotFound, ae.Code)
}
