package ingest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pixell07/ragserve/internal/budget"
	"github.com/pixell07/ragserve/internal/queue"
)

type fakeEmbedder struct {
	dim int
	err error
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

type fakeLedger struct {
	reserved   []int64
	released   []int64
	committed  []int64
	reserveErr error
}

func (f *fakeLedger) Reserve(_ context.Context, _ uuid.UUID, amount int64) (budget.Reservation, error) {
	if f.reserveErr != nil {
		return budget.Reservation{}, f.reserveErr
	}
	f.reserved = append(f.reserved, amount)
	return budget.Reservation{Reserved: amount}, nil
}

func (f *fakeLedger) Commit(_ context.Context, _ uuid.UUID, amount int64) error {
	f.committed = append(f.committed, amount)
	return nil
}

func (f *fakeLedger) Release(_ context.Context, _ uuid.UUID, amount int64) error {
	f.released = append(f.released, amount)
	return nil
}

func TestIndexChunksEmbedsAndMarksIndexed(t *testing.T) {
	emb := &fakeEmbedder{dim: 3}
	led := &fakeLedger{}
	p, wsID := newTestPipeline(t, &fakeDownloader{}, emb, led)
	docID := insertTestDocument(t, p, *wsID, "uploaded")

	_, err := p.repo.db.Exec(context.Background(), `
		INSERT INTO document_pages (workspace_id, document_id, page_number, content)
		VALUES ($1, $2, 1, $3)`, *wsID, docID, "a reasonably long page of extracted text content")
	require.NoError(t, err)

	err = p.Index(context.Background(), queue.Job{Type: queue.JobIndex, WorkspaceID: *wsID, DocumentID: docID})
	require.NoError(t, err)

	status, err := p.repo.getStatus(context.Background(), *wsID, docID)
	require.NoError(t, err)
	require.Equal(t, "indexed", status)
	require.Len(t, led.committed, len(led.reserved))
	require.Empty(t, led.released)
}

func TestIndexEmbeddingFailureReleasesReservationAndFails(t *testing.T) {
	emb := &fakeEmbedder{err: context.DeadlineExceeded}
	led := &fakeLedger{}
	p, wsID := newTestPipeline(t, &fakeDownloader{}, emb, led)
	docID := insertTestDocument(t, p, *wsID, "uploaded")

	_, err := p.repo.db.Exec(context.Background(), `
		INSERT INTO document_pages (workspace_id, document_id, page_number, content)
		VALUES ($1, $2, 1, $3)`, *wsID, docID, "some content to chunk and try to embed")
	require.NoError(t, err)

	err = p.Index(context.Background(), queue.Job{Type: queue.JobIndex, WorkspaceID: *wsID, DocumentID: docID})
	require.Error(t, err)

	status, err := p.repo.getStatus(context.Background(), *wsID, docID)
	require.NoError(t, err)
	require.Equal(t, "failed", status)
	require.Equal(t, led.reserved, led.released)
}

func TestIndexNoExtractablePagesMarksIndexedWithZeroChunks(t *testing.T) {
	emb := &fakeEmbedder{dim: 3}
	led := &fakeLedger{}
	p, wsID := newTestPipeline(t, &fakeDownloader{}, emb, led)
	docID := insertTestDocument(t, p, *wsID, "uploaded")

	_, err := p.repo.db.Exec(context.Background(), `
		INSERT INTO document_pages (workspace_id, document_id, page_number, content)
		VALUES ($1, $2, 1, $3)`, *wsID, docID, "")
	require.NoError(t, err)

	err = p.Index(context.Background(), queue.Job{Type: queue.JobIndex, WorkspaceID: *wsID, DocumentID: docID})
	require.NoError(t, err)

	status, err := p.repo.getStatus(context.Background(), *wsID, docID)
	require.NoError(t, err)
	require.Equal(t, "indexed", status)
	require.Empty(t, led.reserved)
}

func TestIndexRejectsDocumentInIneligibleStatus(t *testing.T) {
	p, wsID := newTestPipeline(t, &fakeDownloader{}, &fakeEmbedder{}, &fakeLedger{})
	docID := insertTestDocument(t, p, *wsID, "pending_upload")

	err := p.Index(context.Background(), queue.Job{Type: queue.JobIndex, WorkspaceID: *wsID, DocumentID: docID})
	require.Error(t, err)
}
