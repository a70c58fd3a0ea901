package query

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pixell07/ragserve/internal/testdb"
)

func insertWorkspaceAndDocument(t *testing.T, repo *Repository, status string) (uuid.UUID, uuid.UUID) {
	t.Helper()
	wsID := uuid.New()
	_, err := repo.db.Exec(context.Background(),
		`INSERT INTO workspaces (id, owner_id, name) VALUES ($1, $2, $3)`, wsID, uuid.New(), "acme")
	require.NoError(t, err)

	docID := uuid.New()
	_, err = repo.db.Exec(context.Background(), `
		INSERT INTO documents (id, workspace_id, filename, content_type, storage_path, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		docID, wsID, "report.pdf", "application/pdf", wsID.String()+"/"+docID.String()+"/report.pdf", status)
	require.NoError(t, err)
	return wsID, docID
}

func TestListHistoryExcludesChatSessionRows(t *testing.T) {
	repo := NewRepository(testdb.Pool(t))
	wsID, docID := insertWorkspaceAndDocument(t, repo, "ready")

	answerText := "a real answer"
	require.NoError(t, repo.InsertLog(context.Background(), LogEntry{
		WorkspaceID: wsID, QueryText: "a real question", DocumentID: docID, AnswerText: &answerText,
	}))

	chatMarkerMsg := chatMarker
	require.NoError(t, repo.InsertLog(context.Background(), LogEntry{
		WorkspaceID: wsID, QueryText: "a chat turn", DocumentID: docID, ErrorMessage: &chatMarkerMsg,
	}))

	items, total, err := repo.ListHistory(context.Background(), wsID, HistoryFilter{Limit: 10, Offset: 0})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, items, 1)
	require.Equal(t, "a real question", items[0].Question)
	require.Equal(t, "a real answer", items[0].AnswerPreview)
}

func TestListHistoryFiltersByDocument(t *testing.T) {
	repo := NewRepository(testdb.Pool(t))
	wsID, docID := insertWorkspaceAndDocument(t, repo, "ready")
	_, otherDocID := insertWorkspaceAndDocument(t, repo, "ready")

	require.NoError(t, repo.InsertLog(context.Background(), LogEntry{WorkspaceID: wsID, QueryText: "q1", DocumentID: docID}))
	require.NoError(t, repo.InsertLog(context.Background(), LogEntry{WorkspaceID: wsID, QueryText: "q2", DocumentID: otherDocID}))

	items, total, err := repo.ListHistory(context.Background(), wsID, HistoryFilter{DocumentID: &docID, Limit: 10, Offset: 0})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, items, 1)
	require.Equal(t, "q1", items[0].Question)
}

func TestListHistoryRejectsInvalidLimit(t *testing.T) {
	repo := NewRepository(testdb.Pool(t))
	wsID := uuid.New()

	_, _, err := repo.ListHistory(context.Background(), wsID, HistoryFilter{Limit: 0, Offset: 0})
	require.Error(t, err)

	_, _, err = repo.ListHistory(context.Background(), wsID, HistoryFilter{Limit: 101, Offset: 0})
	require.Error(t, err)

	_, _, err = repo.ListHistory(context.Background(), wsID, HistoryFilter{Limit: 10, Offset: -1})
	require.Error(t, err)
}

func TestGetDetailBuildsCitationsFromChunks(t *testing.T) {
	repo := NewRepository(testdb.Pool(t))
	wsID, docID := insertWorkspaceAndDocument(t, repo, "ready")

	chunkID := uuid.New()
	_, err := repo.db.Exec(context.Background(), `
		INSERT INTO chunks (id, workspace_id, document_id, page_start, page_end, chunk_index, content, content_hash, token_count)
		VALUES ($1, $2, $3, 3, 3, 0, 'chunk body', 'hash', 10)`, chunkID, wsID, docID)
	require.NoError(t, err)

	answerText := "answer"
	require.NoError(t, repo.InsertLog(context.Background(), LogEntry{
		WorkspaceID: wsID, QueryText: "question", DocumentID: docID, AnswerText: &answerText,
		RetrievedChunkIDs: []uuid.UUID{chunkID}, ChunkScores: []float64{0.2},
	}))

	items, _, err := repo.ListHistory(context.Background(), wsID, HistoryFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)

	detail, err := repo.GetDetail(context.Background(), wsID, items[0].ID)
	require.NoError(t, err)
	require.Len(t, detail.Citations, 1)
	require.Equal(t, 3, detail.Citations[0].PageNumber)
	require.Equal(t, chunkID, detail.Citations[0].ChunkID)
}

func TestGetCitationSourceTrimsPageText(t *testing.T) {
	repo := NewRepository(testdb.Pool(t))
	wsID, docID := insertWorkspaceAndDocument(t, repo, "ready")

	chunkID := uuid.New()
	_, err := repo.db.Exec(context.Background(), `
		INSERT INTO chunks (id, workspace_id, document_id, page_start, page_end, chunk_index, content, content_hash, token_count)
		VALUES ($1, $2, $3, 1, 1, 0, 'chunk body', 'hash', 10)`, chunkID, wsID, docID)
	require.NoError(t, err)

	_, err = repo.db.Exec(context.Background(), `
		INSERT INTO document_pages (workspace_id, document_id, page_number, content)
		VALUES ($1, $2, 1, $3)`, wsID, docID, "this is a much longer page of text than the trim limit allows")
	require.NoError(t, err)

	src, err := repo.GetCitationSource(context.Background(), wsID, chunkID, 20)
	require.NoError(t, err)
	require.Equal(t, "chunk body", src.ChunkText)
	require.NotNil(t, src.PageText)
	require.LessOrEqual(t, len(*src.PageText), 20)
	require.Contains(t, *src.PageText, "...")
}

func TestGetCitationSourceUnknownChunkReturnsNotFound(t *testing.T) {
	repo := NewRepository(testdb.Pool(t))
	wsID := uuid.New()

	_, err := repo.GetCitationSource(context.Background(), wsID, uuid.New(), 100)
	require.Error(t, err)
}
