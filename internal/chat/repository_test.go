package chat

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pixell07/ragserve/internal/testdb"
)

func newChatTestRepo(t *testing.T) (*Repository, uuid.UUID, uuid.UUID) {
	t.Helper()
	pool := testdb.Pool(t)
	repo := NewRepository(pool)

	wsID := uuid.New()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO workspaces (id, owner_id, name) VALUES ($1, $2, $3)`, wsID, uuid.New(), "acme")
	require.NoError(t, err)

	docID := uuid.New()
	_, err = pool.Exec(context.Background(), `
		INSERT INTO documents (id, workspace_id, filename, content_type, storage_path, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		docID, wsID, "report.pdf", "application/pdf", wsID.String()+"/"+docID.String()+"/report.pdf", "ready")
	require.NoError(t, err)

	return repo, wsID, docID
}

func TestCreateSessionDerivesDefaultTitleFromFirstUserMessage(t *testing.T) {
	repo, wsID, docID := newChatTestRepo(t)

	s, err := repo.Create(context.Background(), wsID, &docID, nil, []Message{
		{Role: "user", Content: "what's the refund policy?"},
	})
	require.NoError(t, err)
	require.Equal(t, "what's the refund policy?", s.Title)
	require.NotNil(t, s.DocumentID)
	require.Equal(t, docID, *s.DocumentID)
	require.Nil(t, s.EndedAt)
}

func TestCreateSessionRejectsDocumentOutsideWorkspace(t *testing.T) {
	repo, wsID, _ := newChatTestRepo(t)
	foreignDoc := uuid.New()

	_, err := repo.Create(context.Background(), wsID, &foreignDoc, nil, nil)
	require.Error(t, err)
}

func TestUpdateSessionReplacesMessagesAndMarksEnded(t *testing.T) {
	repo, wsID, docID := newChatTestRepo(t)

	s, err := repo.Create(context.Background(), wsID, &docID, nil, []Message{{Role: "user", Content: "hello"}})
	require.NoError(t, err)

	updated, err := repo.Update(context.Background(), wsID, s.ID, nil, []Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi, how can I help?"},
	}, true)
	require.NoError(t, err)
	require.NotNil(t, updated.EndedAt)

	detail, err := repo.Get(context.Background(), wsID, s.ID)
	require.NoError(t, err)
	require.Len(t, detail.Messages, 2)
}

func TestUpdateSessionKeepsExistingMessagesWhenNilGiven(t *testing.T) {
	repo, wsID, docID := newChatTestRepo(t)

	s, err := repo.Create(context.Background(), wsID, &docID, nil, []Message{{Role: "user", Content: "hello"}})
	require.NoError(t, err)

	title := "renamed"
	_, err = repo.Update(context.Background(), wsID, s.ID, &title, nil, false)
	require.NoError(t, err)

	detail, err := repo.Get(context.Background(), wsID, s.ID)
	require.NoError(t, err)
	require.Equal(t, "renamed", detail.Title)
	require.Len(t, detail.Messages, 1)
}

func TestListSessionsFiltersByDocumentAndPaginates(t *testing.T) {
	repo, wsID, docID := newChatTestRepo(t)
	_, err := repo.Create(context.Background(), wsID, &docID, nil, []Message{{Role: "user", Content: "a"}})
	require.NoError(t, err)
	_, err = repo.Create(context.Background(), wsID, nil, nil, []Message{{Role: "user", Content: "b"}})
	require.NoError(t, err)

	items, total, err := repo.List(context.Background(), wsID, &docID, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, items, 1)

	items, total, err = repo.List(context.Background(), wsID, nil, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, items, 2)
}

func TestGetUnknownSessionReturnsNotFound(t *testing.T) {
	repo, wsID, _ := newChatTestRepo(t)
	_, err := repo.Get(context.Background(), wsID, uuid.New())
	require.Error(t, err)
}
