package retrieval_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/require"

	"github.com/pixell07/ragserve/internal/retrieval"
	"github.com/pixell07/ragserve/internal/testdb"
)

func TestTopKOrdersByDistanceThenChunkIndex(t *testing.T) {
	pool := testdb.Pool(t)
	ctx := context.Background()

	wsID := uuid.New()
	_, err := pool.Exec(ctx, `INSERT INTO workspaces (id, owner_id, name) VALUES ($1, $2, $3)`,
		wsID, uuid.New(), "acme")
	require.NoError(t, err)

	docID := uuid.New()
	_, err = pool.Exec(ctx, `
		INSERT INTO documents (id, workspace_id, filename, content_type, storage_path, status)
		VALUES ($1, $2, 'doc.pdf', 'application/pdf', 'workspace/doc.pdf', 'ready')`,
		docID, wsID)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `
		INSERT INTO document_pages (workspace_id, document_id, page_number, content)
		VALUES ($1, $2, 1, 'page one full text')`, wsID, docID)
	require.NoError(t, err)

	type seed struct {
		chunkIndex int
		content    string
		embedding  []float32
	}
	seeds := []seed{
		{0, "alpha chunk", []float32{1, 0, 0}},
		{1, "beta chunk identical distance", []float32{0, 1, 0}},
		{2, "gamma chunk identical distance", []float32{0, 1, 0}},
	}

	for _, s := range seeds {
		chunkID := uuid.New()
		_, err := pool.Exec(ctx, `
			INSERT INTO chunks (id, workspace_id, document_id, page_start, page_end, chunk_index, content, content_hash, token_count)
			VALUES ($1, $2, $3, 1, 1, $4, $5, 'hash', 10)`,
			chunkID, wsID, docID, s.chunkIndex, s.content)
		require.NoError(t, err)

		_, err = pool.Exec(ctx, `
			INSERT INTO chunk_embeddings (chunk_id, workspace_id, document_id, embedding, embedding_model)
			VALUES ($1, $2, $3, $4, 'text-embedding-3-small')`,
			chunkID, wsID, docID, pgvector.NewVector(s.embedding))
		require.NoError(t, err)
	}

	retriever := retrieval.NewRetriever(pool)
	query := []float32{0, 1, 0} // closest to beta/gamma (distance 0), alpha is farthest

	results, err := retriever.TopK(ctx, wsID, docID, query, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.Equal(t, "beta chunk identical distance", results[0].ChunkText)
	require.Equal(t, "gamma chunk identical distance", results[1].ChunkText)
	require.Equal(t, "alpha chunk", results[2].ChunkText)
	require.Equal(t, "page one full text", results[0].PageText)
}

func TestTopKIsolatesByWorkspaceAndDocument(t *testing.T) {
	pool := testdb.Pool(t)
	ctx := context.Background()

	wsA := uuid.New()
	wsB := uuid.New()
	_, err := pool.Exec(ctx, `INSERT INTO workspaces (id, owner_id, name) VALUES ($1, $2, 'a'), ($3, $4, 'b')`,
		wsA, uuid.New(), wsB, uuid.New())
	require.NoError(t, err)

	docA := uuid.New()
	docB := uuid.New()
	_, err = pool.Exec(ctx, `
		INSERT INTO documents (id, workspace_id, filename, content_type, storage_path, status)
		VALUES ($1, $2, 'a.pdf', 'application/pdf', 'a', 'ready'),
		       ($3, $4, 'b.pdf', 'application/pdf', 'b', 'ready')`,
		docA, wsA, docB, wsB)
	require.NoError(t, err)

	chunkB := uuid.New()
	_, err = pool.Exec(ctx, `
		INSERT INTO chunks (id, workspace_id, document_id, page_start, page_end, chunk_index, content, content_hash, token_count)
		VALUES ($1, $2, $3, 1, 1, 0, 'belongs to workspace b', 'hash', 5)`,
		chunkB, wsB, docB)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `
		INSERT INTO chunk_embeddings (chunk_id, workspace_id, document_id, embedding, embedding_model)
		VALUES ($1, $2, $3, $4, 'text-embedding-3-small')`,
		chunkB, wsB, docB, pgvector.NewVector([]float32{1, 0, 0}))
	require.NoError(t, err)

	retriever := retrieval.NewRetriever(pool)
	results, err := retriever.TopK(ctx, wsA, docA, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Empty(t, results, "chunks from another workspace/document must never leak")
}

func TestEnsureDimensionRejectsMismatch(t *testing.T) {
	err := retrieval.EnsureDimension([]float32{1, 2, 3}, 1536)
	require.Error(t, err)

	err = retrieval.EnsureDimension(make([]float32, 1536), 1536)
	require.NoError(t, err)
}
