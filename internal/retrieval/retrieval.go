// Package retrieval implements the vector similarity search over a single
// document's chunks. Grounded on the original's
// server/app/core/retrieval.py retrieve_top_k_chunks, translated from a
// hand-built vector literal + raw SQL text() query onto pgx with
// pgvector-go's Vector type standing in for the literal-formatting helper.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/pixell07/ragserve/internal/apperr"
)

// Retrieved is one chunk surfaced to the grounded answerer.
type Retrieved struct {
	ChunkID    uuid.UUID
	DocumentID uuid.UUID
	PageNumber int
	ChunkIndex int
	Score      float64
	ChunkText  string
	PageText   string
	TokenCount int
}

// Snippet collapses whitespace and truncates to 300 characters, matching
// RetrievedChunk.snippet in the original.
func (r Retrieved) Snippet() string {
	collapsed := strings.Join(strings.Fields(r.ChunkText), " ")
	if runes := []rune(collapsed); len(runes) > 300 {
		return string(runes[:300])
	}
	return collapsed
}

type Retriever struct {
	db *pgxpool.Pool
}

func NewRetriever(db *pgxpool.Pool) *Retriever {
	return &Retriever{db: db}
}

// TopK returns the k nearest chunks to queryEmbedding within documentID,
// scoped to workspaceID (I2). Results are ordered by ascending cosine
// distance, tie-broken by chunk_index ascending for stable ordering.
func (r *Retriever) TopK(ctx context.Context, workspaceID, documentID uuid.UUID, queryEmbedding []float32, k int) ([]Retrieved, error) {
	vec := pgvector.NewVector(queryEmbedding)

	rows, err := r.db.Query(ctx, `
		SELECT
			c.id AS chunk_id,
			c.document_id,
			c.page_start AS page_number,
			c.chunk_index,
			c.content AS chunk_text,
			COALESCE(dp.content, c.content) AS page_text,
			c.token_count,
			(ce.embedding <=> $4) AS score
		FROM chunk_embeddings ce
		JOIN chunks c ON c.id = ce.chunk_id
		LEFT JOIN document_pages dp
			ON dp.workspace_id = $1
		   AND dp.document_id = c.document_id
		   AND dp.page_number = c.page_start
		WHERE ce.workspace_id = $1
		  AND ce.document_id = $2
		  AND c.workspace_id = $1
		  AND c.document_id = $2
		ORDER BY score ASC, c.chunk_index ASC
		LIMIT $3`,
		workspaceID, documentID, k, vec)
	if err != nil {
		return nil, apperr.Internal("querying chunk embeddings", err)
	}
	defer rows.Close()

	var out []Retrieved
	for rows.Next() {
		var rec Retrieved
		if err := rows.Scan(
			&rec.ChunkID, &rec.DocumentID, &rec.PageNumber, &rec.ChunkIndex,
			&rec.ChunkText, &rec.PageText, &rec.TokenCount, &rec.Score,
		); err != nil {
			return nil, apperr.Internal("scanning retrieved chunk", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("iterating retrieved chunks", err)
	}
	return out, nil
}

// EnsureDimension rejects an embedding whose length doesn't match want,
// enforcing I5 at the call boundary rather than letting Postgres reject it.
func EnsureDimension(embedding []float32, want int) error {
	if len(embedding) != want {
		return apperr.Validation(fmt.Sprintf("embedding dimension %d does not match configured dimension %d", len(embedding), want))
	}
	return nil
}
