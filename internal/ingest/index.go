package ingest

import (
	"context"

	"github.com/google/uuid"

	"github.com/pixell07/ragserve/internal/apperr"
	"github.com/pixell07/ragserve/internal/queue"
)

const embeddingModel = "text-embedding-3-small"

// Index chunks every extracted page, embeds each chunk, and persists
// chunks/chunk_embeddings. Token accounting follows ingest_index.py
// exactly: reserve before each embedding call, commit immediately after
// a successful insert, and on any failure release every reservation
// still outstanding in reverse order before marking the document
// failed.
func (p *Pipeline) Index(ctx context.Context, job queue.Job) error {
	workspaceID, documentID := job.WorkspaceID, job.DocumentID

	status, err := p.repo.getStatus(ctx, workspaceID, documentID)
	if err != nil {
		return err
	}
	switch status {
	case "uploaded", "extracting", "indexing":
	default:
		return apperr.Conflict("document is not in a state that can be indexed")
	}

	if err := p.repo.setStatus(ctx, workspaceID, documentID, "indexing", nil); err != nil {
		return err
	}

	if err := p.repo.wipeChunksAndEmbeddings(ctx, workspaceID, documentID); err != nil {
		p.fail(ctx, workspaceID, documentID, err)
		return err
	}

	pages, err := p.repo.listPages(ctx, workspaceID, documentID)
	if err != nil {
		p.fail(ctx, workspaceID, documentID, err)
		return err
	}

	rows, texts := p.buildChunkRows(pages)
	if len(rows) == 0 {
		finalStatus := p.targetStatus("indexed", "ready")
		if err := p.repo.setStatus(ctx, workspaceID, documentID, finalStatus, nil); err != nil {
			return err
		}
		return nil
	}

	if err := p.repo.insertChunks(ctx, workspaceID, documentID, rows); err != nil {
		p.fail(ctx, workspaceID, documentID, err)
		return err
	}

	if err := p.embedAndPersist(ctx, workspaceID, documentID, rows, texts); err != nil {
		p.fail(ctx, workspaceID, documentID, err)
		return err
	}

	finalStatus := p.targetStatus("indexed", "ready")
	if err := p.repo.setStatus(ctx, workspaceID, documentID, finalStatus, nil); err != nil {
		return err
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, workspaceID, documentID uuid.UUID, cause error) {
	_ = p.repo.setStatus(ctx, workspaceID, documentID, "failed", strPtr(truncateError(cause)))
}

// buildChunkRows flattens every page's chunks into ordered chunk rows,
// tracking which page(s) each chunk spans. Chunking is per-page (not
// across page boundaries), matching ingest_index.py's page-by-page loop.
func (p *Pipeline) buildChunkRows(pages []pageRow) ([]chunkRow, []string) {
	var rows []chunkRow
	var texts []string
	index := 0
	for _, page := range pages {
		pieces := p.chunker.chunk(page.Content)
		for _, piece := range pieces {
			rows = append(rows, chunkRow{
				ID:          uuid.New(),
				PageStart:   page.PageNumber,
				PageEnd:     page.PageNumber,
				ChunkIndex:  index,
				Content:     piece,
				ContentHash: contentHash(piece),
				TokenCount:  estimateTokens(piece),
			})
			texts = append(texts, piece)
			index++
		}
	}
	return rows, texts
}

// embedAndPersist reserves, embeds, and inserts one chunk at a time,
// committing the reservation immediately after each successful insert.
// On failure it releases every still-outstanding reservation in LIFO
// order before returning, so a mid-batch failure never leaves tokens
// stuck reserved.
func (p *Pipeline) embedAndPersist(ctx context.Context, workspaceID, documentID uuid.UUID, rows []chunkRow, texts []string) error {
	var outstanding []int64

	releaseAll := func() {
		for i := len(outstanding) - 1; i >= 0; i-- {
			_ = p.ledger.Release(ctx, workspaceID, outstanding[i])
		}
	}

	for i, row := range rows {
		amount := int64(row.TokenCount)
		if _, err := p.ledger.Reserve(ctx, workspaceID, amount); err != nil {
			releaseAll()
			return err
		}
		outstanding = append(outstanding, amount)

		vecs, err := p.embedder.EmbedDocuments(ctx, []string{texts[i]})
		if err != nil {
			releaseAll()
			return err
		}
		if len(vecs) == 0 {
			releaseAll()
			return apperr.Upstream("embedding response contained no vectors", nil)
		}

		if err := p.repo.insertEmbedding(ctx, workspaceID, documentID, row.ID, vecs[0], embeddingModel); err != nil {
			releaseAll()
			return err
		}

		if err := p.ledger.Commit(ctx, workspaceID, amount); err != nil {
			releaseAll()
			return err
		}
		outstanding = outstanding[:len(outstanding)-1]
	}
	return nil
}
