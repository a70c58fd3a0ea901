package query

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixell07/ragserve/internal/apperr"
	"github.com/pixell07/ragserve/internal/document"
	"github.com/pixell07/ragserve/internal/textutil"
)

// chatMarker is the sentinel error_message value that marks chat turns
// logged in query_logs by legacy deployments; query history excludes such
// rows. internal/chat stores sessions in chat_sessions and never writes it.
const chatMarker = "__CHAT_SESSION__"

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// documentReadiness reads the minimal fields the pipeline needs to gate
// on document readiness, scoped to workspaceID (I2).
func (r *Repository) documentReadiness(ctx context.Context, workspaceID, documentID uuid.UUID) (document.Status, error) {
	var status string
	err := r.db.QueryRow(ctx, `
		SELECT status FROM documents WHERE id = $1 AND workspace_id = $2`,
		documentID, workspaceID).Scan(&status)
	if err == pgx.ErrNoRows {
		return "", apperr.NotFound("document not found")
	}
	if err != nil {
		return "", apperr.Internal("loading document readiness", err)
	}
	return document.Status(status), nil
}

// LogEntry is one query_logs row, written best-effort after a query
// completes (or fails), gated on config's LOG_EACH_QUERY.
type LogEntry struct {
	WorkspaceID         uuid.UUID
	UserID              string
	QueryText           string
	DocumentID          uuid.UUID
	RetrievedChunkIDs   []uuid.UUID
	ChunkScores         []float64
	AnswerText          *string
	ErrorMessage        *string
	RetrievalLatencyMs  int
	LLMLatencyMs        *int
	TotalLatencyMs      int
	EmbeddingTokensUsed int64
	LLMInputTokens      *int64
	LLMOutputTokens     *int64
	TotalTokensUsed     int64
}

func (r *Repository) InsertLog(ctx context.Context, e LogEntry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO query_logs (
			workspace_id, user_id, query_text, documents_searched, retrieved_chunk_ids,
			chunk_scores, answer_text, error_message, retrieval_latency_ms, llm_latency_ms,
			total_latency_ms, embedding_tokens_used, llm_input_tokens, llm_output_tokens,
			total_tokens_used
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		e.WorkspaceID, userIDOrNil(e.UserID), e.QueryText, []uuid.UUID{e.DocumentID}, e.RetrievedChunkIDs,
		e.ChunkScores, e.AnswerText, e.ErrorMessage, e.RetrievalLatencyMs, e.LLMLatencyMs,
		e.TotalLatencyMs, e.EmbeddingTokensUsed, e.LLMInputTokens, e.LLMOutputTokens, e.TotalTokensUsed)
	if err != nil {
		return apperr.Internal("writing query log", err)
	}
	return nil
}

func userIDOrNil(userID string) *uuid.UUID {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil
	}
	return &id
}

// HistoryItem is one row of the /queries list, the non-chat query_logs
// rows for a workspace ordered newest-first.
type HistoryItem struct {
	ID            uuid.UUID  `json:"id"`
	DocumentID    *uuid.UUID `json:"document_id"`
	Question      string     `json:"question"`
	CreatedAt     time.Time  `json:"created_at"`
	AnswerPreview string     `json:"answer_preview"`
}

type HistoryFilter struct {
	DocumentID *uuid.UUID
	Limit      int
	Offset     int
}

func (r *Repository) ListHistory(ctx context.Context, workspaceID uuid.UUID, f HistoryFilter) ([]HistoryItem, int, error) {
	if f.Limit < 1 || f.Limit > 100 {
		return nil, 0, apperr.Validation("limit must be between 1 and 100")
	}
	if f.Offset < 0 {
		return nil, 0, apperr.Validation("offset must be >= 0")
	}

	var total int
	if f.DocumentID != nil {
		err := r.db.QueryRow(ctx, `
			SELECT count(*) FROM query_logs
			WHERE workspace_id = $1 AND COALESCE(error_message, '') <> $2
			  AND $3 = ANY(documents_searched)`,
			workspaceID, chatMarker, *f.DocumentID).Scan(&total)
		if err != nil {
			return nil, 0, apperr.Internal("counting query history", err)
		}
	} else {
		err := r.db.QueryRow(ctx, `
			SELECT count(*) FROM query_logs
			WHERE workspace_id = $1 AND COALESCE(error_message, '') <> $2`,
			workspaceID, chatMarker).Scan(&total)
		if err != nil {
			return nil, 0, apperr.Internal("counting query history", err)
		}
	}

	var rows pgx.Rows
	var err error
	if f.DocumentID != nil {
		rows, err = r.db.Query(ctx, `
			SELECT id, query_text, answer_text, error_message, documents_searched, created_at
			FROM query_logs
			WHERE workspace_id = $1 AND COALESCE(error_message, '') <> $2
			  AND $3 = ANY(documents_searched)
			ORDER BY created_at DESC
			LIMIT $4 OFFSET $5`,
			workspaceID, chatMarker, *f.DocumentID, f.Limit, f.Offset)
	} else {
		rows, err = r.db.Query(ctx, `
			SELECT id, query_text, answer_text, error_message, documents_searched, created_at
			FROM query_logs
			WHERE workspace_id = $1 AND COALESCE(error_message, '') <> $2
			ORDER BY created_at DESC
			LIMIT $3 OFFSET $4`,
			workspaceID, chatMarker, f.Limit, f.Offset)
	}
	if err != nil {
		return nil, 0, apperr.Internal("listing query history", err)
	}
	defer rows.Close()

	var items []HistoryItem
	for rows.Next() {
		var item HistoryItem
		var answerText, errorMessage *string
		var documentsSearched []uuid.UUID
		if err := rows.Scan(&item.ID, &item.Question, &answerText, &errorMessage, &documentsSearched, &item.CreatedAt); err != nil {
			return nil, 0, apperr.Internal("scanning query history row", err)
		}
		if len(documentsSearched) > 0 {
			id := documentsSearched[0]
			item.DocumentID = &id
		}
		preview := ""
		if answerText != nil {
			preview = *answerText
		} else if errorMessage != nil {
			preview = *errorMessage
		}
		if len(preview) > 200 {
			preview = preview[:200]
		}
		item.AnswerPreview = preview
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Internal("iterating query history", err)
	}
	return items, total, nil
}

// Detail is the full /queries/{id} row, citations resolved against the
// live chunks table (a chunk may have been deleted by a reindex since).
type Detail struct {
	ID                  uuid.UUID          `json:"id"`
	WorkspaceID         uuid.UUID          `json:"workspace_id"`
	UserID              *uuid.UUID         `json:"user_id"`
	Question            string             `json:"question"`
	DocumentIDs         []uuid.UUID        `json:"document_ids"`
	RetrievedChunkIDs   []uuid.UUID        `json:"retrieved_chunk_ids"`
	ChunkScores         []float64          `json:"chunk_scores"`
	Answer              *string            `json:"answer"`
	ErrorMessage        *string            `json:"error_message"`
	RetrievalLatencyMs  *int               `json:"retrieval_latency_ms"`
	LLMLatencyMs        *int               `json:"llm_latency_ms"`
	TotalLatencyMs      int                `json:"total_latency_ms"`
	EmbeddingTokensUsed int64              `json:"embedding_tokens_used"`
	LLMInputTokens      *int64             `json:"llm_input_tokens"`
	LLMOutputTokens     *int64             `json:"llm_output_tokens"`
	TotalTokensUsed     int64              `json:"total_tokens_used"`
	Citations           []HistoryCitation  `json:"citations"`
	CreatedAt           time.Time          `json:"created_at"`
}

type HistoryCitation struct {
	PageNumber int       `json:"page_number"`
	ChunkID    uuid.UUID `json:"chunk_id"`
}

func (r *Repository) GetDetail(ctx context.Context, workspaceID, queryID uuid.UUID) (Detail, error) {
	var d Detail
	err := r.db.QueryRow(ctx, `
		SELECT id, workspace_id, user_id, query_text, documents_searched, retrieved_chunk_ids,
		       chunk_scores, answer_text, error_message, retrieval_latency_ms, llm_latency_ms,
		       total_latency_ms, embedding_tokens_used, llm_input_tokens, llm_output_tokens,
		       total_tokens_used, created_at
		FROM query_logs
		WHERE id = $1 AND workspace_id = $2 AND COALESCE(error_message, '') <> $3
		LIMIT 1`,
		queryID, workspaceID, chatMarker).Scan(
		&d.ID, &d.WorkspaceID, &d.UserID, &d.Question, &d.DocumentIDs, &d.RetrievedChunkIDs,
		&d.ChunkScores, &d.Answer, &d.ErrorMessage, &d.RetrievalLatencyMs, &d.LLMLatencyMs,
		&d.TotalLatencyMs, &d.EmbeddingTokensUsed, &d.LLMInputTokens, &d.LLMOutputTokens,
		&d.TotalTokensUsed, &d.CreatedAt)
	if err == pgx.ErrNoRows {
		return Detail{}, apperr.NotFound("query log not found")
	}
	if err != nil {
		return Detail{}, apperr.Internal("loading query log", err)
	}

	citations, err := r.buildCitations(ctx, workspaceID, d.RetrievedChunkIDs)
	if err != nil {
		return Detail{}, err
	}
	d.Citations = citations
	return d, nil
}

func (r *Repository) buildCitations(ctx context.Context, workspaceID uuid.UUID, chunkIDs []uuid.UUID) ([]HistoryCitation, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, page_start FROM chunks
		WHERE workspace_id = $1 AND id = ANY($2)`,
		workspaceID, chunkIDs)
	if err != nil {
		return nil, apperr.Internal("loading citation pages", err)
	}
	defer rows.Close()

	byChunk := map[uuid.UUID]int{}
	for rows.Next() {
		var id uuid.UUID
		var page int
		if err := rows.Scan(&id, &page); err != nil {
			return nil, apperr.Internal("scanning citation page", err)
		}
		byChunk[id] = page
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("iterating citation pages", err)
	}

	var out []HistoryCitation
	for _, id := range chunkIDs {
		if page, ok := byChunk[id]; ok {
			out = append(out, HistoryCitation{PageNumber: page, ChunkID: id})
		}
	}
	return out, nil
}

// CitationSource is the full chunk + containing page text returned by
// GET /citations/{chunk_id}.
type CitationSource struct {
	ChunkID    uuid.UUID
	DocumentID uuid.UUID
	PageNumber int
	ChunkText  string
	PageText   *string
}

func (r *Repository) GetCitationSource(ctx context.Context, workspaceID, chunkID uuid.UUID, maxChars int) (CitationSource, error) {
	var src CitationSource
	err := r.db.QueryRow(ctx, `
		SELECT id, document_id, page_start, content
		FROM chunks
		WHERE id = $1 AND workspace_id = $2
		LIMIT 1`,
		chunkID, workspaceID).Scan(&src.ChunkID, &src.DocumentID, &src.PageNumber, &src.ChunkText)
	if err == pgx.ErrNoRows {
		return CitationSource{}, apperr.NotFound("citation source not found")
	}
	if err != nil {
		return CitationSource{}, apperr.Internal("loading citation chunk", err)
	}

	var pageContent string
	err = r.db.QueryRow(ctx, `
		SELECT content FROM document_pages
		WHERE workspace_id = $1 AND document_id = $2 AND page_number = $3
		LIMIT 1`,
		workspaceID, src.DocumentID, src.PageNumber).Scan(&pageContent)
	if err == nil {
		trimmed := textutil.Trim(pageContent, maxChars)
		src.PageText = &trimmed
	} else if err != pgx.ErrNoRows {
		return CitationSource{}, apperr.Internal("loading citation page", err)
	}

	return src, nil
}
