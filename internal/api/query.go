package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pixell07/ragserve/internal/apperr"
	"github.com/pixell07/ragserve/internal/query"
)

type queryRequest struct {
	DocumentID string `json:"document_id"`
	Question   string `json:"question"`
}

func (h *handlers) query(c *gin.Context) {
	wsID, ok := h.currentWorkspace(c)
	if !ok {
		return
	}
	claims := claimsFrom(c)
	var req queryRequest
	if !bindJSON(c, &req) {
		return
	}
	docID, err := uuid.Parse(req.DocumentID)
	if err != nil {
		writeAppError(c, apperr.Validation("document_id must be a valid uuid"))
		return
	}
	result, err := h.deps.QueryPipeline.Run(c.Request.Context(), query.Request{
		WorkspaceID: wsID,
		UserID:      claims.UserID,
		DocumentID:  docID,
		Question:    req.Question,
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(200, result)
}

// queryStream handles the SSE variant. Grounded on query_stream.py's
// StreamingResponse wiring: text/event-stream, no buffering, one named
// event per frame in meta/delta*/citations/usage/done order.
func (h *handlers) queryStream(c *gin.Context) {
	wsID, ok := h.currentWorkspace(c)
	if !ok {
		return
	}
	claims := claimsFrom(c)
	var req queryRequest
	if !bindJSON(c, &req) {
		return
	}
	docID, err := uuid.Parse(req.DocumentID)
	if err != nil {
		writeAppError(c, apperr.Validation("document_id must be a valid uuid"))
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, _ := c.Writer.(http.Flusher)
	emit := func(event string, payload any) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}
	isDisconnected := func() bool {
		return c.Request.Context().Err() != nil
	}

	if err := h.deps.QueryPipeline.RunStream(c.Request.Context(), query.Request{
		WorkspaceID: wsID,
		UserID:      claims.UserID,
		DocumentID:  docID,
		Question:    req.Question,
	}, emit, isDisconnected); err != nil {
		// RunStream already emits its own "error" SSE frame for every
		// failure it can still write to the client; a non-nil return
		// here means that write itself failed (connection gone), so
		// there's nothing left to emit — just log it.
		h.deps.Logger.Warn("query stream ended with error", "error", err)
	}
}

func (h *handlers) listQueries(c *gin.Context) {
	wsID, ok := h.currentWorkspace(c)
	if !ok {
		return
	}
	f := query.HistoryFilter{
		Limit:  queryInt(c, "limit", 20),
		Offset: queryInt(c, "offset", 0),
	}
	if raw := c.Query("document_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeAppError(c, apperr.Validation("document_id must be a valid uuid"))
			return
		}
		f.DocumentID = &id
	}
	items, total, err := h.deps.QueryRepo.ListHistory(c.Request.Context(), wsID, f)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(200, gin.H{"items": items, "limit": f.Limit, "offset": f.Offset, "total": total})
}

func (h *handlers) getQuery(c *gin.Context) {
	wsID, ok := h.currentWorkspace(c)
	if !ok {
		return
	}
	queryID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	detail, err := h.deps.QueryRepo.GetDetail(c.Request.Context(), wsID, queryID)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(200, detail)
}

// citationRateLimitOp/citationRateLimit mirror query.Pipeline's own
// "query" op label and 100/60s window — citations.py's
// get_citation_source enforces the same shared limit the unary and
// streaming query endpoints do.
const (
	citationRateLimitOp = "query"
	citationRateLimit   = 100
)

func (h *handlers) getCitation(c *gin.Context) {
	wsID, ok := h.currentWorkspace(c)
	if !ok {
		return
	}
	chunkID, ok := parseUUIDParam(c, "chunk_id")
	if !ok {
		return
	}
	if err := h.deps.Limiter.Allow(c.Request.Context(), citationRateLimitOp, wsID, citationRateLimit); err != nil {
		writeAppError(c, err)
		return
	}
	maxChars := queryInt(c, "max_chars", 2000)
	src, err := h.deps.QueryRepo.GetCitationSource(c.Request.Context(), wsID, chunkID, maxChars)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(200, gin.H{
		"chunk_id":    src.ChunkID,
		"document_id": src.DocumentID,
		"page_number": src.PageNumber,
		"chunk_text":  src.ChunkText,
		"page_text":   src.PageText,
		"highlights":  []string{},
	})
}
