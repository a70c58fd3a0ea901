package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pixell07/ragserve/internal/apperr"
	"github.com/pixell07/ragserve/internal/document"
)

func documentJSON(d document.Document) gin.H {
	return gin.H{
		"id":              d.ID,
		"workspace_id":    d.WorkspaceID,
		"filename":        d.Filename,
		"size_bytes":      d.SizeBytes,
		"content_type":    d.ContentType,
		"status":          d.Status,
		"page_count":      d.PageCount,
		"error_message":   d.ErrorMessage,
		"idempotency_key": d.IdempotencyKey,
		"created_at":      d.CreatedAt,
		"updated_at":      d.UpdatedAt,
	}
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		writeAppError(c, apperr.Validation(name+" must be a valid uuid"))
		return uuid.UUID{}, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func (h *handlers) listDocuments(c *gin.Context) {
	wsID, ok := h.currentWorkspace(c)
	if !ok {
		return
	}
	f := document.ListFilter{
		Limit:  queryInt(c, "limit", 20),
		Offset: queryInt(c, "offset", 0),
	}
	if status := c.Query("status"); status != "" {
		f.Status = &status
	}
	docs, total, err := h.deps.DocumentService.List(c.Request.Context(), wsID, f)
	if err != nil {
		writeAppError(c, err)
		return
	}
	items := make([]gin.H, 0, len(docs))
	for _, d := range docs {
		items = append(items, documentJSON(d))
	}
	c.JSON(200, gin.H{"items": items, "limit": f.Limit, "offset": f.Offset, "total": total})
}

func (h *handlers) getDocument(c *gin.Context) {
	wsID, ok := h.currentWorkspace(c)
	if !ok {
		return
	}
	docID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	detail, err := h.deps.DocumentService.GetDetail(c.Request.Context(), wsID, docID)
	if err != nil {
		writeAppError(c, err)
		return
	}
	body := documentJSON(detail.Document)
	body["progress"] = gin.H{
		"pages_total":           detail.Progress.PagesTotal,
		"pages_extracted_count": detail.Progress.PagesExtractedCount,
		"chunks_count":          detail.Progress.ChunksCount,
		"embeddings_count":      detail.Progress.EmbeddingsCount,
	}
	c.JSON(200, body)
}

func (h *handlers) getDocumentPage(c *gin.Context) {
	wsID, ok := h.currentWorkspace(c)
	if !ok {
		return
	}
	docID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	pageNumber, err := strconv.Atoi(c.Param("n"))
	if err != nil {
		writeAppError(c, apperr.Validation("n must be an integer"))
		return
	}
	maxChars := queryInt(c, "max_chars", 2000)
	text, err := h.deps.DocumentService.GetPage(c.Request.Context(), wsID, docID, pageNumber, maxChars)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(200, gin.H{"document_id": docID, "page_number": pageNumber, "text": text})
}

type uploadPrepareRequest struct {
	Filename       string  `json:"filename"`
	ContentType    string  `json:"content_type"`
	FileSizeBytes  int64   `json:"file_size_bytes"`
	IdempotencyKey *string `json:"idempotency_key"`
}

func (h *handlers) uploadPrepare(c *gin.Context) {
	wsID, ok := h.currentWorkspace(c)
	if !ok {
		return
	}
	var req uploadPrepareRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.deps.DocumentService.UploadPrepare(c.Request.Context(), wsID, document.UploadPrepareRequest{
		Filename:       req.Filename,
		ContentType:    req.ContentType,
		FileSizeBytes:  req.FileSizeBytes,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	body := documentJSON(result.Document)
	body["upload_url"] = result.UploadURL
	body["expires_in"] = result.ExpiresIn
	c.JSON(201, body)
}

type uploadCompleteRequest struct {
	DocumentID  uuid.UUID `json:"document_id"`
	Bucket      string    `json:"bucket"`
	StoragePath string    `json:"storage_path"`
}

func (h *handlers) uploadComplete(c *gin.Context) {
	wsID, ok := h.currentWorkspace(c)
	if !ok {
		return
	}
	var req uploadCompleteRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.deps.DocumentService.UploadComplete(c.Request.Context(), wsID, document.UploadCompleteRequest{
		DocumentID:  req.DocumentID,
		Bucket:      req.Bucket,
		StoragePath: req.StoragePath,
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	body := documentJSON(result.Document)
	body["job_id"] = result.JobID
	c.JSON(200, body)
}

func (h *handlers) deleteDocument(c *gin.Context) {
	wsID, ok := h.currentWorkspace(c)
	if !ok {
		return
	}
	docID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.deps.DocumentService.Delete(c.Request.Context(), wsID, docID); err != nil {
		writeAppError(c, err)
		return
	}
	c.Status(204)
}

func (h *handlers) retryDocument(c *gin.Context) {
	wsID, ok := h.currentWorkspace(c)
	if !ok {
		return
	}
	docID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	d, err := h.deps.DocumentService.Retry(c.Request.Context(), wsID, docID)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(200, documentJSON(d))
}

func (h *handlers) reindexDocument(c *gin.Context) {
	wsID, ok := h.currentWorkspace(c)
	if !ok {
		return
	}
	docID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	d, err := h.deps.DocumentService.Reindex(c.Request.Context(), wsID, docID)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(200, documentJSON(d))
}
