package api

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pixell07/ragserve/internal/apperr"
	"github.com/pixell07/ragserve/internal/chat"
)

type createChatSessionRequest struct {
	DocumentID *uuid.UUID     `json:"document_id"`
	Title      *string        `json:"title"`
	Messages   []chat.Message `json:"messages"`
}

func sessionJSON(s chat.Session) gin.H {
	return gin.H{
		"id":          s.ID,
		"document_id": s.DocumentID,
		"title":       s.Title,
		"messages":    s.Messages,
		"started_at":  s.StartedAt,
		"ended_at":    s.EndedAt,
	}
}

func (h *handlers) createChatSession(c *gin.Context) {
	wsID, ok := h.currentWorkspace(c)
	if !ok {
		return
	}
	var req createChatSessionRequest
	if !bindJSON(c, &req) {
		return
	}
	s, err := h.deps.ChatRepo.Create(c.Request.Context(), wsID, req.DocumentID, req.Title, req.Messages)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(201, sessionJSON(s))
}

type updateChatSessionRequest struct {
	Title    *string        `json:"title"`
	Messages []chat.Message `json:"messages"`
	Ended    bool           `json:"ended"`
}

func (h *handlers) updateChatSession(c *gin.Context) {
	wsID, ok := h.currentWorkspace(c)
	if !ok {
		return
	}
	sessionID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req updateChatSessionRequest
	if !bindJSON(c, &req) {
		return
	}
	s, err := h.deps.ChatRepo.Update(c.Request.Context(), wsID, sessionID, req.Title, req.Messages, req.Ended)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(200, sessionJSON(s))
}

func (h *handlers) listChatSessions(c *gin.Context) {
	wsID, ok := h.currentWorkspace(c)
	if !ok {
		return
	}
	limit := queryInt(c, "limit", 20)
	offset := queryInt(c, "offset", 0)
	var documentID *uuid.UUID
	if raw := c.Query("document_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeAppError(c, apperr.Validation("document_id must be a valid uuid"))
			return
		}
		documentID = &id
	}
	items, total, err := h.deps.ChatRepo.List(c.Request.Context(), wsID, documentID, limit, offset)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(200, gin.H{"items": items, "limit": limit, "offset": offset, "total": total})
}

func (h *handlers) getChatSession(c *gin.Context) {
	wsID, ok := h.currentWorkspace(c)
	if !ok {
		return
	}
	sessionID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	s, err := h.deps.ChatRepo.Get(c.Request.Context(), wsID, sessionID)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(200, sessionJSON(s))
}
