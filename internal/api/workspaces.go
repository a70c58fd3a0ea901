package api

import (
	"github.com/gin-gonic/gin"

	"github.com/pixell07/ragserve/internal/apperr"
)

func (h *handlers) authMe(c *gin.Context) {
	claims := claimsFrom(c)
	if claims == nil {
		writeError(c, 401, "missing claims")
		return
	}
	c.JSON(200, gin.H{
		"org_id":  claims.OrgID,
		"user_id": claims.UserID,
		"role":    claims.Role,
	})
}

type createWorkspaceRequest struct {
	Name string `json:"name"`
}

func (h *handlers) createWorkspace(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		writeError(c, 401, "invalid token subject")
		return
	}
	var req createWorkspaceRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Name == "" {
		writeAppError(c, apperr.Validation("name is required"))
		return
	}
	ws, err := h.deps.WorkspaceService.Create(c.Request.Context(), owner, req.Name)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(201, gin.H{
		"id":         ws.ID,
		"owner_id":   ws.OwnerID,
		"name":       ws.Name,
		"created_at": ws.CreatedAt,
	})
}

func (h *handlers) getMyWorkspace(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		writeError(c, 401, "invalid token subject")
		return
	}
	summary, err := h.deps.WorkspaceService.GetByOwner(c.Request.Context(), owner)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(200, gin.H{
		"id":                  summary.Workspace.ID,
		"owner_id":            summary.Workspace.OwnerID,
		"name":                summary.Workspace.Name,
		"created_at":          summary.Workspace.CreatedAt,
		"document_count":      summary.DocumentCount,
		"documents_by_status": summary.DocumentsByStatus,
		"usage_today":         summary.UsageToday,
	})
}
