package api

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pixell07/ragserve/internal/auth"
)

const claimsKey = "claims"

// authMiddleware verifies the bearer token and stashes the parsed claims
// on the gin context; everything downstream reads them via claimsFrom.
// Token *issuance* is an external collaborator's concern (spec.md §1's
// non-goals) — this only verifies.
func (h *handlers) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(c, 401, "missing bearer token")
			c.Abort()
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		claims, err := h.deps.JWTManager.Verify(token)
		if err != nil {
			writeError(c, 401, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func claimsFrom(c *gin.Context) *auth.Claims {
	v, _ := c.Get(claimsKey)
	claims, _ := v.(*auth.Claims)
	return claims
}

// ownerID parses the verified claims' UserID as the uuid every
// workspace/document/query table keys on. Identity issuance assigns
// UserID, so a non-uuid value here means the token was minted by
// something other than this system's identity collaborator.
func ownerID(c *gin.Context) (uuid.UUID, bool) {
	claims := claimsFrom(c)
	if claims == nil {
		return uuid.UUID{}, false
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.UUID{}, false
	}
	return id, true
}

// currentWorkspace resolves the caller's workspace id, matching every
// workspace-scoped route's "resolve workspace by owner" rule from
// spec.md §6. Writes the error response itself on failure so handlers
// can just `return` on false.
func (h *handlers) currentWorkspace(c *gin.Context) (uuid.UUID, bool) {
	owner, ok := ownerID(c)
	if !ok {
		writeError(c, 401, "invalid token subject")
		return uuid.UUID{}, false
	}
	wsID, err := h.deps.WorkspaceService.ResolveOwnerWorkspaceID(c.Request.Context(), owner)
	if err != nil {
		writeAppError(c, err)
		return uuid.UUID{}, false
	}
	return wsID, true
}
