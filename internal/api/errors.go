package api

import (
	"github.com/gin-gonic/gin"

	"github.com/pixell07/ragserve/internal/apperr"
)

// writeError writes a bare {"error":{"code","message"}} body for errors
// that never reach the service layer (missing/invalid auth header).
func writeError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": "UNAUTHORIZED", "message": message}})
}

// writeAppError maps an apperr.Error (or a plain error, defensively) to
// its spec.md §7 status and body shape, including the BUDGET_EXCEEDED
// details object.
func writeAppError(c *gin.Context, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		c.JSON(500, gin.H{"error": gin.H{"code": "INTERNAL", "message": "internal error"}})
		return
	}
	body := gin.H{"code": string(ae.Code), "message": ae.Message}
	if ae.Details != nil {
		body["details"] = ae.Details
	}
	c.JSON(ae.HTTPStatus(), gin.H{"error": body})
}

// bindJSON decodes the request body, writing a VALIDATION error response
// on failure. Business-rule validation happens in the service layer per
// SPEC_FULL.md §8 — this only catches malformed JSON.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeAppError(c, apperr.Validation("invalid request body: "+err.Error()))
		return false
	}
	return true
}
