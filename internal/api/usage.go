package api

import (
	"github.com/gin-gonic/gin"
)

func (h *handlers) usageToday(c *gin.Context) {
	wsID, ok := h.currentWorkspace(c)
	if !ok {
		return
	}
	snap, err := h.deps.ObservabilitySvc.Today(c.Request.Context(), wsID)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(200, snap)
}

func (h *handlers) usageObservability(c *gin.Context) {
	wsID, ok := h.currentWorkspace(c)
	if !ok {
		return
	}
	resp, err := h.deps.ObservabilitySvc.Observability(c.Request.Context(), wsID)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(200, resp)
}
