package handler

import (
	"github.com/GoPolymarket/pointgate/internal/pkg/logger"
	"github.com/GoPolymarket/pointgate/internal/stream"
	"github.com/gin-gonic/gin"
)

type StreamHandler struct {
	hub *stream.Hub
}

func NewStreamHandler(hub *stream.Hub) *StreamHandler {
	return &StreamHandler{hub: hub}
}

// Subscribe upgrades to a websocket carrying the tenant's ledger events.
// ?member_id narrows the feed to one member.
func (h *StreamHandler) Subscribe(c *gin.Context) {
	tenant, ok := tenantOrAbort(c)
	if !ok {
		return
	}
	// the upgrader has already answered the client on failure
	if err := h.hub.Serve(c.Writer, c.Request, tenant.ID, c.Query("member_id")); err != nil {
		logger.Warn("stream upgrade failed", "tenant_id", tenant.ID, "error", err)
	}
}
