package handler

import (
	"net/http"

	"github.com/GoPolymarket/pointgate/internal/ledger"
	"github.com/gin-gonic/gin"
)

// SweepHandler runs one promotion/expiry pass on demand.
type SweepHandler struct {
	ledger      *ledger.Service
	batch       int
	parallelism int
}

func NewSweepHandler(svc *ledger.Service, batch, parallelism int) *SweepHandler {
	return &SweepHandler{ledger: svc, batch: batch, parallelism: parallelism}
}

func (h *SweepHandler) Run(c *gin.Context) {
	report, err := h.ledger.Sweep(c.Request.Context(), queryInt(c, "limit", h.batch), h.parallelism)
	if err != nil && report.Scanned == 0 {
		c.Error(err)
		return
	}
	// per-member failures are already logged; report.Failed carries the count
	c.JSON(http.StatusOK, report)
}
