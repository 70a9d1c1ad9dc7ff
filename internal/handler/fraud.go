package handler

import (
	"net/http"

	"github.com/GoPolymarket/pointgate/internal/fraud"
	"github.com/GoPolymarket/pointgate/internal/pkg/apperrors"
	"github.com/GoPolymarket/pointgate/internal/service"
	"github.com/gin-gonic/gin"
)

// FraudHandler is the manual review surface over member fraud profiles.
type FraudHandler struct {
	detector *fraud.Detector
	tenants  *service.TenantManager
}

func NewFraudHandler(detector *fraud.Detector, tenants *service.TenantManager) *FraudHandler {
	return &FraudHandler{detector: detector, tenants: tenants}
}

func (h *FraudHandler) Profile(c *gin.Context) {
	tenantID, memberID, ok := h.target(c)
	if !ok {
		return
	}
	p, err := h.detector.Profile(c.Request.Context(), tenantID, memberID)
	if err != nil {
		c.Error(apperrors.New(apperrors.ErrInternal, "failed to load fraud profile", err))
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *FraudHandler) Clear(c *gin.Context) {
	tenantID, memberID, ok := h.target(c)
	if !ok {
		return
	}
	if err := h.detector.Clear(c.Request.Context(), tenantID, memberID); err != nil {
		c.Error(apperrors.New(apperrors.ErrInternal, "failed to clear fraud profile", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (h *FraudHandler) target(c *gin.Context) (string, string, bool) {
	tenantID, memberID := c.Param("id"), c.Param("member_id")
	if _, ok := h.tenants.Tenant(tenantID); !ok {
		c.Error(apperrors.NewNotFound("tenant %s not found", tenantID))
		return "", "", false
	}
	if memberID == "" {
		c.Error(apperrors.NewValidation("member id is required"))
		return "", "", false
	}
	return tenantID, memberID, true
}
