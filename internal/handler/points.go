package handler

import (
	"net/http"
	"strconv"

	"github.com/GoPolymarket/pointgate/internal/ledger"
	"github.com/GoPolymarket/pointgate/internal/middleware"
	"github.com/GoPolymarket/pointgate/internal/model"
	"github.com/GoPolymarket/pointgate/internal/pkg/apperrors"
	"github.com/gin-gonic/gin"
)

type PointsHandler struct {
	ledger *ledger.Service
}

func NewPointsHandler(svc *ledger.Service) *PointsHandler {
	return &PointsHandler{ledger: svc}
}

func (h *PointsHandler) Award(c *gin.Context) {
	tenant, ok := tenantOrAbort(c)
	if !ok {
		return
	}
	var req model.AwardPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}

	res, err := h.ledger.Award(c.Request.Context(), tenant.ID, c.Param("member_id"), req)
	if err != nil {
		c.Error(err)
		return
	}
	middleware.AddAuditContext(c, "transaction_id", res.Transaction.ID)
	middleware.AddAuditContext(c, "state", string(res.Transaction.State))
	if res.Flagged {
		middleware.AddAuditContext(c, "fraud_verdict", "FLAG")
	}
	c.JSON(http.StatusCreated, res)
}

func (h *PointsHandler) Revoke(c *gin.Context) {
	tenant, ok := tenantOrAbort(c)
	if !ok {
		return
	}
	txID, ok := transactionID(c)
	if !ok {
		return
	}
	var req model.RevokePointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}

	res, err := h.ledger.Revoke(c.Request.Context(), tenant.ID, txID, req)
	if err != nil {
		c.Error(err)
		return
	}
	middleware.AddAuditContext(c, "transaction_id", txID)
	middleware.AddAuditContext(c, "revoked", res.Revoked)
	c.JSON(http.StatusOK, res)
}

func (h *PointsHandler) Redeem(c *gin.Context) {
	tenant, ok := tenantOrAbort(c)
	if !ok {
		return
	}
	var req model.RedeemPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}

	res, err := h.ledger.Redeem(c.Request.Context(), tenant.ID, c.Param("member_id"), req)
	if err != nil {
		c.Error(err)
		return
	}
	middleware.AddAuditContext(c, "redeemed", res.Redeemed)
	c.JSON(http.StatusOK, res)
}

func (h *PointsHandler) Balance(c *gin.Context) {
	tenant, ok := tenantOrAbort(c)
	if !ok {
		return
	}
	bal, err := h.ledger.GetBalance(c.Request.Context(), tenant.ID, c.Param("member_id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

func (h *PointsHandler) Transactions(c *gin.Context) {
	tenant, ok := tenantOrAbort(c)
	if !ok {
		return
	}
	txs, err := h.ledger.ListTransactions(c.Request.Context(), tenant.ID, c.Param("member_id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, txs)
}

func (h *PointsHandler) Transaction(c *gin.Context) {
	tenant, ok := tenantOrAbort(c)
	if !ok {
		return
	}
	txID, ok := transactionID(c)
	if !ok {
		return
	}
	view, err := h.ledger.GetTransaction(c.Request.Context(), tenant.ID, txID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func tenantOrAbort(c *gin.Context) (*model.Tenant, bool) {
	tenant, ok := middleware.TenantFrom(c)
	if !ok {
		c.Error(apperrors.New(apperrors.ErrAuthFailed, "unauthorized: missing tenant context", nil))
		return nil, false
	}
	return tenant, true
}

func transactionID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.Error(apperrors.NewValidation("invalid transaction id %q", c.Param("id")))
		return 0, false
	}
	return id, true
}
