package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/GoPolymarket/pointgate/internal/model"
	"github.com/GoPolymarket/pointgate/internal/pkg/apperrors"
	"github.com/GoPolymarket/pointgate/internal/service"
	"github.com/gin-gonic/gin"
)

type TenantHandler struct {
	svc *service.TenantService
}

func NewTenantHandler(svc *service.TenantService) *TenantHandler {
	return &TenantHandler{svc: svc}
}

func (h *TenantHandler) List(c *gin.Context) {
	tenants, err := h.svc.List(c.Request.Context(), queryInt(c, "limit", 100), queryInt(c, "offset", 0))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toTenantPublicList(tenants))
}

func (h *TenantHandler) Get(c *gin.Context) {
	tenant, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toTenantPublic(tenant))
}

func (h *TenantHandler) Create(c *gin.Context) {
	var req model.Tenant
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	tenant, err := h.svc.Create(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, toTenantPublic(tenant))
}

// Replace swaps the whole config; the path id wins over any id in the body.
func (h *TenantHandler) Replace(c *gin.Context) {
	var req model.Tenant
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	tenant, err := h.svc.Replace(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toTenantPublic(tenant))
}

func (h *TenantHandler) Update(c *gin.Context) {
	var req service.TenantUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	tenant, err := h.svc.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toTenantPublic(tenant))
}

func (h *TenantHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// TenantPublic is a tenant config with its credentials masked.
type TenantPublic struct {
	ID        string                `json:"id"`
	Name      string                `json:"name"`
	APIKey    string                `json:"api_key"`
	Version   int64                 `json:"version"`
	Rate      model.RateLimitConfig `json:"rate_limit"`
	Policies  model.PolicySet       `json:"policies"`
	Fraud     model.FraudRules      `json:"fraud"`
	Refund    model.RefundRules     `json:"refund"`
	Ledger    model.LedgerOptions   `json:"ledger"`
	Webhook   model.WebhookTarget   `json:"webhook"`
	Chain     model.ChainTarget     `json:"chain"`
	UpdatedAt time.Time             `json:"updated_at"`
}

func toTenantPublic(t *model.Tenant) *TenantPublic {
	if t == nil {
		return nil
	}
	webhook := t.Webhook
	webhook.Secret = maskSecret(webhook.Secret)
	return &TenantPublic{
		ID:        t.ID,
		Name:      t.Name,
		APIKey:    maskSecret(t.APIKey),
		Version:   t.Version,
		Rate:      t.Rate,
		Policies:  t.Policies,
		Fraud:     t.Fraud,
		Refund:    t.Refund,
		Ledger:    t.Ledger,
		Webhook:   webhook,
		Chain:     t.Chain,
		UpdatedAt: t.UpdatedAt,
	}
}

func toTenantPublicList(tenants []*model.Tenant) []*TenantPublic {
	out := make([]*TenantPublic, 0, len(tenants))
	for _, tenant := range tenants {
		out = append(out, toTenantPublic(tenant))
	}
	return out
}

func maskSecret(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return "****"
	}
	return value[:4] + "..." + value[len(value)-4:]
}
