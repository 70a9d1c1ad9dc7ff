package handler

import (
	"net/http"

	"github.com/GoPolymarket/pointgate/internal/config"
	"github.com/GoPolymarket/pointgate/internal/fraud"
	"github.com/GoPolymarket/pointgate/internal/ledger"
	"github.com/GoPolymarket/pointgate/internal/middleware"
	"github.com/GoPolymarket/pointgate/internal/service"
	"github.com/GoPolymarket/pointgate/internal/stream"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps is everything the HTTP surface talks to. Hub and Idempotency may be nil.
type Deps struct {
	Config      *config.Config
	Ledger      *ledger.Service
	Fraud       *fraud.Detector
	Tenants     *service.TenantManager
	TenantSvc   *service.TenantService
	Audit       *service.AuditService
	Hub         *stream.Hub
	Idempotency middleware.IdempotencyStore
}

func NewRouter(d Deps) *gin.Engine {
	cfg := d.Config
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.AuditMiddleware(d.Audit))
	r.Use(middleware.ErrorHandler())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "pointgate", "read_only": cfg.ReadOnly})
	})
	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(promhttp.Handler()))
	}

	points := NewPointsHandler(d.Ledger)
	audit := NewAuditHandler(d.Audit)

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg, d.Tenants))
	v1.Use(middleware.RateLimitMiddleware(d.Tenants))
	v1.Use(middleware.ReadOnlyMiddleware(cfg.ReadOnly))
	v1.Use(middleware.IdempotencyMiddleware(d.Idempotency))
	{
		v1.POST("/members/:member_id/awards", points.Award)
		v1.POST("/members/:member_id/redemptions", points.Redeem)
		v1.GET("/members/:member_id/balance", points.Balance)
		v1.GET("/members/:member_id/transactions", points.Transactions)
		v1.GET("/transactions/:id", points.Transaction)
		v1.POST("/transactions/:id/revoke", points.Revoke)
		v1.GET("/audit", audit.List)
		if d.Hub != nil {
			v1.GET("/stream", NewStreamHandler(d.Hub).Subscribe)
		}
	}

	tenants := NewTenantHandler(d.TenantSvc)
	fraudReview := NewFraudHandler(d.Fraud, d.Tenants)
	sweep := NewSweepHandler(d.Ledger, cfg.Ledger.SweepBatchSize, cfg.Ledger.SweepParallelism)

	admin := r.Group("/admin")
	admin.Use(middleware.AdminMiddleware(cfg))
	{
		admin.GET("/tenants", tenants.List)
		admin.POST("/tenants", tenants.Create)
		admin.GET("/tenants/:id", tenants.Get)
		admin.PUT("/tenants/:id", tenants.Replace)
		admin.PATCH("/tenants/:id", tenants.Update)
		admin.DELETE("/tenants/:id", tenants.Delete)
		admin.GET("/tenants/:id/members/:member_id/fraud", fraudReview.Profile)
		admin.DELETE("/tenants/:id/members/:member_id/fraud", fraudReview.Clear)
		admin.POST("/sweep", sweep.Run)
	}
	return r
}
