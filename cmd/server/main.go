package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoPolymarket/pointgate/internal/broker"
	"github.com/GoPolymarket/pointgate/internal/chain"
	"github.com/GoPolymarket/pointgate/internal/config"
	"github.com/GoPolymarket/pointgate/internal/fraud"
	"github.com/GoPolymarket/pointgate/internal/handler"
	"github.com/GoPolymarket/pointgate/internal/ledger"
	"github.com/GoPolymarket/pointgate/internal/manager"
	"github.com/GoPolymarket/pointgate/internal/middleware"
	"github.com/GoPolymarket/pointgate/internal/outbox"
	"github.com/GoPolymarket/pointgate/internal/pkg/logger"
	"github.com/GoPolymarket/pointgate/internal/policy"
	"github.com/GoPolymarket/pointgate/internal/repository"
	"github.com/GoPolymarket/pointgate/internal/service"
	"github.com/GoPolymarket/pointgate/internal/stream"
	"github.com/GoPolymarket/pointgate/internal/webhook"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	config.Flags(pflag.CommandLine)
	pflag.Parse()

	cfg, err := config.Load(pflag.CommandLine)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Persistence
	db, err := repository.NewDB(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	logger.Info("database ready", "driver", db.Dialector.Name())

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = repository.NewRedisClient(cfg.Redis)
		if err != nil {
			logger.Error("failed to connect to redis, falling back to database stores", "error", err)
			redisClient = nil
		} else {
			logger.Info("redis ready", "addr", cfg.Redis.Addr)
		}
	}

	var (
		fraudStore  fraud.Store                 = repository.NewFraudProfileRepo(db)
		idempotency middleware.IdempotencyStore = repository.NewIdempotencyRepo(db)
		auditRepo   service.AuditRepo           = repository.NewAuditRepo(db)
	)
	if redisClient != nil {
		fraudStore = repository.NewRedisFraudStore(redisClient, cfg.Redis.FraudKeyPrefix)
		idempotency = repository.NewRedisIdempotencyStore(redisClient, time.Duration(cfg.Redis.IdempotencyTTLSeconds)*time.Second)
		auditRepo = repository.NewRedisAuditRepo(redisClient, cfg.Redis.AuditListKey, cfg.Redis.AuditListMax)
	}

	// Tenants
	engine, err := policy.NewEngine(policy.WithDefaultWindow(cfg.Defaults.DefaultWindow))
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}
	tenantRepo := repository.NewTenantRepo(db)
	tenants := service.NewTenantManager(cfg.Defaults, engine, tenantRepo)
	if applied, err := tenants.LoadEntries(cfg.Tenants); err != nil {
		logger.Warn("some inline tenants were rejected", "applied", applied, "error", err)
	}
	if cfg.TenantsFile != "" {
		if err := tenants.WatchFile(cfg.TenantsFile); err != nil {
			log.Fatalf("Failed to load tenants file: %v", err)
		}
	}
	if err := tenants.Sync(ctx, tenantRepo); err != nil {
		logger.Warn("initial tenant sync failed", "error", err)
	}
	logger.Info("tenants loaded", "count", len(tenants.List()))

	// Ledger
	detector := fraud.NewDetector(fraudStore)
	ledgerStore := repository.NewLedgerStore(db, cfg.Outbox.NotifyChannel)
	ledgerSvc, err := ledger.NewService(ledgerStore, tenants, engine, detector, manager.NewMemberLocker(cfg.Ledger.LockTimeout), cfg.Ledger.NodeID)
	if err != nil {
		log.Fatalf("Failed to initialize ledger: %v", err)
	}

	// Outbox sinks
	var sinks []outbox.Sink
	if cfg.Webhook.Enabled {
		sinks = append(sinks, webhook.NewPublisher(cfg.Webhook.Timeout, cfg.Webhook.QPS, cfg.Webhook.Burst))
	}
	if cfg.Chain.RPCURL != "" {
		dialCtx, cancelDial := context.WithTimeout(ctx, cfg.Chain.Timeout)
		adapter, err := chain.Dial(dialCtx, cfg.Chain.RPCURL, cfg.Chain.Namespace)
		cancelDial()
		if err != nil {
			log.Fatalf("Failed to connect chain bridge: %v", err)
		}
		defer adapter.Close()
		sinks = append(sinks, adapter)
	}
	if cfg.NATS.URL != "" {
		nc, err := broker.Connect(broker.Config{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
			Token:         cfg.NATS.Token,
		})
		if err != nil {
			log.Fatalf("Failed to connect NATS: %v", err)
		}
		defer nc.Close()
		sinks = append(sinks, nc)
	}
	var hub *stream.Hub
	if cfg.Stream.Enabled {
		hub = stream.NewHub(cfg.Stream.Buffer)
		sinks = append(sinks, hub)
	}

	relay := outbox.NewRelay(ledgerStore, tenants, outbox.Config{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		BaseBackoff:  cfg.Outbox.BaseBackoff,
		MaxBackoff:   cfg.Outbox.MaxBackoff,
		SinkTimeout:  cfg.Webhook.Timeout,
	}, sinks...)

	auditSvc := service.NewAuditService(cfg.Audit, auditRepo)

	router := handler.NewRouter(handler.Deps{
		Config:      cfg,
		Ledger:      ledgerSvc,
		Fraud:       detector,
		Tenants:     tenants,
		TenantSvc:   service.NewTenantService(tenants, tenantRepo),
		Audit:       auditSvc,
		Hub:         hub,
		Idempotency: idempotency,
	})

	// Background loops stop with ctx
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { relay.Run(gctx); return nil })
	if db.Dialector.Name() == "postgres" {
		g.Go(func() error { outbox.Listen(gctx, cfg.Database.DSN, cfg.Outbox.NotifyChannel, relay); return nil })
	}
	if !cfg.ReadOnly && cfg.Ledger.SweepInterval > 0 {
		g.Go(func() error {
			ledgerSvc.RunSweeper(gctx, cfg.Ledger.SweepInterval, cfg.Ledger.SweepBatchSize, cfg.Ledger.SweepParallelism)
			return nil
		})
	}
	g.Go(func() error { tenants.RunSync(gctx, tenantRepo, cfg.TenantSync); return nil })

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("pointgate started", "port", cfg.Server.Port, "sinks", len(sinks), "read_only", cfg.ReadOnly)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	_ = g.Wait()
	auditSvc.Close()
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logger.Info("server exiting")
}
