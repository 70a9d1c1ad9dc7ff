// Command sweeper runs one maintenance pass against the ledger database and
// exits: promotion/expiry sweep, retention cleanup, and an outbox backlog report.
// It is safe to run next to live servers; every ledger transition it makes is
// conditional on the row version it read.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoPolymarket/pointgate/internal/config"
	"github.com/GoPolymarket/pointgate/internal/fraud"
	"github.com/GoPolymarket/pointgate/internal/ledger"
	"github.com/GoPolymarket/pointgate/internal/manager"
	"github.com/GoPolymarket/pointgate/internal/pkg/logger"
	"github.com/GoPolymarket/pointgate/internal/policy"
	"github.com/GoPolymarket/pointgate/internal/repository"
	"github.com/GoPolymarket/pointgate/internal/service"
	"github.com/spf13/pflag"
)

type report struct {
	Sweep         ledger.SweepReport `json:"sweep"`
	OutboxBacklog int64              `json:"outbox_backlog"`
	CleanupErrors []string           `json:"cleanup_errors,omitempty"`
}

func main() {
	config.Flags(pflag.CommandLine)
	skipCleanup := pflag.Bool("skip-cleanup", false, "only sweep, keep expired idempotency keys, audit rows and fraud profiles")
	pflag.Parse()

	cfg, err := config.Load(pflag.CommandLine)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(logger.Options{Level: cfg.Log.Level})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repository.NewDB(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	engine, err := policy.NewEngine(policy.WithDefaultWindow(cfg.Defaults.DefaultWindow))
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}
	tenantRepo := repository.NewTenantRepo(db)
	tenants := service.NewTenantManager(cfg.Defaults, engine, tenantRepo)
	if err := tenants.Sync(ctx, tenantRepo); err != nil {
		logger.Warn("tenant sync failed", "error", err)
	}

	fraudRepo := repository.NewFraudProfileRepo(db)
	store := repository.NewLedgerStore(db, cfg.Outbox.NotifyChannel)
	svc, err := ledger.NewService(store, tenants, engine, fraud.NewDetector(fraudRepo), manager.NewMemberLocker(cfg.Ledger.LockTimeout), cfg.Ledger.NodeID)
	if err != nil {
		log.Fatalf("Failed to initialize ledger: %v", err)
	}

	var out report
	out.Sweep, err = svc.Sweep(ctx, cfg.Ledger.SweepBatchSize, cfg.Ledger.SweepParallelism)
	if err != nil {
		logger.Error("sweep failed", "error", err)
	}

	if !*skipCleanup {
		idemRetention := time.Duration(cfg.Database.IdempotencyRetentionHours) * time.Hour
		auditRetention := time.Duration(cfg.Database.AuditRetentionDays) * 24 * time.Hour
		for name, cleanup := range map[string]func() error{
			"idempotency": func() error { return repository.NewIdempotencyRepo(db).Cleanup(ctx, idemRetention) },
			"audit":       func() error { return repository.NewAuditRepo(db).Cleanup(ctx, auditRetention) },
			"fraud":       func() error { return fraudRepo.Cleanup(ctx) },
		} {
			if err := cleanup(); err != nil {
				logger.Error("cleanup failed", "table", name, "error", err)
				out.CleanupErrors = append(out.CleanupErrors, name+": "+err.Error())
			}
		}
	}

	if out.OutboxBacklog, err = store.Backlog(ctx); err != nil {
		logger.Error("failed to count outbox backlog", "error", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
