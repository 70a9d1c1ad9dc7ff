package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GoPolymarket/pointgate/internal/model"
	"github.com/GoPolymarket/pointgate/internal/pkg/apperrors"
	"github.com/GoPolymarket/pointgate/internal/pkg/logger"
	"github.com/GoPolymarket/pointgate/internal/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

type SweepReport struct {
	Scanned   int `json:"scanned"`
	Promoted  int `json:"promoted"`
	Expired   int `json:"expired"`
	Conflicts int `json:"conflicts"`
	Failed    int `json:"failed"`
}

// Sweep promotes or expires due PENDING transactions. Members are processed in
// parallel, each member's transactions one at a time. Safe to run concurrently
// with itself: every transition is conditional on the transaction still being PENDING.
func (s *Service) Sweep(ctx context.Context, limit, parallelism int) (SweepReport, error) {
	due, err := s.store.ListDue(ctx, s.now(), limit)
	if err != nil {
		return SweepReport{}, err
	}

	groups := make(map[string][]*model.PointTransaction)
	var order []string
	for _, tx := range due {
		key := tx.TenantID + "/" + tx.MemberID
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], tx)
	}

	var promoted, expired, conflicts, failed int64
	var (
		mu   sync.Mutex
		errs []error
	)
	// Members are independent: one member's failure is logged and counted,
	// and never stops the others.
	var g errgroup.Group
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for _, key := range order {
		txs := groups[key]
		g.Go(func() error {
			for _, tx := range txs {
				if ctx.Err() != nil {
					return nil
				}
				to, err := s.settle(ctx, tx)
				switch {
				case apperrors.IsType(err, apperrors.ErrConcurrencyConflict):
					atomic.AddInt64(&conflicts, 1)
					logger.Warn("sweep conflict", "tenant_id", tx.TenantID, "transaction_id", tx.ID, "error", err)
				case err != nil:
					atomic.AddInt64(&failed, 1)
					logger.Error("sweep failed for transaction", "tenant_id", tx.TenantID, "member_id", tx.MemberID, "transaction_id", tx.ID, "error", err)
					mu.Lock()
					errs = append(errs, fmt.Errorf("transaction %d: %w", tx.ID, err))
					mu.Unlock()
				case to == model.StateAvailable:
					atomic.AddInt64(&promoted, 1)
					metrics.SweepTransitions.WithLabelValues(string(to)).Inc()
				case to == model.StateExpired:
					atomic.AddInt64(&expired, 1)
					metrics.SweepTransitions.WithLabelValues(string(to)).Inc()
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	report := SweepReport{
		Scanned:   len(due),
		Promoted:  int(promoted),
		Expired:   int(expired),
		Conflicts: int(conflicts),
		Failed:    int(failed),
	}
	if report.Promoted+report.Expired+report.Failed > 0 {
		logger.Info("sweep finished", "scanned", report.Scanned, "promoted", report.Promoted, "expired", report.Expired, "conflicts", report.Conflicts, "failed", report.Failed)
	}
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return report, errors.Join(errs...)
}

// settle applies whichever transition is due and returns the new state, or "" if
// this call changed nothing.
func (s *Service) settle(ctx context.Context, tx *model.PointTransaction) (model.State, error) {
	cur, changed, err := s.advance(ctx, tx.TenantID, tx.ID, model.StateAvailable)
	if err != nil {
		return "", err
	}
	if changed {
		return model.StateAvailable, nil
	}
	if cur.State != model.StatePending {
		return "", nil
	}
	_, changed, err = s.advance(ctx, tx.TenantID, tx.ID, model.StateExpired)
	if err != nil || !changed {
		return "", err
	}
	return model.StateExpired, nil
}

// RunSweeper sweeps on every tick until ctx is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration, limit, parallelism int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, limit, parallelism); err != nil && ctx.Err() == nil {
				logger.Error("sweep failed", "error", err)
			}
		}
	}
}
