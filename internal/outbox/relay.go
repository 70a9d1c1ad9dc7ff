// Package outbox delivers committed ledger events to external sinks at least once.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GoPolymarket/pointgate/internal/model"
	"github.com/GoPolymarket/pointgate/internal/pkg/apperrors"
	"github.com/GoPolymarket/pointgate/internal/pkg/logger"
	"github.com/GoPolymarket/pointgate/internal/pkg/metrics"
	"github.com/cenkalti/backoff/v4"
)

// Sink receives event bodies. It returns nil when the event does not apply to it,
// for example a tenant without a webhook URL.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, tenant *model.Tenant, ev model.EventBody) error
}

type Store interface {
	FetchPending(ctx context.Context, now time.Time, limit int) ([]*model.OutboxEvent, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error
}

type TenantProvider interface {
	Tenant(tenantID string) (*model.Tenant, bool)
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	// SinkTimeout bounds one delivery attempt to one sink.
	SinkTimeout time.Duration
}

// Relay polls the outbox and fans each event out to every sink. An event is
// delivered only when all sinks accept it; otherwise the whole event is retried.
type Relay struct {
	store   Store
	tenants TenantProvider
	sinks   []Sink
	cfg     Config
	wake    chan struct{}
	now     func() time.Time
}

func NewRelay(store Store, tenants TenantProvider, cfg Config, sinks ...Sink) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = 10 * time.Minute
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 10 * time.Second
	}
	return &Relay{
		store:   store,
		tenants: tenants,
		sinks:   sinks,
		cfg:     cfg,
		wake:    make(chan struct{}, 1),
		now:     time.Now,
	}
}

// Wake triggers a pass before the next poll tick. It never blocks.
func (r *Relay) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run loops until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	logger.Info("outbox relay started", "sinks", len(r.sinks), "interval", r.cfg.PollInterval.String())
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			logger.Error("outbox pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			logger.Info("outbox relay stopped")
			return
		case <-ticker.C:
		case <-r.wake:
		}
	}
}

type PassReport struct {
	Fetched   int
	Delivered int
	Failed    int
}

// RunOnce delivers one batch of due events.
func (r *Relay) RunOnce(ctx context.Context) (PassReport, error) {
	events, err := r.store.FetchPending(ctx, r.now(), r.cfg.BatchSize)
	if err != nil {
		return PassReport{}, fmt.Errorf("fetch pending events: %w", err)
	}
	report := PassReport{Fetched: len(events)}
	metrics.OutboxBacklog.Set(float64(len(events)))

	for _, ev := range events {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if err := r.deliver(ctx, ev); err != nil {
			report.Failed++
			attempts := ev.Attempts + 1
			next := r.now().Add(r.delay(attempts))
			if markErr := r.store.MarkFailed(ctx, ev.ID, attempts, next, truncate(err.Error(), 500)); markErr != nil {
				return report, fmt.Errorf("mark event %s failed: %w", ev.ID, markErr)
			}
			logger.Warn("outbox delivery failed",
				"event_id", ev.ID,
				"type", ev.Type,
				"tenant_id", ev.TenantID,
				"attempts", attempts,
				"next_attempt_at", next,
				"error", err,
			)
			continue
		}
		if err := r.store.MarkDelivered(ctx, ev.ID, r.now()); err != nil {
			return report, fmt.Errorf("mark event %s delivered: %w", ev.ID, err)
		}
		report.Delivered++
	}
	return report, nil
}

func (r *Relay) deliver(ctx context.Context, ev *model.OutboxEvent) error {
	body, err := ev.Body()
	if err != nil {
		return err
	}
	tenant, _ := r.tenants.Tenant(ev.TenantID)

	var errs []error
	for _, sink := range r.sinks {
		sctx, cancel := context.WithTimeout(ctx, r.cfg.SinkTimeout)
		err := sink.Deliver(sctx, tenant, body)
		cancel()
		if err != nil {
			metrics.OutboxDeliveries.WithLabelValues(sink.Name(), "error").Inc()
			errs = append(errs, apperrors.NewExternalDependency(sink.Name(), err))
			continue
		}
		metrics.OutboxDeliveries.WithLabelValues(sink.Name(), "ok").Inc()
	}
	return errors.Join(errs...)
}

// delay is the exponential backoff interval before the given attempt.
func (r *Relay) delay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.BaseBackoff
	b.MaxInterval = r.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()
	d := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
