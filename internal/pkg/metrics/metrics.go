package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LedgerOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pointgate_ledger_operations_total",
		Help: "Ledger operations by result",
	}, []string{"op", "result"})

	Points = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pointgate_points_total",
		Help: "Points moved by ledger operations",
	}, []string{"op"})

	FraudDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pointgate_fraud_decisions_total",
		Help: "Fraud screening verdicts",
	}, []string{"verdict", "action"})

	OutboxDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pointgate_outbox_deliveries_total",
		Help: "Outbox deliveries per sink",
	}, []string{"sink", "result"})

	OutboxBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pointgate_outbox_backlog",
		Help: "Events fetched but not yet delivered in the last relay pass",
	})

	SweepTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pointgate_sweep_transitions_total",
		Help: "Transactions moved by the promotion/expiry sweep",
	}, []string{"to"})

	TenantReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pointgate_tenant_config_reloads_total",
		Help: "Tenant config apply attempts",
	}, []string{"result"})

	AuditDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pointgate_audit_dropped_total",
		Help: "Audit entries dropped because the writer queue was full",
	})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pointgate_http_latency_seconds",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)
