package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the trading core.
type Metrics struct {
	// Gateway
	DecisionsApproved prometheus.Counter
	DecisionsRejected *prometheus.CounterVec

	// Reconciliation
	SyncSuccess  prometheus.Counter
	SyncFailure  *prometheus.CounterVec
	SyncDuration prometheus.Histogram
	LedgerStale  prometheus.Gauge
	Equity       prometheus.Gauge

	// Coordinator
	StructuresOpened     *prometheus.CounterVec
	StructureTransitions *prometheus.CounterVec
	LockContentions      prometheus.Counter

	// Unwind
	UnwindsStarted    prometheus.Counter
	StaleOrderCancels prometheus.Counter
}

// NewMetrics registers all metrics on the given registerer. Pass
// prometheus.DefaultRegisterer in production or a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DecisionsApproved: factory.NewCounter(prometheus.CounterOpts{
			Name: "tradegate_decisions_approved_total",
			Help: "Trade proposals approved by the risk gateway.",
		}),
		DecisionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tradegate_decisions_rejected_total",
			Help: "Trade proposals rejected by the risk gateway, by reason.",
		}, []string{"reason"}),
		SyncSuccess: factory.NewCounter(prometheus.CounterOpts{
			Name: "tradegate_sync_success_total",
			Help: "Successful reconciliation cycles.",
		}),
		SyncFailure: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tradegate_sync_failure_total",
			Help: "Failed reconciliation cycles, by cause.",
		}, []string{"cause"}),
		SyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradegate_sync_duration_seconds",
			Help:    "Duration of one reconciliation cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		LedgerStale: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tradegate_ledger_stale",
			Help: "1 when the ledger is past its staleness bound, else 0.",
		}),
		Equity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tradegate_equity_dollars",
			Help: "Account equity from the last successful sync.",
		}),
		StructuresOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tradegate_structures_opened_total",
			Help: "Structures submitted for execution, by strategy kind.",
		}, []string{"kind"}),
		StructureTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tradegate_structure_transitions_total",
			Help: "Structure state transitions, by target state.",
		}, []string{"to"}),
		LockContentions: factory.NewCounter(prometheus.CounterOpts{
			Name: "tradegate_lock_contentions_total",
			Help: "Executions rejected because the strategy/underlying lock was busy.",
		}),
		UnwindsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tradegate_unwinds_started_total",
			Help: "Structures moved into UNWINDING by the unwind manager.",
		}),
		StaleOrderCancels: factory.NewCounter(prometheus.CounterOpts{
			Name: "tradegate_stale_order_cancels_total",
			Help: "Stale SUBMITTED orders cancelled by the sweep.",
		}),
	}
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
