package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for monitoring lifecycle and settlement health
var (
	ReconcilePassesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconcile_passes_total",
			Help: "Total number of reconciliation passes run",
		},
	)

	ContestTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contest_transitions_total",
			Help: "Total number of contest status transitions, by target status",
		},
		[]string{"to_status"},
	)

	ReconcileErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconcile_errors_total",
			Help: "Total number of per-contest errors during reconciliation",
		},
	)

	SettlementRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_runs_total",
			Help: "Total number of settlement attempts, by outcome",
		},
		[]string{"outcome"},
	)

	PaymentIntentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_intents_total",
			Help: "Total number of payment intent creations, by result",
		},
		[]string{"result"},
	)

	ProcessorEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "processor_events_total",
			Help: "Total number of processor webhook deliveries, by disposition",
		},
		[]string{"disposition"},
	)

	ReconcilePassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconcile_pass_duration_seconds",
			Help:    "Duration of a full reconciliation pass",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Register registers all Prometheus metrics
func Register() {
	prometheus.MustRegister(ReconcilePassesTotal)
	prometheus.MustRegister(ContestTransitionsTotal)
	prometheus.MustRegister(ReconcileErrorsTotal)
	prometheus.MustRegister(SettlementRunsTotal)
	prometheus.MustRegister(PaymentIntentsTotal)
	prometheus.MustRegister(ProcessorEventsTotal)
	prometheus.MustRegister(ReconcilePassDuration)
}
