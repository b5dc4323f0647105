package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileFindings = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Subsystem: "reconciliation",
		Name:      "findings",
		Help:      "Invariant violations found in the last reconciliation run, by check.",
	}, []string{"check"})

	reconcileSupplyMatch = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Subsystem: "reconciliation",
		Name:      "supply_match",
		Help:      "1 if balances plus locked escrow matched deposits in the last run.",
	})

	reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sentinel",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs in seconds.",
		Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
	})

	reconcileErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Total reconciliation run errors.",
	})
)

func init() {
	prometheus.MustRegister(
		reconcileFindings,
		reconcileSupplyMatch,
		reconcileDuration,
		reconcileErrors,
	)
}
