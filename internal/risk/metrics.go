package risk

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RiskRunsTotal counts runs by result: success, error or busy
	RiskRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grievance_risk_runs_total",
			Help: "Risk engine runs by result",
		},
		[]string{"result"},
	)

	RiskRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "grievance_risk_run_duration_seconds",
			Help:    "Duration of risk engine runs",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RiskClustersScored is the number of clusters scored by the last successful run
	RiskClustersScored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "grievance_risk_clusters_scored",
			Help: "Clusters scored by the last successful risk run",
		},
	)
)

func init() {
	prometheus.MustRegister(RiskRunsTotal)
	prometheus.MustRegister(RiskRunDuration)
	prometheus.MustRegister(RiskClustersScored)
}
