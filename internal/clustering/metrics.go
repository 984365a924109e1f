package clustering

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ClusteringTotal counts ProcessGrievance outcomes:
	// created, merged, duplicate, unclustered or error
	ClusteringTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grievance_clustering_total",
			Help: "Grievances processed by the cluster aggregator, by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(ClusteringTotal)
}
