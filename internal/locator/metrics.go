package locator

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// AssetLookupsTotal counts lookups by the stage that matched ("none" for misses)
	AssetLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grievance_asset_lookups_total",
			Help: "Asset lookups by matching stage",
		},
		[]string{"stage"},
	)

	// AssetCacheTotal counts cache hits and misses of the cached locator
	AssetCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grievance_asset_cache_total",
			Help: "Asset lookup cache results",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(AssetLookupsTotal)
	prometheus.MustRegister(AssetCacheTotal)
}
