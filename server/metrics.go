package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	errorCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "geoworld_server",
		Name:      "error_total",
		Help:      "The total number of errors occurring",
	})

	featureHitCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "geoworld_server",
		Name:      "feature_cache_hit_total",
		Help:      "Features cache hits",
	})

	featureMissCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "geoworld_server",
		Name:      "feature_cache_miss_total",
		Help:      "Features cache misses",
	})

	queryCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoworld_server",
		Name:      "query_total",
		Help:      "Queries by kind",
	}, []string{"query"})

	worldGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "geoworld_server",
		Name:      "world_elements",
		Help:      "Indexed elements in the loaded world.",
	}, []string{"kind"})
)
