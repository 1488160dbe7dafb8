package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	versionGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "geoworldd",
		Name:      "version",
		Help:      "App version.",
	}, []string{"version"})

	dataVersionGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "geoworldd",
		Name:      "dataset_version",
		Help:      "Dataset version.",
	}, []string{"version"})

	reloadCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoworldd",
		Name:      "reload_total",
		Help:      "World reloads by status.",
	}, []string{"status"})
)
