package upload

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bulk_upload_active",
			Help: "Number of uploads currently in flight",
		},
	)

	uploadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_upload_total",
			Help: "Total number of finished uploads by status",
		},
		[]string{"status"}, // "completed", "failed"
	)

	uploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bulk_upload_duration_seconds",
			Help:    "Duration of single uploads in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)
