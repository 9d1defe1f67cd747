package bulk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WavesTotal counts dispatched waves by outcome ("ok", "failed", "abandoned").
	WavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_waves_total",
			Help: "Total number of bulk waves dispatched by outcome",
		},
		[]string{"outcome"},
	)

	// ItemsTotal counts items by final status.
	ItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_items_total",
			Help: "Total number of bulk items by final status",
		},
		[]string{"status"},
	)

	// WaveSize observes the number of items per wave.
	WaveSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bulk_wave_size",
			Help:    "Number of items per dispatched wave",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		},
	)

	// SessionDuration observes the wall time of Runner.Run.
	SessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bulk_session_duration_seconds",
			Help:    "Duration of bulk sessions in seconds, including resubmission rounds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)
)
