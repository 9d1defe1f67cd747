package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreHits tracks successful record lookups
	StoreHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bulk_store_hits_total",
			Help: "Total number of session record lookups that found a record",
		},
	)

	// StoreMisses tracks lookups of unknown or expired sessions
	StoreMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bulk_store_misses_total",
			Help: "Total number of session record lookups that found nothing",
		},
	)

	// StoreErrors tracks store operation errors
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_store_errors_total",
			Help: "Total number of session store operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)

	// StoreBytesWritten tracks encoded record bytes written to Redis
	StoreBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bulk_store_bytes_written_total",
			Help: "Total number of encoded session record bytes written",
		},
	)
)
