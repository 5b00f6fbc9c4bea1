// Package metrics exposes the service's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PredictionsTotal counts served ensemble predictions per symbol.
	PredictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hlc",
		Name:      "predictions_total",
		Help:      "Ensemble predictions served, by symbol.",
	}, []string{"symbol"})

	// CollectorErrorsTotal counts collection failures per symbol.
	CollectorErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hlc",
		Name:      "collector_errors_total",
		Help:      "Failed collection ticks, by symbol.",
	}, []string{"symbol"})

	// BufferDroppedTotal counts training samples evicted from a full buffer.
	BufferDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hlc",
		Name:      "buffer_dropped_total",
		Help:      "Training samples dropped on buffer overflow.",
	})

	// OnlineUpdatesTotal counts samples applied to online learners.
	OnlineUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hlc",
		Name:      "online_updates_total",
		Help:      "Samples applied through partial fit.",
	})

	// BatchRetrainsTotal counts completed batch training runs by outcome.
	BatchRetrainsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hlc",
		Name:      "batch_retrains_total",
		Help:      "Batch training runs, by outcome.",
	}, []string{"outcome"})
)
