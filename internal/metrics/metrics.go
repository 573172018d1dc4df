// Package metrics exposes Prometheus collectors for the sync engine.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchRequestsTotal   *prometheus.CounterVec
	targetsTotal         *prometheus.CounterVec
	checkpointFlushTotal prometheus.Counter
	pacingDelaySeconds   prometheus.Histogram

	once sync.Once
)

// Init registers the collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		fetchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wikisync_fetch_requests_total",
				Help: "Fetch attempts by outcome (ok, not_found, rate_limited, retry, error).",
			},
			[]string{"outcome"},
		)

		targetsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wikisync_targets_total",
				Help: "Targets recorded by outcome (found, no_data, errored, cached).",
			},
			[]string{"outcome"},
		)

		checkpointFlushTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "wikisync_checkpoint_flushes_total",
				Help: "Completed checkpoint flushes.",
			},
		)

		pacingDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wikisync_pacing_delay_seconds",
				Help:    "Inter-request pacing waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)
	})
}

// Handler returns an http.Handler exposing the collectors.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch counts one fetch attempt outcome.
func ObserveFetch(outcome string) {
	if fetchRequestsTotal == nil {
		return
	}
	fetchRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveTarget counts one recorded target outcome.
func ObserveTarget(outcome string) {
	if targetsTotal == nil {
		return
	}
	targetsTotal.WithLabelValues(outcome).Inc()
}

// ObserveFlush counts one checkpoint flush.
func ObserveFlush() {
	if checkpointFlushTotal == nil {
		return
	}
	checkpointFlushTotal.Inc()
}

// ObservePacingDelay records a pacing wait.
func ObservePacingDelay(d time.Duration) {
	if pacingDelaySeconds == nil {
		return
	}
	pacingDelaySeconds.Observe(d.Seconds())
}
