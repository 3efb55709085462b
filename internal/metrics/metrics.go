// Package metrics exposes Prometheus collectors for the polling service.
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
	pollsTotal           *prometheus.CounterVec
	pollDurationSeconds  *prometheus.HistogramVec
	statusChangesTotal   *prometheus.CounterVec
	simulatedTotal       *prometheus.CounterVec
	ticksInFlight        prometheus.Gauge
	ticksCoalescedTotal  prometheus.Counter
	persistFailuresTotal prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pollsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "visawatch_polls_total",
				Help: "Total number of poll attempts, labeled by country and outcome.",
			},
			[]string{"country", "outcome"},
		)

		pollDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "visawatch_poll_duration_seconds",
				Help:    "Histogram of poll latencies, labeled by country.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"country"},
		)

		statusChangesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "visawatch_status_changes_total",
				Help: "Total number of detected status changes, labeled by new status.",
			},
			[]string{"status"},
		)

		simulatedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "visawatch_simulated_results_total",
				Help: "Total number of simulated (degraded) results, labeled by country.",
			},
			[]string{"country"},
		)

		ticksInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "visawatch_ticks_in_flight",
				Help: "Number of scheduler ticks currently executing.",
			},
		)

		ticksCoalescedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "visawatch_ticks_coalesced_total",
				Help: "Total ticks dropped because the previous tick for the same entity was still running.",
			},
		)

		persistFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "visawatch_persist_failures_total",
				Help: "Total poll attempts whose log/entity write failed.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePoll records one poll attempt.
func ObservePoll(country string, outcome string, duration time.Duration) {
	pollsTotal.WithLabelValues(country, outcome).Inc()
	pollDurationSeconds.WithLabelValues(country).Observe(duration.Seconds())
}

// ObserveStatusChange increments the change counter for the new status.
func ObserveStatusChange(status string) {
	statusChangesTotal.WithLabelValues(status).Inc()
}

// ObserveSimulated counts a degraded/simulated result.
func ObserveSimulated(country string) {
	simulatedTotal.WithLabelValues(country).Inc()
}

// IncTicksInFlight increments the in-flight tick gauge.
func IncTicksInFlight() {
	ticksInFlight.Inc()
}

// DecTicksInFlight decrements the in-flight tick gauge.
func DecTicksInFlight() {
	ticksInFlight.Dec()
}

// ObserveCoalescedTick counts a dropped overlapping tick.
func ObserveCoalescedTick() {
	ticksCoalescedTotal.Inc()
}

// ObservePersistFailure counts a failed log/entity write.
func ObservePersistFailure() {
	persistFailuresTotal.Inc()
}
