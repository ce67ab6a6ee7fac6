// Package metrics exposes Prometheus collectors for the export processor.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	buildsDiscoveredTotal prometheus.Counter
	buildsCompletedTotal  *prometheus.CounterVec
	buildsInFlight        prometheus.Gauge
	buildQueueDepth       prometheus.Gauge
	eventsDispatchedTotal *prometheus.CounterVec
	streamErrorsTotal     *prometheus.CounterVec
	streamRetriesTotal    *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to
// call multiple times. Observe helpers are no-ops until Init runs, so
// packages remain testable without it.
func Init() {
	once.Do(func() {
		buildsDiscoveredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "exportstream_builds_discovered_total",
				Help: "Total builds received on the top-level feed.",
			},
		)

		buildsCompletedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exportstream_builds_completed_total",
				Help: "Total builds whose processing finished, labeled by status.",
			},
			[]string{"status"},
		)

		buildsInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "exportstream_builds_in_flight",
				Help: "Number of builds currently admitted for processing.",
			},
		)

		buildQueueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "exportstream_build_queue_depth",
				Help: "Number of builds waiting for an admission slot.",
			},
		)

		eventsDispatchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exportstream_events_dispatched_total",
				Help: "Total build events routed to observers, labeled by event type.",
			},
			[]string{"event_type"},
		)

		streamErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exportstream_stream_errors_total",
				Help: "Total transport errors observed, labeled by stream.",
			},
			[]string{"stream"},
		)

		streamRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exportstream_stream_retries_total",
				Help: "Total errors that consumed retry budget, labeled by stream.",
			},
			[]string{"stream"},
		)
	})
}

// Handler returns an http.Handler exposing the collectors.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveBuildDiscovered counts a build received on the top-level feed.
func ObserveBuildDiscovered() {
	if buildsDiscoveredTotal == nil {
		return
	}
	buildsDiscoveredTotal.Inc()
}

// ObserveBuildCompleted counts a finished build with the given status.
func ObserveBuildCompleted(status string) {
	if buildsCompletedTotal == nil {
		return
	}
	buildsCompletedTotal.WithLabelValues(status).Inc()
}

// IncBuildsInFlight increments the admitted-builds gauge.
func IncBuildsInFlight() {
	if buildsInFlight == nil {
		return
	}
	buildsInFlight.Inc()
}

// DecBuildsInFlight decrements the admitted-builds gauge.
func DecBuildsInFlight() {
	if buildsInFlight == nil {
		return
	}
	buildsInFlight.Dec()
}

// SetQueueDepth records the pending-queue depth.
func SetQueueDepth(depth int) {
	if buildQueueDepth == nil {
		return
	}
	buildQueueDepth.Set(float64(depth))
}

// ObserveEventDispatched counts one routed build event.
func ObserveEventDispatched(eventType string) {
	if eventsDispatchedTotal == nil {
		return
	}
	eventsDispatchedTotal.WithLabelValues(eventType).Inc()
}

// ObserveStreamError counts a transport error on the named stream.
func ObserveStreamError(stream string) {
	if streamErrorsTotal == nil {
		return
	}
	streamErrorsTotal.WithLabelValues(stream).Inc()
}

// ObserveStreamRetry counts an error that consumed retry budget.
func ObserveStreamRetry(stream string) {
	if streamRetriesTotal == nil {
		return
	}
	streamRetriesTotal.WithLabelValues(stream).Inc()
}
