// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for:
// - gateway requests and downloads
// - wrapped server output and lifecycle
// - status snapshot rebuilds and the upstream breaker
// - geo provider attempts

var (
	// Gateway Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acwrapper_http_requests_total",
			Help: "Total number of gateway requests",
		},
		[]string{"method", "route", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "acwrapper_http_request_duration_seconds",
			Help:    "Gateway request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5, 30},
		},
		[]string{"method", "route"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "acwrapper_http_active_requests",
			Help: "Current number of in-flight gateway requests",
		},
	)

	ContentBytesServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acwrapper_content_bytes_served_total",
			Help: "Bytes streamed for file downloads",
		},
		[]string{"kind"}, // "content", "static", "api"
	)

	// Wrapped Server Metrics
	WrappedServerUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "acwrapper_wrapped_server_up",
			Help: "1 while the wrapped server process is running",
		},
	)

	WrappedServerReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "acwrapper_wrapped_server_ready",
			Help: "1 once the wrapped server internal HTTP port is known",
		},
	)

	LogLinesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acwrapper_log_lines_total",
			Help: "Wrapped server output lines by classification",
		},
		[]string{"kind"},
	)

	// Snapshot Metrics
	SnapshotRebuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acwrapper_snapshot_rebuilds_total",
			Help: "Status snapshot rebuilds by result",
		},
		[]string{"result"}, // "success", "error"
	)

	SnapshotRebuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "acwrapper_snapshot_rebuild_duration_seconds",
			Help:    "Duration of status snapshot rebuilds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	SnapshotSharedRebuilds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "acwrapper_snapshot_shared_rebuilds_total",
			Help: "Callers that joined an in-flight rebuild instead of starting one",
		},
	)

	SnapshotResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acwrapper_snapshot_responses_total",
			Help: "Status responses served by body kind",
		},
		[]string{"mode"}, // "shared", "per_requester"
	)

	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acwrapper_upstream_requests_total",
			Help: "Requests to the wrapped server internal API",
		},
		[]string{"endpoint", "result"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "acwrapper_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acwrapper_circuit_breaker_requests_total",
			Help: "Requests through the circuit breaker by result",
		},
		[]string{"name", "result"}, // "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acwrapper_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Geo Metrics
	GeoAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acwrapper_geo_attempts_total",
			Help: "Geo provider lookups by provider and result",
		},
		[]string{"provider", "result"},
	)
)

// RecordAPIRequest records one gateway request.
func RecordAPIRequest(method, route, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// TrackActiveRequest increments or decrements the in-flight gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordRebuild records the outcome of one snapshot rebuild.
func RecordRebuild(duration time.Duration, err error) {
	SnapshotRebuildDuration.Observe(duration.Seconds())
	if err != nil {
		SnapshotRebuildsTotal.WithLabelValues("error").Inc()
		return
	}
	SnapshotRebuildsTotal.WithLabelValues("success").Inc()
}

// RecordUpstream records one internal API call.
func RecordUpstream(endpoint string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	UpstreamRequestsTotal.WithLabelValues(endpoint, result).Inc()
}

// RecordGeoAttempt records one provider lookup.
func RecordGeoAttempt(provider string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	GeoAttemptsTotal.WithLabelValues(provider, result).Inc()
}

// SetBool sets g to 1 or 0.
func SetBool(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}
