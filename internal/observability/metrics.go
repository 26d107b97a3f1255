package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	storeWritesTotal      *prometheus.CounterVec
	signalingEventsTotal  *prometheus.CounterVec
	callsTotal            *prometheus.CounterVec
	heartbeatsTotal       prometheus.Counter
	requestsTotal         *prometheus.CounterVec
	requestLatencySeconds *prometheus.HistogramVec
)

// RegisterMetrics initialises the Prometheus collectors used across the service.
func RegisterMetrics() {
	registerOnce.Do(func() {
		storeWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trust_store_writes_total",
			Help: "Backend document writes performed by the hybrid store.",
		}, []string{"collection", "mode"})

		signalingEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trust_signaling_events_total",
			Help: "Call signaling operations by kind.",
		}, []string{"kind"})

		callsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trust_calls_total",
			Help: "Call attempts by terminal outcome.",
		}, []string{"outcome"})

		heartbeatsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trust_presence_heartbeats_total",
			Help: "Presence heartbeat writes issued.",
		})

		requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trust_requests_total",
			Help: "HTTP requests served.",
		}, []string{"method", "route", "status"})

		requestLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trust_request_latency_seconds",
			Help:    "Latency distribution for HTTP requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		prometheus.MustRegister(storeWritesTotal, signalingEventsTotal, callsTotal, heartbeatsTotal, requestsTotal, requestLatencySeconds)
	})
}

// StoreWrites exposes the backend write counter.
func StoreWrites() *prometheus.CounterVec {
	RegisterMetrics()
	return storeWritesTotal
}

// SignalingEvents exposes the signaling operation counter.
func SignalingEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return signalingEventsTotal
}

// Calls exposes the call outcome counter.
func Calls() *prometheus.CounterVec {
	RegisterMetrics()
	return callsTotal
}

// Heartbeats exposes the presence heartbeat counter.
func Heartbeats() prometheus.Counter {
	RegisterMetrics()
	return heartbeatsTotal
}

// Requests exposes the HTTP request counter.
func Requests() *prometheus.CounterVec {
	RegisterMetrics()
	return requestsTotal
}

// RequestLatency exposes the HTTP latency histogram.
func RequestLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return requestLatencySeconds
}
