package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce         sync.Once
	snapshotsTotal       *prometheus.CounterVec
	storeWritesTotal     *prometheus.CounterVec
	storeWriteSeconds    *prometheus.HistogramVec
	reactionTogglesTotal *prometheus.CounterVec
	activeListeners      prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors used for sync
// observability.
func RegisterMetrics() {
	registerOnce.Do(func() {
		snapshotsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_snapshots_total",
			Help: "Total number of query snapshots applied per collection.",
		}, []string{"collection"})

		storeWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_store_writes_total",
			Help: "Total number of document store writes by operation and outcome.",
		}, []string{"operation", "outcome"})

		storeWriteSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatsync_store_write_seconds",
			Help:    "Latency distribution for document store writes.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"operation"})

		reactionTogglesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_reaction_toggles_total",
			Help: "Total number of reaction toggle operations by outcome.",
		}, []string{"outcome"})

		activeListeners = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatsync_active_listeners",
			Help: "Number of live store subscriptions currently tracked.",
		})

		prometheus.MustRegister(snapshotsTotal, storeWritesTotal, storeWriteSeconds, reactionTogglesTotal, activeListeners)
	})
}

// Snapshots exposes the counter for applied query snapshots.
func Snapshots() *prometheus.CounterVec {
	RegisterMetrics()
	return snapshotsTotal
}

// StoreWrites exposes the counter for document store writes.
func StoreWrites() *prometheus.CounterVec {
	RegisterMetrics()
	return storeWritesTotal
}

// StoreWriteLatency exposes the latency histogram for store writes.
func StoreWriteLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return storeWriteSeconds
}

// ReactionToggles exposes the counter for reaction toggles.
func ReactionToggles() *prometheus.CounterVec {
	RegisterMetrics()
	return reactionTogglesTotal
}

// ActiveListeners exposes the gauge tracking live subscriptions.
func ActiveListeners() prometheus.Gauge {
	RegisterMetrics()
	return activeListeners
}
