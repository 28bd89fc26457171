// Package metrics defines the Prometheus collectors exported by shelfsync.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Load sources
const (
	SourceRemote = "remote"
	SourceCache  = "cache"
)

// Metrics groups the library sync collectors
type Metrics struct {
	loads         *prometheus.CounterVec
	mutations     *prometheus.CounterVec
	subscribers   prometheus.Gauge
	lastSync      prometheus.Gauge
	snapshotItems prometheus.Gauge
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shelfsync",
			Name:      "library_loads_total",
			Help:      "Library loads by the source that produced the snapshot.",
		}, []string{"source"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shelfsync",
			Name:      "mutations_total",
			Help:      "Library mutations by operation and result.",
		}, []string{"op", "result"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shelfsync",
			Name:      "subscribers",
			Help:      "Registered snapshot subscribers.",
		}),
		lastSync: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shelfsync",
			Name:      "last_sync_timestamp_seconds",
			Help:      "Unix time of the last successful remote load.",
		}),
		snapshotItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shelfsync",
			Name:      "snapshot_items",
			Help:      "Items in the current in-memory snapshot.",
		}),
	}

	reg.MustRegister(m.loads, m.mutations, m.subscribers, m.lastSync, m.snapshotItems)
	return m
}

// ObserveLoad records a load served from source
func (m *Metrics) ObserveLoad(source string, items int) {
	m.loads.WithLabelValues(source).Inc()
	m.snapshotItems.Set(float64(items))
	if source == SourceRemote {
		m.lastSync.Set(float64(time.Now().Unix()))
	}
}

// ObserveMutation records the outcome of a mutation
func (m *Metrics) ObserveMutation(op string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	m.mutations.WithLabelValues(op, result).Inc()
}

// SetSubscribers records the size of the subscriber registry
func (m *Metrics) SetSubscribers(n int) {
	m.subscribers.Set(float64(n))
}
