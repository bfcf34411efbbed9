package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the DICOM server.
// A nil *Metrics is valid and records nothing, so callers do not
// need to check whether metrics are enabled.
type Metrics struct {
	associationsTotal   *prometheus.CounterVec
	associationsActive  prometheus.Gauge
	connectionsRefused  prometheus.Counter
	operationsTotal     *prometheus.CounterVec
	associationDuration prometheus.Histogram
	instancesStored     prometheus.Counter
	storedBytes         prometheus.Counter
}

// New registers the server collectors on the default registry
func New() *Metrics {
	return &Metrics{
		associationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pacs_node",
			Name:      "associations_total",
			Help:      "Completed associations by outcome.",
		}, []string{"outcome"}),
		associationsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "pacs_node",
			Name:      "associations_active",
			Help:      "Associations currently open.",
		}),
		connectionsRefused: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "pacs_node",
			Name:      "connections_refused_total",
			Help:      "Connections refused at the concurrency ceiling.",
		}),
		operationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pacs_node",
			Name:      "operations_total",
			Help:      "DIMSE operations served by operation and status class.",
		}, []string{"operation", "status"}),
		associationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pacs_node",
			Name:      "association_duration_seconds",
			Help:      "Association lifetime from accept to close.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		instancesStored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "pacs_node",
			Name:      "instances_stored_total",
			Help:      "Instances persisted by the storage service.",
		}),
		storedBytes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "pacs_node",
			Name:      "stored_bytes_total",
			Help:      "Bytes written by the storage service.",
		}),
	}
}

// ConnectionRefused records a connection refused at the ceiling
func (m *Metrics) ConnectionRefused() {
	if m == nil {
		return
	}
	m.connectionsRefused.Inc()
}

// AssociationOpened records an accepted association
func (m *Metrics) AssociationOpened() {
	if m == nil {
		return
	}
	m.associationsActive.Inc()
}

// AssociationClosed records an association ending with the given outcome
func (m *Metrics) AssociationClosed(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.associationsActive.Dec()
	m.associationsTotal.WithLabelValues(outcome).Inc()
	m.associationDuration.Observe(duration.Seconds())
}

// OperationServed records a served DIMSE operation and its status class
func (m *Metrics) OperationServed(operation, statusClass string) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, statusClass).Inc()
}

// InstanceStored records a persisted instance and its size
func (m *Metrics) InstanceStored(sizeBytes int64) {
	if m == nil {
		return
	}
	m.instancesStored.Inc()
	m.storedBytes.Add(float64(sizeBytes))
}
