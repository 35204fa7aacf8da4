// Package metrics exposes Prometheus instrumentation for the sync
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	SyncPasses        *prometheus.CounterVec
	MutationsUploaded prometheus.Counter
	MutationsFailed   prometheus.Counter
	SnapshotRecords   prometheus.Gauge
	QueueDepth        prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SyncPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "harvest",
			Subsystem: "sync",
			Name:      "passes_total",
			Help:      "Sync passes run, by outcome.",
		}, []string{"result"}),
		MutationsUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "harvest",
			Subsystem: "sync",
			Name:      "mutations_uploaded_total",
			Help:      "Mutations confirmed by the remote service.",
		}),
		MutationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "harvest",
			Subsystem: "sync",
			Name:      "mutations_failed_total",
			Help:      "Mutation upload attempts that failed.",
		}),
		SnapshotRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "harvest",
			Subsystem: "sync",
			Name:      "snapshot_records",
			Help:      "Records written by the last snapshot download.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "harvest",
			Subsystem: "sync",
			Name:      "queue_depth",
			Help:      "Mutations currently waiting in the outbox.",
		}),
	}

	reg.MustRegister(
		m.SyncPasses,
		m.MutationsUploaded,
		m.MutationsFailed,
		m.SnapshotRecords,
		m.QueueDepth,
	)
	return m
}

// RecordPass updates the collectors after one sync pass. Safe to call
// on a nil receiver so instrumentation stays optional.
func (m *Metrics) RecordPass(ok bool, uploaded, failed, remaining, snapshotRecords int) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.SyncPasses.WithLabelValues(result).Inc()
	m.MutationsUploaded.Add(float64(uploaded))
	m.MutationsFailed.Add(float64(failed))
	m.QueueDepth.Set(float64(remaining))
	if ok {
		m.SnapshotRecords.Set(float64(snapshotRecords))
	}
}
