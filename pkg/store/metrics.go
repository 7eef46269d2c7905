package store

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the store's Prometheus collectors. They are registered only when a
// Registerer is configured.
type Metrics struct {
	Refreshes       prometheus.Counter
	RefreshFailures prometheus.Counter
	StaleDiscarded  prometheus.Counter
	RefreshDuration prometheus.Histogram
	SnapshotBlock   prometheus.Gauge
}

func newMetrics(network string, reg prometheus.Registerer) (*Metrics, error) {
	labels := prometheus.Labels{"network": network}
	m := &Metrics{
		Refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "thusd",
			Subsystem:   "store",
			Name:        "refreshes_total",
			Help:        "Snapshots applied by the block polled store.",
			ConstLabels: labels,
		}),
		RefreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "thusd",
			Subsystem:   "store",
			Name:        "refresh_failures_total",
			Help:        "Snapshot refreshes that failed to read the chain.",
			ConstLabels: labels,
		}),
		StaleDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "thusd",
			Subsystem:   "store",
			Name:        "stale_discarded_total",
			Help:        "Refreshes dropped because a snapshot for the same or a later block was already current.",
			ConstLabels: labels,
		}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "thusd",
			Subsystem:   "store",
			Name:        "refresh_duration_seconds",
			Help:        "Time spent reading one snapshot.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		SnapshotBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "thusd",
			Subsystem:   "store",
			Name:        "snapshot_block",
			Help:        "Block number of the current snapshot.",
			ConstLabels: labels,
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.Refreshes, m.RefreshFailures, m.StaleDiscarded, m.RefreshDuration, m.SnapshotBlock} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register store metrics: %w", err)
		}
	}
	return m, nil
}
