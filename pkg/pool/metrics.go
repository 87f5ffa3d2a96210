package pool

import (
	"github.com/c360/controlbus/metric"
	"github.com/prometheus/client_golang/prometheus"
)

type slabMetrics struct {
	inUse     prometheus.Gauge
	slots     prometheus.Gauge
	chunks    prometheus.Counter
	exhausted prometheus.Counter
}

func newSlabMetrics(registry *metric.MetricsRegistry, prefix string) (*slabMetrics, error) {
	labels := prometheus.Labels{"pool": prefix}
	m := &slabMetrics{
		inUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "controlbus",
			Subsystem:   "pool",
			Name:        "in_use",
			ConstLabels: labels,
			Help:        "Slots currently acquired",
		}),
		slots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "controlbus",
			Subsystem:   "pool",
			Name:        "slots",
			ConstLabels: labels,
			Help:        "Slots allocated by the slab",
		}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "controlbus",
			Subsystem:   "pool",
			Name:        "chunks_allocated_total",
			ConstLabels: labels,
			Help:        "Chunks allocated as the slab grew",
		}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "controlbus",
			Subsystem:   "pool",
			Name:        "exhausted_total",
			ConstLabels: labels,
			Help:        "Acquires refused because the slot limit was reached",
		}),
	}

	if err := registry.RegisterGauge(prefix, "pool_in_use", m.inUse); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "pool_slots", m.slots); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "pool_chunks", m.chunks); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "pool_exhausted", m.exhausted); err != nil {
		return nil, err
	}

	return m, nil
}
