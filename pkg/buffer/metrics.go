package buffer

import (
	"github.com/c360/controlbus/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// handoffMetrics holds Prometheus metrics for hand-off operations.
type handoffMetrics struct {
	pushes prometheus.Counter
	taken  prometheus.Counter
	drops  prometheus.Counter
	size   prometheus.Gauge
}

// newHandoffMetrics creates and registers metrics with the provided registry.
func newHandoffMetrics(registry *metric.MetricsRegistry, prefix string) (*handoffMetrics, error) {
	labels := prometheus.Labels{"component": prefix}
	m := &handoffMetrics{
		pushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "controlbus",
			Subsystem:   "handoff",
			Name:        "pushes_total",
			ConstLabels: labels,
			Help:        "Items pushed by transport goroutines",
		}),
		taken: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "controlbus",
			Subsystem:   "handoff",
			Name:        "taken_total",
			ConstLabels: labels,
			Help:        "Items taken by the tick goroutine",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "controlbus",
			Subsystem:   "handoff",
			Name:        "drops_total",
			ConstLabels: labels,
			Help:        "Items dropped due to overflow",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "controlbus",
			Subsystem:   "handoff",
			Name:        "size",
			ConstLabels: labels,
			Help:        "Items currently queued",
		}),
	}

	if err := registry.RegisterCounter(prefix, "handoff_pushes", m.pushes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "handoff_taken", m.taken); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "handoff_drops", m.drops); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "handoff_size", m.size); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *handoffMetrics) recordPush(size int) {
	m.pushes.Inc()
	m.size.Set(float64(size))
}

func (m *handoffMetrics) recordTake(n int) {
	m.taken.Add(float64(n))
	m.size.Sub(float64(n))
}
