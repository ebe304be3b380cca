package buffer

import (
	"github.com/c360/sensorstreams/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// ringMetrics holds Prometheus metrics for ring buffer operations.
type ringMetrics struct {
	pushes prometheus.Counter
	reads  prometheus.Counter
	evicts prometheus.Counter

	size        prometheus.Gauge
	utilization prometheus.Gauge
}

// newRingMetrics creates and registers ring metrics with the provided registry.
func newRingMetrics(registry *metric.MetricsRegistry, prefix string) (*ringMetrics, error) {
	m := &ringMetrics{
		pushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sensorstreams",
			Subsystem:   "buffer",
			Name:        "pushes_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of buffer push operations",
		}),
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sensorstreams",
			Subsystem:   "buffer",
			Name:        "reads_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of snapshot reads",
		}),
		evicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sensorstreams",
			Subsystem:   "buffer",
			Name:        "evicts_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of entries evicted by FIFO overflow",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "sensorstreams",
			Subsystem:   "buffer",
			Name:        "size",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Current number of entries in buffer",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "sensorstreams",
			Subsystem:   "buffer",
			Name:        "utilization",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Buffer utilization ratio (0.0 to 1.0)",
		}),
	}

	if err := registry.RegisterCounter(prefix, "buffer_pushes", m.pushes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "buffer_reads", m.reads); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "buffer_evicts", m.evicts); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "buffer_size", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "buffer_utilization", m.utilization); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *ringMetrics) recordPush(size, capacity int) {
	m.pushes.Inc()
	m.size.Set(float64(size))
	m.utilization.Set(float64(size) / float64(capacity))
}

func (m *ringMetrics) recordRead() {
	m.reads.Inc()
}

func (m *ringMetrics) recordEvict() {
	m.evicts.Inc()
}

func (m *ringMetrics) updateSize(size, capacity int) {
	m.size.Set(float64(size))
	m.utilization.Set(float64(size) / float64(capacity))
}
