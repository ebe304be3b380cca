package buffer

import (
	"github.com/c360/sensorstreams/metric"
)

// Option configures ring behavior using the functional options pattern.
type Option[T any] func(*ringOptions[T])

// EvictCallback is called with each entry evicted by FIFO overflow.
type EvictCallback[T any] func(item T)

// ringOptions holds internal configuration for ring instances.
// Stats are always collected; metrics are optional via WithMetrics().
type ringOptions[T any] struct {
	evictCallback EvictCallback[T]

	// metricsReg is optional - if provided, ring stats are also exposed as
	// Prometheus metrics under the given component prefix
	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
}

// WithMetrics enables Prometheus metrics export for ring statistics.
// Ignored when registry is nil or prefix is empty.
func WithMetrics[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(opts *ringOptions[T]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithEvictCallback sets a callback invoked for entries lost to overflow.
func WithEvictCallback[T any](callback EvictCallback[T]) Option[T] {
	return func(opts *ringOptions[T]) {
		opts.evictCallback = callback
	}
}

func applyOptions[T any](options ...Option[T]) *ringOptions[T] {
	opts := &ringOptions[T]{}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
