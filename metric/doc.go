// Package metric provides Prometheus metrics infrastructure for the engine.
//
// MetricsRegistry wraps a private prometheus.Registry so components register
// their collectors under a component/metric key with collision detection.
// Core per-stream metrics (connection state, samples received/dropped,
// reconnects, quality score, sync offsets) are always registered; components
// add their own via RegisterCounter/RegisterGauge/RegisterHistogram.
//
// Server exposes the registry on an HTTP endpoint (default :9090/metrics).
package metric
