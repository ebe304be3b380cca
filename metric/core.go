package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains engine-level metrics shared across streams
type Metrics struct {
	StreamState      *prometheus.GaugeVec
	SamplesReceived  *prometheus.CounterVec
	SamplesDropped   *prometheus.CounterVec
	Reconnects       *prometheus.CounterVec
	LastSampleTime   *prometheus.GaugeVec
	QualityScore     *prometheus.GaugeVec
	AlertsTotal      *prometheus.CounterVec
	SyncOffset       *prometheus.GaugeVec
	StreamsConnected prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all engine metrics
func NewMetrics() *Metrics {
	return &Metrics{
		StreamState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "sensorstreams",
				Subsystem: "stream",
				Name:      "state",
				Help:      "Connection state (0=disconnected, 1=connecting, 2=connected, 3=failed)",
			},
			[]string{"stream"},
		),

		SamplesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sensorstreams",
				Subsystem: "stream",
				Name:      "samples_received_total",
				Help:      "Total samples buffered per stream",
			},
			[]string{"stream"},
		),

		SamplesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sensorstreams",
				Subsystem: "stream",
				Name:      "samples_dropped_total",
				Help:      "Samples rejected due to format errors or overflow",
			},
			[]string{"stream"},
		),

		Reconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sensorstreams",
				Subsystem: "stream",
				Name:      "reconnects_total",
				Help:      "Connection attempts that failed and were retried",
			},
			[]string{"stream"},
		),

		LastSampleTime: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "sensorstreams",
				Subsystem: "stream",
				Name:      "last_sample_timestamp_seconds",
				Help:      "Unix timestamp of the most recent buffered sample",
			},
			[]string{"stream"},
		),

		QualityScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "sensorstreams",
				Subsystem: "quality",
				Name:      "overall_score",
				Help:      "Overall quality score in [0,1]",
			},
			[]string{"stream"},
		),

		AlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sensorstreams",
				Subsystem: "quality",
				Name:      "alerts_total",
				Help:      "Quality alert events raised",
			},
			[]string{"stream", "kind"},
		),

		SyncOffset: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "sensorstreams",
				Subsystem: "sync",
				Name:      "offset_seconds",
				Help:      "Most recent per-stream offset relative to the reference stream",
			},
			[]string{"stream"},
		),

		StreamsConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sensorstreams",
				Subsystem: "manager",
				Name:      "streams_connected",
				Help:      "Number of streams currently in Connected state",
			},
		),
	}
}

// SetStreamState records a connection state transition for the metric.
// The numeric mapping matches the StreamState help text.
func (m *Metrics) SetStreamState(stream string, state int) {
	m.StreamState.WithLabelValues(stream).Set(float64(state))
}
