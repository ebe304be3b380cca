package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistryRegistersCoreMetrics(t *testing.T) {
	r := NewMetricsRegistry()
	require.NotNil(t, r.CoreMetrics())

	// Core metrics are usable immediately
	r.CoreMetrics().SamplesReceived.WithLabelValues("eeg").Add(3)
	r.CoreMetrics().SetStreamState("eeg", 2)

	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["sensorstreams_stream_samples_received_total"])
	assert.True(t, names["sensorstreams_stream_state"])
}

func TestRegisterCounterDuplicate(t *testing.T) {
	r := NewMetricsRegistry()

	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sensorstreams",
		Subsystem: "test",
		Name:      "events_total",
		Help:      "test counter",
	})

	require.NoError(t, r.RegisterCounter("receiver-eeg", "events", c))

	c2 := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sensorstreams",
		Subsystem: "test",
		Name:      "other_total",
		Help:      "another counter",
	})
	err := r.RegisterCounter("receiver-eeg", "events", c2)
	require.Error(t, err, "same component/metric key must be rejected")
}

func TestUnregister(t *testing.T) {
	r := NewMetricsRegistry()

	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sensorstreams",
		Subsystem: "test",
		Name:      "depth",
		Help:      "test gauge",
	})
	require.NoError(t, r.RegisterGauge("buffer", "depth", g))

	assert.True(t, r.Unregister("buffer", "depth"))
	assert.False(t, r.Unregister("buffer", "depth"), "second unregister is a no-op")

	// Re-registration is allowed after unregister
	require.NoError(t, r.RegisterGauge("buffer", "depth", g))
}

func TestUnregisterComponent(t *testing.T) {
	r := NewMetricsRegistry()

	newGauge := func(name string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sensorstreams",
			Subsystem: "test",
			Name:      name,
			Help:      "test gauge",
		})
	}
	require.NoError(t, r.RegisterGauge("receiver_eeg", "buffer_size", newGauge("size")))
	require.NoError(t, r.RegisterGauge("receiver_eeg", "buffer_utilization", newGauge("utilization")))
	require.NoError(t, r.RegisterGauge("receiver_gsr", "buffer_size", newGauge("other_size")))

	assert.Equal(t, 2, r.UnregisterComponent("receiver_eeg"))
	assert.Equal(t, 0, r.UnregisterComponent("receiver_eeg"), "second pass finds nothing")

	// Other components are untouched, and the torn-down component can
	// register the same metrics again.
	assert.True(t, r.Unregister("receiver_gsr", "buffer_size"))
	require.NoError(t, r.RegisterGauge("receiver_eeg", "buffer_size", newGauge("size")))
}
