package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorUpdateAndGet(t *testing.T) {
	m := NewMonitor()

	m.UpdateHealthy("eeg", "receiving")
	m.UpdateDegraded("gsr", "stale data")

	status, ok := m.Get("eeg")
	require.True(t, ok)
	assert.True(t, status.IsHealthy())
	assert.Equal(t, "eeg", status.Component)
	assert.False(t, status.Timestamp.IsZero())

	_, ok = m.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, 2, m.Count())
}

func TestMonitorAggregateHealth(t *testing.T) {
	m := NewMonitor()

	agg := m.AggregateHealth("engine")
	assert.True(t, agg.IsHealthy(), "empty monitor aggregates healthy")

	m.UpdateHealthy("eeg", "ok")
	m.UpdateHealthy("gsr", "ok")
	assert.True(t, m.AggregateHealth("engine").IsHealthy())

	m.UpdateDegraded("gsr", "stale")
	agg = m.AggregateHealth("engine")
	assert.True(t, agg.IsDegraded())
	assert.Len(t, agg.SubStatuses, 2)

	m.UpdateUnhealthy("eeg", "disconnected")
	assert.True(t, m.AggregateHealth("engine").IsUnhealthy(),
		"unhealthy dominates degraded")
}

func TestMonitorRemoveAndClear(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("a", "ok")
	m.UpdateHealthy("b", "ok")

	m.Remove("a")
	assert.Equal(t, 1, m.Count())

	m.Clear()
	assert.Equal(t, 0, m.Count())
}
