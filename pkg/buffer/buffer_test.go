package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorstreams/metric"
)

func TestRingBasicOperations(t *testing.T) {
	r, err := NewRing[string](3)
	require.NoError(t, err)

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 3, r.Cap())

	r.Push("first")
	r.Push("second")
	assert.Equal(t, 2, r.Len())

	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, "second", last)

	assert.Equal(t, []string{"first", "second"}, r.ReadLast(5),
		"fewer entries than requested returns all available")
	assert.Equal(t, []string{"second"}, r.ReadLast(1))
}

func TestRingFIFOEviction(t *testing.T) {
	r, err := NewRing[int](4)
	require.NoError(t, err)

	// Push well past capacity
	for i := 0; i < 25; i++ {
		r.Push(i)
		assert.LessOrEqual(t, r.Len(), 4, "size must never exceed capacity")
	}

	// ReadLast(k) returns exactly the k most recent in arrival order
	assert.Equal(t, []int{21, 22, 23, 24}, r.ReadLast(4))
	assert.Equal(t, []int{23, 24}, r.ReadLast(2))
	assert.Equal(t, int64(21), r.Stats().Evicts())
}

func TestRingClear(t *testing.T) {
	r, err := NewRing[int](3)
	require.NoError(t, err)

	r.Push(1)
	r.Push(2)
	r.Clear()

	assert.Equal(t, 0, r.Len())
	assert.Nil(t, r.ReadLast(3))
	_, ok := r.Last()
	assert.False(t, ok)

	// The ring stays usable after Clear
	r.Push(7)
	assert.Equal(t, []int{7}, r.ReadLast(1))
}

func TestRingMinimumCapacity(t *testing.T) {
	r, err := NewRing[int](0)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Cap())

	r.Push(1)
	r.Push(2)
	assert.Equal(t, []int{2}, r.ReadLast(1))
}

func TestRingEvictCallback(t *testing.T) {
	var evicted []int
	r, err := NewRing[int](2, WithEvictCallback[int](func(item int) {
		evicted = append(evicted, item)
	}))
	require.NoError(t, err)

	r.Push(1)
	r.Push(2)
	r.Push(3)
	r.Push(4)

	assert.Equal(t, []int{1, 2}, evicted)
}

func TestRingReadLastInvalidN(t *testing.T) {
	r, err := NewRing[int](3)
	require.NoError(t, err)
	r.Push(1)

	assert.Nil(t, r.ReadLast(0))
	assert.Nil(t, r.ReadLast(-1))
}

func TestRingConcurrentPushAndRead(t *testing.T) {
	r, err := NewRing[int](128)
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10000; i++ {
			r.Push(i)
		}
		close(stop)
	}()

	// Reader must never observe out-of-order or torn windows
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			window := r.ReadLast(32)
			for i := 1; i < len(window); i++ {
				if window[i] != window[i-1]+1 {
					t.Errorf("non-contiguous window: %v", window)
					return
				}
			}
			select {
			case <-stop:
				return
			default:
			}
		}
	}()

	wg.Wait()
	assert.Equal(t, int64(10000), r.Stats().Pushes())
}

func TestRingWithMetrics(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	r, err := NewRing[int](2, WithMetrics[int](reg, "test_stream"))
	require.NoError(t, err)

	r.Push(1)
	r.Push(2)
	r.Push(3)
	_ = r.ReadLast(2)

	families, err := reg.PrometheusRegistry().Gather()
	require.NoError(t, err)

	found := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			if m.GetCounter() != nil {
				found[f.GetName()] = m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, float64(3), found["sensorstreams_buffer_pushes_total"])
	assert.Equal(t, float64(1), found["sensorstreams_buffer_evicts_total"])

	// Second buffer with the same prefix collides on registration
	_, err = NewRing[int](2, WithMetrics[int](reg, "test_stream"))
	require.Error(t, err)
}
