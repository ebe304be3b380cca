package buffer

import (
	"sync"
)

// ring is a thread-safe fixed-capacity circular buffer with FIFO eviction.
type ring[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	size     int
	head     int // Points to the next write position
	stats    *Statistics
	metrics  *ringMetrics // Optional Prometheus metrics
	opts     *ringOptions[T]
}

func newRing[T any](capacity int, opts *ringOptions[T]) (*ring[T], error) {
	if capacity <= 0 {
		capacity = 1 // Minimum capacity
	}

	// Stats are always initialized - observability is not optional
	stats := NewStatistics()

	var metrics *ringMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newRingMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, err
		}
	}

	return &ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    stats,
		metrics:  metrics,
		opts:     opts,
	}, nil
}

// Push appends an item, evicting the oldest entry first when full.
func (r *ring[T]) Push(item T) {
	r.mu.Lock()

	var evicted T
	var didEvict bool

	if r.size == r.capacity {
		// head currently points at the oldest entry; overwrite it
		evicted = r.items[r.head]
		didEvict = true

		r.stats.Evict()
		if r.metrics != nil {
			r.metrics.recordEvict()
		}
	} else {
		r.size++
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity

	r.stats.Push()
	r.stats.UpdateSize(int64(r.size))
	if r.metrics != nil {
		r.metrics.recordPush(r.size, r.capacity)
	}

	cb := r.opts.evictCallback
	r.mu.Unlock()

	// Callback runs outside the lock to avoid deadlock
	if didEvict && cb != nil {
		cb(evicted)
	}
}

// ReadLast returns up to n most recent entries in chronological order.
func (r *ring[T]) ReadLast(n int) []T {
	if n <= 0 {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.size == 0 {
		return nil
	}

	count := n
	if count > r.size {
		count = r.size
	}

	// Oldest of the window sits count entries behind head
	result := make([]T, count)
	start := r.head - count
	if start < 0 {
		start += r.capacity
	}
	for i := 0; i < count; i++ {
		result[i] = r.items[(start+i)%r.capacity]
	}

	r.stats.Read()
	if r.metrics != nil {
		r.metrics.recordRead()
	}

	return result
}

// Last returns the most recently pushed entry.
func (r *ring[T]) Last() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}

	idx := r.head - 1
	if idx < 0 {
		idx += r.capacity
	}
	return r.items[idx], true
}

// Len returns the current number of entries.
func (r *ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the fixed capacity.
func (r *ring[T]) Cap() int {
	return r.capacity // Immutable, no lock needed
}

// Clear empties the buffer by resetting indices.
func (r *ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.head = 0
	r.size = 0

	r.stats.UpdateSize(0)
	if r.metrics != nil {
		r.metrics.updateSize(0, r.capacity)
	}
}

// Stats returns buffer statistics.
func (r *ring[T]) Stats() *Statistics {
	return r.stats
}
