package buffer

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics tracks ring buffer activity.
type Statistics struct {
	// Atomic counters for thread-safe updates
	pushes int64
	reads  int64
	evicts int64

	// Protected by mutex
	mu          sync.RWMutex
	startTime   time.Time
	currentSize int64
	maxSize     int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{
		startTime: time.Now(),
	}
}

// Push records a push operation.
func (s *Statistics) Push() {
	atomic.AddInt64(&s.pushes, 1)
}

// Read records a snapshot read operation.
func (s *Statistics) Read() {
	atomic.AddInt64(&s.reads, 1)
}

// Evict records an entry lost to FIFO overflow.
func (s *Statistics) Evict() {
	atomic.AddInt64(&s.evicts, 1)
}

// UpdateSize updates the current buffer size.
func (s *Statistics) UpdateSize(size int64) {
	s.mu.Lock()
	s.currentSize = size
	if size > s.maxSize {
		s.maxSize = size
	}
	s.mu.Unlock()
}

// Pushes returns the total number of push operations.
func (s *Statistics) Pushes() int64 {
	return atomic.LoadInt64(&s.pushes)
}

// Reads returns the total number of snapshot reads.
func (s *Statistics) Reads() int64 {
	return atomic.LoadInt64(&s.reads)
}

// Evicts returns the total number of evicted entries.
func (s *Statistics) Evicts() int64 {
	return atomic.LoadInt64(&s.evicts)
}

// CurrentSize returns the current number of entries.
func (s *Statistics) CurrentSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSize
}

// MaxSize returns the high-water mark of entries held.
func (s *Statistics) MaxSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxSize
}

// Uptime returns the elapsed time since the buffer was created.
func (s *Statistics) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startTime)
}
