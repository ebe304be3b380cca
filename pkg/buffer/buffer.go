// Package buffer provides a generic, thread-safe ring buffer for
// timestamped sample windows.
//
// The ring is fixed-capacity with oldest-first (FIFO) eviction: a push into
// a full buffer evicts exactly one entry before inserting, so size never
// exceeds capacity. Reads are snapshot-oriented — ReadLast copies the most
// recent entries without consuming them, because live monitoring and
// synchronization both re-read overlapping windows.
//
// Statistics are always collected; Prometheus metrics are optional via
// WithMetrics().
package buffer

// Ring is the buffer contract used by stream receivers.
type Ring[T any] interface {
	// Push appends an item, evicting the oldest entry first when full. O(1).
	Push(item T)

	// ReadLast returns up to n of the most recent entries in chronological
	// order without removing them. Fewer than n available is not an error;
	// all available entries are returned.
	ReadLast(n int) []T

	// Last returns the most recently pushed entry.
	Last() (T, bool)

	// Len returns the current number of entries.
	Len() int

	// Cap returns the fixed capacity.
	Cap() int

	// Clear empties the buffer by resetting indices. O(1); the backing
	// array is reused and overwritten by subsequent pushes.
	Clear()

	// Stats returns buffer statistics (always available for observability).
	Stats() *Statistics
}

// NewRing creates a ring buffer with the given capacity and options.
// Capacity below 1 is raised to 1. Returns an error only if metrics
// registration fails when metrics are requested.
func NewRing[T any](capacity int, options ...Option[T]) (Ring[T], error) {
	opts := applyOptions(options...)
	return newRing(capacity, opts)
}
