// Package buffer provides a generic, thread-safe ring buffer used for
// per-channel packet history.
//
// The buffer has fixed capacity and drops the oldest item to make room when
// full, so it always holds the most recent items in arrival order. Readers
// take non-mutating snapshots; the buffer is never consumed destructively.
// Statistics are always collected for observability, and Prometheus metrics
// can be enabled via the WithMetrics functional option.
package buffer

// Ring is the generic history buffer interface, parameterized by item type T.
type Ring[T any] interface {
	// Write appends an item, evicting the oldest item first when full.
	Write(item T) error

	// Snapshot returns up to max of the most recent items in arrival order
	// without mutating the buffer. max <= 0 returns all buffered items.
	Snapshot(max int) []T

	// Size returns the current number of items in the buffer.
	Size() int

	// Capacity returns the maximum number of items the buffer can hold.
	Capacity() int

	// IsFull returns true if the buffer is at maximum capacity.
	IsFull() bool

	// IsEmpty returns true if the buffer contains no items.
	IsEmpty() bool

	// Clear removes all items from the buffer.
	Clear()

	// Stats returns buffer statistics (always available for observability).
	Stats() *Statistics

	// Close shuts down the buffer; subsequent writes fail.
	Close() error
}

// DropCallback is called with each item evicted to make room for a new one.
type DropCallback[T any] func(item T)

// NewRing creates a new ring buffer with the specified capacity and options.
// Stats are always collected; metrics are optional via WithMetrics().
// Returns an error if metrics registration fails when metrics are requested.
func NewRing[T any](capacity int, options ...Option[T]) (Ring[T], error) {
	opts := applyOptions(options...)
	return newRingBuffer(capacity, opts)
}
