package buffer

import (
	"sync"

	"github.com/firestige/Otus/errors"
)

// ringBuffer is a thread-safe fixed-capacity FIFO with oldest-eviction.
type ringBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // oldest item position
	closed   bool
	stats    *Statistics  // always initialized for observability
	metrics  *ringMetrics // optional Prometheus metrics
	opts     *ringOptions[T]
}

// newRingBuffer creates a new ring buffer instance.
// Returns an error if metrics registration fails when requested.
func newRingBuffer[T any](capacity int, opts *ringOptions[T]) (*ringBuffer[T], error) {
	if capacity <= 0 {
		capacity = 1 // minimum capacity
	}

	var metrics *ringMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newRingMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "Ring", "newRingBuffer", "metrics registration")
		}
	}

	return &ringBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
	}, nil
}

// Write appends an item, evicting the oldest first when the buffer is full.
func (rb *ringBuffer[T]) Write(item T) error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.closed {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Ring", "Write", "buffer closed")
	}

	if rb.size == rb.capacity {
		dropped := rb.items[rb.tail]
		rb.tail = (rb.tail + 1) % rb.capacity
		rb.size--

		rb.stats.Overflow()
		rb.stats.Drop()
		if rb.metrics != nil {
			rb.metrics.recordOverflow()
			rb.metrics.recordDrop()
		}

		if rb.opts.dropCallback != nil {
			// Run the callback outside the lock to avoid deadlock
			defer rb.opts.dropCallback(dropped)
		}
	}

	rb.items[rb.head] = item
	rb.head = (rb.head + 1) % rb.capacity
	rb.size++

	rb.stats.Write()
	rb.stats.UpdateSize(int64(rb.size))
	if rb.metrics != nil {
		rb.metrics.recordWrite(rb.size, rb.capacity)
	}

	return nil
}

// Snapshot returns up to max of the most recent items in arrival order.
// Items are copied out; the buffer is not mutated.
func (rb *ringBuffer[T]) Snapshot(max int) []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.size == 0 {
		return nil
	}

	count := rb.size
	if max > 0 && max < count {
		count = max
	}

	// Skip the oldest size-count items, then copy forward in arrival order.
	result := make([]T, count)
	start := rb.size - count
	for i := 0; i < count; i++ {
		idx := (rb.tail + start + i) % rb.capacity
		result[i] = rb.items[idx]
	}

	rb.stats.Snapshot()
	if rb.metrics != nil {
		rb.metrics.recordSnapshot()
	}

	return result
}

// Size returns the current number of items in the buffer.
func (rb *ringBuffer[T]) Size() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

// Capacity returns the maximum number of items the buffer can hold.
func (rb *ringBuffer[T]) Capacity() int {
	return rb.capacity // immutable, no lock needed
}

// IsFull returns true if the buffer is at maximum capacity.
func (rb *ringBuffer[T]) IsFull() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size == rb.capacity
}

// IsEmpty returns true if the buffer contains no items.
func (rb *ringBuffer[T]) IsEmpty() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size == 0
}

// Clear removes all items from the buffer.
func (rb *ringBuffer[T]) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	var zero T
	for i := 0; i < rb.capacity; i++ {
		rb.items[i] = zero
	}

	rb.head = 0
	rb.tail = 0
	rb.size = 0

	rb.stats.UpdateSize(0)
	if rb.metrics != nil {
		rb.metrics.updateSize(0, rb.capacity)
	}
}

// Stats returns buffer statistics.
func (rb *ringBuffer[T]) Stats() *Statistics {
	return rb.stats
}

// Close shuts down the buffer. Snapshot remains usable; writes fail.
func (rb *ringBuffer[T]) Close() error {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.closed = true
	return nil
}
