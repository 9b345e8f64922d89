// Package streamhub provides a generic bounded fanout primitive.
//
// A Hub delivers published items to any number of independently-paced
// subscribers registered under a key. Delivery is non-blocking: each
// subscriber owns a bounded queue, and a subscriber whose queue is full when
// an item arrives is treated as unresponsive and evicted from the active set.
// Live data favors freshness over completeness - items for an evicted or
// lagging subscriber are lost, not queued.
//
// Guarantees: per-subscriber FIFO of delivered items; no ordering across
// subscribers; producers never block on a slow consumer.
package streamhub

import (
	"sync"
)

// Subscription is one client's bounded queue under a hub key.
// Never shared across clients.
type Subscription[T any] struct {
	key       string
	ch        chan T
	closeOnce sync.Once
}

// C returns the receive side of the subscription queue. The channel is
// closed when the subscription is unsubscribed or evicted, so a receive
// of (zero, false) means the stream is over.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Key returns the hub key this subscription is registered under.
func (s *Subscription[T]) Key() string {
	return s.key
}

func (s *Subscription[T]) close() {
	s.closeOnce.Do(func() {
		close(s.ch)
	})
}

// Hub fans out items to subscribers grouped by key.
type Hub[T any] struct {
	mu       sync.Mutex
	subs     map[string]map[*Subscription[T]]struct{}
	capacity int
	metrics  *hubMetrics
}

// New creates a hub whose subscriptions hold up to capacity items each.
func New[T any](capacity int, options ...Option[T]) *Hub[T] {
	if capacity <= 0 {
		capacity = 1
	}
	h := &Hub[T]{
		subs:     make(map[string]map[*Subscription[T]]struct{}),
		capacity: capacity,
	}
	for _, opt := range options {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Subscribe registers a new subscription under key. O(1).
func (h *Hub[T]) Subscribe(key string) *Subscription[T] {
	sub := &Subscription[T]{
		key: key,
		ch:  make(chan T, h.capacity),
	}

	h.mu.Lock()
	set, ok := h.subs[key]
	if !ok {
		set = make(map[*Subscription[T]]struct{})
		h.subs[key] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.recordSubscribe(key)
	}
	return sub
}

// Unsubscribe removes a subscription and closes its queue. Idempotent, and
// safe to race against a concurrent Publish iterating the same set.
func (h *Hub[T]) Unsubscribe(sub *Subscription[T]) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	removed := h.removeLocked(sub)
	h.mu.Unlock()

	if removed && h.metrics != nil {
		h.metrics.recordUnsubscribe(sub.key)
	}
}

// removeLocked takes sub out of the active set and closes its channel.
// The close happens under the hub lock, after removal, so no publisher can
// send on a closed channel. Returns false if sub was already gone.
func (h *Hub[T]) removeLocked(sub *Subscription[T]) bool {
	set, ok := h.subs[sub.key]
	if !ok {
		return false
	}
	if _, member := set[sub]; !member {
		return false
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.key)
	}
	sub.close()
	return true
}

// Publish attempts a non-blocking enqueue of item to every subscription
// currently registered under key. A subscription found full is evicted from
// the set and its channel closed; the item is dropped for it. Mutation is
// guarded by the hub lock; every delivery attempt is non-blocking, so the
// lock hold time is bounded.
func (h *Hub[T]) Publish(key string, item T) {
	var evicted []*Subscription[T]

	h.mu.Lock()
	for sub := range h.subs[key] {
		select {
		case sub.ch <- item:
		default:
			// Queue full: the subscriber is not draining. Drop it.
			evicted = append(evicted, sub)
		}
	}
	for _, sub := range evicted {
		h.removeLocked(sub)
	}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.recordPublish(key)
		for range evicted {
			h.metrics.recordEviction(key)
		}
	}
}

// SubscriberCount returns the number of active subscriptions for key.
func (h *Hub[T]) SubscriberCount(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[key])
}
