package streamhub

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain[T any](sub *Subscription[T]) []T {
	var out []T
	for {
		select {
		case item, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, item)
		default:
			return out
		}
	}
}

func TestHubDeliversInOrder(t *testing.T) {
	hub := New[int](10)
	sub := hub.Subscribe("a")
	defer hub.Unsubscribe(sub)

	for i := 1; i <= 5; i++ {
		hub.Publish("a", i)
	}

	assert.Equal(t, []int{1, 2, 3, 4, 5}, drain(sub))
}

func TestHubKeyIsolation(t *testing.T) {
	hub := New[string](10)
	subA := hub.Subscribe("a")
	subB := hub.Subscribe("b")
	defer hub.Unsubscribe(subA)
	defer hub.Unsubscribe(subB)

	hub.Publish("a", "for-a")
	hub.Publish("b", "for-b")

	assert.Equal(t, []string{"for-a"}, drain(subA))
	assert.Equal(t, []string{"for-b"}, drain(subB))
}

func TestHubFanout(t *testing.T) {
	hub := New[int](10)
	subs := make([]*Subscription[int], 3)
	for i := range subs {
		subs[i] = hub.Subscribe("a")
	}

	hub.Publish("a", 42)

	for _, sub := range subs {
		assert.Equal(t, []int{42}, drain(sub))
		hub.Unsubscribe(sub)
	}
}

func TestHubEvictsFullSubscriber(t *testing.T) {
	hub := New[int](2)
	slow := hub.Subscribe("a")
	fast := hub.Subscribe("a")

	// Fill the slow subscriber's queue without draining it.
	hub.Publish("a", 1)
	hub.Publish("a", 2)
	assert.Equal(t, 2, hub.SubscriberCount("a"))
	assert.Equal(t, []int{1, 2}, drain(fast))

	// The third publish finds slow's queue full: slow is evicted, fast
	// keeps receiving.
	hub.Publish("a", 3)
	assert.Equal(t, 1, hub.SubscriberCount("a"))
	assert.Equal(t, []int{3}, drain(fast))

	// The evicted subscriber's channel is closed after its buffered items.
	assert.Equal(t, []int{1, 2}, drain(slow))
	_, open := <-slow.C()
	assert.False(t, open)

	hub.Unsubscribe(fast)
}

func TestHubEvictionDropsItemForEvicted(t *testing.T) {
	hub := New[int](1)
	sub := hub.Subscribe("a")

	hub.Publish("a", 1)
	hub.Publish("a", 2) // queue full, sub evicted, item 2 lost for it

	got := drain(sub)
	assert.Equal(t, []int{1}, got)
	assert.Equal(t, 0, hub.SubscriberCount("a"))
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := New[int](4)
	sub := hub.Subscribe("a")

	hub.Publish("a", 7)
	hub.Unsubscribe(sub)

	// Buffered item still readable, then the channel closes.
	item, open := <-sub.C()
	require.True(t, open)
	assert.Equal(t, 7, item)
	_, open = <-sub.C()
	assert.False(t, open)
}

func TestHubUnsubscribeIdempotent(t *testing.T) {
	hub := New[int](4)
	sub := hub.Subscribe("a")

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)
	hub.Unsubscribe(nil)

	assert.Equal(t, 0, hub.SubscriberCount("a"))
}

func TestHubPublishWithoutSubscribers(t *testing.T) {
	hub := New[int](4)
	// Must not panic or block.
	hub.Publish("nobody", 1)
	assert.Equal(t, 0, hub.SubscriberCount("nobody"))
}

func TestHubMinimumCapacity(t *testing.T) {
	hub := New[int](0)
	sub := hub.Subscribe("a")
	defer hub.Unsubscribe(sub)

	hub.Publish("a", 1)
	assert.Equal(t, []int{1}, drain(sub))
}

func TestHubConcurrentPublishAndChurn(t *testing.T) {
	hub := New[int](8)
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
				hub.Publish("a", i)
			}
		}
	}()

	// Subscribers churn while the publisher runs; readers drain slowly so
	// some get evicted. Nothing may deadlock or panic.
	for i := 0; i < 50; i++ {
		sub := hub.Subscribe("a")
		select {
		case <-sub.C():
		case <-time.After(time.Millisecond):
		}
		hub.Unsubscribe(sub)
	}
	close(done)
	wg.Wait()
}
