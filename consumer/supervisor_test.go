package consumer

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedFetcher serves queued messages, then blocks until closed or
// returns a scripted error.
type scriptedFetcher struct {
	mu        sync.Mutex
	queue     []kafka.Message
	failWith  error
	committed []kafka.Message
	closed    atomic.Bool
	done      chan struct{}
}

func newScriptedFetcher(msgs []kafka.Message, failWith error) *scriptedFetcher {
	return &scriptedFetcher{queue: msgs, failWith: failWith, done: make(chan struct{})}
}

func (f *scriptedFetcher) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.queue) > 0 {
		msg := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		return msg, nil
	}
	failWith := f.failWith
	f.mu.Unlock()

	if failWith != nil {
		return kafka.Message{}, failWith
	}

	// Out of scripted messages: block like a quiet topic.
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case <-f.done:
		return kafka.Message{}, stderrors.New("reader closed")
	}
}

func (f *scriptedFetcher) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *scriptedFetcher) Close() error {
	if f.closed.CompareAndSwap(false, true) {
		close(f.done)
	}
	return nil
}

func msg(value string) kafka.Message {
	return kafka.Message{Topic: "t", Value: []byte(value)}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSupervisorDispatchesAndCommits(t *testing.T) {
	fetcher := newScriptedFetcher([]kafka.Message{msg("a"), msg("b")}, nil)

	var handled []string
	var mu sync.Mutex
	s := NewSupervisor(SupervisorDeps{
		Subscription: "test",
		Factory:      func() Fetcher { return fetcher },
		Handler: func(_ context.Context, m kafka.Message) error {
			mu.Lock()
			handled = append(handled, string(m.Value))
			mu.Unlock()
			return nil
		},
		ReconnectBackoff: time.Millisecond,
	})
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start(context.Background()))

	waitFor(t, time.Second, func() bool { return s.Consumed() == 2 })
	require.NoError(t, s.Stop(time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, handled)

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	assert.Len(t, fetcher.committed, 2)
}

func TestSupervisorReconnectsAfterFault(t *testing.T) {
	var factoryCalls atomic.Int32
	s := NewSupervisor(SupervisorDeps{
		Subscription: "test",
		Factory: func() Fetcher {
			n := factoryCalls.Add(1)
			if n == 1 {
				// First session faults immediately.
				return newScriptedFetcher(nil, stderrors.New("connection reset"))
			}
			return newScriptedFetcher([]kafka.Message{msg("after-reconnect")}, nil)
		},
		Handler:          func(context.Context, kafka.Message) error { return nil },
		ReconnectBackoff: 5 * time.Millisecond,
	})
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start(context.Background()))

	waitFor(t, time.Second, func() bool { return s.Consumed() == 1 })
	assert.GreaterOrEqual(t, factoryCalls.Load(), int32(2), "a fresh reader per connection attempt")

	health := s.Health()
	assert.GreaterOrEqual(t, health.ErrorCount, 1)

	require.NoError(t, s.Stop(time.Second))
}

func TestSupervisorSurvivesHandlerError(t *testing.T) {
	fetcher := newScriptedFetcher([]kafka.Message{msg("bad"), msg("good")}, nil)

	var handled atomic.Int32
	s := NewSupervisor(SupervisorDeps{
		Subscription: "test",
		Factory:      func() Fetcher { return fetcher },
		Handler: func(_ context.Context, m kafka.Message) error {
			handled.Add(1)
			if string(m.Value) == "bad" {
				return stderrors.New("unparseable")
			}
			return nil
		},
		ReconnectBackoff: time.Millisecond,
	})
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start(context.Background()))

	waitFor(t, time.Second, func() bool { return handled.Load() == 2 })
	require.NoError(t, s.Stop(time.Second))

	// The failing message is still committed so it is not redelivered.
	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	assert.Len(t, fetcher.committed, 2)
}

func TestSupervisorSurvivesHandlerPanic(t *testing.T) {
	fetcher := newScriptedFetcher([]kafka.Message{msg("boom"), msg("fine")}, nil)

	var handled atomic.Int32
	s := NewSupervisor(SupervisorDeps{
		Subscription: "test",
		Factory:      func() Fetcher { return fetcher },
		Handler: func(_ context.Context, m kafka.Message) error {
			handled.Add(1)
			if string(m.Value) == "boom" {
				panic("handler bug")
			}
			return nil
		},
		ReconnectBackoff: time.Millisecond,
	})
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start(context.Background()))

	waitFor(t, time.Second, func() bool { return handled.Load() == 2 })
	require.NoError(t, s.Stop(time.Second))
}

func TestSupervisorStopDuringBackoff(t *testing.T) {
	s := NewSupervisor(SupervisorDeps{
		Subscription: "test",
		Factory: func() Fetcher {
			return newScriptedFetcher(nil, stderrors.New("always failing"))
		},
		Handler:          func(context.Context, kafka.Message) error { return nil },
		ReconnectBackoff: time.Minute,
	})
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start(context.Background()))

	waitFor(t, time.Second, func() bool { return s.State() == StateFaulted })

	start := time.Now()
	require.NoError(t, s.Stop(time.Second))
	assert.Less(t, time.Since(start), time.Second, "stop must not wait out the backoff")
}

func TestSupervisorStartIdempotent(t *testing.T) {
	fetcher := newScriptedFetcher(nil, nil)
	s := NewSupervisor(SupervisorDeps{
		Subscription:     "test",
		Factory:          func() Fetcher { return fetcher },
		Handler:          func(context.Context, kafka.Message) error { return nil },
		ReconnectBackoff: time.Millisecond,
	})
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(time.Second))
	require.NoError(t, s.Stop(time.Second))
}

func TestSupervisorInitializeValidation(t *testing.T) {
	s := NewSupervisor(SupervisorDeps{Subscription: "test"})
	assert.Error(t, s.Initialize())

	s = NewSupervisor(SupervisorDeps{
		Factory: func() Fetcher { return newScriptedFetcher(nil, nil) },
		Handler: func(context.Context, kafka.Message) error { return nil },
	})
	assert.Error(t, s.Initialize())
}

func TestSupervisorContextCancellationStopsLoop(t *testing.T) {
	fetcher := newScriptedFetcher(nil, nil)
	s := NewSupervisor(SupervisorDeps{
		Subscription:     "test",
		Factory:          func() Fetcher { return fetcher },
		Handler:          func(context.Context, kafka.Message) error { return nil },
		ReconnectBackoff: time.Millisecond,
	})
	require.NoError(t, s.Initialize())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	waitFor(t, time.Second, func() bool { return s.State() == StateReady })

	cancel()
	waitFor(t, time.Second, func() bool { return s.State() == StateIdle })
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "faulted", StateFaulted.String())
}
