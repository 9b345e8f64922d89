// Package correlator matches command responses to in-flight request waits.
//
// Every console instance consumes the full shared response topic under its
// own subscription identity, so each instance sees every response the fleet
// emits. A response whose request id matches a registered waiter is handed
// to that waiter; all responses, matched or not, are fanned out to live
// response streams. Unmatched responses are expected steady-state traffic:
// they belong to other console instances or to waits that already timed out.
package correlator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/firestige/Otus/errors"
	"github.com/firestige/Otus/message"
	"github.com/firestige/Otus/metric"
	"github.com/firestige/Otus/pkg/timestamp"
	"github.com/firestige/Otus/streamhub"
)

// StreamKey is the hub key all responses are published under.
const StreamKey = "responses"

// Waiter is one registered wait for a response by request id. The channel
// holds exactly one response; delivery never blocks the consume loop.
type Waiter struct {
	requestID string
	ch        chan message.ResponseEnvelope
}

// C returns the channel the matched response arrives on.
func (w *Waiter) C() <-chan message.ResponseEnvelope {
	return w.ch
}

// RequestID returns the request id this waiter is registered for.
func (w *Waiter) RequestID() string {
	return w.requestID
}

// Deps holds runtime dependencies for the correlator
type Deps struct {
	Hub     *streamhub.Hub[message.ResponseEnvelope]
	Metrics *metric.Metrics
	Logger  *slog.Logger
}

// Correlator routes consumed responses to waiters and live streams.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*Waiter

	hub     *streamhub.Hub[message.ResponseEnvelope]
	metrics *metric.Metrics
	logger  *slog.Logger

	matched   atomic.Int64
	unmatched atomic.Int64
}

// New creates a Correlator from its dependencies
func New(deps Deps) *Correlator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "correlator")
	}
	return &Correlator{
		pending: make(map[string]*Waiter),
		hub:     deps.Hub,
		metrics: deps.Metrics,
		logger:  logger,
	}
}

// Register creates a waiter for requestID. Must be called BEFORE the command
// is published: once the command is on the wire the response can arrive on
// the consume goroutine at any moment, and a response with no waiter is
// dropped as unmatched. Returns ErrWaiterExists if the id is already taken.
func (c *Correlator) Register(requestID string) (*Waiter, error) {
	if requestID == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("empty request id"),
			"correlator", "Register", "request id validation")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.pending[requestID]; exists {
		return nil, errors.WrapInvalid(errors.ErrWaiterExists,
			"correlator", "Register", "duplicate request id")
	}

	w := &Waiter{
		requestID: requestID,
		ch:        make(chan message.ResponseEnvelope, 1),
	}
	c.pending[requestID] = w

	if c.metrics != nil {
		c.metrics.PendingWaiters.Inc()
	}
	return w, nil
}

// Cancel removes a waiter. Idempotent; a response already in the waiter's
// channel is not recalled.
func (c *Correlator) Cancel(requestID string) {
	c.mu.Lock()
	_, existed := c.pending[requestID]
	delete(c.pending, requestID)
	c.mu.Unlock()

	if existed && c.metrics != nil {
		c.metrics.PendingWaiters.Dec()
	}
}

// Await blocks until the waiter receives its response, the timeout expires,
// or the context is cancelled. The registration is always released before
// returning, so a late response for this id becomes ordinary unmatched
// traffic.
func (c *Correlator) Await(ctx context.Context, w *Waiter, timeout time.Duration) (message.ResponseEnvelope, error) {
	defer c.Cancel(w.requestID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-w.ch:
		return resp, nil
	case <-timer.C:
		if c.metrics != nil {
			c.metrics.WaitTimeouts.Inc()
		}
		return message.ResponseEnvelope{}, errors.WrapTransient(errors.ErrWaitTimeout,
			"correlator", "Await", fmt.Sprintf("wait for response %s", w.requestID))
	case <-ctx.Done():
		return message.ResponseEnvelope{}, errors.WrapTransient(errors.ErrWaiterCancelled,
			"correlator", "Await", "context cancelled")
	}
}

// Pending returns the number of registered waiters
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// HandleMessage is the consume-loop handler for the shared response topic.
// Malformed payloads are an error (logged, counted, skipped); everything
// else is stamped, offered to a matching waiter, and fanned out live.
func (c *Correlator) HandleMessage(_ context.Context, msg kafka.Message) error {
	var resp message.ResponseEnvelope
	if err := json.Unmarshal(msg.Value, &resp); err != nil {
		return errors.WrapInvalid(err, "correlator", "HandleMessage", "decode response")
	}
	resp.ReceivedAt = timestamp.Now()

	c.deliver(resp)

	if c.hub != nil {
		c.hub.Publish(StreamKey, resp)
	}
	return nil
}

// deliver hands the response to its waiter, if one is registered. The send
// cannot block: the waiter channel has capacity one and each id is delivered
// at most once while registered. Duplicate responses for an id race for the
// registration; the loser counts as unmatched.
func (c *Correlator) deliver(resp message.ResponseEnvelope) {
	if resp.RequestID == "" {
		c.recordUnmatched(resp)
		return
	}

	c.mu.Lock()
	w, ok := c.pending[resp.RequestID]
	if ok {
		delete(c.pending, resp.RequestID)
	}
	c.mu.Unlock()

	if !ok {
		c.recordUnmatched(resp)
		return
	}

	w.ch <- resp
	c.matched.Add(1)
	if c.metrics != nil {
		c.metrics.ResponsesMatched.Inc()
		c.metrics.PendingWaiters.Dec()
	}
}

func (c *Correlator) recordUnmatched(resp message.ResponseEnvelope) {
	c.unmatched.Add(1)
	if c.metrics != nil {
		c.metrics.ResponsesUnmatched.Inc()
	}
	c.logger.Debug("unmatched response",
		"request_id", resp.RequestID,
		"source", resp.Source,
		"command", resp.Command)
}
