package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/firestige/Otus/component"
	"github.com/firestige/Otus/errors"
	"github.com/firestige/Otus/metric"
)

// State is the supervision state of one consume loop
type State int

// Supervision states
const (
	StateIdle State = iota
	StateConnecting
	StateReady
	StateFaulted
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Fetcher is the subset of the Kafka reader a supervised loop needs.
// *kafka.Reader satisfies it.
type Fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ReaderFactory builds a fresh Fetcher. Called once per connection attempt;
// after a fault the old reader is closed and the factory is called again.
type ReaderFactory func() Fetcher

// Handler processes one fetched message. A handler error is recorded and
// logged but does not stop the loop or prevent the commit - a message that
// cannot be processed now will not become processable by redelivery.
type Handler func(ctx context.Context, msg kafka.Message) error

// SupervisorDeps holds runtime dependencies for a supervised consume loop
type SupervisorDeps struct {
	Name             string        // Instance name, e.g. "consumer-uas-data"
	Subscription     string        // Metric/log label for this subscription
	Factory          ReaderFactory // Builds readers, one per connection attempt
	Handler          Handler       // Per-message callback
	ReconnectBackoff time.Duration // Fixed delay between fault and reconnect
	Metrics          *metric.Metrics
	Logger           *slog.Logger
}

// Supervisor owns one endlessly-retrying consume loop: connect, poll,
// dispatch, and on any fault disconnect, wait a fixed backoff, reconnect.
// Faults never escape to the caller; the loop only exits on shutdown.
type Supervisor struct {
	name         string
	subscription string
	factory      ReaderFactory
	handler      Handler
	backoff      time.Duration
	metrics      *metric.Metrics
	logger       *slog.Logger

	// Lifecycle management
	shutdown  chan struct{}
	done      chan struct{}
	cancel    context.CancelFunc
	running   atomic.Bool
	startTime time.Time
	mu        sync.Mutex
	wg        sync.WaitGroup

	state        atomic.Int32 // State
	consumed     atomic.Int64
	faults       atomic.Int64
	lastError    atomic.Value // stores string
	lastActivity atomic.Value // stores time.Time
}

// Ensure Supervisor implements all required interfaces
var _ component.Discoverable = (*Supervisor)(nil)
var _ component.LifecycleComponent = (*Supervisor)(nil)

// NewSupervisor creates a supervised consume loop from its dependencies
func NewSupervisor(deps SupervisorDeps) *Supervisor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "consumer", "subscription", deps.Subscription)
	}

	backoff := deps.ReconnectBackoff
	if backoff <= 0 {
		backoff = 5 * time.Second
	}

	s := &Supervisor{
		name:         deps.Name,
		subscription: deps.Subscription,
		factory:      deps.Factory,
		handler:      deps.Handler,
		backoff:      backoff,
		metrics:      deps.Metrics,
		logger:       logger,
		startTime:    time.Now(),
	}
	s.lastError.Store("")
	s.lastActivity.Store(time.Time{})
	return s
}

// Meta returns the component metadata
func (s *Supervisor) Meta() component.Metadata {
	name := s.name
	if name == "" {
		name = fmt.Sprintf("consumer-%s", s.subscription)
	}
	return component.Metadata{
		Name:        name,
		Type:        "consumer",
		Description: fmt.Sprintf("Supervised consume loop for subscription %s", s.subscription),
		Version:     "1.0.0",
	}
}

// Health returns the current health status of the component.
// A faulted loop is unhealthy but not fatal: it is already scheduled to
// reconnect.
func (s *Supervisor) Health() component.HealthStatus {
	lastError, _ := s.lastError.Load().(string)
	return component.HealthStatus{
		Healthy:    s.running.Load() && s.State() == StateReady,
		LastCheck:  time.Now(),
		ErrorCount: int(s.faults.Load()),
		LastError:  lastError,
		Uptime:     time.Since(s.startTime),
	}
}

// DataFlow returns the current data flow metrics
func (s *Supervisor) DataFlow() component.FlowMetrics {
	consumed := s.consumed.Load()
	faults := s.faults.Load()
	lastActivity, _ := s.lastActivity.Load().(time.Time)

	var messagesPerSecond float64
	if uptime := time.Since(s.startTime).Seconds(); uptime > 0 {
		messagesPerSecond = float64(consumed) / uptime
	}

	var errorRate float64
	if consumed > 0 {
		errorRate = float64(faults) / float64(consumed)
	}

	return component.FlowMetrics{
		MessagesPerSecond: messagesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// State returns the current supervision state
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Consumed returns the number of messages dispatched to the handler
func (s *Supervisor) Consumed() int64 {
	return s.consumed.Load()
}

// Initialize validates the supervisor configuration
func (s *Supervisor) Initialize() error {
	if s.factory == nil {
		return errors.WrapInvalid(fmt.Errorf("nil reader factory"),
			"consumer", "Initialize", "factory validation")
	}
	if s.handler == nil {
		return errors.WrapInvalid(fmt.Errorf("nil handler"),
			"consumer", "Initialize", "handler validation")
	}
	if s.subscription == "" {
		return errors.WrapInvalid(fmt.Errorf("empty subscription label"),
			"consumer", "Initialize", "subscription validation")
	}
	return nil
}

// Start launches the supervised loop. Idempotent.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return nil // Already running, idempotent
	}

	s.shutdown = make(chan struct{})
	s.done = make(chan struct{})
	s.running.Store(true)
	s.startTime = time.Now()

	// FetchMessage blocks until a message arrives or its context is
	// cancelled, so Stop must be able to cancel the run context.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.done)
		s.run(runCtx)
	}()

	return nil
}

// Stop signals the loop to exit and waits up to timeout for it to drain
func (s *Supervisor) Stop(timeout time.Duration) error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	s.mu.Lock()
	if s.shutdown != nil {
		select {
		case <-s.shutdown:
		default:
			close(s.shutdown)
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"consumer", "Stop", "graceful shutdown")
	}
}

// run is the supervision loop: build a reader, poll it until it faults,
// tear it down, back off, repeat. Only shutdown or context cancellation
// breaks the cycle.
func (s *Supervisor) run(ctx context.Context) {
	defer s.setState(StateIdle)

	for {
		if s.stopped(ctx) {
			return
		}

		s.setState(StateConnecting)
		reader := s.factory()
		s.setState(StateReady)
		s.logger.Info("consume loop ready", "subscription", s.subscription)

		err := s.poll(ctx, reader)
		if cerr := reader.Close(); cerr != nil {
			s.logger.Warn("reader close failed", "subscription", s.subscription, "error", cerr)
		}

		if s.stopped(ctx) {
			return
		}

		// Fault path: the reader is gone, wait the fixed backoff and rebuild
		s.faults.Add(1)
		s.setState(StateFaulted)
		if err != nil {
			s.lastError.Store(err.Error())
		}
		if s.metrics != nil {
			s.metrics.ConsumerFaults.WithLabelValues(s.subscription).Inc()
		}
		s.logger.Warn("consume loop faulted, reconnecting",
			"subscription", s.subscription,
			"backoff", s.backoff,
			"error", err)

		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-time.After(s.backoff):
		}
	}
}

// poll fetches and dispatches messages until the reader errors or the loop
// is stopped. Returns the fetch error that ended the session, or nil on
// shutdown.
func (s *Supervisor) poll(ctx context.Context, reader Fetcher) error {
	for {
		if s.stopped(ctx) {
			return nil
		}

		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.WrapTransient(err, "consumer", "poll", "fetch message")
		}

		s.consumed.Add(1)
		s.lastActivity.Store(time.Now())
		if s.metrics != nil {
			s.metrics.MessagesConsumed.WithLabelValues(s.subscription).Inc()
		}

		s.dispatch(ctx, msg)

		// Commit regardless of handler outcome; a poison message must not
		// wedge the subscription.
		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			s.logger.Warn("commit failed", "subscription", s.subscription, "error", err)
		}
	}
}

// dispatch invokes the handler with panic recovery. One bad message is a
// logged incident, not a crashed loop.
func (s *Supervisor) dispatch(ctx context.Context, msg kafka.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.lastError.Store(fmt.Sprintf("handler panic: %v", r))
			if s.metrics != nil {
				s.metrics.HandlerErrors.WithLabelValues(s.subscription).Inc()
			}
			s.logger.Error("handler panicked",
				"subscription", s.subscription,
				"topic", msg.Topic,
				"panic", r)
		}
	}()

	if err := s.handler(ctx, msg); err != nil {
		s.lastError.Store(err.Error())
		if s.metrics != nil {
			s.metrics.HandlerErrors.WithLabelValues(s.subscription).Inc()
		}
		s.logger.Warn("handler error",
			"subscription", s.subscription,
			"topic", msg.Topic,
			"error", err)
	}
}

func (s *Supervisor) setState(state State) {
	s.state.Store(int32(state))
	if s.metrics != nil {
		s.metrics.ConsumerState.WithLabelValues(s.subscription).Set(float64(state))
	}
}

func (s *Supervisor) stopped(ctx context.Context) bool {
	if !s.running.Load() {
		return true
	}
	select {
	case <-ctx.Done():
		return true
	case <-s.shutdown:
		return true
	default:
		return false
	}
}
