// Package dispatch publishes validated commands to the node fleet's command
// topics and coordinates the wait for their responses.
//
// Commands are validated against a fixed allow-list before anything touches
// the wire. A waited send registers its response waiter before publishing,
// closing the race where a fast node answers before the console is ready to
// receive. The wildcard target broadcasts one envelope to every command
// topic and never waits: N nodes would answer with the same request id.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/firestige/Otus/correlator"
	"github.com/firestige/Otus/errors"
	"github.com/firestige/Otus/message"
	"github.com/firestige/Otus/metric"
	"github.com/firestige/Otus/pkg/retry"
)

// Publisher is the broker producer surface the dispatcher needs.
// *kafkaclient.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte, headers ...kafka.Header) error
}

// Deps holds runtime dependencies for the dispatcher
type Deps struct {
	Topics       map[string]string // channel name -> command topic
	Publisher    Publisher
	Correlator   *correlator.Correlator
	ResponseWait time.Duration
	RetryConfig  retry.Config
	Metrics      *metric.Metrics
	Logger       *slog.Logger
}

// Dispatcher validates, publishes, and optionally awaits commands.
type Dispatcher struct {
	topics       map[string]string
	publisher    Publisher
	correlator   *correlator.Correlator
	responseWait time.Duration
	retryConfig  retry.Config
	metrics      *metric.Metrics
	logger       *slog.Logger
}

// New creates a Dispatcher from its dependencies
func New(deps Deps) (*Dispatcher, error) {
	if len(deps.Topics) == 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("no command topics configured"),
			"dispatch", "New", "topic validation")
	}
	if deps.Publisher == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil publisher"),
			"dispatch", "New", "publisher validation")
	}

	responseWait := deps.ResponseWait
	if responseWait <= 0 {
		responseWait = 30 * time.Second
	}

	retryConfig := deps.RetryConfig
	if retryConfig.MaxAttempts == 0 {
		retryConfig = retry.DefaultConfig()
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "dispatch")
	}

	return &Dispatcher{
		topics:       deps.Topics,
		publisher:    deps.Publisher,
		correlator:   deps.Correlator,
		responseWait: responseWait,
		retryConfig:  retryConfig,
		metrics:      deps.Metrics,
		logger:       logger,
	}, nil
}

// Send validates and publishes a command without waiting for a response.
// Returns the request id for caller-side correlation.
func (d *Dispatcher) Send(ctx context.Context, target string, command message.Command, payload json.RawMessage) (string, error) {
	if err := d.validate(target, command); err != nil {
		return "", err
	}

	env := message.NewCommandEnvelope(target, command, payload)
	if err := d.publish(ctx, env); err != nil {
		return "", err
	}
	return env.RequestID, nil
}

// SendAndWait validates and publishes a command, then blocks until its
// response arrives or the wait deadline passes. The waiter is registered
// before the publish and released on every exit path. Not valid for the
// wildcard target.
func (d *Dispatcher) SendAndWait(ctx context.Context, target string, command message.Command,
	payload json.RawMessage) (message.ResponseEnvelope, string, error) {

	if err := d.validate(target, command); err != nil {
		return message.ResponseEnvelope{}, "", err
	}
	if target == message.TargetWildcard {
		return message.ResponseEnvelope{}, "", errors.WrapInvalid(errors.ErrInvalidTarget,
			"dispatch", "SendAndWait", "wildcard target cannot be awaited")
	}
	if d.correlator == nil {
		return message.ResponseEnvelope{}, "", errors.WrapInvalid(fmt.Errorf("no correlator configured"),
			"dispatch", "SendAndWait", "correlator validation")
	}

	env := message.NewCommandEnvelope(target, command, payload)

	// Register before publish: once the envelope is on the wire the
	// response may arrive on the consume goroutine immediately.
	waiter, err := d.correlator.Register(env.RequestID)
	if err != nil {
		return message.ResponseEnvelope{}, "", err
	}

	if err := d.publish(ctx, env); err != nil {
		d.correlator.Cancel(env.RequestID)
		return message.ResponseEnvelope{}, env.RequestID, err
	}

	resp, err := d.correlator.Await(ctx, waiter, d.responseWait)
	if err != nil {
		return message.ResponseEnvelope{}, env.RequestID, err
	}
	return resp, env.RequestID, nil
}

// ResponseWait returns the configured wait deadline
func (d *Dispatcher) ResponseWait() time.Duration {
	return d.responseWait
}

// validate checks the target against the topic map and the command against
// the allow-list.
func (d *Dispatcher) validate(target string, command message.Command) error {
	if !command.IsValid() {
		return errors.WrapInvalid(errors.ErrUnknownCommand,
			"dispatch", "validate", fmt.Sprintf("command %q", command))
	}
	if target == message.TargetWildcard {
		return nil
	}
	if _, ok := d.topics[target]; !ok {
		return errors.WrapInvalid(errors.ErrInvalidTarget,
			"dispatch", "validate", fmt.Sprintf("target %q", target))
	}
	return nil
}

// publish encodes the envelope and writes it to the target's command topic,
// or to every command topic for the wildcard. The routing key is the target
// string, giving per-target ordering at the broker.
func (d *Dispatcher) publish(ctx context.Context, env message.CommandEnvelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return errors.WrapInvalid(err, "dispatch", "publish", "encode envelope")
	}

	if env.Target == message.TargetWildcard {
		// Same envelope, same request id, one copy per node group.
		for channel, topic := range d.topics {
			if err := d.publishOne(ctx, topic, env.Target, value); err != nil {
				d.recordPublishError(env.Target)
				return errors.Wrap(err, "dispatch", "publish",
					fmt.Sprintf("broadcast to channel %s", channel))
			}
		}
		d.recordPublished(env)
		d.logger.Info("broadcast command",
			"command", env.Command, "request_id", env.RequestID)
		return nil
	}

	topic := d.topics[env.Target]
	if err := d.publishOne(ctx, topic, env.Target, value); err != nil {
		d.recordPublishError(env.Target)
		return err
	}
	d.recordPublished(env)
	d.logger.Info("command published",
		"command", env.Command, "target", env.Target, "request_id", env.RequestID)
	return nil
}

// publishOne writes one message with retry. The publish is synchronous, so
// a nil return means the broker acknowledged the write.
func (d *Dispatcher) publishOne(ctx context.Context, topic, key string, value []byte) error {
	op := func() error {
		return d.publisher.Publish(ctx, topic, key, value)
	}
	if err := retry.Do(ctx, d.retryConfig, op); err != nil {
		return errors.WrapTransient(errors.ErrPublishFailed,
			"dispatch", "publishOne", fmt.Sprintf("topic %s: %v", topic, err))
	}
	return nil
}

func (d *Dispatcher) recordPublished(env message.CommandEnvelope) {
	if d.metrics != nil {
		d.metrics.CommandsPublished.WithLabelValues(env.Target, string(env.Command)).Inc()
	}
}

func (d *Dispatcher) recordPublishError(target string) {
	if d.metrics != nil {
		d.metrics.PublishErrors.WithLabelValues(target).Inc()
	}
}
