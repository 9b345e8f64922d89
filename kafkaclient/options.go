package kafkaclient

import (
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// ClientOption configures a Client using the functional options pattern
type ClientOption func(*Client) error

// WithLogger sets the logger used for client and broker protocol events
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger == nil {
			return stderrors.New("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithClientID identifies this process to the broker. The console passes its
// instance id so broker-side logs can be tied back to one console process.
func WithClientID(id string) ClientOption {
	return func(c *Client) error {
		c.clientID = id
		return nil
	}
}

// WithRequiredAcks overrides the producer acknowledgement level.
// The default is RequireAll.
func WithRequiredAcks(acks kafka.RequiredAcks) ClientOption {
	return func(c *Client) error {
		c.requiredAcks = acks
		return nil
	}
}

// WithMaxAttempts overrides the producer's internal retry budget
func WithMaxAttempts(n int) ClientOption {
	return func(c *Client) error {
		if n < 1 {
			return stderrors.New("max attempts must be at least 1")
		}
		c.maxAttempts = n
		return nil
	}
}

// WithMaxWait bounds how long a consumer poll blocks before returning an
// empty batch. Shorter waits make shutdown and reconnect checks more
// responsive.
func WithMaxWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return stderrors.New("max wait must be positive")
		}
		c.maxWait = d
		return nil
	}
}

// WithStartOffset controls where a new consumer group begins reading.
// The default is LastOffset: the console only cares about traffic produced
// after it attached.
func WithStartOffset(offset int64) ClientOption {
	return func(c *Client) error {
		c.startOffset = offset
		return nil
	}
}
