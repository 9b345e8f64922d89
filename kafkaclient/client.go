// Package kafkaclient provides a client for managing Kafka producers and
// consumers used by the console. The producer handle is created lazily on
// first publish and shared by all dispatch paths; consumer readers are
// created per supervised subscription loop.
package kafkaclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/firestige/Otus/errors"
)

// ConnectionStatus represents the state of the broker connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Error variables
var (
	ErrNoBrokers = stderrors.New("no broker addresses configured")
	ErrClosed    = stderrors.New("client is closed")
)

// Client manages the shared Kafka producer and builds consumer readers.
type Client struct {
	brokers  []string
	clientID string
	logger   *slog.Logger

	// Producer - lazily initialized, then shared by concurrent publishers
	writer   *kafka.Writer
	writerMu sync.Mutex

	// Producer tuning
	requiredAcks kafka.RequiredAcks
	maxAttempts  int
	batchTimeout time.Duration

	// Consumer tuning
	maxWait     time.Duration
	startOffset int64

	status   atomic.Value // stores ConnectionStatus
	failures atomic.Int64
	closed   atomic.Bool
}

// NewClient creates a new Kafka client with optional configuration
func NewClient(brokers []string, opts ...ClientOption) (*Client, error) {
	if len(brokers) == 0 {
		return nil, errors.WrapInvalid(ErrNoBrokers, "Client", "NewClient", "validate brokers")
	}

	c := &Client{
		brokers: brokers,
		logger:  slog.Default(),
		// Sensible defaults matching the node fleet's producer settings
		requiredAcks: kafka.RequireAll,
		maxAttempts:  3,
		batchTimeout: 10 * time.Millisecond,
		maxWait:      time.Second,
		startOffset:  kafka.LastOffset,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)

	c.logger.Debug("created kafka client", "brokers", brokers)
	return c, nil
}

// Brokers returns the configured broker address list
func (c *Client) Brokers() []string {
	return c.brokers
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	val := c.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

// Failures returns the cumulative publish/consume failure count
func (c *Client) Failures() int64 {
	return c.failures.Load()
}

// getWriter returns the shared producer, creating it on first use.
// Initialization is once-only; publish calls proceed concurrently afterwards
// (kafka.Writer is safe for concurrent use).
func (c *Client) getWriter() (*kafka.Writer, error) {
	if c.closed.Load() {
		return nil, errors.WrapInvalid(ErrClosed, "Client", "getWriter", "check client state")
	}

	c.writerMu.Lock()
	defer c.writerMu.Unlock()

	if c.writer != nil {
		return c.writer, nil
	}

	c.status.Store(StatusConnecting)
	c.writer = &kafka.Writer{
		Addr: kafka.TCP(c.brokers...),
		// Topic is set per message; key-hash balancing gives per-key
		// ordering at the broker.
		Balancer:     &kafka.Hash{},
		RequiredAcks: c.requiredAcks,
		MaxAttempts:  c.maxAttempts,
		BatchTimeout: c.batchTimeout,
		Logger:       kafka.LoggerFunc(c.logDebug),
		ErrorLogger:  kafka.LoggerFunc(c.logError),
	}
	c.status.Store(StatusConnected)

	c.logger.Debug("initialized kafka producer", "brokers", c.brokers)
	return c.writer, nil
}

// Publish writes one message to a topic with the given routing key.
// The write is synchronous: when Publish returns nil the broker has
// acknowledged the message, so there is no separate flush step.
func (c *Client) Publish(ctx context.Context, topic, key string, value []byte, headers ...kafka.Header) error {
	w, err := c.getWriter()
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: headers,
		Time:    time.Now(),
	}

	if err := w.WriteMessages(ctx, msg); err != nil {
		c.failures.Add(1)
		return errors.WrapTransient(err, "Client", "Publish", "write message")
	}
	return nil
}

// NewReader creates a consumer reader for one topic under the given group
// id. Distinct group ids receive independent copies of the topic (fan-out);
// the caller owns the reader and must Close it.
func (c *Client) NewReader(topic, groupID string) *kafka.Reader {
	cfg := kafka.ReaderConfig{
		Brokers:     c.brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10 << 20,
		MaxWait:     c.maxWait,
		StartOffset: c.startOffset,
		Logger:      kafka.LoggerFunc(c.logDebug),
		ErrorLogger: kafka.LoggerFunc(c.logError),
	}
	if c.clientID != "" {
		cfg.Dialer = &kafka.Dialer{
			ClientID:  c.clientID,
			Timeout:   10 * time.Second,
			DualStack: true,
		}
	}
	return kafka.NewReader(cfg)
}

// Close shuts down the shared producer. Consumer readers are owned and
// closed by their supervision loops.
func (c *Client) Close(_ context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil // already closed
	}

	c.writerMu.Lock()
	defer c.writerMu.Unlock()

	c.status.Store(StatusDisconnected)

	if c.writer != nil {
		err := c.writer.Close()
		c.writer = nil
		if err != nil {
			return errors.Wrap(err, "Client", "Close", "close producer")
		}
	}
	return nil
}

func (c *Client) logDebug(format string, args ...any) {
	c.logger.Debug("kafka: " + fmt.Sprintf(format, args...))
}

func (c *Client) logError(format string, args ...any) {
	c.failures.Add(1)
	c.logger.Error("kafka: " + fmt.Sprintf(format, args...))
}
