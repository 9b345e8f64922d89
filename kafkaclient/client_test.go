package kafkaclient

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firestige/Otus/errors"
)

func TestNewClientRequiresBrokers(t *testing.T) {
	_, err := NewClient(nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient([]string{"kafka:9092"})
	require.NoError(t, err)

	assert.Equal(t, []string{"kafka:9092"}, c.Brokers())
	assert.Equal(t, StatusDisconnected, c.Status(), "no connection until first use")
	assert.Equal(t, kafka.RequireAll, c.requiredAcks)
	assert.Equal(t, 3, c.maxAttempts)
	assert.Equal(t, kafka.LastOffset, c.startOffset)
	assert.Zero(t, c.Failures())
}

func TestClientOptions(t *testing.T) {
	c, err := NewClient([]string{"kafka:9092"},
		WithClientID("webcli-deadbeef"),
		WithRequiredAcks(kafka.RequireOne),
		WithMaxAttempts(1),
		WithMaxWait(500*time.Millisecond),
		WithStartOffset(kafka.FirstOffset),
	)
	require.NoError(t, err)

	assert.Equal(t, "webcli-deadbeef", c.clientID)
	assert.Equal(t, kafka.RequireOne, c.requiredAcks)
	assert.Equal(t, 1, c.maxAttempts)
	assert.Equal(t, 500*time.Millisecond, c.maxWait)
	assert.Equal(t, kafka.FirstOffset, c.startOffset)
}

func TestInvalidOptions(t *testing.T) {
	_, err := NewClient([]string{"kafka:9092"}, WithMaxAttempts(0))
	assert.Error(t, err)

	_, err = NewClient([]string{"kafka:9092"}, WithMaxWait(0))
	assert.Error(t, err)
}

func TestPublishAfterCloseFails(t *testing.T) {
	c, err := NewClient([]string{"kafka:9092"})
	require.NoError(t, err)
	require.NoError(t, c.Close(context.Background()))

	err = c.Publish(context.Background(), "t", "k", []byte("v"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestCloseIdempotent(t *testing.T) {
	c, err := NewClient([]string{"kafka:9092"})
	require.NoError(t, err)

	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestNewReaderConfig(t *testing.T) {
	c, err := NewClient([]string{"kafka:9092"}, WithClientID("webcli-deadbeef"))
	require.NoError(t, err)

	r := c.NewReader("otus-uas-logs", "console-uas")
	require.NotNil(t, r)
	defer r.Close()

	cfg := r.Config()
	assert.Equal(t, "otus-uas-logs", cfg.Topic)
	assert.Equal(t, "console-uas", cfg.GroupID)
	assert.Equal(t, kafka.LastOffset, cfg.StartOffset)
}

func TestConnectionStatusString(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "unknown", ConnectionStatus(99).String())
}
