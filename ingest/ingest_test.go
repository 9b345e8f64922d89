package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firestige/Otus/errors"
	"github.com/firestige/Otus/message"
	"github.com/firestige/Otus/streamhub"
)

func newTestIngest(t *testing.T, hub *streamhub.Hub[message.PacketRecord]) *Ingest {
	t.Helper()
	ing, err := New(Deps{
		Channels:        []string{"uas", "uac"},
		HistoryCapacity: 5,
		SnapshotLimit:   3,
		Hub:             hub,
	})
	require.NoError(t, err)
	t.Cleanup(ing.Close)
	return ing
}

func packetMessage(body string, headers ...kafka.Header) kafka.Message {
	return kafka.Message{
		Topic:   "otus-uas-logs",
		Value:   []byte(body),
		Headers: headers,
	}
}

func TestNewRequiresChannels(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestHandlerBuildsRecord(t *testing.T) {
	ing := newTestIngest(t, nil)
	handler := ing.HandlerFor("uas")

	body := `{"timestamp": 1700000000, "payload_type": "sip", "raw": "INVITE sip:bob@example.com"}`
	require.NoError(t, handler(context.Background(), packetMessage(body)))

	records, ok := ing.Snapshot("uas", 0)
	require.True(t, ok)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "uas", rec.Channel)
	assert.Equal(t, int64(1700000000000), rec.Timestamp, "seconds should scale to milliseconds")
	assert.NotZero(t, rec.ReceivedAt)
	assert.Equal(t, "sip", rec.Payload["payload_type"])
	// The timestamp field is lifted out of the payload.
	assert.NotContains(t, rec.Payload, "timestamp")
}

func TestHandlerMergesSidebandLabels(t *testing.T) {
	ing := newTestIngest(t, nil)
	handler := ing.HandlerFor("uas")

	body := `{"labels": {"task": "capture-1", "sip.method": "REGISTER"}}`
	msg := packetMessage(body,
		kafka.Header{Key: "l.sip.method", Value: []byte("INVITE")},
		kafka.Header{Key: "l.sip.call_id", Value: []byte("abc-123")},
		kafka.Header{Key: "task_id", Value: []byte("t-9")},
		kafka.Header{Key: "src_ip", Value: []byte("10.0.0.1")},
	)
	require.NoError(t, handler(context.Background(), msg))

	records, _ := ing.Snapshot("uas", 0)
	require.Len(t, records, 1)
	rec := records[0]

	// Header labels are merged over body labels, header winning on conflict.
	assert.Equal(t, "INVITE", rec.Labels["sip.method"])
	assert.Equal(t, "abc-123", rec.Labels["sip.call_id"])
	assert.Equal(t, "capture-1", rec.Labels["task"])

	// Non-label headers land in the envelope, unprefixed keys untouched.
	assert.Equal(t, "t-9", rec.Envelope["task_id"])
	assert.Equal(t, "10.0.0.1", rec.Envelope["src_ip"])
	assert.NotContains(t, rec.Envelope, "l.sip.method")

	// The extracted labels object is removed from the payload.
	assert.NotContains(t, rec.Payload, "labels")
}

func TestHandlerTimestampFallback(t *testing.T) {
	ing := newTestIngest(t, nil)
	handler := ing.HandlerFor("uas")

	require.NoError(t, handler(context.Background(), packetMessage(`{"timestamp": "garbage"}`)))
	require.NoError(t, handler(context.Background(), packetMessage(`{}`)))

	records, _ := ing.Snapshot("uas", 0)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, rec.ReceivedAt, rec.Timestamp, "unusable timestamps fall back to receipt time")
	}
}

func TestHandlerNonStringBodyLabels(t *testing.T) {
	ing := newTestIngest(t, nil)
	handler := ing.HandlerFor("uas")

	require.NoError(t, handler(context.Background(), packetMessage(`{"labels": {"port": 5060}}`)))

	records, _ := ing.Snapshot("uas", 0)
	require.Len(t, records, 1)
	assert.Equal(t, "5060", records[0].Labels["port"])
}

func TestHandlerRejectsMalformedBody(t *testing.T) {
	ing := newTestIngest(t, nil)
	handler := ing.HandlerFor("uas")

	err := handler(context.Background(), packetMessage(`{broken`))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	records, _ := ing.Snapshot("uas", 0)
	assert.Empty(t, records)
}

func TestHandlerEmptyBody(t *testing.T) {
	ing := newTestIngest(t, nil)
	handler := ing.HandlerFor("uas")

	require.NoError(t, handler(context.Background(), packetMessage("")))

	records, _ := ing.Snapshot("uas", 0)
	require.Len(t, records, 1)
	assert.NotZero(t, records[0].Timestamp)
}

func TestHandlerPublishesToHub(t *testing.T) {
	hub := streamhub.New[message.PacketRecord](10)
	ing := newTestIngest(t, hub)
	handler := ing.HandlerFor("uas")

	sub := hub.Subscribe("uas")
	defer hub.Unsubscribe(sub)
	other := hub.Subscribe("uac")
	defer hub.Unsubscribe(other)

	require.NoError(t, handler(context.Background(), packetMessage(`{"seq": 1}`)))

	rec := <-sub.C()
	assert.Equal(t, "uas", rec.Channel)
	assert.Equal(t, float64(1), rec.Payload["seq"])

	select {
	case <-other.C():
		t.Fatal("record leaked to another channel's subscribers")
	default:
	}
}

func TestHistoryEvictsOldest(t *testing.T) {
	ing := newTestIngest(t, nil)
	handler := ing.HandlerFor("uas")

	// Capacity is 5; write 8.
	for i := 1; i <= 8; i++ {
		body := fmt.Sprintf(`{"seq": %d}`, i)
		require.NoError(t, handler(context.Background(), packetMessage(body)))
	}

	assert.Equal(t, 5, ing.HistorySize("uas"))

	// Snapshot limit is 3: only the newest three come back, oldest first.
	records, ok := ing.Snapshot("uas", 0)
	require.True(t, ok)
	require.Len(t, records, 3)
	assert.Equal(t, float64(6), records[0].Payload["seq"])
	assert.Equal(t, float64(8), records[2].Payload["seq"])
}

func TestSnapshotMaxBelowLimit(t *testing.T) {
	ing := newTestIngest(t, nil)
	handler := ing.HandlerFor("uas")

	for i := 1; i <= 5; i++ {
		require.NoError(t, handler(context.Background(), packetMessage(fmt.Sprintf(`{"seq": %d}`, i))))
	}

	records, ok := ing.Snapshot("uas", 2)
	require.True(t, ok)
	assert.Len(t, records, 2)
}

func TestSnapshotUnknownChannel(t *testing.T) {
	ing := newTestIngest(t, nil)
	_, ok := ing.Snapshot("nope", 0)
	assert.False(t, ok)
	assert.Equal(t, 0, ing.HistorySize("nope"))
}

func TestChannelIsolation(t *testing.T) {
	ing := newTestIngest(t, nil)

	require.NoError(t, ing.HandlerFor("uas")(context.Background(), packetMessage(`{"from": "uas"}`)))
	require.NoError(t, ing.HandlerFor("uac")(context.Background(), packetMessage(`{"from": "uac"}`)))

	uas, _ := ing.Snapshot("uas", 0)
	uac, _ := ing.Snapshot("uac", 0)
	require.Len(t, uas, 1)
	require.Len(t, uac, 1)
	assert.Equal(t, "uas", uas[0].Payload["from"])
	assert.Equal(t, "uac", uac[0].Payload["from"])
}

func TestRecordSerializationShape(t *testing.T) {
	ing := newTestIngest(t, nil)
	handler := ing.HandlerFor("uas")

	msg := packetMessage(`{"timestamp": 1700000000123, "raw": "x"}`,
		kafka.Header{Key: "l.k", Value: []byte("v")},
		kafka.Header{Key: "agent_id", Value: []byte("node-1")},
	)
	require.NoError(t, handler(context.Background(), msg))

	records, _ := ing.Snapshot("uas", 0)
	require.Len(t, records, 1)

	data, err := json.Marshal(records[0])
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "uas", out["channel"])
	assert.Equal(t, float64(1700000000123), out["timestamp"])
	assert.Contains(t, out, "_received_at")
	assert.Contains(t, out, "_envelope")
	assert.Contains(t, out, "labels")
}
