// Package ingest turns captured-packet messages from the node fleet into
// PacketRecords: it decodes the body, folds sideband header metadata into
// labels and envelope maps, normalizes the timestamp, then appends the
// record to the channel's history ring and fans it out to live subscribers.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/firestige/Otus/consumer"
	"github.com/firestige/Otus/errors"
	"github.com/firestige/Otus/message"
	"github.com/firestige/Otus/metric"
	"github.com/firestige/Otus/pkg/buffer"
	"github.com/firestige/Otus/pkg/timestamp"
	"github.com/firestige/Otus/streamhub"
)

// Deps holds runtime dependencies for the ingest pipeline
type Deps struct {
	Channels        []string
	HistoryCapacity int
	SnapshotLimit   int
	Hub             *streamhub.Hub[message.PacketRecord]
	Registry        *metric.Registry
	Logger          *slog.Logger
}

// Ingest owns one history ring per channel plus the live packet fanout.
type Ingest struct {
	rings         map[string]buffer.Ring[message.PacketRecord]
	channels      []string
	snapshotLimit int
	hub           *streamhub.Hub[message.PacketRecord]
	logger        *slog.Logger
}

// New creates the ingest pipeline with one ring buffer per channel
func New(deps Deps) (*Ingest, error) {
	if len(deps.Channels) == 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("no channels configured"),
			"ingest", "New", "channel validation")
	}

	capacity := deps.HistoryCapacity
	if capacity <= 0 {
		capacity = 500
	}
	snapshotLimit := deps.SnapshotLimit
	if snapshotLimit <= 0 {
		snapshotLimit = 200
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "ingest")
	}

	rings := make(map[string]buffer.Ring[message.PacketRecord], len(deps.Channels))
	for _, channel := range deps.Channels {
		var opts []buffer.Option[message.PacketRecord]
		if deps.Registry != nil {
			opts = append(opts, buffer.WithMetrics[message.PacketRecord](deps.Registry, "history_"+channel))
		}
		ring, err := buffer.NewRing(capacity, opts...)
		if err != nil {
			return nil, errors.Wrap(err, "ingest", "New", "create history buffer")
		}
		rings[channel] = ring
	}

	return &Ingest{
		rings:         rings,
		channels:      append([]string(nil), deps.Channels...),
		snapshotLimit: snapshotLimit,
		hub:           deps.Hub,
		logger:        logger,
	}, nil
}

// Channels returns the configured channel names
func (i *Ingest) Channels() []string {
	return i.channels
}

// HandlerFor returns the consume-loop handler for one channel's data topic.
func (i *Ingest) HandlerFor(channel string) consumer.Handler {
	return func(_ context.Context, msg kafka.Message) error {
		record, err := i.buildRecord(channel, msg)
		if err != nil {
			return err
		}

		// Live subscribers first, then history - matching consume order
		// for anyone diffing a stream against a snapshot.
		if i.hub != nil {
			i.hub.Publish(channel, record)
		}

		ring, ok := i.rings[channel]
		if !ok {
			return errors.WrapInvalid(fmt.Errorf("unknown channel %q", channel),
				"ingest", "HandlerFor", "channel lookup")
		}
		if err := ring.Write(record); err != nil {
			return errors.Wrap(err, "ingest", "HandlerFor", "append history")
		}
		return nil
	}
}

// Snapshot returns the most recent records for a channel in arrival order,
// capped at the configured snapshot limit (or max, if lower and positive).
// The bool is false for an unconfigured channel.
func (i *Ingest) Snapshot(channel string, max int) ([]message.PacketRecord, bool) {
	ring, ok := i.rings[channel]
	if !ok {
		return nil, false
	}
	limit := i.snapshotLimit
	if max > 0 && max < limit {
		limit = max
	}
	return ring.Snapshot(limit), true
}

// HistorySize returns the number of buffered records for a channel
func (i *Ingest) HistorySize(channel string) int {
	ring, ok := i.rings[channel]
	if !ok {
		return 0
	}
	return ring.Size()
}

// Close shuts down the history buffers
func (i *Ingest) Close() {
	for _, ring := range i.rings {
		_ = ring.Close()
	}
}

// buildRecord assembles a PacketRecord from one broker message.
//
// The message body is the packet payload. Sideband headers carry per-packet
// metadata: keys with the label prefix are classification labels (merged
// over any labels in the body, header winning on conflict), the rest go to
// the envelope map. The timestamp field is normalized to milliseconds with
// the receipt time as fallback.
func (i *Ingest) buildRecord(channel string, msg kafka.Message) (message.PacketRecord, error) {
	receivedAt := timestamp.Now()

	var payload map[string]any
	if len(msg.Value) > 0 {
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			return message.PacketRecord{}, errors.WrapInvalid(err,
				"ingest", "buildRecord", "decode packet body")
		}
	}
	if payload == nil {
		payload = map[string]any{}
	}

	labels := extractBodyLabels(payload)
	envelope := map[string]string{}
	for _, h := range msg.Headers {
		value := string(h.Value)
		if strings.HasPrefix(h.Key, message.LabelPrefix) {
			labels[strings.TrimPrefix(h.Key, message.LabelPrefix)] = value
		} else {
			envelope[h.Key] = value
		}
	}

	ts := timestamp.Normalize(payload["timestamp"], receivedAt)
	delete(payload, "timestamp")

	record := message.PacketRecord{
		Channel:    channel,
		Timestamp:  ts,
		ReceivedAt: receivedAt,
		Payload:    payload,
	}
	if len(labels) > 0 {
		record.Labels = labels
	}
	if len(envelope) > 0 {
		record.Envelope = envelope
	}
	return record, nil
}

// extractBodyLabels pulls a "labels" object out of the payload, coercing
// values to strings. Non-object or missing labels yield an empty map.
func extractBodyLabels(payload map[string]any) map[string]string {
	labels := map[string]string{}
	raw, ok := payload["labels"]
	if !ok {
		return labels
	}
	delete(payload, "labels")

	obj, ok := raw.(map[string]any)
	if !ok {
		return labels
	}
	for k, v := range obj {
		switch s := v.(type) {
		case string:
			labels[k] = s
		default:
			labels[k] = fmt.Sprint(v)
		}
	}
	return labels
}
